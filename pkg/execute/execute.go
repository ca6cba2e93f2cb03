package execute

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/custos-tech/custos/pkg/claim"
	"github.com/custos-tech/custos/pkg/errs"
	"github.com/custos-tech/custos/pkg/metrics"
	"github.com/custos-tech/custos/pkg/nonce"
	"github.com/custos-tech/custos/pkg/signer"
	"github.com/custos-tech/custos/pkg/store"
	"github.com/custos-tech/custos/pkg/types"
)

// Store is the persistence slice shared by the three execute stages.
type Store interface {
	ClaimJob(ctx context.Context, table string, id int64) (bool, error)
	RevertJobToPending(ctx context.Context, table string, id int64) error
	RescheduleJob(ctx context.Context, table string, id int64, at time.Time, errMsg string) error
	FailJob(ctx context.Context, table string, id int64, errMsg string) error
	MarkJobConfirming(ctx context.Context, table string, id int64, txHash string) error
	ResumeJobConfirming(ctx context.Context, table string, id int64) error

	PendingWithdrawalJobs(ctx context.Context, chainID int64, limit, maxRetries int) ([]*types.WithdrawalJob, error)
	PendingConsolidationJobs(ctx context.Context, chainID int64, limit, maxRetries int) ([]*types.ConsolidationJob, error)
	PendingGasTopupJobs(ctx context.Context, chainID int64, limit, maxRetries int) ([]*types.GasTopupJob, error)

	GetOperationWallet(ctx context.Context, id int64) (*types.OperationWalletAddress, error)
	GetUserWallet(ctx context.Context, id int64) (*types.UserWalletAddress, error)
	GetWalletBalance(ctx context.Context, id int64) (*types.WalletBalance, error)
	GetWalletBalanceByWallet(ctx context.Context, walletID, assetOnChainID int64) (*types.WalletBalance, error)
	GetAssetOnChain(ctx context.Context, id int64) (*types.AssetOnChain, error)

	FailWithdrawalRequest(ctx context.Context, id int64) error
}

// Signer broadcasts a signed transaction and returns its hash.
type Signer interface {
	SignAndBroadcast(ctx context.Context, req *signer.Request) (*signer.Result, error)
}

// GasPricer is the EVM node read the pre-flight fee check needs. Account
// model chains have no pricer; their fee cap is a static limit.
type GasPricer interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// LockManager guards wallet balances across execute and confirm.
type LockManager interface {
	Acquire(ctx context.Context, balanceID int64, kind types.ProcessingStatus) (bool, error)
	Release(ctx context.Context, balanceID int64, kind types.ProcessingStatus) error
}

// Policy carries the execution tunables shared by the three stages.
type Policy struct {
	BatchSize       int
	MaxGasPriceGwei int64
	NativeFeeLimit  string
	BackoffBase     time.Duration
	BackoffCap      time.Duration
}

// core is the machinery common to the three execute stages.
type core struct {
	store  Store
	signer Signer
	locks  LockManager
	nonces *nonce.Registry
	gas    GasPricer
	chain  *types.Chain
	policy Policy
}

var gwei = big.NewInt(1_000_000_000)

// maxGasPriceWei is the pre-flight cap in wei.
func (c *core) maxGasPriceWei() *big.Int {
	return new(big.Int).Mul(big.NewInt(c.policy.MaxGasPriceGwei), gwei)
}

// preflight checks current network fees before any key material is touched.
// For EVM chains it returns the gas price hint for the signer; a price above
// the cap aborts with a retryable gas spike. Account model chains skip the
// check and use the static fee limit instead.
func (c *core) preflight(ctx context.Context) (gasPrice, feeLimit *string, err error) {
	if c.chain.Family() == types.ChainFamilyAccountModel {
		limit := c.policy.NativeFeeLimit
		return nil, &limit, nil
	}
	price, err := c.gas.SuggestGasPrice(ctx)
	if err != nil {
		return nil, nil, err
	}
	cap := c.maxGasPriceWei()
	if price.Cmp(cap) > 0 {
		return nil, nil, errs.Newf(errs.CodeGasSpike, true,
			"gas price %s wei above cap %s wei", price, cap)
	}
	hint := price.String()
	return &hint, nil, nil
}

// broadcast serializes signing per funding address and retries a replacement
// underpriced rejection exactly once with a 15 percent higher gas price,
// still bounded by the cap.
func (c *core) broadcast(ctx context.Context, req *signer.Request) (string, error) {
	unlock := c.nonces.Lock(req.FromAddress)
	defer unlock()

	res, err := c.signer.SignAndBroadcast(ctx, req)
	if err == nil {
		return res.TxHash, nil
	}

	if req.GasPrice != nil && isReplacementUnderpriced(err) {
		bumped := bumpGasPrice(*req.GasPrice, c.maxGasPriceWei())
		retry := *req
		retry.GasPrice = &bumped
		res, err = c.signer.SignAndBroadcast(ctx, &retry)
		if err == nil {
			return res.TxHash, nil
		}
	}
	return "", err
}

func isReplacementUnderpriced(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "replacement transaction underpriced")
}

// bumpGasPrice raises a wei price by 15 percent, saturating at cap.
func bumpGasPrice(price string, cap *big.Int) string {
	p, ok := new(big.Int).SetString(price, 10)
	if !ok {
		return cap.String()
	}
	bumped := new(big.Int).Mul(p, big.NewInt(115))
	bumped.Div(bumped, big.NewInt(100))
	if bumped.Cmp(cap) > 0 {
		bumped = cap
	}
	return bumped.String()
}

// settleFailure routes a stage error: retryable errors reschedule with
// exponential backoff, terminal ones fail the job and run onTerminal.
func (c *core) settleFailure(ctx context.Context, table string, job *types.JobCore, cause error, onTerminal func(context.Context) error) error {
	msg := errs.Message(cause)
	if errs.IsRetryable(cause) {
		// RescheduleJob increments retry_count; the delay is computed from
		// the count the job will have, so the first retry waits 2*base.
		delay := claim.Backoff(job.RetryCount+1, c.policy.BackoffBase, c.policy.BackoffCap)
		metrics.JobRetries.WithLabelValues(table, string(errs.Classify(cause).Code)).Inc()
		return c.store.RescheduleJob(ctx, table, job.ID, time.Now().Add(delay), msg)
	}
	if err := c.store.FailJob(ctx, table, job.ID, msg); err != nil {
		return err
	}
	if onTerminal != nil {
		return onTerminal(ctx)
	}
	return nil
}

// contractAddress returns the token contract for non-native assets.
func contractAddress(asset *types.AssetOnChain) *string {
	if asset.IsNative {
		return nil
	}
	return asset.ContractAddress
}

// lookupErr marks a missing reference row as terminal. A job pointing at a
// wallet or asset that does not exist will not improve with retries.
func lookupErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return errs.New(errs.CodeInvalidData, false, err)
	}
	return err
}
