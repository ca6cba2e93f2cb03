package confirm

import (
	"context"
	"time"

	"github.com/custos-tech/custos/pkg/chainrpc"
	"github.com/custos-tech/custos/pkg/log"
	"github.com/custos-tech/custos/pkg/types"
)

// Store is the persistence slice shared by the confirmation stages.
type Store interface {
	ConfirmingWithdrawalJobs(ctx context.Context, chainID int64, limit int) ([]*types.WithdrawalJob, error)
	ConfirmingConsolidationJobs(ctx context.Context, chainID int64, limit int) ([]*types.ConsolidationJob, error)
	ConfirmingGasTopupJobs(ctx context.Context, chainID int64, limit int) ([]*types.GasTopupJob, error)

	ConfirmJob(ctx context.Context, table string, id int64, gasUsed, gasPrice *string) error
	FailJob(ctx context.Context, table string, id int64, errMsg string) error
	ReclaimStaleJobs(ctx context.Context, table string, chainID int64, olderThan time.Duration) (int64, error)

	CompleteWithdrawalRequest(ctx context.Context, id int64, txHash string) error
	FailWithdrawalRequest(ctx context.Context, id int64) error
	FinishConsolidation(ctx context.Context, id int64) error
	FinishGasTopup(ctx context.Context, id int64) error

	GetOperationWallet(ctx context.Context, id int64) (*types.OperationWalletAddress, error)
	GetWalletBalanceByWallet(ctx context.Context, walletID, assetOnChainID int64) (*types.WalletBalance, error)

	PendingDeposits(ctx context.Context, chainID int64, limit int) ([]*types.Deposit, error)
	UncreditedDeposits(ctx context.Context, chainID int64, limit int) ([]*types.Deposit, error)
	UpdateDepositConfirmations(ctx context.Context, id, confirmations int64) error
	ConfirmDeposit(ctx context.Context, id, confirmations int64) (bool, error)
	CreditDeposit(ctx context.Context, depositID int64, uid string, assetID int64, amountHuman string) (bool, error)
	GetUserWalletByAddress(ctx context.Context, chainID int64, address string) (*types.UserWalletAddress, error)
	GetAssetOnChain(ctx context.Context, id int64) (*types.AssetOnChain, error)
}

// LockManager releases the wallet locks execute stages left held. Those
// locks were taken under the execute worker's identity, so settlement uses
// the owner-independent clear.
type LockManager interface {
	Clear(ctx context.Context, balanceID int64, kind types.ProcessingStatus) error
}

// Policy carries the confirmation tunables.
type Policy struct {
	ConfirmBatch    int
	ProcessingStale time.Duration
}

// core is the chassis shared by the four confirmation stages.
type core struct {
	store  Store
	rpc    chainrpc.Client
	locks  LockManager
	chain  *types.Chain
	policy Policy
}

// release frees a wallet lock, logging rather than failing the cycle when
// the release itself errors.
func (c *core) release(ctx context.Context, balanceID int64, kind types.ProcessingStatus) {
	if err := c.locks.Clear(ctx, balanceID, kind); err != nil {
		log.Logger.Error().Err(err).
			Int64("wallet_balance_id", balanceID).
			Str("kind", string(kind)).
			Msg("lock release failed")
	}
}

// verdict is the outcome of checking one broadcast transaction.
type verdict int

const (
	verdictWaiting verdict = iota
	verdictConfirmed
	verdictReverted
	verdictMissing
)

// check reads the receipt for a hash and compares its depth against the
// chain's confirmation threshold. A missing receipt is not a failure; the
// transaction is still propagating or was dropped by a reorg, and either way
// the job just waits.
func (c *core) check(ctx context.Context, head int64, txHash string) (verdict, *chainrpc.Receipt, int64, error) {
	receipt, err := c.rpc.TransactionReceipt(ctx, txHash)
	if err != nil {
		return verdictWaiting, nil, 0, err
	}
	if !receipt.Found {
		return verdictMissing, nil, 0, nil
	}
	confirmations := head - receipt.BlockNumber + 1
	if confirmations < c.chain.ConfirmationThreshold {
		return verdictWaiting, receipt, confirmations, nil
	}
	if !receipt.Success {
		return verdictReverted, receipt, confirmations, nil
	}
	return verdictConfirmed, receipt, confirmations, nil
}
