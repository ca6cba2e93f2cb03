package execute

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/custos-tech/custos/pkg/log"
	"github.com/custos-tech/custos/pkg/nonce"
	"github.com/custos-tech/custos/pkg/signer"
	"github.com/custos-tech/custos/pkg/store"
	"github.com/custos-tech/custos/pkg/types"
	"github.com/custos-tech/custos/pkg/worker"
)

// WithdrawalStage broadcasts withdrawal jobs from hot wallets.
type WithdrawalStage struct {
	core
	logger zerolog.Logger
}

// NewWithdrawal builds the withdrawal execute stage for one chain.
func NewWithdrawal(s Store, sg Signer, lm LockManager, nr *nonce.Registry, gas GasPricer, chain *types.Chain, policy Policy) *WithdrawalStage {
	return &WithdrawalStage{
		core:   core{store: s, signer: sg, locks: lm, nonces: nr, gas: gas, chain: chain, policy: policy},
		logger: log.WithComponent("withdrawal_execute").With().Str("chain", chain.Name).Logger(),
	}
}

// Cycle claims and broadcasts one batch of pending withdrawal jobs.
func (st *WithdrawalStage) Cycle(ctx context.Context) (worker.CycleResult, error) {
	jobs, err := st.store.PendingWithdrawalJobs(ctx, st.chain.ID, st.policy.BatchSize, maxRetriesCeiling)
	if err != nil {
		return worker.CycleResult{}, err
	}
	return drain(ctx, &st.core, store.WithdrawalQueueTable, jobs, st.handle)
}

// maxRetriesCeiling keeps exhausted jobs visible to the claim fetch so the
// terminal gate below can fail them instead of leaving them pending forever.
const maxRetriesCeiling = 1 << 30

func (st *WithdrawalStage) handle(ctx context.Context, job *types.WithdrawalJob) (outcome, error) {
	logger := st.logger.With().Int64("job_id", job.ID).Int64("request_id", job.WithdrawalRequestID).Logger()

	// A hash on a claimed job means a previous run crashed after broadcast.
	// Never build a second transaction for it.
	if job.HasTxHash() {
		logger.Warn().Str("tx_hash", *job.TxHash).Msg("resuming already broadcast job")
		return outcomeSkipped, st.store.ResumeJobConfirming(ctx, store.WithdrawalQueueTable, job.ID)
	}

	if job.RetryCount >= job.MaxRetries {
		if err := st.store.FailJob(ctx, store.WithdrawalQueueTable, job.ID, "retry budget exhausted"); err != nil {
			return outcomeFailed, err
		}
		return outcomeFailed, st.store.FailWithdrawalRequest(ctx, job.WithdrawalRequestID)
	}

	failRequest := func(ctx context.Context) error {
		return st.store.FailWithdrawalRequest(ctx, job.WithdrawalRequestID)
	}

	hot, err := st.store.GetOperationWallet(ctx, job.OperationWalletAddressID)
	if err != nil {
		return outcomeFailed, st.settleFailure(ctx, store.WithdrawalQueueTable, &job.JobCore, lookupErr(err), failRequest)
	}
	asset, err := st.store.GetAssetOnChain(ctx, job.AssetOnChainID)
	if err != nil {
		return outcomeFailed, st.settleFailure(ctx, store.WithdrawalQueueTable, &job.JobCore, lookupErr(err), failRequest)
	}

	balance, err := st.store.GetWalletBalanceByWallet(ctx, hot.ID, job.AssetOnChainID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return outcomeFailed, st.settleFailure(ctx, store.WithdrawalQueueTable, &job.JobCore, err, nil)
	}
	var lockedBalanceID int64
	if balance != nil {
		ok, err := st.locks.Acquire(ctx, balance.ID, types.ProcessingWithdrawing)
		if err != nil {
			return outcomeFailed, st.settleFailure(ctx, store.WithdrawalQueueTable, &job.JobCore, err, nil)
		}
		if !ok {
			logger.Debug().Int64("wallet_balance_id", balance.ID).Msg("hot wallet busy, returning job to queue")
			return outcomeSkipped, st.store.RevertJobToPending(ctx, store.WithdrawalQueueTable, job.ID)
		}
		lockedBalanceID = balance.ID
	}

	txHash, err := st.execute(ctx, job, hot, asset)
	if err != nil {
		if lockedBalanceID != 0 {
			if relErr := st.locks.Release(ctx, lockedBalanceID, types.ProcessingWithdrawing); relErr != nil {
				logger.Error().Err(relErr).Msg("lock release failed")
			}
		}
		logger.Error().Err(err).Msg("withdrawal broadcast failed")
		return outcomeFailed, st.settleFailure(ctx, store.WithdrawalQueueTable, &job.JobCore, err, failRequest)
	}

	// The wallet lock stays held on success; withdrawal_confirm releases it.
	logger.Info().Str("tx_hash", txHash).Msg("withdrawal broadcast")
	return outcomeSuccess, st.store.MarkJobConfirming(ctx, store.WithdrawalQueueTable, job.ID, txHash)
}

func (st *WithdrawalStage) execute(ctx context.Context, job *types.WithdrawalJob, hot *types.OperationWalletAddress, asset *types.AssetOnChain) (string, error) {
	gasPrice, feeLimit, err := st.preflight(ctx)
	if err != nil {
		return "", err
	}
	return st.broadcast(ctx, &signer.Request{
		Chain:           st.chain.Name,
		WalletGroupID:   hot.WalletGroupID,
		DerivationIndex: hot.DerivationIndex,
		FromAddress:     hot.Address,
		ToAddress:       job.ToAddress,
		AmountRaw:       job.AmountRaw,
		ContractAddress: contractAddress(asset),
		GasPrice:        gasPrice,
		FeeLimit:        feeLimit,
	})
}
