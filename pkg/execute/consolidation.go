package execute

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/custos-tech/custos/pkg/log"
	"github.com/custos-tech/custos/pkg/nonce"
	"github.com/custos-tech/custos/pkg/signer"
	"github.com/custos-tech/custos/pkg/store"
	"github.com/custos-tech/custos/pkg/types"
	"github.com/custos-tech/custos/pkg/worker"
)

// ConsolidationStage sweeps user wallet balances into hot wallets.
type ConsolidationStage struct {
	core
	logger zerolog.Logger
}

// NewConsolidation builds the consolidation execute stage for one chain.
func NewConsolidation(s Store, sg Signer, lm LockManager, nr *nonce.Registry, gas GasPricer, chain *types.Chain, policy Policy) *ConsolidationStage {
	return &ConsolidationStage{
		core:   core{store: s, signer: sg, locks: lm, nonces: nr, gas: gas, chain: chain, policy: policy},
		logger: log.WithComponent("consolidation_execute").With().Str("chain", chain.Name).Logger(),
	}
}

// Cycle claims and broadcasts one batch of pending consolidation jobs.
func (st *ConsolidationStage) Cycle(ctx context.Context) (worker.CycleResult, error) {
	jobs, err := st.store.PendingConsolidationJobs(ctx, st.chain.ID, st.policy.BatchSize, maxRetriesCeiling)
	if err != nil {
		return worker.CycleResult{}, err
	}
	return drain(ctx, &st.core, store.ConsolidationQueueTable, jobs, st.handle)
}

func (st *ConsolidationStage) handle(ctx context.Context, job *types.ConsolidationJob) (outcome, error) {
	logger := st.logger.With().Int64("job_id", job.ID).Int64("wallet_balance_id", job.WalletBalanceID).Logger()

	if job.HasTxHash() {
		logger.Warn().Str("tx_hash", *job.TxHash).Msg("resuming already broadcast job")
		return outcomeSkipped, st.store.ResumeJobConfirming(ctx, store.ConsolidationQueueTable, job.ID)
	}

	// needs_consolidation stays set on a terminal failure so the planner
	// re-enqueues the sweep once the cause is fixed.
	if job.RetryCount >= job.MaxRetries {
		return outcomeFailed, st.store.FailJob(ctx, store.ConsolidationQueueTable, job.ID, "retry budget exhausted")
	}

	// The planner enqueued from a snapshot; re-check the flags before
	// locking. A wallet that lost its funding or gained a gas need since
	// then must not be swept.
	bal, err := st.store.GetWalletBalance(ctx, job.WalletBalanceID)
	if err != nil {
		return outcomeFailed, st.settleFailure(ctx, store.ConsolidationQueueTable, &job.JobCore, lookupErr(err), nil)
	}
	if !bal.NeedsConsolidation {
		return outcomeFailed, st.store.FailJob(ctx, store.ConsolidationQueueTable, job.ID, "wallet no longer flagged for consolidation")
	}
	if bal.NeedsGas {
		return outcomeFailed, st.store.FailJob(ctx, store.ConsolidationQueueTable, job.ID, "wallet needs gas before it can be swept")
	}

	ok, err := st.locks.Acquire(ctx, job.WalletBalanceID, types.ProcessingConsolidating)
	if err != nil {
		return outcomeFailed, st.settleFailure(ctx, store.ConsolidationQueueTable, &job.JobCore, err, nil)
	}
	if !ok {
		logger.Debug().Msg("wallet busy, returning job to queue")
		return outcomeSkipped, st.store.RevertJobToPending(ctx, store.ConsolidationQueueTable, job.ID)
	}

	txHash, err := st.execute(ctx, job)
	if err != nil {
		if relErr := st.locks.Release(ctx, job.WalletBalanceID, types.ProcessingConsolidating); relErr != nil {
			logger.Error().Err(relErr).Msg("lock release failed")
		}
		logger.Error().Err(err).Msg("consolidation broadcast failed")
		return outcomeFailed, st.settleFailure(ctx, store.ConsolidationQueueTable, &job.JobCore, err, nil)
	}

	logger.Info().Str("tx_hash", txHash).Msg("consolidation broadcast")
	return outcomeSuccess, st.store.MarkJobConfirming(ctx, store.ConsolidationQueueTable, job.ID, txHash)
}

func (st *ConsolidationStage) execute(ctx context.Context, job *types.ConsolidationJob) (string, error) {
	source, err := st.store.GetUserWallet(ctx, job.WalletID)
	if err != nil {
		return "", lookupErr(err)
	}
	hot, err := st.store.GetOperationWallet(ctx, job.OperationWalletAddressID)
	if err != nil {
		return "", lookupErr(err)
	}
	asset, err := st.store.GetAssetOnChain(ctx, job.AssetOnChainID)
	if err != nil {
		return "", lookupErr(err)
	}

	gasPrice, feeLimit, err := st.preflight(ctx)
	if err != nil {
		return "", err
	}
	return st.broadcast(ctx, &signer.Request{
		Chain:           st.chain.Name,
		WalletGroupID:   source.WalletGroupID,
		DerivationIndex: source.DerivationIndex,
		FromAddress:     source.Address,
		ToAddress:       hot.Address,
		AmountRaw:       job.AmountRaw,
		ContractAddress: contractAddress(asset),
		GasPrice:        gasPrice,
		FeeLimit:        feeLimit,
	})
}
