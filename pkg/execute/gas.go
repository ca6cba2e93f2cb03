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

// GasTopupStage funds user wallets with native currency ahead of sweeps.
type GasTopupStage struct {
	core
	logger zerolog.Logger
}

// NewGasTopup builds the gas top-up execute stage for one chain.
func NewGasTopup(s Store, sg Signer, lm LockManager, nr *nonce.Registry, gas GasPricer, chain *types.Chain, policy Policy) *GasTopupStage {
	return &GasTopupStage{
		core:   core{store: s, signer: sg, locks: lm, nonces: nr, gas: gas, chain: chain, policy: policy},
		logger: log.WithComponent("gas_execute").With().Str("chain", chain.Name).Logger(),
	}
}

// Cycle claims and broadcasts one batch of pending gas top-up jobs.
func (st *GasTopupStage) Cycle(ctx context.Context) (worker.CycleResult, error) {
	jobs, err := st.store.PendingGasTopupJobs(ctx, st.chain.ID, st.policy.BatchSize, maxRetriesCeiling)
	if err != nil {
		return worker.CycleResult{}, err
	}
	return drain(ctx, &st.core, store.GasTopupQueueTable, jobs, st.handle)
}

func (st *GasTopupStage) handle(ctx context.Context, job *types.GasTopupJob) (outcome, error) {
	logger := st.logger.With().Int64("job_id", job.ID).Int64("wallet_balance_id", job.WalletBalanceID).Logger()

	if job.HasTxHash() {
		logger.Warn().Str("tx_hash", *job.TxHash).Msg("resuming already broadcast job")
		return outcomeSkipped, st.store.ResumeJobConfirming(ctx, store.GasTopupQueueTable, job.ID)
	}

	if job.RetryCount >= job.MaxRetries {
		return outcomeFailed, st.store.FailJob(ctx, store.GasTopupQueueTable, job.ID, "retry budget exhausted")
	}

	ok, err := st.locks.Acquire(ctx, job.WalletBalanceID, types.ProcessingGasTopup)
	if err != nil {
		return outcomeFailed, st.settleFailure(ctx, store.GasTopupQueueTable, &job.JobCore, err, nil)
	}
	if !ok {
		logger.Debug().Msg("wallet busy, returning job to queue")
		return outcomeSkipped, st.store.RevertJobToPending(ctx, store.GasTopupQueueTable, job.ID)
	}

	txHash, err := st.execute(ctx, job)
	if err != nil {
		if relErr := st.locks.Release(ctx, job.WalletBalanceID, types.ProcessingGasTopup); relErr != nil {
			logger.Error().Err(relErr).Msg("lock release failed")
		}
		logger.Error().Err(err).Msg("gas topup broadcast failed")
		return outcomeFailed, st.settleFailure(ctx, store.GasTopupQueueTable, &job.JobCore, err, nil)
	}

	logger.Info().Str("tx_hash", txHash).Msg("gas topup broadcast")
	return outcomeSuccess, st.store.MarkJobConfirming(ctx, store.GasTopupQueueTable, job.ID, txHash)
}

func (st *GasTopupStage) execute(ctx context.Context, job *types.GasTopupJob) (string, error) {
	funding, err := st.store.GetOperationWallet(ctx, job.OperationWalletAddressID)
	if err != nil {
		return "", lookupErr(err)
	}
	target, err := st.store.GetUserWallet(ctx, job.WalletID)
	if err != nil {
		return "", lookupErr(err)
	}

	gasPrice, feeLimit, err := st.preflight(ctx)
	if err != nil {
		return "", err
	}
	// Top-ups move native currency only; no contract is involved.
	return st.broadcast(ctx, &signer.Request{
		Chain:           st.chain.Name,
		WalletGroupID:   funding.WalletGroupID,
		DerivationIndex: funding.DerivationIndex,
		FromAddress:     funding.Address,
		ToAddress:       target.Address,
		AmountRaw:       job.AmountRaw,
		GasPrice:        gasPrice,
		FeeLimit:        feeLimit,
	})
}
