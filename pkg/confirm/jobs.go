package confirm

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/custos-tech/custos/pkg/chainrpc"
	"github.com/custos-tech/custos/pkg/log"
	"github.com/custos-tech/custos/pkg/store"
	"github.com/custos-tech/custos/pkg/types"
	"github.com/custos-tech/custos/pkg/worker"
)

// WithdrawalStage settles broadcast withdrawal jobs.
type WithdrawalStage struct {
	core
	logger zerolog.Logger
}

// NewWithdrawal builds the withdrawal confirm stage for one chain.
func NewWithdrawal(s Store, rpc chainrpc.Client, lm LockManager, chain *types.Chain, policy Policy) *WithdrawalStage {
	return &WithdrawalStage{
		core:   core{store: s, rpc: rpc, locks: lm, chain: chain, policy: policy},
		logger: log.WithComponent("withdrawal_confirm").With().Str("chain", chain.Name).Logger(),
	}
}

// Cycle settles one batch of confirming withdrawal jobs and reclaims any
// stranded in processing by a crashed worker.
func (st *WithdrawalStage) Cycle(ctx context.Context) (worker.CycleResult, error) {
	if n, err := st.store.ReclaimStaleJobs(ctx, store.WithdrawalQueueTable, st.chain.ID, st.policy.ProcessingStale); err != nil {
		st.logger.Error().Err(err).Msg("stale job reclaim failed")
	} else if n > 0 {
		st.logger.Warn().Int64("count", n).Msg("reclaimed stale processing jobs")
	}

	jobs, err := st.store.ConfirmingWithdrawalJobs(ctx, st.chain.ID, st.policy.ConfirmBatch)
	if err != nil {
		return worker.CycleResult{}, err
	}
	if len(jobs) == 0 {
		return worker.CycleResult{}, nil
	}
	head, err := st.rpc.CurrentBlockNumber(ctx)
	if err != nil {
		return worker.CycleResult{}, err
	}

	var res worker.CycleResult
	for _, job := range jobs {
		res.Processed++
		settled, failed, err := st.settle(ctx, head, job)
		if err != nil {
			st.logger.Error().Err(err).Int64("job_id", job.ID).Msg("confirmation check failed")
			continue
		}
		if settled {
			res.Succeeded++
		}
		if failed {
			res.Failed++
		}
	}
	return res, nil
}

func (st *WithdrawalStage) settle(ctx context.Context, head int64, job *types.WithdrawalJob) (settled, failed bool, err error) {
	v, receipt, _, err := st.check(ctx, head, *job.TxHash)
	if err != nil {
		return false, false, err
	}
	switch v {
	case verdictConfirmed:
		if err := st.store.ConfirmJob(ctx, store.WithdrawalQueueTable, job.ID, receipt.GasUsed, receipt.EffectiveGasPrice); err != nil {
			return false, false, err
		}
		if err := st.store.CompleteWithdrawalRequest(ctx, job.WithdrawalRequestID, *job.TxHash); err != nil {
			return false, false, err
		}
		st.releaseHotWallet(ctx, job)
		st.logger.Info().Int64("job_id", job.ID).Str("tx_hash", *job.TxHash).Msg("withdrawal confirmed")
		return true, false, nil
	case verdictReverted:
		if err := st.store.FailJob(ctx, store.WithdrawalQueueTable, job.ID, "transaction reverted on chain"); err != nil {
			return false, false, err
		}
		if err := st.store.FailWithdrawalRequest(ctx, job.WithdrawalRequestID); err != nil {
			return false, false, err
		}
		st.releaseHotWallet(ctx, job)
		st.logger.Error().Int64("job_id", job.ID).Str("tx_hash", *job.TxHash).Msg("withdrawal reverted")
		return false, true, nil
	default:
		return false, false, nil
	}
}

// releaseHotWallet frees the withdrawing lock taken by the execute stage.
func (st *WithdrawalStage) releaseHotWallet(ctx context.Context, job *types.WithdrawalJob) {
	hot, err := st.store.GetOperationWallet(ctx, job.OperationWalletAddressID)
	if err != nil {
		st.logger.Error().Err(err).Int64("job_id", job.ID).Msg("hot wallet lookup failed")
		return
	}
	balance, err := st.store.GetWalletBalanceByWallet(ctx, hot.ID, job.AssetOnChainID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			st.logger.Error().Err(err).Int64("job_id", job.ID).Msg("wallet balance lookup failed")
		}
		return
	}
	st.release(ctx, balance.ID, types.ProcessingWithdrawing)
}

// ConsolidationStage settles broadcast consolidation jobs.
type ConsolidationStage struct {
	core
	logger zerolog.Logger
}

// NewConsolidation builds the consolidation confirm stage for one chain.
func NewConsolidation(s Store, rpc chainrpc.Client, lm LockManager, chain *types.Chain, policy Policy) *ConsolidationStage {
	return &ConsolidationStage{
		core:   core{store: s, rpc: rpc, locks: lm, chain: chain, policy: policy},
		logger: log.WithComponent("consolidation_confirm").With().Str("chain", chain.Name).Logger(),
	}
}

// Cycle settles one batch of confirming consolidation jobs.
func (st *ConsolidationStage) Cycle(ctx context.Context) (worker.CycleResult, error) {
	if n, err := st.store.ReclaimStaleJobs(ctx, store.ConsolidationQueueTable, st.chain.ID, st.policy.ProcessingStale); err != nil {
		st.logger.Error().Err(err).Msg("stale job reclaim failed")
	} else if n > 0 {
		st.logger.Warn().Int64("count", n).Msg("reclaimed stale processing jobs")
	}

	jobs, err := st.store.ConfirmingConsolidationJobs(ctx, st.chain.ID, st.policy.ConfirmBatch)
	if err != nil {
		return worker.CycleResult{}, err
	}
	if len(jobs) == 0 {
		return worker.CycleResult{}, nil
	}
	head, err := st.rpc.CurrentBlockNumber(ctx)
	if err != nil {
		return worker.CycleResult{}, err
	}

	var res worker.CycleResult
	for _, job := range jobs {
		res.Processed++
		v, receipt, _, err := st.check(ctx, head, *job.TxHash)
		if err != nil {
			st.logger.Error().Err(err).Int64("job_id", job.ID).Msg("confirmation check failed")
			continue
		}
		switch v {
		case verdictConfirmed:
			if err := st.store.ConfirmJob(ctx, store.ConsolidationQueueTable, job.ID, receipt.GasUsed, receipt.EffectiveGasPrice); err != nil {
				return res, err
			}
			if err := st.store.FinishConsolidation(ctx, job.WalletBalanceID); err != nil {
				return res, err
			}
			st.release(ctx, job.WalletBalanceID, types.ProcessingConsolidating)
			res.Succeeded++
			st.logger.Info().Int64("job_id", job.ID).Msg("consolidation confirmed")
		case verdictReverted:
			// The balance keeps needs_consolidation set so the sweep is
			// planned again.
			if err := st.store.FailJob(ctx, store.ConsolidationQueueTable, job.ID, "transaction reverted on chain"); err != nil {
				return res, err
			}
			st.release(ctx, job.WalletBalanceID, types.ProcessingConsolidating)
			res.Failed++
			st.logger.Error().Int64("job_id", job.ID).Msg("consolidation reverted")
		}
	}
	return res, nil
}

// GasTopupStage settles broadcast gas top-up jobs.
type GasTopupStage struct {
	core
	logger zerolog.Logger
}

// NewGasTopup builds the gas top-up confirm stage for one chain.
func NewGasTopup(s Store, rpc chainrpc.Client, lm LockManager, chain *types.Chain, policy Policy) *GasTopupStage {
	return &GasTopupStage{
		core:   core{store: s, rpc: rpc, locks: lm, chain: chain, policy: policy},
		logger: log.WithComponent("gas_confirm").With().Str("chain", chain.Name).Logger(),
	}
}

// Cycle settles one batch of confirming gas top-up jobs.
func (st *GasTopupStage) Cycle(ctx context.Context) (worker.CycleResult, error) {
	if n, err := st.store.ReclaimStaleJobs(ctx, store.GasTopupQueueTable, st.chain.ID, st.policy.ProcessingStale); err != nil {
		st.logger.Error().Err(err).Msg("stale job reclaim failed")
	} else if n > 0 {
		st.logger.Warn().Int64("count", n).Msg("reclaimed stale processing jobs")
	}

	jobs, err := st.store.ConfirmingGasTopupJobs(ctx, st.chain.ID, st.policy.ConfirmBatch)
	if err != nil {
		return worker.CycleResult{}, err
	}
	if len(jobs) == 0 {
		return worker.CycleResult{}, nil
	}
	head, err := st.rpc.CurrentBlockNumber(ctx)
	if err != nil {
		return worker.CycleResult{}, err
	}

	var res worker.CycleResult
	for _, job := range jobs {
		res.Processed++
		v, receipt, _, err := st.check(ctx, head, *job.TxHash)
		if err != nil {
			st.logger.Error().Err(err).Int64("job_id", job.ID).Msg("confirmation check failed")
			continue
		}
		switch v {
		case verdictConfirmed:
			if err := st.store.ConfirmJob(ctx, store.GasTopupQueueTable, job.ID, receipt.GasUsed, receipt.EffectiveGasPrice); err != nil {
				return res, err
			}
			if err := st.store.FinishGasTopup(ctx, job.WalletBalanceID); err != nil {
				return res, err
			}
			st.release(ctx, job.WalletBalanceID, types.ProcessingGasTopup)
			res.Succeeded++
			st.logger.Info().Int64("job_id", job.ID).Msg("gas topup confirmed")
		case verdictReverted:
			if err := st.store.FailJob(ctx, store.GasTopupQueueTable, job.ID, "transaction reverted on chain"); err != nil {
				return res, err
			}
			st.release(ctx, job.WalletBalanceID, types.ProcessingGasTopup)
			res.Failed++
			st.logger.Error().Int64("job_id", job.ID).Msg("gas topup reverted")
		}
	}
	return res, nil
}
