package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/custos-tech/custos/pkg/log"
	"github.com/custos-tech/custos/pkg/types"
	"github.com/custos-tech/custos/pkg/worker"
)

// Store is the persistence slice the planner needs.
type Store interface {
	ConsolidationCandidates(ctx context.Context, chainID int64, limit int) ([]*types.WalletBalance, error)
	GasTopupCandidates(ctx context.Context, chainID int64, limit int) ([]*types.WalletBalance, error)
	NextHotWallet(ctx context.Context, chainID int64) (*types.OperationWalletAddress, error)
	NextGasWallet(ctx context.Context, chainID int64) (*types.OperationWalletAddress, error)
	TouchOperationWallet(ctx context.Context, id int64, at time.Time) error
	CreateConsolidationJob(ctx context.Context, job *types.ConsolidationJob) (bool, error)
	CreateGasTopupJob(ctx context.Context, job *types.GasTopupJob) (bool, error)
	PruneExecutionLogs(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Policy carries the planner tunables.
type Policy struct {
	BatchSize         int
	MaxRetries        int
	GasTopupAmountRaw string
	LogRetention      time.Duration
}

// Planner turns wallet balance flags into queue jobs. Gas top-ups come
// first and at high priority: a wallet flagged for both cannot be swept
// until it has gas.
type Planner struct {
	store   Store
	chainID int64
	policy  Policy
	logger  zerolog.Logger
}

// New builds the planner for one chain.
func New(s Store, chainID int64, chainName string, policy Policy) *Planner {
	return &Planner{
		store:   s,
		chainID: chainID,
		policy:  policy,
		logger:  log.WithComponent("planner").With().Str("chain", chainName).Logger(),
	}
}

// Cycle plans one batch of gas top-ups and consolidations, then prunes the
// execution log past its retention window.
func (p *Planner) Cycle(ctx context.Context) (worker.CycleResult, error) {
	var res worker.CycleResult

	topups, err := p.planGasTopups(ctx)
	if err != nil {
		return res, err
	}
	sweeps, err := p.planConsolidations(ctx)
	if err != nil {
		return res, err
	}

	res.Processed = topups + sweeps
	res.Succeeded = topups + sweeps
	if res.Processed > 0 {
		res.Message = fmt.Sprintf("planned %d gas topups, %d consolidations", topups, sweeps)
	}

	if pruned, err := p.store.PruneExecutionLogs(ctx, p.policy.LogRetention); err != nil {
		p.logger.Error().Err(err).Msg("execution log prune failed")
	} else if pruned > 0 {
		p.logger.Debug().Int64("pruned", pruned).Msg("execution log pruned")
	}
	return res, nil
}

func (p *Planner) planGasTopups(ctx context.Context) (int64, error) {
	candidates, err := p.store.GasTopupCandidates(ctx, p.chainID, p.policy.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}
	gasWallet, err := p.store.NextGasWallet(ctx, p.chainID)
	if err != nil {
		return 0, err
	}

	var planned int64
	for _, bal := range candidates {
		inserted, err := p.store.CreateGasTopupJob(ctx, &types.GasTopupJob{
			JobCore: types.JobCore{
				ChainID:    p.chainID,
				Priority:   types.PriorityHigh,
				MaxRetries: p.policy.MaxRetries,
			},
			WalletBalanceID:          bal.ID,
			WalletID:                 bal.WalletID,
			OperationWalletAddressID: gasWallet.ID,
			AmountRaw:                p.policy.GasTopupAmountRaw,
		})
		if err != nil {
			return planned, err
		}
		if inserted {
			planned++
		}
	}
	if planned > 0 {
		if err := p.store.TouchOperationWallet(ctx, gasWallet.ID, time.Now()); err != nil {
			p.logger.Error().Err(err).Int64("wallet_id", gasWallet.ID).Msg("round robin touch failed")
		}
		p.logger.Info().Int64("planned", planned).Msg("gas topups planned")
	}
	return planned, nil
}

func (p *Planner) planConsolidations(ctx context.Context) (int64, error) {
	candidates, err := p.store.ConsolidationCandidates(ctx, p.chainID, p.policy.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}
	hot, err := p.store.NextHotWallet(ctx, p.chainID)
	if err != nil {
		return 0, err
	}

	var planned int64
	for _, bal := range candidates {
		inserted, err := p.store.CreateConsolidationJob(ctx, &types.ConsolidationJob{
			JobCore: types.JobCore{
				ChainID:    p.chainID,
				Priority:   types.PriorityNormal,
				MaxRetries: p.policy.MaxRetries,
			},
			WalletBalanceID:          bal.ID,
			WalletID:                 bal.WalletID,
			AssetOnChainID:           bal.AssetOnChainID,
			OperationWalletAddressID: hot.ID,
			AmountRaw:                bal.AvailableRaw,
		})
		if err != nil {
			return planned, err
		}
		if inserted {
			planned++
		}
	}
	if planned > 0 {
		if err := p.store.TouchOperationWallet(ctx, hot.ID, time.Now()); err != nil {
			p.logger.Error().Err(err).Int64("wallet_id", hot.ID).Msg("round robin touch failed")
		}
		p.logger.Info().Int64("planned", planned).Msg("consolidations planned")
	}
	return planned, nil
}
