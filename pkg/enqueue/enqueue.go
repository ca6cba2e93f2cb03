package enqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/custos-tech/custos/pkg/amount"
	"github.com/custos-tech/custos/pkg/log"
	"github.com/custos-tech/custos/pkg/store"
	"github.com/custos-tech/custos/pkg/types"
	"github.com/custos-tech/custos/pkg/worker"
)

// Store is the persistence slice this stage needs.
type Store interface {
	ApprovedUnqueuedRequests(ctx context.Context, chainID int64, limit int) ([]*types.WithdrawalRequest, error)
	GetAssetOnChain(ctx context.Context, id int64) (*types.AssetOnChain, error)
	GetAssetOnChainByAsset(ctx context.Context, assetID, chainID int64) (*types.AssetOnChain, error)
	NextHotWallet(ctx context.Context, chainID int64) (*types.OperationWalletAddress, error)
	TouchOperationWallet(ctx context.Context, id int64, at time.Time) error
	CreateWithdrawalJob(ctx context.Context, job *types.WithdrawalJob) (bool, error)
	MarkRequestQueued(ctx context.Context, id int64) error
	FailWithdrawalRequest(ctx context.Context, id int64) error
}

// Stage projects approved withdrawal requests into executable queue jobs.
type Stage struct {
	store      Store
	chainID    int64
	batchSize  int
	maxRetries int
	logger     zerolog.Logger
}

// New builds the enqueue stage for one chain.
func New(s Store, chainID int64, chainName string, batchSize, maxRetries int) *Stage {
	return &Stage{
		store:      s,
		chainID:    chainID,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		logger:     log.WithComponent("withdrawal_enqueue").With().Str("chain", chainName).Logger(),
	}
}

// Cycle processes one batch of approved requests.
func (st *Stage) Cycle(ctx context.Context) (worker.CycleResult, error) {
	reqs, err := st.store.ApprovedUnqueuedRequests(ctx, st.chainID, st.batchSize)
	if err != nil {
		return worker.CycleResult{}, err
	}

	var res worker.CycleResult
	for _, req := range reqs {
		res.Processed++
		if err := st.enqueueOne(ctx, req); err != nil {
			res.Failed++
			st.logger.Error().Err(err).Int64("request_id", req.ID).Msg("enqueue failed")
			continue
		}
		res.Succeeded++
	}
	if res.Processed > 0 {
		res.Message = fmt.Sprintf("queued %d of %d requests", res.Succeeded, res.Processed)
	}
	return res, nil
}

// enqueueOne projects a single request. Unresolvable asset references and
// malformed amounts fail the request outright; everything else is left for
// the next cycle.
func (st *Stage) enqueueOne(ctx context.Context, req *types.WithdrawalRequest) error {
	asset, err := st.resolveAsset(ctx, req)
	if errors.Is(err, store.ErrNotFound) {
		st.logger.Warn().Int64("request_id", req.ID).Msg("request references unknown asset, failing")
		return st.store.FailWithdrawalRequest(ctx, req.ID)
	}
	if err != nil {
		return err
	}

	raw, err := amount.HumanToRaw(req.AmountHuman, asset.Decimals)
	if err != nil {
		st.logger.Warn().Int64("request_id", req.ID).Err(err).Msg("unparseable amount, failing")
		return st.store.FailWithdrawalRequest(ctx, req.ID)
	}

	hot, err := st.store.NextHotWallet(ctx, st.chainID)
	if err != nil {
		return err
	}

	inserted, err := st.store.CreateWithdrawalJob(ctx, &types.WithdrawalJob{
		JobCore: types.JobCore{
			ChainID:    st.chainID,
			Priority:   types.PriorityNormal,
			MaxRetries: st.maxRetries,
		},
		WithdrawalRequestID:      req.ID,
		AssetOnChainID:           asset.ID,
		OperationWalletAddressID: hot.ID,
		ToAddress:                req.ToAddress,
		AmountRaw:                raw,
		AmountHuman:              req.AmountHuman,
	})
	if err != nil {
		return err
	}
	if inserted {
		if err := st.store.TouchOperationWallet(ctx, hot.ID, time.Now()); err != nil {
			st.logger.Error().Err(err).Int64("wallet_id", hot.ID).Msg("round robin touch failed")
		}
	} else {
		st.logger.Debug().Int64("request_id", req.ID).Msg("job already in flight")
	}
	// Queued either way: an existing in-flight job means a previous cycle
	// crashed between insert and this update.
	return st.store.MarkRequestQueued(ctx, req.ID)
}

// resolveAsset picks the asset deployment. An explicit asset_on_chain_id wins
// over the (asset_id, chain_id) pair when both are present.
func (st *Stage) resolveAsset(ctx context.Context, req *types.WithdrawalRequest) (*types.AssetOnChain, error) {
	if req.AssetOnChainID != nil {
		return st.store.GetAssetOnChain(ctx, *req.AssetOnChainID)
	}
	if req.AssetID != nil {
		return st.store.GetAssetOnChainByAsset(ctx, *req.AssetID, req.ChainID)
	}
	return nil, fmt.Errorf("%w: request %d has no asset reference", store.ErrNotFound, req.ID)
}
