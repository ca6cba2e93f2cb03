package confirm

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/custos-tech/custos/pkg/chainrpc"
	"github.com/custos-tech/custos/pkg/log"
	"github.com/custos-tech/custos/pkg/metrics"
	"github.com/custos-tech/custos/pkg/store"
	"github.com/custos-tech/custos/pkg/types"
	"github.com/custos-tech/custos/pkg/worker"
)

// DepositStage confirms observed deposits and credits the user ledger.
type DepositStage struct {
	core
	logger zerolog.Logger
}

// NewDeposit builds the deposit confirm stage for one chain.
func NewDeposit(s Store, rpc chainrpc.Client, chain *types.Chain, policy Policy) *DepositStage {
	return &DepositStage{
		core:   core{store: s, rpc: rpc, chain: chain, policy: policy},
		logger: log.WithComponent("deposit_confirm").With().Str("chain", chain.Name).Logger(),
	}
}

// Cycle walks pending deposits, records confirmation progress, and finalizes
// those buried past the threshold. Concurrent observers are safe: only the
// winner of the conditional confirm update credits the ledger.
func (st *DepositStage) Cycle(ctx context.Context) (worker.CycleResult, error) {
	st.recoverUncredited(ctx)

	deposits, err := st.store.PendingDeposits(ctx, st.chain.ID, st.policy.ConfirmBatch)
	if err != nil {
		return worker.CycleResult{}, err
	}
	if len(deposits) == 0 {
		return worker.CycleResult{}, nil
	}
	head, err := st.rpc.CurrentBlockNumber(ctx)
	if err != nil {
		return worker.CycleResult{}, err
	}

	var res worker.CycleResult
	for _, dep := range deposits {
		res.Processed++
		confirmed, err := st.observe(ctx, head, dep)
		if err != nil {
			res.Failed++
			st.logger.Error().Err(err).Int64("deposit_id", dep.ID).Msg("deposit check failed")
			continue
		}
		if confirmed {
			res.Succeeded++
		}
	}
	if res.Processed > 0 {
		res.Message = fmt.Sprintf("confirmed %d of %d deposits", res.Succeeded, res.Processed)
	}
	return res, nil
}

func (st *DepositStage) observe(ctx context.Context, head int64, dep *types.Deposit) (bool, error) {
	receipt, err := st.rpc.TransactionReceipt(ctx, dep.TxHash)
	if err != nil {
		return false, err
	}
	// A vanished receipt means the deposit's block was reorganized away.
	// Leave the row pending; the scanner will re-observe it if it lands
	// again.
	if !receipt.Found {
		st.logger.Warn().Int64("deposit_id", dep.ID).Str("tx_hash", dep.TxHash).
			Msg("deposit receipt missing, possible reorg")
		return false, nil
	}
	if !receipt.Success {
		st.logger.Warn().Int64("deposit_id", dep.ID).Msg("deposit transaction reverted, skipping")
		return false, nil
	}

	confirmations := head - receipt.BlockNumber + 1
	// A lagging node can report a head below the receipt's block. Skip
	// until it catches up; a non-positive count must never be written.
	if confirmations < 1 {
		return false, nil
	}
	if confirmations < st.chain.ConfirmationThreshold {
		return false, st.store.UpdateDepositConfirmations(ctx, dep.ID, confirmations)
	}

	won, err := st.store.ConfirmDeposit(ctx, dep.ID, confirmations)
	if err != nil {
		return false, err
	}
	if !won {
		// Another observer confirmed and credited this deposit first.
		return false, nil
	}
	metrics.DepositsConfirmed.Inc()

	if err := st.credit(ctx, dep); err != nil {
		// credited_at stays NULL; recoverUncredited retries next cycle.
		return true, err
	}
	return true, nil
}

// recoverUncredited retries ledger credits that a crash left behind. The
// credited_at guard keeps the retry exactly-once.
func (st *DepositStage) recoverUncredited(ctx context.Context) {
	deposits, err := st.store.UncreditedDeposits(ctx, st.chain.ID, st.policy.ConfirmBatch)
	if err != nil {
		st.logger.Error().Err(err).Msg("uncredited sweep failed")
		return
	}
	for _, dep := range deposits {
		if err := st.credit(ctx, dep); err != nil {
			st.logger.Error().Err(err).Int64("deposit_id", dep.ID).Msg("credit retry failed")
		}
	}
}

// credit applies the exactly-once ledger credit for a confirmed deposit.
func (st *DepositStage) credit(ctx context.Context, dep *types.Deposit) error {
	wallet, err := st.store.GetUserWalletByAddress(ctx, st.chain.ID, dep.ToAddress)
	if errors.Is(err, store.ErrNotFound) {
		st.logger.Error().Int64("deposit_id", dep.ID).Str("to_address", dep.ToAddress).
			Msg("deposit to unknown address, not crediting")
		return nil
	}
	if err != nil {
		return err
	}
	asset, err := st.store.GetAssetOnChain(ctx, dep.AssetOnChainID)
	if err != nil {
		return err
	}

	credited, err := st.store.CreditDeposit(ctx, dep.ID, wallet.UID, asset.AssetID, dep.AmountHuman)
	if err != nil {
		return err
	}
	if credited {
		metrics.DepositsCredited.Inc()
		st.logger.Info().Int64("deposit_id", dep.ID).Str("uid", wallet.UID).
			Str("amount", dep.AmountHuman).Msg("deposit credited")
	}
	return nil
}
