package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custos-tech/custos/pkg/types"
)

// lockColumns maps a non-idle processing status onto its lock column pair.
func lockColumns(kind types.ProcessingStatus) (untilCol, byCol string, err error) {
	switch kind {
	case types.ProcessingConsolidating:
		return "consolidation_locked_until", "consolidation_locked_by", nil
	case types.ProcessingGasTopup:
		return "gas_locked_until", "gas_locked_by", nil
	case types.ProcessingWithdrawing:
		return "withdrawal_locked_until", "withdrawal_locked_by", nil
	default:
		return "", "", fmt.Errorf("store: %q is not a lockable status", kind)
	}
}

// GetWalletBalance loads one wallet balance row.
func (s *Store) GetWalletBalance(ctx context.Context, id int64) (*types.WalletBalance, error) {
	var b types.WalletBalance
	err := s.db.GetContext(ctx, &b, `SELECT * FROM wallet_balances WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: wallet balance %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get wallet balance %d: %w", id, err)
	}
	return &b, nil
}

// GetWalletBalanceByWallet loads the row for a (wallet, asset) pair.
func (s *Store) GetWalletBalanceByWallet(ctx context.Context, walletID, assetOnChainID int64) (*types.WalletBalance, error) {
	var b types.WalletBalance
	err := s.db.GetContext(ctx, &b,
		`SELECT * FROM wallet_balances WHERE wallet_id = $1 AND asset_on_chain_id = $2`,
		walletID, assetOnChainID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: wallet balance for wallet %d asset %d", ErrNotFound, walletID, assetOnChainID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get wallet balance by wallet: %w", err)
	}
	return &b, nil
}

// TryAcquireWalletLock attempts the pessimistic per-(wallet, asset) lock.
// The row must be idle, or the existing lock of the same kind must have
// expired when allowExpired is set. Returns false on contention.
func (s *Store) TryAcquireWalletLock(ctx context.Context, id int64, kind types.ProcessingStatus, owner string, until time.Time, allowExpired bool) (bool, error) {
	untilCol, byCol, err := lockColumns(kind)
	if err != nil {
		return false, err
	}
	predicate := `processing_status = 'idle'`
	if allowExpired {
		predicate = fmt.Sprintf(
			`(processing_status = 'idle' OR (processing_status = $2 AND %s < now()))`, untilCol)
	}
	query := fmt.Sprintf(`
		UPDATE wallet_balances
		SET processing_status = $2, %s = $3, %s = $4
		WHERE id = $1 AND %s`, untilCol, byCol, predicate)
	res, err := s.db.ExecContext(ctx, query, id, kind, until, owner)
	if err != nil {
		return false, fmt.Errorf("store: acquire %s lock on wallet balance %d: %w", kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: acquire %s lock on wallet balance %d: %w", kind, id, err)
	}
	return n == 1, nil
}

// ReleaseWalletLock returns the row to idle. Release is conditioned on the
// owner so a crashed worker cannot clobber a reclaimed lock.
func (s *Store) ReleaseWalletLock(ctx context.Context, id int64, kind types.ProcessingStatus, owner string) (bool, error) {
	untilCol, byCol, err := lockColumns(kind)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`
		UPDATE wallet_balances
		SET processing_status = 'idle', %s = NULL, %s = NULL, last_processed_at = now()
		WHERE id = $1 AND processing_status = $2 AND %s = $3`, untilCol, byCol, byCol)
	res, err := s.db.ExecContext(ctx, query, id, kind, owner)
	if err != nil {
		return false, fmt.Errorf("store: release %s lock on wallet balance %d: %w", kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: release %s lock on wallet balance %d: %w", kind, id, err)
	}
	return n == 1, nil
}

// ClearWalletLock returns the row to idle without checking the owner. The
// confirm stage runs in a different process than the execute stage that took
// the lock; job settlement carries the right to release it.
func (s *Store) ClearWalletLock(ctx context.Context, id int64, kind types.ProcessingStatus) (bool, error) {
	untilCol, byCol, err := lockColumns(kind)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`
		UPDATE wallet_balances
		SET processing_status = 'idle', %s = NULL, %s = NULL, last_processed_at = now()
		WHERE id = $1 AND processing_status = $2`, untilCol, byCol)
	res, err := s.db.ExecContext(ctx, query, id, kind)
	if err != nil {
		return false, fmt.Errorf("store: clear %s lock on wallet balance %d: %w", kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: clear %s lock on wallet balance %d: %w", kind, id, err)
	}
	return n == 1, nil
}

// FinishConsolidation clears needs_consolidation after a confirmed sweep.
func (s *Store) FinishConsolidation(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE wallet_balances
		SET needs_consolidation = FALSE, last_consolidation_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: finish consolidation on wallet balance %d: %w", id, err)
	}
	return nil
}

// FinishGasTopup clears needs_gas after a confirmed top-up.
func (s *Store) FinishGasTopup(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE wallet_balances SET needs_gas = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: finish gas topup on wallet balance %d: %w", id, err)
	}
	return nil
}

// GasTopupCandidates lists idle balances whose owning wallet needs native
// currency before it can be swept.
func (s *Store) GasTopupCandidates(ctx context.Context, chainID int64, limit int) ([]*types.WalletBalance, error) {
	var rows []*types.WalletBalance
	err := s.db.SelectContext(ctx, &rows, `
		SELECT wb.* FROM wallet_balances wb
		JOIN asset_on_chain aoc ON aoc.id = wb.asset_on_chain_id
		WHERE aoc.chain_id = $1
		  AND wb.needs_gas
		  AND wb.processing_status = 'idle'
		ORDER BY wb.id ASC
		LIMIT $2`, chainID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: gas topup candidates: %w", err)
	}
	return rows, nil
}

// ConsolidationCandidates lists idle balances flagged for consolidation that
// do not also need gas, joined against their chain via the asset row.
func (s *Store) ConsolidationCandidates(ctx context.Context, chainID int64, limit int) ([]*types.WalletBalance, error) {
	var rows []*types.WalletBalance
	err := s.db.SelectContext(ctx, &rows, `
		SELECT wb.* FROM wallet_balances wb
		JOIN asset_on_chain aoc ON aoc.id = wb.asset_on_chain_id
		WHERE aoc.chain_id = $1
		  AND wb.needs_consolidation AND NOT wb.needs_gas
		  AND wb.processing_status = 'idle'
		ORDER BY wb.id ASC
		LIMIT $2`, chainID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: consolidation candidates: %w", err)
	}
	return rows, nil
}
