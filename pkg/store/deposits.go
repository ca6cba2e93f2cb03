package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/custos-tech/custos/pkg/types"
)

// PendingDeposits fetches unconfirmed deposits for a chain, oldest block first.
func (s *Store) PendingDeposits(ctx context.Context, chainID int64, limit int) ([]*types.Deposit, error) {
	var deposits []*types.Deposit
	err := s.db.SelectContext(ctx, &deposits, `
		SELECT * FROM deposits
		WHERE chain_id = $1 AND status = 'pending'
		ORDER BY block_number ASC
		LIMIT $2`, chainID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: pending deposits: %w", err)
	}
	return deposits, nil
}

// UncreditedDeposits fetches deposits that confirmed but whose ledger credit
// did not land, usually because a worker crashed between the two writes.
func (s *Store) UncreditedDeposits(ctx context.Context, chainID int64, limit int) ([]*types.Deposit, error) {
	var deposits []*types.Deposit
	err := s.db.SelectContext(ctx, &deposits, `
		SELECT * FROM deposits
		WHERE chain_id = $1 AND status = 'confirmed' AND credited_at IS NULL
		ORDER BY confirmed_at ASC
		LIMIT $2`, chainID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: uncredited deposits: %w", err)
	}
	return deposits, nil
}

// GetDeposit re-fetches one deposit row.
func (s *Store) GetDeposit(ctx context.Context, id int64) (*types.Deposit, error) {
	var d types.Deposit
	err := s.db.GetContext(ctx, &d, `SELECT * FROM deposits WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: deposit %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get deposit %d: %w", id, err)
	}
	return &d, nil
}

// UpdateDepositConfirmations records observed confirmation progress on a
// still-pending deposit.
func (s *Store) UpdateDepositConfirmations(ctx context.Context, id, confirmations int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE deposits SET confirmations = $2
		WHERE id = $1 AND status = 'pending'`, id, confirmations)
	if err != nil {
		return fmt.Errorf("store: update deposit %d confirmations: %w", id, err)
	}
	return nil
}

// ConfirmDeposit transitions pending -> confirmed. Returns false when another
// worker won the conditional update; only the winner may credit the ledger.
func (s *Store) ConfirmDeposit(ctx context.Context, id, confirmations int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deposits SET status = 'confirmed',
		                    confirmations = $2,
		                    confirmed_at = now()
		WHERE id = $1 AND status = 'pending'`, id, confirmations)
	if err != nil {
		return false, fmt.Errorf("store: confirm deposit %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: confirm deposit %d: %w", id, err)
	}
	return n == 1, nil
}

// CreditDeposit applies the ledger credit for a confirmed deposit exactly
// once. Stamping credited_at and calling the ledger procedure happen in one
// transaction; only the writer that wins the credited_at guard credits.
func (s *Store) CreditDeposit(ctx context.Context, depositID int64, uid string, assetID int64, amountHuman string) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: credit deposit %d: %w", depositID, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE deposits SET credited_at = now()
		WHERE id = $1 AND status = 'confirmed' AND credited_at IS NULL`, depositID)
	if err != nil {
		return false, fmt.Errorf("store: credit deposit %d: %w", depositID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: credit deposit %d: %w", depositID, err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`SELECT credit_user_asset_balance($1, $2, $3::numeric)`, uid, assetID, amountHuman); err != nil {
		return false, fmt.Errorf("store: credit %s asset %d: %w", uid, assetID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: credit deposit %d: %w", depositID, err)
	}
	return true, nil
}
