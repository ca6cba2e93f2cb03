package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/custos-tech/custos/pkg/types"
)

// ApprovedUnqueuedRequests fetches withdrawal intents ready for projection
// into the execution queue, oldest first.
func (s *Store) ApprovedUnqueuedRequests(ctx context.Context, chainID int64, limit int) ([]*types.WithdrawalRequest, error) {
	var reqs []*types.WithdrawalRequest
	err := s.db.SelectContext(ctx, &reqs, `
		SELECT * FROM withdrawal_requests
		WHERE chain_id = $1 AND status = 'approved' AND queued_at IS NULL
		ORDER BY id ASC
		LIMIT $2`, chainID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: approved requests: %w", err)
	}
	return reqs, nil
}

// GetWithdrawalRequest loads one withdrawal intent.
func (s *Store) GetWithdrawalRequest(ctx context.Context, id int64) (*types.WithdrawalRequest, error) {
	var r types.WithdrawalRequest
	err := s.db.GetContext(ctx, &r, `SELECT * FROM withdrawal_requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: withdrawal request %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get withdrawal request %d: %w", id, err)
	}
	return &r, nil
}

// CreateWithdrawalJob inserts the executable job for an approved intent.
// The partial unique index on withdrawal_request_id rejects a duplicate
// in-flight job; that case returns false.
func (s *Store) CreateWithdrawalJob(ctx context.Context, job *types.WithdrawalJob) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO withdrawal_queue
			(withdrawal_request_id, chain_id, asset_on_chain_id,
			 operation_wallet_address_id, to_address, amount_raw, amount_human,
			 status, priority, max_retries, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8, $9, now())
		ON CONFLICT (withdrawal_request_id) WHERE status IN ('pending', 'processing', 'confirming')
		DO NOTHING`,
		job.WithdrawalRequestID, job.ChainID, job.AssetOnChainID,
		job.OperationWalletAddressID, job.ToAddress, job.AmountRaw, job.AmountHuman,
		job.Priority, job.MaxRetries)
	if err != nil {
		return false, fmt.Errorf("store: create withdrawal job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: create withdrawal job: %w", err)
	}
	return n == 1, nil
}

// MarkRequestQueued transitions an approved intent to queued.
func (s *Store) MarkRequestQueued(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE withdrawal_requests SET status = 'queued', queued_at = now()
		WHERE id = $1 AND status = 'approved'`, id)
	if err != nil {
		return fmt.Errorf("store: mark request %d queued: %w", id, err)
	}
	return nil
}

// CompleteWithdrawalRequest finalizes the user-visible intent on success.
func (s *Store) CompleteWithdrawalRequest(ctx context.Context, id int64, txHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE withdrawal_requests SET status = 'completed', final_tx_hash = $2
		WHERE id = $1 AND status = 'queued'`, id, txHash)
	if err != nil {
		return fmt.Errorf("store: complete withdrawal request %d: %w", id, err)
	}
	return nil
}

// FailWithdrawalRequest surfaces a terminal failure to the user.
func (s *Store) FailWithdrawalRequest(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE withdrawal_requests SET status = 'failed'
		WHERE id = $1 AND status IN ('approved', 'queued')`, id)
	if err != nil {
		return fmt.Errorf("store: fail withdrawal request %d: %w", id, err)
	}
	return nil
}
