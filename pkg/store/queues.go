package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custos-tech/custos/pkg/types"
)

// Queue names double as table names. Only these constants ever reach the
// query builders below.
const (
	WithdrawalQueueTable    = "withdrawal_queue"
	ConsolidationQueueTable = "consolidation_queue"
	GasTopupQueueTable      = "gas_topup_queue"
)

// ClaimJob atomically transitions a pending job to processing. It returns
// false when another worker won the race. The claim stamps processed_at so
// staleness is measured from the claim, not from scheduled_at: a job that
// sat in a backlog must not look stale the moment it is picked up.
func (s *Store) ClaimJob(ctx context.Context, table string, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET status = 'processing', processed_at = now()
		WHERE id = $1 AND status = 'pending'`, table), id)
	if err != nil {
		return false, fmt.Errorf("store: claim %s job %d: %w", table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: claim %s job %d: %w", table, id, err)
	}
	return n == 1, nil
}

// RevertJobToPending returns a processing job to pending without penalty.
// Used on benign concurrency defeats such as wallet lock contention.
func (s *Store) RevertJobToPending(ctx context.Context, table string, id int64) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET status = 'pending'
		WHERE id = $1 AND status = 'processing' AND tx_hash IS NULL`, table), id)
	if err != nil {
		return fmt.Errorf("store: revert %s job %d: %w", table, id, err)
	}
	return nil
}

// RescheduleJob applies retry backoff: bumps retry_count, reschedules, and
// records the classified error message.
func (s *Store) RescheduleJob(ctx context.Context, table string, id int64, at time.Time, errMsg string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET status = 'pending',
		              retry_count = retry_count + 1,
		              scheduled_at = $2,
		              error_message = $3
		WHERE id = $1 AND status = 'processing'`, table), id, at, errMsg)
	if err != nil {
		return fmt.Errorf("store: reschedule %s job %d: %w", table, id, err)
	}
	return nil
}

// FailJob terminates a job with an error message.
func (s *Store) FailJob(ctx context.Context, table string, id int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET status = 'failed',
		              error_message = $2,
		              processed_at = now()
		WHERE id = $1 AND status IN ('pending', 'processing', 'confirming')`, table), id, errMsg)
	if err != nil {
		return fmt.Errorf("store: fail %s job %d: %w", table, id, err)
	}
	return nil
}

// MarkJobConfirming records the broadcast tx hash and hands the job to the
// confirm stage in a single write.
func (s *Store) MarkJobConfirming(ctx context.Context, table string, id int64, txHash string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET status = 'confirming',
		              tx_hash = $2,
		              processed_at = now(),
		              error_message = NULL
		WHERE id = $1 AND status = 'processing'`, table), id, txHash)
	if err != nil {
		return fmt.Errorf("store: mark %s job %d confirming: %w", table, id, err)
	}
	return nil
}

// ResumeJobConfirming flips an already-broadcast job back to confirming
// without touching tx_hash. Idempotency gate for crash resume.
func (s *Store) ResumeJobConfirming(ctx context.Context, table string, id int64) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET status = 'confirming'
		WHERE id = $1 AND status = 'processing' AND tx_hash IS NOT NULL`, table), id)
	if err != nil {
		return fmt.Errorf("store: resume %s job %d: %w", table, id, err)
	}
	return nil
}

// ConfirmJob finalizes a successful job: resets retries, clears the error,
// and records observed gas usage when available.
func (s *Store) ConfirmJob(ctx context.Context, table string, id int64, gasUsed, gasPrice *string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET status = 'confirmed',
		              processed_at = now(),
		              retry_count = 0,
		              error_message = NULL,
		              gas_used = COALESCE($2, gas_used),
		              gas_price = COALESCE($3, gas_price)
		WHERE id = $1 AND status = 'confirming'`, table), id, gasUsed, gasPrice)
	if err != nil {
		return fmt.Errorf("store: confirm %s job %d: %w", table, id, err)
	}
	return nil
}

// ReclaimStaleJobs recovers jobs stranded in processing by a crashed worker.
// Jobs without a tx hash go back to pending; jobs with one resume confirming.
// Staleness is measured from processed_at, stamped by ClaimJob.
func (s *Store) ReclaimStaleJobs(ctx context.Context, table string, chainID int64, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET status = CASE WHEN tx_hash IS NULL THEN 'pending' ELSE 'confirming' END
		WHERE chain_id = $1 AND status = 'processing' AND processed_at < $2`, table), chainID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: reclaim stale %s jobs: %w", table, err)
	}
	return res.RowsAffected()
}

// PendingWithdrawalJobs fetches claim candidates for a chain.
func (s *Store) PendingWithdrawalJobs(ctx context.Context, chainID int64, limit, maxRetries int) ([]*types.WithdrawalJob, error) {
	var jobs []*types.WithdrawalJob
	err := s.db.SelectContext(ctx, &jobs, `
		SELECT * FROM withdrawal_queue
		WHERE chain_id = $1 AND status = 'pending' AND scheduled_at <= now() AND retry_count < $2
		ORDER BY scheduled_at ASC
		LIMIT $3`, chainID, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("store: pending withdrawal jobs: %w", err)
	}
	return jobs, nil
}

// GetWithdrawalJob loads one withdrawal job.
func (s *Store) GetWithdrawalJob(ctx context.Context, id int64) (*types.WithdrawalJob, error) {
	var j types.WithdrawalJob
	err := s.db.GetContext(ctx, &j, `SELECT * FROM withdrawal_queue WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: withdrawal job %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get withdrawal job %d: %w", id, err)
	}
	return &j, nil
}

// ConfirmingWithdrawalJobs fetches broadcast jobs awaiting confirmations.
func (s *Store) ConfirmingWithdrawalJobs(ctx context.Context, chainID int64, limit int) ([]*types.WithdrawalJob, error) {
	var jobs []*types.WithdrawalJob
	err := s.db.SelectContext(ctx, &jobs, `
		SELECT * FROM withdrawal_queue
		WHERE chain_id = $1 AND status = 'confirming' AND tx_hash IS NOT NULL
		ORDER BY processed_at ASC
		LIMIT $2`, chainID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: confirming withdrawal jobs: %w", err)
	}
	return jobs, nil
}

// PendingConsolidationJobs fetches claim candidates for a chain.
func (s *Store) PendingConsolidationJobs(ctx context.Context, chainID int64, limit, maxRetries int) ([]*types.ConsolidationJob, error) {
	var jobs []*types.ConsolidationJob
	err := s.db.SelectContext(ctx, &jobs, `
		SELECT * FROM consolidation_queue
		WHERE chain_id = $1 AND status = 'pending' AND scheduled_at <= now() AND retry_count < $2
		ORDER BY scheduled_at ASC
		LIMIT $3`, chainID, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("store: pending consolidation jobs: %w", err)
	}
	return jobs, nil
}

// GetConsolidationJob loads one consolidation job.
func (s *Store) GetConsolidationJob(ctx context.Context, id int64) (*types.ConsolidationJob, error) {
	var j types.ConsolidationJob
	err := s.db.GetContext(ctx, &j, `SELECT * FROM consolidation_queue WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: consolidation job %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get consolidation job %d: %w", id, err)
	}
	return &j, nil
}

// ConfirmingConsolidationJobs fetches broadcast jobs awaiting confirmations.
func (s *Store) ConfirmingConsolidationJobs(ctx context.Context, chainID int64, limit int) ([]*types.ConsolidationJob, error) {
	var jobs []*types.ConsolidationJob
	err := s.db.SelectContext(ctx, &jobs, `
		SELECT * FROM consolidation_queue
		WHERE chain_id = $1 AND status = 'confirming' AND tx_hash IS NOT NULL
		ORDER BY processed_at ASC
		LIMIT $2`, chainID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: confirming consolidation jobs: %w", err)
	}
	return jobs, nil
}

// PendingGasTopupJobs fetches claim candidates for a chain.
func (s *Store) PendingGasTopupJobs(ctx context.Context, chainID int64, limit, maxRetries int) ([]*types.GasTopupJob, error) {
	var jobs []*types.GasTopupJob
	err := s.db.SelectContext(ctx, &jobs, `
		SELECT * FROM gas_topup_queue
		WHERE chain_id = $1 AND status = 'pending' AND scheduled_at <= now() AND retry_count < $2
		ORDER BY scheduled_at ASC
		LIMIT $3`, chainID, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("store: pending gas topup jobs: %w", err)
	}
	return jobs, nil
}

// GetGasTopupJob loads one gas top-up job.
func (s *Store) GetGasTopupJob(ctx context.Context, id int64) (*types.GasTopupJob, error) {
	var j types.GasTopupJob
	err := s.db.GetContext(ctx, &j, `SELECT * FROM gas_topup_queue WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: gas topup job %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get gas topup job %d: %w", id, err)
	}
	return &j, nil
}

// ConfirmingGasTopupJobs fetches broadcast jobs awaiting confirmations.
func (s *Store) ConfirmingGasTopupJobs(ctx context.Context, chainID int64, limit int) ([]*types.GasTopupJob, error) {
	var jobs []*types.GasTopupJob
	err := s.db.SelectContext(ctx, &jobs, `
		SELECT * FROM gas_topup_queue
		WHERE chain_id = $1 AND status = 'confirming' AND tx_hash IS NOT NULL
		ORDER BY processed_at ASC
		LIMIT $2`, chainID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: confirming gas topup jobs: %w", err)
	}
	return jobs, nil
}

// CreateConsolidationJob enqueues a consolidation. The partial unique index
// on wallet_balance_id makes enqueue idempotent while a job is in flight.
func (s *Store) CreateConsolidationJob(ctx context.Context, job *types.ConsolidationJob) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO consolidation_queue
			(wallet_balance_id, wallet_id, chain_id, asset_on_chain_id,
			 operation_wallet_address_id, amount_raw, status, priority,
			 max_retries, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $8, now())
		ON CONFLICT (wallet_balance_id) WHERE status IN ('pending', 'processing', 'confirming')
		DO NOTHING`,
		job.WalletBalanceID, job.WalletID, job.ChainID, job.AssetOnChainID,
		job.OperationWalletAddressID, job.AmountRaw, job.Priority, job.MaxRetries)
	if err != nil {
		return false, fmt.Errorf("store: create consolidation job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: create consolidation job: %w", err)
	}
	return n == 1, nil
}

// CreateGasTopupJob enqueues a gas top-up, idempotent per wallet balance.
func (s *Store) CreateGasTopupJob(ctx context.Context, job *types.GasTopupJob) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO gas_topup_queue
			(wallet_balance_id, wallet_id, chain_id, operation_wallet_address_id,
			 amount_raw, status, priority, max_retries, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, now())
		ON CONFLICT (wallet_balance_id) WHERE status IN ('pending', 'processing', 'confirming')
		DO NOTHING`,
		job.WalletBalanceID, job.WalletID, job.ChainID, job.OperationWalletAddressID,
		job.AmountRaw, job.Priority, job.MaxRetries)
	if err != nil {
		return false, fmt.Errorf("store: create gas topup job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: create gas topup job: %w", err)
	}
	return n == 1, nil
}
