package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custos-tech/custos/pkg/types"
)

// RegisterWorker upserts the worker's control-plane row at process start.
func (s *Store) RegisterWorker(ctx context.Context, ws *types.WorkerStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_status
			(worker_id, worker_type, chain_id, status, health_status, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (worker_id)
		DO UPDATE SET worker_type = EXCLUDED.worker_type,
		              chain_id = EXCLUDED.chain_id,
		              status = EXCLUDED.status,
		              health_status = EXCLUDED.health_status,
		              started_at = now(),
		              updated_at = now()`,
		ws.WorkerID, ws.WorkerType, ws.ChainID, ws.Status, ws.HealthStatus)
	if err != nil {
		return fmt.Errorf("store: register worker %s: %w", ws.WorkerID, err)
	}
	return nil
}

// Heartbeat refreshes a worker's liveness row.
func (s *Store) Heartbeat(ctx context.Context, workerID string, status types.WorkerRunStatus, health types.WorkerHealth, metricsJSON *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE worker_status
		SET status = $2, health_status = $3, current_metrics = COALESCE($4, current_metrics), updated_at = now()
		WHERE worker_id = $1`, workerID, status, health, metricsJSON)
	if err != nil {
		return fmt.Errorf("store: heartbeat %s: %w", workerID, err)
	}
	return nil
}

// BumpWorkerCounters increments the monotonic job counters. The increment
// happens inside SQL so concurrent bumps cannot lose updates.
func (s *Store) BumpWorkerCounters(ctx context.Context, workerID string, processed, success, failed int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE worker_status
		SET jobs_processed = jobs_processed + $2,
		    jobs_success = jobs_success + $3,
		    jobs_failed = jobs_failed + $4,
		    updated_at = now()
		WHERE worker_id = $1`, workerID, processed, success, failed)
	if err != nil {
		return fmt.Errorf("store: bump counters %s: %w", workerID, err)
	}
	return nil
}

// InsertExecutionLog appends one per-cycle evidence row.
func (s *Store) InsertExecutionLog(ctx context.Context, l *types.ExecutionLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_execution_logs
			(id, worker_id, worker_type, chain_id, status, duration_ms, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
		l.ID, l.WorkerID, l.WorkerType, l.ChainID, l.Status, l.DurationMS, l.Message, l.Metadata)
	if err != nil {
		return fmt.Errorf("store: insert execution log: %w", err)
	}
	return nil
}

// PruneExecutionLogs deletes evidence rows older than the retention window.
func (s *Store) PruneExecutionLogs(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM worker_execution_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: prune execution logs: %w", err)
	}
	return res.RowsAffected()
}

// IncidentMode reads the global incident switch. A missing row means normal
// operation.
func (s *Store) IncidentMode(ctx context.Context) (types.IncidentMode, error) {
	mode := types.IncidentMode{Mode: types.IncidentNormal}
	var raw []byte
	err := s.db.GetContext(ctx, &raw,
		`SELECT value FROM worker_configs WHERE key = 'incident_mode'`)
	if errors.Is(err, sql.ErrNoRows) {
		return mode, nil
	}
	if err != nil {
		return mode, fmt.Errorf("store: read incident mode: %w", err)
	}
	if err := json.Unmarshal(raw, &mode); err != nil {
		return mode, fmt.Errorf("store: decode incident mode: %w", err)
	}
	if mode.Mode == "" {
		mode.Mode = types.IncidentNormal
	}
	return mode, nil
}

// ActiveMaintenance returns the first maintenance window covering the given
// worker identity at time now, or nil. NULL filters match all.
func (s *Store) ActiveMaintenance(ctx context.Context, workerType string, chainID *int64, now time.Time) (*types.MaintenanceWindow, error) {
	var w types.MaintenanceWindow
	err := s.db.GetContext(ctx, &w, `
		SELECT * FROM worker_maintenance
		WHERE start_time <= $1 AND end_time > $1
		  AND (worker_type IS NULL OR worker_type = $2)
		  AND (chain_id IS NULL OR chain_id = $3)
		ORDER BY start_time ASC
		LIMIT 1`, now, workerType, chainID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: active maintenance: %w", err)
	}
	return &w, nil
}
