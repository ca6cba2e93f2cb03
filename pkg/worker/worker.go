package worker

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/custos-tech/custos/pkg/log"
	"github.com/custos-tech/custos/pkg/metrics"
	"github.com/custos-tech/custos/pkg/types"
)

// Domain groups worker types for the incident-mode permission matrix.
type Domain string

const (
	DomainBalances       Domain = "balances"
	DomainDepositsListen Domain = "deposits_listen"
	DomainDepositsConf   Domain = "deposits_confirm"
	DomainGas            Domain = "gas"
	DomainConsolidation  Domain = "consolidation"
	DomainWithdrawals    Domain = "withdrawals"
	DomainOrchestration  Domain = "orchestration"
)

// domainOf maps a worker type onto its incident domain. Unknown types return
// false; the runtime fails open for them.
func domainOf(workerType string) (Domain, bool) {
	switch workerType {
	case "balance_scanner":
		return DomainBalances, true
	case "deposit_listener":
		return DomainDepositsListen, true
	case "deposit_confirm":
		return DomainDepositsConf, true
	case "gas_execute", "gas_confirm":
		return DomainGas, true
	case "consolidation_execute", "consolidation_confirm":
		return DomainConsolidation, true
	case "withdrawal_enqueue", "withdrawal_execute", "withdrawal_confirm":
		return DomainWithdrawals, true
	case "planner":
		return DomainOrchestration, true
	default:
		return "", false
	}
}

// allowed evaluates the incident permission matrix for one domain.
func allowed(d Domain, mode types.IncidentMode) bool {
	switch mode.Mode {
	case types.IncidentNormal, "":
		return true
	case types.IncidentDegraded:
		switch d {
		case DomainBalances, DomainDepositsListen, DomainDepositsConf:
			return true
		case DomainGas:
			return mode.DegradedGasAllowed
		default:
			return false
		}
	case types.IncidentEmergency:
		switch d {
		case DomainBalances, DomainDepositsListen:
			return true
		default:
			return false
		}
	default:
		// Unrecognized modes gate nothing.
		return true
	}
}

// Store is the control-plane persistence the runtime needs.
type Store interface {
	RegisterWorker(ctx context.Context, ws *types.WorkerStatus) error
	Heartbeat(ctx context.Context, workerID string, status types.WorkerRunStatus, health types.WorkerHealth, metricsJSON *string) error
	BumpWorkerCounters(ctx context.Context, workerID string, processed, success, failed int64) error
	InsertExecutionLog(ctx context.Context, l *types.ExecutionLog) error
	IncidentMode(ctx context.Context) (types.IncidentMode, error)
	ActiveMaintenance(ctx context.Context, workerType string, chainID *int64, now time.Time) (*types.MaintenanceWindow, error)
}

// CycleResult is what one unit of work reports back to the runtime.
type CycleResult struct {
	Processed int64
	Succeeded int64
	Failed    int64
	Message   string
}

// CycleFunc runs one scan cycle of a worker's domain logic.
type CycleFunc func(ctx context.Context) (CycleResult, error)

// Runtime is the shared worker chassis: identity, registration, heartbeat,
// maintenance and incident gating, the scan loop, and the execution log.
type Runtime struct {
	store      Store
	workerType string
	workerID   string
	chainID    *int64
	chainName  string

	scanInterval      time.Duration
	heartbeatInterval time.Duration

	paused atomic.Bool
	logger zerolog.Logger
}

// Identity derives the worker id for a type in this process.
func Identity(workerType string) string {
	return fmt.Sprintf("%s_%d", workerType, os.Getpid())
}

// New builds a runtime for one worker type on one chain.
func New(store Store, workerType, chainName string, chainID *int64, scanInterval, heartbeatInterval time.Duration) *Runtime {
	id := Identity(workerType)
	return &Runtime{
		store:             store,
		workerType:        workerType,
		workerID:          id,
		chainID:           chainID,
		chainName:         chainName,
		scanInterval:      scanInterval,
		heartbeatInterval: heartbeatInterval,
		logger:            log.WithWorkerID(id).With().Str("chain", chainName).Logger(),
	}
}

// WorkerID returns the derived worker identity.
func (r *Runtime) WorkerID() string {
	return r.workerID
}

// Run registers the worker and drives the scan loop until ctx is canceled.
// The heartbeat keeps beating while the worker is paused; a paused worker is
// alive, just idle.
func (r *Runtime) Run(ctx context.Context, cycle CycleFunc) error {
	if err := r.store.RegisterWorker(ctx, &types.WorkerStatus{
		WorkerID:     r.workerID,
		WorkerType:   r.workerType,
		ChainID:      r.chainID,
		Status:       types.WorkerStarting,
		HealthStatus: types.HealthHealthy,
	}); err != nil {
		return fmt.Errorf("worker: register: %w", err)
	}
	r.logger.Info().Str("worker_type", r.workerType).Msg("worker registered")

	hbDone := make(chan struct{})
	go r.heartbeatLoop(ctx, hbDone)

	ticker := time.NewTicker(r.scanInterval)
	defer ticker.Stop()

	r.runCycle(ctx, cycle)
	for {
		select {
		case <-ctx.Done():
			<-hbDone
			r.shutdown()
			return nil
		case <-ticker.C:
			r.runCycle(ctx, cycle)
		}
	}
}

func (r *Runtime) heartbeatLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, health := types.WorkerRunning, types.HealthHealthy
			if r.paused.Load() {
				status, health = types.WorkerPaused, types.HealthPaused
			}
			if err := r.store.Heartbeat(ctx, r.workerID, status, health, nil); err != nil {
				r.logger.Error().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

// runCycle applies the gates and, when open, runs one unit of work.
func (r *Runtime) runCycle(ctx context.Context, cycle CycleFunc) {
	started := time.Now()

	if window, reason, skip := r.gated(ctx); skip {
		r.setPaused(ctx, true)
		r.logExecution(ctx, types.CycleSkip, time.Since(started), reason, window)
		metrics.CyclesTotal.WithLabelValues(r.workerType, string(types.CycleSkip)).Inc()
		return
	}
	r.setPaused(ctx, false)

	res, err := cycle(ctx)
	elapsed := time.Since(started)
	metrics.CycleDuration.WithLabelValues(r.workerType).Observe(elapsed.Seconds())

	status := types.CycleSuccess
	msg := res.Message
	if err != nil {
		status = types.CycleFail
		msg = err.Error()
		r.logger.Error().Err(err).Msg("cycle failed")
	}
	metrics.CyclesTotal.WithLabelValues(r.workerType, string(status)).Inc()

	if res.Processed > 0 {
		if err := r.store.BumpWorkerCounters(ctx, r.workerID, res.Processed, res.Succeeded, res.Failed); err != nil {
			r.logger.Error().Err(err).Msg("counter update failed")
		}
	}
	r.logExecution(ctx, status, elapsed, msg, nil)
}

// gated reports whether this cycle must be skipped, and why.
func (r *Runtime) gated(ctx context.Context) (*types.MaintenanceWindow, string, bool) {
	window, err := r.store.ActiveMaintenance(ctx, r.workerType, r.chainID, time.Now())
	if err != nil {
		r.logger.Error().Err(err).Msg("maintenance check failed")
	} else if window != nil {
		return window, fmt.Sprintf("maintenance: %s", window.Reason), true
	}

	mode, err := r.store.IncidentMode(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("incident mode check failed")
		return nil, "", false
	}
	domain, known := domainOf(r.workerType)
	if !known {
		r.logger.Warn().Str("worker_type", r.workerType).
			Msg("worker type has no incident domain, running unrestricted")
		return nil, "", false
	}
	if !allowed(domain, mode) {
		return nil, fmt.Sprintf("incident mode %s blocks %s", mode.Mode, domain), true
	}
	return nil, "", false
}

func (r *Runtime) setPaused(ctx context.Context, paused bool) {
	if !r.paused.CompareAndSwap(!paused, paused) {
		return
	}
	status, health := types.WorkerRunning, types.HealthHealthy
	if paused {
		status, health = types.WorkerPaused, types.HealthPaused
		r.logger.Info().Msg("worker paused")
	} else {
		r.logger.Info().Msg("worker resumed")
	}
	if err := r.store.Heartbeat(ctx, r.workerID, status, health, nil); err != nil {
		r.logger.Error().Err(err).Msg("status update failed")
	}
}

func (r *Runtime) logExecution(ctx context.Context, status types.CycleStatus, elapsed time.Duration, message string, window *types.MaintenanceWindow) {
	entry := &types.ExecutionLog{
		ID:         uuid.NewString(),
		WorkerID:   r.workerID,
		WorkerType: r.workerType,
		ChainID:    r.chainID,
		Status:     status,
		DurationMS: elapsed.Milliseconds(),
	}
	if message != "" {
		entry.Message = &message
	}
	if window != nil {
		meta := fmt.Sprintf(`{"maintenance_id": %d}`, window.ID)
		entry.Metadata = &meta
	}
	if err := r.store.InsertExecutionLog(ctx, entry); err != nil {
		r.logger.Error().Err(err).Msg("execution log write failed")
	}
}

// shutdown writes the final stopped row with a short grace timeout, because
// the main context is already canceled by the time we get here.
func (r *Runtime) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.Heartbeat(ctx, r.workerID, types.WorkerStopped, types.HealthUnknown, nil); err != nil {
		r.logger.Error().Err(err).Msg("stop status write failed")
	}
	r.logger.Info().Msg("worker stopped")
}
