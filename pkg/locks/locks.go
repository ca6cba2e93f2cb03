package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/custos-tech/custos/pkg/log"
	"github.com/custos-tech/custos/pkg/metrics"
	"github.com/custos-tech/custos/pkg/types"
)

// Store is the wallet-lock persistence the manager drives.
type Store interface {
	TryAcquireWalletLock(ctx context.Context, id int64, kind types.ProcessingStatus, owner string, until time.Time, allowExpired bool) (bool, error)
	ReleaseWalletLock(ctx context.Context, id int64, kind types.ProcessingStatus, owner string) (bool, error)
	ClearWalletLock(ctx context.Context, id int64, kind types.ProcessingStatus) (bool, error)
}

// TTLs holds the per-kind lock lifetimes.
type TTLs struct {
	Consolidation time.Duration
	GasTopup      time.Duration
	Withdrawal    time.Duration
}

// Manager acquires and releases pessimistic wallet locks on behalf of one
// worker identity.
type Manager struct {
	store Store
	owner string
	ttls  TTLs
	now   func() time.Time
}

// New builds a lock manager for the given worker identity.
func New(store Store, owner string, ttls TTLs) *Manager {
	return &Manager{store: store, owner: owner, ttls: ttls, now: time.Now}
}

func (m *Manager) ttl(kind types.ProcessingStatus) (time.Duration, error) {
	switch kind {
	case types.ProcessingConsolidating:
		return m.ttls.Consolidation, nil
	case types.ProcessingGasTopup:
		return m.ttls.GasTopup, nil
	case types.ProcessingWithdrawing:
		return m.ttls.Withdrawal, nil
	default:
		return 0, fmt.Errorf("locks: no TTL for status %q", kind)
	}
}

// Acquire takes the lock of the given kind on a wallet balance row. Expired
// locks of the same kind are stolen. Returns false on live contention.
func (m *Manager) Acquire(ctx context.Context, balanceID int64, kind types.ProcessingStatus) (bool, error) {
	ttl, err := m.ttl(kind)
	if err != nil {
		return false, err
	}
	ok, err := m.store.TryAcquireWalletLock(ctx, balanceID, kind, m.owner, m.now().Add(ttl), true)
	if err != nil {
		return false, err
	}
	if !ok {
		metrics.LockContention.WithLabelValues(string(kind)).Inc()
	}
	return ok, nil
}

// Release returns the row to idle. A failed owner check is logged, not
// returned as an error: it means the lock expired and was reclaimed, and the
// reclaiming worker now owns the row.
func (m *Manager) Release(ctx context.Context, balanceID int64, kind types.ProcessingStatus) error {
	ok, err := m.store.ReleaseWalletLock(ctx, balanceID, kind, m.owner)
	if err != nil {
		return err
	}
	if !ok {
		log.Logger.Warn().
			Int64("wallet_balance_id", balanceID).
			Str("kind", string(kind)).
			Str("owner", m.owner).
			Msg("lock release skipped, row no longer owned")
	}
	return nil
}

// Clear frees the lock regardless of owner. Lock ownership travels with the
// job: the execute stage that took the lock hands it to the confirm stage,
// which runs as a different worker identity and releases on settlement.
func (m *Manager) Clear(ctx context.Context, balanceID int64, kind types.ProcessingStatus) error {
	ok, err := m.store.ClearWalletLock(ctx, balanceID, kind)
	if err != nil {
		return err
	}
	if !ok {
		log.Logger.Warn().
			Int64("wallet_balance_id", balanceID).
			Str("kind", string(kind)).
			Msg("lock clear skipped, row not held in that state")
	}
	return nil
}
