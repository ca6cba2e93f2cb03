package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custos-tech/custos/pkg/types"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(sqlx.NewDb(db, "sqlmock")), mock
}

func TestClaimJob(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "wins the race", affected: 1, want: true},
		{name: "loses the race", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			mock.ExpectExec(`UPDATE withdrawal_queue SET status = 'processing', processed_at = now\(\)\s+WHERE id = \$1 AND status = 'pending'`).
				WithArgs(int64(42)).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			won, err := s.ClaimJob(context.Background(), WithdrawalQueueTable, 42)
			require.NoError(t, err)
			assert.Equal(t, tt.want, won)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRevertJobToPendingKeepsBroadcastJobs(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE consolidation_queue SET status = 'pending'\s+WHERE id = \$1 AND status = 'processing' AND tx_hash IS NULL`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.RevertJobToPending(context.Background(), ConsolidationQueueTable, 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkJobConfirmingWritesHashAndStatusTogether(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE gas_topup_queue SET status = 'confirming',\s+tx_hash = \$2,\s+processed_at = now\(\),\s+error_message = NULL\s+WHERE id = \$1 AND status = 'processing'`).
		WithArgs(int64(9), "0xabc").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.MarkJobConfirming(context.Background(), GasTopupQueueTable, 9, "0xabc"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmDepositOnlyOneWinner(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE deposits SET status = 'confirmed',`).
		WithArgs(int64(5), int64(12)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE deposits SET status = 'confirmed',`).
		WithArgs(int64(5), int64(12)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := s.ConfirmDeposit(context.Background(), 5, 12)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = s.ConfirmDeposit(context.Background(), 5, 12)
	require.NoError(t, err)
	assert.False(t, won, "second confirm must lose the conditional update")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryAcquireWalletLock(t *testing.T) {
	until := time.Now().Add(10 * time.Minute)

	t.Run("idle row only", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE wallet_balances\s+SET processing_status = \$2, consolidation_locked_until = \$3, consolidation_locked_by = \$4\s+WHERE id = \$1 AND processing_status = 'idle'`).
			WithArgs(int64(3), types.ProcessingConsolidating, until, "consolidation_execute_100").
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := s.TryAcquireWalletLock(context.Background(), 3, types.ProcessingConsolidating, "consolidation_execute_100", until, false)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("steals an expired lock of the same kind", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`WHERE id = \$1 AND \(processing_status = 'idle' OR \(processing_status = \$2 AND withdrawal_locked_until < now\(\)\)\)`).
			WithArgs(int64(3), types.ProcessingWithdrawing, until, "withdrawal_execute_200").
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := s.TryAcquireWalletLock(context.Background(), 3, types.ProcessingWithdrawing, "withdrawal_execute_200", until, true)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unlockable status", func(t *testing.T) {
		s, _ := newMockStore(t)
		_, err := s.TryAcquireWalletLock(context.Background(), 3, types.ProcessingIdle, "x", until, false)
		assert.Error(t, err)
	})
}

func TestReleaseWalletLockChecksOwner(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`SET processing_status = 'idle', gas_locked_until = NULL, gas_locked_by = NULL, last_processed_at = now\(\)\s+WHERE id = \$1 AND processing_status = \$2 AND gas_locked_by = \$3`).
		WithArgs(int64(3), types.ProcessingGasTopup, "gas_execute_55").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.ReleaseWalletLock(context.Background(), 3, types.ProcessingGasTopup, "gas_execute_55")
	require.NoError(t, err)
	assert.False(t, ok, "release by a non-owner must not touch the row")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearWalletLockIgnoresOwner(t *testing.T) {
	// The confirm worker settles locks the execute worker took under a
	// different identity; clear conditions on the lock kind only.
	s, mock := newMockStore(t)
	mock.ExpectExec(`SET processing_status = 'idle', withdrawal_locked_until = NULL, withdrawal_locked_by = NULL, last_processed_at = now\(\)\s+WHERE id = \$1 AND processing_status = \$2$`).
		WithArgs(int64(3), types.ProcessingWithdrawing).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.ClearWalletLock(context.Background(), 3, types.ProcessingWithdrawing)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNextHotWalletRoundRobin(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"id", "chain_id", "address", "role", "wallet_group_id", "derivation_index", "is_active", "last_used_at"}).
		AddRow(int64(11), int64(1), "0xhot", "hot", int64(1), int64(0), true, nil)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY last_used_at ASC NULLS FIRST, id ASC")).
		WithArgs(int64(1)).
		WillReturnRows(rows)

	w, err := s.NextHotWallet(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(11), w.ID)
	assert.Equal(t, types.WalletRoleHot, w.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateConsolidationJobIdempotent(t *testing.T) {
	s, mock := newMockStore(t)
	job := &types.ConsolidationJob{
		JobCore:                  types.JobCore{ChainID: 1, Priority: types.PriorityNormal, MaxRetries: 5},
		WalletBalanceID:          8,
		WalletID:                 2,
		AssetOnChainID:           3,
		OperationWalletAddressID: 11,
		AmountRaw:                "1000000",
	}
	mock.ExpectExec(`INSERT INTO consolidation_queue`).
		WithArgs(int64(8), int64(2), int64(1), int64(3), int64(11), "1000000", types.PriorityNormal, 5).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO consolidation_queue`).
		WithArgs(int64(8), int64(2), int64(1), int64(3), int64(11), "1000000", types.PriorityNormal, 5).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := s.CreateConsolidationJob(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.CreateConsolidationJob(context.Background(), job)
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate in-flight enqueue must be a no-op")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBumpWorkerCountersIncrementsInSQL(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`SET jobs_processed = jobs_processed \+ \$2,\s+jobs_success = jobs_success \+ \$3,\s+jobs_failed = jobs_failed \+ \$4`).
		WithArgs("withdrawal_execute_100", int64(3), int64(2), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.BumpWorkerCounters(context.Background(), "withdrawal_execute_100", 3, 2, 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncidentMode(t *testing.T) {
	t.Run("decodes degraded mode", func(t *testing.T) {
		s, mock := newMockStore(t)
		rows := sqlmock.NewRows([]string{"value"}).
			AddRow([]byte(`{"mode": "degraded", "degraded_gas_allowed": true}`))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM worker_configs WHERE key = 'incident_mode'")).
			WillReturnRows(rows)

		mode, err := s.IncidentMode(context.Background())
		require.NoError(t, err)
		assert.Equal(t, types.IncidentDegraded, mode.Mode)
		assert.True(t, mode.DegradedGasAllowed)
	})

	t.Run("missing row means normal", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM worker_configs WHERE key = 'incident_mode'")).
			WillReturnRows(sqlmock.NewRows([]string{"value"}))

		mode, err := s.IncidentMode(context.Background())
		require.NoError(t, err)
		assert.Equal(t, types.IncidentNormal, mode.Mode)
	})
}

func TestActiveMaintenanceNullWildcards(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	chainID := int64(1)
	rows := sqlmock.NewRows([]string{"id", "worker_type", "chain_id", "start_time", "end_time", "reason"}).
		AddRow(int64(1), nil, nil, now.Add(-time.Hour), now.Add(time.Hour), "db upgrade")
	mock.ExpectQuery(`\(worker_type IS NULL OR worker_type = \$2\)\s+AND \(chain_id IS NULL OR chain_id = \$3\)`).
		WithArgs(now, "withdrawal_execute", chainID).
		WillReturnRows(rows)

	w, err := s.ActiveMaintenance(context.Background(), "withdrawal_execute", &chainID, now)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Nil(t, w.WorkerType, "global window matches every worker")
	assert.Equal(t, "db upgrade", w.Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReclaimStaleJobsSplitsByTxHash(t *testing.T) {
	// Staleness keys on processed_at, which ClaimJob stamps. Keying on
	// scheduled_at would mark any backlogged job stale the moment it was
	// claimed and let a concurrent reclaim re-open it mid-broadcast.
	s, mock := newMockStore(t)
	mock.ExpectExec(`SET status = CASE WHEN tx_hash IS NULL THEN 'pending' ELSE 'confirming' END\s+WHERE chain_id = \$1 AND status = 'processing' AND processed_at < \$2`).
		WithArgs(int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := s.ReclaimStaleJobs(context.Background(), WithdrawalQueueTable, 1, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
