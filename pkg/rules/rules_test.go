package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custos-tech/custos/pkg/types"
)

type fakePlannerStore struct {
	consCandidates []*types.WalletBalance
	gasCandidates  []*types.WalletBalance
	hot            *types.OperationWalletAddress
	gasWallet      *types.OperationWalletAddress
	duplicates     map[int64]bool

	consJobs []*types.ConsolidationJob
	gasJobs  []*types.GasTopupJob
	touched  []int64
	pruned   bool
}

func (f *fakePlannerStore) ConsolidationCandidates(context.Context, int64, int) ([]*types.WalletBalance, error) {
	return f.consCandidates, nil
}

func (f *fakePlannerStore) GasTopupCandidates(context.Context, int64, int) ([]*types.WalletBalance, error) {
	return f.gasCandidates, nil
}

func (f *fakePlannerStore) NextHotWallet(context.Context, int64) (*types.OperationWalletAddress, error) {
	return f.hot, nil
}

func (f *fakePlannerStore) NextGasWallet(context.Context, int64) (*types.OperationWalletAddress, error) {
	return f.gasWallet, nil
}

func (f *fakePlannerStore) TouchOperationWallet(_ context.Context, id int64, _ time.Time) error {
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakePlannerStore) CreateConsolidationJob(_ context.Context, job *types.ConsolidationJob) (bool, error) {
	if f.duplicates[job.WalletBalanceID] {
		return false, nil
	}
	f.consJobs = append(f.consJobs, job)
	return true, nil
}

func (f *fakePlannerStore) CreateGasTopupJob(_ context.Context, job *types.GasTopupJob) (bool, error) {
	if f.duplicates[job.WalletBalanceID] {
		return false, nil
	}
	f.gasJobs = append(f.gasJobs, job)
	return true, nil
}

func (f *fakePlannerStore) PruneExecutionLogs(context.Context, time.Duration) (int64, error) {
	f.pruned = true
	return 0, nil
}

func testPolicy() Policy {
	return Policy{
		BatchSize:         25,
		MaxRetries:        5,
		GasTopupAmountRaw: "30000000000000000",
		LogRetention:      7 * 24 * time.Hour,
	}
}

func newPlannerFixture() *fakePlannerStore {
	return &fakePlannerStore{
		hot:        &types.OperationWalletAddress{ID: 50, Role: types.WalletRoleHot},
		gasWallet:  &types.OperationWalletAddress{ID: 60, Role: types.WalletRoleGas},
		duplicates: map[int64]bool{},
	}
}

func TestPlannerPlansConsolidations(t *testing.T) {
	fs := newPlannerFixture()
	fs.consCandidates = []*types.WalletBalance{
		{ID: 1, WalletID: 11, AssetOnChainID: 10, AvailableRaw: "5000000", NeedsConsolidation: true},
		{ID: 2, WalletID: 12, AssetOnChainID: 10, AvailableRaw: "7000000", NeedsConsolidation: true},
	}

	p := New(fs, 1, "ethereum", testPolicy())
	res, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Succeeded)

	require.Len(t, fs.consJobs, 2)
	job := fs.consJobs[0]
	assert.Equal(t, int64(1), job.WalletBalanceID)
	assert.Equal(t, "5000000", job.AmountRaw, "the sweep moves the full available balance")
	assert.Equal(t, int64(50), job.OperationWalletAddressID)
	assert.Equal(t, types.PriorityNormal, job.Priority)
	assert.Contains(t, fs.touched, int64(50))
	assert.True(t, fs.pruned, "every planner cycle enforces log retention")
}

func TestPlannerPlansGasTopupsHighPriority(t *testing.T) {
	fs := newPlannerFixture()
	fs.gasCandidates = []*types.WalletBalance{
		{ID: 3, WalletID: 13, AssetOnChainID: 10, NeedsGas: true},
	}

	p := New(fs, 1, "ethereum", testPolicy())
	_, err := p.Cycle(context.Background())
	require.NoError(t, err)

	require.Len(t, fs.gasJobs, 1)
	job := fs.gasJobs[0]
	assert.Equal(t, types.PriorityHigh, job.Priority, "gas unblocks sweeps, so it jumps the queue")
	assert.Equal(t, "30000000000000000", job.AmountRaw)
	assert.Equal(t, int64(60), job.OperationWalletAddressID, "funded from a gas wallet, not a hot wallet")
}

func TestPlannerSkipsDuplicates(t *testing.T) {
	fs := newPlannerFixture()
	fs.consCandidates = []*types.WalletBalance{
		{ID: 1, WalletID: 11, AssetOnChainID: 10, AvailableRaw: "5000000"},
		{ID: 2, WalletID: 12, AssetOnChainID: 10, AvailableRaw: "7000000"},
	}
	fs.duplicates[1] = true

	p := New(fs, 1, "ethereum", testPolicy())
	res, err := p.Cycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Succeeded, "in-flight wallets do not plan twice")
	require.Len(t, fs.consJobs, 1)
	assert.Equal(t, int64(2), fs.consJobs[0].WalletBalanceID)
}

func TestPlannerIdleCycle(t *testing.T) {
	fs := newPlannerFixture()
	p := New(fs, 1, "ethereum", testPolicy())

	res, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Empty(t, fs.touched, "no round robin stamps without planned work")
}
