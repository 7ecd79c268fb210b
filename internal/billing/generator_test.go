package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-pm/lattice/internal/directory"
	"github.com/lattice-pm/lattice/internal/ledger"
)

func testPlans() *mockPlans {
	return &mockPlans{
		building: &directory.Building{ID: 1, Name: "Harbor House", Currency: "USD", IsActive: true},
		plan: &directory.FeePlan{
			ID:         10,
			BuildingID: 1,
			Name:       "HOA",
			Method:     directory.FeeMethodByArea,
			RatePerSqm: 5,
		},
		units: []directory.Unit{
			{ID: 100, BuildingID: 1, Label: "1A", AreaSqm: 80},
			{ID: 101, BuildingID: 1, Label: "1B", AreaSqm: 100},
		},
	}
}

func newTestGenerator(repo Repository, plans PlanSource, lock Locker) *Generator {
	var factory LockFactory
	if lock != nil {
		factory = func(int64, string) Locker { return lock }
	}
	g := NewGenerator(repo, plans, factory, nil)
	g.WithNow(func() time.Time { return time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC) })
	return g
}

func TestGenerateChargesCreatesPerUnit(t *testing.T) {
	repo := newMockRepo()
	lock := &mockLocker{}
	gen := newTestGenerator(repo, testPlans(), lock)

	result, err := gen.GenerateCharges(context.Background(), 1, "2026-02")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 0, result.Skipped)
	assert.False(t, result.AlreadyRan)
	assert.Equal(t, 1, lock.unlocks)

	require.Len(t, repo.charges, 2)
	var byUnit = map[int64]*Charge{}
	for _, c := range repo.charges {
		byUnit[c.UnitID] = c
	}
	assert.Equal(t, 400.0, byUnit[100].AmountDue)
	assert.Equal(t, 500.0, byUnit[101].AmountDue)
	assert.Equal(t, ChargeStatusPending, byUnit[100].Status)
	assert.Equal(t, time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), byUnit[100].DueDate)

	// every charge carries a matching debit CHARGE ledger entry
	require.Len(t, repo.entries, 2)
	for _, e := range repo.entries {
		assert.Equal(t, ledger.EntryTypeCharge, e.Type)
		assert.Zero(t, e.Credit)
		assert.Equal(t, "charge", e.RefType)
	}
}

func TestGenerateChargesRerunIsNoOp(t *testing.T) {
	repo := newMockRepo()
	gen := newTestGenerator(repo, testPlans(), nil)

	first, err := gen.GenerateCharges(context.Background(), 1, "2026-02")
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)

	second, err := gen.GenerateCharges(context.Background(), 1, "2026-02")
	require.NoError(t, err)
	assert.True(t, second.AlreadyRan)
	assert.Zero(t, second.Created)
	assert.Len(t, repo.charges, 2)
	assert.Len(t, repo.entries, 2)
}

func TestGenerateChargesResumesAfterPartialRun(t *testing.T) {
	repo := newMockRepo()
	plans := testPlans()
	gen := newTestGenerator(repo, plans, nil)

	// simulate a crashed run: one charge exists but no job run log row
	_, err := repo.InsertCharge(context.Background(), Charge{
		UnitID: 100, PlanID: 10, Period: "2026-02", AmountDue: 400,
	})
	require.NoError(t, err)

	result, err := gen.GenerateCharges(context.Background(), 1, "2026-02")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Skipped)
	assert.Len(t, repo.charges, 2)
}

func TestGenerateChargesSkipsManualPlanUnits(t *testing.T) {
	repo := newMockRepo()
	plans := testPlans()
	plans.plan.Method = directory.FeeMethodManual
	gen := newTestGenerator(repo, plans, nil)

	result, err := gen.GenerateCharges(context.Background(), 1, "2026-02")
	require.NoError(t, err)
	assert.Zero(t, result.Created)
	assert.Equal(t, 2, result.Skipped)
	assert.Empty(t, repo.charges)
}

func TestGenerateChargesNoActivePlan(t *testing.T) {
	plans := testPlans()
	plans.plan = nil
	gen := newTestGenerator(newMockRepo(), plans, nil)

	_, err := gen.GenerateCharges(context.Background(), 1, "2026-02")
	assert.ErrorIs(t, err, ErrNoActivePlan)
}

func TestGenerateChargesRejectsBadPeriod(t *testing.T) {
	gen := newTestGenerator(newMockRepo(), testPlans(), nil)
	for _, period := range []string{"2026-2", "02-2026", "2026/02", ""} {
		_, err := gen.GenerateCharges(context.Background(), 1, period)
		assert.Error(t, err, period)
	}
}

func TestGenerateChargesLockBusy(t *testing.T) {
	gen := newTestGenerator(newMockRepo(), testPlans(), &mockLocker{busy: true})
	_, err := gen.GenerateCharges(context.Background(), 1, "2026-02")
	assert.Error(t, err)
}
