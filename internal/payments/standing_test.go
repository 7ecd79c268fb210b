package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-pm/lattice/internal/payments/gateway"
	"github.com/lattice-pm/lattice/internal/shared"
)

func newStandingManager(repo *mockRepo, gw gateway.Gateway, provider string) *StandingOrderManager {
	return NewStandingOrderManager(repo, testDirectory(provider), gateway.NewRegistry(gw), nil)
}

func recurringStub() *stubGateway {
	return &stubGateway{
		providerType: gateway.ProviderPayPlus,
		planRef:      "plan-1",
		subRef:       "sub-1",
		approvalURL:  "https://pay.test/approve/sub-1",
	}
}

func TestStandingOrderCreate(t *testing.T) {
	repo := newMockRepo()
	mgr := newStandingManager(repo, recurringStub(), "payplus")

	order, err := mgr.Create(context.Background(), StandingOrderInput{UserID: 7, UnitID: 100, Amount: 500})
	require.NoError(t, err)
	assert.Equal(t, StandingOrderActive, order.Status)
	assert.Equal(t, "plan-1", order.PlanRef)
	assert.Equal(t, "sub-1", order.SubscriptionRef)
	assert.Equal(t, "https://pay.test/approve/sub-1", order.ApprovalURL)
	assert.Equal(t, gateway.ProviderPayPlus, order.Provider)
	assert.Equal(t, "ILS", order.Currency)
}

func TestStandingOrderCreateRejectsSecondActive(t *testing.T) {
	repo := newMockRepo()
	mgr := newStandingManager(repo, recurringStub(), "payplus")

	_, err := mgr.Create(context.Background(), StandingOrderInput{UserID: 7, UnitID: 100, Amount: 500})
	require.NoError(t, err)

	_, err = mgr.Create(context.Background(), StandingOrderInput{UserID: 7, UnitID: 100, Amount: 500})
	assert.ErrorIs(t, err, shared.ErrDuplicate)
}

func TestStandingOrderCreateNonRecurringProvider(t *testing.T) {
	repo := newMockRepo()
	mgr := newStandingManager(repo, gateway.NewLocal(), "local")

	_, err := mgr.Create(context.Background(), StandingOrderInput{UserID: 7, UnitID: 100, Amount: 500})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestStandingOrderCreateRejectsZeroAmount(t *testing.T) {
	repo := newMockRepo()
	mgr := newStandingManager(repo, recurringStub(), "payplus")

	_, err := mgr.Create(context.Background(), StandingOrderInput{UserID: 7, UnitID: 100, Amount: 0})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestStandingOrderPauseResume(t *testing.T) {
	repo := newMockRepo()
	mgr := newStandingManager(repo, recurringStub(), "payplus")
	order, err := mgr.Create(context.Background(), StandingOrderInput{UserID: 7, UnitID: 100, Amount: 500})
	require.NoError(t, err)

	paused, err := mgr.Pause(context.Background(), order.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, StandingOrderPaused, paused.Status)

	// pausing a paused order is a state error
	_, err = mgr.Pause(context.Background(), order.ID, 7)
	assert.ErrorIs(t, err, shared.ErrValidation)

	resumed, err := mgr.Resume(context.Background(), order.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, StandingOrderActive, resumed.Status)
}

func TestStandingOrderTransitionsRequireOwner(t *testing.T) {
	repo := newMockRepo()
	mgr := newStandingManager(repo, recurringStub(), "payplus")
	order, err := mgr.Create(context.Background(), StandingOrderInput{UserID: 7, UnitID: 100, Amount: 500})
	require.NoError(t, err)

	_, err = mgr.Pause(context.Background(), order.ID, 99)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)

	_, err = mgr.Cancel(context.Background(), order.ID, 99)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestStandingOrderCancelCallsProvider(t *testing.T) {
	repo := newMockRepo()
	gw := recurringStub()
	mgr := newStandingManager(repo, gw, "payplus")
	order, err := mgr.Create(context.Background(), StandingOrderInput{UserID: 7, UnitID: 100, Amount: 500})
	require.NoError(t, err)

	cancelled, err := mgr.Cancel(context.Background(), order.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, StandingOrderCancelled, cancelled.Status)
	assert.Equal(t, []string{"sub-1"}, gw.cancelled)

	// idempotent: a second cancel is a no-op, not an error
	again, err := mgr.Cancel(context.Background(), order.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, StandingOrderCancelled, again.Status)
	assert.Len(t, gw.cancelled, 1)
}

func TestStandingOrderCancelSurvivesRemoteFailure(t *testing.T) {
	repo := newMockRepo()
	gw := recurringStub()
	gw.cancelErr = errors.New("provider down")
	mgr := newStandingManager(repo, gw, "payplus")
	order, err := mgr.Create(context.Background(), StandingOrderInput{UserID: 7, UnitID: 100, Amount: 500})
	require.NoError(t, err)

	cancelled, err := mgr.Cancel(context.Background(), order.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, StandingOrderCancelled, cancelled.Status)
	assert.Equal(t, StandingOrderCancelled, repo.standing[order.ID].Status)
}

func TestStandingOrderCancelledIsTerminal(t *testing.T) {
	repo := newMockRepo()
	mgr := newStandingManager(repo, recurringStub(), "payplus")
	order, err := mgr.Create(context.Background(), StandingOrderInput{UserID: 7, UnitID: 100, Amount: 500})
	require.NoError(t, err)

	_, err = mgr.Cancel(context.Background(), order.ID, 7)
	require.NoError(t, err)

	_, err = mgr.Resume(context.Background(), order.ID, 7)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestStandingOrderRecordCycle(t *testing.T) {
	repo := newMockRepo()
	mgr := newStandingManager(repo, recurringStub(), "payplus")
	order, err := mgr.Create(context.Background(), StandingOrderInput{UserID: 7, UnitID: 100, Amount: 500})
	require.NoError(t, err)

	require.NoError(t, mgr.RecordCycle(context.Background(), "sub-1", true))
	require.NoError(t, mgr.RecordCycle(context.Background(), "sub-1", true))
	require.NoError(t, mgr.RecordCycle(context.Background(), "sub-1", false))

	stored := repo.standing[order.ID]
	assert.Equal(t, 2, stored.OKCycles)
	assert.Equal(t, 1, stored.FailedCycles)
}
