package payments

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lattice-pm/lattice/internal/payments/gateway"
	"github.com/lattice-pm/lattice/internal/shared"
)

// StandingOrderManager owns the recurring-payment lifecycle:
// (none) → Active → {Paused ⇄ Active} → Cancelled.
type StandingOrderManager struct {
	repo     Repository
	dir      DirectoryReader
	registry *gateway.Registry
	logger   *slog.Logger
}

// NewStandingOrderManager builds the manager.
func NewStandingOrderManager(repo Repository, dir DirectoryReader, registry *gateway.Registry, logger *slog.Logger) *StandingOrderManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &StandingOrderManager{repo: repo, dir: dir, registry: registry, logger: logger}
}

// StandingOrderInput describes a new recurring order.
type StandingOrderInput struct {
	UserID int64
	UnitID int64
	Amount float64
}

// Create sets up a recurring order through the building's gateway. The
// gateway must support native recurring billing; creation is two remote
// steps (plan, then subscription) and any approval URL is surfaced to the
// caller, who must complete it before billing starts.
func (m *StandingOrderManager) Create(ctx context.Context, in StandingOrderInput) (*StandingOrder, error) {
	if in.Amount <= 0 {
		return nil, fmt.Errorf("standing order amount must be positive: %w", shared.ErrValidation)
	}
	unit, err := m.dir.GetUnit(ctx, in.UnitID)
	if err != nil {
		return nil, err
	}
	building, err := m.dir.GetBuilding(ctx, unit.BuildingID)
	if err != nil {
		return nil, err
	}

	active, err := m.repo.HasActiveStandingOrder(ctx, in.UserID, in.UnitID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, fmt.Errorf("user %d already has an active standing order for unit %d: %w",
			in.UserID, in.UnitID, shared.ErrDuplicate)
	}

	providerType, err := gateway.ParseProviderType(building.PaymentProvider)
	if err != nil {
		return nil, fmt.Errorf("building %d provider %q: %w", building.ID, building.PaymentProvider, shared.ErrProviderUnconfigured)
	}
	gw, err := m.registry.Resolve(providerType)
	if err != nil {
		return nil, err
	}
	biller, ok := gw.(gateway.RecurringBiller)
	if !ok {
		return nil, fmt.Errorf("provider %s does not support recurring billing: %w", gw.Type(), shared.ErrValidation)
	}

	planName := fmt.Sprintf("%s %s monthly", building.Name, unit.Label)
	planRef, err := biller.CreateRecurringPlan(ctx, planName, in.Amount, building.Currency)
	if err != nil {
		return nil, err
	}
	subscriptionRef, approvalURL, err := biller.CreateSubscription(ctx, planRef, gateway.Payer{
		UserID: in.UserID,
		Name:   unit.Label,
		Email:  unit.TenantEmail,
		Phone:  unit.TenantPhone,
	})
	if err != nil {
		return nil, err
	}

	order := StandingOrder{
		UserID:          in.UserID,
		UnitID:          in.UnitID,
		BuildingID:      building.ID,
		Provider:        gw.Type(),
		Amount:          in.Amount,
		Currency:        building.Currency,
		PlanRef:         planRef,
		SubscriptionRef: subscriptionRef,
		ApprovalURL:     approvalURL,
		Status:          StandingOrderActive,
	}
	order.ID, err = m.repo.CreateStandingOrder(ctx, order)
	if err != nil {
		return nil, err
	}
	m.logger.Info("standing order created",
		slog.Int64("order_id", order.ID),
		slog.Int64("unit_id", in.UnitID),
		slog.String("provider", string(gw.Type())))
	return &order, nil
}

// List returns a user's standing orders.
func (m *StandingOrderManager) List(ctx context.Context, userID int64) ([]StandingOrder, error) {
	return m.repo.ListStandingOrders(ctx, userID)
}

func (m *StandingOrderManager) transition(ctx context.Context, id, userID int64, from, to StandingOrderStatus) (*StandingOrder, error) {
	order, err := m.repo.GetStandingOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, fmt.Errorf("standing order %d does not belong to user %d: %w", id, userID, shared.ErrUnauthorized)
	}
	if order.Status == StandingOrderCancelled {
		return nil, fmt.Errorf("standing order %d is cancelled: %w", id, shared.ErrValidation)
	}
	if order.Status != from {
		return nil, fmt.Errorf("standing order %d is %s, expected %s: %w", id, order.Status, from, shared.ErrValidation)
	}
	if err := m.repo.SetStandingOrderStatus(ctx, id, to); err != nil {
		return nil, err
	}
	order.Status = to
	return order, nil
}

// Pause suspends an active order.
func (m *StandingOrderManager) Pause(ctx context.Context, id, userID int64) (*StandingOrder, error) {
	return m.transition(ctx, id, userID, StandingOrderActive, StandingOrderPaused)
}

// Resume reactivates a paused order.
func (m *StandingOrderManager) Resume(ctx context.Context, id, userID int64) (*StandingOrder, error) {
	return m.transition(ctx, id, userID, StandingOrderPaused, StandingOrderActive)
}

// Cancel terminates an order. The remote subscription is cancelled
// best-effort first; local state becomes Cancelled regardless, since local
// state is what prevents future charge attempts. Remote cleanup failures
// are logged, not fatal.
func (m *StandingOrderManager) Cancel(ctx context.Context, id, userID int64) (*StandingOrder, error) {
	order, err := m.repo.GetStandingOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, fmt.Errorf("standing order %d does not belong to user %d: %w", id, userID, shared.ErrUnauthorized)
	}
	if order.Status == StandingOrderCancelled {
		return order, nil
	}

	if order.SubscriptionRef != "" {
		if gw, err := m.registry.Resolve(order.Provider); err == nil {
			if biller, ok := gw.(gateway.RecurringBiller); ok {
				if err := biller.CancelSubscription(ctx, order.SubscriptionRef); err != nil {
					m.logger.Error("remote subscription cancel",
						slog.Int64("order_id", order.ID),
						slog.String("subscription", order.SubscriptionRef),
						slog.Any("error", err))
				}
			}
		}
	}

	if err := m.repo.SetStandingOrderStatus(ctx, id, StandingOrderCancelled); err != nil {
		return nil, err
	}
	order.Status = StandingOrderCancelled
	return order, nil
}

// RecordCycle updates success/failure counters when a recurring charge
// webhook arrives for a known subscription.
func (m *StandingOrderManager) RecordCycle(ctx context.Context, subscriptionRef string, ok bool) error {
	return m.repo.RecordStandingCycle(ctx, subscriptionRef, ok)
}
