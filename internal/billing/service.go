package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lattice-pm/lattice/internal/ledger"
	"github.com/lattice-pm/lattice/internal/shared"
)

// AuditPort records manager actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles charge queries, manual charges and adjustments.
type Service struct {
	repo  Repository
	audit AuditPort
	now   func() time.Time
}

// NewService builds Service instance.
func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// GetCharge retrieves a charge by ID.
func (s *Service) GetCharge(ctx context.Context, id int64) (*Charge, error) {
	return s.repo.GetCharge(ctx, id)
}

// ListUnitCharges returns a unit's charges, newest period first.
func (s *Service) ListUnitCharges(ctx context.Context, unitID int64) ([]Charge, error) {
	return s.repo.ListByUnit(ctx, unitID)
}

// AdjustInput describes a manual amount adjustment.
type AdjustInput struct {
	ChargeID  int64
	NewAmount float64
	Reason    string
	ActorID   int64
}

// ErrChargeCancelled indicates mutation of a cancelled charge.
var ErrChargeCancelled = errors.New("billing: charge is cancelled")

// AdjustCharge sets a new amount due and appends a compensating ADJUSTMENT
// ledger entry for the delta. Raising the amount debits the unit; lowering
// it credits the unit. The charge row is never edited destructively beyond
// its mutable amount/status pair.
func (s *Service) AdjustCharge(ctx context.Context, in AdjustInput) (*Charge, error) {
	if in.NewAmount < 0 {
		return nil, errors.New("billing: adjusted amount must not be negative")
	}
	if in.Reason == "" {
		return nil, errors.New("billing: adjustment reason required")
	}
	var adjusted Charge
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		charge, err := tx.GetChargeForUpdate(ctx, in.ChargeID)
		if err != nil {
			return err
		}
		if charge.Status == ChargeStatusCancelled {
			return ErrChargeCancelled
		}
		if in.NewAmount < charge.AmountPaid {
			return fmt.Errorf("billing: new amount %.2f below amount already paid %.2f", in.NewAmount, charge.AmountPaid)
		}
		delta := in.NewAmount - charge.AmountDue
		if delta == 0 {
			adjusted = *charge
			return nil
		}
		status := DeriveStatus(in.NewAmount, charge.AmountPaid, charge.DueDate, s.now(), false)
		if err := tx.UpdateChargeAmount(ctx, charge.ID, in.NewAmount, status); err != nil {
			return err
		}
		entry := ledger.EntryInput{
			BuildingID:  charge.BuildingID,
			UnitID:      charge.UnitID,
			Type:        ledger.EntryTypeAdjustment,
			Description: fmt.Sprintf("adjustment: %s", in.Reason),
			RefType:     "charge",
			RefID:       charge.ID,
		}
		if delta > 0 {
			entry.Debit = delta
		} else {
			entry.Credit = -delta
		}
		if _, err := tx.AppendLedgerEntry(ctx, entry); err != nil {
			return err
		}
		adjusted = *charge
		adjusted.AmountDue = in.NewAmount
		adjusted.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "charge.adjust",
			Entity:   "charge",
			EntityID: fmt.Sprintf("%d", in.ChargeID),
			Meta: map[string]any{
				"new_amount": in.NewAmount,
				"reason":     in.Reason,
			},
			At: s.now(),
		})
	}
	return &adjusted, nil
}

// ManualChargeInput describes a charge entered by a manager, typically for
// buildings on a manual fee plan.
type ManualChargeInput struct {
	BuildingID  int64
	UnitID      int64
	PlanID      int64
	Period      string
	Amount      float64
	Description string
	ActorID     int64
}

// CreateManualCharge inserts a single charge outside the generation job.
func (s *Service) CreateManualCharge(ctx context.Context, in ManualChargeInput) (*Charge, error) {
	if err := shared.ValidatePeriod(in.Period); err != nil {
		return nil, err
	}
	if in.Amount <= 0 {
		return nil, errors.New("billing: manual charge amount must be positive")
	}
	exists, err := s.repo.ChargeExists(ctx, in.UnitID, in.PlanID, in.Period)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("billing: charge for unit %d period %s already exists", in.UnitID, in.Period)
	}
	dueDate, err := shared.PeriodDueDate(in.Period)
	if err != nil {
		return nil, err
	}
	charge := Charge{
		BuildingID: in.BuildingID,
		UnitID:     in.UnitID,
		PlanID:     in.PlanID,
		Period:     in.Period,
		AmountDue:  in.Amount,
		DueDate:    dueDate,
		Status:     DeriveStatus(in.Amount, 0, dueDate, s.now(), false),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertCharge(ctx, charge)
		if err != nil {
			return err
		}
		charge.ID = id
		desc := in.Description
		if desc == "" {
			desc = fmt.Sprintf("manual charge %s", in.Period)
		}
		_, err = tx.AppendLedgerEntry(ctx, ledger.EntryInput{
			BuildingID:  in.BuildingID,
			UnitID:      in.UnitID,
			Type:        ledger.EntryTypeCharge,
			Description: desc,
			Debit:       in.Amount,
			RefType:     "charge",
			RefID:       id,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "charge.manual_create",
			Entity:   "charge",
			EntityID: fmt.Sprintf("%d", charge.ID),
			Meta:     map[string]any{"amount": in.Amount, "period": in.Period},
			At:       s.now(),
		})
	}
	return &charge, nil
}

// CancelCharge marks a charge cancelled in place and credits the unit's
// ledger for the unpaid remainder. Paid portions stay on the books.
func (s *Service) CancelCharge(ctx context.Context, chargeID, actorID int64, reason string) (*Charge, error) {
	if reason == "" {
		return nil, errors.New("billing: cancellation reason required")
	}
	var cancelled Charge
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		charge, err := tx.GetChargeForUpdate(ctx, chargeID)
		if err != nil {
			return err
		}
		if charge.Status == ChargeStatusCancelled {
			return ErrChargeCancelled
		}
		remaining := charge.Remaining()
		if err := tx.UpdateChargeAmount(ctx, charge.ID, charge.AmountDue, ChargeStatusCancelled); err != nil {
			return err
		}
		if remaining > 0 {
			if _, err := tx.AppendLedgerEntry(ctx, ledger.EntryInput{
				BuildingID:  charge.BuildingID,
				UnitID:      charge.UnitID,
				Type:        ledger.EntryTypeAdjustment,
				Description: fmt.Sprintf("charge cancelled: %s", reason),
				Credit:      remaining,
				RefType:     "charge",
				RefID:       charge.ID,
			}); err != nil {
				return err
			}
		}
		cancelled = *charge
		cancelled.Status = ChargeStatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "charge.cancel",
			Entity:   "charge",
			EntityID: fmt.Sprintf("%d", chargeID),
			Meta:     map[string]any{"reason": reason},
			At:       s.now(),
		})
	}
	return &cancelled, nil
}
