package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lattice-pm/lattice/internal/billing"
	"github.com/lattice-pm/lattice/internal/ledger"
	"github.com/lattice-pm/lattice/internal/shared"
)

// ErrOverpayment indicates an allocation that would exceed the charge's
// remaining balance.
var ErrOverpayment = fmt.Errorf("allocation exceeds remaining charge balance: %w", shared.ErrValidation)

// Notifier delivers payer-facing messages. Calls are best-effort; failures
// are logged and never roll anything back.
type Notifier interface {
	PaymentReceived(ctx context.Context, payment Payment, charge billing.Charge) error
}

// ReceiptEnqueuer schedules background receipt issuance for a payment.
type ReceiptEnqueuer interface {
	EnqueueReceipt(ctx context.Context, paymentID int64) error
}

// Allocator is the single place charge state and ledger entries change
// together. Every mutation runs in one transaction with the charge row
// locked, so concurrent allocations against the same charge serialize and
// the overpayment invariant holds.
type Allocator struct {
	repo   Repository
	notify Notifier
	tasks  ReceiptEnqueuer
	logger *slog.Logger
	now    func() time.Time
}

// NewAllocator constructs an Allocator. notify and tasks may be nil.
func NewAllocator(repo Repository, notify Notifier, tasks ReceiptEnqueuer, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{repo: repo, notify: notify, tasks: tasks, logger: logger, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (a *Allocator) WithNow(now func() time.Time) {
	if now != nil {
		a.now = now
	}
}

// Allocate applies amount of a payment to one charge: allocation row,
// recomputed charge status, a PAYMENT ledger credit and the payment's
// SUCCEEDED status commit together or not at all, so a payment can never be
// succeeded without its allocation. Overpayment is rejected here, inside the
// lock, so racing allocations cannot jointly exceed the amount due.
func (a *Allocator) Allocate(ctx context.Context, paymentID, chargeID int64, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("allocation amount must be positive: %w", shared.ErrValidation)
	}
	var (
		payment *Payment
		charge  billing.Charge
	)
	err := a.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetChargeForUpdate(ctx, chargeID)
		if err != nil {
			return err
		}
		if locked.Status == billing.ChargeStatusCancelled {
			return fmt.Errorf("charge %d is cancelled: %w", chargeID, shared.ErrValidation)
		}
		if amount > locked.Remaining() {
			return fmt.Errorf("charge %d: requested %.2f, remaining %.2f: %w",
				chargeID, amount, locked.Remaining(), ErrOverpayment)
		}
		if _, err := tx.InsertAllocation(ctx, Allocation{PaymentID: paymentID, ChargeID: chargeID, Amount: amount}); err != nil {
			return err
		}
		newPaid := locked.AmountPaid + amount
		status := billing.DeriveStatus(locked.AmountDue, newPaid, locked.DueDate, a.now(), false)
		if err := tx.UpdateChargeProgress(ctx, chargeID, newPaid, status); err != nil {
			return err
		}
		if _, err := tx.AppendLedgerEntry(ctx, ledger.EntryInput{
			BuildingID:  locked.BuildingID,
			UnitID:      locked.UnitID,
			Type:        ledger.EntryTypePayment,
			Description: fmt.Sprintf("payment for %s", locked.Period),
			Credit:      amount,
			RefType:     "payment",
			RefID:       paymentID,
		}); err != nil {
			return err
		}
		if err := tx.SetPaymentStatus(ctx, paymentID, PaymentStatusSucceeded); err != nil {
			return err
		}
		charge = *locked
		charge.AmountPaid = newPaid
		charge.Status = status
		return nil
	})
	if err != nil {
		return err
	}

	// post-commit side effects are fire-and-forget
	if a.tasks != nil {
		if err := a.tasks.EnqueueReceipt(ctx, paymentID); err != nil {
			a.logger.Error("enqueue receipt", slog.Int64("payment_id", paymentID), slog.Any("error", err))
		}
	}
	if a.notify != nil {
		if payment, err = a.repo.GetPayment(ctx, paymentID); err == nil {
			if err := a.notify.PaymentReceived(ctx, *payment, charge); err != nil {
				a.logger.Error("payment notification", slog.Int64("payment_id", paymentID), slog.Any("error", err))
			}
		}
	}
	return nil
}

// reverse undoes a payment's active allocations: each allocation is
// cancelled, its charge's paid amount and status re-derived, and a
// reversing ADJUSTMENT debit appended. The payment moves to final.
func (a *Allocator) reverse(ctx context.Context, payment *Payment, final PaymentStatus, reason string) error {
	return a.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		allocations, err := tx.ListActiveAllocations(ctx, payment.ID)
		if err != nil {
			return err
		}
		for _, alloc := range allocations {
			charge, err := tx.GetChargeForUpdate(ctx, alloc.ChargeID)
			if err != nil {
				return err
			}
			if err := tx.CancelAllocation(ctx, alloc.ID); err != nil {
				return err
			}
			newPaid := charge.AmountPaid - alloc.Amount
			if newPaid < 0 {
				newPaid = 0
			}
			status := billing.DeriveStatus(charge.AmountDue, newPaid, charge.DueDate, a.now(),
				charge.Status == billing.ChargeStatusCancelled)
			if err := tx.UpdateChargeProgress(ctx, charge.ID, newPaid, status); err != nil {
				return err
			}
			if _, err := tx.AppendLedgerEntry(ctx, ledger.EntryInput{
				BuildingID:  charge.BuildingID,
				UnitID:      charge.UnitID,
				Type:        ledger.EntryTypeAdjustment,
				Description: reason,
				Debit:       alloc.Amount,
				RefType:     "payment",
				RefID:       payment.ID,
			}); err != nil {
				return err
			}
		}
		return tx.SetPaymentStatus(ctx, payment.ID, final)
	})
}

// CancelManualPayment voids a manually entered payment: its allocations are
// zeroed, affected charges step back to their pre-payment status, and a
// reversing ledger debit restores each unit's owed balance.
func (a *Allocator) CancelManualPayment(ctx context.Context, paymentID int64) (*Payment, error) {
	payment, err := a.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !payment.IsManual {
		return nil, fmt.Errorf("payment %d is not a manual entry: %w", paymentID, shared.ErrValidation)
	}
	if payment.Status != PaymentStatusSucceeded {
		return nil, fmt.Errorf("payment %d is %s, not cancellable: %w", paymentID, payment.Status, shared.ErrValidation)
	}
	if err := a.reverse(ctx, payment, PaymentStatusCancelled, "manual payment cancelled"); err != nil {
		return nil, err
	}
	payment.Status = PaymentStatusCancelled
	return payment, nil
}

// ReverseForRefund applies the same reversal after a provider refund.
func (a *Allocator) ReverseForRefund(ctx context.Context, payment *Payment) error {
	if payment.Status != PaymentStatusSucceeded {
		return fmt.Errorf("payment %d is %s, not refundable: %w", payment.ID, payment.Status, shared.ErrValidation)
	}
	return a.reverse(ctx, payment, PaymentStatusRefunded, "payment refunded")
}
