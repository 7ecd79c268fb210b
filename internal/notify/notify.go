package notify

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/lattice-pm/lattice/internal/billing"
	"github.com/lattice-pm/lattice/internal/directory"
	"github.com/lattice-pm/lattice/internal/payments"
)

// Enqueuer hands messages to the background mail queue.
type Enqueuer interface {
	EnqueueSendEmail(ctx context.Context, to, subject, body string) error
}

// UnitReader resolves the tenant contact for a unit.
type UnitReader interface {
	GetUnit(ctx context.Context, id int64) (*directory.Unit, error)
}

// Service sends tenant-facing notifications. Delivery is queued, so a send
// failure never affects the payment flow that triggered it.
type Service struct {
	queue   Enqueuer
	dir     UnitReader
	printer *message.Printer
	logger  *slog.Logger
}

// NewService builds the notification service.
func NewService(queue Enqueuer, dir UnitReader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		queue:   queue,
		dir:     dir,
		printer: message.NewPrinter(language.English),
		logger:  logger,
	}
}

// formatAmount renders an amount with its ISO currency symbol and grouped
// digits, e.g. "₪ 1,250.00".
func (s *Service) formatAmount(amount float64, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return s.printer.Sprintf("%.2f %s", amount, code)
	}
	return s.printer.Sprintf("%v", currency.NarrowSymbol(unit.Amount(amount)))
}

// PaymentReceived emails the unit's tenant a confirmation for a recorded
// payment.
func (s *Service) PaymentReceived(ctx context.Context, payment payments.Payment, charge billing.Charge) error {
	unit, err := s.dir.GetUnit(ctx, payment.UnitID)
	if err != nil {
		return fmt.Errorf("notify: resolve unit %d: %w", payment.UnitID, err)
	}
	if unit.TenantEmail == "" {
		s.logger.Info("payment notification skipped, unit has no tenant email",
			slog.Int64("unit_id", payment.UnitID),
			slog.Int64("payment_id", payment.ID))
		return nil
	}

	amount := s.formatAmount(payment.Amount, payment.Currency)
	subject := s.printer.Sprintf("Payment received for %s", charge.Period)
	body := s.printer.Sprintf(
		"We received your payment of %s toward the %s fee for unit %s. Remaining balance on this charge: %s.",
		amount, charge.Period, unit.Label, s.formatAmount(charge.Remaining(), payment.Currency))
	return s.queue.EnqueueSendEmail(ctx, unit.TenantEmail, subject, body)
}

// PaymentFailed emails the tenant when a standing-order or token charge is
// declined, so they can update their payment method.
func (s *Service) PaymentFailed(ctx context.Context, payment payments.Payment, reason string) error {
	unit, err := s.dir.GetUnit(ctx, payment.UnitID)
	if err != nil {
		return fmt.Errorf("notify: resolve unit %d: %w", payment.UnitID, err)
	}
	if unit.TenantEmail == "" {
		return nil
	}
	subject := "Payment failed"
	body := s.printer.Sprintf(
		"Your payment of %s for unit %s could not be processed (%s). Please check your payment method and try again.",
		s.formatAmount(payment.Amount, payment.Currency), unit.Label, reason)
	return s.queue.EnqueueSendEmail(ctx, unit.TenantEmail, subject, body)
}

var _ payments.Notifier = (*Service)(nil)
