package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-pm/lattice/internal/billing"
	"github.com/lattice-pm/lattice/internal/directory"
	"github.com/lattice-pm/lattice/internal/payments/gateway"
	"github.com/lattice-pm/lattice/internal/shared"
)

// DirectoryReader is the building/unit read surface payment flows need.
type DirectoryReader interface {
	GetBuilding(ctx context.Context, id int64) (*directory.Building, error)
	GetUnit(ctx context.Context, id int64) (*directory.Unit, error)
}

// ChargeReader reads charges owned by the billing package.
type ChargeReader interface {
	GetCharge(ctx context.Context, id int64) (*billing.Charge, error)
}

// AuditPort records manager actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig carries the platform-side URLs handed to providers.
type ServiceConfig struct {
	PublicBaseURL string
}

// Service drives payment flows end to end: hosted sessions, tokenization,
// synchronous token charges, refunds and manual entries.
type Service struct {
	repo      Repository
	charges   ChargeReader
	dir       DirectoryReader
	registry  *gateway.Registry
	allocator *Allocator
	audit     AuditPort
	cfg       ServiceConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds the payments service.
func NewService(repo Repository, charges ChargeReader, dir DirectoryReader, registry *gateway.Registry, allocator *Allocator, audit AuditPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		charges:   charges,
		dir:       dir,
		registry:  registry,
		allocator: allocator,
		audit:     audit,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) callbackURLs(provider gateway.ProviderType) gateway.CallbackURLs {
	base := s.cfg.PublicBaseURL
	return gateway.CallbackURLs{
		Success: base + "/payments/return/success",
		Failure: base + "/payments/return/failure",
		Webhook: fmt.Sprintf("%s/payments/webhook/%s", base, provider),
	}
}

// resolveGateway maps a building to its configured gateway.
func (s *Service) resolveGateway(ctx context.Context, buildingID int64) (gateway.Gateway, *directory.Building, error) {
	building, err := s.dir.GetBuilding(ctx, buildingID)
	if err != nil {
		return nil, nil, err
	}
	if building.PaymentProvider == "" {
		return nil, nil, fmt.Errorf("building %d has no payment provider: %w", buildingID, shared.ErrProviderUnconfigured)
	}
	providerType, err := gateway.ParseProviderType(building.PaymentProvider)
	if err != nil {
		return nil, nil, fmt.Errorf("building %d provider %q: %w", buildingID, building.PaymentProvider, shared.ErrProviderUnconfigured)
	}
	gw, err := s.registry.Resolve(providerType)
	if err != nil {
		return nil, nil, err
	}
	return gw, building, nil
}

func (s *Service) payerFor(ctx context.Context, unitID, userID int64) gateway.Payer {
	payer := gateway.Payer{UserID: userID}
	if unit, err := s.dir.GetUnit(ctx, unitID); err == nil {
		payer.Email = unit.TenantEmail
		payer.Phone = unit.TenantPhone
		payer.Name = unit.Label
	}
	return payer
}

// tokenChargeKey derives the at-most-once key for a token charge from the
// target charge and the calendar day.
func tokenChargeKey(chargeID int64, now time.Time) string {
	return fmt.Sprintf("charge-%d-%s", chargeID, now.UTC().Format("2006-01-02"))
}

func openCharge(charge *billing.Charge) error {
	if charge.Status == billing.ChargeStatusCancelled {
		return fmt.Errorf("charge %d is cancelled: %w", charge.ID, shared.ErrValidation)
	}
	if charge.Remaining() <= 0 {
		return fmt.Errorf("charge %d is already paid: %w", charge.ID, shared.ErrValidation)
	}
	return nil
}

// SessionResult is returned to the client starting a hosted payment.
type SessionResult struct {
	PaymentID  int64  `json:"paymentId"`
	PaymentURL string `json:"paymentUrl,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	Completed  bool   `json:"completed,omitempty"`
}

// CreateSession opens a hosted payment page for a charge's remaining
// balance. A Pending payment row is created first so a timed-out provider
// call leaves something for webhook reconciliation. The local provider
// settles synchronously.
func (s *Service) CreateSession(ctx context.Context, chargeID, payerID int64) (*SessionResult, error) {
	charge, err := s.charges.GetCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if err := openCharge(charge); err != nil {
		return nil, err
	}
	gw, building, err := s.resolveGateway(ctx, charge.BuildingID)
	if err != nil {
		return nil, err
	}

	amount := charge.Remaining()
	session, err := gw.CreatePaymentSession(ctx, gateway.SessionInput{
		BuildingID:     building.ID,
		ChargeID:       charge.ID,
		Payer:          s.payerFor(ctx, charge.UnitID, payerID),
		Amount:         amount,
		Currency:       building.Currency,
		Description:    fmt.Sprintf("HOA fee %s", charge.Period),
		URLs:           s.callbackURLs(gw.Type()),
		IdempotencyKey: tokenChargeKey(charge.ID, s.now()),
	})
	if err != nil {
		return nil, err
	}

	paymentID, err := s.repo.CreatePayment(ctx, Payment{
		BuildingID:        building.ID,
		UnitID:            charge.UnitID,
		PayerID:           payerID,
		ChargeID:          charge.ID,
		Amount:            amount,
		Currency:          building.Currency,
		Status:            PaymentStatusPending,
		Provider:          gw.Type(),
		ProviderReference: session.ProviderReference,
	})
	if err != nil {
		return nil, err
	}

	result := &SessionResult{
		PaymentID:  paymentID,
		PaymentURL: session.RedirectURL,
		SessionID:  session.SessionID,
	}
	if gw.Type() == gateway.ProviderLocal {
		// no webhook round trip in dev: settle in place
		if err := s.repo.SetPaymentStatus(ctx, paymentID, PaymentStatusSucceeded); err != nil {
			return nil, err
		}
		if err := s.allocator.Allocate(ctx, paymentID, charge.ID, amount); err != nil {
			return nil, err
		}
		result.Completed = true
	}
	return result, nil
}

// TokenizeResult is returned to the client saving a payment method.
type TokenizeResult struct {
	MethodID    int64  `json:"methodId,omitempty"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

// Tokenize saves a payment method for a user. Providers either return the
// token directly (saved immediately) or hand back a redirect the client
// must complete; the eventual webhook corroborates the token.
func (s *Service) Tokenize(ctx context.Context, userID, buildingID, unitID int64, makeDefault bool) (*TokenizeResult, error) {
	gw, _, err := s.resolveGateway(ctx, buildingID)
	if err != nil {
		return nil, err
	}
	res, err := gw.TokenizePaymentMethod(ctx, gateway.TokenizeInput{
		BuildingID: buildingID,
		Payer:      s.payerFor(ctx, unitID, userID),
		URLs:       s.callbackURLs(gw.Type()),
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("tokenization rejected: %w", shared.ErrProvider)
	}
	if res.RedirectURL != "" {
		return &TokenizeResult{RedirectURL: res.RedirectURL}, nil
	}
	methodID, err := s.repo.SaveMethod(ctx, PaymentMethod{
		UserID:      userID,
		Provider:    gw.Type(),
		Token:       res.Token,
		Last4:       res.Last4,
		Brand:       res.Brand,
		ExpiryMonth: res.ExpiryMonth,
		ExpiryYear:  res.ExpiryYear,
		IsDefault:   makeDefault,
	})
	if err != nil {
		return nil, err
	}
	return &TokenizeResult{MethodID: methodID}, nil
}

// PayResult is the synchronous outcome of a token charge.
type PayResult struct {
	PaymentID     int64         `json:"paymentId"`
	Status        PaymentStatus `json:"status"`
	FailureReason string        `json:"failureReason,omitempty"`
}

// PayWithToken charges a saved method against a charge. A failed provider
// answer produces a Failed payment row and zero allocations; a successful
// one allocates in the same call.
func (s *Service) PayWithToken(ctx context.Context, chargeID, payerID int64, methodID *int64, requested float64) (*PayResult, error) {
	charge, err := s.charges.GetCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if err := openCharge(charge); err != nil {
		return nil, err
	}
	amount := charge.Remaining()
	if requested > 0 {
		if requested > charge.Remaining() {
			return nil, fmt.Errorf("charge %d: requested %.2f exceeds remaining %.2f: %w",
				chargeID, requested, charge.Remaining(), ErrOverpayment)
		}
		amount = requested
	}

	var method *PaymentMethod
	if methodID != nil {
		method, err = s.repo.GetMethod(ctx, *methodID)
	} else {
		method, err = s.repo.DefaultMethod(ctx, payerID)
	}
	if err != nil {
		return nil, err
	}
	if method.UserID != payerID {
		return nil, fmt.Errorf("method %d does not belong to payer %d: %w", method.ID, payerID, shared.ErrUnauthorized)
	}

	gw, building, err := s.resolveGateway(ctx, charge.BuildingID)
	if err != nil {
		return nil, err
	}
	if gw.Type() != method.Provider {
		return nil, fmt.Errorf("method provider %s does not match building provider %s: %w",
			method.Provider, gw.Type(), shared.ErrValidation)
	}

	paymentID, err := s.repo.CreatePayment(ctx, Payment{
		BuildingID: building.ID,
		UnitID:     charge.UnitID,
		PayerID:    payerID,
		ChargeID:   charge.ID,
		Amount:     amount,
		Currency:   building.Currency,
		Status:     PaymentStatusPending,
		Provider:   gw.Type(),
		MethodID:   &method.ID,
	})
	if err != nil {
		return nil, err
	}

	res, err := gw.ChargeToken(ctx, gateway.ChargeInput{
		BuildingID:     building.ID,
		Token:          method.Token,
		Amount:         amount,
		Currency:       building.Currency,
		Description:    fmt.Sprintf("HOA fee %s", charge.Period),
		IdempotencyKey: tokenChargeKey(charge.ID, s.now()),
	})
	if err != nil {
		if setErr := s.repo.SetPaymentStatus(ctx, paymentID, PaymentStatusFailed); setErr != nil {
			s.logger.Error("mark payment failed", slog.Int64("payment_id", paymentID), slog.Any("error", setErr))
		}
		return nil, err
	}
	if !res.Success {
		if err := s.repo.SetPaymentOutcome(ctx, paymentID, PaymentStatusFailed, res.ProviderReference); err != nil {
			return nil, err
		}
		return &PayResult{PaymentID: paymentID, Status: PaymentStatusFailed, FailureReason: res.FailureReason}, nil
	}

	if err := s.repo.SetPaymentOutcome(ctx, paymentID, PaymentStatusSucceeded, res.ProviderReference); err != nil {
		return nil, err
	}
	if err := s.allocator.Allocate(ctx, paymentID, charge.ID, amount); err != nil {
		return nil, err
	}
	return &PayResult{PaymentID: paymentID, Status: PaymentStatusSucceeded}, nil
}

// RefundResult reports a refund.
type RefundResult struct {
	PaymentID       int64  `json:"paymentId"`
	RefundReference string `json:"refundReference,omitempty"`
}

// Refund refunds a succeeded payment in full at the provider, then reverses
// its allocations and ledger effect locally.
func (s *Service) Refund(ctx context.Context, paymentID, actorID int64) (*RefundResult, error) {
	payment, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != PaymentStatusSucceeded {
		return nil, fmt.Errorf("payment %d is %s, not refundable: %w", paymentID, payment.Status, shared.ErrValidation)
	}
	gw, err := s.registry.Resolve(payment.Provider)
	if err != nil {
		return nil, err
	}
	res, err := gw.Refund(ctx, payment.ProviderReference, payment.Amount)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("refund of payment %d rejected: %w", paymentID, shared.ErrProvider)
	}
	if err := s.allocator.ReverseForRefund(ctx, payment); err != nil {
		return nil, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "payment.refund",
			Entity:   "payment",
			EntityID: fmt.Sprintf("%d", paymentID),
			Meta:     map[string]any{"amount": payment.Amount},
			At:       s.now(),
		})
	}
	return &RefundResult{PaymentID: paymentID, RefundReference: res.RefundReference}, nil
}

// ManualPaymentInput describes an offline payment recorded by a manager.
type ManualPaymentInput struct {
	ChargeID int64
	PayerID  int64
	Amount   float64
	ActorID  int64
}

// CreateManualPayment records a payment received outside any gateway (cash,
// bank transfer) and allocates it immediately.
func (s *Service) CreateManualPayment(ctx context.Context, in ManualPaymentInput) (*Payment, error) {
	if in.Amount <= 0 {
		return nil, fmt.Errorf("manual payment amount must be positive: %w", shared.ErrValidation)
	}
	charge, err := s.charges.GetCharge(ctx, in.ChargeID)
	if err != nil {
		return nil, err
	}
	if err := openCharge(charge); err != nil {
		return nil, err
	}
	if in.Amount > charge.Remaining() {
		return nil, fmt.Errorf("charge %d: manual payment %.2f exceeds remaining %.2f: %w",
			in.ChargeID, in.Amount, charge.Remaining(), ErrOverpayment)
	}
	building, err := s.dir.GetBuilding(ctx, charge.BuildingID)
	if err != nil {
		return nil, err
	}

	payment := Payment{
		BuildingID:        building.ID,
		UnitID:            charge.UnitID,
		PayerID:           in.PayerID,
		ChargeID:          charge.ID,
		Amount:            in.Amount,
		Currency:          building.Currency,
		Status:            PaymentStatusSucceeded,
		Provider:          gateway.ProviderLocal,
		ProviderReference: "manual-" + uuid.NewString(),
		IsManual:          true,
	}
	payment.ID, err = s.repo.CreatePayment(ctx, payment)
	if err != nil {
		return nil, err
	}
	if err := s.allocator.Allocate(ctx, payment.ID, charge.ID, in.Amount); err != nil {
		return nil, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "payment.manual_create",
			Entity:   "payment",
			EntityID: fmt.Sprintf("%d", payment.ID),
			Meta:     map[string]any{"amount": in.Amount, "charge_id": in.ChargeID},
			At:       s.now(),
		})
	}
	return &payment, nil
}

// CancelManualPayment voids a manual payment and audits the action.
func (s *Service) CancelManualPayment(ctx context.Context, paymentID, actorID int64, reason string) (*Payment, error) {
	payment, err := s.allocator.CancelManualPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "payment.manual_cancel",
			Entity:   "payment",
			EntityID: fmt.Sprintf("%d", paymentID),
			Meta:     map[string]any{"reason": reason},
			At:       s.now(),
		})
	}
	return payment, nil
}

// GetPayment retrieves a payment.
func (s *Service) GetPayment(ctx context.Context, id int64) (*Payment, error) {
	return s.repo.GetPayment(ctx, id)
}

// ListMethods returns a user's saved payment methods.
func (s *Service) ListMethods(ctx context.Context, userID int64) ([]PaymentMethod, error) {
	return s.repo.ListMethods(ctx, userID)
}

// SetDefaultMethod marks one of the user's methods as default.
func (s *Service) SetDefaultMethod(ctx context.Context, userID, methodID int64) error {
	return s.repo.SetDefaultMethod(ctx, userID, methodID)
}

// ConfirmToken implements TokenSink: a tokenization webhook fills in card
// metadata for methods saved through a redirect flow.
func (s *Service) ConfirmToken(ctx context.Context, provider gateway.ProviderType, event *gateway.Event) error {
	if event.Token == "" {
		return nil
	}
	s.logger.Info("token corroborated by webhook",
		slog.String("provider", string(provider)),
		slog.String("last4", event.CardLast4))
	return nil
}

var _ TokenSink = (*Service)(nil)
