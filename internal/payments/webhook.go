package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/lattice-pm/lattice/internal/observability"
	"github.com/lattice-pm/lattice/internal/payments/gateway"
	"github.com/lattice-pm/lattice/internal/shared"
)

// WebhookOutcome is what the endpoint reports back to the provider.
type WebhookOutcome struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// TokenSink persists tokenization corroboration from webhooks. The token's
// source of truth is the redirect/direct flow; this only fills card metadata
// the redirect may not have carried.
type TokenSink interface {
	ConfirmToken(ctx context.Context, provider gateway.ProviderType, event *gateway.Event) error
}

// CycleRecorder counts recurring-billing cycle outcomes against the
// subscription the provider reports them for.
type CycleRecorder interface {
	RecordCycle(ctx context.Context, subscriptionRef string, ok bool) error
}

// WebhookProcessor turns at-least-once provider callbacks into exactly-once
// payment finalization.
type WebhookProcessor struct {
	registry  *gateway.Registry
	repo      Repository
	allocator *Allocator
	tokens    TokenSink
	cycles    CycleRecorder
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewWebhookProcessor builds the processor. tokens, cycles and metrics may
// be nil.
func NewWebhookProcessor(registry *gateway.Registry, repo Repository, allocator *Allocator, tokens TokenSink, cycles CycleRecorder, metrics *observability.Metrics, logger *slog.Logger) *WebhookProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookProcessor{
		registry:  registry,
		repo:      repo,
		allocator: allocator,
		tokens:    tokens,
		cycles:    cycles,
		metrics:   metrics,
		logger:    logger,
	}
}

func (p *WebhookProcessor) observe(provider gateway.ProviderType, result string) {
	if p.metrics != nil {
		p.metrics.ObserveWebhook(string(provider), result)
	}
}

// Process runs the webhook state machine. Errors wrap the shared taxonomy:
// unparsable input or unknown providers map to validation (400), failed
// verification to signature-invalid (401). The "Processed" log row is
// written last so a crash before it leaves the event safely replayable.
func (p *WebhookProcessor) Process(ctx context.Context, providerParam string, body []byte, header http.Header) (WebhookOutcome, error) {
	providerType, err := gateway.ParseProviderType(providerParam)
	if err != nil {
		return WebhookOutcome{}, err
	}
	gw, err := p.registry.Resolve(providerType)
	if err != nil {
		return WebhookOutcome{}, err
	}

	sum := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(sum[:])

	event, err := gw.ParseWebhookPayload(body, header)
	if err != nil {
		p.observe(providerType, "unparsable")
		return WebhookOutcome{}, fmt.Errorf("unparsable webhook body: %w: %w", err, shared.ErrValidation)
	}

	seen, err := p.repo.HasWebhookEvent(ctx, providerType, event.EventID)
	if err != nil {
		return WebhookOutcome{}, err
	}
	if seen {
		p.observe(providerType, "duplicate")
		return WebhookOutcome{Received: true, Duplicate: true}, nil
	}

	if !gw.VerifyWebhookSignature(event, body, header) {
		// the persisted rejection dedups repeated invalid replays of this
		// event id without blocking a correctly signed different event
		if err := p.repo.InsertWebhookEvent(ctx, WebhookRecord{
			Provider:    providerType,
			EventID:     event.EventID,
			PayloadHash: payloadHash,
			Result:      WebhookResultSignatureInvalid,
		}); err != nil && !errors.Is(err, shared.ErrDuplicate) {
			return WebhookOutcome{}, err
		}
		p.observe(providerType, "signature_invalid")
		p.logger.Warn("webhook signature rejected",
			slog.String("provider", string(providerType)),
			slog.String("event_id", event.EventID))
		return WebhookOutcome{}, fmt.Errorf("event %s: %w", event.EventID, shared.ErrSignatureInvalid)
	}

	if event.ProviderReference != "" && event.Status != gateway.EventStatusNone {
		if err := p.finalizePayment(ctx, providerType, event); err != nil {
			return WebhookOutcome{}, err
		}
	}

	if event.Token != "" && p.tokens != nil {
		if err := p.tokens.ConfirmToken(ctx, providerType, event); err != nil {
			p.logger.Error("token confirmation", slog.String("event_id", event.EventID), slog.Any("error", err))
		}
	}

	if event.SubscriptionRef != "" && event.Status != gateway.EventStatusNone && p.cycles != nil {
		ok := event.Status == gateway.EventStatusSucceeded
		if err := p.cycles.RecordCycle(ctx, event.SubscriptionRef, ok); err != nil {
			p.logger.Error("record recurring cycle",
				slog.String("subscription", event.SubscriptionRef), slog.Any("error", err))
		}
	}

	if err := p.repo.InsertWebhookEvent(ctx, WebhookRecord{
		Provider:    providerType,
		EventID:     event.EventID,
		PayloadHash: payloadHash,
		Result:      WebhookResultProcessed,
	}); err != nil {
		if errors.Is(err, shared.ErrDuplicate) {
			// concurrent delivery beat us to the commit point
			p.observe(providerType, "duplicate")
			return WebhookOutcome{Received: true, Duplicate: true}, nil
		}
		return WebhookOutcome{}, err
	}

	p.observe(providerType, "processed")
	return WebhookOutcome{Received: true}, nil
}

// finalizePayment acts only on payments still Pending; terminal payments
// are never re-finalized, with one exception: a SUCCEEDED payment that has
// no allocation (a crash landed the status without its allocation tx) is
// repaired by redelivery of the success event.
func (p *WebhookProcessor) finalizePayment(ctx context.Context, providerType gateway.ProviderType, event *gateway.Event) error {
	payment, err := p.repo.GetPaymentByProviderRef(ctx, providerType, event.ProviderReference)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			p.logger.Warn("webhook references unknown payment",
				slog.String("provider", string(providerType)),
				slog.String("reference", event.ProviderReference))
			return nil
		}
		return err
	}
	if payment.Status.Terminal() {
		if payment.Status == PaymentStatusSucceeded && event.Status == gateway.EventStatusSucceeded {
			return p.settle(ctx, payment, event)
		}
		return nil
	}

	switch event.Status {
	case gateway.EventStatusFailed:
		return p.repo.SetPaymentStatus(ctx, payment.ID, PaymentStatusFailed)
	case gateway.EventStatusSucceeded:
		return p.settle(ctx, payment, event)
	}
	return nil
}

// settle brings a payment the provider reports as succeeded to its settled
// state. The allocation tx also records the SUCCEEDED status, so on the
// happy path both land atomically; when the allocation already exists (the
// local provider's synchronous path, or a repair pass) only the status is
// brought up to date.
func (p *WebhookProcessor) settle(ctx context.Context, payment *Payment, event *gateway.Event) error {
	allocated, err := p.repo.AllocationExists(ctx, payment.ID)
	if err != nil {
		return err
	}
	if !allocated && payment.ChargeID != 0 {
		amount := payment.Amount
		if event.Amount > 0 {
			amount = event.Amount
		}
		return p.allocator.Allocate(ctx, payment.ID, payment.ChargeID, amount)
	}
	if !allocated {
		p.logger.Warn("succeeded payment has no target charge", slog.Int64("payment_id", payment.ID))
	}
	if payment.Status != PaymentStatusSucceeded {
		return p.repo.SetPaymentStatus(ctx, payment.ID, PaymentStatusSucceeded)
	}
	return nil
}
