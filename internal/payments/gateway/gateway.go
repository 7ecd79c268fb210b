// Package gateway abstracts payment providers behind one contract: hosted
// payment sessions, card tokenization, token charges, refunds, and webhook
// parsing/verification. Concrete providers live alongside in this package
// and are resolved per building through the Registry.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lattice-pm/lattice/internal/shared"
)

// ProviderType identifies a concrete gateway implementation.
type ProviderType string

const (
	// ProviderLocal is the dev/fake provider: direct token return,
	// synchronous success, trusted webhooks.
	ProviderLocal   ProviderType = "local"
	ProviderPayPlus ProviderType = "payplus"
	ProviderCardcom ProviderType = "cardcom"
)

// ParseProviderType validates the route parameter form of a provider type.
func ParseProviderType(s string) (ProviderType, error) {
	switch ProviderType(s) {
	case ProviderLocal, ProviderPayPlus, ProviderCardcom:
		return ProviderType(s), nil
	}
	return "", fmt.Errorf("unknown payment provider %q: %w", s, shared.ErrValidation)
}

// Payer identifies who is paying.
type Payer struct {
	UserID int64
	Name   string
	Email  string
	Phone  string
}

// CallbackURLs are where the provider sends the payer and its server calls.
type CallbackURLs struct {
	Success string
	Failure string
	Webhook string
}

// SessionInput describes a hosted payment page request.
type SessionInput struct {
	BuildingID     int64
	ChargeID       int64
	Payer          Payer
	Amount         float64
	Currency       string
	Description    string
	URLs           CallbackURLs
	IdempotencyKey string
}

// Session is the provider's answer to a session request.
type Session struct {
	RedirectURL       string
	SessionID         string
	ProviderReference string
}

// TokenizeInput describes a card tokenization request.
type TokenizeInput struct {
	BuildingID int64
	Payer      Payer
	URLs       CallbackURLs
}

// TokenizeResult carries either a token directly or a redirect the caller
// must send the payer through; exactly one of Token/RedirectURL is set on
// success.
type TokenizeResult struct {
	Success            bool
	Token              string
	RedirectURL        string
	Last4              string
	Brand              string
	ExpiryMonth        int
	ExpiryYear         int
	ProviderCustomerID string
}

// ChargeInput describes a synchronous charge against a stored token.
type ChargeInput struct {
	BuildingID     int64
	Token          string
	Amount         float64
	Currency       string
	Description    string
	IdempotencyKey string
}

// ChargeResult is the synchronous outcome of a token charge.
type ChargeResult struct {
	Success           bool
	ProviderReference string
	FailureReason     string
}

// RefundResult reports a refund attempt.
type RefundResult struct {
	Success         bool
	RefundReference string
}

// EventStatus is the terminal payment status a webhook may carry.
type EventStatus string

const (
	EventStatusNone      EventStatus = ""
	EventStatusSucceeded EventStatus = "SUCCEEDED"
	EventStatusFailed    EventStatus = "FAILED"
)

// Event is a parsed provider webhook. Parsing never mutates state.
type Event struct {
	EventID           string
	ProviderReference string
	Status            EventStatus
	Amount            float64
	// SubscriptionRef identifies a recurring-billing cycle event when set.
	SubscriptionRef string
	// Tokenization corroboration fields; informational only.
	Token       string
	CardLast4   string
	CardBrand   string
	ExpiryMonth int
	ExpiryYear  int
}

// Gateway is the uniform provider contract. VerifyWebhookSignature fails
// closed: any provider other than local that cannot verify returns false.
type Gateway interface {
	Type() ProviderType
	CreatePaymentSession(ctx context.Context, in SessionInput) (*Session, error)
	TokenizePaymentMethod(ctx context.Context, in TokenizeInput) (*TokenizeResult, error)
	ChargeToken(ctx context.Context, in ChargeInput) (*ChargeResult, error)
	Refund(ctx context.Context, providerReference string, amount float64) (*RefundResult, error)
	ParseWebhookPayload(body []byte, header http.Header) (*Event, error)
	VerifyWebhookSignature(event *Event, body []byte, header http.Header) bool
}

// RecurringBiller is the optional native recurring-billing capability.
// Callers discover it by type assertion on a Gateway.
type RecurringBiller interface {
	CreateRecurringPlan(ctx context.Context, name string, amount float64, currency string) (planID string, err error)
	CreateSubscription(ctx context.Context, planID string, payer Payer) (subscriptionID, approvalURL string, err error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// Registry resolves provider types to configured gateways.
type Registry struct {
	gateways map[ProviderType]Gateway
}

// NewRegistry builds a registry over the configured gateways.
func NewRegistry(gws ...Gateway) *Registry {
	m := make(map[ProviderType]Gateway, len(gws))
	for _, g := range gws {
		m[g.Type()] = g
	}
	return &Registry{gateways: m}
}

// Resolve returns the gateway for a provider type.
func (r *Registry) Resolve(t ProviderType) (Gateway, error) {
	g, ok := r.gateways[t]
	if !ok {
		return nil, fmt.Errorf("provider %s: %w", t, shared.ErrProviderUnconfigured)
	}
	return g, nil
}

func defaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
