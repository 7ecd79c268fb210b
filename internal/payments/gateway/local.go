package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// Local is the dev/fake provider. Sessions succeed synchronously,
// tokenization returns a token directly, and webhooks are trusted without
// a signature. It is the only provider allowed to skip verification.
type Local struct{}

// NewLocal returns the local provider.
func NewLocal() *Local { return &Local{} }

func (l *Local) Type() ProviderType { return ProviderLocal }

func (l *Local) CreatePaymentSession(_ context.Context, in SessionInput) (*Session, error) {
	ref := "local-" + uuid.NewString()
	return &Session{
		SessionID:         ref,
		ProviderReference: ref,
		RedirectURL:       fmt.Sprintf("%s?ref=%s", in.URLs.Success, ref),
	}, nil
}

func (l *Local) TokenizePaymentMethod(_ context.Context, in TokenizeInput) (*TokenizeResult, error) {
	return &TokenizeResult{
		Success:            true,
		Token:              "local-tok-" + uuid.NewString(),
		Last4:              "0000",
		Brand:              "LOCAL",
		ExpiryMonth:        12,
		ExpiryYear:         2099,
		ProviderCustomerID: fmt.Sprintf("local-cust-%d", in.Payer.UserID),
	}, nil
}

func (l *Local) ChargeToken(_ context.Context, in ChargeInput) (*ChargeResult, error) {
	if in.Token == "" {
		return &ChargeResult{Success: false, FailureReason: "missing token"}, nil
	}
	return &ChargeResult{Success: true, ProviderReference: "local-" + uuid.NewString()}, nil
}

func (l *Local) Refund(_ context.Context, providerReference string, _ float64) (*RefundResult, error) {
	return &RefundResult{Success: true, RefundReference: providerReference + "-refund"}, nil
}

type localEvent struct {
	EventID   string  `json:"eventId"`
	Reference string  `json:"reference"`
	Status    string  `json:"status"`
	Amount    float64 `json:"amount"`
	Token     string  `json:"token"`
	Last4     string  `json:"last4"`
	Brand     string  `json:"brand"`
}

func (l *Local) ParseWebhookPayload(body []byte, _ http.Header) (*Event, error) {
	var raw localEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("local webhook: %w", err)
	}
	if raw.EventID == "" {
		return nil, fmt.Errorf("local webhook: missing eventId")
	}
	ev := &Event{
		EventID:           raw.EventID,
		ProviderReference: raw.Reference,
		Amount:            raw.Amount,
		Token:             raw.Token,
		CardLast4:         raw.Last4,
		CardBrand:         raw.Brand,
	}
	switch raw.Status {
	case "succeeded":
		ev.Status = EventStatusSucceeded
	case "failed":
		ev.Status = EventStatusFailed
	}
	return ev, nil
}

// VerifyWebhookSignature always passes; local callbacks originate in-process
// or from trusted dev tooling.
func (l *Local) VerifyWebhookSignature(*Event, []byte, http.Header) bool { return true }
