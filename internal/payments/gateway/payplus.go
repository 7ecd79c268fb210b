package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lattice-pm/lattice/internal/shared"
)

// PayPlusConfig holds credentials for one PayPlus terminal.
type PayPlusConfig struct {
	BaseURL   string
	APIKey    string
	SecretKey string
	PageUID   string
	Timeout   time.Duration
}

// PayPlus is a hosted-payment-page provider. Sessions return a redirect URL,
// confirmations arrive via webhook signed with an HMAC-SHA256 `hash` header,
// and recurring billing is native (plan + subscription).
type PayPlus struct {
	cfg    PayPlusConfig
	client *http.Client
}

// NewPayPlus builds the PayPlus gateway.
func NewPayPlus(cfg PayPlusConfig) *PayPlus {
	return &PayPlus{cfg: cfg, client: defaultHTTPClient(cfg.Timeout)}
}

func (p *PayPlus) Type() ProviderType { return ProviderPayPlus }

func (p *PayPlus) configured() bool {
	return p.cfg.BaseURL != "" && p.cfg.APIKey != "" && p.cfg.SecretKey != ""
}

func (p *PayPlus) post(ctx context.Context, path string, payload, out any) error {
	if !p.configured() {
		return fmt.Errorf("payplus: %w", shared.ErrProviderUnconfigured)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("payplus: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("payplus: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	auth, _ := json.Marshal(map[string]string{"api_key": p.cfg.APIKey, "secret_key": p.cfg.SecretKey})
	req.Header.Set("Authorization", string(auth))

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("payplus: %s: %w: %w", path, shared.ErrProvider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("payplus: %s returned %d: %w", path, resp.StatusCode, shared.ErrProvider)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("payplus: decode %s response: %w", path, err)
		}
	}
	return nil
}

type payPlusLinkResponse struct {
	Results struct {
		Status string `json:"status"`
	} `json:"results"`
	Data struct {
		PageRequestUID string `json:"page_request_uid"`
		PaymentLink    string `json:"payment_page_link"`
	} `json:"data"`
}

func (p *PayPlus) CreatePaymentSession(ctx context.Context, in SessionInput) (*Session, error) {
	payload := map[string]any{
		"payment_page_uid": p.cfg.PageUID,
		"amount":           in.Amount,
		"currency_code":    in.Currency,
		"more_info":        fmt.Sprintf("charge:%d", in.ChargeID),
		"unique_request":   in.IdempotencyKey,
		"refURL_success":   in.URLs.Success,
		"refURL_failure":   in.URLs.Failure,
		"refURL_callback":  in.URLs.Webhook,
		"customer": map[string]string{
			"customer_name": in.Payer.Name,
			"email":         in.Payer.Email,
			"phone":         in.Payer.Phone,
		},
	}
	var out payPlusLinkResponse
	if err := p.post(ctx, "/PaymentPages/generateLink", payload, &out); err != nil {
		return nil, err
	}
	if out.Results.Status != "success" || out.Data.PaymentLink == "" {
		return nil, fmt.Errorf("payplus: session rejected (status %q): %w", out.Results.Status, shared.ErrProvider)
	}
	return &Session{
		RedirectURL:       out.Data.PaymentLink,
		SessionID:         out.Data.PageRequestUID,
		ProviderReference: out.Data.PageRequestUID,
	}, nil
}

// TokenizePaymentMethod opens a zero-amount hosted page in token-only mode;
// the token arrives on the callback, so the caller gets a redirect.
func (p *PayPlus) TokenizePaymentMethod(ctx context.Context, in TokenizeInput) (*TokenizeResult, error) {
	payload := map[string]any{
		"payment_page_uid": p.cfg.PageUID,
		"charge_method":    0,
		"amount":           1,
		"refURL_success":   in.URLs.Success,
		"refURL_failure":   in.URLs.Failure,
		"refURL_callback":  in.URLs.Webhook,
		"customer": map[string]string{
			"customer_name": in.Payer.Name,
			"email":         in.Payer.Email,
		},
	}
	var out payPlusLinkResponse
	if err := p.post(ctx, "/PaymentPages/generateLink", payload, &out); err != nil {
		return nil, err
	}
	if out.Results.Status != "success" || out.Data.PaymentLink == "" {
		return nil, fmt.Errorf("payplus: tokenization rejected: %w", shared.ErrProvider)
	}
	return &TokenizeResult{Success: true, RedirectURL: out.Data.PaymentLink}, nil
}

type payPlusChargeResponse struct {
	Results struct {
		Status      string `json:"status"`
		Description string `json:"description"`
	} `json:"results"`
	Data struct {
		TransactionUID string `json:"transaction_uid"`
	} `json:"data"`
}

func (p *PayPlus) ChargeToken(ctx context.Context, in ChargeInput) (*ChargeResult, error) {
	payload := map[string]any{
		"terminal_uid":   p.cfg.PageUID,
		"token":          in.Token,
		"amount":         in.Amount,
		"currency_code":  in.Currency,
		"more_info":      in.Description,
		"unique_request": in.IdempotencyKey,
	}
	var out payPlusChargeResponse
	if err := p.post(ctx, "/Transactions/ChargeByToken", payload, &out); err != nil {
		return nil, err
	}
	if out.Results.Status != "success" {
		return &ChargeResult{Success: false, FailureReason: out.Results.Description}, nil
	}
	return &ChargeResult{Success: true, ProviderReference: out.Data.TransactionUID}, nil
}

func (p *PayPlus) Refund(ctx context.Context, providerReference string, amount float64) (*RefundResult, error) {
	payload := map[string]any{
		"transaction_uid": providerReference,
		"amount":          amount,
	}
	var out payPlusChargeResponse
	if err := p.post(ctx, "/Transactions/RefundByTransactionUID", payload, &out); err != nil {
		return nil, err
	}
	if out.Results.Status != "success" {
		return &RefundResult{Success: false}, nil
	}
	return &RefundResult{Success: true, RefundReference: out.Data.TransactionUID}, nil
}

type payPlusWebhook struct {
	Transaction struct {
		UID            string  `json:"uid"`
		PageRequestUID string  `json:"page_request_uid"`
		StatusCode     string  `json:"status_code"`
		Amount         float64 `json:"amount"`
		RecurringUID   string  `json:"recurring_uid"`
	} `json:"transaction"`
	Data struct {
		CardToken  string `json:"token"`
		FourDigits string `json:"four_digits"`
		Brand      string `json:"brand_name"`
	} `json:"data"`
}

func (p *PayPlus) ParseWebhookPayload(body []byte, _ http.Header) (*Event, error) {
	var raw payPlusWebhook
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("payplus webhook: %w", err)
	}
	if raw.Transaction.UID == "" {
		return nil, fmt.Errorf("payplus webhook: missing transaction uid")
	}
	ev := &Event{
		EventID:           raw.Transaction.UID,
		ProviderReference: raw.Transaction.PageRequestUID,
		Amount:            raw.Transaction.Amount,
		SubscriptionRef:   raw.Transaction.RecurringUID,
		Token:             raw.Data.CardToken,
		CardLast4:         raw.Data.FourDigits,
		CardBrand:         raw.Data.Brand,
	}
	if ev.ProviderReference == "" {
		ev.ProviderReference = raw.Transaction.UID
	}
	// status_code "000" is approved; anything else present is a decline
	switch raw.Transaction.StatusCode {
	case "000":
		ev.Status = EventStatusSucceeded
	case "":
		ev.Status = EventStatusNone
	default:
		ev.Status = EventStatusFailed
	}
	return ev, nil
}

// VerifyWebhookSignature checks the `hash` header: base64 HMAC-SHA256 of the
// raw body under the terminal secret. Missing header or secret fails closed.
func (p *PayPlus) VerifyWebhookSignature(_ *Event, body []byte, header http.Header) bool {
	provided := header.Get("hash")
	if provided == "" || p.cfg.SecretKey == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(p.cfg.SecretKey))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

type payPlusRecurringResponse struct {
	Results struct {
		Status string `json:"status"`
	} `json:"results"`
	Data struct {
		UID         string `json:"uid"`
		ApprovalURL string `json:"approval_url"`
	} `json:"data"`
}

// CreateRecurringPlan registers a named billing plan and returns its uid.
func (p *PayPlus) CreateRecurringPlan(ctx context.Context, name string, amount float64, currency string) (string, error) {
	payload := map[string]any{
		"name":            name,
		"amount":          amount,
		"currency_code":   currency,
		"recurring_type":  "monthly",
		"number_of_terms": 0,
	}
	var out payPlusRecurringResponse
	if err := p.post(ctx, "/RecurringPayments/AddPlan", payload, &out); err != nil {
		return "", err
	}
	if out.Results.Status != "success" || out.Data.UID == "" {
		return "", fmt.Errorf("payplus: plan creation rejected: %w", shared.ErrProvider)
	}
	return out.Data.UID, nil
}

// CreateSubscription attaches a payer to a plan; the returned approval URL,
// when present, must be completed by the payer before billing starts.
func (p *PayPlus) CreateSubscription(ctx context.Context, planID string, payer Payer) (string, string, error) {
	payload := map[string]any{
		"plan_uid": planID,
		"customer": map[string]string{
			"customer_name": payer.Name,
			"email":         payer.Email,
			"phone":         payer.Phone,
		},
	}
	var out payPlusRecurringResponse
	if err := p.post(ctx, "/RecurringPayments/AddSubscription", payload, &out); err != nil {
		return "", "", err
	}
	if out.Results.Status != "success" || out.Data.UID == "" {
		return "", "", fmt.Errorf("payplus: subscription creation rejected: %w", shared.ErrProvider)
	}
	return out.Data.UID, out.Data.ApprovalURL, nil
}

// CancelSubscription stops remote billing for a subscription.
func (p *PayPlus) CancelSubscription(ctx context.Context, subscriptionID string) error {
	payload := map[string]any{"subscription_uid": subscriptionID}
	var out payPlusRecurringResponse
	if err := p.post(ctx, "/RecurringPayments/CancelSubscription", payload, &out); err != nil {
		return err
	}
	if out.Results.Status != "success" {
		return fmt.Errorf("payplus: subscription cancel rejected: %w", shared.ErrProvider)
	}
	return nil
}
