package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lattice-pm/lattice/internal/shared"
)

// CardcomConfig holds credentials for one Cardcom terminal.
type CardcomConfig struct {
	BaseURL        string
	TerminalNumber string
	APIName        string
	WebhookSecret  string
	Timeout        time.Duration
}

// Cardcom is a terminal provider: hosted low-profile pages for sessions and
// tokenization, synchronous token charges, and webhooks signed with a hex
// SHA-256 digest of body+secret in the X-Cardcom-Signature header.
type Cardcom struct {
	cfg    CardcomConfig
	client *http.Client
}

// NewCardcom builds the Cardcom gateway.
func NewCardcom(cfg CardcomConfig) *Cardcom {
	return &Cardcom{cfg: cfg, client: defaultHTTPClient(cfg.Timeout)}
}

func (c *Cardcom) Type() ProviderType { return ProviderCardcom }

func (c *Cardcom) configured() bool {
	return c.cfg.BaseURL != "" && c.cfg.TerminalNumber != "" && c.cfg.APIName != ""
}

func (c *Cardcom) post(ctx context.Context, path string, payload map[string]any, out any) error {
	if !c.configured() {
		return fmt.Errorf("cardcom: %w", shared.ErrProviderUnconfigured)
	}
	payload["TerminalNumber"] = c.cfg.TerminalNumber
	payload["ApiName"] = c.cfg.APIName
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cardcom: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("cardcom: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("cardcom: %s: %w: %w", path, shared.ErrProvider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("cardcom: %s returned %d: %w", path, resp.StatusCode, shared.ErrProvider)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("cardcom: decode %s response: %w", path, err)
		}
	}
	return nil
}

type cardcomPageResponse struct {
	ResponseCode int    `json:"ResponseCode"`
	Description  string `json:"Description"`
	URL          string `json:"Url"`
	LowProfileID string `json:"LowProfileId"`
}

func (c *Cardcom) CreatePaymentSession(ctx context.Context, in SessionInput) (*Session, error) {
	var out cardcomPageResponse
	err := c.post(ctx, "/api/v11/LowProfile/Create", map[string]any{
		"Amount":           in.Amount,
		"ISOCoinId":        in.Currency,
		"ProductName":      in.Description,
		"ReturnValue":      in.IdempotencyKey,
		"SuccessRedirect":  in.URLs.Success,
		"FailedRedirect":   in.URLs.Failure,
		"WebHookUrl":       in.URLs.Webhook,
		"CustomerFullName": in.Payer.Name,
		"CustomerEmail":    in.Payer.Email,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.ResponseCode != 0 || out.URL == "" {
		return nil, fmt.Errorf("cardcom: session rejected (%d %s): %w", out.ResponseCode, out.Description, shared.ErrProvider)
	}
	return &Session{
		RedirectURL:       out.URL,
		SessionID:         out.LowProfileID,
		ProviderReference: out.LowProfileID,
	}, nil
}

// TokenizePaymentMethod opens a token-creation low-profile page; the token
// arrives on the webhook after the payer completes the redirect.
func (c *Cardcom) TokenizePaymentMethod(ctx context.Context, in TokenizeInput) (*TokenizeResult, error) {
	var out cardcomPageResponse
	err := c.post(ctx, "/api/v11/LowProfile/Create", map[string]any{
		"Operation":        "CreateTokenOnly",
		"SuccessRedirect":  in.URLs.Success,
		"FailedRedirect":   in.URLs.Failure,
		"WebHookUrl":       in.URLs.Webhook,
		"CustomerFullName": in.Payer.Name,
		"CustomerEmail":    in.Payer.Email,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.ResponseCode != 0 || out.URL == "" {
		return nil, fmt.Errorf("cardcom: tokenization rejected (%d %s): %w", out.ResponseCode, out.Description, shared.ErrProvider)
	}
	return &TokenizeResult{Success: true, RedirectURL: out.URL}, nil
}

type cardcomChargeResponse struct {
	ResponseCode  int    `json:"ResponseCode"`
	Description   string `json:"Description"`
	TransactionID string `json:"TranzactionId"`
}

func (c *Cardcom) ChargeToken(ctx context.Context, in ChargeInput) (*ChargeResult, error) {
	var out cardcomChargeResponse
	err := c.post(ctx, "/api/v11/Transactions/Transaction", map[string]any{
		"Token":       in.Token,
		"Amount":      in.Amount,
		"ISOCoinId":   in.Currency,
		"ProductName": in.Description,
		"ReturnValue": in.IdempotencyKey,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.ResponseCode != 0 {
		return &ChargeResult{Success: false, FailureReason: out.Description}, nil
	}
	return &ChargeResult{Success: true, ProviderReference: out.TransactionID}, nil
}

func (c *Cardcom) Refund(ctx context.Context, providerReference string, amount float64) (*RefundResult, error) {
	var out cardcomChargeResponse
	err := c.post(ctx, "/api/v11/Transactions/RefundByTransactionId", map[string]any{
		"TransactionId": providerReference,
		"Amount":        amount,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.ResponseCode != 0 {
		return &RefundResult{Success: false}, nil
	}
	return &RefundResult{Success: true, RefundReference: out.TransactionID}, nil
}

type cardcomWebhook struct {
	LowProfileID  string  `json:"LowProfileId"`
	TransactionID string  `json:"TranzactionId"`
	ResponseCode  int     `json:"ResponseCode"`
	Amount        float64 `json:"Amount"`
	Operation     string  `json:"Operation"`
	Token         string  `json:"Token"`
	Last4Digits   string  `json:"Last4CardDigits"`
	CardBrand     string  `json:"Brand"`
	ExpiryMonth   int     `json:"CardMonth"`
	ExpiryYear    int     `json:"CardYear"`
}

func (c *Cardcom) ParseWebhookPayload(body []byte, _ http.Header) (*Event, error) {
	var raw cardcomWebhook
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("cardcom webhook: %w", err)
	}
	eventID := raw.TransactionID
	if eventID == "" {
		eventID = raw.LowProfileID
	}
	if eventID == "" {
		return nil, fmt.Errorf("cardcom webhook: missing transaction and low-profile ids")
	}
	ev := &Event{
		EventID:           eventID,
		ProviderReference: raw.LowProfileID,
		Amount:            raw.Amount,
		Token:             raw.Token,
		CardLast4:         raw.Last4Digits,
		CardBrand:         raw.CardBrand,
		ExpiryMonth:       raw.ExpiryMonth,
		ExpiryYear:        raw.ExpiryYear,
	}
	if ev.ProviderReference == "" {
		ev.ProviderReference = raw.TransactionID
	}
	if raw.Operation != "CreateTokenOnly" {
		if raw.ResponseCode == 0 {
			ev.Status = EventStatusSucceeded
		} else {
			ev.Status = EventStatusFailed
		}
	}
	return ev, nil
}

// VerifyWebhookSignature checks X-Cardcom-Signature: hex SHA-256 of the raw
// body concatenated with the webhook secret. Fails closed when either side
// is missing.
func (c *Cardcom) VerifyWebhookSignature(_ *Event, body []byte, header http.Header) bool {
	provided := header.Get("X-Cardcom-Signature")
	if provided == "" || c.cfg.WebhookSecret == "" {
		return false
	}
	h := sha256.New()
	h.Write(body)
	h.Write([]byte(c.cfg.WebhookSecret))
	expected := hex.EncodeToString(h.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
