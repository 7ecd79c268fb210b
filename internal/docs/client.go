// Package docs talks to the external accounting-document provider that
// renders receipts and invoices.
package docs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lattice-pm/lattice/internal/shared"
)

// Document is the provider's answer for a rendered accounting document.
type Document struct {
	DocID     string `json:"docId"`
	DocNumber string `json:"docNumber"`
	PDFURL    string `json:"pdfUrl"`
}

// ReceiptInput describes a receipt for a completed payment.
type ReceiptInput struct {
	PaymentID   int64
	CustomerRef string
	Description string
	Amount      float64
	Currency    string
}

// InvoiceInput describes an invoice for an open charge.
type InvoiceInput struct {
	ChargeID    int64
	CustomerRef string
	Description string
	Amount      float64
	Currency    string
	DueDate     time.Time
}

// Client issues accounting documents.
type Client interface {
	CreateReceipt(ctx context.Context, in ReceiptInput) (*Document, error)
	CreateInvoice(ctx context.Context, in InvoiceInput) (*Document, error)
}

// Config holds credentials for the document provider.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type httpClient struct {
	cfg    Config
	client *http.Client
}

// New builds the HTTP document client.
func New(cfg Config) Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &httpClient{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

type docResponse struct {
	Success   bool   `json:"success"`
	DocID     string `json:"docId"`
	DocNumber string `json:"docNumber"`
	PDFURL    string `json:"pdfUrl"`
	Error     string `json:"error"`
}

func (c *httpClient) post(ctx context.Context, path string, payload any) (*Document, error) {
	if c.cfg.BaseURL == "" || c.cfg.APIKey == "" {
		return nil, fmt.Errorf("docs: %w", shared.ErrProviderUnconfigured)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("docs: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("docs: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("docs: %s: %w: %w", path, shared.ErrProvider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("docs: %s returned %d: %w", path, resp.StatusCode, shared.ErrProvider)
	}
	var out docResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("docs: decode %s response: %w", path, err)
	}
	if !out.Success || out.DocID == "" {
		return nil, fmt.Errorf("docs: %s rejected (%s): %w", path, out.Error, shared.ErrProvider)
	}
	return &Document{DocID: out.DocID, DocNumber: out.DocNumber, PDFURL: out.PDFURL}, nil
}

func (c *httpClient) CreateReceipt(ctx context.Context, in ReceiptInput) (*Document, error) {
	return c.post(ctx, "/documents/receipt", map[string]any{
		"externalRef": fmt.Sprintf("payment-%d", in.PaymentID),
		"customer":    in.CustomerRef,
		"description": in.Description,
		"amount":      in.Amount,
		"currency":    in.Currency,
	})
}

func (c *httpClient) CreateInvoice(ctx context.Context, in InvoiceInput) (*Document, error) {
	return c.post(ctx, "/documents/invoice", map[string]any{
		"externalRef": fmt.Sprintf("charge-%d", in.ChargeID),
		"customer":    in.CustomerRef,
		"description": in.Description,
		"amount":      in.Amount,
		"currency":    in.Currency,
		"dueDate":     in.DueDate.Format("2006-01-02"),
	})
}
