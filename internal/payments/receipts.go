package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lattice-pm/lattice/internal/docs"
	"github.com/lattice-pm/lattice/internal/observability"
	"github.com/lattice-pm/lattice/internal/shared"
)

// Receipt is the issued-document view of a payment.
type Receipt struct {
	PaymentID int64     `json:"paymentId"`
	DocID     string    `json:"docId"`
	DocNumber string    `json:"docNumber"`
	PDFURL    string    `json:"pdfUrl"`
	IssuedAt  time.Time `json:"issuedAt"`
}

// ReceiptIssuer issues accounting documents for succeeded payments exactly
// once. Two layers keep concurrent triggers (webhook task and manual
// endpoint) from double-issuing: singleflight collapses in-process racers,
// and the conditional receipt-fields update arbitrates across processes.
type ReceiptIssuer struct {
	repo    Repository
	docs    docs.Client
	group   singleflight.Group
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewReceiptIssuer builds the issuer. metrics may be nil.
func NewReceiptIssuer(repo Repository, docsClient docs.Client, metrics *observability.Metrics, logger *slog.Logger) *ReceiptIssuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReceiptIssuer{repo: repo, docs: docsClient, metrics: metrics, logger: logger, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (i *ReceiptIssuer) WithNow(now func() time.Time) {
	if now != nil {
		i.now = now
	}
}

func (i *ReceiptIssuer) observe(outcome string) {
	if i.metrics != nil {
		i.metrics.ObserveReceipt(outcome)
	}
}

// IssueReceipt returns the payment's receipt, creating it if needed. Safe
// to call any number of times, from any number of goroutines or processes;
// all callers see the same document.
func (i *ReceiptIssuer) IssueReceipt(ctx context.Context, paymentID int64) (*Receipt, error) {
	v, err, _ := i.group.Do(fmt.Sprintf("receipt-%d", paymentID), func() (any, error) {
		return i.issue(ctx, paymentID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Receipt), nil
}

func (i *ReceiptIssuer) issue(ctx context.Context, paymentID int64) (*Receipt, error) {
	payment, err := i.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.ReceiptDocID != nil {
		i.observe("already_issued")
		return receiptOf(payment), nil
	}
	if payment.Status != PaymentStatusSucceeded {
		return nil, fmt.Errorf("payment %d is %s, receipt requires a succeeded payment: %w",
			paymentID, payment.Status, shared.ErrValidation)
	}

	doc, err := i.docs.CreateReceipt(ctx, docs.ReceiptInput{
		PaymentID:   paymentID,
		CustomerRef: fmt.Sprintf("user-%d", payment.PayerID),
		Description: fmt.Sprintf("Payment for unit %d", payment.UnitID),
		Amount:      payment.Amount,
		Currency:    payment.Currency,
	})
	if err != nil {
		i.observe("provider_error")
		return nil, err
	}

	issuedAt := i.now()
	claimed, err := i.repo.ClaimReceipt(ctx, paymentID, doc.DocID, doc.DocNumber, doc.PDFURL, issuedAt)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// a concurrent issuer won; return its document, not ours
		i.observe("lost_race")
		i.logger.Warn("receipt race lost, discarding duplicate document",
			slog.Int64("payment_id", paymentID),
			slog.String("orphaned_doc_id", doc.DocID))
		persisted, err := i.repo.GetPayment(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		if persisted.ReceiptDocID == nil {
			return nil, fmt.Errorf("payments: receipt claim for %d failed with no winner", paymentID)
		}
		return receiptOf(persisted), nil
	}

	i.observe("issued")
	return &Receipt{
		PaymentID: paymentID,
		DocID:     doc.DocID,
		DocNumber: doc.DocNumber,
		PDFURL:    doc.PDFURL,
		IssuedAt:  issuedAt,
	}, nil
}

func receiptOf(p *Payment) *Receipt {
	r := &Receipt{PaymentID: p.ID}
	if p.ReceiptDocID != nil {
		r.DocID = *p.ReceiptDocID
	}
	if p.ReceiptDocNumber != nil {
		r.DocNumber = *p.ReceiptDocNumber
	}
	if p.ReceiptURL != nil {
		r.PDFURL = *p.ReceiptURL
	}
	if p.ReceiptIssuedAt != nil {
		r.IssuedAt = *p.ReceiptIssuedAt
	}
	return r
}
