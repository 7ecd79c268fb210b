package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lattice-pm/lattice/internal/directory"
	"github.com/lattice-pm/lattice/internal/docs"
	"github.com/lattice-pm/lattice/internal/shared"
)

// Invoice is the issued-document view of a charge.
type Invoice struct {
	ChargeID  int64     `json:"chargeId"`
	DocID     string    `json:"docId"`
	DocNumber string    `json:"docNumber"`
	PDFURL    string    `json:"pdfUrl"`
	IssuedAt  time.Time `json:"issuedAt"`
}

// BuildingReader resolves the building a charge bills under, for currency.
type BuildingReader interface {
	GetBuilding(ctx context.Context, id int64) (*directory.Building, error)
}

// InvoiceIssuer issues one invoice document per open charge. The same two
// layers that guard receipts guard invoices: singleflight collapses
// in-process racers and the conditional invoice-fields update arbitrates
// across processes.
type InvoiceIssuer struct {
	repo   Repository
	dir    BuildingReader
	docs   docs.Client
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

// NewInvoiceIssuer builds the issuer.
func NewInvoiceIssuer(repo Repository, dir BuildingReader, docsClient docs.Client, logger *slog.Logger) *InvoiceIssuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvoiceIssuer{repo: repo, dir: dir, docs: docsClient, logger: logger, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (i *InvoiceIssuer) WithNow(now func() time.Time) {
	if now != nil {
		i.now = now
	}
}

// IssueInvoice returns the charge's invoice, creating it if needed. Safe to
// call repeatedly; all callers see the same document.
func (i *InvoiceIssuer) IssueInvoice(ctx context.Context, chargeID int64) (*Invoice, error) {
	v, err, _ := i.group.Do(fmt.Sprintf("invoice-%d", chargeID), func() (any, error) {
		return i.issue(ctx, chargeID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Invoice), nil
}

func (i *InvoiceIssuer) issue(ctx context.Context, chargeID int64) (*Invoice, error) {
	charge, err := i.repo.GetCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if charge.InvoiceDocID != nil {
		return invoiceOf(charge), nil
	}
	if charge.Status == ChargeStatusCancelled {
		return nil, fmt.Errorf("charge %d is cancelled, no invoice to issue: %w", chargeID, shared.ErrValidation)
	}

	building, err := i.dir.GetBuilding(ctx, charge.BuildingID)
	if err != nil {
		return nil, err
	}

	doc, err := i.docs.CreateInvoice(ctx, docs.InvoiceInput{
		ChargeID:    chargeID,
		CustomerRef: fmt.Sprintf("unit-%d", charge.UnitID),
		Description: fmt.Sprintf("Charges for unit %d, period %s", charge.UnitID, charge.Period),
		Amount:      charge.AmountDue,
		Currency:    building.Currency,
		DueDate:     charge.DueDate,
	})
	if err != nil {
		return nil, err
	}

	issuedAt := i.now()
	claimed, err := i.repo.ClaimInvoice(ctx, chargeID, doc.DocID, doc.DocNumber, doc.PDFURL, issuedAt)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// a concurrent issuer won; return its document, not ours
		i.logger.Warn("invoice race lost, discarding duplicate document",
			slog.Int64("charge_id", chargeID),
			slog.String("orphaned_doc_id", doc.DocID))
		persisted, err := i.repo.GetCharge(ctx, chargeID)
		if err != nil {
			return nil, err
		}
		if persisted.InvoiceDocID == nil {
			return nil, fmt.Errorf("billing: invoice claim for %d failed with no winner", chargeID)
		}
		return invoiceOf(persisted), nil
	}

	return &Invoice{
		ChargeID:  chargeID,
		DocID:     doc.DocID,
		DocNumber: doc.DocNumber,
		PDFURL:    doc.PDFURL,
		IssuedAt:  issuedAt,
	}, nil
}

func invoiceOf(c *Charge) *Invoice {
	inv := &Invoice{ChargeID: c.ID}
	if c.InvoiceDocID != nil {
		inv.DocID = *c.InvoiceDocID
	}
	if c.InvoiceDocNumber != nil {
		inv.DocNumber = *c.InvoiceDocNumber
	}
	if c.InvoiceURL != nil {
		inv.PDFURL = *c.InvoiceURL
	}
	if c.InvoiceIssuedAt != nil {
		inv.IssuedAt = *c.InvoiceIssuedAt
	}
	return inv
}
