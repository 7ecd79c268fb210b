// Package payments owns the money-movement side of the platform: payment
// records, allocations against charges, provider webhooks, saved payment
// methods, standing orders and receipts.
package payments

import (
	"time"

	"github.com/lattice-pm/lattice/internal/payments/gateway"
)

// PaymentStatus enumerates payment lifecycle values.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusSucceeded PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions from
// the webhook path. Succeeded payments can still be refunded or, for manual
// entries, cancelled, but never re-finalized.
func (s PaymentStatus) Terminal() bool {
	return s != PaymentStatusPending
}

// Payment is one attempted or completed movement of money for a unit. Rows
// are never deleted, only status-transitioned. Receipt fields stay nil until
// a document is issued; the conditional update on ReceiptDocID is what keeps
// issuance race-safe.
type Payment struct {
	ID                int64
	BuildingID        int64
	UnitID            int64
	PayerID           int64
	ChargeID          int64 // target charge; 0 for unattached payments
	Amount            float64
	Currency          string
	Status            PaymentStatus
	Provider          gateway.ProviderType
	ProviderReference string
	MethodID          *int64
	IsManual          bool
	ReceiptDocID      *string
	ReceiptDocNumber  *string
	ReceiptURL        *string
	ReceiptIssuedAt   *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Allocation applies a portion of a payment to one charge. Cancelling a
// payment zeroes its allocations via the Cancelled flag instead of deleting
// rows.
type Allocation struct {
	ID        int64
	PaymentID int64
	ChargeID  int64
	Amount    float64
	Cancelled bool
	CreatedAt time.Time
}

// PaymentMethod is a tokenized instrument owned by one user. At most one
// default per user, enforced by the write path.
type PaymentMethod struct {
	ID          int64
	UserID      int64
	Provider    gateway.ProviderType
	Token       string
	Last4       string
	Brand       string
	ExpiryMonth int
	ExpiryYear  int
	IsDefault   bool
	CreatedAt   time.Time
}

// StandingOrderStatus enumerates recurring-order lifecycle values.
type StandingOrderStatus string

const (
	StandingOrderActive    StandingOrderStatus = "ACTIVE"
	StandingOrderPaused    StandingOrderStatus = "PAUSED"
	StandingOrderCancelled StandingOrderStatus = "CANCELLED"
)

// StandingOrder is a recurring-payment intent bound to (user, unit).
// Cancelled is terminal; Active and Paused interchange freely.
type StandingOrder struct {
	ID              int64
	UserID          int64
	UnitID          int64
	BuildingID      int64
	Provider        gateway.ProviderType
	Amount          float64
	Currency        string
	PlanRef         string
	SubscriptionRef string
	ApprovalURL     string
	Status          StandingOrderStatus
	OKCycles        int
	FailedCycles    int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WebhookResult records how an inbound event ended.
type WebhookResult string

const (
	WebhookResultProcessed        WebhookResult = "Processed"
	WebhookResultSignatureInvalid WebhookResult = "SignatureInvalid"
)

// WebhookRecord is one row of the dedup log; existence of a (provider,
// eventID) row is the sole gate against reprocessing.
type WebhookRecord struct {
	ID          int64
	Provider    gateway.ProviderType
	EventID     string
	PayloadHash string
	Result      WebhookResult
	ProcessedAt time.Time
}
