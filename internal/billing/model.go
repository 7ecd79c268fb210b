// Package billing owns charges: per-unit, per-period amounts owed, their
// lifecycle, and the periodic generation job that creates them.
package billing

import "time"

// ChargeStatus enumerates charge lifecycle values.
type ChargeStatus string

const (
	ChargeStatusPending       ChargeStatus = "PENDING"
	ChargeStatusPartiallyPaid ChargeStatus = "PARTIALLY_PAID"
	ChargeStatusPaid          ChargeStatus = "PAID"
	ChargeStatusOverdue       ChargeStatus = "OVERDUE"
	ChargeStatusCancelled     ChargeStatus = "CANCELLED"
)

// Charge is the amount owed by one unit for one (plan, period).
// AmountPaid mirrors the sum of active allocations; status is always
// re-derivable from amounts and the due date. Charges are never deleted,
// only cancelled in place.
type Charge struct {
	ID         int64
	BuildingID int64
	UnitID     int64
	PlanID     int64
	Period     string
	AmountDue  float64
	AmountPaid float64
	DueDate    time.Time
	Status     ChargeStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// Invoice fields stay nil until a document is issued for the charge.
	InvoiceDocID     *string
	InvoiceDocNumber *string
	InvoiceURL       *string
	InvoiceIssuedAt  *time.Time
}

// Remaining returns the unpaid portion of the charge.
func (c Charge) Remaining() float64 {
	rem := c.AmountDue - c.AmountPaid
	if rem < 0 {
		return 0
	}
	return rem
}

// paidEpsilon absorbs sub-cent float drift when comparing amounts that are
// persisted at two decimal places.
const paidEpsilon = 0.005

// DeriveStatus computes the charge status from its amounts and due date.
// Cancellation is sticky; everything else follows the amounts. Amounts within
// half a cent of each other count as equal.
func DeriveStatus(amountDue, amountPaid float64, dueDate, now time.Time, cancelled bool) ChargeStatus {
	switch {
	case cancelled:
		return ChargeStatusCancelled
	case amountDue > 0 && amountPaid >= amountDue-paidEpsilon:
		return ChargeStatusPaid
	case amountPaid > paidEpsilon:
		return ChargeStatusPartiallyPaid
	case !dueDate.IsZero() && now.After(dueDate):
		return ChargeStatusOverdue
	default:
		return ChargeStatusPending
	}
}
