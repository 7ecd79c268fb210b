// Package directory is the read model for buildings, units and fee plans.
// The payment core consumes it as a collaborator; the rest of the platform
// owns the write side.
package directory

import "time"

// FeeMethod enumerates how a plan computes the amount owed per unit.
type FeeMethod string

const (
	FeeMethodByArea FeeMethod = "BY_AREA"
	FeeMethodFixed  FeeMethod = "FIXED"
	FeeMethodManual FeeMethod = "MANUAL"
)

// Building carries the fields the payment core needs: currency and the
// gateway provider configured for it.
type Building struct {
	ID              int64
	Name            string
	Currency        string
	PaymentProvider string
	IsActive        bool
	CreatedAt       time.Time
}

// Unit is one billable unit inside a building.
type Unit struct {
	ID           int64
	BuildingID   int64
	Label        string
	AreaSqm      float64
	TenantUserID int64
	TenantEmail  string
	TenantPhone  string
}

// FeePlan is a building's HOA fee plan. The most recent active plan by
// effective date governs charge generation.
type FeePlan struct {
	ID            int64
	BuildingID    int64
	Name          string
	Method        FeeMethod
	RatePerSqm    float64
	FixedAmount   float64
	EffectiveFrom time.Time
	IsActive      bool
}

// AmountFor computes the amount owed by a unit under this plan.
// Manual plans resolve to zero; a human sets the amount later via adjustment.
func (p FeePlan) AmountFor(unit Unit) float64 {
	switch p.Method {
	case FeeMethodByArea:
		return unit.AreaSqm * p.RatePerSqm
	case FeeMethodFixed:
		return p.FixedAmount
	default:
		return 0
	}
}
