package shared

import (
	"time"
)

// Billing periods are month keys of the form "2026-02". A charge exists for
// exactly one (unit, plan, period) triple, so the key format is load-bearing
// for idempotency and must stay canonical.

const periodLayout = "2006-01"

// ValidatePeriod reports whether key is a canonical month key.
func ValidatePeriod(key string) error {
	t, err := time.Parse(periodLayout, key)
	if err != nil {
		return ErrInvalidPeriod
	}
	if t.Format(periodLayout) != key {
		return ErrInvalidPeriod
	}
	return nil
}

// CurrentPeriod returns the month key for the given time in UTC.
func CurrentPeriod(now time.Time) string {
	return now.UTC().Format(periodLayout)
}

// PeriodDueDate returns the due date for a period: the 10th of its month.
func PeriodDueDate(key string) (time.Time, error) {
	t, err := time.Parse(periodLayout, key)
	if err != nil {
		return time.Time{}, ErrInvalidPeriod
	}
	return time.Date(t.Year(), t.Month(), 10, 0, 0, 0, 0, time.UTC), nil
}
