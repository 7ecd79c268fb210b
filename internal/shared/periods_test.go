package shared

import (
	"testing"
	"time"
)

func TestValidatePeriod(t *testing.T) {
	valid := []string{"2026-01", "2026-12", "1999-06"}
	for _, key := range valid {
		if err := ValidatePeriod(key); err != nil {
			t.Fatalf("expected %q valid, got %v", key, err)
		}
	}
	invalid := []string{"", "2026-13", "2026-1", "2026/02", "2026-02-01", "feb-2026"}
	for _, key := range invalid {
		if err := ValidatePeriod(key); err == nil {
			t.Fatalf("expected %q invalid", key)
		}
	}
}

func TestCurrentPeriod(t *testing.T) {
	now := time.Date(2026, 2, 28, 23, 30, 0, 0, time.UTC)
	if got := CurrentPeriod(now); got != "2026-02" {
		t.Fatalf("unexpected period: %s", got)
	}
}

func TestPeriodDueDate(t *testing.T) {
	due, err := PeriodDueDate("2026-02")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	if !due.Equal(want) {
		t.Fatalf("unexpected due date: %v", due)
	}
}
