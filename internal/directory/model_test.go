package directory

import "testing"

func TestFeePlanAmountFor(t *testing.T) {
	unit := Unit{AreaSqm: 85}

	byArea := FeePlan{Method: FeeMethodByArea, RatePerSqm: 4.5}
	if got := byArea.AmountFor(unit); got != 382.5 {
		t.Fatalf("by-area amount: got %v", got)
	}

	fixed := FeePlan{Method: FeeMethodFixed, FixedAmount: 250}
	if got := fixed.AmountFor(unit); got != 250 {
		t.Fatalf("fixed amount: got %v", got)
	}

	manual := FeePlan{Method: FeeMethodManual, RatePerSqm: 4.5, FixedAmount: 250}
	if got := manual.AmountFor(unit); got != 0 {
		t.Fatalf("manual amount: got %v", got)
	}
}
