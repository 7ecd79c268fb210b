// Package ledger maintains the append-only, balance-tracking record of every
// amount a unit owes or has paid. Entries are immutable; corrections are new
// ADJUSTMENT entries.
package ledger

import (
	"fmt"
	"math"
	"time"
)

// EntryType enumerates balance-affecting event kinds.
type EntryType string

const (
	EntryTypeCharge     EntryType = "CHARGE"
	EntryTypePayment    EntryType = "PAYMENT"
	EntryTypeAdjustment EntryType = "ADJUSTMENT"
	EntryTypeExpense    EntryType = "EXPENSE"
)

// Entry is one immutable ledger row. Balances are expressed as amount owed:
// debits raise the balance, credits lower it. Seq is the explicit monotonic
// per-unit sequence; ordering by Seq is the ledger's logical order.
type Entry struct {
	ID           int64
	BuildingID   int64
	UnitID       int64
	Seq          int64
	Type         EntryType
	Description  string
	Debit        float64
	Credit       float64
	BalanceAfter float64
	RefType      string
	RefID        int64
	CreatedAt    time.Time
}

// EntryInput describes an entry to append. Seq and BalanceAfter are assigned
// by the appender under the unit's serialization lock.
type EntryInput struct {
	BuildingID  int64
	UnitID      int64
	Type        EntryType
	Description string
	Debit       float64
	Credit      float64
	RefType     string
	RefID       int64
}

// NextBalance computes the running balance an entry produces.
func NextBalance(prev, debit, credit float64) float64 {
	return prev + debit - credit
}

// cents rounds to the 2-decimal precision everything is persisted at.
func cents(v float64) float64 {
	return math.Round(v*100) / 100
}

// Replay recomputes the running balance across entries (assumed ordered by
// Seq for one unit) and returns an error on the first mismatch. Stored
// balances carry 2 decimals, so the comparison is cent-rounded: raw float
// accumulation (0.10 + 0.20) must not fail against a stored 0.30.
func Replay(entries []Entry) error {
	var balance float64
	for i, e := range entries {
		balance = NextBalance(balance, e.Debit, e.Credit)
		if cents(balance) != cents(e.BalanceAfter) {
			return fmt.Errorf("ledger: entry seq %d (index %d): stored balance %.2f, replayed %.2f",
				e.Seq, i, e.BalanceAfter, balance)
		}
	}
	return nil
}
