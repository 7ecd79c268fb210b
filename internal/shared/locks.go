package shared

import "fmt"

// ChargeGenerationLockKey builds redis keys for charge generation critical sections.
func ChargeGenerationLockKey(buildingID int64, period string) string {
	return fmt.Sprintf("billing:generate:%d:%s:lock", buildingID, period)
}

// LedgerLockClass is the advisory lock class for per-unit ledger appends.
const LedgerLockClass int32 = 7401
