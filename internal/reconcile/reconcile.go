// Package reconcile holds the cash reconciliation arithmetic: counted totals
// from a denomination tally, expected drawer cash, and the close variance.
// Everything works on integer pesos; there is no floating point in this
// package.
package reconcile

import (
	"fmt"

	"pargorojo/backend/internal/domain"
)

// denominations is the fixed Colombian peso table: six bills and five coins.
var denominations = []int64{100000, 50000, 20000, 10000, 5000, 2000, 1000, 500, 200, 100, 50}

// Denominations returns the accepted COP face values, largest first.
func Denominations() []int64 {
	out := make([]int64, len(denominations))
	copy(out, denominations)
	return out
}

// CountedTotal sums value×count over a manual drawer tally. The tally may
// list denominations in any order and may repeat a denomination; repeated
// lines accumulate. Unknown face values and negative counts are rejected.
func CountedTotal(tally []domain.DenominationLine) (int64, error) {
	valid := make(map[int64]bool, len(denominations))
	for _, v := range denominations {
		valid[v] = true
	}

	var total int64
	for _, line := range tally {
		if !valid[line.ValuePesos] {
			return 0, fmt.Errorf("unknown denomination %d", line.ValuePesos)
		}
		if line.Count < 0 {
			return 0, fmt.Errorf("negative count for denomination %d", line.ValuePesos)
		}
		total += line.ValuePesos * int64(line.Count)
	}
	return total, nil
}

// ExpectedCash is the system-side drawer total at close:
// opening float plus cash sales minus petty-cash expenses.
func ExpectedCash(openingPesos, cashSalesPesos, expensesPesos int64) int64 {
	return openingPesos + cashSalesPesos - expensesPesos
}

// Variance is counted minus expected. Positive means the drawer holds more
// than the system expects (overage), negative means a shortage.
func Variance(countedPesos, expectedPesos int64) int64 {
	return countedPesos - expectedPesos
}

const (
	VarianceBalanced = "balanced"
	VarianceOverage  = "overage"
	VarianceShortage = "shortage"
)

// Classify labels a variance for reporting. Overage and shortage follow the
// same close workflow; the label is informational only.
func Classify(variancePesos int64) string {
	switch {
	case variancePesos > 0:
		return VarianceOverage
	case variancePesos < 0:
		return VarianceShortage
	default:
		return VarianceBalanced
	}
}
