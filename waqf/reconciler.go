/*
reconciler.go - Post-condition enforcement after every mutation

PURPOSE:
  Every engine operation ends here. The reconciler re-derives the balance
  from the totals, refreshes the per-cause percentages, and refuses the
  whole operation when an invariant no longer holds.

INVARIANTS (tolerance 0.5 currency unit / 0.05 percentage point):
  L1  CurrentBalance == TotalDonations - TotalDistributed + TotalInvestmentReturn
  L2  Σ CauseAllocations == CurrentBalance (always for hybrids, and for any
      endowment that tracks cause dollars)
  L3  Hybrid blends sum to 100 ± 0.01; each cause's type holdings are not
      negative and sum back to the cause amount
  L4  No negative balance, no negative cause dollars
  L5  Principal never changes after creation (programming error: panics)

SEE ALSO:
  - engine.go: Calls Reconcile at the end of every operation
  - generic/errors.go: LedgerInconsistencyError
*/
package waqf

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/waqf-engine/generic"
)

var (
	// MoneyTolerance is the largest rounding drift accepted between totals.
	MoneyTolerance = decimal.NewFromFloat(0.5)

	// PercentPointTolerance is the drift accepted between percentage sums.
	PercentPointTolerance = decimal.NewFromFloat(0.05)
)

// Reconcile refreshes derived fields on next and validates invariants.
// prev is the aggregate the operation started from; for creation pass the
// new endowment as both arguments.
func Reconcile(prev, next Endowment) (Endowment, error) {
	if !prev.Principal.Equal(next.Principal) {
		panic(fmt.Sprintf("waqf: principal of %s changed from %s to %s",
			next.ID, prev.Principal, next.Principal))
	}

	f := &next.Financial
	f.CurrentBalance = f.TotalDonations.Sub(f.TotalDistributed).Add(f.TotalInvestmentReturn)
	refreshCausePercentages(&next)

	if err := CheckInvariants(next); err != nil {
		return Endowment{}, err
	}
	return next, nil
}

// refreshCausePercentages sets CauseAllocation[c] = dollars / balance * 100.
// Causes without dollars get 0%. Endowments that never tracked cause dollars
// keep their configured percentages.
func refreshCausePercentages(e *Endowment) {
	if len(e.Financial.CauseAllocations) == 0 {
		return
	}
	balance := e.Financial.CurrentBalance
	pct := make(map[CauseID]decimal.Decimal, len(e.Financial.CauseAllocations))
	for _, c := range e.SelectedCauses {
		pct[c] = decimal.Zero
	}
	for c, amount := range e.Financial.CauseAllocations {
		if !balance.IsPositive() || amount.IsZero() {
			pct[c] = decimal.Zero
			continue
		}
		pct[c] = amount.Div(balance).Mul(hundred).Round(percentPlaces)
	}
	e.CauseAllocation = pct
}

// CheckInvariants validates L1-L4 without modifying anything.
func CheckInvariants(e Endowment) error {
	f := e.Financial
	entity := e.Entity()

	expected := f.TotalDonations.Sub(f.TotalDistributed).Add(f.TotalInvestmentReturn)
	if f.CurrentBalance.Sub(expected).Abs().GreaterThan(MoneyTolerance) {
		return &generic.LedgerInconsistencyError{
			EntityID: entity, Invariant: "balance equals donations minus distributed plus returns",
			Expected: expected, Actual: f.CurrentBalance,
		}
	}
	if f.CurrentBalance.LessThan(MoneyTolerance.Neg()) {
		return &generic.LedgerInconsistencyError{
			EntityID: entity, Invariant: "balance is not negative",
			Expected: decimal.Zero, Actual: f.CurrentBalance,
		}
	}

	causeSum := decimal.Zero
	for c, amount := range f.CauseAllocations {
		if amount.LessThan(MoneyTolerance.Neg()) {
			return &generic.LedgerInconsistencyError{
				EntityID: entity, Invariant: fmt.Sprintf("cause %s dollars are not negative", c),
				Expected: decimal.Zero, Actual: amount,
			}
		}
		causeSum = causeSum.Add(amount)
	}
	tracksCauses := e.Type == TypeHybrid || len(f.CauseAllocations) > 0
	if tracksCauses && causeSum.Sub(f.CurrentBalance).Abs().GreaterThan(MoneyTolerance) {
		return &generic.LedgerInconsistencyError{
			EntityID: entity, Invariant: "cause dollars sum to balance",
			Expected: f.CurrentBalance, Actual: causeSum,
		}
	}

	if tracksCauses && f.CurrentBalance.IsPositive() && len(e.CauseAllocation) > 0 {
		pctSum := decimal.Zero
		for _, p := range e.CauseAllocation {
			pctSum = pctSum.Add(p)
		}
		if pctSum.Sub(hundred).Abs().GreaterThan(PercentPointTolerance) {
			return &generic.LedgerInconsistencyError{
				EntityID: entity, Invariant: "cause percentages sum to 100",
				Expected: hundred, Actual: pctSum,
			}
		}
	}

	if e.Type == TypeHybrid {
		return checkHybrid(e)
	}
	return nil
}

func checkHybrid(e Endowment) error {
	entity := e.Entity()
	for c, amount := range e.Financial.CauseAllocations {
		split, ok := e.HybridAllocations[c]
		if !ok {
			if amount.Abs().GreaterThan(MoneyTolerance) {
				return &generic.LedgerInconsistencyError{
					EntityID: entity, Invariant: fmt.Sprintf("cause %s has a hybrid allocation", c),
					Expected: decimal.Zero, Actual: amount,
				}
			}
			continue
		}
		if split.Sum().Sub(hundred).Abs().GreaterThan(PercentTolerance) {
			return &generic.LedgerInconsistencyError{
				EntityID: entity, Invariant: fmt.Sprintf("cause %s hybrid percentages sum to 100", c),
				Expected: hundred, Actual: split.Sum(),
			}
		}
		parts := causeTypes(e, c)
		for _, t := range []WaqfType{TypePermanent, TypeConsumable, TypeRevolving} {
			if parts.Get(t).LessThan(MoneyTolerance.Neg()) {
				return &generic.LedgerInconsistencyError{
					EntityID: entity, Invariant: fmt.Sprintf("cause %s %s holdings are not negative", c, t),
					Expected: decimal.Zero, Actual: parts.Get(t),
				}
			}
		}
		if parts.Sum().Sub(amount).Abs().GreaterThan(MoneyTolerance) {
			return &generic.LedgerInconsistencyError{
				EntityID: entity, Invariant: fmt.Sprintf("cause %s hybrid split reconstructs amount", c),
				Expected: amount, Actual: parts.Sum(),
			}
		}
	}
	return nil
}
