/*
allocation.go - How an endowment's balance splits across causes and types

PURPOSE:
  Answers "how many dollars of this endowment belong to each cause, and
  within each cause to each waqf type?". Also scores how diversified the
  allocation is.

RULES:
  Non-hybrid: the whole balance belongs to the endowment's single type.
              Causes share it by CauseAllocation percentages, or equally
              when no percentages are set.
  Hybrid:     Each cause's dollars per type come from Financial.TypeHoldings,
              which every mutation keeps in step with the cause dollars.
              Records without holdings split the cause dollars by that
              cause's {permanent, consumable, revolving} percentages; the
              last type with a non-zero percentage absorbs rounding so the
              three shares reconstruct the cause amount exactly.

BLEND VS HOLDINGS:
  HybridAllocations is the donor's blend: new money is split by it, and
  only a conversion moves it. Refunds, installments, withdrawals and
  distributions change holdings, never the blend.

LEGACY FALLBACK:
  Older hybrid records without holdings carry unresolved revolving tranches but encode 0%
  revolving for every cause. For those only, the revolving share is
  estimated as min(1, held tranche principal / principal) of each cause's
  dollars and the rest is redistributed across the permanent and
  consumable shares. The result is flagged Estimated. Records with any
  non-zero revolving percentage never take this path.

SEE ALSO:
  - reconciler.go: Re-validates the split after every mutation
  - maturity.go: Shifts dollars between types when tranches convert
*/
package waqf

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/waqf-engine/generic"
)

var (
	hundred = decimal.NewFromInt(100)

	// PercentTolerance bounds how far a hybrid triple may drift from 100.
	PercentTolerance = decimal.NewFromFloat(0.01)

	// percentPlaces is the precision percentages are stored with.
	percentPlaces int32 = 6
)

// =============================================================================
// SPLIT RESULT
// =============================================================================

// CauseShare is one cause's slice of the balance.
type CauseShare struct {
	CauseID CauseID         `json:"cause_id"`
	Amount  decimal.Decimal `json:"amount"`
	Percent decimal.Decimal `json:"percent"`
	Types   TypeSplit       `json:"types"`
}

// AllocationSplit is the per-cause, per-type attribution of the balance.
type AllocationSplit struct {
	EndowmentID EndowmentID     `json:"endowment_id"`
	Type        WaqfType        `json:"type"`
	Balance     decimal.Decimal `json:"balance"`
	Causes      []CauseShare    `json:"causes"`
	Totals      TypeSplit       `json:"totals"`
	Estimated   bool            `json:"estimated"`
}

// Cause returns the share for id, and whether it exists.
func (s AllocationSplit) Cause(id CauseID) (CauseShare, bool) {
	for _, c := range s.Causes {
		if c.CauseID == id {
			return c, true
		}
	}
	return CauseShare{}, false
}

// =============================================================================
// SPLIT BALANCE
// =============================================================================

// SplitBalance attributes the current balance to causes and waqf types.
func SplitBalance(e Endowment) (AllocationSplit, error) {
	out := AllocationSplit{
		EndowmentID: e.ID,
		Type:        e.Type,
		Balance:     e.Financial.CurrentBalance,
	}
	if e.Type != TypeHybrid {
		out.Causes = splitSingleType(e)
		out.Totals = out.Totals.With(e.Type, e.Financial.CurrentBalance)
		return out, nil
	}

	if err := ValidateHybridAllocations(e.HybridAllocations, causeOrder(e)); err != nil {
		return AllocationSplit{}, err
	}

	estimate := needsLegacyEstimate(e)
	ratio := decimal.Zero
	if estimate {
		ratio = legacyRevolvingRatio(e)
	}

	for _, c := range causeOrder(e) {
		amount := e.Financial.CauseAllocations[c]
		types := causeTypes(e, c)
		if estimate {
			types = estimateRevolving(amount, types, ratio)
		}
		out.Causes = append(out.Causes, CauseShare{
			CauseID: c,
			Amount:  amount,
			Percent: e.CauseAllocation[c],
			Types:   types,
		})
		out.Totals = out.Totals.Add(types)
	}
	out.Estimated = estimate
	return out, nil
}

func splitSingleType(e Endowment) []CauseShare {
	causes := causeOrder(e)
	if len(causes) == 0 {
		return nil
	}
	weights := make([]decimal.Decimal, len(causes))
	anyWeight := false
	for i, c := range causes {
		weights[i] = e.CauseAllocation[c]
		if weights[i].IsPositive() {
			anyWeight = true
		}
	}
	var amounts []decimal.Decimal
	if anyWeight {
		amounts = generic.SplitByWeights(e.Financial.CurrentBalance, weights)
	} else {
		amounts = generic.SplitEvenly(e.Financial.CurrentBalance, len(causes))
	}

	shares := make([]CauseShare, len(causes))
	for i, c := range causes {
		pct := e.CauseAllocation[c]
		if !anyWeight {
			pct = hundred.Div(decimal.NewFromInt(int64(len(causes)))).Round(percentPlaces)
		}
		shares[i] = CauseShare{
			CauseID: c,
			Amount:  amounts[i],
			Percent: pct,
			Types:   TypeSplit{}.With(e.Type, amounts[i]),
		}
	}
	return shares
}

// causeOrder lists selected causes first, then any cause that holds dollars
// without being selected (for example a rollover target), sorted.
func causeOrder(e Endowment) []CauseID {
	seen := make(map[CauseID]bool, len(e.SelectedCauses))
	order := make([]CauseID, 0, len(e.SelectedCauses))
	for _, c := range e.SelectedCauses {
		if !seen[c] {
			seen[c] = true
			order = append(order, c)
		}
	}
	var extra []CauseID
	for c := range e.Financial.CauseAllocations {
		if !seen[c] {
			seen[c] = true
			extra = append(extra, c)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(order, extra...)
}

// SplitByPercent divides amount by a percentage triple. The last type with a
// non-zero percentage absorbs rounding, so the result sums to amount.
func SplitByPercent(amount decimal.Decimal, pct TypeSplit) TypeSplit {
	types := []WaqfType{TypePermanent, TypeConsumable, TypeRevolving}
	last := -1
	for i, t := range types {
		if !pct.Get(t).IsZero() {
			last = i
		}
	}
	if last < 0 {
		return TypeSplit{}
	}
	out := TypeSplit{}
	allocated := decimal.Zero
	for i, t := range types {
		if i == last {
			out = out.With(t, amount.Sub(allocated))
			break
		}
		share := amount.Mul(pct.Get(t)).Div(hundred).Round(generic.MoneyPlaces)
		out = out.With(t, share)
		allocated = allocated.Add(share)
	}
	return out
}

// PercentagesOf converts per-type dollars back into a percentage triple that
// sums to exactly 100. Zero dollars yield a zero triple.
func PercentagesOf(d TypeSplit) TypeSplit {
	total := d.Sum()
	if !total.IsPositive() {
		return TypeSplit{}
	}
	types := []WaqfType{TypePermanent, TypeConsumable, TypeRevolving}
	last := -1
	for i, t := range types {
		if !d.Get(t).IsZero() {
			last = i
		}
	}
	out := TypeSplit{}
	allocated := decimal.Zero
	for i, t := range types {
		if i == last {
			out = out.With(t, hundred.Sub(allocated))
			break
		}
		p := d.Get(t).Div(total).Mul(hundred).Round(percentPlaces)
		out = out.With(t, p)
		allocated = allocated.Add(p)
	}
	return out
}

// =============================================================================
// HYBRID VALIDATION
// =============================================================================

// ValidateHybridAllocations checks that every listed cause has a triple with
// no negative component summing to 100 within PercentTolerance.
func ValidateHybridAllocations(allocs map[CauseID]TypeSplit, causes []CauseID) error {
	for _, c := range causes {
		split, ok := allocs[c]
		if !ok {
			return &generic.AllocationError{CauseID: string(c), Message: "hybrid allocation missing"}
		}
		if split.Permanent.IsNegative() || split.Consumable.IsNegative() || split.Revolving.IsNegative() {
			return &generic.AllocationError{CauseID: string(c), Sum: split.Sum(), Message: "percentages cannot be negative"}
		}
		if split.Sum().Sub(hundred).Abs().GreaterThan(PercentTolerance) {
			return &generic.AllocationError{CauseID: string(c), Sum: split.Sum(), Message: "allocation must total 100%"}
		}
	}
	return nil
}

// =============================================================================
// LEGACY REVOLVING ESTIMATE
// =============================================================================

func needsLegacyEstimate(e Endowment) bool {
	if e.Type != TypeHybrid || len(e.Financial.TypeHoldings) > 0 || !HeldTrancheTotal(e).IsPositive() {
		return false
	}
	for _, split := range e.HybridAllocations {
		if !split.Revolving.IsZero() {
			return false
		}
	}
	return true
}

// legacyRevolvingRatio = min(1, held tranche principal / principal).
func legacyRevolvingRatio(e Endowment) decimal.Decimal {
	total := HeldTrancheTotal(e)
	if !e.Principal.IsPositive() {
		if total.IsPositive() {
			return decimal.NewFromInt(1)
		}
		return decimal.Zero
	}
	return decimal.Min(decimal.NewFromInt(1), total.Div(e.Principal))
}

func estimateRevolving(amount decimal.Decimal, base TypeSplit, ratio decimal.Decimal) TypeSplit {
	revolving := amount.Mul(ratio).Round(generic.MoneyPlaces)
	remainder := amount.Sub(revolving)
	baseSum := base.Permanent.Add(base.Consumable)
	if !baseSum.IsPositive() {
		return TypeSplit{Consumable: remainder, Revolving: revolving, Permanent: decimal.Zero}
	}
	permanent := remainder.Mul(base.Permanent).Div(baseSum).Round(generic.MoneyPlaces)
	return TypeSplit{
		Permanent:  permanent,
		Consumable: remainder.Sub(permanent),
		Revolving:  revolving,
	}
}

// =============================================================================
// CAUSE DOLLARS BY TYPE - Used by operations that move money between types
// =============================================================================

// causeTypes returns one cause's dollars per waqf type: its holdings when
// recorded, otherwise the cause dollars split by its blend.
func causeTypes(e Endowment, c CauseID) TypeSplit {
	if e.Type != TypeHybrid {
		return TypeSplit{}.With(e.Type, e.Financial.CauseAllocations[c])
	}
	if h, ok := e.Financial.TypeHoldings[c]; ok {
		return h
	}
	return SplitByPercent(e.Financial.CauseAllocations[c], e.HybridAllocations[c])
}

// typeDollars returns every cause's dollars per waqf type. Non-hybrid
// endowments report everything under their type.
func typeDollars(e Endowment) map[CauseID]TypeSplit {
	out := make(map[CauseID]TypeSplit, len(e.Financial.CauseAllocations))
	for c := range e.Financial.CauseAllocations {
		out[c] = causeTypes(e, c)
	}
	return out
}

// applyTypeDollars writes per-type dollars back onto the endowment: cause
// amounts become the per-type sums and, for hybrids, the holdings are
// replaced. The blend is left alone; a cause that has none yet (a rollover
// target) takes the mix of its first dollars.
func applyTypeDollars(e *Endowment, dollars map[CauseID]TypeSplit) {
	if e.Financial.CauseAllocations == nil {
		e.Financial.CauseAllocations = make(map[CauseID]decimal.Decimal, len(dollars))
	}
	for c, d := range dollars {
		e.Financial.CauseAllocations[c] = d.Sum()
		if e.Type != TypeHybrid {
			continue
		}
		if e.Financial.TypeHoldings == nil {
			e.Financial.TypeHoldings = make(map[CauseID]TypeSplit, len(dollars))
		}
		e.Financial.TypeHoldings[c] = d
		if e.HybridAllocations == nil {
			e.HybridAllocations = make(map[CauseID]TypeSplit)
		}
		if _, ok := e.HybridAllocations[c]; !ok {
			if d.Sum().IsPositive() {
				e.HybridAllocations[c] = PercentagesOf(d)
			} else {
				e.HybridAllocations[c] = TypeSplit{Revolving: hundred}
			}
		}
	}
}

// shiftBlend moves the percentage points a converted share stands for from
// the cause's revolving blend to its to blend. The triple keeps summing to
// exactly 100.
func shiftBlend(e *Endowment, c CauseID, to WaqfType, share decimal.Decimal) {
	amount := e.Financial.CauseAllocations[c]
	blend, ok := e.HybridAllocations[c]
	if !ok || !amount.IsPositive() {
		return
	}
	points := decimal.Min(blend.Revolving, share.Div(amount).Mul(hundred).Round(percentPlaces))
	blend = blend.With(TypeRevolving, blend.Revolving.Sub(points))
	e.HybridAllocations[c] = blend.With(to, blend.Get(to).Add(points))
}

// spreadOverTypes adds amount (negative for a loss) to a cause's holdings in
// proportion to what each type already holds, or by the blend when the
// cause holds nothing.
func spreadOverTypes(held TypeSplit, blend TypeSplit, amount decimal.Decimal) TypeSplit {
	basis := held
	if !held.Sum().IsPositive() {
		basis = blend
	}
	var types []WaqfType
	var weights []decimal.Decimal
	for _, t := range []WaqfType{TypePermanent, TypeConsumable, TypeRevolving} {
		if w := basis.Get(t); w.IsPositive() {
			types = append(types, t)
			weights = append(weights, w)
		}
	}
	if len(types) == 0 {
		return held.With(TypePermanent, held.Permanent.Add(amount))
	}
	shares := generic.SplitByWeights(amount, weights)
	for i, t := range types {
		held = held.With(t, held.Get(t).Add(shares[i]))
	}
	return held
}

// =============================================================================
// DIVERSIFICATION
// =============================================================================

// CategoryAmount is one cause's dollars tagged with its catalog category.
type CategoryAmount struct {
	CauseID    CauseID
	CategoryID string
	Amount     decimal.Decimal
}

// DiversificationScore rates spread across categories from 0 to 100.
//
// score = 100 * (1 - maxShare) / (1 - 1/k)
//
// where maxShare is the largest single category's share of the total and k
// is the number of categories holding money. An even spread scores 100; a
// single category, or no money at all, scores 0.
func DiversificationScore(items []CategoryAmount) int {
	byCategory := make(map[string]decimal.Decimal)
	total := decimal.Zero
	for _, it := range items {
		if !it.Amount.IsPositive() {
			continue
		}
		byCategory[it.CategoryID] = byCategory[it.CategoryID].Add(it.Amount)
		total = total.Add(it.Amount)
	}
	k := len(byCategory)
	if k < 2 || !total.IsPositive() {
		return 0
	}
	largest := decimal.Zero
	for _, v := range byCategory {
		largest = decimal.Max(largest, v)
	}
	maxShare, _ := largest.Div(total).Float64()
	evenShare := 1.0 / float64(k)
	score := 100 * (1 - maxShare) / (1 - evenShare)
	return clampScore(score)
}

// TypeMixScore rates how evenly a percentage triple spreads across the three
// waqf types: 33/33/33 scores 100, a single type scores 0.
func TypeMixScore(pct TypeSplit) int {
	ideal := 100.0 / 3
	p, _ := pct.Permanent.Float64()
	c, _ := pct.Consumable.Float64()
	r, _ := pct.Revolving.Float64()
	deviation := math.Abs(p-ideal) + math.Abs(c-ideal) + math.Abs(r-ideal)
	maxDeviation := 2 * (100 - ideal)
	return clampScore(100 - deviation/maxDeviation*100)
}

func clampScore(v float64) int {
	s := int(math.Round(v))
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
