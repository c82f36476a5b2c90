package waqf

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/waqf-engine/generic"
)

// =============================================================================
// CONTRIBUTIONS - Money in
// =============================================================================

// Contribution is a confirmed payment to be booked on an endowment.
// Routing maps causes to percentages of the amount; empty routing follows
// the endowment's current cause percentages, or an even split.
type Contribution struct {
	Amount     decimal.Decimal
	Routing    map[CauseID]decimal.Decimal
	PaymentID  string
	Preference *ExpirationPreference
}

// RecordContribution books a contribution. Consumable endowments must pass
// CanAcceptContribution first; revolving and hybrid endowments get a new
// locked tranche for the revolving part of the money.
func (en *Engine) RecordContribution(e Endowment, c Contribution, now generic.TimePoint) (Outcome, error) {
	if !c.Amount.IsPositive() {
		return Outcome{}, fmt.Errorf("%w: contribution must be positive, got %s", generic.ErrInvalidAmount, c.Amount)
	}
	if err := requireActive(e); err != nil {
		return Outcome{}, err
	}

	next := e.Clone()
	if e.Type == TypeConsumable {
		decision, err := CanAcceptContribution(e, c.Amount, now)
		if err != nil {
			return Outcome{}, err
		}
		if decision.UpdatedDetails != nil {
			d := decision.UpdatedDetails.clone()
			next.Consumable = &d
		}
	}

	tranche, err := en.bookContribution(&next, c, now)
	if err != nil {
		return Outcome{}, err
	}
	next.UpdatedAt = now

	reconciled, err := Reconcile(e, next)
	if err != nil {
		return Outcome{}, err
	}
	donation := en.entry(reconciled, generic.TxDonation, c.Amount, trancheID(tranche), "contribution", now)
	donation.ReferenceID = c.PaymentID
	if c.PaymentID != "" {
		donation.IdempotencyKey = "donation:" + c.PaymentID
	}
	return Outcome{Endowment: reconciled, Entries: []generic.Transaction{donation}, Tranche: tranche}, nil
}

// bookContribution adds the money to the totals and cause dollars and, for
// tranche-tracking types, appends the new tranche. Shared with creation.
func (en *Engine) bookContribution(e *Endowment, c Contribution, now generic.TimePoint) (*Tranche, error) {
	causes, shares, err := routeAmount(*e, c.Amount, c.Routing)
	if err != nil {
		return nil, err
	}
	if c.Preference != nil {
		if err := c.Preference.Validate(); err != nil {
			return nil, err
		}
	}

	if e.Financial.CauseAllocations == nil {
		e.Financial.CauseAllocations = make(map[CauseID]decimal.Decimal, len(causes))
	}
	var holdings map[CauseID]TypeSplit
	if e.Type == TypeHybrid {
		holdings = typeDollars(*e)
	}
	trancheSplit := make(map[CauseID]decimal.Decimal)
	trancheTotal := decimal.Zero
	for i, cause := range causes {
		share := shares[i]

		var locked decimal.Decimal
		switch e.Type {
		case TypeHybrid:
			blend, ok := e.HybridAllocations[cause]
			if !ok {
				return nil, &generic.AllocationError{CauseID: string(cause), Message: "hybrid allocation missing"}
			}
			parts := SplitByPercent(share, blend)
			holdings[cause] = holdings[cause].Add(parts)
			locked = parts.Revolving
		case TypeRevolving:
			e.Financial.CauseAllocations[cause] = e.Financial.CauseAllocations[cause].Add(share)
			locked = share
		default:
			e.Financial.CauseAllocations[cause] = e.Financial.CauseAllocations[cause].Add(share)
			continue
		}
		if locked.IsPositive() {
			trancheSplit[cause] = locked
			trancheTotal = trancheTotal.Add(locked)
		}
	}
	if holdings != nil {
		applyTypeDollars(e, holdings)
	}
	e.Financial.TotalDonations = e.Financial.TotalDonations.Add(c.Amount)

	if !trancheTotal.IsPositive() || e.Revolving == nil {
		return nil, nil
	}
	pref := c.Preference
	if pref == nil && e.Revolving.DefaultPreference != nil {
		p := e.Revolving.DefaultPreference.clone()
		pref = &p
	}
	t := Tranche{
		ID:               TrancheID(en.newID()),
		Amount:           trancheTotal,
		CauseSplit:       trancheSplit,
		ContributionDate: now,
		MaturityDate:     now.AddMonths(e.Revolving.LockPeriodMonths),
		Status:           TrancheLocked,
		Preference:       pref,
	}
	e.Revolving.Tranches = append(e.Revolving.Tranches, t)
	return &t, nil
}

// routeAmount splits amount over causes. Explicit routing must name selected
// causes with non-negative percentages totalling 100.
func routeAmount(e Endowment, amount decimal.Decimal, routing map[CauseID]decimal.Decimal) ([]CauseID, []decimal.Decimal, error) {
	if len(e.SelectedCauses) == 0 {
		return nil, nil, &generic.AllocationError{Message: "endowment has no causes"}
	}

	var causes []CauseID
	var weights []decimal.Decimal
	if len(routing) > 0 {
		total := decimal.Zero
		for c, pct := range routing {
			if !e.HasCause(c) {
				return nil, nil, &generic.AllocationError{CauseID: string(c), Message: "cause is not selected"}
			}
			if pct.IsNegative() {
				return nil, nil, &generic.AllocationError{CauseID: string(c), Sum: pct, Message: "percentage cannot be negative"}
			}
			total = total.Add(pct)
		}
		if total.Sub(hundred).Abs().GreaterThan(PercentTolerance) {
			return nil, nil, &generic.AllocationError{Sum: total, Message: "routing must total 100%"}
		}
		for _, c := range e.SelectedCauses {
			if pct, ok := routing[c]; ok && pct.IsPositive() {
				causes = append(causes, c)
				weights = append(weights, pct)
			}
		}
		return causes, generic.SplitByWeights(amount, weights), nil
	}

	anyWeight := false
	for _, c := range e.SelectedCauses {
		w := e.CauseAllocation[c]
		causes = append(causes, c)
		weights = append(weights, w)
		if w.IsPositive() {
			anyWeight = true
		}
	}
	if !anyWeight {
		return causes, generic.SplitEvenly(amount, len(causes)), nil
	}
	return causes, generic.SplitByWeights(amount, weights), nil
}

func trancheID(t *Tranche) TrancheID {
	if t == nil {
		return ""
	}
	return t.ID
}

// =============================================================================
// DISTRIBUTIONS - Money out to beneficiaries
// =============================================================================

// Distribution is a payout to beneficiaries. CauseID empty spreads it over
// every cause by its dollars. FromType picks the hybrid share paid from and
// defaults to consumable.
type Distribution struct {
	Amount        decimal.Decimal
	CauseID       CauseID
	FromType      WaqfType
	Reference     string
	Beneficiaries int
}

// RecordDistribution books a payout. It cannot exceed the money available in
// the chosen cause and share.
func (en *Engine) RecordDistribution(e Endowment, d Distribution, now generic.TimePoint) (Outcome, error) {
	if !d.Amount.IsPositive() {
		return Outcome{}, fmt.Errorf("%w: distribution must be positive, got %s", generic.ErrInvalidAmount, d.Amount)
	}
	if d.Amount.GreaterThan(e.Financial.CurrentBalance) {
		return Outcome{}, fmt.Errorf("%w: distribution %s exceeds balance %s",
			generic.ErrInvalidAmount, d.Amount, e.Financial.CurrentBalance)
	}
	if d.Beneficiaries < 0 {
		return Outcome{}, fmt.Errorf("%w: beneficiaries cannot be negative", generic.ErrInvalidInput)
	}

	from := d.FromType
	if e.Type != TypeHybrid {
		from = e.Type
	} else if from == "" {
		from = TypeConsumable
	}

	next := e.Clone()
	if len(next.Financial.CauseAllocations) > 0 {
		dollars := typeDollars(next)
		var causes []CauseID
		var weights []decimal.Decimal
		if d.CauseID != "" {
			if _, ok := dollars[d.CauseID]; !ok {
				return Outcome{}, fmt.Errorf("%w: %s holds no money in this endowment", generic.ErrCauseNotFound, d.CauseID)
			}
			causes = []CauseID{d.CauseID}
			weights = []decimal.Decimal{decimal.NewFromInt(1)}
		} else {
			for _, c := range causeOrder(next) {
				if v := dollars[c].Get(from); v.IsPositive() {
					causes = append(causes, c)
					weights = append(weights, v)
				}
			}
		}
		available := decimal.Zero
		for _, c := range causes {
			available = available.Add(dollars[c].Get(from))
		}
		if d.Amount.GreaterThan(available) {
			return Outcome{}, fmt.Errorf("%w: distribution %s exceeds %s funds %s",
				generic.ErrInvalidAmount, d.Amount, from, available)
		}
		shares := generic.SplitByWeights(d.Amount, weights)
		for i, c := range causes {
			dollars[c] = releaseFromType(dollars[c], from, shares[i])
		}
		applyTypeDollars(&next, dollars)
	}

	next.Financial.TotalDistributed = next.Financial.TotalDistributed.Add(d.Amount)
	next.Financial.BeneficiariesReached += d.Beneficiaries
	next.UpdatedAt = now

	reconciled, err := Reconcile(e, next)
	if err != nil {
		return Outcome{}, err
	}
	entry := en.entry(reconciled, generic.TxDistribution, d.Amount.Neg(), "", "distribution", now)
	entry.ReferenceID = d.Reference
	if d.CauseID != "" {
		entry.Metadata = map[string]string{"cause_id": string(d.CauseID)}
	}
	return Outcome{Endowment: reconciled, Entries: []generic.Transaction{entry}}, nil
}

// =============================================================================
// INVESTMENT RETURNS - Recorded, not modeled
// =============================================================================

// RecordInvestmentReturn books a realized return (negative for a loss). The
// return is spread over causes by their dollars, and within a hybrid cause
// over the types it holds, without changing any blend. GrowthRate becomes
// cumulative return over principal.
func (en *Engine) RecordInvestmentReturn(e Endowment, amount decimal.Decimal, reference string, now generic.TimePoint) (Outcome, error) {
	if amount.IsZero() {
		return Outcome{}, fmt.Errorf("%w: investment return cannot be zero", generic.ErrInvalidAmount)
	}
	if e.Financial.CurrentBalance.Add(amount).IsNegative() {
		return Outcome{}, fmt.Errorf("%w: loss %s exceeds balance %s",
			generic.ErrInvalidAmount, amount.Neg(), e.Financial.CurrentBalance)
	}

	next := e.Clone()
	if len(next.Financial.CauseAllocations) > 0 {
		causes := causeOrder(next)
		weights := make([]decimal.Decimal, len(causes))
		for i, c := range causes {
			weights[i] = next.Financial.CauseAllocations[c]
		}
		shares := generic.SplitByWeights(amount, weights)
		if next.Type == TypeHybrid {
			dollars := typeDollars(next)
			for i, c := range causes {
				dollars[c] = spreadOverTypes(dollars[c], next.HybridAllocations[c], shares[i])
			}
			applyTypeDollars(&next, dollars)
		} else {
			for i, c := range causes {
				next.Financial.CauseAllocations[c] = next.Financial.CauseAllocations[c].Add(shares[i])
			}
		}
	}
	next.Financial.TotalInvestmentReturn = next.Financial.TotalInvestmentReturn.Add(amount)
	if next.Principal.IsPositive() {
		next.Financial.GrowthRate = next.Financial.TotalInvestmentReturn.
			Div(next.Principal).Mul(hundred).Round(2)
	}
	next.UpdatedAt = now

	reconciled, err := Reconcile(e, next)
	if err != nil {
		return Outcome{}, err
	}
	entry := en.entry(reconciled, generic.TxInvestmentReturn, amount, "", "investment return", now)
	entry.ReferenceID = reference
	return Outcome{Endowment: reconciled, Entries: []generic.Transaction{entry}}, nil
}
