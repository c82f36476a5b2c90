/*
maturity.go - Tranche state machine

STATES (derived per tranche, see Tranche.State):

  Locked ──(now ≥ maturity)──▶ Matured ──refund──────────▶ Returned
     │                            │  ──refund (installments)▶ ReturnScheduled ──last payment──▶ Returned
     │                            │  ──rollover─────────────▶ RolledOver (+ new Locked tranche)
     │                            │  ──convert_permanent────▶ Converted
     │                            └─ ──convert_consumable───▶ Converted
     └──early withdrawal (if allowed, penalty retained)─────▶ Returned

  Every action other than early withdrawal is only valid from Matured.
  Acting on a Locked tranche fails with ErrNotYetMatured; acting on any
  terminal tranche fails with ErrAlreadyResolved and changes nothing.

FINANCIAL EFFECTS:
  refund             TotalDistributed += principal (balance drops by it)
  installment        TotalDistributed += installment, per payment
  early withdrawal   TotalDistributed += principal - penalty
  rollover           none; dollars optionally move to the target cause
  convert_*          none; dollars move from the revolving share of each
                     cause to its permanent or consumable share, and the
                     cause's blend follows. No other action touches the blend.

SEE ALSO:
  - tranche.go: State derivation
  - preference.go: Pre-selected actions executed by the sweeper
*/
package waqf

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/waqf-engine/generic"
)

// MaturityAction is one of the four maturity actions with its parameters.
type MaturityAction struct {
	Kind           ExpirationAction
	RolloverMonths int
	TargetCause    CauseID
	Strategy       *InvestmentStrategy
	Schedule       SpendingSchedule
	StartDate      generic.TimePoint
	EndDate        generic.TimePoint
}

// ResolveMaturity applies action to a matured tranche.
func (en *Engine) ResolveMaturity(e Endowment, id TrancheID, action MaturityAction, now generic.TimePoint) (Outcome, error) {
	idx, err := actionableTranche(e, id, now)
	if err != nil {
		return Outcome{}, err
	}

	next := e.Clone()
	next.UpdatedAt = now
	var out Outcome
	switch action.Kind {
	case ActionRefund:
		out, err = en.refund(next, idx, now)
	case ActionRollover:
		out, err = en.rollover(next, idx, action, now)
	case ActionConvertPermanent:
		out, err = en.convertPermanent(next, idx, action, now)
	case ActionConvertConsumable:
		out, err = en.convertConsumable(next, idx, action, now)
	default:
		err = fmt.Errorf("%w: unknown maturity action %q", generic.ErrInvalidInput, action.Kind)
	}
	if err != nil {
		return Outcome{}, err
	}

	reconciled, err := Reconcile(e, out.Endowment)
	if err != nil {
		return Outcome{}, err
	}
	out.Endowment = reconciled
	resolved := reconciled.Revolving.Tranches[idx]
	out.Tranche = &resolved
	for i := range out.Entries {
		out.Entries[i].IdempotencyKey = fmt.Sprintf("resolve:%s:%d", id, i)
	}
	return out, nil
}

// actionableTranche finds the tranche and checks it is Matured.
func actionableTranche(e Endowment, id TrancheID, now generic.TimePoint) (int, error) {
	idx := e.FindTranche(id)
	if idx < 0 {
		return -1, fmt.Errorf("%w: %s", generic.ErrTrancheNotFound, id)
	}
	t := e.Revolving.Tranches[idx]
	switch state := t.State(now); state {
	case TrancheMatured:
		return idx, nil
	case TrancheLocked:
		return -1, &generic.NotYetMaturedError{TrancheID: string(id), MaturityDate: t.MaturityDate}
	default:
		return -1, &generic.AlreadyResolvedError{TrancheID: string(id), State: string(state)}
	}
}

// =============================================================================
// REFUND
// =============================================================================

func (en *Engine) refund(e Endowment, idx int, now generic.TimePoint) (Outcome, error) {
	t := &e.Revolving.Tranches[idx]
	rd := e.Revolving

	if rd.ReturnMethod == ReturnInstallments && rd.InstallmentSchedule != nil {
		sched := *rd.InstallmentSchedule
		count := sched.Count
		if count < 1 {
			count = 1
		}
		amounts := generic.SplitEvenly(t.Amount, count)
		dates := sched.Frequency.Occurrences(now, count)
		t.Installments = make([]Installment, count)
		for i := range amounts {
			t.Installments[i] = Installment{
				ID:      fmt.Sprintf("%s-inst-%d", t.ID, i+1),
				Amount:  amounts[i],
				DueDate: dates[i],
				Status:  InstallmentScheduled,
			}
		}
		t.Status = TrancheReturnScheduled
		notify(&e, now, t.ID, NotifyInstallments,
			fmt.Sprintf("Installment schedule created for tranche %s. Total to return: %s",
				t.ID, t.Amount.StringFixed(2)))
		return Outcome{Endowment: e}, nil
	}

	tranche := *t
	t.IsReturned = true
	t.Status = TrancheReturned
	t.ReturnedAt = now
	releaseTranchePrincipal(&e, tranche, tranche.Amount)
	e.Financial.TotalDistributed = e.Financial.TotalDistributed.Add(tranche.Amount)
	e.Financial.PrincipalReturned = e.Financial.PrincipalReturned.Add(tranche.Amount)

	entry := en.entry(e, generic.TxPrincipalReturn, tranche.Amount.Neg(), tranche.ID, "refund at maturity", now)
	return Outcome{Endowment: e, Entries: []generic.Transaction{entry}}, nil
}

// =============================================================================
// ROLLOVER
// =============================================================================

func (en *Engine) rollover(e Endowment, idx int, action MaturityAction, now generic.TimePoint) (Outcome, error) {
	if err := validateMonths("rollover_months", action.RolloverMonths, MinLockMonths, MaxLockMonths); err != nil {
		return Outcome{}, err
	}
	old := e.Revolving.Tranches[idx]

	successor := Tranche{
		ID:               TrancheID(en.newID()),
		Amount:           old.Amount,
		CauseSplit:       cloneMoney(old.CauseSplit),
		ContributionDate: now,
		MaturityDate:     now.AddMonths(action.RolloverMonths),
		Status:           TrancheLocked,
		RolloverOriginID: old.ID,
	}
	if old.Preference != nil {
		p := old.Preference.clone()
		successor.Preference = &p
	}

	target := action.TargetCause
	if target != "" {
		moveTrancheToCause(&e, old, target)
		successor.CauseSplit = map[CauseID]decimal.Decimal{target: old.Amount}
	}

	t := &e.Revolving.Tranches[idx]
	t.Status = TrancheRolledOver
	t.RolloverTargetID = successor.ID
	e.Revolving.Tranches = append(e.Revolving.Tranches, successor)

	msg := fmt.Sprintf("Matured tranche %s rolled over into %s for %d months", old.ID, successor.ID, action.RolloverMonths)
	if target != "" {
		msg = fmt.Sprintf("Matured tranche %s rolled over into %s for cause %s", old.ID, successor.ID, target)
	}
	notify(&e, now, old.ID, NotifyRollover, msg)

	entry := en.entry(e, generic.TxRollover, old.Amount, old.ID, "rollover", now)
	entry.Metadata = map[string]string{"successor_id": string(successor.ID)}
	if target != "" {
		entry.Metadata["target_cause"] = string(target)
	}
	return Outcome{Endowment: e, Entries: []generic.Transaction{entry}, Successor: &successor}, nil
}

// moveTrancheToCause re-routes a tranche's principal to target, keeping it
// in the revolving share. Unselected targets become selected causes.
func moveTrancheToCause(e *Endowment, t Tranche, target CauseID) {
	if !e.HasCause(target) {
		e.SelectedCauses = append(e.SelectedCauses, target)
	}
	causes, weights := trancheWeights(*e, t)
	shares := generic.SplitByWeights(t.Amount, weights)
	dollars := typeDollars(*e)
	typ := trancheType(*e)
	for i, c := range causes {
		dollars[c] = releaseFromType(dollars[c], typ, shares[i])
	}
	d := dollars[target]
	dollars[target] = d.With(typ, d.Get(typ).Add(t.Amount))
	applyTypeDollars(e, dollars)
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func (en *Engine) convertPermanent(e Endowment, idx int, action MaturityAction, now generic.TimePoint) (Outcome, error) {
	strategy := DefaultInvestmentStrategy()
	if action.Strategy != nil {
		strategy = action.Strategy.withDefaults()
	}
	if !strategy.DistributionFrequency.IsValid() {
		return Outcome{}, fmt.Errorf("%w: invalid distribution frequency %q",
			generic.ErrInvalidInput, strategy.DistributionFrequency)
	}

	t := e.Revolving.Tranches[idx]
	shiftTranche(&e, t, TypePermanent)
	e.Revolving.Tranches[idx].Conversion = &ConversionDetails{
		TargetType:  TypePermanent,
		ConvertedAt: now,
		Strategy:    &strategy,
	}
	notify(&e, now, t.ID, NotifyConversion,
		fmt.Sprintf("Tranche %s converted to permanent endowment (%s)", t.ID, strategy.AssetAllocation))

	entry := en.entry(e, generic.TxConversion, t.Amount, t.ID, "convert to permanent", now)
	entry.Metadata = map[string]string{"target_type": string(TypePermanent)}
	return Outcome{Endowment: e, Entries: []generic.Transaction{entry}}, nil
}

func (en *Engine) convertConsumable(e Endowment, idx int, action MaturityAction, now generic.TimePoint) (Outcome, error) {
	schedule := action.Schedule
	if schedule == "" {
		schedule = SchedulePhased
	}
	if !schedule.IsValid() {
		return Outcome{}, fmt.Errorf("%w: invalid consumable schedule %q", generic.ErrInvalidInput, schedule)
	}
	start := action.StartDate
	if start.IsZero() {
		start = now
	}
	end := action.EndDate
	if end.IsZero() || !end.After(start) {
		return Outcome{}, fmt.Errorf("%w: consumable schedule must end after it starts", generic.ErrInvalidDuration)
	}
	if end.After(start.AddMonths(MaxConsumableDuration)) {
		return Outcome{}, &generic.DurationError{
			Field:  "consumable_duration_months",
			Months: int(generic.MonthsBetween(start, end)),
			Min:    MinConsumableDuration,
			Max:    MaxConsumableDuration,
		}
	}

	t := e.Revolving.Tranches[idx]
	shiftTranche(&e, t, TypeConsumable)

	causes, weights := trancheWeights(e, t)
	shares := generic.SplitByWeights(t.Amount, weights)
	spendDowns := make([]SpendDown, len(causes))
	for i, c := range causes {
		spendDowns[i] = SpendDown{CauseID: c, Amount: shares[i], Schedule: schedule, StartDate: start, EndDate: end}
	}
	e.Revolving.Tranches[idx].Conversion = &ConversionDetails{
		TargetType:  TypeConsumable,
		ConvertedAt: now,
		SpendDowns:  spendDowns,
	}
	if e.Consumable == nil {
		e.Consumable = &ConsumableDetails{Schedule: schedule, StartDate: start, EndDate: end}
	}
	notify(&e, now, t.ID, NotifyConversion,
		fmt.Sprintf("Tranche %s converted to consumable (%s until %s)", t.ID, schedule, end))

	entry := en.entry(e, generic.TxConversion, t.Amount, t.ID, "convert to consumable", now)
	entry.Metadata = map[string]string{"target_type": string(TypeConsumable), "schedule": string(schedule)}
	return Outcome{Endowment: e, Entries: []generic.Transaction{entry}}, nil
}

// shiftTranche moves a tranche's dollars from the revolving share of each
// of its causes into the to share, promoting pure revolving endowments to
// hybrid first. The cause's to-percentage rises by the points the moved
// dollars stand for, and its revolving percentage falls by the same.
func shiftTranche(e *Endowment, t Tranche, to WaqfType) {
	promoteToHybrid(e)
	causes, weights := trancheWeights(*e, t)
	shares := generic.SplitByWeights(t.Amount, weights)
	dollars := typeDollars(*e)
	for i, c := range causes {
		d := releaseFromType(dollars[c], TypeRevolving, shares[i])
		dollars[c] = d.With(to, d.Get(to).Add(shares[i]))
		shiftBlend(e, c, to, shares[i])
	}
	applyTypeDollars(e, dollars)
}

// =============================================================================
// EARLY WITHDRAWAL
// =============================================================================

// WithdrawEarly returns a locked tranche before maturity, keeping the
// endowment's penalty. Penalty dollars stay in the endowment; in hybrids they
// move to the cause's permanent share. A pure revolving endowment has no
// other share, so there they stay revolving dollars that no tranche holds.
func (en *Engine) WithdrawEarly(e Endowment, id TrancheID, now generic.TimePoint) (Outcome, error) {
	if err := requireActive(e); err != nil {
		return Outcome{}, err
	}
	idx := e.FindTranche(id)
	if idx < 0 {
		return Outcome{}, fmt.Errorf("%w: %s", generic.ErrTrancheNotFound, id)
	}
	t := e.Revolving.Tranches[idx]
	switch state := t.State(now); state {
	case TrancheLocked:
	case TrancheMatured:
		return Outcome{}, fmt.Errorf("%w: tranche %s has matured, use a maturity action", generic.ErrInvalidInput, id)
	default:
		return Outcome{}, &generic.AlreadyResolvedError{TrancheID: string(id), State: string(state)}
	}
	if !e.Revolving.EarlyWithdrawalAllowed {
		return Outcome{}, fmt.Errorf("%w: %s", generic.ErrEarlyWithdrawalNotAllowed, e.ID)
	}

	rate := e.Revolving.EarlyWithdrawalPenalty
	penalty := t.Amount.Mul(rate).Round(generic.MoneyPlaces)
	returned := t.Amount.Sub(penalty)

	next := e.Clone()
	next.UpdatedAt = now
	causes, weights := trancheWeights(next, t)
	penaltyShares := generic.SplitByWeights(penalty, weights)
	trancheShares := generic.SplitByWeights(t.Amount, weights)
	dollars := typeDollars(next)
	for i, c := range causes {
		if next.Type == TypeHybrid {
			d := releaseFromType(dollars[c], TypeRevolving, trancheShares[i])
			dollars[c] = d.With(TypePermanent, d.Permanent.Add(penaltyShares[i]))
		} else {
			dollars[c] = releaseFromType(dollars[c], next.Type, trancheShares[i].Sub(penaltyShares[i]))
		}
	}
	applyTypeDollars(&next, dollars)

	tp := &next.Revolving.Tranches[idx]
	tp.IsReturned = true
	tp.Status = TrancheReturned
	tp.ReturnedAt = now
	tp.PenaltyApplied = penalty
	next.Financial.TotalDistributed = next.Financial.TotalDistributed.Add(returned)
	next.Financial.PrincipalReturned = next.Financial.PrincipalReturned.Add(returned)
	notify(&next, now, id, NotifyEarlyWithdrawal,
		fmt.Sprintf("Early withdrawal processed for tranche %s. Penalty applied: %s",
			id, penalty.StringFixed(2)))

	reconciled, err := Reconcile(e, next)
	if err != nil {
		return Outcome{}, err
	}
	entries := []generic.Transaction{
		en.entry(reconciled, generic.TxPrincipalReturn, returned.Neg(), id, "early withdrawal", now),
	}
	if penalty.IsPositive() {
		entries = append(entries, en.entry(reconciled, generic.TxPenalty, penalty, id, "early withdrawal penalty retained", now))
	}
	for i := range entries {
		entries[i].IdempotencyKey = fmt.Sprintf("withdraw:%s:%d", id, i)
	}
	w := reconciled.Revolving.Tranches[idx]
	return Outcome{Endowment: reconciled, Entries: entries, Tranche: &w}, nil
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

// PayInstallment settles one scheduled installment of a tranche being
// returned in installments. The last payment marks the tranche Returned.
func (en *Engine) PayInstallment(e Endowment, id TrancheID, installmentID string, now generic.TimePoint) (Outcome, error) {
	idx := e.FindTranche(id)
	if idx < 0 {
		return Outcome{}, fmt.Errorf("%w: %s", generic.ErrTrancheNotFound, id)
	}
	t := e.Revolving.Tranches[idx]
	switch state := t.State(now); state {
	case TrancheReturnScheduled:
	case TrancheReturned:
		return Outcome{}, &generic.AlreadyResolvedError{TrancheID: string(id), State: string(state)}
	default:
		return Outcome{}, fmt.Errorf("%w: tranche %s has no installment schedule (%s)", generic.ErrInvalidInput, id, state)
	}
	instIdx := -1
	for i, inst := range t.Installments {
		if inst.ID == installmentID {
			instIdx = i
		}
	}
	if instIdx < 0 {
		return Outcome{}, fmt.Errorf("%w: %s", generic.ErrInstallmentNotFound, installmentID)
	}
	inst := t.Installments[instIdx]
	if inst.Status == InstallmentPaid {
		return Outcome{}, &generic.AlreadyResolvedError{TrancheID: installmentID, State: string(InstallmentPaid)}
	}

	next := e.Clone()
	next.UpdatedAt = now
	releaseTranchePrincipal(&next, t, inst.Amount)
	next.Financial.TotalDistributed = next.Financial.TotalDistributed.Add(inst.Amount)
	next.Financial.PrincipalReturned = next.Financial.PrincipalReturned.Add(inst.Amount)

	tp := &next.Revolving.Tranches[idx]
	tp.Installments[instIdx].Status = InstallmentPaid
	tp.Installments[instIdx].PaidAt = now
	if tp.Outstanding().IsZero() {
		tp.IsReturned = true
		tp.Status = TrancheReturned
		tp.ReturnedAt = now
		notify(&next, now, id, NotifyReturnCompleted,
			fmt.Sprintf("All installments paid for tranche %s", id))
	}

	reconciled, err := Reconcile(e, next)
	if err != nil {
		return Outcome{}, err
	}
	entry := en.entry(reconciled, generic.TxInstallment, inst.Amount.Neg(), id, "installment", now)
	entry.ReferenceID = installmentID
	entry.IdempotencyKey = "installment:" + installmentID
	paid := reconciled.Revolving.Tranches[idx]
	return Outcome{Endowment: reconciled, Entries: []generic.Transaction{entry}, Tranche: &paid}, nil
}
