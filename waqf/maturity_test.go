package waqf_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/waqf-engine/generic"
	"github.com/warp/waqf-engine/waqf"
)

// =============================================================================
// CLASSIFICATION
// =============================================================================

func TestRevolving_LockedUntilMaturity_ThenMatured(t *testing.T) {
	// GIVEN: $10,000 revolving endowment, 12 month lock, funded at T0
	en := newEngine()
	e := create(t, en, revolvingParams("10000", 12, "water"), t0).Endowment
	tranche := onlyTranche(t, e)
	assert.Equal(t, t0.AddMonths(12), tranche.MaturityDate)

	// WHEN: Classifying at T0+11 months
	c := en.ClassifyTranches(e, t0.AddMonths(11))
	// THEN: Locked
	require.Len(t, c.Locked, 1)
	assert.Empty(t, c.Matured)
	assert.Greater(t, c.Locked[0].DaysToMaturity, 0)
	assertMoney(t, "10000", c.Summary.Locked)
	assert.Equal(t, tranche.MaturityDate, c.Summary.NextMaturity)

	// WHEN: Classifying at T0+12 months
	c = en.ClassifyTranches(e, t0.AddMonths(12))
	// THEN: Matured and actionable
	require.Len(t, c.Matured, 1)
	assert.Empty(t, c.Locked)
	assert.True(t, c.Matured[0].AvailableAction)
	assertMoney(t, "10000", c.Summary.Matured)
}

// =============================================================================
// REFUND
// =============================================================================

func TestRefund_AtMaturity_ZeroesBalanceAndMarksReturned(t *testing.T) {
	en := newEngine()
	e := create(t, en, revolvingParams("10000", 12, "water"), t0).Endowment
	id := onlyTranche(t, e).ID
	maturity := t0.AddMonths(12)

	out, err := en.ResolveMaturity(e, id, waqf.MaturityAction{Kind: waqf.ActionRefund}, maturity)
	require.NoError(t, err)

	got := out.Endowment
	assertMoney(t, "0", got.Financial.CurrentBalance)
	assertMoney(t, "10000", got.Financial.TotalDonations)
	assertMoney(t, "10000", got.Financial.TotalDistributed)
	assertMoney(t, "10000", got.Financial.PrincipalReturned)
	assertBalanceIdentity(t, got)

	require.NotNil(t, out.Tranche)
	assert.True(t, out.Tranche.IsReturned)
	assert.Equal(t, waqf.TrancheReturned, out.Tranche.State(maturity))

	require.Len(t, out.Entries, 1)
	assert.Equal(t, generic.TxPrincipalReturn, out.Entries[0].Type)
	assertMoney(t, "-10000", out.Entries[0].Delta.Value)
}

func TestRefund_Hybrid_KeepsBlendSoNewMoneyStillLocks(t *testing.T) {
	// GIVEN: A {50, 0, 50} hybrid cause with its $500 tranche refunded
	en := newEngine()
	e := create(t, en, hybridParams("1000", map[waqf.CauseID]waqf.TypeSplit{
		"water": split("50", "0", "50"),
	}, "water"), t0).Endowment
	id := onlyTranche(t, e).ID
	maturity := t0.AddMonths(12)

	refunded, err := en.ResolveMaturity(e, id, waqf.MaturityAction{Kind: waqf.ActionRefund}, maturity)
	require.NoError(t, err)
	got := refunded.Endowment

	// THEN: The dollars left are permanent but the blend is unchanged
	assert.True(t, got.HybridAllocations["water"].Revolving.Equal(dec("50")))
	held := got.Financial.TypeHoldings["water"]
	assertMoney(t, "500", held.Permanent)
	assertMoney(t, "0", held.Revolving)
	require.NoError(t, waqf.CheckInvariants(got))

	// WHEN: The donor gives another $1,000
	out, err := en.RecordContribution(got, waqf.Contribution{Amount: dec("1000")}, maturity.AddDays(1))
	require.NoError(t, err)

	// THEN: Half of it is locked in a new tranche
	require.NotNil(t, out.Tranche)
	assertMoney(t, "500", out.Tranche.Amount)
	held = out.Endowment.Financial.TypeHoldings["water"]
	assertMoney(t, "1000", held.Permanent)
	assertMoney(t, "500", held.Revolving)
	assertMoney(t, "1500", out.Endowment.Financial.CauseAllocations["water"])
	assertBalanceIdentity(t, out.Endowment)
}

func TestResolveMaturity_Twice_AlreadyResolvedWithoutChange(t *testing.T) {
	// GIVEN: A refunded tranche
	en := newEngine()
	e := create(t, en, revolvingParams("10000", 12, "water"), t0).Endowment
	id := onlyTranche(t, e).ID
	maturity := t0.AddMonths(12)
	first, err := en.ResolveMaturity(e, id, waqf.MaturityAction{Kind: waqf.ActionRefund}, maturity)
	require.NoError(t, err)

	// WHEN: Refunding the same tranche again
	_, err = en.ResolveMaturity(first.Endowment, id, waqf.MaturityAction{Kind: waqf.ActionRefund}, maturity.AddDays(1))

	// THEN: AlreadyResolved, and the input aggregate is untouched
	require.Error(t, err)
	assert.True(t, errors.Is(err, generic.ErrAlreadyResolved))
	assertMoney(t, "10000", first.Endowment.Financial.TotalDistributed)
	assertMoney(t, "0", first.Endowment.Financial.CurrentBalance)
}

func TestConvertPermanent_OnLockedTranche_NotYetMatured(t *testing.T) {
	en := newEngine()
	e := create(t, en, revolvingParams("10000", 12, "water"), t0).Endowment
	id := onlyTranche(t, e).ID

	_, err := en.ResolveMaturity(e, id, waqf.MaturityAction{Kind: waqf.ActionConvertPermanent}, t0.AddMonths(6))

	require.Error(t, err)
	assert.True(t, errors.Is(err, generic.ErrNotYetMatured))
	assert.False(t, errors.Is(err, generic.ErrAlreadyResolved))
	var nym *generic.NotYetMaturedError
	require.ErrorAs(t, err, &nym)
	assert.Equal(t, t0.AddMonths(12), nym.MaturityDate)
}

func TestResolveMaturity_UnknownTranche(t *testing.T) {
	en := newEngine()
	e := create(t, en, revolvingParams("10000", 12, "water"), t0).Endowment

	_, err := en.ResolveMaturity(e, "nope", waqf.MaturityAction{Kind: waqf.ActionRefund}, t0.AddMonths(12))
	assert.ErrorIs(t, err, generic.ErrTrancheNotFound)
}

// =============================================================================
// ROLLOVER
// =============================================================================

func TestRollover_KeepsBalanceAndCreatesLockedSuccessor(t *testing.T) {
	en := newEngine()
	e := create(t, en, revolvingParams("10000", 12, "water"), t0).Endowment
	id := onlyTranche(t, e).ID
	maturity := t0.AddMonths(12)

	out, err := en.ResolveMaturity(e, id, waqf.MaturityAction{Kind: waqf.ActionRollover, RolloverMonths: 6}, maturity)
	require.NoError(t, err)

	got := out.Endowment
	assertMoney(t, "10000", got.Financial.CurrentBalance)
	assertMoney(t, "0", got.Financial.TotalDistributed)
	require.Len(t, got.Tranches(), 2)

	require.NotNil(t, out.Successor)
	assert.Equal(t, maturity.AddMonths(6), out.Successor.MaturityDate)
	assert.Equal(t, id, out.Successor.RolloverOriginID)
	assert.Equal(t, out.Successor.ID, out.Tranche.RolloverTargetID)

	c := en.ClassifyTranches(got, maturity)
	require.Len(t, c.RolledOver, 1)
	require.Len(t, c.Locked, 1)
	assertMoney(t, "10000", c.Summary.TotalContributed)

	require.NotEmpty(t, got.Revolving.PendingNotifications)
	assert.Equal(t, waqf.NotifyRollover, got.Revolving.PendingNotifications[0].Kind)
}

func TestRollover_MonthsOutOfRange_InvalidDuration(t *testing.T) {
	en := newEngine()
	e := create(t, en, revolvingParams("10000", 12, "water"), t0).Endowment
	id := onlyTranche(t, e).ID

	for _, months := range []int{0, 241} {
		_, err := en.ResolveMaturity(e, id, waqf.MaturityAction{Kind: waqf.ActionRollover, RolloverMonths: months}, t0.AddMonths(12))
		assert.ErrorIs(t, err, generic.ErrInvalidDuration, "months=%d", months)
	}
}

func TestRollover_ToTargetCause_MovesDollars(t *testing.T) {
	en := newEngine()
	e := create(t, en, revolvingParams("10000", 12, "water"), t0).Endowment
	id := onlyTranche(t, e).ID

	out, err := en.ResolveMaturity(e, id, waqf.MaturityAction{
		Kind: waqf.ActionRollover, RolloverMonths: 12, TargetCause: "health",
	}, t0.AddMonths(12))
	require.NoError(t, err)

	got := out.Endowment
	assert.True(t, got.HasCause("health"))
	assertMoney(t, "0", got.Financial.CauseAllocations["water"])
	assertMoney(t, "10000", got.Financial.CauseAllocations["health"])
	assertMoney(t, "100", got.CauseAllocation["health"])
	assertMoney(t, "0", got.CauseAllocation["water"])
	assertMoney(t, "10000", out.Successor.CauseSplit["health"])
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func TestConvertPermanent_PureRevolving_BecomesHybridPermanent(t *testing.T) {
	en := newEngine()
	e := create(t, en, revolvingParams("10000", 12, "water"), t0).Endowment
	id := onlyTranche(t, e).ID
	maturity := t0.AddMonths(12)

	out, err := en.ResolveMaturity(e, id, waqf.MaturityAction{Kind: waqf.ActionConvertPermanent}, maturity)
	require.NoError(t, err)

	got := out.Endowment
	assert.Equal(t, waqf.TypeHybrid, got.Type)
	assertMoney(t, "100", got.HybridAllocations["water"].Permanent)
	assertMoney(t, "0", got.HybridAllocations["water"].Revolving)
	assertMoney(t, "10000", got.Financial.CurrentBalance)

	require.NotNil(t, out.Tranche.Conversion)
	assert.Equal(t, waqf.TypePermanent, out.Tranche.Conversion.TargetType)
	require.NotNil(t, out.Tranche.Conversion.Strategy)
	assert.Equal(t, waqf.DefaultInvestmentStrategy().AssetAllocation, out.Tranche.Conversion.Strategy.AssetAllocation)
	assert.Equal(t, waqf.TrancheConverted, out.Tranche.State(maturity))

	s, err := en.ComputeAllocationSplit(got)
	require.NoError(t, err)
	assert.False(t, s.Estimated)
	assertMoney(t, "10000", s.Totals.Permanent)
}

func TestConvertPermanent_Hybrid_RaisesPermanentShareOfCause(t *testing.T) {
	// GIVEN: Hybrid cause {0/50/50} with $1,000; the $500 revolving part is a tranche
	en := newEngine()
	allocs := map[waqf.CauseID]waqf.TypeSplit{"b": split("0", "50", "50")}
	e := create(t, en, hybridParams("1000", allocs, "b"), t0).Endowment
	tr := onlyTranche(t, e)
	assertMoney(t, "500", tr.Amount)

	// WHEN: Converting it to permanent at maturity
	out, err := en.ResolveMaturity(e, tr.ID, waqf.MaturityAction{
		Kind:     waqf.ActionConvertPermanent,
		Strategy: &waqf.InvestmentStrategy{AssetAllocation: "100% Sukuk"},
	}, t0.AddMonths(12))
	require.NoError(t, err)

	// THEN: The cause becomes {50/50/0} and its triple still sums to 100
	got := out.Endowment.HybridAllocations["b"]
	assertMoney(t, "50", got.Permanent)
	assertMoney(t, "50", got.Consumable)
	assertMoney(t, "0", got.Revolving)
	assert.Equal(t, "100% Sukuk", out.Tranche.Conversion.Strategy.AssetAllocation)
	assert.Equal(t, generic.FrequencyQuarterly, out.Tranche.Conversion.Strategy.DistributionFrequency)
}

func TestConvertConsumable_CreatesSpendDown(t *testing.T) {
	en := newEngine()
	allocs := map[waqf.CauseID]waqf.TypeSplit{"b": split("0", "50", "50")}
	e := create(t, en, hybridParams("1000", allocs, "b"), t0).Endowment
	tr := onlyTranche(t, e)
	maturity := t0.AddMonths(12)

	out, err := en.ResolveMaturity(e, tr.ID, waqf.MaturityAction{
		Kind:      waqf.ActionConvertConsumable,
		Schedule:  waqf.SchedulePhased,
		StartDate: maturity,
		EndDate:   maturity.AddMonths(12),
	}, maturity)
	require.NoError(t, err)

	got := out.Endowment
	assertMoney(t, "100", got.HybridAllocations["b"].Consumable)
	assertMoney(t, "1000", got.Financial.CurrentBalance)
	require.Len(t, out.Tranche.Conversion.SpendDowns, 1)
	sd := out.Tranche.Conversion.SpendDowns[0]
	assert.Equal(t, waqf.CauseID("b"), sd.CauseID)
	assertMoney(t, "500", sd.Amount)
	require.NotNil(t, got.Consumable)
	assert.Equal(t, waqf.SchedulePhased, got.Consumable.Schedule)
}

func TestConvertConsumable_WindowTooLong_InvalidDuration(t *testing.T) {
	en := newEngine()
	e := create(t, en, revolvingParams("1000", 12, "water"), t0).Endowment
	id := onlyTranche(t, e).ID
	maturity := t0.AddMonths(12)

	_, err := en.ResolveMaturity(e, id, waqf.MaturityAction{
		Kind:      waqf.ActionConvertConsumable,
		Schedule:  waqf.SchedulePhased,
		StartDate: maturity,
		EndDate:   maturity.AddMonths(61),
	}, maturity)
	assert.ErrorIs(t, err, generic.ErrInvalidDuration)

	_, err = en.ResolveMaturity(e, id, waqf.MaturityAction{
		Kind:      waqf.ActionConvertConsumable,
		StartDate: maturity,
	}, maturity)
	assert.ErrorIs(t, err, generic.ErrInvalidDuration)
}

// =============================================================================
// EARLY WITHDRAWAL
// =============================================================================

func earlyWithdrawalParams(allowed bool) waqf.NewEndowmentParams {
	p := revolvingParams("10000", 12, "water")
	p.Revolving.EarlyWithdrawalAllowed = allowed
	p.Revolving.EarlyWithdrawalPenalty = dec("0.1")
	return p
}

func TestWithdrawEarly_PenaltyRetained(t *testing.T) {
	// GIVEN: Early withdrawal allowed with a 10% penalty
	en := newEngine()
	e := create(t, en, earlyWithdrawalParams(true), t0).Endowment
	id := onlyTranche(t, e).ID
	now := t0.AddMonths(3)

	// WHEN: Withdrawing the locked tranche
	out, err := en.WithdrawEarly(e, id, now)
	require.NoError(t, err)

	// THEN: $9,000 goes back, $1,000 stays in the endowment
	got := out.Endowment
	assertMoney(t, "9000", got.Financial.TotalDistributed)
	assertMoney(t, "1000", got.Financial.CurrentBalance)
	assertMoney(t, "1000", got.Financial.CauseAllocations["water"])
	assertMoney(t, "1000", out.Tranche.PenaltyApplied)
	assert.Equal(t, waqf.TrancheReturned, out.Tranche.State(now))
	assertBalanceIdentity(t, got)

	require.Len(t, out.Entries, 2)
	assert.Equal(t, generic.TxPrincipalReturn, out.Entries[0].Type)
	assertMoney(t, "-9000", out.Entries[0].Delta.Value)
	assert.Equal(t, generic.TxPenalty, out.Entries[1].Type)

	c := en.ClassifyTranches(got, now)
	assertMoney(t, "9000", c.Summary.Returned)
}

func TestWithdrawEarly_PureRevolving_PenaltyStaysOutsideTranches(t *testing.T) {
	// GIVEN: A pure revolving endowment after an early withdrawal
	en := newEngine()
	e := create(t, en, earlyWithdrawalParams(true), t0).Endowment
	id := onlyTranche(t, e).ID
	now := t0.AddMonths(3)
	out, err := en.WithdrawEarly(e, id, now)
	require.NoError(t, err)
	got := out.Endowment

	// THEN: The $1,000 penalty is revolving money that no tranche holds
	assertMoney(t, "0", waqf.HeldTrancheTotal(got))
	s := en.ClassifyTranches(got, now).Summary
	assertMoney(t, "0", s.Locked)
	assertMoney(t, "0", s.Matured)
	parts, err := waqf.SplitBalance(got)
	require.NoError(t, err)
	assertMoney(t, "1000", parts.Totals.Revolving)
	require.NoError(t, waqf.CheckInvariants(got))

	// WHEN: The donor contributes again
	next, err := en.RecordContribution(got, waqf.Contribution{Amount: dec("500")}, now.AddDays(1))
	require.NoError(t, err)

	// THEN: Only the new money is locked; the penalty is not swept into it
	require.NotNil(t, next.Tranche)
	assertMoney(t, "500", next.Tranche.Amount)
	assertMoney(t, "500", waqf.HeldTrancheTotal(next.Endowment))
	assertMoney(t, "1500", next.Endowment.Financial.CauseAllocations["water"])
}

func TestWithdrawEarly_NotAllowed(t *testing.T) {
	en := newEngine()
	e := create(t, en, earlyWithdrawalParams(false), t0).Endowment
	id := onlyTranche(t, e).ID

	_, err := en.WithdrawEarly(e, id, t0.AddMonths(3))
	assert.ErrorIs(t, err, generic.ErrEarlyWithdrawalNotAllowed)
}

func TestWithdrawEarly_AfterMaturity_Rejected(t *testing.T) {
	en := newEngine()
	e := create(t, en, earlyWithdrawalParams(true), t0).Endowment
	id := onlyTranche(t, e).ID

	_, err := en.WithdrawEarly(e, id, t0.AddMonths(13))
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

func TestRefund_InInstallments_PaidOverTime(t *testing.T) {
	// GIVEN: $1,000 revolving returned in 4 quarterly installments
	en := newEngine()
	p := revolvingParams("1000", 12, "water")
	p.Revolving.ReturnMethod = waqf.ReturnInstallments
	p.Revolving.InstallmentSchedule = &waqf.InstallmentSchedule{Count: 4, Frequency: generic.FrequencyQuarterly}
	e := create(t, en, p, t0).Endowment
	id := onlyTranche(t, e).ID
	maturity := t0.AddMonths(12)

	// WHEN: Refunding at maturity
	out, err := en.ResolveMaturity(e, id, waqf.MaturityAction{Kind: waqf.ActionRefund}, maturity)
	require.NoError(t, err)

	// THEN: A schedule exists and no money moved yet
	assert.Equal(t, waqf.TrancheReturnScheduled, out.Tranche.State(maturity))
	require.Len(t, out.Tranche.Installments, 4)
	assertMoney(t, "250", out.Tranche.Installments[0].Amount)
	assert.Equal(t, maturity.AddDays(90), out.Tranche.Installments[0].DueDate)
	assertMoney(t, "1000", out.Endowment.Financial.CurrentBalance)
	assert.Empty(t, out.Entries)

	// AND: Resolving again is refused
	_, err = en.ResolveMaturity(out.Endowment, id, waqf.MaturityAction{Kind: waqf.ActionRefund}, maturity)
	assert.ErrorIs(t, err, generic.ErrAlreadyResolved)

	// WHEN: Paying every installment
	cur := out.Endowment
	for i, inst := range out.Tranche.Installments {
		paid, err := en.PayInstallment(cur, id, inst.ID, inst.DueDate)
		require.NoError(t, err, "installment %d", i)
		cur = paid.Endowment
		assertBalanceIdentity(t, cur)

		_, err = en.PayInstallment(cur, id, inst.ID, inst.DueDate)
		if i < 3 {
			assert.ErrorIs(t, err, generic.ErrAlreadyResolved)
		}
	}

	// THEN: The tranche is returned and the balance is zero
	last := onlyTranche(t, cur)
	assert.Equal(t, waqf.TrancheReturned, last.State(maturity.AddYears(2)))
	assertMoney(t, "0", cur.Financial.CurrentBalance)
	assertMoney(t, "1000", cur.Financial.PrincipalReturned)
}

func TestPayInstallment_UnknownInstallment(t *testing.T) {
	en := newEngine()
	p := revolvingParams("1000", 12, "water")
	p.Revolving.ReturnMethod = waqf.ReturnInstallments
	p.Revolving.InstallmentSchedule = &waqf.InstallmentSchedule{Count: 2, Frequency: generic.FrequencyMonthly}
	e := create(t, en, p, t0).Endowment
	id := onlyTranche(t, e).ID
	out, err := en.ResolveMaturity(e, id, waqf.MaturityAction{Kind: waqf.ActionRefund}, t0.AddMonths(12))
	require.NoError(t, err)

	_, err = en.PayInstallment(out.Endowment, id, "missing", t0.AddMonths(13))
	assert.ErrorIs(t, err, generic.ErrInstallmentNotFound)
}

func TestClassify_IsPureFunctionOfClock(t *testing.T) {
	en := newEngine()
	e := create(t, en, revolvingParams("500", 1, "water"), t0).Endowment

	before := en.ClassifyTranches(e, t0.Add(time.Hour))
	after := en.ClassifyTranches(e, t0.AddMonths(1))
	again := en.ClassifyTranches(e, t0.Add(time.Hour))

	assert.Len(t, before.Locked, 1)
	assert.Len(t, after.Matured, 1)
	assert.Equal(t, before, again)
}
