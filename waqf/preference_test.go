package waqf_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/waqf-engine/generic"
	"github.com/warp/waqf-engine/waqf"
)

func TestParseExpirationAction(t *testing.T) {
	tests := map[string]waqf.ExpirationAction{
		"refund":             waqf.ActionRefund,
		"Rollover":           waqf.ActionRollover,
		"convert_permanent":  waqf.ActionConvertPermanent,
		"convertToPermanent": waqf.ActionConvertPermanent,
		"convert-consumable": waqf.ActionConvertConsumable,
	}
	for in, want := range tests {
		got, err := waqf.ParseExpirationAction(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := waqf.ParseExpirationAction("donate")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestExpirationPreference_ToAction(t *testing.T) {
	now := t0.AddMonths(12)

	roll := waqf.ExpirationPreference{Action: waqf.ActionRollover}.ToAction(18, now)
	assert.Equal(t, 18, roll.RolloverMonths)

	con := waqf.ExpirationPreference{Action: waqf.ActionConvertConsumable}.ToAction(18, now)
	assert.Equal(t, waqf.SchedulePhased, con.Schedule)
	assert.Equal(t, now, con.StartDate)
	assert.Equal(t, now.AddMonths(waqf.DefaultConsumableDuration), con.EndDate)

	assert.ErrorIs(t, waqf.ExpirationPreference{Action: waqf.ActionConvertConsumable, ConsumableDurationMonths: 61}.Validate(),
		generic.ErrInvalidDuration)
	assert.ErrorIs(t, waqf.ExpirationPreference{Action: "donate"}.Validate(), generic.ErrInvalidInput)
}

// =============================================================================
// SWEEP
// =============================================================================

func TestApplyExpirationPreferences_ResolvesMaturedTranches(t *testing.T) {
	// GIVEN: A default rollover preference, and a second tranche that asked for a refund
	en := newEngine()
	p := revolvingParams("10000", 12, "water")
	p.Revolving.DefaultPreference = &waqf.ExpirationPreference{Action: waqf.ActionRollover}
	e := create(t, en, p, t0).Endowment
	first := onlyTranche(t, e).ID

	added, err := en.RecordContribution(e, waqf.Contribution{
		Amount:     dec("500"),
		Preference: &waqf.ExpirationPreference{Action: waqf.ActionRefund},
	}, t0.AddMonths(1))
	require.NoError(t, err)
	second := added.Tranche.ID

	// WHEN: Sweeping after both matured
	now := t0.AddMonths(14)
	out, result, err := en.ApplyExpirationPreferences(added.Endowment, now)
	require.NoError(t, err)

	// THEN: The first rolled over for the lock period, the second was refunded
	assert.False(t, out.Unchanged)
	assert.ElementsMatch(t, []waqf.TrancheID{first, second}, result.Applied)
	assert.Empty(t, result.Failed)

	got := out.Endowment
	assertMoney(t, "10000", got.Financial.CurrentBalance)
	assertMoney(t, "500", got.Financial.PrincipalReturned)
	assertBalanceIdentity(t, got)

	c := en.ClassifyTranches(got, now)
	require.Len(t, c.Locked, 1)
	assert.Equal(t, now.AddMonths(12), c.Locked[0].MaturityDate)
	assert.Equal(t, waqf.ActionRollover, c.Locked[0].Preference.Action)
	assert.Len(t, c.RolledOver, 1)
	assert.Len(t, c.Returned, 1)
	assert.Len(t, out.Entries, 2)
}

func TestApplyExpirationPreferences_NoPreferenceIsSkipped(t *testing.T) {
	en := newEngine()
	e := create(t, en, revolvingParams("1000", 1, "water"), t0).Endowment

	out, result, err := en.ApplyExpirationPreferences(e, t0.AddMonths(2))
	require.NoError(t, err)
	assert.True(t, out.Unchanged)
	assert.Len(t, result.Skipped, 1)
	assert.Empty(t, result.Applied)
	assert.Empty(t, out.Entries)
}

func TestApplyExpirationPreferences_FailureNotifiesOnce(t *testing.T) {
	// GIVEN: A stored preference that cannot execute
	en := newEngine()
	e := create(t, en, revolvingParams("1000", 1, "water"), t0).Endowment
	e.Revolving.Tranches[0].Preference = &waqf.ExpirationPreference{
		Action:   waqf.ActionConvertPermanent,
		Strategy: &waqf.InvestmentStrategy{DistributionFrequency: "weekly"},
	}
	id := e.Revolving.Tranches[0].ID
	now := t0.AddMonths(2)

	// WHEN: Sweeping
	out, result, err := en.ApplyExpirationPreferences(e, now)

	// THEN: The failure is reported and a notification queued
	require.NoError(t, err)
	require.Contains(t, result.Failed, id)
	assert.False(t, out.Unchanged)
	require.Len(t, out.Endowment.Revolving.PendingNotifications, 1)
	assert.Equal(t, waqf.NotifyExpirationFailed, out.Endowment.Revolving.PendingNotifications[0].Kind)
	assertMoney(t, "1000", out.Endowment.Financial.CurrentBalance)

	// WHEN: Sweeping again
	again, result, err := en.ApplyExpirationPreferences(out.Endowment, now.AddDays(1))

	// THEN: Still failed, but nothing new to save
	require.NoError(t, err)
	assert.Contains(t, result.Failed, id)
	assert.True(t, again.Unchanged)
	assert.Len(t, again.Endowment.Revolving.PendingNotifications, 1)
}

func TestApplyExpirationPreferences_NonRevolvingIsNoop(t *testing.T) {
	en := newEngine()
	e := create(t, en, consumableParams("1000", waqf.ConsumableDetails{Schedule: waqf.ScheduleImmediate}, "meals"), t0).Endowment

	out, result, err := en.ApplyExpirationPreferences(e, t0.AddYears(3))
	require.NoError(t, err)
	assert.True(t, out.Unchanged)
	assert.Empty(t, result.Applied)
}
