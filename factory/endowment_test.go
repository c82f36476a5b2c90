package factory

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/waqf-engine/generic"
	"github.com/warp/waqf-engine/waqf"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestParseEndowment_Revolving(t *testing.T) {
	// GIVEN: A revolving request in the older wire shape
	body := `{
		"name": " Family waqf ",
		"donor_id": "donor-17",
		"waqf_type": "TemporaryRevolving",
		"currency": "usd",
		"principal": "5000",
		"selected_causes": ["water"],
		"revolving_details": {
			"lock_period_months": 12,
			"principal_return_method": "Installments",
			"installment_schedule": {"frequency": "Quarterly", "number_of_installments": 4},
			"early_withdrawal_allowed": true,
			"early_withdrawal_penalty": 0.1,
			"auto_rollover_preference": "cause_pool",
			"auto_rollover_target_cause": "health"
		}
	}`

	// WHEN: Parsing
	p, err := ParseEndowment([]byte(body))
	require.NoError(t, err)

	// THEN: Every spelling lands on the closed types
	assert.Equal(t, "Family waqf", p.Name)
	assert.Equal(t, waqf.TypeRevolving, p.Type)
	assert.Equal(t, generic.Currency("USD"), p.Currency)
	assert.True(t, p.Principal.Equal(dec("5000")))
	assert.Equal(t, []waqf.CauseID{"water"}, p.Causes)

	require.NotNil(t, p.Revolving)
	r := p.Revolving
	assert.Equal(t, 12, r.LockPeriodMonths)
	assert.Equal(t, waqf.ReturnInstallments, r.ReturnMethod)
	require.NotNil(t, r.InstallmentSchedule)
	assert.Equal(t, 4, r.InstallmentSchedule.Count)
	assert.Equal(t, generic.FrequencyQuarterly, r.InstallmentSchedule.Frequency)
	assert.True(t, r.EarlyWithdrawalAllowed)
	assert.True(t, r.EarlyWithdrawalPenalty.Equal(dec("0.1")))

	require.NotNil(t, r.DefaultPreference)
	assert.Equal(t, waqf.ActionRollover, r.DefaultPreference.Action)
	assert.Equal(t, waqf.CauseID("health"), r.DefaultPreference.TargetCause)
}

func TestParseEndowment_HybridShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "list of entries",
			body: `{"waqf_type":"hybrid","principal":1000,"selected_causes":["water"],
				"hybrid_allocations":[{"cause_id":"water","allocations":{"Permanent":50,"TemporaryRevolving":50}}]}`,
		},
		{
			name: "legacy camelCase id",
			body: `{"is_hybrid":true,"principal":1000,"selected_causes":["water"],
				"hybrid_allocations":[{"causeId":"water","allocations":{"permanent":50,"temporary_revolving":50}}]}`,
		},
		{
			name: "object keyed by cause",
			body: `{"waqf_type":"Hybrid","principal":1000,"selected_causes":["water"],
				"hybrid_allocations":{"water":{"permanent":50,"revolving":50}}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseEndowment([]byte(tt.body))
			require.NoError(t, err)

			assert.Equal(t, waqf.TypeHybrid, p.Type)
			split, ok := p.HybridAllocations["water"]
			require.True(t, ok)
			assert.True(t, split.Permanent.Equal(dec("50")))
			assert.True(t, split.Consumable.IsZero())
			assert.True(t, split.Revolving.Equal(dec("50")))
		})
	}
}

func TestNormalizeHybrid(t *testing.T) {
	// GIVEN: One cause with no shares and one whose shares sum to 3
	in := HybridAllocationsJSON{
		"water":  {},
		"health": {"permanent": dec("1"), "consumable": dec("1"), "revolving": dec("1")},
	}

	// WHEN: Normalizing
	out, err := NormalizeHybrid(in)
	require.NoError(t, err)

	// THEN: The empty cause is all permanent
	assert.True(t, out["water"].Permanent.Equal(dec("100")))
	assert.True(t, out["water"].Sum().Equal(dec("100")))

	// AND: The thirds sum to exactly 100, the last share taking the remainder
	h := out["health"]
	assert.True(t, h.Sum().Equal(dec("100")))
	assert.True(t, h.Permanent.Equal(dec("33.333333")))
	assert.True(t, h.Revolving.Equal(dec("33.333334")))
}

func TestNormalizeHybrid_Rejects(t *testing.T) {
	_, err := NormalizeHybrid(HybridAllocationsJSON{"water": {"bonds": dec("100")}})
	assert.ErrorIs(t, err, generic.ErrInvalidAllocation)

	_, err = NormalizeHybrid(HybridAllocationsJSON{"water": {"permanent": dec("-10"), "revolving": dec("110")}})
	assert.ErrorIs(t, err, generic.ErrInvalidAllocation)
}

func TestParseEndowment_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"broken json", `{`},
		{"unknown type", `{"waqf_type":"seasonal","principal":10}`},
		{"hybrid flag on permanent", `{"is_hybrid":true,"waqf_type":"permanent","principal":10}`},
		{"hybrid shares on permanent", `{"waqf_type":"permanent","principal":10,"hybrid_allocations":{"water":{"permanent":100}}}`},
		{"entry without cause", `{"waqf_type":"hybrid","principal":10,"hybrid_allocations":[{"allocations":{"permanent":100}}]}`},
		{"unknown return method", `{"waqf_type":"revolving","principal":10,"revolving_details":{"principal_return_method":"barter"}}`},
		{"unknown frequency", `{"waqf_type":"revolving","principal":10,"revolving_details":{"installment_schedule":{"frequency":"weekly"}}}`},
		{"pool without target", `{"waqf_type":"revolving","principal":10,"revolving_details":{"auto_rollover_preference":"cause_pool"}}`},
		{"unknown schedule", `{"waqf_type":"consumable","principal":10,"consumable_details":{"spending_schedule":"whenever"}}`},
		{"bad timestamp", `{"waqf_type":"consumable","principal":10,"consumable_details":{"spending_schedule":"phased","start_date":"soon"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEndowment([]byte(tt.body))
			require.Error(t, err)
			assert.True(t, generic.IsClientError(err), "expected a client error, got %v", err)
		})
	}
}

func TestParseEndowment_ConsumableWithMilestones(t *testing.T) {
	body := `{
		"waqf_type": "temporary_consumable",
		"principal": 12000,
		"selected_causes": ["school"],
		"consumable_details": {
			"spending_schedule": "milestone-based",
			"start_date": 1736899200,
			"end_date": "2026-01-15T00:00:00Z",
			"target_amount": 12000,
			"milestones": [
				{"description": "Roof", "target_date": "2025-06-01", "amount": 5000},
				{"id": "m-walls", "description": "Walls", "target_date": 1748736000000, "amount": 7000}
			]
		}
	}`

	p, err := ParseEndowment([]byte(body))
	require.NoError(t, err)
	require.NotNil(t, p.Consumable)

	c := p.Consumable
	assert.Equal(t, waqf.ScheduleMilestone, c.Schedule)
	assert.Equal(t, generic.NewTimePoint(2025, time.January, 15), c.StartDate)
	assert.Equal(t, generic.NewTimePoint(2026, time.January, 15), c.EndDate)
	require.Len(t, c.Milestones, 2)
	assert.Equal(t, "milestone-1", c.Milestones[0].ID)
	assert.Equal(t, generic.NewTimePoint(2025, time.June, 1), c.Milestones[0].TargetDate)
	assert.Equal(t, "m-walls", c.Milestones[1].ID)
	assert.Equal(t, generic.NewTimePoint(2025, time.June, 1), c.Milestones[1].TargetDate)
}

func TestParseTimestamp_Units(t *testing.T) {
	want := generic.NewTimePoint(2025, time.January, 15)
	for _, in := range []string{
		"1736899200",
		"1736899200000",
		"1736899200000000",
		"1736899200000000000",
		"2025-01-15T00:00:00Z",
		"2025-01-15",
	} {
		got, err := ParseTimestamp(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestTimestamp_Null(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`null`), &ts))
	assert.True(t, ts.IsZero())
}

func TestPreferenceJSON_ToPreference(t *testing.T) {
	// GIVEN: A convert_consumable preference and a convert_permanent one with a partial strategy
	pj := PreferenceJSON{Action: "convertToConsumable", ConsumableSchedule: "Phased", ConsumableDurationMonths: 6}
	perm := PreferenceJSON{Action: "convert_permanent", InvestmentStrategy: &StrategyJSON{DistributionFrequency: "annual"}}

	// WHEN: Converting
	pref, err := pj.ToPreference()
	require.NoError(t, err)
	permPref, err := perm.ToPreference()
	require.NoError(t, err)

	// THEN: Spellings are normalized and unset strategy fields take defaults
	assert.Equal(t, waqf.ActionConvertConsumable, pref.Action)
	assert.Equal(t, waqf.SchedulePhased, pref.ConsumableSchedule)
	assert.Equal(t, 6, pref.ConsumableDurationMonths)

	require.NotNil(t, permPref.Strategy)
	def := waqf.DefaultInvestmentStrategy()
	assert.Equal(t, def.AssetAllocation, permPref.Strategy.AssetAllocation)
	assert.True(t, permPref.Strategy.ExpectedReturn.Equal(def.ExpectedReturn))
	assert.Equal(t, generic.FrequencyAnnually, permPref.Strategy.DistributionFrequency)

	// AND: Out-of-range durations are rejected
	_, err = (&PreferenceJSON{Action: "rollover", RolloverMonths: 500}).ToPreference()
	assert.ErrorIs(t, err, generic.ErrInvalidDuration)

	var none *PreferenceJSON
	p, err := none.ToPreference()
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestCauseJSON_ToCause(t *testing.T) {
	cj := CauseJSON{
		ID:                 " water ",
		Name:               "Clean water",
		SupportedWaqfTypes: []string{"TemporaryRevolving", "Permanent", "permanent"},
	}

	c, err := cj.ToCause()
	require.NoError(t, err)
	assert.Equal(t, waqf.CauseID("water"), c.ID)
	assert.True(t, c.Active)
	assert.Equal(t, []waqf.WaqfType{waqf.TypePermanent, waqf.TypeRevolving}, c.SupportedTypes)

	inactive := false
	cj.Active = &inactive
	c, err = cj.ToCause()
	require.NoError(t, err)
	assert.False(t, c.Active)

	_, err = CauseJSON{ID: "x", SupportedWaqfTypes: []string{"lottery"}}.ToCause()
	assert.Error(t, err)
}
