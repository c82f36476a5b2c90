package waqf_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/waqf-engine/generic"
	"github.com/warp/waqf-engine/waqf"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var t0 = generic.NewTimePoint(2025, time.January, 15)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newEngine returns an engine with predictable ids: id-1, id-2, ...
func newEngine() *waqf.Engine {
	n := 0
	return &waqf.Engine{NewID: func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}}
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	if !dec(want).Equal(got) {
		assert.Fail(t, fmt.Sprintf("expected %s, got %s", want, got.String()), msgAndArgs...)
	}
}

func revolvingParams(principal string, lockMonths int, causes ...waqf.CauseID) waqf.NewEndowmentParams {
	return waqf.NewEndowmentParams{
		ID:        "endow-rev",
		Name:      "Water wells loan",
		DonorID:   "donor-1",
		Type:      waqf.TypeRevolving,
		Principal: dec(principal),
		Causes:    causes,
		Revolving: &waqf.RevolvingDetails{LockPeriodMonths: lockMonths},
		PaymentID: "pay-initial",
	}
}

func hybridParams(principal string, allocs map[waqf.CauseID]waqf.TypeSplit, causes ...waqf.CauseID) waqf.NewEndowmentParams {
	return waqf.NewEndowmentParams{
		ID:                "endow-hyb",
		Name:              "Family hybrid waqf",
		DonorID:           "donor-2",
		Type:              waqf.TypeHybrid,
		Principal:         dec(principal),
		Causes:            causes,
		HybridAllocations: allocs,
		Revolving:         &waqf.RevolvingDetails{LockPeriodMonths: 12},
		PaymentID:         "pay-hybrid",
	}
}

func consumableParams(principal string, details waqf.ConsumableDetails, causes ...waqf.CauseID) waqf.NewEndowmentParams {
	return waqf.NewEndowmentParams{
		ID:         "endow-con",
		Name:       "School meals",
		DonorID:    "donor-3",
		Type:       waqf.TypeConsumable,
		Principal:  dec(principal),
		Causes:     causes,
		Consumable: &details,
		PaymentID:  "pay-consumable",
	}
}

func split(permanent, consumable, revolving string) waqf.TypeSplit {
	return waqf.TypeSplit{Permanent: dec(permanent), Consumable: dec(consumable), Revolving: dec(revolving)}
}

func create(t *testing.T, en *waqf.Engine, p waqf.NewEndowmentParams, now generic.TimePoint) waqf.Outcome {
	t.Helper()
	out, err := en.CreateEndowment(p, now)
	require.NoError(t, err)
	return out
}

// onlyTranche returns the single tranche of e.
func onlyTranche(t *testing.T, e waqf.Endowment) waqf.Tranche {
	t.Helper()
	require.Len(t, e.Tranches(), 1)
	return e.Tranches()[0]
}

// assertBalanceIdentity checks balance == donations - distributed + returns.
func assertBalanceIdentity(t *testing.T, e waqf.Endowment) {
	t.Helper()
	f := e.Financial
	expected := f.TotalDonations.Sub(f.TotalDistributed).Add(f.TotalInvestmentReturn)
	assert.True(t, expected.Equal(f.CurrentBalance),
		"balance %s != donations %s - distributed %s + returns %s",
		f.CurrentBalance, f.TotalDonations, f.TotalDistributed, f.TotalInvestmentReturn)
}
