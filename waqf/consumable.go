package waqf

import (
	"github.com/shopspring/decimal"

	"github.com/warp/waqf-engine/generic"
)

// =============================================================================
// CONSUMABLE PROGRESS - Read-only views over a spend-down
// =============================================================================

// Completion describes how far a consumable endowment is through its spend-down.
type Completion struct {
	Completed bool            `json:"completed"`
	Progress  decimal.Decimal `json:"progress"`
	Reason    string          `json:"reason,omitempty"`
}

// CompletionStatus reports progress in percent, checking in order: balance
// depleted, end date passed, distributed amount against target, beneficiaries
// against target, then elapsed time in the window.
func CompletionStatus(e Endowment, now generic.TimePoint) Completion {
	d := e.Consumable
	if d == nil {
		return Completion{Progress: decimal.Zero}
	}
	f := e.Financial
	done := func(reason string) Completion {
		return Completion{Completed: true, Progress: hundred, Reason: reason}
	}

	if !f.CurrentBalance.IsPositive() && f.TotalDonations.IsPositive() {
		return done("all funds distributed")
	}
	if !d.EndDate.IsZero() && d.EndDate.Before(now) {
		return done("end date reached")
	}
	if d.TargetAmount.IsPositive() {
		progress := f.TotalDistributed.Div(d.TargetAmount).Mul(hundred)
		if progress.GreaterThanOrEqual(hundred) {
			return done("target amount distributed")
		}
		return Completion{Progress: progress.Round(2)}
	}
	if d.TargetBeneficiaries > 0 && f.BeneficiariesReached > 0 {
		progress := decimal.NewFromInt(int64(f.BeneficiariesReached)).
			Div(decimal.NewFromInt(int64(d.TargetBeneficiaries))).Mul(hundred)
		if progress.GreaterThanOrEqual(hundred) {
			return done("target beneficiaries reached")
		}
		return Completion{Progress: progress.Round(2)}
	}
	if !d.StartDate.IsZero() && d.EndDate.After(d.StartDate) {
		elapsed := float64(now.Sub(d.StartDate)) / float64(d.EndDate.Sub(d.StartDate)) * 100
		progress := decimal.NewFromFloat(elapsed).Round(2)
		return Completion{Progress: decimal.Max(decimal.Zero, decimal.Min(hundred, progress))}
	}
	return Completion{Progress: decimal.Zero}
}

// RecommendedMonthlyDistribution is what should be paid out per month after
// adding extra to the balance. Phased schedules spread the balance over the
// months left (at least one); otherwise the configured minimum applies.
// ok is false when neither rule yields a figure.
func RecommendedMonthlyDistribution(e Endowment, extra decimal.Decimal, now generic.TimePoint) (amount decimal.Decimal, ok bool) {
	d := e.Consumable
	if d == nil {
		return decimal.Zero, false
	}
	balance := e.Financial.CurrentBalance.Add(extra)
	if d.Schedule == SchedulePhased && !d.StartDate.IsZero() && !d.EndDate.IsZero() {
		remaining := generic.MonthsBetween(now, d.EndDate)
		if remaining < 1 {
			remaining = 1
		}
		return balance.Div(decimal.NewFromFloat(remaining)).Round(generic.MoneyPlaces), true
	}
	if d.MinimumMonthlyDistribution.IsPositive() {
		return d.MinimumMonthlyDistribution, true
	}
	return decimal.Zero, false
}
