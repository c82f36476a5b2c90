/*
acceptor.go - Whether a consumable endowment may take more money

RULES BY SCHEDULE:
  immediate, milestone-based
    Closed once TotalDonations reaches TargetAmount, once
    BeneficiariesReached reaches TargetBeneficiaries, or once EndDate has
    passed. Unset targets and dates never close the schedule.

  phased
    Always open. When both dates are set the end date moves out by the
    original duration scaled by amount/principal, counted from the later of
    the current end date and now.

  ongoing
    Always open, even past its target. With a minimum monthly distribution
    the end date becomes now + newBalance/minimum months, and never moves
    earlier.

  Extensions saturate at generic.MaxScheduleMonths.

The decision carries the financial snapshot the caller should persist, so
donations and balance move in one write together with any new end date.

SEE ALSO:
  - contribution.go: RecordContribution applies UpdatedDetails
  - consumable.go: Completion and recommended distribution
*/
package waqf

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/waqf-engine/generic"
)

// FinancialSnapshot is the balance and donations after the contribution.
type FinancialSnapshot struct {
	CurrentBalance decimal.Decimal `json:"current_balance"`
	TotalDonations decimal.Decimal `json:"total_donations"`
}

// Decision is the acceptor's answer. UpdatedDetails is nil when the
// schedule is unchanged.
type Decision struct {
	Accepted         bool               `json:"accepted"`
	Reason           string             `json:"reason,omitempty"`
	UpdatedFinancial *FinancialSnapshot `json:"updated_financial,omitempty"`
	UpdatedDetails   *ConsumableDetails `json:"updated_details,omitempty"`
}

// CanAcceptContribution decides whether a consumable endowment accepts
// amount at now. A rejection returns the decision together with a
// *generic.ScheduleClosedError so callers that only look at the error still
// stop.
func CanAcceptContribution(e Endowment, amount decimal.Decimal, now generic.TimePoint) (Decision, error) {
	if !amount.IsPositive() {
		return Decision{}, fmt.Errorf("%w: contribution must be positive, got %s", generic.ErrInvalidAmount, amount)
	}
	if e.Type != TypeConsumable {
		return Decision{}, fmt.Errorf("%w: %s is a %s endowment", generic.ErrUnsupportedType, e.ID, e.Type)
	}
	if e.Consumable == nil {
		return Decision{}, fmt.Errorf("%w: %s has no consumable details", generic.ErrInvalidInput, e.ID)
	}

	d := *e.Consumable
	switch d.Schedule {
	case ScheduleImmediate, ScheduleMilestone:
		if reason := closedReason(e, now); reason != "" {
			return Decision{Accepted: false, Reason: reason},
				&generic.ScheduleClosedError{EntityID: e.Entity(), Reason: reason}
		}
		return accept(e, amount, nil), nil

	case SchedulePhased:
		if d.StartDate.IsZero() || d.EndDate.IsZero() {
			return accept(e, amount, nil), nil
		}
		updated := extendPhased(e, d, amount, now)
		return accept(e, amount, &updated), nil

	case ScheduleOngoing:
		if !d.MinimumMonthlyDistribution.IsPositive() {
			return accept(e, amount, nil), nil
		}
		updated := extendOngoing(e, d, amount, now)
		return accept(e, amount, &updated), nil

	default:
		return Decision{}, fmt.Errorf("%w: unknown spending schedule %q", generic.ErrInvalidInput, d.Schedule)
	}
}

func accept(e Endowment, amount decimal.Decimal, details *ConsumableDetails) Decision {
	return Decision{
		Accepted: true,
		UpdatedFinancial: &FinancialSnapshot{
			CurrentBalance: e.Financial.CurrentBalance.Add(amount),
			TotalDonations: e.Financial.TotalDonations.Add(amount),
		},
		UpdatedDetails: details,
	}
}

// closedReason returns why an immediate or milestone schedule no longer
// accepts money, or "".
func closedReason(e Endowment, now generic.TimePoint) string {
	d := e.Consumable
	f := e.Financial
	switch {
	case d.TargetAmount.IsPositive() && f.TotalDonations.GreaterThanOrEqual(d.TargetAmount):
		return fmt.Sprintf("target amount %s reached", d.TargetAmount.StringFixed(2))
	case d.TargetBeneficiaries > 0 && f.BeneficiariesReached >= d.TargetBeneficiaries:
		return fmt.Sprintf("target of %d beneficiaries reached", d.TargetBeneficiaries)
	case !d.EndDate.IsZero() && d.EndDate.Before(now):
		return fmt.Sprintf("spending period ended on %s", d.EndDate)
	}
	return ""
}

func extendPhased(e Endowment, d ConsumableDetails, amount decimal.Decimal, now generic.TimePoint) ConsumableDetails {
	base := e.Principal
	if !base.IsPositive() {
		base = e.Financial.TotalDonations
	}
	updated := d.clone()
	if !base.IsPositive() {
		return updated
	}
	ratio, _ := amount.Div(base).Float64()
	extension := generic.MonthsBetween(d.StartDate, d.EndDate) * ratio
	updated.EndDate = generic.Latest(d.EndDate, now).AddFractionalMonths(extension)
	return updated
}

func extendOngoing(e Endowment, d ConsumableDetails, amount decimal.Decimal, now generic.TimePoint) ConsumableDetails {
	updated := d.clone()
	if updated.StartDate.IsZero() {
		updated.StartDate = now
	}
	newBalance := e.Financial.CurrentBalance.Add(amount)
	months, _ := newBalance.Div(d.MinimumMonthlyDistribution).Float64()
	candidate := now.AddFractionalMonths(months)
	if updated.EndDate.IsZero() || candidate.After(updated.EndDate) {
		updated.EndDate = candidate
	}
	return updated
}
