package waqf

import (
	"fmt"

	"github.com/warp/waqf-engine/generic"
)

// =============================================================================
// EXPIRATION PREFERENCE - What the donor wants at maturity, chosen up front
// =============================================================================

type ExpirationAction string

const (
	ActionRefund            ExpirationAction = "refund"
	ActionRollover          ExpirationAction = "rollover"
	ActionConvertPermanent  ExpirationAction = "convert_permanent"
	ActionConvertConsumable ExpirationAction = "convert_consumable"
)

// Duration bounds, in months.
const (
	MinLockMonths         = 1
	MaxLockMonths         = 240
	MinConsumableDuration = 1
	MaxConsumableDuration = 60

	// DefaultConsumableDuration is used when a convert_consumable preference
	// carries no duration.
	DefaultConsumableDuration = 12
)

// ParseExpirationAction accepts "convert_permanent", "convertToPermanent",
// "Convert-Permanent" and similar spellings.
func ParseExpirationAction(s string) (ExpirationAction, error) {
	switch normalizeKey(s) {
	case "refund", "return":
		return ActionRefund, nil
	case "rollover", "rollovertranche":
		return ActionRollover, nil
	case "convertpermanent", "converttopermanent":
		return ActionConvertPermanent, nil
	case "convertconsumable", "converttoconsumable":
		return ActionConvertConsumable, nil
	}
	return "", fmt.Errorf("%w: unknown maturity action %q", generic.ErrInvalidInput, s)
}

type ExpirationPreference struct {
	Action                   ExpirationAction    `json:"action"`
	RolloverMonths           int                 `json:"rollover_months,omitempty"`
	TargetCause              CauseID             `json:"target_cause,omitempty"`
	ConsumableSchedule       SpendingSchedule    `json:"consumable_schedule,omitempty"`
	ConsumableDurationMonths int                 `json:"consumable_duration_months,omitempty"`
	Strategy                 *InvestmentStrategy `json:"investment_strategy,omitempty"`
}

func (p ExpirationPreference) clone() ExpirationPreference {
	c := p
	if p.Strategy != nil {
		s := *p.Strategy
		c.Strategy = &s
	}
	return c
}

// Validate checks the preference's parameters. A zero RolloverMonths means
// "use the endowment's lock period" and is accepted.
func (p ExpirationPreference) Validate() error {
	switch p.Action {
	case ActionRefund, ActionConvertPermanent:
		return nil
	case ActionRollover:
		if p.RolloverMonths != 0 {
			return validateMonths("rollover_months", p.RolloverMonths, MinLockMonths, MaxLockMonths)
		}
		return nil
	case ActionConvertConsumable:
		if p.ConsumableSchedule != "" && !p.ConsumableSchedule.IsValid() {
			return fmt.Errorf("%w: invalid consumable schedule %q", generic.ErrInvalidInput, p.ConsumableSchedule)
		}
		if p.ConsumableDurationMonths != 0 {
			return validateMonths("consumable_duration_months", p.ConsumableDurationMonths,
				MinConsumableDuration, MaxConsumableDuration)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown maturity action %q", generic.ErrInvalidInput, p.Action)
	}
}

// ToAction turns the stored preference into an executable action at now.
func (p ExpirationPreference) ToAction(lockMonths int, now generic.TimePoint) MaturityAction {
	a := MaturityAction{Kind: p.Action, TargetCause: p.TargetCause, Strategy: p.Strategy}
	switch p.Action {
	case ActionRollover:
		a.RolloverMonths = p.RolloverMonths
		if a.RolloverMonths == 0 {
			a.RolloverMonths = lockMonths
		}
	case ActionConvertConsumable:
		a.Schedule = p.ConsumableSchedule
		if a.Schedule == "" {
			a.Schedule = SchedulePhased
		}
		months := p.ConsumableDurationMonths
		if months == 0 {
			months = DefaultConsumableDuration
		}
		a.StartDate = now
		a.EndDate = now.AddMonths(months)
	}
	return a
}

func validateMonths(field string, months, min, max int) error {
	if months < min || months > max {
		return &generic.DurationError{Field: field, Months: months, Min: min, Max: max}
	}
	return nil
}

// =============================================================================
// SWEEP - Execute stored preferences for every matured tranche
// =============================================================================

// SweepResult reports what ApplyExpirationPreferences did for one endowment.
type SweepResult struct {
	Applied []TrancheID          `json:"applied"`
	Skipped []TrancheID          `json:"skipped"`
	Failed  map[TrancheID]string `json:"failed,omitempty"`
}

// ApplyExpirationPreferences resolves every matured tranche that carries a
// preference (its own, or the endowment default) in maturity order.
// Matured tranches without any preference are left for the donor. A tranche
// whose preference cannot be executed is recorded in Failed and a
// notification is queued; the other tranches still resolve. A ledger
// inconsistency aborts the whole sweep.
func (en *Engine) ApplyExpirationPreferences(e Endowment, now generic.TimePoint) (Outcome, SweepResult, error) {
	result := SweepResult{}
	out := Outcome{Endowment: e, Unchanged: true}
	if !e.Type.HasTranches() || e.Revolving == nil {
		return out, result, nil
	}

	matured := ClassifyTranches(e, now).Matured
	for _, view := range matured {
		pref := view.Preference
		if pref == nil {
			pref = out.Endowment.Revolving.DefaultPreference
		}
		if pref == nil {
			result.Skipped = append(result.Skipped, view.ID)
			continue
		}

		action := pref.ToAction(out.Endowment.Revolving.LockPeriodMonths, now)
		step, err := en.ResolveMaturity(out.Endowment, view.ID, action, now)
		if err != nil {
			if generic.IsRetryable(err) || isLedgerError(err) {
				return Outcome{}, SweepResult{}, err
			}
			if result.Failed == nil {
				result.Failed = make(map[TrancheID]string)
			}
			result.Failed[view.ID] = err.Error()
			if !hasNotification(out.Endowment, view.ID, NotifyExpirationFailed) {
				out.Endowment = out.Endowment.Clone()
				out.Endowment.UpdatedAt = now
				out.Unchanged = false
				notify(&out.Endowment, now, view.ID, NotifyExpirationFailed,
					fmt.Sprintf("Could not apply %s to matured tranche %s: %v", pref.Action, view.ID, err))
			}
			continue
		}
		out.Endowment = step.Endowment
		out.Entries = append(out.Entries, step.Entries...)
		out.Unchanged = false
		result.Applied = append(result.Applied, view.ID)
	}
	return out, result, nil
}
