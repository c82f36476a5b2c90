package waqf

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/waqf-engine/generic"
)

// =============================================================================
// TRANCHE - One revolving contribution with its own maturity date
// =============================================================================

// TrancheStatus is both the stored status and the derived state.
// Only Locked, Returned, RolledOver and ReturnScheduled are ever stored;
// Matured and Converted are derived by State.
type TrancheStatus string

const (
	TrancheLocked          TrancheStatus = "locked"
	TrancheMatured         TrancheStatus = "matured"
	TrancheReturned        TrancheStatus = "returned"
	TrancheRolledOver      TrancheStatus = "rolled_over"
	TrancheReturnScheduled TrancheStatus = "return_scheduled"
	TrancheConverted       TrancheStatus = "converted"
)

// IsTerminal reports whether no maturity action may be applied any more.
// ReturnScheduled is terminal for actions; only installment payments move it.
func (s TrancheStatus) IsTerminal() bool {
	switch s {
	case TrancheReturned, TrancheRolledOver, TrancheReturnScheduled, TrancheConverted:
		return true
	default:
		return false
	}
}

type Tranche struct {
	ID               TrancheID                   `json:"id"`
	Amount           decimal.Decimal             `json:"amount"`
	CauseSplit       map[CauseID]decimal.Decimal `json:"cause_split"`
	ContributionDate generic.TimePoint           `json:"contribution_date"`
	MaturityDate     generic.TimePoint           `json:"maturity_date"`
	Status           TrancheStatus               `json:"status"`
	IsReturned       bool                        `json:"is_returned"`
	ReturnedAt       generic.TimePoint           `json:"returned_at"`
	Preference       *ExpirationPreference       `json:"expiration_preference,omitempty"`
	Conversion       *ConversionDetails          `json:"conversion_details,omitempty"`
	RolloverOriginID TrancheID                   `json:"rollover_origin_id,omitempty"`
	RolloverTargetID TrancheID                   `json:"rollover_target_id,omitempty"`
	PenaltyApplied   decimal.Decimal             `json:"penalty_applied"`
	Installments     []Installment               `json:"installments,omitempty"`
}

// State derives the tranche's lifecycle state at now. Terminal markers win
// over the clock; the clock only separates Locked from Matured.
func (t Tranche) State(now generic.TimePoint) TrancheStatus {
	switch {
	case t.Conversion != nil:
		return TrancheConverted
	case t.IsReturned || t.Status == TrancheReturned:
		return TrancheReturned
	case t.Status == TrancheRolledOver:
		return TrancheRolledOver
	case t.Status == TrancheReturnScheduled:
		return TrancheReturnScheduled
	case now.Before(t.MaturityDate):
		return TrancheLocked
	default:
		return TrancheMatured
	}
}

// Outstanding is the principal still owed to the donor on an installment
// schedule.
func (t Tranche) Outstanding() decimal.Decimal {
	total := decimal.Zero
	for _, inst := range t.Installments {
		if inst.Status != InstallmentPaid {
			total = total.Add(inst.Amount)
		}
	}
	return total
}

func (t Tranche) Clone() Tranche {
	c := t
	c.CauseSplit = cloneMoney(t.CauseSplit)
	if t.Preference != nil {
		p := t.Preference.clone()
		c.Preference = &p
	}
	if t.Conversion != nil {
		cd := t.Conversion.clone()
		c.Conversion = &cd
	}
	c.Installments = append([]Installment(nil), t.Installments...)
	return c
}

// =============================================================================
// INSTALLMENTS - Principal returned over time
// =============================================================================

type InstallmentStatus string

const (
	InstallmentScheduled InstallmentStatus = "scheduled"
	InstallmentPaid      InstallmentStatus = "paid"
)

type Installment struct {
	ID      string            `json:"id"`
	Amount  decimal.Decimal   `json:"amount"`
	DueDate generic.TimePoint `json:"due_date"`
	Status  InstallmentStatus `json:"status"`
	PaidAt  generic.TimePoint `json:"paid_at"`
}

// =============================================================================
// CONVERSION DETAILS - Present once a convert action executed
// =============================================================================

type ConversionDetails struct {
	TargetType  WaqfType            `json:"target_type"`
	ConvertedAt generic.TimePoint   `json:"converted_at"`
	Strategy    *InvestmentStrategy `json:"investment_strategy,omitempty"`
	SpendDowns  []SpendDown         `json:"spend_downs,omitempty"`
}

func (c ConversionDetails) clone() ConversionDetails {
	out := c
	if c.Strategy != nil {
		s := *c.Strategy
		out.Strategy = &s
	}
	out.SpendDowns = append([]SpendDown(nil), c.SpendDowns...)
	return out
}

// InvestmentStrategy is how converted permanent principal is invested.
type InvestmentStrategy struct {
	AssetAllocation       string            `json:"asset_allocation"`
	ExpectedReturn        decimal.Decimal   `json:"expected_return"`
	DistributionFrequency generic.Frequency `json:"distribution_frequency"`
}

// DefaultInvestmentStrategy is applied when the donor does not choose one.
func DefaultInvestmentStrategy() InvestmentStrategy {
	return InvestmentStrategy{
		AssetAllocation:       "60% Sukuk, 40% Equity",
		ExpectedReturn:        decimal.NewFromFloat(7.0),
		DistributionFrequency: generic.FrequencyQuarterly,
	}
}

// withDefaults fills every unset field from DefaultInvestmentStrategy.
func (s InvestmentStrategy) withDefaults() InvestmentStrategy {
	d := DefaultInvestmentStrategy()
	if s.AssetAllocation == "" {
		s.AssetAllocation = d.AssetAllocation
	}
	if s.ExpectedReturn.IsZero() {
		s.ExpectedReturn = d.ExpectedReturn
	}
	if s.DistributionFrequency == "" {
		s.DistributionFrequency = d.DistributionFrequency
	}
	return s
}

// SpendDown is the consumable schedule a converted tranche's cause share
// is spent over.
type SpendDown struct {
	CauseID   CauseID           `json:"cause_id"`
	Amount    decimal.Decimal   `json:"amount"`
	Schedule  SpendingSchedule  `json:"schedule"`
	StartDate generic.TimePoint `json:"start_date"`
	EndDate   generic.TimePoint `json:"end_date"`
}

// MonthlyAmount spreads Amount evenly over the schedule window, never fewer
// than one month.
func (s SpendDown) MonthlyAmount() decimal.Decimal {
	months := generic.MonthsBetween(s.StartDate, s.EndDate)
	if months < 1 {
		months = 1
	}
	return s.Amount.Div(decimal.NewFromFloat(months)).Round(generic.MoneyPlaces)
}

// =============================================================================
// CLASSIFICATION - Read model of tranche states at a point in time
// =============================================================================

// TrancheView is a tranche plus its derived state.
type TrancheView struct {
	Tranche
	State           TrancheStatus `json:"state"`
	DaysToMaturity  int           `json:"days_to_maturity"`
	AvailableAction bool          `json:"available_action"`
}

// Classification groups an endowment's tranches by derived state.
type Classification struct {
	At              generic.TimePoint `json:"at"`
	Locked          []TrancheView     `json:"locked"`
	Matured         []TrancheView     `json:"matured"`
	Returned        []TrancheView     `json:"returned"`
	RolledOver      []TrancheView     `json:"rolled_over"`
	Converted       []TrancheView     `json:"converted"`
	ReturnScheduled []TrancheView     `json:"return_scheduled"`
	Summary         RevolvingBalance  `json:"summary"`
}

// RevolvingBalance summarizes principal by state.
type RevolvingBalance struct {
	TotalContributed decimal.Decimal   `json:"total_contributed"`
	Locked           decimal.Decimal   `json:"locked"`
	Matured          decimal.Decimal   `json:"matured"`
	Returned         decimal.Decimal   `json:"returned"`
	Converted        decimal.Decimal   `json:"converted"`
	Outstanding      decimal.Decimal   `json:"outstanding"`
	NextMaturity     generic.TimePoint `json:"next_maturity"`
	ActiveCount      int               `json:"active_count"`
}

// ClassifyTranches derives every tranche's state at now. It is a pure
// function of stored data and the clock. Each group is ordered by maturity.
func ClassifyTranches(e Endowment, now generic.TimePoint) Classification {
	c := Classification{At: now}
	sum := RevolvingBalance{
		TotalContributed: decimal.Zero,
		Locked:           decimal.Zero,
		Matured:          decimal.Zero,
		Returned:         decimal.Zero,
		Converted:        decimal.Zero,
		Outstanding:      decimal.Zero,
	}

	tranches := append([]Tranche(nil), e.Tranches()...)
	sort.SliceStable(tranches, func(i, j int) bool {
		return tranches[i].MaturityDate.Before(tranches[j].MaturityDate)
	})

	for _, t := range tranches {
		state := t.State(now)
		v := TrancheView{
			Tranche:         t,
			State:           state,
			AvailableAction: state == TrancheMatured,
		}
		if state == TrancheLocked {
			v.DaysToMaturity = generic.DaysBetween(now, t.MaturityDate)
		}

		// Rolled-over records are audit copies; their money lives on in the
		// successor tranche and is not counted twice.
		if state != TrancheRolledOver {
			sum.TotalContributed = sum.TotalContributed.Add(t.Amount)
		}

		switch state {
		case TrancheLocked:
			c.Locked = append(c.Locked, v)
			sum.Locked = sum.Locked.Add(t.Amount)
			sum.ActiveCount++
			if sum.NextMaturity.IsZero() || t.MaturityDate.Before(sum.NextMaturity) {
				sum.NextMaturity = t.MaturityDate
			}
		case TrancheMatured:
			c.Matured = append(c.Matured, v)
			sum.Matured = sum.Matured.Add(t.Amount)
			sum.ActiveCount++
		case TrancheReturned:
			c.Returned = append(c.Returned, v)
			sum.Returned = sum.Returned.Add(t.Amount.Sub(t.PenaltyApplied))
		case TrancheRolledOver:
			c.RolledOver = append(c.RolledOver, v)
		case TrancheConverted:
			c.Converted = append(c.Converted, v)
			sum.Converted = sum.Converted.Add(t.Amount)
		case TrancheReturnScheduled:
			c.ReturnScheduled = append(c.ReturnScheduled, v)
			outstanding := t.Outstanding()
			sum.Outstanding = sum.Outstanding.Add(outstanding)
			sum.Returned = sum.Returned.Add(t.Amount.Sub(t.PenaltyApplied).Sub(outstanding))
		}
	}
	c.Summary = sum
	return c
}

// HeldTrancheTotal is the principal still sitting in the revolving share:
// tranches that are locked or matured but unresolved, plus the unpaid part
// of installment schedules.
func HeldTrancheTotal(e Endowment) decimal.Decimal {
	total := decimal.Zero
	for _, t := range e.Tranches() {
		switch {
		case t.Conversion != nil, t.IsReturned:
		case t.Status == TrancheLocked:
			total = total.Add(t.Amount)
		case t.Status == TrancheReturnScheduled:
			total = total.Add(t.Outstanding())
		}
	}
	return total
}
