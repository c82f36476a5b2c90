package waqf

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/waqf-engine/generic"
)

// =============================================================================
// CREATION - Validate configuration, fund with the principal
// =============================================================================

// NewEndowmentParams is everything needed to open an endowment. Principal is
// the confirmed initial donation; it is booked as the first contribution.
type NewEndowmentParams struct {
	ID                EndowmentID
	Name              string
	DonorID           string
	Type              WaqfType
	Currency          generic.Currency
	Principal         decimal.Decimal
	Causes            []CauseID
	CauseAllocation   map[CauseID]decimal.Decimal
	HybridAllocations map[CauseID]TypeSplit
	Consumable        *ConsumableDetails
	Revolving         *RevolvingDetails
	PaymentID         string
}

// CreateEndowment validates p and returns the funded endowment. Revolving
// and hybrid endowments start with one locked tranche for the revolving part
// of the principal.
func (en *Engine) CreateEndowment(p NewEndowmentParams, now generic.TimePoint) (Outcome, error) {
	if err := p.validate(); err != nil {
		return Outcome{}, err
	}
	if en.MinimumPrincipal.IsPositive() && p.Principal.LessThan(en.MinimumPrincipal) {
		return Outcome{}, fmt.Errorf("%w: principal %s is below the minimum of %s",
			generic.ErrInvalidAmount, p.Principal.StringFixed(2), en.MinimumPrincipal.StringFixed(2))
	}

	id := p.ID
	if id == "" {
		id = EndowmentID(en.newID())
	}
	currency := p.Currency
	if currency == "" {
		currency = generic.CurrencyUSD
	}
	e := Endowment{
		ID:             id,
		Name:           p.Name,
		DonorID:        p.DonorID,
		Type:           p.Type,
		Currency:       currency,
		Principal:      p.Principal,
		SelectedCauses: append([]CauseID(nil), p.Causes...),
		Status:         StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if len(p.CauseAllocation) > 0 {
		e.CauseAllocation = cloneMoney(p.CauseAllocation)
	}
	if p.Type == TypeHybrid {
		e.HybridAllocations = make(map[CauseID]TypeSplit, len(p.HybridAllocations))
		for c, split := range p.HybridAllocations {
			e.HybridAllocations[c] = split
		}
	}
	if p.Consumable != nil {
		d := p.Consumable.clone()
		if d.StartDate.IsZero() {
			d.StartDate = now
		}
		e.Consumable = &d
	}
	if p.Revolving != nil {
		rd := p.Revolving.clone()
		rd.Tranches = nil
		rd.PendingNotifications = nil
		if rd.ReturnMethod == "" {
			rd.ReturnMethod = ReturnLumpSum
		}
		e.Revolving = &rd
	}

	tranche, err := en.bookContribution(&e, Contribution{Amount: p.Principal, PaymentID: p.PaymentID}, now)
	if err != nil {
		return Outcome{}, err
	}
	reconciled, err := Reconcile(e, e)
	if err != nil {
		return Outcome{}, err
	}

	donation := en.entry(reconciled, generic.TxDonation, p.Principal, trancheID(tranche), "initial principal", now)
	donation.ReferenceID = p.PaymentID
	donation.IdempotencyKey = "create:" + string(id)
	return Outcome{Endowment: reconciled, Entries: []generic.Transaction{donation}, Tranche: tranche}, nil
}

func (p NewEndowmentParams) validate() error {
	if !p.Type.IsValid() {
		return fmt.Errorf("%w: unknown waqf type %q", generic.ErrInvalidInput, p.Type)
	}
	if !p.Principal.IsPositive() {
		return fmt.Errorf("%w: principal must be positive, got %s", generic.ErrInvalidAmount, p.Principal)
	}
	if len(p.Causes) == 0 {
		return &generic.AllocationError{Message: "at least one cause is required"}
	}
	seen := make(map[CauseID]bool, len(p.Causes))
	for _, c := range p.Causes {
		if c == "" || seen[c] {
			return &generic.AllocationError{CauseID: string(c), Message: "causes must be unique and non-empty"}
		}
		seen[c] = true
	}

	if len(p.CauseAllocation) > 0 {
		total := decimal.Zero
		for c, pct := range p.CauseAllocation {
			if !seen[c] {
				return &generic.AllocationError{CauseID: string(c), Message: "cause is not selected"}
			}
			if pct.IsNegative() {
				return &generic.AllocationError{CauseID: string(c), Sum: pct, Message: "percentage cannot be negative"}
			}
			total = total.Add(pct)
		}
		if total.Sub(hundred).Abs().GreaterThan(PercentTolerance) {
			return &generic.AllocationError{Sum: total, Message: "allocation must total 100%"}
		}
	}

	needsRevolving := p.Type == TypeRevolving
	needsConsumable := p.Type == TypeConsumable
	if p.Type == TypeHybrid {
		if err := ValidateHybridAllocations(p.HybridAllocations, p.Causes); err != nil {
			return err
		}
		for c := range p.HybridAllocations {
			if !seen[c] {
				return &generic.AllocationError{CauseID: string(c), Message: "hybrid allocation for a cause that is not selected"}
			}
			if p.HybridAllocations[c].Revolving.IsPositive() {
				needsRevolving = true
			}
		}
	}

	if needsConsumable && p.Consumable == nil {
		return fmt.Errorf("%w: consumable endowments need consumable details", generic.ErrInvalidInput)
	}
	if p.Consumable != nil {
		if err := p.Consumable.validate(); err != nil {
			return err
		}
	}
	if needsRevolving && p.Revolving == nil {
		return fmt.Errorf("%w: %s endowments with a revolving share need revolving details", generic.ErrInvalidInput, p.Type)
	}
	if p.Revolving != nil {
		if err := p.Revolving.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (d ConsumableDetails) validate() error {
	if !d.Schedule.IsValid() {
		return fmt.Errorf("%w: invalid spending schedule %q", generic.ErrInvalidInput, d.Schedule)
	}
	if d.TargetAmount.IsNegative() || d.MinimumMonthlyDistribution.IsNegative() || d.TargetBeneficiaries < 0 {
		return fmt.Errorf("%w: consumable targets cannot be negative", generic.ErrInvalidInput)
	}
	if d.Schedule == SchedulePhased && (d.StartDate.IsZero() || d.EndDate.IsZero()) {
		return fmt.Errorf("%w: phased schedules need a start and an end date", generic.ErrInvalidInput)
	}
	if d.Schedule == ScheduleMilestone && len(d.Milestones) == 0 {
		return fmt.Errorf("%w: milestone-based schedules need at least one milestone", generic.ErrInvalidInput)
	}
	if !d.StartDate.IsZero() && !d.EndDate.IsZero() {
		if !d.EndDate.After(d.StartDate) {
			return fmt.Errorf("%w: end date must be after start date", generic.ErrInvalidDuration)
		}
		if d.EndDate.After(d.StartDate.AddMonths(MaxConsumableDuration)) {
			return &generic.DurationError{
				Field:  "consumable_duration_months",
				Months: int(generic.MonthsBetween(d.StartDate, d.EndDate)),
				Min:    MinConsumableDuration,
				Max:    MaxConsumableDuration,
			}
		}
	}
	return nil
}

func (d RevolvingDetails) validate() error {
	if err := validateMonths("lock_period_months", d.LockPeriodMonths, MinLockMonths, MaxLockMonths); err != nil {
		return err
	}
	switch d.ReturnMethod {
	case "", ReturnLumpSum:
	case ReturnInstallments:
		s := d.InstallmentSchedule
		if s == nil || s.Count < 1 || !s.Frequency.IsValid() {
			return fmt.Errorf("%w: installment returns need a count of at least 1 and a frequency", generic.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown return method %q", generic.ErrInvalidInput, d.ReturnMethod)
	}
	if d.EarlyWithdrawalPenalty.IsNegative() || d.EarlyWithdrawalPenalty.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: early withdrawal penalty must be between 0 and 1, got %s",
			generic.ErrInvalidInput, d.EarlyWithdrawalPenalty)
	}
	if d.DefaultPreference != nil {
		return d.DefaultPreference.Validate()
	}
	return nil
}

// =============================================================================
// LOCK PERIOD - May only grow
// =============================================================================

// UpdateLockPeriod raises the lock period for future tranches. Existing
// tranches keep their maturity dates.
func (en *Engine) UpdateLockPeriod(e Endowment, months int, now generic.TimePoint) (Outcome, error) {
	if e.Revolving == nil {
		return Outcome{}, fmt.Errorf("%w: %s has no revolving details", generic.ErrUnsupportedType, e.ID)
	}
	if err := validateMonths("lock_period_months", months, MinLockMonths, MaxLockMonths); err != nil {
		return Outcome{}, err
	}
	if months < e.Revolving.LockPeriodMonths {
		return Outcome{}, &generic.DurationError{
			Field: "lock_period_months", Months: months,
			Min: e.Revolving.LockPeriodMonths, Max: MaxLockMonths,
		}
	}
	next := e.Clone()
	next.Revolving.LockPeriodMonths = months
	next.UpdatedAt = now
	reconciled, err := Reconcile(e, next)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Endowment: reconciled}, nil
}
