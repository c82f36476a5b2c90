/*
Package factory converts wire JSON into engine inputs.

PURPOSE:
  Endowment requests arrive from several generations of clients. Type names,
  hybrid allocation shapes and timestamps are spelled differently across
  them. The factory maps every spelling onto the engine's closed types once,
  so nothing past this package ever sees a raw string or a legacy epoch.

JSON SCHEMA:
  {
    "name": "Family waqf",
    "donor_id": "donor-17",
    "waqf_type": "TemporaryRevolving",      // any spelling ParseWaqfType knows
    "principal": "5000",                    // number or string
    "selected_causes": ["water", "health"],
    "cause_allocation": {"water": 60, "health": 40},
    "hybrid_allocations": [                 // or {"water": {...}, ...}
      {"cause_id": "water", "allocations": {"Permanent": 50, "TemporaryRevolving": 50}}
    ],
    "revolving_details": {
      "lock_period_months": 12,
      "principal_return_method": "installments",
      "installment_schedule": {"frequency": "quarterly", "number_of_installments": 4},
      "early_withdrawal_allowed": true,
      "early_withdrawal_penalty": 0.1,
      "auto_rollover_preference": "cause_pool",
      "auto_rollover_target_cause": "health"
    },
    "consumable_details": {
      "spending_schedule": "milestone_based",
      "start_date": 1736899200,             // seconds, millis, micros, nanos or RFC 3339
      "end_date": "2026-01-15T00:00:00Z"
    }
  }

HYBRID NORMALIZATION:
  A cause whose three shares are all zero becomes 100% permanent. Any other
  triple is rescaled to sum to exactly 100, the last non-zero share taking
  the rounding remainder.

SEE ALSO:
  - waqf/create.go: Validates what the factory produces
  - generic/time.go: FromEpoch
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/waqf-engine/generic"
	"github.com/warp/waqf-engine/waqf"
)

// percentPlaces matches the precision the reconciler stores percentages at.
const percentPlaces = 6

var hundred = decimal.NewFromInt(100)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// EndowmentJSON is the wire form of a create request.
type EndowmentJSON struct {
	ID                string                     `json:"id,omitempty"`
	Name              string                     `json:"name"`
	DonorID           string                     `json:"donor_id"`
	WaqfType          string                     `json:"waqf_type"`
	IsHybrid          bool                       `json:"is_hybrid,omitempty"`
	Currency          string                     `json:"currency,omitempty"`
	Principal         decimal.Decimal            `json:"principal"`
	SelectedCauses    []string                   `json:"selected_causes"`
	CauseAllocation   map[string]decimal.Decimal `json:"cause_allocation,omitempty"`
	HybridAllocations HybridAllocationsJSON      `json:"hybrid_allocations,omitempty"`
	Consumable        *ConsumableJSON            `json:"consumable_details,omitempty"`
	Revolving         *RevolvingJSON             `json:"revolving_details,omitempty"`
	PaymentID         string                     `json:"payment_id,omitempty"`
}

// HybridAllocationsJSON maps cause id to share name to percent. It decodes
// from either an object keyed by cause or a list of
// {"cause_id", "allocations"} entries.
type HybridAllocationsJSON map[string]map[string]decimal.Decimal

type hybridEntryJSON struct {
	CauseID     string                     `json:"cause_id"`
	LegacyID    string                     `json:"causeId"`
	Allocations map[string]decimal.Decimal `json:"allocations"`
}

func (h *HybridAllocationsJSON) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*h = nil
		return nil
	}
	out := make(HybridAllocationsJSON)
	if trimmed[0] == '[' {
		var entries []hybridEntryJSON
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return err
		}
		for _, e := range entries {
			id := e.CauseID
			if id == "" {
				id = e.LegacyID
			}
			if id == "" {
				return fmt.Errorf("%w: hybrid allocation without cause id", generic.ErrInvalidInput)
			}
			out[id] = e.Allocations
		}
		*h = out
		return nil
	}
	m := map[string]map[string]decimal.Decimal(out)
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return err
	}
	*h = HybridAllocationsJSON(m)
	return nil
}

type ConsumableJSON struct {
	SpendingSchedule           string          `json:"spending_schedule"`
	StartDate                  Timestamp       `json:"start_date"`
	EndDate                    Timestamp       `json:"end_date"`
	TargetAmount               decimal.Decimal `json:"target_amount"`
	TargetBeneficiaries        int             `json:"target_beneficiaries"`
	MinimumMonthlyDistribution decimal.Decimal `json:"minimum_monthly_distribution"`
	Milestones                 []MilestoneJSON `json:"milestones,omitempty"`
}

type MilestoneJSON struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	TargetDate  Timestamp       `json:"target_date"`
	Amount      decimal.Decimal `json:"amount"`
}

type RevolvingJSON struct {
	LockPeriodMonths       int                      `json:"lock_period_months"`
	PrincipalReturnMethod  string                   `json:"principal_return_method"`
	InstallmentSchedule    *InstallmentScheduleJSON `json:"installment_schedule,omitempty"`
	EarlyWithdrawalAllowed bool                     `json:"early_withdrawal_allowed"`
	EarlyWithdrawalPenalty decimal.Decimal          `json:"early_withdrawal_penalty"`
	AutoRolloverPreference string                   `json:"auto_rollover_preference,omitempty"`
	AutoRolloverTarget     string                   `json:"auto_rollover_target_cause,omitempty"`
	DefaultPreference      *PreferenceJSON          `json:"default_preference,omitempty"`
}

type InstallmentScheduleJSON struct {
	Frequency            string `json:"frequency"`
	NumberOfInstallments int    `json:"number_of_installments"`
}

// PreferenceJSON is a donor's expiration preference.
type PreferenceJSON struct {
	Action                   string        `json:"action"`
	RolloverMonths           int           `json:"rollover_months,omitempty"`
	TargetCause              string        `json:"target_cause,omitempty"`
	ConsumableSchedule       string        `json:"consumable_schedule,omitempty"`
	ConsumableDurationMonths int           `json:"consumable_duration_months,omitempty"`
	InvestmentStrategy       *StrategyJSON `json:"investment_strategy,omitempty"`
}

type StrategyJSON struct {
	AssetAllocation       string          `json:"asset_allocation"`
	ExpectedReturn        decimal.Decimal `json:"expected_return"`
	DistributionFrequency string          `json:"distribution_frequency"`
}

// =============================================================================
// TIMESTAMP - Legacy epochs and RFC 3339
// =============================================================================

// Timestamp decodes epoch numbers of unknown unit, numeric strings, RFC 3339
// strings and plain dates.
type Timestamp struct {
	generic.TimePoint
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" || s == `""` {
		t.TimePoint = generic.TimePoint{}
		return nil
	}
	if s[0] == '"' {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		s = strings.TrimSpace(unquoted)
	}
	tp, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.TimePoint = tp
	return nil
}

// ParseTimestamp accepts an epoch number in any unit, RFC 3339 or YYYY-MM-DD.
func ParseTimestamp(s string) (generic.TimePoint, error) {
	if s == "" {
		return generic.TimePoint{}, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return generic.FromEpoch(n), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return generic.FromEpoch(int64(f)), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return generic.FromTime(t), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return generic.FromTime(t), nil
	}
	return generic.TimePoint{}, fmt.Errorf("%w: unrecognized timestamp %q", generic.ErrInvalidInput, s)
}

// =============================================================================
// PARSING
// =============================================================================

// ParseEndowment decodes a create request and converts it.
func ParseEndowment(data []byte) (waqf.NewEndowmentParams, error) {
	var ej EndowmentJSON
	if err := json.Unmarshal(data, &ej); err != nil {
		return waqf.NewEndowmentParams{}, fmt.Errorf("%w: %v", generic.ErrInvalidInput, err)
	}
	return ej.ToParams()
}

// ToParams maps the request onto engine types. Range checks stay with the
// engine; only spelling and shape are handled here.
func (ej EndowmentJSON) ToParams() (waqf.NewEndowmentParams, error) {
	typ := waqf.TypeHybrid
	if !ej.IsHybrid || ej.WaqfType != "" {
		t, err := waqf.ParseWaqfType(ej.WaqfType)
		if err != nil {
			return waqf.NewEndowmentParams{}, err
		}
		typ = t
	}
	if ej.IsHybrid && typ != waqf.TypeHybrid {
		return waqf.NewEndowmentParams{}, fmt.Errorf("%w: is_hybrid set on a %s endowment", generic.ErrInvalidInput, typ)
	}

	p := waqf.NewEndowmentParams{
		ID:        waqf.EndowmentID(ej.ID),
		Name:      strings.TrimSpace(ej.Name),
		DonorID:   ej.DonorID,
		Type:      typ,
		Currency:  generic.Currency(strings.ToUpper(strings.TrimSpace(ej.Currency))),
		Principal: ej.Principal,
		PaymentID: ej.PaymentID,
	}
	for _, c := range ej.SelectedCauses {
		p.Causes = append(p.Causes, waqf.CauseID(strings.TrimSpace(c)))
	}
	if len(ej.CauseAllocation) > 0 {
		p.CauseAllocation = make(map[waqf.CauseID]decimal.Decimal, len(ej.CauseAllocation))
		for c, pct := range ej.CauseAllocation {
			p.CauseAllocation[waqf.CauseID(c)] = pct
		}
	}

	if typ == waqf.TypeHybrid {
		allocs, err := NormalizeHybrid(ej.HybridAllocations)
		if err != nil {
			return waqf.NewEndowmentParams{}, err
		}
		p.HybridAllocations = allocs
	} else if len(ej.HybridAllocations) > 0 {
		return waqf.NewEndowmentParams{}, fmt.Errorf("%w: hybrid allocations on a %s endowment", generic.ErrInvalidInput, typ)
	}

	if ej.Consumable != nil {
		d, err := ej.Consumable.toDetails()
		if err != nil {
			return waqf.NewEndowmentParams{}, err
		}
		p.Consumable = &d
	}
	if ej.Revolving != nil {
		d, err := ej.Revolving.toDetails()
		if err != nil {
			return waqf.NewEndowmentParams{}, err
		}
		p.Revolving = &d
	}
	return p, nil
}

// NormalizeHybrid converts every cause's shares to a TypeSplit summing to
// exactly 100.
func NormalizeHybrid(in HybridAllocationsJSON) (map[waqf.CauseID]waqf.TypeSplit, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[waqf.CauseID]waqf.TypeSplit, len(in))
	for cause, shares := range in {
		var split waqf.TypeSplit
		for name, pct := range shares {
			t, err := waqf.ParseWaqfType(name)
			if err != nil || t == waqf.TypeHybrid {
				return nil, &generic.AllocationError{CauseID: cause, Message: fmt.Sprintf("unknown share %q", name)}
			}
			if pct.IsNegative() {
				return nil, &generic.AllocationError{CauseID: cause, Sum: pct, Message: "share cannot be negative"}
			}
			split = split.With(t, split.Get(t).Add(pct))
		}
		out[waqf.CauseID(cause)] = rescale(split)
	}
	return out, nil
}

func rescale(s waqf.TypeSplit) waqf.TypeSplit {
	sum := s.Sum()
	if sum.IsZero() {
		return waqf.TypeSplit{Permanent: hundred, Consumable: decimal.Zero, Revolving: decimal.Zero}
	}
	if sum.Equal(hundred) {
		return s
	}
	order := []waqf.WaqfType{waqf.TypePermanent, waqf.TypeConsumable, waqf.TypeRevolving}
	last := -1
	for i, t := range order {
		if s.Get(t).IsPositive() {
			last = i
		}
	}
	out := waqf.TypeSplit{Permanent: decimal.Zero, Consumable: decimal.Zero, Revolving: decimal.Zero}
	used := decimal.Zero
	for i, t := range order {
		if i == last {
			out = out.With(t, hundred.Sub(used))
			break
		}
		v := s.Get(t).Mul(hundred).Div(sum).Round(percentPlaces)
		out = out.With(t, v)
		used = used.Add(v)
	}
	return out
}

func (cj ConsumableJSON) toDetails() (waqf.ConsumableDetails, error) {
	schedule, err := waqf.ParseSpendingSchedule(cj.SpendingSchedule)
	if err != nil {
		return waqf.ConsumableDetails{}, err
	}
	d := waqf.ConsumableDetails{
		Schedule:                   schedule,
		StartDate:                  cj.StartDate.TimePoint,
		EndDate:                    cj.EndDate.TimePoint,
		TargetAmount:               cj.TargetAmount,
		TargetBeneficiaries:        cj.TargetBeneficiaries,
		MinimumMonthlyDistribution: cj.MinimumMonthlyDistribution,
	}
	for i, m := range cj.Milestones {
		id := m.ID
		if id == "" {
			id = fmt.Sprintf("milestone-%d", i+1)
		}
		d.Milestones = append(d.Milestones, waqf.Milestone{
			ID:          id,
			Description: m.Description,
			TargetDate:  m.TargetDate.TimePoint,
			Amount:      m.Amount,
		})
	}
	return d, nil
}

func (rj RevolvingJSON) toDetails() (waqf.RevolvingDetails, error) {
	method, err := ParseReturnMethod(rj.PrincipalReturnMethod)
	if err != nil {
		return waqf.RevolvingDetails{}, err
	}
	d := waqf.RevolvingDetails{
		LockPeriodMonths:       rj.LockPeriodMonths,
		ReturnMethod:           method,
		EarlyWithdrawalAllowed: rj.EarlyWithdrawalAllowed,
		EarlyWithdrawalPenalty: rj.EarlyWithdrawalPenalty,
	}
	if rj.InstallmentSchedule != nil {
		freq, err := ParseFrequency(rj.InstallmentSchedule.Frequency)
		if err != nil {
			return waqf.RevolvingDetails{}, err
		}
		d.InstallmentSchedule = &waqf.InstallmentSchedule{
			Count:     rj.InstallmentSchedule.NumberOfInstallments,
			Frequency: freq,
		}
	}

	switch {
	case rj.DefaultPreference != nil:
		pref, err := rj.DefaultPreference.ToPreference()
		if err != nil {
			return waqf.RevolvingDetails{}, err
		}
		d.DefaultPreference = pref
	default:
		pref, err := autoRollover(rj.AutoRolloverPreference, rj.AutoRolloverTarget)
		if err != nil {
			return waqf.RevolvingDetails{}, err
		}
		d.DefaultPreference = pref
	}
	return d, nil
}

// autoRollover maps the older auto-rollover setting onto a default
// preference. "none" and "" leave matured tranches to the donor.
func autoRollover(mode, target string) (*waqf.ExpirationPreference, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "none":
		return nil, nil
	case "same_cause", "samecause":
		return &waqf.ExpirationPreference{Action: waqf.ActionRollover}, nil
	case "cause_pool", "causepool":
		if target == "" {
			return nil, fmt.Errorf("%w: auto rollover to the cause pool needs a target cause", generic.ErrInvalidInput)
		}
		return &waqf.ExpirationPreference{Action: waqf.ActionRollover, TargetCause: waqf.CauseID(target)}, nil
	}
	return nil, fmt.Errorf("%w: unknown auto rollover preference %q", generic.ErrInvalidInput, mode)
}

// ToPreference converts and validates a preference. A nil receiver yields nil.
func (pj *PreferenceJSON) ToPreference() (*waqf.ExpirationPreference, error) {
	if pj == nil {
		return nil, nil
	}
	action, err := waqf.ParseExpirationAction(pj.Action)
	if err != nil {
		return nil, err
	}
	pref := waqf.ExpirationPreference{
		Action:                   action,
		RolloverMonths:           pj.RolloverMonths,
		TargetCause:              waqf.CauseID(pj.TargetCause),
		ConsumableDurationMonths: pj.ConsumableDurationMonths,
	}
	if pj.ConsumableSchedule != "" {
		schedule, err := waqf.ParseSpendingSchedule(pj.ConsumableSchedule)
		if err != nil {
			return nil, err
		}
		pref.ConsumableSchedule = schedule
	}
	if pj.InvestmentStrategy != nil {
		strategy, err := pj.InvestmentStrategy.ToStrategy()
		if err != nil {
			return nil, err
		}
		pref.Strategy = &strategy
	}
	if err := pref.Validate(); err != nil {
		return nil, err
	}
	return &pref, nil
}

// ToStrategy fills unset fields from the default strategy.
func (sj StrategyJSON) ToStrategy() (waqf.InvestmentStrategy, error) {
	s := waqf.DefaultInvestmentStrategy()
	if sj.AssetAllocation != "" {
		s.AssetAllocation = sj.AssetAllocation
	}
	if !sj.ExpectedReturn.IsZero() {
		s.ExpectedReturn = sj.ExpectedReturn
	}
	if sj.DistributionFrequency != "" {
		freq, err := ParseFrequency(sj.DistributionFrequency)
		if err != nil {
			return waqf.InvestmentStrategy{}, err
		}
		s.DistributionFrequency = freq
	}
	return s, nil
}

// ParseReturnMethod defaults to lump sum.
func ParseReturnMethod(s string) (waqf.ReturnMethod, error) {
	switch strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(s))) {
	case "", "lumpsum":
		return waqf.ReturnLumpSum, nil
	case "installments", "installment":
		return waqf.ReturnInstallments, nil
	}
	return "", fmt.Errorf("%w: unknown principal return method %q", generic.ErrInvalidInput, s)
}

func ParseFrequency(s string) (generic.Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "monthly":
		return generic.FrequencyMonthly, nil
	case "quarterly":
		return generic.FrequencyQuarterly, nil
	case "annually", "annual", "yearly":
		return generic.FrequencyAnnually, nil
	}
	return "", fmt.Errorf("%w: unknown frequency %q", generic.ErrInvalidInput, s)
}

// =============================================================================
// CAUSES
// =============================================================================

// CauseJSON is the wire form of a catalog entry.
type CauseJSON struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Category           string   `json:"category"`
	SupportedWaqfTypes []string `json:"supported_waqf_types"`
	Active             *bool    `json:"active,omitempty"`
}

// ToCause normalizes type spellings; a missing active flag means active.
func (cj CauseJSON) ToCause() (waqf.Cause, error) {
	c := waqf.Cause{
		ID:       waqf.CauseID(strings.TrimSpace(cj.ID)),
		Name:     strings.TrimSpace(cj.Name),
		Category: strings.TrimSpace(cj.Category),
		Active:   cj.Active == nil || *cj.Active,
	}
	seen := make(map[waqf.WaqfType]bool)
	for _, s := range cj.SupportedWaqfTypes {
		t, err := waqf.ParseWaqfType(s)
		if err != nil {
			return waqf.Cause{}, err
		}
		if !seen[t] {
			seen[t] = true
			c.SupportedTypes = append(c.SupportedTypes, t)
		}
	}
	sort.Slice(c.SupportedTypes, func(i, j int) bool { return c.SupportedTypes[i] < c.SupportedTypes[j] })
	return c, nil
}
