/*
Package waqf implements the endowment allocation and tranche lifecycle engine.

PURPOSE:
  A waqf is a charitable endowment whose spending rules depend on its type.
  This package splits an endowment's balance across waqf types and causes,
  tracks every revolving contribution as an independently maturing tranche,
  resolves what happens to a tranche at maturity, and keeps the aggregate
  financial figures consistent after every mutation.

WAQF TYPES:
  Permanent:  Principal is invested forever, only returns are spent
  Consumable: Principal is spent down on a schedule
  Revolving:  Principal is lent for a lock period, then resolved per tranche
  Hybrid:     Each cause splits its dollars across the three types above

ENGINE SHAPE:
  Every operation is a pure, synchronous value-in/value-out function over an
  Endowment aggregate (endowment + tranches). Operations return an Outcome
  holding the new aggregate and the ledger entries describing the movement.
  Persistence, locking and retries live in Service.

SEE ALSO:
  - allocation.go: Balance split per cause and type
  - tranche.go: Tranche classification
  - maturity.go: Maturity state machine
  - acceptor.go: Consumable contribution gate
  - reconciler.go: Invariant enforcement
  - engine.go: Facade over all of the above
*/
package waqf

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/waqf-engine/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EndowmentID string
type TrancheID string
type CauseID string

// =============================================================================
// WAQF TYPE - Closed enum, normalized once at the edge
// =============================================================================

type WaqfType string

const (
	TypePermanent  WaqfType = "permanent"
	TypeConsumable WaqfType = "consumable"
	TypeRevolving  WaqfType = "revolving"
	TypeHybrid     WaqfType = "hybrid"
)

// ParseWaqfType maps every spelling seen in stored data onto the closed enum.
// "Permanent", "permanent", "TemporaryConsumable", "temporary_consumable",
// "temporary-revolving" and "HYBRID" are all accepted.
func ParseWaqfType(s string) (WaqfType, error) {
	k := normalizeKey(s)
	k = strings.TrimPrefix(k, "temporary")
	k = strings.TrimSuffix(k, "waqf")
	switch k {
	case "permanent":
		return TypePermanent, nil
	case "consumable":
		return TypeConsumable, nil
	case "revolving":
		return TypeRevolving, nil
	case "hybrid":
		return TypeHybrid, nil
	}
	return "", fmt.Errorf("%w: unknown waqf type %q", generic.ErrInvalidInput, s)
}

func (t WaqfType) IsValid() bool {
	switch t {
	case TypePermanent, TypeConsumable, TypeRevolving, TypeHybrid:
		return true
	default:
		return false
	}
}

// HasTranches reports whether contributions to this type are tracked as tranches.
func (t WaqfType) HasTranches() bool {
	return t == TypeRevolving || t == TypeHybrid
}

// normalizeKey lowercases and strips separators.
func normalizeKey(s string) string {
	r := strings.NewReplacer("_", "", "-", "", " ", "")
	return r.Replace(strings.ToLower(strings.TrimSpace(s)))
}

// =============================================================================
// TYPE SPLIT - One value per waqf type
// =============================================================================

// TypeSplit holds one value per non-hybrid waqf type. It is used both for
// a cause's hybrid percentages and for the dollars those percentages yield.
type TypeSplit struct {
	Permanent  decimal.Decimal `json:"permanent"`
	Consumable decimal.Decimal `json:"consumable"`
	Revolving  decimal.Decimal `json:"revolving"`
}

func (s TypeSplit) Sum() decimal.Decimal {
	return s.Permanent.Add(s.Consumable).Add(s.Revolving)
}

func (s TypeSplit) Get(t WaqfType) decimal.Decimal {
	switch t {
	case TypePermanent:
		return s.Permanent
	case TypeConsumable:
		return s.Consumable
	case TypeRevolving:
		return s.Revolving
	default:
		return decimal.Zero
	}
}

func (s TypeSplit) With(t WaqfType, v decimal.Decimal) TypeSplit {
	switch t {
	case TypePermanent:
		s.Permanent = v
	case TypeConsumable:
		s.Consumable = v
	case TypeRevolving:
		s.Revolving = v
	}
	return s
}

func (s TypeSplit) Add(o TypeSplit) TypeSplit {
	return TypeSplit{
		Permanent:  s.Permanent.Add(o.Permanent),
		Consumable: s.Consumable.Add(o.Consumable),
		Revolving:  s.Revolving.Add(o.Revolving),
	}
}

// =============================================================================
// ENDOWMENT - The aggregate root
// =============================================================================

type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusInactive Status = "inactive"
)

func (s Status) IsValid() bool {
	return s == StatusActive || s == StatusPaused || s == StatusInactive
}

// Endowment is the aggregate every engine operation reads and writes.
// Principal is fixed at creation.
type Endowment struct {
	ID                EndowmentID                 `json:"id"`
	Name              string                      `json:"name"`
	DonorID           string                      `json:"donor_id"`
	Type              WaqfType                    `json:"type"`
	Currency          generic.Currency            `json:"currency"`
	Principal         decimal.Decimal             `json:"principal"`
	SelectedCauses    []CauseID                   `json:"selected_causes"`
	CauseAllocation   map[CauseID]decimal.Decimal `json:"cause_allocation"`
	HybridAllocations map[CauseID]TypeSplit       `json:"hybrid_allocations,omitempty"`
	Financial         Financial                   `json:"financial"`
	Consumable        *ConsumableDetails          `json:"consumable,omitempty"`
	Revolving         *RevolvingDetails           `json:"revolving,omitempty"`
	Status            Status                      `json:"status"`
	CreatedAt         generic.TimePoint           `json:"created_at"`
	UpdatedAt         generic.TimePoint           `json:"updated_at"`
	Version           int64                       `json:"version"`
}

// Financial holds the running totals. CurrentBalance is always re-derived
// by the reconciler from the other three totals.
type Financial struct {
	TotalDonations        decimal.Decimal             `json:"total_donations"`
	TotalDistributed      decimal.Decimal             `json:"total_distributed"`
	CurrentBalance        decimal.Decimal             `json:"current_balance"`
	CauseAllocations      map[CauseID]decimal.Decimal `json:"cause_allocations"`
	TotalInvestmentReturn decimal.Decimal             `json:"total_investment_return"`
	GrowthRate            decimal.Decimal             `json:"growth_rate"`

	// PrincipalReturned is the part of TotalDistributed paid back to donors
	// through refunds, installments and early withdrawals.
	PrincipalReturned decimal.Decimal `json:"principal_returned"`
	// BeneficiariesReached counts people served, for consumable targets.
	BeneficiariesReached int `json:"beneficiaries_reached"`

	// TypeHoldings is each hybrid cause's dollars per waqf type. It follows
	// money in and out; HybridAllocations, the blend new money is split by,
	// only changes when a tranche converts.
	TypeHoldings map[CauseID]TypeSplit `json:"type_holdings,omitempty"`
}

// Entity converts the endowment id for ledger entries.
func (e Endowment) Entity() generic.EntityID { return generic.EntityID(e.ID) }

// HasCause reports whether c is one of the selected causes.
func (e Endowment) HasCause(c CauseID) bool {
	for _, sc := range e.SelectedCauses {
		if sc == c {
			return true
		}
	}
	return false
}

// Tranches returns the tranche slice, nil for types without tranches.
func (e Endowment) Tranches() []Tranche {
	if e.Revolving == nil {
		return nil
	}
	return e.Revolving.Tranches
}

// FindTranche returns the index of the tranche or -1.
func (e Endowment) FindTranche(id TrancheID) int {
	for i, t := range e.Tranches() {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// Clone deep-copies the aggregate so operations can mutate freely and
// discard the copy on failure.
func (e Endowment) Clone() Endowment {
	c := e
	c.SelectedCauses = append([]CauseID(nil), e.SelectedCauses...)
	c.CauseAllocation = cloneMoney(e.CauseAllocation)
	c.HybridAllocations = cloneSplits(e.HybridAllocations)
	c.Financial.CauseAllocations = cloneMoney(e.Financial.CauseAllocations)
	c.Financial.TypeHoldings = cloneSplits(e.Financial.TypeHoldings)
	if e.Consumable != nil {
		cd := e.Consumable.clone()
		c.Consumable = &cd
	}
	if e.Revolving != nil {
		rd := e.Revolving.clone()
		c.Revolving = &rd
	}
	return c
}

func cloneSplits(m map[CauseID]TypeSplit) map[CauseID]TypeSplit {
	if m == nil {
		return nil
	}
	out := make(map[CauseID]TypeSplit, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneMoney(m map[CauseID]decimal.Decimal) map[CauseID]decimal.Decimal {
	if m == nil {
		return nil
	}
	out := make(map[CauseID]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// =============================================================================
// CONSUMABLE DETAILS - Spend-down schedule
// =============================================================================

type SpendingSchedule string

const (
	ScheduleImmediate SpendingSchedule = "immediate"
	SchedulePhased    SpendingSchedule = "phased"
	ScheduleMilestone SpendingSchedule = "milestone-based"
	ScheduleOngoing   SpendingSchedule = "ongoing"
)

// ParseSpendingSchedule accepts "milestone-based", "milestone_based",
// "Milestone" and similar spellings.
func ParseSpendingSchedule(s string) (SpendingSchedule, error) {
	switch k := normalizeKey(s); k {
	case "immediate":
		return ScheduleImmediate, nil
	case "phased":
		return SchedulePhased, nil
	case "milestonebased", "milestone", "milestones":
		return ScheduleMilestone, nil
	case "ongoing":
		return ScheduleOngoing, nil
	}
	return "", fmt.Errorf("%w: unknown spending schedule %q", generic.ErrInvalidInput, s)
}

func (s SpendingSchedule) IsValid() bool {
	switch s {
	case ScheduleImmediate, SchedulePhased, ScheduleMilestone, ScheduleOngoing:
		return true
	default:
		return false
	}
}

type Milestone struct {
	ID          string            `json:"id"`
	Description string            `json:"description"`
	TargetDate  generic.TimePoint `json:"target_date"`
	Amount      decimal.Decimal   `json:"amount"`
	Completed   bool              `json:"completed"`
}

// ConsumableDetails describes how a consumable endowment spends down.
// Zero TargetAmount, TargetBeneficiaries or EndDate mean "not set".
type ConsumableDetails struct {
	Schedule                   SpendingSchedule  `json:"schedule"`
	StartDate                  generic.TimePoint `json:"start_date"`
	EndDate                    generic.TimePoint `json:"end_date"`
	TargetAmount               decimal.Decimal   `json:"target_amount"`
	TargetBeneficiaries        int               `json:"target_beneficiaries"`
	MinimumMonthlyDistribution decimal.Decimal   `json:"minimum_monthly_distribution"`
	Milestones                 []Milestone       `json:"milestones,omitempty"`
}

// Window returns [StartDate, EndDate].
func (d ConsumableDetails) Window() generic.Period {
	return generic.Period{Start: d.StartDate, End: d.EndDate}
}

func (d ConsumableDetails) clone() ConsumableDetails {
	c := d
	c.Milestones = append([]Milestone(nil), d.Milestones...)
	return c
}

// =============================================================================
// REVOLVING DETAILS - Lock period, return rules, tranches
// =============================================================================

type ReturnMethod string

const (
	ReturnLumpSum      ReturnMethod = "lump_sum"
	ReturnInstallments ReturnMethod = "installments"
)

type InstallmentSchedule struct {
	Count     int               `json:"count"`
	Frequency generic.Frequency `json:"frequency"`
}

type RevolvingDetails struct {
	LockPeriodMonths       int                   `json:"lock_period_months"`
	ReturnMethod           ReturnMethod          `json:"return_method"`
	InstallmentSchedule    *InstallmentSchedule  `json:"installment_schedule,omitempty"`
	EarlyWithdrawalAllowed bool                  `json:"early_withdrawal_allowed"`
	EarlyWithdrawalPenalty decimal.Decimal       `json:"early_withdrawal_penalty"`
	DefaultPreference      *ExpirationPreference `json:"default_preference,omitempty"`
	Tranches               []Tranche             `json:"tranches"`
	PendingNotifications   []Notification        `json:"pending_notifications,omitempty"`
}

func (d RevolvingDetails) clone() RevolvingDetails {
	c := d
	if d.InstallmentSchedule != nil {
		s := *d.InstallmentSchedule
		c.InstallmentSchedule = &s
	}
	if d.DefaultPreference != nil {
		p := d.DefaultPreference.clone()
		c.DefaultPreference = &p
	}
	c.Tranches = make([]Tranche, len(d.Tranches))
	for i, t := range d.Tranches {
		c.Tranches[i] = t.Clone()
	}
	c.PendingNotifications = append([]Notification(nil), d.PendingNotifications...)
	return c
}

// Notification is queued for the donor-facing notification collaborator.
type Notification struct {
	At        generic.TimePoint `json:"at"`
	TrancheID TrancheID         `json:"tranche_id,omitempty"`
	Kind      string            `json:"kind"`
	Message   string            `json:"message"`
}

const (
	NotifyRollover         = "rollover"
	NotifyInstallments     = "installments_scheduled"
	NotifyEarlyWithdrawal  = "early_withdrawal"
	NotifyReturnCompleted  = "return_completed"
	NotifyConversion       = "conversion"
	NotifyExpirationFailed = "expiration_failed"
)

// =============================================================================
// CAUSE - Read-only catalog record
// =============================================================================

type Cause struct {
	ID             CauseID    `json:"id"`
	Name           string     `json:"name"`
	Category       string     `json:"category"`
	SupportedTypes []WaqfType `json:"supported_types"`
	Active         bool       `json:"active"`
}

// Supports reports whether the cause accepts endowments of type t.
// An empty list supports every type.
func (c Cause) Supports(t WaqfType) bool {
	if len(c.SupportedTypes) == 0 {
		return true
	}
	for _, s := range c.SupportedTypes {
		if s == t {
			return true
		}
	}
	return false
}
