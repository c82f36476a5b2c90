/*
dto.go - Request and response bodies for the endowment API

PURPOSE:
  Keeps the HTTP contract apart from the engine's types. Requests carry
  ozzo-validation rules for their shape; range and state rules stay with the
  engine so that every caller gets the same answer.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO:     Response types returned to clients

SEE ALSO:
  - handlers.go: Uses these types
  - factory/endowment.go: Create requests and cause entries
*/
package api

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"github.com/warp/waqf-engine/factory"
	"github.com/warp/waqf-engine/generic"
	"github.com/warp/waqf-engine/waqf"
)

// =============================================================================
// VALIDATION HELPERS
// =============================================================================

func positive(value interface{}) error {
	d, ok := value.(decimal.Decimal)
	if !ok {
		return errors.New("must be a decimal")
	}
	if !d.IsPositive() {
		return errors.New("must be greater than zero")
	}
	return nil
}

// =============================================================================
// CAUSES
// =============================================================================

type CreateCauseRequest struct {
	factory.CauseJSON
}

func (r *CreateCauseRequest) Validate() error {
	return validation.ValidateStruct(&r.CauseJSON,
		validation.Field(&r.CauseJSON.ID, validation.Required),
		validation.Field(&r.CauseJSON.Name, validation.Required),
	)
}

// =============================================================================
// ENDOWMENTS
// =============================================================================

type CreateEndowmentRequest struct {
	factory.EndowmentJSON
}

func (r *CreateEndowmentRequest) Validate() error {
	e := &r.EndowmentJSON
	return validation.ValidateStruct(e,
		validation.Field(&e.WaqfType, validation.When(!e.IsHybrid, validation.Required.Error("waqf_type is required unless is_hybrid is set"))),
		validation.Field(&e.Principal, validation.By(positive)),
		validation.Field(&e.SelectedCauses, validation.Required),
		validation.Field(&e.PaymentID, validation.Length(0, 128)),
	)
}

type ContributionRequest struct {
	TransactionID string                     `json:"transaction_id"`
	Amount        decimal.Decimal            `json:"amount"`
	Currency      string                     `json:"currency,omitempty"`
	Timestamp     factory.Timestamp          `json:"timestamp"`
	Routing       map[string]decimal.Decimal `json:"routing,omitempty"`
	Preference    *factory.PreferenceJSON    `json:"expiration_preference,omitempty"`
}

func (r *ContributionRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.TransactionID, validation.Required),
		validation.Field(&r.Amount, validation.By(positive)),
	)
}

// ToConfirmation splits the request into the engine's inputs.
func (r ContributionRequest) ToConfirmation() (waqf.PaymentConfirmation, map[waqf.CauseID]decimal.Decimal, *waqf.ExpirationPreference, error) {
	pref, err := r.Preference.ToPreference()
	if err != nil {
		return waqf.PaymentConfirmation{}, nil, nil, err
	}
	var routing map[waqf.CauseID]decimal.Decimal
	if len(r.Routing) > 0 {
		routing = make(map[waqf.CauseID]decimal.Decimal, len(r.Routing))
		for c, amt := range r.Routing {
			routing[waqf.CauseID(c)] = amt
		}
	}
	pc := waqf.PaymentConfirmation{
		TransactionID: r.TransactionID,
		Amount:        r.Amount,
		Currency:      generic.Currency(r.Currency),
		Timestamp:     r.Timestamp.TimePoint,
	}
	return pc, routing, pref, nil
}

type CheckContributionRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (r *CheckContributionRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Amount, validation.By(positive)),
	)
}

// ResolveRequest is the donor's choice for one matured tranche.
type ResolveRequest struct {
	Action             string                `json:"action"`
	RolloverMonths     int                   `json:"rollover_months,omitempty"`
	TargetCause        string                `json:"target_cause,omitempty"`
	InvestmentStrategy *factory.StrategyJSON `json:"investment_strategy,omitempty"`
	SpendingSchedule   string                `json:"spending_schedule,omitempty"`
	StartDate          factory.Timestamp     `json:"start_date"`
	EndDate            factory.Timestamp     `json:"end_date"`
}

func (r *ResolveRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Action, validation.Required),
		validation.Field(&r.RolloverMonths, validation.Min(0)),
	)
}

func (r ResolveRequest) ToAction() (waqf.MaturityAction, error) {
	kind, err := waqf.ParseExpirationAction(r.Action)
	if err != nil {
		return waqf.MaturityAction{}, err
	}
	a := waqf.MaturityAction{
		Kind:           kind,
		RolloverMonths: r.RolloverMonths,
		TargetCause:    waqf.CauseID(r.TargetCause),
		StartDate:      r.StartDate.TimePoint,
		EndDate:        r.EndDate.TimePoint,
	}
	if r.SpendingSchedule != "" {
		if a.Schedule, err = waqf.ParseSpendingSchedule(r.SpendingSchedule); err != nil {
			return waqf.MaturityAction{}, err
		}
	}
	if r.InvestmentStrategy != nil {
		s, err := r.InvestmentStrategy.ToStrategy()
		if err != nil {
			return waqf.MaturityAction{}, err
		}
		a.Strategy = &s
	}
	return a, nil
}

type DistributionRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	CauseID       string          `json:"cause_id"`
	FromType      string          `json:"from_type,omitempty"`
	Reference     string          `json:"reference"`
	Beneficiaries int             `json:"beneficiaries,omitempty"`
}

func (r *DistributionRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Amount, validation.By(positive)),
		validation.Field(&r.CauseID, validation.Required),
		validation.Field(&r.Reference, validation.Required),
		validation.Field(&r.Beneficiaries, validation.Min(0)),
	)
}

func (r DistributionRequest) ToDistribution() (waqf.Distribution, error) {
	d := waqf.Distribution{
		Amount:        r.Amount,
		CauseID:       waqf.CauseID(r.CauseID),
		Reference:     r.Reference,
		Beneficiaries: r.Beneficiaries,
	}
	if r.FromType != "" {
		t, err := waqf.ParseWaqfType(r.FromType)
		if err != nil {
			return waqf.Distribution{}, err
		}
		d.FromType = t
	}
	return d, nil
}

type InvestmentReturnRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

func (r *InvestmentReturnRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Amount, validation.By(positive)),
		validation.Field(&r.Reference, validation.Required),
	)
}

type LockPeriodRequest struct {
	Months int `json:"lock_period_months"`
}

func (r *LockPeriodRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Months, validation.Required, validation.Min(waqf.MinLockMonths), validation.Max(waqf.MaxLockMonths)),
	)
}

// =============================================================================
// RESPONSES
// =============================================================================

// TransactionDTO is one ledger entry.
type TransactionDTO struct {
	ID          string            `json:"id"`
	EndowmentID string            `json:"endowment_id"`
	TrancheID   string            `json:"tranche_id,omitempty"`
	Type        string            `json:"type"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	EffectiveAt generic.TimePoint `json:"effective_at"`
	Reference   string            `json:"reference,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func toTransactionDTOs(txs []generic.Transaction) []TransactionDTO {
	out := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		out[i] = TransactionDTO{
			ID:          string(tx.ID),
			EndowmentID: string(tx.EntityID),
			TrancheID:   tx.TrancheID,
			Type:        string(tx.Type),
			Amount:      tx.Delta.Value,
			Currency:    string(tx.Delta.Currency),
			EffectiveAt: tx.EffectiveAt,
			Reference:   tx.ReferenceID,
			Reason:      tx.Reason,
			Metadata:    tx.Metadata,
		}
	}
	return out
}

// OutcomeDTO is the result of every mutating endowment call.
type OutcomeDTO struct {
	Endowment    waqf.Endowment   `json:"endowment"`
	Tranche      *waqf.Tranche    `json:"tranche,omitempty"`
	Successor    *waqf.Tranche    `json:"successor,omitempty"`
	Transactions []TransactionDTO `json:"transactions"`
	Unchanged    bool             `json:"unchanged"`
}

func toOutcomeDTO(out waqf.Outcome) OutcomeDTO {
	return OutcomeDTO{
		Endowment:    out.Endowment,
		Tranche:      out.Tranche,
		Successor:    out.Successor,
		Transactions: toTransactionDTOs(out.Entries),
		Unchanged:    out.Unchanged,
	}
}

type CompletionDTO struct {
	waqf.Completion
	RecommendedMonthly decimal.Decimal `json:"recommended_monthly_distribution"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
