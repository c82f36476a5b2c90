package waqf

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/waqf-engine/generic"
)

// =============================================================================
// ENGINE - Pure facade over the endowment operations
// =============================================================================

// Engine exposes the endowment operations. It holds no state besides the id
// generator; every method takes an aggregate and returns a new one.
type Engine struct {
	NewID func() string

	// MinimumPrincipal rejects smaller endowments at creation. Zero disables.
	MinimumPrincipal decimal.Decimal
}

func NewEngine() *Engine {
	return &Engine{NewID: uuid.NewString}
}

// Outcome is the result of a mutating operation: the reconciled aggregate,
// the ledger entries describing the movement, and the tranche touched.
// Unchanged marks a no-op that needs no write.
type Outcome struct {
	Endowment Endowment
	Entries   []generic.Transaction
	Tranche   *Tranche
	Successor *Tranche
	Unchanged bool
}

// ComputeAllocationSplit is SplitBalance.
func (en *Engine) ComputeAllocationSplit(e Endowment) (AllocationSplit, error) {
	return SplitBalance(e)
}

// ClassifyTranches is the package-level ClassifyTranches.
func (en *Engine) ClassifyTranches(e Endowment, now generic.TimePoint) Classification {
	return ClassifyTranches(e, now)
}

// CanAcceptContribution is the package-level CanAcceptContribution.
func (en *Engine) CanAcceptContribution(e Endowment, amount decimal.Decimal, now generic.TimePoint) (Decision, error) {
	return CanAcceptContribution(e, amount, now)
}

// =============================================================================
// HELPERS SHARED BY THE OPERATIONS
// =============================================================================

func (en *Engine) newID() string {
	if en.NewID == nil {
		return uuid.NewString()
	}
	return en.NewID()
}

func (en *Engine) entry(e Endowment, typ generic.TransactionType, delta decimal.Decimal,
	trancheID TrancheID, reason string, now generic.TimePoint) generic.Transaction {
	return generic.Transaction{
		ID:          generic.TransactionID(en.newID()),
		EntityID:    e.Entity(),
		TrancheID:   string(trancheID),
		EffectiveAt: now,
		Delta:       generic.NewAmountFromDecimal(delta, currencyOf(e)),
		Type:        typ,
		Reason:      reason,
	}
}

func currencyOf(e Endowment) generic.Currency {
	if e.Currency == "" {
		return generic.CurrencyUSD
	}
	return e.Currency
}

func requireActive(e Endowment) error {
	if e.Status != StatusActive {
		return fmt.Errorf("%w: %s is %s", generic.ErrEndowmentInactive, e.ID, e.Status)
	}
	return nil
}

func isLedgerError(err error) bool {
	return errors.Is(err, generic.ErrLedgerInconsistency)
}

func notify(e *Endowment, now generic.TimePoint, id TrancheID, kind, message string) {
	if e.Revolving == nil {
		return
	}
	e.Revolving.PendingNotifications = append(e.Revolving.PendingNotifications, Notification{
		At: now, TrancheID: id, Kind: kind, Message: message,
	})
}

func hasNotification(e Endowment, id TrancheID, kind string) bool {
	if e.Revolving == nil {
		return false
	}
	for _, n := range e.Revolving.PendingNotifications {
		if n.TrancheID == id && n.Kind == kind {
			return true
		}
	}
	return false
}

// trancheWeights returns the causes a tranche's principal belongs to, in
// stable order, with their dollar weights. Tranches recorded without a cause
// split are attributed by current cause dollars, or evenly.
func trancheWeights(e Endowment, t Tranche) ([]CauseID, []decimal.Decimal) {
	var causes []CauseID
	var weights []decimal.Decimal
	if len(t.CauseSplit) > 0 {
		for _, c := range causeOrder(e) {
			if v, ok := t.CauseSplit[c]; ok {
				causes = append(causes, c)
				weights = append(weights, v)
			}
		}
		for _, c := range sortedCauses(t.CauseSplit) {
			if !containsCause(causes, c) {
				causes = append(causes, c)
				weights = append(weights, t.CauseSplit[c])
			}
		}
		return causes, weights
	}
	for _, c := range causeOrder(e) {
		causes = append(causes, c)
		weights = append(weights, e.Financial.CauseAllocations[c])
	}
	return causes, weights
}

// releaseFromType removes amount of waqf type t from cause dollars d. A
// rounding shortfall in t is taken from the other types so no component
// goes negative.
func releaseFromType(d TypeSplit, t WaqfType, amount decimal.Decimal) TypeSplit {
	have := d.Get(t)
	if have.GreaterThanOrEqual(amount) {
		return d.With(t, have.Sub(amount))
	}
	short := amount.Sub(have)
	d = d.With(t, decimal.Zero)
	for _, other := range []WaqfType{TypeConsumable, TypePermanent, TypeRevolving} {
		if other == t || !short.IsPositive() {
			continue
		}
		take := decimal.Min(short, d.Get(other))
		d = d.With(other, d.Get(other).Sub(take))
		short = short.Sub(take)
	}
	if short.IsPositive() {
		// Nothing left to take from: let the reconciler see the deficit.
		d = d.With(t, short.Neg())
	}
	return d
}

// trancheType is the waqf type tranche dollars are booked under.
func trancheType(e Endowment) WaqfType {
	if e.Type == TypeHybrid {
		return TypeRevolving
	}
	return e.Type
}

// releaseTranchePrincipal removes amount of a tranche's principal from the
// causes it belongs to, proportionally to its cause split.
func releaseTranchePrincipal(e *Endowment, t Tranche, amount decimal.Decimal) {
	causes, weights := trancheWeights(*e, t)
	if len(causes) == 0 {
		return
	}
	shares := generic.SplitByWeights(amount, weights)
	dollars := typeDollars(*e)
	for i, c := range causes {
		dollars[c] = releaseFromType(dollars[c], trancheType(*e), shares[i])
	}
	applyTypeDollars(e, dollars)
}

// promoteToHybrid turns a pure revolving endowment into a hybrid so that
// converted tranches have a permanent or consumable share to land in.
func promoteToHybrid(e *Endowment) {
	if e.Type == TypeHybrid {
		return
	}
	dollars := typeDollars(*e)
	e.Type = TypeHybrid
	e.HybridAllocations = make(map[CauseID]TypeSplit, len(e.SelectedCauses))
	for _, c := range e.SelectedCauses {
		e.HybridAllocations[c] = TypeSplit{Revolving: hundred}
	}
	for c := range dollars {
		e.HybridAllocations[c] = TypeSplit{Revolving: hundred}
	}
	applyTypeDollars(e, dollars)
}

func sortedCauses(m map[CauseID]decimal.Decimal) []CauseID {
	out := make([]CauseID, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func containsCause(list []CauseID, c CauseID) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}
