/*
ledger.go - Append-only log of financial movements

PURPOSE:
  The Ledger records every movement of money into, out of, and within an
  endowment. The endowment aggregate carries running totals for fast reads;
  the ledger lets an auditor replay those totals from scratch and compare.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, transactions cannot be modified
  3. IDEMPOTENT: Same idempotency key = same transaction (no duplicates)
  4. REPLAYABLE: Totals(entity) reproduces the aggregate's financial totals

REPLAY RULES:
  donation          +amount  → TotalDonations
  investment_return +amount  → TotalInvestmentReturn
  distribution      -amount  → TotalDistributed
  principal_return  -amount  → TotalDistributed (refunds to the donor)
  installment       -amount  → TotalDistributed
  penalty, rollover, conversion  → no balance effect (money stays in place)

SEE ALSO:
  - store.go: Low-level persistence interface
  - waqf/service.go: Audits aggregates against ledger replay
*/
package generic

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER - Append-only transaction log
// =============================================================================

// Ledger is the audit trail for all balance changes.
type Ledger interface {
	// Append adds a transaction. Fails if idempotency key exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch adds multiple transactions atomically.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Transactions returns all transactions for an endowment, chronologically.
	Transactions(ctx context.Context, entityID EntityID) ([]Transaction, error)

	// Totals replays the endowment's transactions up to and including at.
	Totals(ctx context.Context, entityID EntityID, at TimePoint) (LedgerTotals, error)
}

// LedgerTotals are the aggregate figures derived purely from the log.
type LedgerTotals struct {
	Donations        decimal.Decimal `json:"donations"`
	Distributed      decimal.Decimal `json:"distributed"`
	InvestmentReturn decimal.Decimal `json:"investment_return"`
	Penalties        decimal.Decimal `json:"penalties"`
	Count            int             `json:"count"`
}

// Balance = Donations - Distributed + InvestmentReturn.
func (t LedgerTotals) Balance() decimal.Decimal {
	return t.Donations.Sub(t.Distributed).Add(t.InvestmentReturn)
}

// Accumulate folds one transaction into the totals.
func (t LedgerTotals) Accumulate(tx Transaction) LedgerTotals {
	switch tx.Type {
	case TxDonation:
		t.Donations = t.Donations.Add(tx.Delta.Value)
	case TxInvestmentReturn:
		t.InvestmentReturn = t.InvestmentReturn.Add(tx.Delta.Value)
	case TxDistribution, TxPrincipalReturn, TxInstallment:
		t.Distributed = t.Distributed.Sub(tx.Delta.Value)
	case TxPenalty:
		t.Penalties = t.Penalties.Add(tx.Delta.Value)
	}
	t.Count++
	return t
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, tx Transaction) error {
	if tx.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.Append(ctx, tx)
}

func (l *DefaultLedger) AppendBatch(ctx context.Context, txs []Transaction) error {
	for _, tx := range txs {
		if tx.IdempotencyKey != "" {
			exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
			if err != nil {
				return err
			}
			if exists {
				return ErrDuplicateIdempotencyKey
			}
		}
	}
	return l.Store.AppendBatch(ctx, txs)
}

func (l *DefaultLedger) Transactions(ctx context.Context, entityID EntityID) ([]Transaction, error) {
	return l.Store.Load(ctx, entityID)
}

func (l *DefaultLedger) Totals(ctx context.Context, entityID EntityID, at TimePoint) (LedgerTotals, error) {
	txs, err := l.Store.Load(ctx, entityID)
	if err != nil {
		return LedgerTotals{}, err
	}
	return ReplayTotals(txs, at), nil
}

// ReplayTotals folds transactions effective at or before at. Transactions
// must be ordered by EffectiveAt.
func ReplayTotals(txs []Transaction, at TimePoint) LedgerTotals {
	totals := LedgerTotals{}
	for _, tx := range txs {
		if !at.IsZero() && tx.EffectiveAt.After(at) {
			break
		}
		totals = totals.Accumulate(tx)
	}
	return totals
}
