/*
Package generic provides the ledger primitives shared by the endowment engine.

PURPOSE:
  This package contains the domain-agnostic building blocks the waqf engine
  is assembled from: money amounts, ledger transactions, the single time
  representation, periods, the error taxonomy and the persistence contracts.
  Nothing in here knows what a tranche or a hybrid allocation is.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A decimal quantity in a currency (e.g., 250.00 USD)
  - Transaction: An immutable ledger entry recording one financial movement
  - Type-safe identifiers for endowments and transactions

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified, only appended
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing endowment/tranche IDs
  4. Auditability: Every transaction has reason, reference, and idempotency key

USAGE:
  amount := generic.NewAmount(500, generic.CurrencyUSD)
  tx := generic.Transaction{
      EntityID: "waqf-123",
      Delta:    amount,
      Type:     generic.TxDonation,
  }

SEE ALSO:
  - ledger.go: Replays transactions into ledger totals
  - store.go: Transaction persistence interface
  - waqf/: The endowment domain built on these primitives
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Decimal money with a currency
// =============================================================================

type Amount struct {
	Value    decimal.Decimal
	Currency Currency
}

type Currency string

const (
	CurrencyUSD Currency = "USD"
)

// MoneyPlaces is the number of decimal places money is rounded to when it is
// split into shares.
const MoneyPlaces = 2

func NewAmount(value float64, currency Currency) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Currency: currency}
}

func NewAmountFromDecimal(value decimal.Decimal, currency Currency) Amount {
	return Amount{Value: value, Currency: currency}
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Currency: a.Currency} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Currency: a.Currency} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Currency: a.Currency} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Currency: a.Currency} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Currency: a.Currency} }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }

// =============================================================================
// SPLITTING - Shares that always add back up to the whole
// =============================================================================

// SplitByWeights divides total into len(weights) shares proportional to the
// weights. Every share but the last is rounded to MoneyPlaces; the last share
// takes the remainder so the shares reconstruct total exactly. A zero weight
// sum yields all-zero shares except that the remainder still lands on the
// last share.
func SplitByWeights(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(weights))
	if len(weights) == 0 {
		return shares
	}
	sum := decimal.Zero
	for _, w := range weights {
		sum = sum.Add(w)
	}
	allocated := decimal.Zero
	for i := 0; i < len(weights)-1; i++ {
		if sum.IsZero() {
			shares[i] = decimal.Zero
			continue
		}
		shares[i] = total.Mul(weights[i]).Div(sum).Round(MoneyPlaces)
		allocated = allocated.Add(shares[i])
	}
	shares[len(weights)-1] = total.Sub(allocated)
	return shares
}

// SplitEvenly divides total into n shares that differ by at most one cent.
func SplitEvenly(total decimal.Decimal, n int) []decimal.Decimal {
	weights := make([]decimal.Decimal, n)
	for i := range weights {
		weights[i] = decimal.NewFromInt(1)
	}
	return SplitByWeights(total, weights)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string      // The endowment a transaction belongs to
type TransactionID string // Unique per ledger entry

// =============================================================================
// TRANSACTION - Immutable ledger entry
// =============================================================================

// Transaction records one financial movement on an endowment.
// Delta is signed from the endowment balance's point of view: donations and
// investment returns are positive, distributions and principal returns are
// negative, and informational movements (rollover, conversion, retained
// penalty) carry the moved value with Type describing the movement.
type Transaction struct {
	ID             TransactionID
	EntityID       EntityID
	TrancheID      string // Empty when the movement is not tied to a tranche
	EffectiveAt    TimePoint
	Delta          Amount
	Type           TransactionType
	ReferenceID    string // External reference (payment id, installment id)
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

type TransactionType string

const (
	TxDonation         TransactionType = "donation"
	TxDistribution     TransactionType = "distribution"
	TxPrincipalReturn  TransactionType = "principal_return"
	TxInstallment      TransactionType = "installment"
	TxPenalty          TransactionType = "penalty"
	TxRollover         TransactionType = "rollover"
	TxConversion       TransactionType = "conversion"
	TxInvestmentReturn TransactionType = "investment_return"
)

// AffectsBalance reports whether the transaction moves money in or out of the
// endowment. Rollovers, conversions and retained penalties only re-label
// money that stays in place.
func (t TransactionType) AffectsBalance() bool {
	switch t {
	case TxDonation, TxDistribution, TxPrincipalReturn, TxInstallment, TxInvestmentReturn:
		return true
	default:
		return false
	}
}

func (t TransactionType) IsValid() bool {
	switch t {
	case TxDonation, TxDistribution, TxPrincipalReturn, TxInstallment,
		TxPenalty, TxRollover, TxConversion, TxInvestmentReturn:
		return true
	default:
		return false
	}
}
