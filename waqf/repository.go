package waqf

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/waqf-engine/generic"
)

// =============================================================================
// COLLABORATORS - Implemented by store/ and internal/lock
// =============================================================================

// Repository persists endowment aggregates and their ledger entries.
//
// Save must be atomic: it succeeds only when the stored version still equals
// expectedVersion, writes the aggregate with version expectedVersion+1 and
// appends entries in the same transaction. A stale version fails with
// *generic.ConcurrentModificationError and writes nothing.
type Repository interface {
	Create(ctx context.Context, e Endowment, entries []generic.Transaction) (Endowment, error)
	Get(ctx context.Context, id EndowmentID) (Endowment, error)
	Save(ctx context.Context, e Endowment, expectedVersion int64, entries []generic.Transaction) (Endowment, error)
	List(ctx context.Context, filter ListFilter) ([]Endowment, error)
	Transactions(ctx context.Context, id EndowmentID) ([]generic.Transaction, error)
}

// ListFilter narrows List. Zero fields match everything.
type ListFilter struct {
	Type        WaqfType
	Status      Status
	DonorID     string
	HasTranches bool
}

// Matches reports whether e passes the filter.
func (f ListFilter) Matches(e Endowment) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.DonorID != "" && e.DonorID != f.DonorID {
		return false
	}
	if f.HasTranches && len(e.Tranches()) == 0 {
		return false
	}
	return true
}

// CauseCatalog is the read-only cause lookup. The engine only uses it for
// category-based diversification and creation checks.
type CauseCatalog interface {
	GetCause(ctx context.Context, id CauseID) (Cause, error)
	ListCauses(ctx context.Context) ([]Cause, error)
}

// Locker serializes writers of one endowment across processes.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// PaymentConfirmation is a verified payment from the payment collaborator.
// Only the amount's sign is checked here.
type PaymentConfirmation struct {
	TransactionID string
	Amount        decimal.Decimal
	Currency      generic.Currency
	Timestamp     generic.TimePoint
}
