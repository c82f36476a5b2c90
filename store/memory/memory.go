// Package memory is an in-memory waqf.Repository and cause catalog, used by
// tests and by `waqfd serve --memory`.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/waqf-engine/generic"
	"github.com/warp/waqf-engine/generic/store"
	"github.com/warp/waqf-engine/waqf"
)

type Repository struct {
	mu         sync.Mutex
	endowments map[waqf.EndowmentID]waqf.Endowment
	causes     map[waqf.CauseID]waqf.Cause
	sweeps     []waqf.SweepReport
	ledger     *store.TxMemory
}

func New() *Repository {
	return &Repository{
		endowments: make(map[waqf.EndowmentID]waqf.Endowment),
		causes:     make(map[waqf.CauseID]waqf.Cause),
		ledger:     store.NewTxMemory(),
	}
}

// =============================================================================
// ENDOWMENTS
// =============================================================================

func (r *Repository) Create(ctx context.Context, e waqf.Endowment, entries []generic.Transaction) (waqf.Endowment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.endowments[e.ID]; ok {
		return waqf.Endowment{}, fmt.Errorf("%w: endowment %s already exists", generic.ErrInvalidInput, e.ID)
	}
	if err := r.appendEntries(ctx, entries); err != nil {
		return waqf.Endowment{}, err
	}
	e.Version = 1
	r.endowments[e.ID] = e.Clone()
	return e, nil
}

func (r *Repository) Get(_ context.Context, id waqf.EndowmentID) (waqf.Endowment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.endowments[id]
	if !ok {
		return waqf.Endowment{}, fmt.Errorf("%w: %s", generic.ErrEndowmentNotFound, id)
	}
	return e.Clone(), nil
}

// Save writes e if the stored version is still expectedVersion.
func (r *Repository) Save(ctx context.Context, e waqf.Endowment, expectedVersion int64, entries []generic.Transaction) (waqf.Endowment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.endowments[e.ID]
	if !ok {
		return waqf.Endowment{}, fmt.Errorf("%w: %s", generic.ErrEndowmentNotFound, e.ID)
	}
	if current.Version != expectedVersion {
		return waqf.Endowment{}, &generic.ConcurrentModificationError{
			EntityID: e.Entity(), ExpectedVersion: expectedVersion,
		}
	}
	if err := r.appendEntries(ctx, entries); err != nil {
		return waqf.Endowment{}, err
	}
	e.Version = expectedVersion + 1
	r.endowments[e.ID] = e.Clone()
	return e, nil
}

func (r *Repository) appendEntries(ctx context.Context, entries []generic.Transaction) error {
	if len(entries) == 0 {
		return nil
	}
	return r.ledger.WithTx(ctx, func(s generic.Store) error {
		return generic.NewLedger(s).AppendBatch(ctx, entries)
	})
}

func (r *Repository) List(_ context.Context, filter waqf.ListFilter) ([]waqf.Endowment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []waqf.Endowment
	for _, e := range r.endowments {
		if filter.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Repository) Transactions(ctx context.Context, id waqf.EndowmentID) ([]generic.Transaction, error) {
	return r.ledger.Load(ctx, generic.EntityID(id))
}

// =============================================================================
// CAUSE CATALOG
// =============================================================================

func (r *Repository) SaveCause(_ context.Context, c waqf.Cause) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.causes[c.ID] = c
	return nil
}

func (r *Repository) GetCause(_ context.Context, id waqf.CauseID) (waqf.Cause, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.causes[id]
	if !ok {
		return waqf.Cause{}, fmt.Errorf("%w: %s", generic.ErrCauseNotFound, id)
	}
	return c, nil
}

func (r *Repository) ListCauses(_ context.Context) ([]waqf.Cause, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]waqf.Cause, 0, len(r.causes))
	for _, c := range r.causes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// SWEEP RUNS
// =============================================================================

func (r *Repository) SaveSweepRun(_ context.Context, report waqf.SweepReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweeps = append(r.sweeps, report)
	return nil
}

// ListSweepRuns returns the most recent sweeps first.
func (r *Repository) ListSweepRuns(_ context.Context, limit int) ([]waqf.SweepReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]waqf.SweepReport, 0, len(r.sweeps))
	for i := len(r.sweeps) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, r.sweeps[i])
	}
	return out, nil
}
