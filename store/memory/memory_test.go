package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/waqf-engine/generic"
	"github.com/warp/waqf-engine/waqf"
)

func endowment(id string) waqf.Endowment {
	return waqf.Endowment{
		ID:             waqf.EndowmentID(id),
		Type:           waqf.TypePermanent,
		Status:         waqf.StatusActive,
		Principal:      decimal.NewFromInt(100),
		SelectedCauses: []waqf.CauseID{"water"},
	}
}

func donation(entity, key string) generic.Transaction {
	return generic.Transaction{
		ID:             generic.TransactionID(key),
		EntityID:       generic.EntityID(entity),
		Type:           generic.TxDonation,
		Delta:          generic.NewAmount(100, generic.CurrencyUSD),
		IdempotencyKey: key,
	}
}

func TestRepository_SaveChecksVersion(t *testing.T) {
	ctx := context.Background()
	r := New()

	created, err := r.Create(ctx, endowment("e1"), []generic.Transaction{donation("e1", "k1")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	_, err = r.Create(ctx, endowment("e1"), nil)
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	created.Name = "renamed"
	saved, err := r.Save(ctx, created, 1, []generic.Transaction{donation("e1", "k2")})
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	// A writer still holding version 1 loses
	_, err = r.Save(ctx, created, 1, []generic.Transaction{donation("e1", "k3")})
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	txs, err := r.Transactions(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	got, err := r.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
}

func TestRepository_DuplicateKeyWritesNothing(t *testing.T) {
	ctx := context.Background()
	r := New()
	created, err := r.Create(ctx, endowment("e1"), []generic.Transaction{donation("e1", "k1")})
	require.NoError(t, err)

	created.Name = "should not stick"
	_, err = r.Save(ctx, created, 1, []generic.Transaction{donation("e1", "k1")})
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	got, err := r.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Empty(t, got.Name)
}

func TestRepository_GetReturnsCopies(t *testing.T) {
	ctx := context.Background()
	r := New()
	_, err := r.Create(ctx, endowment("e1"), nil)
	require.NoError(t, err)

	got, err := r.Get(ctx, "e1")
	require.NoError(t, err)
	got.SelectedCauses[0] = "changed"

	again, err := r.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, waqf.CauseID("water"), again.SelectedCauses[0])

	_, err = r.Get(ctx, "nope")
	assert.ErrorIs(t, err, generic.ErrEndowmentNotFound)
}

func TestRepository_ListFilters(t *testing.T) {
	ctx := context.Background()
	r := New()
	a := endowment("b-perm")
	b := endowment("a-rev")
	b.Type = waqf.TypeRevolving
	b.Revolving = &waqf.RevolvingDetails{LockPeriodMonths: 12, Tranches: []waqf.Tranche{{ID: "t1"}}}
	c := endowment("c-paused")
	c.Status = waqf.StatusPaused
	for _, e := range []waqf.Endowment{a, b, c} {
		_, err := r.Create(ctx, e, nil)
		require.NoError(t, err)
	}

	all, err := r.List(ctx, waqf.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, waqf.EndowmentID("a-rev"), all[0].ID)

	active, err := r.List(ctx, waqf.ListFilter{Status: waqf.StatusActive, HasTranches: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, waqf.EndowmentID("a-rev"), active[0].ID)
}

func TestRepository_Causes(t *testing.T) {
	ctx := context.Background()
	r := New()
	require.NoError(t, r.SaveCause(ctx, waqf.Cause{ID: "water", Name: "Water", Active: true}))
	require.NoError(t, r.SaveCause(ctx, waqf.Cause{ID: "health", Name: "Health", Active: true}))

	list, err := r.ListCauses(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, waqf.CauseID("health"), list[0].ID)

	_, err = r.GetCause(ctx, "zakat")
	assert.ErrorIs(t, err, generic.ErrCauseNotFound)
}
