// Package storetest holds the behavioral contract every DocumentStore
// implementation must satisfy. Backend packages call Run from their tests.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/questbook/internal/txn"
	"github.com/mesh-intelligence/questbook/pkg/types"
)

// Factory returns a fresh, empty store. The store is detached by the suite.
type Factory func(t *testing.T) types.DocumentStore

type counter struct {
	N int `json:"n"`
}

// Run executes the contract suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("ReadYourWrites", func(t *testing.T) { testReadYourWrites(t, newStore) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore) })
	t.Run("ErrorDiscardsWrites", func(t *testing.T) { testErrorDiscardsWrites(t, newStore) })
	t.Run("ConflictOnConcurrentWrite", func(t *testing.T) { testConflict(t, newStore) })
	t.Run("ConflictOnConcurrentCreate", func(t *testing.T) { testConflictCreate(t, newStore) })
	t.Run("BlindWriteDoesNotConflict", func(t *testing.T) { testBlindWrite(t, newStore) })
	t.Run("DeleteAndRecreate", func(t *testing.T) { testDeleteAndRecreate(t, newStore) })
	t.Run("ListOrderedByID", func(t *testing.T) { testList(t, newStore) })
	t.Run("ConcurrentIncrements", func(t *testing.T) { testConcurrentIncrements(t, newStore) })
	t.Run("InvalidRef", func(t *testing.T) { testInvalidRef(t, newStore) })
	t.Run("Detached", func(t *testing.T) { testDetached(t, newStore) })
}

func open(t *testing.T, newStore Factory) types.DocumentStore {
	t.Helper()
	s := newStore(t)
	t.Cleanup(func() { _ = s.Detach() })
	return s
}

var ref = types.DocRef{Collection: "counters", ID: "c1"}

func set(t *testing.T, s types.DocumentStore, r types.DocRef, n int) {
	t.Helper()
	require.NoError(t, s.RunTx(context.Background(), func(tx types.Tx) error {
		return tx.Set(r, counter{N: n})
	}))
}

func testReadYourWrites(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx := context.Background()

	err := s.RunTx(ctx, func(tx types.Tx) error {
		require.NoError(t, tx.Set(ref, counter{N: 7}))
		var got counter
		ok, err := tx.Get(ref, &got)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 7, got.N)

		require.NoError(t, tx.Delete(ref))
		ok, err = tx.Get(ref, &got)
		require.NoError(t, err)
		assert.False(t, ok)
		return tx.Set(ref, counter{N: 8})
	})
	require.NoError(t, err)

	var got counter
	ok, err := s.Get(ctx, ref, &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 8, got.N)
}

func testGetMissing(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	var got counter
	ok, err := s.Get(context.Background(), ref, &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testErrorDiscardsWrites(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx := context.Background()
	boom := types.Validation("test", "boom")

	err := s.RunTx(ctx, func(tx types.Tx) error {
		require.NoError(t, tx.Set(ref, counter{N: 1}))
		return boom
	})
	assert.ErrorIs(t, err, types.ErrValidation)

	ok, err := s.Get(ctx, ref, &counter{})
	require.NoError(t, err)
	assert.False(t, ok, "writes of a failed transaction are never applied")
}

func testConflict(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx := context.Background()
	set(t, s, ref, 1)

	err := s.RunTx(ctx, func(tx types.Tx) error {
		var c counter
		if _, err := tx.Get(ref, &c); err != nil {
			return err
		}
		set(t, s, ref, 100) // competing writer commits first
		c.N++
		return tx.Set(ref, c)
	})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.CodeConflict), "got %v", err)

	var got counter
	_, err = s.Get(ctx, ref, &got)
	require.NoError(t, err)
	assert.Equal(t, 100, got.N, "losing transaction wrote nothing")
}

func testConflictCreate(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx := context.Background()
	other := types.DocRef{Collection: "counters", ID: "other"}

	err := s.RunTx(ctx, func(tx types.Tx) error {
		ok, err := tx.Get(ref, &counter{})
		if err != nil {
			return err
		}
		require.False(t, ok)
		set(t, s, ref, 5)
		return tx.Set(other, counter{N: 1})
	})
	assert.True(t, types.IsCode(err, types.CodeConflict), "absent read must be validated, got %v", err)

	ok, err := s.Get(ctx, other, &counter{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func testBlindWrite(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx := context.Background()
	set(t, s, ref, 1)

	err := s.RunTx(ctx, func(tx types.Tx) error {
		set(t, s, ref, 2)
		return tx.Set(ref, counter{N: 3})
	})
	require.NoError(t, err)

	var got counter
	_, err = s.Get(ctx, ref, &got)
	require.NoError(t, err)
	assert.Equal(t, 3, got.N)
}

func testDeleteAndRecreate(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx := context.Background()
	set(t, s, ref, 1)

	// A reader that saw the original document must not commit after the
	// document was deleted and recreated with identical content.
	err := s.RunTx(ctx, func(tx types.Tx) error {
		var c counter
		if _, err := tx.Get(ref, &c); err != nil {
			return err
		}
		require.NoError(t, s.RunTx(ctx, func(tx types.Tx) error { return tx.Delete(ref) }))
		set(t, s, ref, 1)
		return tx.Set(ref, counter{N: c.N + 1})
	})
	assert.True(t, types.IsCode(err, types.CodeConflict), "got %v", err)

	require.NoError(t, s.RunTx(ctx, func(tx types.Tx) error {
		return tx.Delete(types.DocRef{Collection: "counters", ID: "never"})
	}), "deleting a missing document is a no-op")
}

func testList(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx := context.Background()
	for i, id := range []string{"b", "c", "a"} {
		set(t, s, types.DocRef{Collection: "counters", ID: id}, i)
	}
	set(t, s, types.DocRef{Collection: "elsewhere", ID: "z"}, 9)
	require.NoError(t, s.RunTx(ctx, func(tx types.Tx) error {
		return tx.Delete(types.DocRef{Collection: "counters", ID: "c"})
	}))

	docs, err := s.List(ctx, "counters")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].Ref.ID)
	assert.Equal(t, "b", docs[1].Ref.ID)
	assert.Equal(t, "counters", docs[0].Ref.Collection)
	assert.Positive(t, docs[0].Version)
	assert.False(t, docs[0].UpdatedAt.IsZero())
	assert.JSONEq(t, `{"n":2}`, string(docs[0].Body))

	empty, err := s.List(ctx, "nothing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testConcurrentIncrements(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx := context.Background()
	runner := txn.NewRunner(s, types.TxConfig{MaxAttempts: 200, BaseBackoff: 0})

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- txn.Do(ctx, runner, "increment", func(tx types.Tx) error {
				var c counter
				if _, err := tx.Get(ref, &c); err != nil {
					return err
				}
				c.N++
				return tx.Set(ref, c)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var got counter
	_, err := s.Get(ctx, ref, &got)
	require.NoError(t, err)
	assert.Equal(t, workers, got.N)
}

func testInvalidRef(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx := context.Background()
	_, err := s.Get(ctx, types.DocRef{Collection: "counters"}, &counter{})
	assert.ErrorIs(t, err, types.ErrInvalidRef)

	err = s.RunTx(ctx, func(tx types.Tx) error {
		return tx.Set(types.DocRef{ID: "x"}, counter{})
	})
	assert.ErrorIs(t, err, types.ErrInvalidRef)
}

func testDetached(t *testing.T, newStore Factory) {
	s := newStore(t)
	require.NoError(t, s.Detach())
	require.NoError(t, s.Detach(), "detach is idempotent")

	ctx := context.Background()
	_, err := s.Get(ctx, ref, &counter{})
	assert.ErrorIs(t, err, types.ErrStoreDetached)
	err = s.RunTx(ctx, func(tx types.Tx) error { return nil })
	assert.ErrorIs(t, err, types.ErrStoreDetached)
	_, err = s.List(ctx, "counters")
	assert.ErrorIs(t, err, types.ErrStoreDetached)
}
