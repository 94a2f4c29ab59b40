package txn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/questbook/internal/memstore"
	"github.com/mesh-intelligence/questbook/pkg/types"
)

// flakyStore reports a conflict for the first `conflicts` commits.
type flakyStore struct {
	types.DocumentStore
	mu        sync.Mutex
	conflicts int
	calls     int
}

func (s *flakyStore) RunTx(ctx context.Context, fn func(tx types.Tx) error) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.conflicts
	s.mu.Unlock()
	return s.DocumentStore.RunTx(ctx, func(tx types.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		if fail {
			return types.Conflict("flaky", types.ProgressRef("x"))
		}
		return nil
	})
}

type spyHooks struct {
	mu        sync.Mutex
	statuses  []string
	conflicts int
	retries   int
}

func (h *spyHooks) ObserveOperation(_, status string, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, status)
}

func (h *spyHooks) IncConflict(string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conflicts++
}

func (h *spyHooks) IncRetry(string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retries++
}

func cfg(attempts int) types.TxConfig {
	return types.TxConfig{MaxAttempts: attempts, BaseBackoff: time.Microsecond, MaxBackoff: time.Millisecond}
}

func TestRunRetriesConflicts(t *testing.T) {
	store := &flakyStore{DocumentStore: memstore.New(), conflicts: 2}
	hooks := &spyHooks{}
	r := NewRunner(store, cfg(5), WithHooks(hooks))

	attempts := 0
	got, err := Run(context.Background(), r, "op", func(tx types.Tx) (int, error) {
		attempts++
		return attempts, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, got, "value comes from the committed attempt")
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, hooks.conflicts)
	assert.Equal(t, 2, hooks.retries)
	assert.Equal(t, []string{"success"}, hooks.statuses)
}

func TestRunExhaustsIntoContention(t *testing.T) {
	store := &flakyStore{DocumentStore: memstore.New(), conflicts: 100}
	hooks := &spyHooks{}
	r := NewRunner(store, cfg(3), WithHooks(hooks))

	_, err := Run(context.Background(), r, "op", func(tx types.Tx) (string, error) {
		return "", tx.Set(types.ProgressRef("u1"), map[string]bool{"x": true})
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrContention)
	assert.Equal(t, types.CodeContention, types.CodeOf(err))
	assert.Equal(t, 3, store.calls)
	assert.Equal(t, 3, hooks.conflicts)
	assert.Equal(t, 2, hooks.retries)
	assert.Equal(t, []string{"contention"}, hooks.statuses)

	ok, gerr := store.Get(context.Background(), types.ProgressRef("u1"), &map[string]bool{})
	require.NoError(t, gerr)
	assert.False(t, ok, "no attempt committed")
}

func TestRunDoesNotRetryOtherErrors(t *testing.T) {
	store := &flakyStore{DocumentStore: memstore.New()}
	r := NewRunner(store, cfg(5))

	_, err := Run(context.Background(), r, "op", func(tx types.Tx) (int, error) {
		return 0, types.NotFound("op", "user %s", "u1")
	})
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, 1, store.calls)

	plain := errors.New("boom")
	err = Do(context.Background(), r, "op", func(tx types.Tx) error { return plain })
	assert.ErrorIs(t, err, plain)
	assert.Equal(t, 2, store.calls)
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	store := &flakyStore{DocumentStore: memstore.New(), conflicts: 100}
	r := NewRunner(store, types.TxConfig{MaxAttempts: 50, BaseBackoff: time.Second, MaxBackoff: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Run(ctx, r, "op", func(tx types.Tx) (int, error) { return 0, nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, store.calls, 50)
}

func TestBackoffBounds(t *testing.T) {
	r := NewRunner(memstore.New(), types.TxConfig{MaxAttempts: 1, BaseBackoff: 2 * time.Millisecond, MaxBackoff: 10 * time.Millisecond})
	for attempt := 1; attempt <= 40; attempt++ {
		d := r.backoff(attempt)
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, 10*time.Millisecond)
	}

	zero := NewRunner(memstore.New(), types.TxConfig{MaxAttempts: 0})
	assert.Zero(t, zero.backoff(3))
	assert.Equal(t, 1, zero.maxAttempts, "at least one attempt")
}
