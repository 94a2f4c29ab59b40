package lobby

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/questbook/pkg/types"
)

func (f *fixture) put(t *testing.T, rec types.LobbyRecord) {
	t.Helper()
	require.NoError(t, f.store.RunTx(context.Background(), func(tx types.Tx) error {
		return tx.Set(types.LobbyRef(rec.ID), rec)
	}))
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := t0.Add(-time.Hour)

	f.put(t, types.LobbyRecord{ID: "stale-waiting", Status: types.LobbyWaiting, MaxPlayers: 4, LastActivityAt: old})
	f.put(t, types.LobbyRecord{ID: "stale-starting", Status: types.LobbyStarting, MaxPlayers: 4, LastActivityAt: old})
	f.put(t, types.LobbyRecord{ID: "fresh", Status: types.LobbyWaiting, MaxPlayers: 4, LastActivityAt: t0.Add(-time.Minute)})
	f.put(t, types.LobbyRecord{ID: "occupied", Status: types.LobbyWaiting, MaxPlayers: 4, LastActivityAt: old,
		Players: []types.PlayerRef{{UserID: "p"}}})
	f.put(t, types.LobbyRecord{ID: "playing", Status: types.LobbyInProgress, MaxPlayers: 4, LastActivityAt: old})

	n, err := f.reg.SweepExpired(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for id, want := range map[string]types.LobbyStatus{
		"stale-waiting":  types.LobbyExpired,
		"stale-starting": types.LobbyExpired,
		"fresh":          types.LobbyWaiting,
		"occupied":       types.LobbyWaiting,
		"playing":        types.LobbyInProgress,
	} {
		got, err := f.reg.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, id)
	}

	n, err = f.reg.SweepExpired(ctx, t0)
	require.NoError(t, err)
	assert.Zero(t, n, "expiring is idempotent")
}

func TestSweepExpiredConcurrentCallers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := range 30 {
		f.put(t, types.LobbyRecord{
			ID: fmt.Sprintf("l%02d", i), Status: types.LobbyWaiting, MaxPlayers: 2,
			LastActivityAt: t0.Add(-time.Hour),
		})
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := f.reg.SweepExpired(ctx, t0)
			assert.NoError(t, err)
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 30, total, "each lobby is expired by exactly one sweeper")
}

func TestRunSweeperStopsWithContext(t *testing.T) {
	f := newFixture(t)
	f.put(t, types.LobbyRecord{ID: "s", Status: types.LobbyWaiting, MaxPlayers: 2, LastActivityAt: t0.Add(-time.Hour)})

	ctx, cancel := context.WithCancel(context.Background())
	swept := make(chan int, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.reg.RunSweeper(ctx, time.Millisecond, func(n int, err error) {
			if err != nil {
				return
			}
			select {
			case swept <- n:
			default:
			}
		})
	}()

	assert.Equal(t, 1, <-swept)
	cancel()
	<-done
}
