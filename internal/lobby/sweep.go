package lobby

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/questbook/internal/notify"
	"github.com/mesh-intelligence/questbook/internal/txn"
	"github.com/mesh-intelligence/questbook/pkg/types"
)

// stale reports whether a lobby is an abandoned pre-game lobby as of now.
func (r *Registry) stale(rec *types.LobbyRecord, now time.Time) bool {
	return rec.Status.Joinable() &&
		len(rec.Players) == 0 &&
		rec.LastActivityAt.Before(now.Add(-r.cfg.StaleAfter))
}

// SweepExpired expires every empty waiting/starting lobby whose last
// activity is older than the staleness window. Each candidate is re-checked
// inside its own transaction, so a lobby someone joined meanwhile is left
// alone and concurrent sweeps never double count. It returns the number of
// lobbies this call expired.
func (r *Registry) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	const op = "lobby.sweep_expired"
	docs, err := r.runner.Store().List(ctx, types.CollectionLobbies)
	if err != nil {
		return 0, err
	}

	var (
		expired atomic.Int64
		g       errgroup.Group
	)
	g.SetLimit(r.cfg.SweepParallelism)
	for _, doc := range docs {
		var rec types.LobbyRecord
		if err := json.Unmarshal(doc.Body, &rec); err != nil {
			r.log.Warn("skipping unreadable lobby", "lobby_id", doc.Ref.ID, "error", err)
			continue
		}
		if !r.stale(&rec, now) {
			continue
		}
		lobbyID := doc.Ref.ID
		g.Go(func() error {
			changed, err := txn.Run(ctx, r.runner, op, func(tx types.Tx) (bool, error) {
				var cur types.LobbyRecord
				ok, err := tx.Get(types.LobbyRef(lobbyID), &cur)
				if err != nil || !ok || !r.stale(&cur, now) {
					return false, err
				}
				if err := cur.Transition(types.LobbyExpired, r.clock.Now()); err != nil {
					return false, err
				}
				return true, tx.Set(types.LobbyRef(lobbyID), cur)
			})
			if err != nil {
				r.log.Warn("lobby sweep failed", "lobby_id", lobbyID, "error", err)
				return err
			}
			if changed {
				expired.Add(1)
				notify.Emit(ctx, r.events, r.log, notify.Event{Type: notify.LobbyExpired, LobbyID: lobbyID, At: r.clock.Now()})
			}
			return nil
		})
	}
	err = g.Wait()

	n := int(expired.Load())
	if n > 0 {
		r.log.Info("expired stale lobbies", "count", n)
	}
	return n, err
}

// RunSweeper calls SweepExpired every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration, onSweep func(int, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.SweepExpired(ctx, r.clock.Now())
			if onSweep != nil {
				onSweep(n, err)
			}
		}
	}
}
