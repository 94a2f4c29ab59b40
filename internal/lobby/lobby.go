// Package lobby is the capacity-constrained group registry. Every roster
// change is an atomic read-modify-write of the single lobby document, so the
// capacity check and the append can never be split by a concurrent join.
package lobby

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/questbook/internal/clock"
	"github.com/mesh-intelligence/questbook/internal/logger"
	"github.com/mesh-intelligence/questbook/internal/notify"
	"github.com/mesh-intelligence/questbook/internal/txn"
	"github.com/mesh-intelligence/questbook/pkg/types"
)

// Deps wires a Registry. Runner is required.
type Deps struct {
	Runner *txn.Runner
	Config types.LobbyConfig
	Clock  clock.Clock
	Log    *logger.Logger
	Events notify.Publisher
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clock.NewMonotonic()
	}
	if d.Log == nil {
		d.Log = logger.NewNop()
	}
	if d.Events == nil {
		d.Events = notify.Nop()
	}
	def := types.DefaultConfig().Lobby
	if d.Config.DefaultMaxPlayers <= 0 {
		d.Config.DefaultMaxPlayers = def.DefaultMaxPlayers
	}
	if d.Config.StaleAfter <= 0 {
		d.Config.StaleAfter = def.StaleAfter
	}
	if d.Config.SweepParallelism <= 0 {
		d.Config.SweepParallelism = def.SweepParallelism
	}
	return d
}

// Registry manages lobby documents.
type Registry struct {
	runner *txn.Runner
	cfg    types.LobbyConfig
	clock  clock.Clock
	log    *logger.Logger
	events notify.Publisher
}

// New builds a Registry.
func New(deps Deps) (*Registry, error) {
	if deps.Runner == nil {
		return nil, errors.New("lobby: runner is required")
	}
	deps = deps.withDefaults()
	return &Registry{
		runner: deps.Runner,
		cfg:    deps.Config,
		clock:  deps.Clock,
		log:    deps.Log.With("service", "LobbyRegistry"),
		events: deps.Events,
	}, nil
}

// JoinResult reports a Join outcome. A full lobby is a normal result, not an
// error.
type JoinResult struct {
	Success       bool `json:"success"`
	AlreadyJoined bool `json:"alreadyJoined,omitempty"`
	IsFull        bool `json:"isFull,omitempty"`
}

// LeaveResult reports a Leave outcome. Expired is set when the host's
// departure ended the lobby.
type LeaveResult struct {
	Success bool `json:"success"`
	Expired bool `json:"expired,omitempty"`
}

// newLobbyID generates a UUID v7, falling back to v4.
func newLobbyID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Create opens a waiting lobby with the host as its first player.
// maxPlayers 0 uses the configured default.
func (r *Registry) Create(ctx context.Context, hostID string, profile types.Profile, maxPlayers int) (*types.LobbyRecord, error) {
	const op = "lobby.create"
	hostID = strings.TrimSpace(hostID)
	if hostID == "" {
		return nil, types.Validation(op, "host id is required")
	}
	if maxPlayers < 0 {
		return nil, types.Validation(op, "max players must not be negative")
	}
	if maxPlayers == 0 {
		maxPlayers = r.cfg.DefaultMaxPlayers
	}

	id := newLobbyID()
	rec, err := txn.Run(ctx, r.runner, op, func(tx types.Tx) (types.LobbyRecord, error) {
		now := r.clock.Now()
		rec := types.LobbyRecord{
			ID:             id,
			Status:         types.LobbyWaiting,
			HostID:         hostID,
			MaxPlayers:     maxPlayers,
			Players:        []types.PlayerRef{newPlayer(hostID, profile, now)},
			CreatedAt:      now,
			LastActivityAt: now,
		}
		return rec, tx.Set(types.LobbyRef(id), rec)
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("lobby created", "lobby_id", id, "host_id", hostID, "max_players", maxPlayers)
	return &rec, nil
}

// Get returns the lobby.
func (r *Registry) Get(ctx context.Context, lobbyID string) (*types.LobbyRecord, error) {
	var rec types.LobbyRecord
	ok, err := r.runner.Store().Get(ctx, types.LobbyRef(lobbyID), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.NotFound("lobby.get", "lobby %q does not exist", lobbyID)
	}
	return &rec, nil
}

// Join adds userID to the roster. Re-joining is a success with
// AlreadyJoined; a lobby at capacity yields IsFull without error.
func (r *Registry) Join(ctx context.Context, lobbyID, userID string, profile types.Profile) (JoinResult, error) {
	const op = "lobby.join"
	if strings.TrimSpace(lobbyID) == "" || strings.TrimSpace(userID) == "" {
		return JoinResult{}, types.Validation(op, "lobby id and user id are required")
	}

	res, err := txn.Run(ctx, r.runner, op, func(tx types.Tx) (JoinResult, error) {
		var rec types.LobbyRecord
		ok, err := tx.Get(types.LobbyRef(lobbyID), &rec)
		if err != nil {
			return JoinResult{}, err
		}
		if !ok {
			return JoinResult{}, types.NotFound(op, "lobby %q does not exist", lobbyID)
		}
		if !rec.Status.Joinable() {
			return JoinResult{}, types.NewError(types.CodeNotJoinable, op,
				"lobby "+lobbyID+" is "+string(rec.Status), nil)
		}
		if rec.PlayerIndex(userID) >= 0 {
			return JoinResult{Success: true, AlreadyJoined: true}, nil
		}
		if rec.IsFull() {
			return JoinResult{IsFull: true}, nil
		}

		now := r.clock.Now()
		rec.Players = append(rec.Players, newPlayer(userID, profile, now))
		rec.LastActivityAt = now
		return JoinResult{Success: true}, tx.Set(types.LobbyRef(lobbyID), rec)
	})
	if err != nil {
		return JoinResult{}, err
	}

	switch {
	case res.IsFull:
		r.log.Debug("lobby full", "lobby_id", lobbyID, "user_id", userID)
	case !res.AlreadyJoined:
		r.log.Info("player joined lobby", "lobby_id", lobbyID, "user_id", userID)
		notify.Emit(ctx, r.events, r.log, notify.Event{
			Type: notify.LobbyJoined, LobbyID: lobbyID, UserID: userID, At: r.clock.Now(),
		})
	}
	return res, nil
}

// Leave removes userID. A missing lobby or player counts as success. When
// the host leaves a pre-game lobby it expires in the same commit.
func (r *Registry) Leave(ctx context.Context, lobbyID, userID string) (LeaveResult, error) {
	const op = "lobby.leave"
	if strings.TrimSpace(lobbyID) == "" || strings.TrimSpace(userID) == "" {
		return LeaveResult{}, types.Validation(op, "lobby id and user id are required")
	}

	type outcome struct {
		res     LeaveResult
		removed bool
	}
	out, err := txn.Run(ctx, r.runner, op, func(tx types.Tx) (outcome, error) {
		var rec types.LobbyRecord
		ok, err := tx.Get(types.LobbyRef(lobbyID), &rec)
		if err != nil {
			return outcome{}, err
		}
		if !ok {
			return outcome{res: LeaveResult{Success: true}}, nil
		}
		i := rec.PlayerIndex(userID)
		if i < 0 {
			return outcome{res: LeaveResult{Success: true}}, nil
		}

		now := r.clock.Now()
		rec.Players = append(rec.Players[:i], rec.Players[i+1:]...)
		rec.LastActivityAt = now
		expired := false
		if userID == rec.HostID && rec.Status.Joinable() {
			if err := rec.Transition(types.LobbyExpired, now); err != nil {
				return outcome{}, err
			}
			expired = true
		}
		return outcome{res: LeaveResult{Success: true, Expired: expired}, removed: true},
			tx.Set(types.LobbyRef(lobbyID), rec)
	})
	if err != nil {
		return LeaveResult{}, err
	}

	if out.removed {
		now := r.clock.Now()
		r.log.Info("player left lobby", "lobby_id", lobbyID, "user_id", userID, "expired", out.res.Expired)
		notify.Emit(ctx, r.events, r.log, notify.Event{Type: notify.LobbyLeft, LobbyID: lobbyID, UserID: userID, At: now})
		if out.res.Expired {
			notify.Emit(ctx, r.events, r.log, notify.Event{Type: notify.LobbyExpired, LobbyID: lobbyID, At: now})
		}
	}
	return out.res, nil
}

// SetReady sets a player's battle-readiness flag.
func (r *Registry) SetReady(ctx context.Context, lobbyID, userID string, ready bool) error {
	const op = "lobby.set_ready"
	return txn.Do(ctx, r.runner, op, func(tx types.Tx) error {
		var rec types.LobbyRecord
		ok, err := tx.Get(types.LobbyRef(lobbyID), &rec)
		if err != nil {
			return err
		}
		if !ok {
			return types.NotFound(op, "lobby %q does not exist", lobbyID)
		}
		if !rec.Status.Joinable() {
			return types.NewError(types.CodeNotJoinable, op, "lobby "+lobbyID+" is "+string(rec.Status), nil)
		}
		i := rec.PlayerIndex(userID)
		if i < 0 {
			return types.NotFound(op, "user %q is not in lobby %q", userID, lobbyID)
		}
		if rec.Players[i].Ready == ready {
			return nil
		}
		rec.Players[i].Ready = ready
		rec.LastActivityAt = r.clock.Now()
		return tx.Set(types.LobbyRef(lobbyID), rec)
	})
}

// Advance moves a lobby forward: waiting -> starting -> in_progress.
func (r *Registry) Advance(ctx context.Context, lobbyID string, to types.LobbyStatus) (*types.LobbyRecord, error) {
	const op = "lobby.advance"
	if to != types.LobbyStarting && to != types.LobbyInProgress {
		return nil, types.Validation(op, "cannot advance to %q", to)
	}
	rec, err := txn.Run(ctx, r.runner, op, func(tx types.Tx) (types.LobbyRecord, error) {
		var rec types.LobbyRecord
		ok, err := tx.Get(types.LobbyRef(lobbyID), &rec)
		if err != nil {
			return rec, err
		}
		if !ok {
			return rec, types.NotFound(op, "lobby %q does not exist", lobbyID)
		}
		if rec.Status == to {
			return rec, nil
		}
		if err := rec.Transition(to, r.clock.Now()); err != nil {
			return rec, types.NewError(types.CodeValidation, op,
				"lobby "+lobbyID+" cannot go from "+string(rec.Status)+" to "+string(to), err)
		}
		return rec, tx.Set(types.LobbyRef(lobbyID), rec)
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("lobby advanced", "lobby_id", lobbyID, "status", rec.Status)
	return &rec, nil
}

func newPlayer(userID string, profile types.Profile, now time.Time) types.PlayerRef {
	return types.PlayerRef{
		UserID:      userID,
		DisplayName: strings.TrimSpace(profile.DisplayName),
		Level:       profile.Level,
		JoinedAt:    now,
	}
}
