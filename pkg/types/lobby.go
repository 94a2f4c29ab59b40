package types

import (
	"errors"
	"time"
)

// LobbyStatus is the lifecycle state of a lobby.
type LobbyStatus string

// Lobby states. waiting -> starting -> in_progress is the forward path;
// waiting|starting -> expired is terminal.
const (
	LobbyWaiting    LobbyStatus = "waiting"
	LobbyStarting   LobbyStatus = "starting"
	LobbyInProgress LobbyStatus = "in_progress"
	LobbyExpired    LobbyStatus = "expired"
)

// ErrInvalidTransition is returned for a status change the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid lobby status transition")

var lobbyTransitions = map[LobbyStatus][]LobbyStatus{
	LobbyWaiting:  {LobbyStarting, LobbyExpired},
	LobbyStarting: {LobbyInProgress, LobbyExpired},
}

// CanTransition reports whether the lifecycle allows from -> to.
func (s LobbyStatus) CanTransition(to LobbyStatus) bool {
	for _, next := range lobbyTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Joinable reports whether players may join or leave as a pre-game lobby.
func (s LobbyStatus) Joinable() bool {
	return s == LobbyWaiting || s == LobbyStarting
}

// Profile is the caller-supplied display data for a joining player.
type Profile struct {
	DisplayName string `json:"displayName,omitempty"`
	Level       int    `json:"level,omitempty"`
}

// PlayerRef is one roster entry. Ready is the battle-readiness flag and
// starts false.
type PlayerRef struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName,omitempty"`
	Level       int       `json:"level,omitempty"`
	Ready       bool      `json:"ready"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// LobbyRecord is one capacity-bounded group session.
// len(Players) <= MaxPlayers and user ids are unique.
type LobbyRecord struct {
	ID             string      `json:"id"`
	Status         LobbyStatus `json:"status"`
	HostID         string      `json:"hostId"`
	MaxPlayers     int         `json:"maxPlayers"`
	Players        []PlayerRef `json:"players"`
	CreatedAt      time.Time   `json:"createdAt"`
	LastActivityAt time.Time   `json:"lastActivityAt"`
}

// PlayerIndex returns the roster position of userID, or -1.
func (l *LobbyRecord) PlayerIndex(userID string) int {
	for i, p := range l.Players {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

// IsFull reports whether the roster is at capacity.
func (l *LobbyRecord) IsFull() bool {
	return len(l.Players) >= l.MaxPlayers
}

// Transition moves the lobby to status to, or returns ErrInvalidTransition.
// Transitioning to the current status is a no-op.
func (l *LobbyRecord) Transition(to LobbyStatus, at time.Time) error {
	if l.Status == to {
		return nil
	}
	if !l.Status.CanTransition(to) {
		return ErrInvalidTransition
	}
	l.Status = to
	l.LastActivityAt = at
	return nil
}
