// Package notify publishes engine events after their transaction commits.
// Publishing is best-effort: a failed publish is logged and never undoes the
// committed change.
package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mesh-intelligence/questbook/internal/logger"
	"github.com/mesh-intelligence/questbook/pkg/types"
)

// Event types.
const (
	ChallengeUnlocked = "challenge.unlocked"
	ChapterCompleted  = "chapter.completed"
	ChapterUnlocked   = "chapter.unlocked"
	RewardsGranted    = "rewards.granted"
	RewardAnomaly     = "rewards.anomaly"
	LobbyJoined       = "lobby.joined"
	LobbyLeft         = "lobby.left"
	LobbyExpired      = "lobby.expired"
)

// Event is one notification.
type Event struct {
	Type        string    `json:"type"`
	UserID      string    `json:"userId,omitempty"`
	ChallengeID string    `json:"challengeId,omitempty"`
	ChapterID   int       `json:"chapterId,omitempty"`
	LobbyID     string    `json:"lobbyId,omitempty"`
	Data        any       `json:"data,omitempty"`
	At          time.Time `json:"at"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// New returns a Redis publisher when cfg.RedisAddr is set and a log-only
// publisher otherwise.
func New(log *logger.Logger, cfg types.NotifyConfig) (Publisher, error) {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return NewLogPublisher(log), nil
	}
	p, err := NewRedisPublisher(log, cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Emit publishes ev and logs failures instead of returning them.
func Emit(ctx context.Context, p Publisher, log *logger.Logger, ev Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, ev); err != nil && log != nil {
		log.Warn("publish event failed", "type", ev.Type, "user_id", ev.UserID, "error", err)
	}
}

type nop struct{}

func (nop) Publish(context.Context, Event) error { return nil }
func (nop) Close() error                         { return nil }

// Nop discards every event.
func Nop() Publisher { return nop{} }

type logPublisher struct {
	log *logger.Logger
}

// NewLogPublisher writes each event to the logger at debug level.
func NewLogPublisher(log *logger.Logger) Publisher {
	if log == nil {
		log = logger.NewNop()
	}
	return &logPublisher{log: log.With("service", "EventLog")}
}

func (p *logPublisher) Publish(_ context.Context, ev Event) error {
	p.log.Debug("event", "type", ev.Type, "user_id", ev.UserID, "challenge_id", ev.ChallengeID,
		"chapter_id", ev.ChapterID, "lobby_id", ev.LobbyID)
	return nil
}

func (p *logPublisher) Close() error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events with the given type.
func (r *Recorder) OfType(typ string) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
