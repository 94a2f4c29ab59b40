package notify

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mesh-intelligence/questbook/internal/logger"
	"github.com/mesh-intelligence/questbook/pkg/types"
)

type failing struct{}

func (failing) Publish(context.Context, Event) error { return errors.New("down") }
func (failing) Close() error                         { return nil }

func TestEmitLogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.FromCore(core)

	Emit(context.Background(), failing{}, log, Event{Type: ChapterUnlocked, UserID: "u1"})
	require.Equal(t, 1, logs.FilterMessage("publish event failed").Len())

	Emit(context.Background(), nil, log, Event{Type: ChapterUnlocked})
	assert.Equal(t, 1, logs.Len())
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	ctx := context.Background()
	require.NoError(t, r.Publish(ctx, Event{Type: LobbyJoined, LobbyID: "l1"}))
	require.NoError(t, r.Publish(ctx, Event{Type: LobbyExpired, LobbyID: "l1"}))

	assert.Len(t, r.Events(), 2)
	expired := r.OfType(LobbyExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, "l1", expired[0].LobbyID)
}

func TestNewWithoutRedisUsesLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	p, err := New(logger.FromCore(core), types.NotifyConfig{})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Publish(context.Background(), Event{Type: RewardsGranted, UserID: "u1"}))
	entries := logs.FilterMessage("event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, RewardsGranted, entries[0].ContextMap()["type"])
}

func TestNewRedisPublisherRequiresAddr(t *testing.T) {
	_, err := NewRedisPublisher(nil, types.NotifyConfig{})
	assert.Error(t, err)

	var p *RedisPublisher
	assert.Error(t, p.Publish(context.Background(), Event{}))
	assert.NoError(t, p.Close())
}

func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("QUESTBOOK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("QUESTBOOK_TEST_REDIS_ADDR not set")
	}
	p, err := NewRedisPublisher(logger.NewNop(), types.NotifyConfig{RedisAddr: addr, Channel: "questbook.test"})
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got := make(chan Event, 1)
	require.NoError(t, p.Subscribe(ctx, func(ev Event) { got <- ev }))
	require.NoError(t, p.Publish(ctx, Event{Type: ChallengeUnlocked, UserID: "u1", ChallengeID: "c2"}))

	select {
	case ev := <-got:
		assert.Equal(t, "c2", ev.ChallengeID)
	case <-ctx.Done():
		t.Fatal("event not received")
	}
}
