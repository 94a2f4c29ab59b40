package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromCoreCapturesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := FromCore(core).With("component", "ledger")

	log.Warn("unsupported reward kind", "kind", "ability")

	entries := logs.FilterMessage("unsupported reward kind").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "ledger", fields["component"])
	assert.Equal(t, "ability", fields["kind"])
}

func TestHashValueIsStableAndShort(t *testing.T) {
	a := hashValue("user-1")
	b := hashValue("user-1")
	assert.Equal(t, a, b)
	assert.Len(t, a, len("hash:")+12)
	assert.Equal(t, "", hashValue(""))
}

func TestIsHashKey(t *testing.T) {
	assert.True(t, isHashKey("user_id"))
	assert.True(t, isHashKey("host_id"))
	assert.False(t, isHashKey("lobby_id"))
}

func TestNopDoesNotPanic(t *testing.T) {
	l := NewNop()
	l.Info("x", "k", 1)
	l.Sync()
}
