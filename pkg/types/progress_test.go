package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureChapterCreatesOnce(t *testing.T) {
	var r UserProgressRecord
	assert.Nil(t, r.Chapter(1))

	cp := r.EnsureChapter(1)
	cp.IsActive = true
	again := r.EnsureChapter(1)

	assert.Same(t, cp, again)
	assert.True(t, r.Chapter(1).IsActive)
	assert.NotNil(t, cp.Challenges)
}

func TestChapterProgressUnlockAndComplete(t *testing.T) {
	cp := &ChapterProgress{}

	assert.False(t, cp.IsUnlocked("a"))
	assert.True(t, cp.Unlock("a"))
	assert.False(t, cp.Unlock("a"), "second unlock must not replace the entry")
	assert.True(t, cp.IsUnlocked("a"))
	assert.False(t, cp.IsChallengeCompleted("a"))

	cp.Challenges["a"].IsCompleted = true
	assert.True(t, cp.IsChallengeCompleted("a"))
	assert.True(t, cp.AllCompleted([]string{"a"}))
	assert.False(t, cp.AllCompleted([]string{"a", "b"}))
	assert.False(t, cp.AllCompleted(nil))
}

func TestUserProgressRecordJSONKeepsIntChapterKeys(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := UserProgressRecord{UserID: "u1", CreatedAt: now, UpdatedAt: now}
	cp := r.EnsureChapter(2)
	cp.IsActive = true
	cp.Unlock("x")

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"2":`)
	assert.NotContains(t, string(raw), "completedAt", "zero timestamps are omitted")

	var back UserProgressRecord
	require.NoError(t, json.Unmarshal(raw, &back))
	require.NotNil(t, back.Chapter(2))
	assert.True(t, back.Chapter(2).IsUnlocked("x"))
}
