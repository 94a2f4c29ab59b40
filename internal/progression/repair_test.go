package progression

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/questbook/pkg/types"
)

func done() *types.ChallengeProgress { return &types.ChallengeProgress{IsCompleted: true, CompletedAt: t0} }

func TestRepairProgression(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	broken := types.UserProgressRecord{
		UserID: "u1",
		Chapters: map[int]*types.ChapterProgress{
			// a completed, b never unlocked.
			1: {IsActive: true, Challenges: map[string]*types.ChallengeProgress{"a": done()}},
			// every challenge completed but the chapter flag was never set.
			2: {IsActive: true, Challenges: map[string]*types.ChallengeProgress{"d": done(), "e": done()}},
			// stale completed flag with an incomplete challenge.
			4: {IsCompleted: true, Challenges: map[string]*types.ChallengeProgress{"j": {}}},
		},
	}
	require.NoError(t, f.store.RunTx(ctx, func(tx types.Tx) error {
		return tx.Set(types.ProgressRef("u1"), broken)
	}))

	res, err := f.engine.RepairProgression(ctx, "u1")
	require.NoError(t, err)
	// b unlocked; chapter 2 completed (which unlocks 3); chapter 4's stale
	// flag cleared.
	assert.Equal(t, 1, res.ChallengesRepaired)
	assert.Equal(t, 2, res.ChaptersRepaired)

	rec := f.record(t, "u1")
	assertInvariants(t, f.cat, rec)
	assert.True(t, rec.Chapter(1).IsUnlocked("b"))
	assert.True(t, rec.Chapter(2).IsCompleted)
	assert.False(t, rec.Chapter(2).IsActive)
	require.NotNil(t, rec.Chapter(3))
	assert.True(t, rec.Chapter(3).IsActive)
	assert.True(t, rec.Chapter(3).IsUnlocked("f"))
	assert.False(t, rec.Chapter(4).IsCompleted)
	assert.True(t, rec.Chapter(4).CompletedAt.IsZero())
}

func TestRepairProgressionConverges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "u1")
	for _, id := range []string{"a", "b", "c"} {
		_, err := f.engine.CompleteChallenge(ctx, "u1", 1, id)
		require.NoError(t, err)
	}

	versionOf := func() int64 {
		docs, err := f.store.List(ctx, types.CollectionProgress)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		return docs[0].Version
	}

	before := versionOf()
	for range 3 {
		res, err := f.engine.RepairProgression(ctx, "u1")
		require.NoError(t, err)
		assert.False(t, res.Changed())
	}
	assert.Equal(t, before, versionOf(), "a consistent record is never rewritten")
}

func TestRepairProgressionUnlocksSuccessorOfCompletedChapter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.RunTx(ctx, func(tx types.Tx) error {
		return tx.Set(types.ProgressRef("u1"), types.UserProgressRecord{
			UserID: "u1",
			Chapters: map[int]*types.ChapterProgress{
				1: {IsCompleted: true, CompletedAt: t0, Challenges: map[string]*types.ChallengeProgress{
					"a": done(), "b": done(), "c": done(),
				}},
			},
		})
	}))

	res, err := f.engine.RepairProgression(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, RepairResult{ChaptersRepaired: 1}, res)
	assert.True(t, f.record(t, "u1").Chapter(2).IsUnlocked("d"))

	res, err = f.engine.RepairProgression(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, res.Changed())
}

func TestRepairProgressionMissingUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.RepairProgression(context.Background(), "ghost")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
