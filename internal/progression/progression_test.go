package progression

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/questbook/internal/catalog"
	"github.com/mesh-intelligence/questbook/internal/clock"
	"github.com/mesh-intelligence/questbook/internal/memstore"
	"github.com/mesh-intelligence/questbook/internal/notify"
	"github.com/mesh-intelligence/questbook/internal/txn"
	"github.com/mesh-intelligence/questbook/pkg/types"
)

const testCatalog = `
chapters:
  - id: 1
    challenges: [{id: a}, {id: b}, {id: c}]
  - id: 2
    challenges: [{id: d}, {id: e}]
  - id: 3
    challenges: [{id: f}, {id: g}, {id: h}, {id: i}]
  - id: 4
    challenges: [{id: j}]
`

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	engine *Engine
	store  *memstore.Store
	clock  *clock.Fixed
	events *notify.Recorder
	cat    *catalog.Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)
	clk := clock.NewFixed(t0)
	store := memstore.New(memstore.WithClock(clk))
	rec := &notify.Recorder{}
	runner := txn.NewRunner(store, types.TxConfig{MaxAttempts: 64, BaseBackoff: time.Microsecond, MaxBackoff: time.Millisecond})
	e, err := New(Deps{Runner: runner, Catalog: cat, Clock: clk, Events: rec})
	require.NoError(t, err)
	return &fixture{engine: e, store: store, clock: clk, events: rec, cat: cat}
}

func (f *fixture) seed(t *testing.T, userID string) {
	t.Helper()
	created, err := f.engine.SeedUser(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, created)
}

func (f *fixture) record(t *testing.T, userID string) *types.UserProgressRecord {
	t.Helper()
	rec, err := f.engine.Progress(context.Background(), userID)
	require.NoError(t, err)
	return rec
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
	_, err = New(Deps{Runner: txn.NewRunner(memstore.New(), types.TxConfig{MaxAttempts: 1})})
	assert.Error(t, err)
}

func TestSeedUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "u1")

	rec := f.record(t, "u1")
	require.Len(t, rec.Chapters, 1)
	ch1 := rec.Chapter(1)
	assert.True(t, ch1.IsActive)
	assert.False(t, ch1.IsCompleted)
	assert.Equal(t, t0, ch1.UnlockedAt)
	assert.True(t, ch1.IsUnlocked("a"))
	assert.False(t, ch1.IsChallengeCompleted("a"))

	created, err := f.engine.SeedUser(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, created, "seeding is idempotent")

	_, err = f.engine.SeedUser(ctx, " ")
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestSequentialUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "u1")

	res, err := f.engine.CompleteChallenge(ctx, "u1", 1, "a")
	require.NoError(t, err)
	assert.Equal(t, Result{ChallengeUnlocked: "b"}, res)

	rec := f.record(t, "u1")
	ch1 := rec.Chapter(1)
	assert.True(t, ch1.IsUnlocked("b"))
	assert.False(t, ch1.IsChallengeCompleted("b"))
	assert.False(t, ch1.IsUnlocked("c"))
	assert.False(t, ch1.IsCompleted)

	_, err = f.engine.CompleteChallenge(ctx, "u1", 1, "b")
	require.NoError(t, err)
	res, err = f.engine.CompleteChallenge(ctx, "u1", 1, "c")
	require.NoError(t, err)
	assert.Equal(t, Result{ChapterCompleted: true, ChapterUnlocked: 2}, res)

	rec = f.record(t, "u1")
	ch1 = rec.Chapter(1)
	assert.True(t, ch1.IsCompleted)
	assert.False(t, ch1.IsActive)
	assert.Equal(t, t0, ch1.CompletedAt)

	ch2 := rec.Chapter(2)
	require.NotNil(t, ch2)
	assert.True(t, ch2.IsActive)
	assert.True(t, ch2.IsUnlocked("d"))
	assert.False(t, ch2.IsChallengeCompleted("d"))

	assert.Len(t, f.events.OfType(notify.ChallengeUnlocked), 2)
	assert.Len(t, f.events.OfType(notify.ChapterCompleted), 1)
	unlocked := f.events.OfType(notify.ChapterUnlocked)
	require.Len(t, unlocked, 1)
	assert.Equal(t, 2, unlocked[0].ChapterID)
}

func TestCompleteChallengeIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "u1")

	_, err := f.engine.CompleteChallenge(ctx, "u1", 1, "a")
	require.NoError(t, err)
	before := f.record(t, "u1")
	eventsBefore := len(f.events.Events())

	f.clock.Advance(time.Hour)
	res, err := f.engine.CompleteChallenge(ctx, "u1", 1, "a")
	require.NoError(t, err)
	assert.Equal(t, Result{AlreadyCompleted: true}, res)

	after := f.record(t, "u1")
	assert.Equal(t, before, after, "second call does not mutate the record")
	assert.Len(t, f.events.Events(), eventsBefore, "no duplicate unlock notifications")
}

func TestCompleteChallengeErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "u1")

	tests := []struct {
		name      string
		user      string
		chapter   int
		challenge string
		want      error
	}{
		{"missing user", "ghost", 1, "a", types.ErrNotFound},
		{"unknown chapter", "u1", 99, "a", types.ErrNotFound},
		{"wrong chapter", "u1", 2, "a", types.ErrValidation},
		{"unknown challenge", "u1", 1, "zzz", types.ErrValidation},
		{"empty user", "", 1, "a", types.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CompleteChallenge(ctx, tt.user, tt.chapter, tt.challenge)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := f.engine.Progress(ctx, "ghost")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestAlwaysEligibleChapterForcedActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Chapter 2 entry exists but lost its activation flag.
	require.NoError(t, f.store.RunTx(ctx, func(tx types.Tx) error {
		return tx.Set(types.ProgressRef("u1"), types.UserProgressRecord{
			UserID: "u1",
			Chapters: map[int]*types.ChapterProgress{
				2: {Challenges: map[string]*types.ChallengeProgress{"d": {}}},
			},
		})
	}))

	_, err := f.engine.CompleteChallenge(ctx, "u1", 2, "d")
	require.NoError(t, err)
	assert.True(t, f.record(t, "u1").Chapter(2).IsActive)
}

func TestCompletionInLockedChapterStaysInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "u1")

	res, err := f.engine.CompleteChallenge(ctx, "u1", 3, "f")
	require.NoError(t, err)
	assert.Equal(t, "g", res.ChallengeUnlocked)

	ch3 := f.record(t, "u1").Chapter(3)
	require.NotNil(t, ch3)
	assert.False(t, ch3.IsActive, "chapter 2 is not complete")
	assert.True(t, ch3.IsChallengeCompleted("f"))
}

func TestLastChapterCompletionUnlocksNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "u1")

	res, err := f.engine.CompleteChallenge(ctx, "u1", 4, "j")
	require.NoError(t, err)
	assert.True(t, res.ChapterCompleted)
	assert.Zero(t, res.ChapterUnlocked)
}

// assertInvariants checks every stored chapter against its definition.
func assertInvariants(t *testing.T, cat *catalog.Catalog, rec *types.UserProgressRecord) {
	t.Helper()
	for id, cp := range rec.Chapters {
		ids := cat.ChallengeIDs(id)
		require.NotEmpty(t, ids)
		assert.Equal(t, cp.AllCompleted(ids), cp.IsCompleted, "chapter %d completion flag", id)
		if cp.IsCompleted {
			assert.False(t, cp.IsActive, "completed chapter %d is inactive", id)
		}
		for i, cid := range ids[:len(ids)-1] {
			if cp.IsChallengeCompleted(cid) {
				assert.True(t, cp.IsUnlocked(ids[i+1]), "successor of %s unlocked", cid)
			}
		}
	}
}

func TestChapterCompletionInvariantRandomOrder(t *testing.T) {
	for seed := uint64(1); seed <= 25; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			rng := rand.New(rand.NewPCG(seed, seed*7919))
			f.seed(t, "u1")

			type step struct {
				chapter   int
				challenge string
			}
			var steps []step
			for _, chapterID := range f.cat.ChapterIDs() {
				for _, id := range f.cat.ChallengeIDs(chapterID) {
					steps = append(steps, step{chapterID, id})
				}
			}
			// Repeat a few steps so duplicate triggers are exercised too.
			for range 5 {
				steps = append(steps, steps[rng.IntN(len(steps))])
			}
			rng.Shuffle(len(steps), func(i, j int) { steps[i], steps[j] = steps[j], steps[i] })

			for _, s := range steps {
				_, err := f.engine.CompleteChallenge(ctx, "u1", s.chapter, s.challenge)
				require.NoError(t, err)
				assertInvariants(t, f.cat, f.record(t, "u1"))
			}

			rec := f.record(t, "u1")
			for _, chapterID := range f.cat.ChapterIDs() {
				assert.True(t, rec.Chapter(chapterID).IsCompleted, "chapter %d", chapterID)
			}
		})
	}
}

func TestConcurrentCompletionsSameUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "u1")

	ids := f.cat.ChallengeIDs(3)
	var wg sync.WaitGroup
	results := make([]Result, len(ids)*2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.CompleteChallenge(ctx, "u1", 3, ids[i%len(ids)])
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	rec := f.record(t, "u1")
	assert.True(t, rec.Chapter(3).IsCompleted)
	assertInvariants(t, f.cat, rec)

	already, completedChapter := 0, 0
	for _, r := range results {
		if r.AlreadyCompleted {
			already++
		}
		if r.ChapterCompleted {
			completedChapter++
		}
	}
	assert.Equal(t, len(ids), already, "each duplicate observed the committed first call")
	assert.Equal(t, 1, completedChapter, "chapter completion reported exactly once")
}
