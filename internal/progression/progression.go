// Package progression advances a user through the ordered chapter/challenge
// graph. Every mutation is one optimistic transaction against the user's
// progress document, re-run from a fresh read on conflict.
package progression

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mesh-intelligence/questbook/internal/catalog"
	"github.com/mesh-intelligence/questbook/internal/clock"
	"github.com/mesh-intelligence/questbook/internal/logger"
	"github.com/mesh-intelligence/questbook/internal/notify"
	"github.com/mesh-intelligence/questbook/internal/txn"
	"github.com/mesh-intelligence/questbook/pkg/types"
)

// Deps wires an Engine. Runner and Catalog are required.
type Deps struct {
	Runner  *txn.Runner
	Catalog *catalog.Catalog
	Clock   clock.Clock
	Log     *logger.Logger
	Events  notify.Publisher
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
	return d
}

// Engine is the progression state machine.
type Engine struct {
	runner  *txn.Runner
	catalog *catalog.Catalog
	clock   clock.Clock
	log     *logger.Logger
	events  notify.Publisher
}

// New builds an Engine.
func New(deps Deps) (*Engine, error) {
	if deps.Runner == nil {
		return nil, errors.New("progression: runner is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("progression: catalog is required")
	}
	deps = deps.withDefaults()
	return &Engine{
		runner:  deps.Runner,
		catalog: deps.Catalog,
		clock:   deps.Clock,
		log:     deps.Log.With("service", "Progression"),
		events:  deps.Events,
	}, nil
}

// Result reports what a CompleteChallenge call newly unlocked. It is advisory;
// the stored record is authoritative.
type Result struct {
	AlreadyCompleted  bool   `json:"alreadyCompleted"`
	ChallengeUnlocked string `json:"challengeUnlocked,omitempty"`
	ChapterCompleted  bool   `json:"chapterCompleted,omitempty"`
	ChapterUnlocked   int    `json:"chapterUnlocked,omitempty"`
}

// RepairResult counts the corrections made by RepairProgression.
type RepairResult struct {
	ChallengesRepaired int `json:"challengesRepaired"`
	ChaptersRepaired   int `json:"chaptersRepaired"`
}

// Changed reports whether the repair wrote anything.
func (r RepairResult) Changed() bool {
	return r.ChallengesRepaired > 0 || r.ChaptersRepaired > 0
}

// SeedUser creates the progress record for a new account with the first
// chapter active and its first challenge unlocked. It returns false when the
// record already exists.
func (e *Engine) SeedUser(ctx context.Context, userID string) (bool, error) {
	const op = "progression.seed_user"
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, types.Validation(op, "user id is required")
	}
	first := e.catalog.ChapterIDs()[0]

	created, err := txn.Run(ctx, e.runner, op, func(tx types.Tx) (bool, error) {
		var existing types.UserProgressRecord
		ok, err := tx.Get(types.ProgressRef(userID), &existing)
		if err != nil || ok {
			return false, err
		}
		now := e.clock.Now()
		rec := types.UserProgressRecord{UserID: userID, CreatedAt: now, UpdatedAt: now}
		e.unlockChapter(&rec, first, now)
		return true, tx.Set(types.ProgressRef(userID), rec)
	})
	if err != nil {
		return false, err
	}
	if created {
		e.log.Info("progress record created", "user_id", userID, "chapter_id", first)
	}
	return created, nil
}

// Progress returns the stored record.
func (e *Engine) Progress(ctx context.Context, userID string) (*types.UserProgressRecord, error) {
	const op = "progression.progress"
	var rec types.UserProgressRecord
	ok, err := e.runner.Store().Get(ctx, types.ProgressRef(userID), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.NotFound(op, "no progress record for user %q", userID)
	}
	return &rec, nil
}

// CompleteChallenge marks challengeID complete and unlocks whatever follows
// it. Completing an already-completed challenge changes nothing and returns
// AlreadyCompleted.
func (e *Engine) CompleteChallenge(ctx context.Context, userID string, chapterID int, challengeID string) (Result, error) {
	const op = "progression.complete_challenge"
	userID = strings.TrimSpace(userID)
	challengeID = strings.TrimSpace(challengeID)
	if userID == "" || challengeID == "" {
		return Result{}, types.Validation(op, "user id and challenge id are required")
	}
	if !e.catalog.HasChapter(chapterID) {
		return Result{}, types.NotFound(op, "chapter %d is not defined", chapterID)
	}
	if !e.catalog.Belongs(chapterID, challengeID) {
		return Result{}, types.Validation(op, "challenge %q does not belong to chapter %d", challengeID, chapterID)
	}

	res, err := txn.Run(ctx, e.runner, op, func(tx types.Tx) (Result, error) {
		var rec types.UserProgressRecord
		ok, err := tx.Get(types.ProgressRef(userID), &rec)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{}, types.NotFound(op, "no progress record for user %q", userID)
		}
		if rec.Chapter(chapterID).IsChallengeCompleted(challengeID) {
			return Result{AlreadyCompleted: true}, nil
		}

		now := e.clock.Now()
		res := e.complete(&rec, chapterID, challengeID, now)
		rec.UpdatedAt = now
		return res, tx.Set(types.ProgressRef(userID), rec)
	})
	if err != nil {
		return Result{}, err
	}

	if res.AlreadyCompleted {
		e.log.Debug("challenge already completed", "user_id", userID, "challenge_id", challengeID)
		return res, nil
	}
	e.log.Info("challenge completed", "user_id", userID, "chapter_id", chapterID, "challenge_id", challengeID,
		"chapter_completed", res.ChapterCompleted)
	e.publish(ctx, userID, chapterID, res)
	return res, nil
}

// complete applies one completion to rec in memory.
func (e *Engine) complete(rec *types.UserProgressRecord, chapterID int, challengeID string, now time.Time) Result {
	var res Result
	existed := rec.Chapter(chapterID) != nil
	cp := rec.EnsureChapter(chapterID)
	if !existed {
		cp.UnlockedAt = now
		cp.IsActive = e.eligible(rec, chapterID)
	}

	cp.Challenges[challengeID] = &types.ChallengeProgress{IsCompleted: true, CompletedAt: now}
	if e.catalog.IsAlwaysEligible(chapterID) && !cp.IsCompleted {
		cp.IsActive = true
	}

	if next, ok := e.catalog.NextChallenge(chapterID, challengeID); ok && !cp.IsChallengeCompleted(next) {
		if cp.Unlock(next) {
			res.ChallengeUnlocked = next
		}
	}

	completed, unlocked := e.settleChapter(rec, chapterID, now)
	res.ChapterCompleted = completed
	res.ChapterUnlocked = unlocked
	return res
}

// settleChapter recomputes chapter completion from its definition. When the
// chapter newly completes it is deactivated and the next chapter is unlocked.
// A stale completed flag is cleared. It returns whether the chapter newly
// completed and the id of a newly unlocked chapter (0 for none).
func (e *Engine) settleChapter(rec *types.UserProgressRecord, chapterID int, now time.Time) (bool, int) {
	cp := rec.Chapter(chapterID)
	if cp == nil {
		return false, 0
	}
	all := cp.AllCompleted(e.catalog.ChallengeIDs(chapterID))
	switch {
	case all && !cp.IsCompleted:
		cp.IsCompleted = true
		cp.IsActive = false
		cp.CompletedAt = now
		next, ok := e.catalog.NextChapter(chapterID)
		if !ok {
			return true, 0
		}
		if e.unlockChapter(rec, next, now) {
			return true, next
		}
		return true, 0
	case !all && cp.IsCompleted:
		cp.IsCompleted = false
		cp.CompletedAt = time.Time{}
		cp.IsActive = e.eligible(rec, chapterID)
	}
	return false, 0
}

// unlockChapter creates or merges the chapter entry as active and seeds its
// first challenge. It returns true when anything changed.
func (e *Engine) unlockChapter(rec *types.UserProgressRecord, chapterID int, now time.Time) bool {
	first, ok := e.catalog.FirstChallenge(chapterID)
	if !ok {
		return false
	}
	changed := rec.Chapter(chapterID) == nil
	cp := rec.EnsureChapter(chapterID)
	if !cp.IsCompleted && !cp.IsActive {
		cp.IsActive = true
		changed = true
	}
	if cp.UnlockedAt.IsZero() {
		cp.UnlockedAt = now
		changed = true
	}
	if cp.Unlock(first) {
		changed = true
	}
	return changed
}

// eligible reports whether a chapter may be active: always-eligible chapters
// are, others need the previous chapter completed.
func (e *Engine) eligible(rec *types.UserProgressRecord, chapterID int) bool {
	if e.catalog.IsAlwaysEligible(chapterID) {
		return true
	}
	prev := rec.Chapter(chapterID - 1)
	return prev != nil && prev.IsCompleted
}

func (e *Engine) publish(ctx context.Context, userID string, chapterID int, res Result) {
	now := e.clock.Now()
	if res.ChallengeUnlocked != "" {
		notify.Emit(ctx, e.events, e.log, notify.Event{
			Type: notify.ChallengeUnlocked, UserID: userID, ChapterID: chapterID,
			ChallengeID: res.ChallengeUnlocked, At: now,
		})
	}
	if res.ChapterCompleted {
		notify.Emit(ctx, e.events, e.log, notify.Event{
			Type: notify.ChapterCompleted, UserID: userID, ChapterID: chapterID, At: now,
		})
	}
	if res.ChapterUnlocked != 0 {
		notify.Emit(ctx, e.events, e.log, notify.Event{
			Type: notify.ChapterUnlocked, UserID: userID, ChapterID: res.ChapterUnlocked, At: now,
		})
	}
}
