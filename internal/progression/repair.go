package progression

import (
	"context"
	"strings"
	"time"

	"github.com/mesh-intelligence/questbook/internal/txn"
	"github.com/mesh-intelligence/questbook/pkg/types"
)

// RepairProgression converges a record left inconsistent by partial writes.
// It walks chapters in catalog order and unlocks missing next challenges,
// settles chapter completion, reactivates always-eligible chapters and
// unlocks the successor of completed chapters. Running it again on its own
// output changes nothing.
func (e *Engine) RepairProgression(ctx context.Context, userID string) (RepairResult, error) {
	const op = "progression.repair"
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return RepairResult{}, types.Validation(op, "user id is required")
	}

	res, err := txn.Run(ctx, e.runner, op, func(tx types.Tx) (RepairResult, error) {
		var rec types.UserProgressRecord
		ok, err := tx.Get(types.ProgressRef(userID), &rec)
		if err != nil {
			return RepairResult{}, err
		}
		if !ok {
			return RepairResult{}, types.NotFound(op, "no progress record for user %q", userID)
		}

		now := e.clock.Now()
		res := e.repair(&rec, now)
		if !res.Changed() {
			return res, nil
		}
		rec.UpdatedAt = now
		return res, tx.Set(types.ProgressRef(userID), rec)
	})
	if err != nil {
		return RepairResult{}, err
	}
	if res.Changed() {
		e.log.Info("progress repaired", "user_id", userID,
			"challenges_repaired", res.ChallengesRepaired, "chapters_repaired", res.ChaptersRepaired)
	}
	return res, nil
}

func (e *Engine) repair(rec *types.UserProgressRecord, now time.Time) RepairResult {
	var res RepairResult
	for _, chapterID := range e.catalog.ChapterIDs() {
		cp := rec.Chapter(chapterID)
		if cp == nil {
			continue
		}
		ids := e.catalog.ChallengeIDs(chapterID)

		if cp.Unlock(ids[0]) {
			res.ChallengesRepaired++
		}
		for i, id := range ids[:len(ids)-1] {
			if cp.IsChallengeCompleted(id) && cp.Unlock(ids[i+1]) {
				res.ChallengesRepaired++
			}
		}

		wasCompleted := cp.IsCompleted
		completed, _ := e.settleChapter(rec, chapterID, now)
		if completed || wasCompleted != cp.IsCompleted {
			res.ChaptersRepaired++
		}

		if !cp.IsCompleted && !cp.IsActive && e.eligible(rec, chapterID) {
			cp.IsActive = true
			res.ChaptersRepaired++
		}
		if cp.IsCompleted && !completed {
			if next, ok := e.catalog.NextChapter(chapterID); ok && e.unlockChapter(rec, next, now) {
				res.ChaptersRepaired++
			}
		}
	}
	return res
}
