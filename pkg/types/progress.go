package types

import "time"

// ChallengeProgress records completion of one challenge. Its presence in
// ChapterProgress.Challenges, even incomplete, means the challenge is
// unlocked.
type ChallengeProgress struct {
	IsCompleted bool      `json:"isCompleted"`
	CompletedAt time.Time `json:"completedAt,omitzero"`
}

// ChapterProgress is a user's state within one chapter.
type ChapterProgress struct {
	IsActive    bool                          `json:"isActive"`
	IsCompleted bool                          `json:"isCompleted"`
	UnlockedAt  time.Time                     `json:"unlockedAt,omitzero"`
	CompletedAt time.Time                     `json:"completedAt,omitzero"`
	Challenges  map[string]*ChallengeProgress `json:"challenges"`
}

// UserProgressRecord is the per-user progress document. It is mutated only by
// the progression state machine.
type UserProgressRecord struct {
	UserID    string                   `json:"userId"`
	Chapters  map[int]*ChapterProgress `json:"chapters"`
	CreatedAt time.Time                `json:"createdAt"`
	UpdatedAt time.Time                `json:"updatedAt"`
}

// Chapter returns the progress for chapterID, or nil when the chapter has
// never been reached.
func (r *UserProgressRecord) Chapter(chapterID int) *ChapterProgress {
	if r.Chapters == nil {
		return nil
	}
	return r.Chapters[chapterID]
}

// EnsureChapter returns the progress for chapterID, creating an empty entry
// when absent.
func (r *UserProgressRecord) EnsureChapter(chapterID int) *ChapterProgress {
	if r.Chapters == nil {
		r.Chapters = make(map[int]*ChapterProgress)
	}
	cp, ok := r.Chapters[chapterID]
	if !ok || cp == nil {
		cp = &ChapterProgress{}
		r.Chapters[chapterID] = cp
	}
	if cp.Challenges == nil {
		cp.Challenges = make(map[string]*ChallengeProgress)
	}
	return cp
}

// IsUnlocked reports whether the challenge has an entry.
func (c *ChapterProgress) IsUnlocked(challengeID string) bool {
	if c == nil || c.Challenges == nil {
		return false
	}
	_, ok := c.Challenges[challengeID]
	return ok
}

// IsChallengeCompleted reports whether the challenge is marked complete.
func (c *ChapterProgress) IsChallengeCompleted(challengeID string) bool {
	if c == nil || c.Challenges == nil {
		return false
	}
	p := c.Challenges[challengeID]
	return p != nil && p.IsCompleted
}

// Unlock ensures an entry exists for challengeID without completing it.
// Returns true when the entry was created.
func (c *ChapterProgress) Unlock(challengeID string) bool {
	if c.Challenges == nil {
		c.Challenges = make(map[string]*ChallengeProgress)
	}
	if p, ok := c.Challenges[challengeID]; ok && p != nil {
		return false
	}
	c.Challenges[challengeID] = &ChallengeProgress{}
	return true
}

// AllCompleted reports whether every id in challengeIDs is complete.
// An empty definition is never complete.
func (c *ChapterProgress) AllCompleted(challengeIDs []string) bool {
	if len(challengeIDs) == 0 {
		return false
	}
	for _, id := range challengeIDs {
		if !c.IsChallengeCompleted(id) {
			return false
		}
	}
	return true
}
