// Package catalog loads the chapter/challenge definition table once into an
// immutable, process-wide structure.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/questbook/internal/canon"
	"github.com/mesh-intelligence/questbook/pkg/types"
)

//go:embed default.yaml
var defaultYAML []byte

// defaultAlwaysEligible applies when the file omits always_eligible.
var defaultAlwaysEligible = []int{1, 2}

// file is the on-disk YAML layout.
type file struct {
	AlwaysEligible []int                     `yaml:"always_eligible"`
	ItemAliases    map[string]string         `yaml:"item_aliases"`
	Chapters       []types.ChapterDefinition `yaml:"chapters"`
}

// Catalog is the read-only definition table. All methods are safe for
// concurrent use; returned slices are copies.
type Catalog struct {
	chapters       []types.ChapterDefinition // sorted by id
	chapterIndex   map[int]int
	challengeLoc   map[string][2]int // challenge id -> (chapter index, challenge index)
	alwaysEligible map[int]bool
	canon          *canon.Canonicalizer
}

// Parse builds a Catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return build(f)
}

// Load reads and parses a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

var defaultOnce = sync.OnceValues(func() (*Catalog, error) {
	return Parse(defaultYAML)
})

// Default returns the embedded catalog, parsed once per process.
func Default() (*Catalog, error) {
	return defaultOnce()
}

// LoadOrDefault loads path, or the embedded catalog when path is empty.
func LoadOrDefault(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	return Load(path)
}

func build(f file) (*Catalog, error) {
	if len(f.Chapters) == 0 {
		return nil, fmt.Errorf("catalog has no chapters")
	}
	chapters := slices.Clone(f.Chapters)
	slices.SortFunc(chapters, func(a, b types.ChapterDefinition) int { return a.ID - b.ID })

	c := &Catalog{
		chapters:       chapters,
		chapterIndex:   make(map[int]int, len(chapters)),
		challengeLoc:   make(map[string][2]int),
		alwaysEligible: make(map[int]bool),
		canon:          canon.New(f.ItemAliases),
	}
	for i, ch := range chapters {
		if ch.ID <= 0 {
			return nil, fmt.Errorf("chapter id %d must be positive", ch.ID)
		}
		if _, dup := c.chapterIndex[ch.ID]; dup {
			return nil, fmt.Errorf("duplicate chapter id %d", ch.ID)
		}
		if len(ch.Challenges) == 0 {
			return nil, fmt.Errorf("chapter %d has no challenges", ch.ID)
		}
		if err := validateRewards(ch.Rewards); err != nil {
			return nil, fmt.Errorf("chapter %d: %w", ch.ID, err)
		}
		c.chapterIndex[ch.ID] = i
		for j, chal := range ch.Challenges {
			id := strings.TrimSpace(chal.ID)
			if id == "" {
				return nil, fmt.Errorf("chapter %d challenge %d has empty id", ch.ID, j)
			}
			if _, dup := c.challengeLoc[id]; dup {
				return nil, fmt.Errorf("duplicate challenge id %q", id)
			}
			if err := validateRewards(chal.Rewards); err != nil {
				return nil, fmt.Errorf("challenge %q: %w", id, err)
			}
			c.challengeLoc[id] = [2]int{i, j}
		}
	}

	eligible := f.AlwaysEligible
	if eligible == nil {
		eligible = defaultAlwaysEligible
	}
	for _, id := range eligible {
		c.alwaysEligible[id] = true
	}
	return c, nil
}

// validateRewards rejects malformed declarations. Unknown kinds are allowed
// so the catalog can evolve ahead of the ledger.
func validateRewards(rewards []types.RewardSpec) error {
	for _, r := range rewards {
		if strings.TrimSpace(r.Kind) == "" {
			return fmt.Errorf("reward with empty kind")
		}
		if r.Amount < 0 {
			return fmt.Errorf("reward %s has negative amount %d", r.Kind, r.Amount)
		}
	}
	return nil
}

// ChapterIDs returns every chapter id in ascending order.
func (c *Catalog) ChapterIDs() []int {
	ids := make([]int, len(c.chapters))
	for i, ch := range c.chapters {
		ids[i] = ch.ID
	}
	return ids
}

// HasChapter reports whether chapterID is defined.
func (c *Catalog) HasChapter(chapterID int) bool {
	_, ok := c.chapterIndex[chapterID]
	return ok
}

// Chapter returns a deep copy of the chapter definition.
func (c *Catalog) Chapter(chapterID int) (types.ChapterDefinition, bool) {
	i, ok := c.chapterIndex[chapterID]
	if !ok {
		return types.ChapterDefinition{}, false
	}
	src := c.chapters[i]
	out := src
	out.Rewards = slices.Clone(src.Rewards)
	out.Challenges = make([]types.ChallengeDefinition, len(src.Challenges))
	for j, chal := range src.Challenges {
		out.Challenges[j] = cloneChallenge(chal)
	}
	return out, true
}

// Challenge returns a copy of the challenge definition and its chapter id.
func (c *Catalog) Challenge(challengeID string) (types.ChallengeDefinition, int, bool) {
	loc, ok := c.challengeLoc[challengeID]
	if !ok {
		return types.ChallengeDefinition{}, 0, false
	}
	ch := c.chapters[loc[0]]
	return cloneChallenge(ch.Challenges[loc[1]]), ch.ID, true
}

// ChallengeIDs returns the chapter's challenge ids in unlock order.
func (c *Catalog) ChallengeIDs(chapterID int) []string {
	i, ok := c.chapterIndex[chapterID]
	if !ok {
		return nil
	}
	return c.chapters[i].ChallengeIDs()
}

// ChapterOf returns the chapter that defines challengeID.
func (c *Catalog) ChapterOf(challengeID string) (int, bool) {
	loc, ok := c.challengeLoc[challengeID]
	if !ok {
		return 0, false
	}
	return c.chapters[loc[0]].ID, true
}

// Belongs reports whether challengeID is defined in chapterID.
func (c *Catalog) Belongs(chapterID int, challengeID string) bool {
	id, ok := c.ChapterOf(challengeID)
	return ok && id == chapterID
}

// FirstChallenge returns the first challenge of a chapter.
func (c *Catalog) FirstChallenge(chapterID int) (string, bool) {
	i, ok := c.chapterIndex[chapterID]
	if !ok {
		return "", false
	}
	return c.chapters[i].Challenges[0].ID, true
}

// NextChallenge returns the challenge after challengeID in its chapter.
func (c *Catalog) NextChallenge(chapterID int, challengeID string) (string, bool) {
	loc, ok := c.challengeLoc[challengeID]
	if !ok || c.chapters[loc[0]].ID != chapterID {
		return "", false
	}
	chal := c.chapters[loc[0]].Challenges
	if loc[1]+1 >= len(chal) {
		return "", false
	}
	return chal[loc[1]+1].ID, true
}

// NextChapter returns chapterID+1 when that chapter is defined.
func (c *Catalog) NextChapter(chapterID int) (int, bool) {
	next := chapterID + 1
	return next, c.HasChapter(next)
}

// IsAlwaysEligible reports whether the chapter is permanently eligible for
// activation regardless of prior chapters.
func (c *Catalog) IsAlwaysEligible(chapterID int) bool {
	return c.alwaysEligible[chapterID]
}

// Canonicalizer returns the item-id canonicalizer built from item_aliases.
func (c *Catalog) Canonicalizer() *canon.Canonicalizer {
	return c.canon
}

func cloneChallenge(ch types.ChallengeDefinition) types.ChallengeDefinition {
	ch.Requirements = slices.Clone(ch.Requirements)
	ch.Rewards = slices.Clone(ch.Rewards)
	return ch
}
