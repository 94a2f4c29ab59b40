package types

// Reward kinds declared by the catalog.
const (
	RewardXP           = "xp"
	RewardCurrency     = "currency"
	RewardRareCurrency = "rareCurrency"
	RewardItem         = "item"
	RewardAbility      = "ability"
)

// RewardSpec declares one reward. Amount is used by numeric kinds, ID by
// item and ability kinds.
type RewardSpec struct {
	Kind   string `json:"kind" yaml:"kind"`
	Amount int64  `json:"amount,omitempty" yaml:"amount,omitempty"`
	ID     string `json:"id,omitempty" yaml:"id,omitempty"`
}

// ChallengeDefinition is one ordered step of a chapter.
// Requirements are descriptive; they are evaluated by the client.
type ChallengeDefinition struct {
	ID           string       `json:"id" yaml:"id"`
	Title        string       `json:"title,omitempty" yaml:"title,omitempty"`
	Requirements []string     `json:"requirements,omitempty" yaml:"requirements,omitempty"`
	Rewards      []RewardSpec `json:"rewards,omitempty" yaml:"rewards,omitempty"`
}

// ChapterDefinition is an ordered list of challenges. Chapter N+1 unlocks
// when chapter N's last challenge completes.
type ChapterDefinition struct {
	ID         int                   `json:"id" yaml:"id"`
	Title      string                `json:"title,omitempty" yaml:"title,omitempty"`
	Challenges []ChallengeDefinition `json:"challenges" yaml:"challenges"`
	Rewards    []RewardSpec          `json:"rewards,omitempty" yaml:"rewards,omitempty"`
}

// ChallengeIDs returns the challenge ids in unlock order.
func (c ChapterDefinition) ChallengeIDs() []string {
	ids := make([]string, len(c.Challenges))
	for i, ch := range c.Challenges {
		ids[i] = ch.ID
	}
	return ids
}
