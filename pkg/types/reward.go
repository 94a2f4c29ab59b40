package types

import "time"

// RewardSnapshot is what a grant was worth. Receipts store the nominal
// amounts, independent of vault clipping.
type RewardSnapshot struct {
	XP           int64    `json:"xp"`
	Currency     int64    `json:"currency"`
	RareCurrency int64    `json:"rareCurrency"`
	Items        []string `json:"items"`
}

// IsZero reports whether the snapshot grants nothing.
func (s RewardSnapshot) IsZero() bool {
	return s.XP == 0 && s.Currency == 0 && s.RareCurrency == 0 && len(s.Items) == 0
}

// RewardClaimReceipt is the idempotency record for (UserID, ChallengeID).
// Once Claimed it is never mutated; only reset tooling may delete it.
type RewardClaimReceipt struct {
	UserID          string         `json:"userId"`
	ChallengeID     string         `json:"challengeId"`
	Claimed         bool           `json:"claimed"`
	ClaimedAt       time.Time      `json:"claimedAt"`
	RewardsSnapshot RewardSnapshot `json:"rewardsSnapshot"`
}

// BalanceAggregate holds a user's numeric balances.
type BalanceAggregate struct {
	UserID       string    `json:"userId"`
	XP           int64     `json:"xp"`
	Currency     int64     `json:"currency"`
	RareCurrency int64     `json:"rareCurrency"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// VaultBalance mirrors currency into a capped container.
// Balance never exceeds Capacity.
type VaultBalance struct {
	UserID    string    `json:"userId"`
	Balance   int64     `json:"balance"`
	Capacity  int64     `json:"capacity"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Credit adds amount to the vault, clipping at Capacity. It returns the
// amount actually stored.
func (v *VaultBalance) Credit(amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	next := v.Balance + amount
	if next > v.Capacity {
		next = v.Capacity
	}
	if next < v.Balance {
		return 0
	}
	stored := next - v.Balance
	v.Balance = next
	return stored
}

// OwnedItem is one inventory entry with its provenance.
type OwnedItem struct {
	ID                 string    `json:"id"`
	GrantedByChallenge string    `json:"grantedByChallenge,omitempty"`
	GrantedAt          time.Time `json:"grantedAt"`
}

// Inventory is the set of items a user owns. Item ids are canonical.
type Inventory struct {
	UserID    string      `json:"userId"`
	Items     []OwnedItem `json:"items"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Owns reports whether the canonical item id is present.
func (inv *Inventory) Owns(canonicalID string) bool {
	for _, it := range inv.Items {
		if it.ID == canonicalID {
			return true
		}
	}
	return false
}

// RewardAnomaly flags a single grant above the configured thresholds.
// It is observability only.
type RewardAnomaly struct {
	UserID      string         `json:"userId"`
	ChallengeID string         `json:"challengeId"`
	Granted     RewardSnapshot `json:"granted"`
	Reasons     []string       `json:"reasons"`
	FlaggedAt   time.Time      `json:"flaggedAt"`
}
