// Package ledger grants virtual rewards exactly once per (user, challenge).
// The claim receipt is written in the same transaction as the balance
// documents it describes, so a receipt always matches what was applied.
package ledger

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/mesh-intelligence/questbook/internal/canon"
	"github.com/mesh-intelligence/questbook/internal/clock"
	"github.com/mesh-intelligence/questbook/internal/logger"
	"github.com/mesh-intelligence/questbook/internal/notify"
	"github.com/mesh-intelligence/questbook/internal/txn"
	"github.com/mesh-intelligence/questbook/pkg/types"
)

// Deps wires an Engine. Runner is required.
type Deps struct {
	Runner        *txn.Runner
	Canonicalizer *canon.Canonicalizer
	Config        types.LedgerConfig
	Clock         clock.Clock
	Log           *logger.Logger
	Events        notify.Publisher
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
	if d.Canonicalizer == nil {
		d.Canonicalizer = canon.New(nil)
	}
	return d
}

// Engine is the reward ledger.
type Engine struct {
	runner *txn.Runner
	canon  *canon.Canonicalizer
	cfg    types.LedgerConfig
	clock  clock.Clock
	log    *logger.Logger
	events notify.Publisher

	// background tracks post-commit verification and anomaly flagging.
	background sync.WaitGroup
}

// New builds an Engine.
func New(deps Deps) (*Engine, error) {
	if deps.Runner == nil {
		return nil, errors.New("ledger: runner is required")
	}
	deps = deps.withDefaults()
	return &Engine{
		runner: deps.Runner,
		canon:  deps.Canonicalizer,
		cfg:    deps.Config,
		clock:  deps.Clock,
		log:    deps.Log.With("service", "RewardLedger"),
		events: deps.Events,
	}, nil
}

// GrantResult is the outcome of GrantRewards. Granted is the receipt snapshot.
type GrantResult struct {
	AlreadyClaimed bool                 `json:"alreadyClaimed"`
	Granted        types.RewardSnapshot `json:"granted"`
	ClaimedAt      time.Time            `json:"claimedAt,omitzero"`
	// Skipped names documents that did not exist and were left untouched.
	Skipped []string `json:"skipped,omitempty"`
}

// plan is the supported, validated part of a reward list.
type plan struct {
	xp, currency, rare int64
	items              []string // canonical, unique
}

func (p plan) isZero() bool {
	return p.xp == 0 && p.currency == 0 && p.rare == 0 && len(p.items) == 0
}

// partition validates rewards and sums the supported kinds. Unsupported kinds
// are logged and dropped.
func (e *Engine) partition(op, userID, challengeID string, rewards []types.RewardSpec) (plan, error) {
	var p plan
	seen := make(map[string]bool)
	add := func(dst *int64, r types.RewardSpec) error {
		if r.Amount < 0 {
			return types.Validation(op, "reward %s has negative amount %d", r.Kind, r.Amount)
		}
		if *dst > math.MaxInt64-r.Amount {
			return types.Validation(op, "reward %s total overflows", r.Kind)
		}
		*dst += r.Amount
		return nil
	}

	for _, r := range rewards {
		var err error
		switch r.Kind {
		case types.RewardXP:
			err = add(&p.xp, r)
		case types.RewardCurrency:
			err = add(&p.currency, r)
		case types.RewardRareCurrency:
			err = add(&p.rare, r)
		case types.RewardItem:
			id := e.canon.ItemID(r.ID)
			if id == "" {
				return plan{}, types.Validation(op, "item reward has no usable id (%q)", r.ID)
			}
			if !seen[id] {
				seen[id] = true
				p.items = append(p.items, id)
			}
		default:
			e.log.Debug("ignoring unsupported reward kind", "kind", r.Kind, "user_id", userID, "challenge_id", challengeID)
		}
		if err != nil {
			return plan{}, err
		}
	}
	return p, nil
}

// applied is what one committed attempt wrote.
type applied struct {
	result      GrantResult
	vaultStored int64
}

// GrantRewards applies rewards for (userID, challengeID) at most once. Every
// later call, concurrent or not, returns the stored snapshot with
// AlreadyClaimed set.
func (e *Engine) GrantRewards(ctx context.Context, userID, challengeID string, rewards []types.RewardSpec) (GrantResult, error) {
	const op = "ledger.grant_rewards"
	userID = strings.TrimSpace(userID)
	challengeID = strings.TrimSpace(challengeID)
	if userID == "" || challengeID == "" {
		return GrantResult{}, types.Validation(op, "user id and challenge id are required")
	}

	p, err := e.partition(op, userID, challengeID, rewards)
	if err != nil {
		return GrantResult{}, err
	}
	if p.isZero() {
		return GrantResult{}, nil
	}

	out, err := txn.Run(ctx, e.runner, op, func(tx types.Tx) (applied, error) {
		return e.grant(tx, op, userID, challengeID, p)
	})
	if err != nil {
		return GrantResult{}, err
	}

	res := out.result
	if res.AlreadyClaimed {
		e.log.Debug("reward already claimed", "user_id", userID, "challenge_id", challengeID)
		return res, nil
	}

	for _, doc := range res.Skipped {
		e.log.Warn("reward document missing, grant skipped for it", "user_id", userID,
			"challenge_id", challengeID, "document", doc)
	}
	if res.Granted.Currency > 0 && out.vaultStored < res.Granted.Currency {
		e.log.Info("vault clipped at capacity", "user_id", userID, "challenge_id", challengeID,
			"nominal", res.Granted.Currency, "stored", out.vaultStored)
	}
	e.log.Info("rewards granted", "user_id", userID, "challenge_id", challengeID,
		"xp", res.Granted.XP, "currency", res.Granted.Currency,
		"rare_currency", res.Granted.RareCurrency, "items", len(res.Granted.Items))
	notify.Emit(ctx, e.events, e.log, notify.Event{
		Type: notify.RewardsGranted, UserID: userID, ChallengeID: challengeID,
		Data: res.Granted, At: res.ClaimedAt,
	})

	e.afterCommit(ctx, userID, challengeID, res.Granted)
	return res, nil
}

// grant is one transaction attempt.
func (e *Engine) grant(tx types.Tx, op, userID, challengeID string, p plan) (applied, error) {
	var receipt types.RewardClaimReceipt
	ok, err := tx.Get(types.ReceiptRef(userID, challengeID), &receipt)
	if err != nil {
		return applied{}, err
	}
	if ok && receipt.Claimed {
		return applied{result: GrantResult{
			AlreadyClaimed: true,
			Granted:        receipt.RewardsSnapshot,
			ClaimedAt:      receipt.ClaimedAt,
		}}, nil
	}

	now := e.clock.Now()
	var (
		snap    types.RewardSnapshot
		skipped []string
		stored  int64
		wrote   bool
	)

	if p.xp > 0 || p.currency > 0 || p.rare > 0 {
		var bal types.BalanceAggregate
		ok, err := tx.Get(types.BalanceRef(userID), &bal)
		if err != nil {
			return applied{}, err
		}
		if ok {
			bal.XP = saturatingAdd(bal.XP, p.xp)
			bal.Currency = saturatingAdd(bal.Currency, p.currency)
			bal.RareCurrency = saturatingAdd(bal.RareCurrency, p.rare)
			bal.UpdatedAt = now
			if err := tx.Set(types.BalanceRef(userID), bal); err != nil {
				return applied{}, err
			}
			snap.XP, snap.Currency, snap.RareCurrency = p.xp, p.currency, p.rare
			wrote = true
		} else {
			skipped = append(skipped, types.CollectionBalances)
		}
	}

	if p.currency > 0 {
		var vault types.VaultBalance
		ok, err := tx.Get(types.VaultRef(userID), &vault)
		if err != nil {
			return applied{}, err
		}
		if ok {
			stored = vault.Credit(p.currency)
			vault.UpdatedAt = now
			if err := tx.Set(types.VaultRef(userID), vault); err != nil {
				return applied{}, err
			}
			snap.Currency = p.currency
			wrote = true
		} else {
			skipped = append(skipped, types.CollectionVaults)
		}
	}

	if len(p.items) > 0 {
		var inv types.Inventory
		ok, err := tx.Get(types.InventoryRef(userID), &inv)
		if err != nil {
			return applied{}, err
		}
		if ok {
			owned := make(map[string]bool, len(inv.Items))
			for _, it := range inv.Items {
				owned[e.canon.ItemID(it.ID)] = true
			}
			for _, id := range p.items {
				if owned[id] {
					continue
				}
				inv.Items = append(inv.Items, types.OwnedItem{ID: id, GrantedByChallenge: challengeID, GrantedAt: now})
				snap.Items = append(snap.Items, id)
			}
			inv.UpdatedAt = now
			if err := tx.Set(types.InventoryRef(userID), inv); err != nil {
				return applied{}, err
			}
			wrote = true
		} else {
			skipped = append(skipped, types.CollectionInventories)
		}
	}

	if !wrote {
		return applied{}, types.NotFound(op, "no reward documents for user %q", userID)
	}

	receipt = types.RewardClaimReceipt{
		UserID:          userID,
		ChallengeID:     challengeID,
		Claimed:         true,
		ClaimedAt:       now,
		RewardsSnapshot: snap,
	}
	if err := tx.Set(types.ReceiptRef(userID, challengeID), receipt); err != nil {
		return applied{}, err
	}
	return applied{
		result:      GrantResult{Granted: snap, ClaimedAt: now, Skipped: skipped},
		vaultStored: stored,
	}, nil
}

// Wait blocks until background verification and anomaly flagging finish.
func (e *Engine) Wait() {
	e.background.Wait()
}

func saturatingAdd(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
