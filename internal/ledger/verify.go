package ledger

import (
	"context"
	"slices"

	"github.com/mesh-intelligence/questbook/internal/notify"
	"github.com/mesh-intelligence/questbook/internal/txn"
	"github.com/mesh-intelligence/questbook/pkg/types"
)

// afterCommit starts the post-commit verification read and the large-reward
// check without blocking the caller. Neither can change the committed grant.
func (e *Engine) afterCommit(ctx context.Context, userID, challengeID string, granted types.RewardSnapshot) {
	ctx = context.WithoutCancel(ctx)
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		if e.cfg.VerifyTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.cfg.VerifyTimeout)
			defer cancel()
		}
		e.verify(ctx, userID, challengeID, granted)
		e.flagAnomaly(ctx, userID, challengeID, granted)
	}()
}

// verify re-reads the committed receipt and balances and logs mismatches.
func (e *Engine) verify(ctx context.Context, userID, challengeID string, granted types.RewardSnapshot) {
	store := e.runner.Store()

	var receipt types.RewardClaimReceipt
	ok, err := store.Get(ctx, types.ReceiptRef(userID, challengeID), &receipt)
	switch {
	case err != nil:
		e.log.Warn("reward verification read failed", "user_id", userID, "challenge_id", challengeID, "error", err)
		return
	case !ok:
		// A reset may have removed it since; nothing to compare.
		e.log.Warn("reward verification: receipt missing", "user_id", userID, "challenge_id", challengeID)
		return
	case !receipt.Claimed || !sameSnapshot(receipt.RewardsSnapshot, granted):
		e.log.Warn("reward verification: receipt mismatch", "user_id", userID, "challenge_id", challengeID)
	}

	if granted.XP > 0 || granted.RareCurrency > 0 {
		var bal types.BalanceAggregate
		if ok, err := store.Get(ctx, types.BalanceRef(userID), &bal); err == nil && ok {
			if bal.XP < granted.XP || bal.RareCurrency < granted.RareCurrency {
				e.log.Warn("reward verification: balance below granted amount", "user_id", userID,
					"challenge_id", challengeID, "xp", bal.XP, "rare_currency", bal.RareCurrency)
			}
		}
	}
	if len(granted.Items) > 0 {
		var inv types.Inventory
		if ok, err := store.Get(ctx, types.InventoryRef(userID), &inv); err == nil && ok {
			for _, id := range granted.Items {
				if !inv.Owns(id) {
					e.log.Warn("reward verification: item missing", "user_id", userID,
						"challenge_id", challengeID, "item", id)
				}
			}
		}
	}
}

// anomalyReasons lists the thresholds a grant exceeds. A zero threshold is
// disabled.
func (e *Engine) anomalyReasons(granted types.RewardSnapshot) []string {
	var reasons []string
	if t := e.cfg.LargeXPThreshold; t > 0 && granted.XP > t {
		reasons = append(reasons, "xp above threshold")
	}
	if t := e.cfg.LargeCurrencyThreshold; t > 0 && granted.Currency > t {
		reasons = append(reasons, "currency above threshold")
	}
	return reasons
}

func (e *Engine) flagAnomaly(ctx context.Context, userID, challengeID string, granted types.RewardSnapshot) {
	reasons := e.anomalyReasons(granted)
	if len(reasons) == 0 {
		return
	}
	e.log.Warn("large reward granted", "user_id", userID, "challenge_id", challengeID,
		"xp", granted.XP, "currency", granted.Currency, "reasons", reasons)

	now := e.clock.Now()
	err := txn.Do(ctx, e.runner, "ledger.flag_anomaly", func(tx types.Tx) error {
		return tx.Set(types.AnomalyRef(userID, challengeID), types.RewardAnomaly{
			UserID:      userID,
			ChallengeID: challengeID,
			Granted:     granted,
			Reasons:     reasons,
			FlaggedAt:   now,
		})
	})
	if err != nil {
		e.log.Warn("anomaly flag write failed", "user_id", userID, "challenge_id", challengeID, "error", err)
		return
	}
	notify.Emit(ctx, e.events, e.log, notify.Event{
		Type: notify.RewardAnomaly, UserID: userID, ChallengeID: challengeID, Data: reasons, At: now,
	})
}

func sameSnapshot(a, b types.RewardSnapshot) bool {
	return a.XP == b.XP && a.Currency == b.Currency && a.RareCurrency == b.RareCurrency &&
		slices.Equal(a.Items, b.Items)
}
