package ledger

import (
	"context"
	"strings"

	"github.com/mesh-intelligence/questbook/internal/txn"
	"github.com/mesh-intelligence/questbook/pkg/types"
)

// Account is a consistent read of a user's reward documents. Absent
// documents are nil.
type Account struct {
	Balance   *types.BalanceAggregate `json:"balance,omitempty"`
	Vault     *types.VaultBalance     `json:"vault,omitempty"`
	Inventory *types.Inventory        `json:"inventory,omitempty"`
}

// OpenAccount creates whichever of the balance, vault and inventory documents
// are missing. capacity 0 uses the configured default. It returns true when
// anything was created.
func (e *Engine) OpenAccount(ctx context.Context, userID string, capacity int64) (bool, error) {
	const op = "ledger.open_account"
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, types.Validation(op, "user id is required")
	}
	if capacity < 0 {
		return false, types.Validation(op, "vault capacity must not be negative")
	}
	if capacity == 0 {
		capacity = e.cfg.DefaultVaultCapacity
	}

	created, err := txn.Run(ctx, e.runner, op, func(tx types.Tx) (bool, error) {
		now := e.clock.Now()
		created := false
		docs := []struct {
			ref   types.DocRef
			value any
		}{
			{types.BalanceRef(userID), types.BalanceAggregate{UserID: userID, UpdatedAt: now}},
			{types.VaultRef(userID), types.VaultBalance{UserID: userID, Capacity: capacity, UpdatedAt: now}},
			{types.InventoryRef(userID), types.Inventory{UserID: userID, Items: []types.OwnedItem{}, UpdatedAt: now}},
		}
		for _, d := range docs {
			var raw map[string]any
			ok, err := tx.Get(d.ref, &raw)
			if err != nil {
				return false, err
			}
			if ok {
				continue
			}
			if err := tx.Set(d.ref, d.value); err != nil {
				return false, err
			}
			created = true
		}
		return created, nil
	})
	if err != nil {
		return false, err
	}
	if created {
		e.log.Info("reward account opened", "user_id", userID, "vault_capacity", capacity)
	}
	return created, nil
}

// Balances reads the user's reward documents in one transaction.
func (e *Engine) Balances(ctx context.Context, userID string) (Account, error) {
	const op = "ledger.balances"
	return txn.Run(ctx, e.runner, op, func(tx types.Tx) (Account, error) {
		var (
			acct Account
			bal  types.BalanceAggregate
			v    types.VaultBalance
			inv  types.Inventory
		)
		if ok, err := tx.Get(types.BalanceRef(userID), &bal); err != nil {
			return Account{}, err
		} else if ok {
			acct.Balance = &bal
		}
		if ok, err := tx.Get(types.VaultRef(userID), &v); err != nil {
			return Account{}, err
		} else if ok {
			acct.Vault = &v
		}
		if ok, err := tx.Get(types.InventoryRef(userID), &inv); err != nil {
			return Account{}, err
		} else if ok {
			acct.Inventory = &inv
		}
		if acct.Balance == nil && acct.Vault == nil && acct.Inventory == nil {
			return Account{}, types.NotFound(op, "no reward account for user %q", userID)
		}
		return acct, nil
	})
}

// Receipt returns the claim receipt for (userID, challengeID), if any.
func (e *Engine) Receipt(ctx context.Context, userID, challengeID string) (*types.RewardClaimReceipt, bool, error) {
	var r types.RewardClaimReceipt
	ok, err := e.runner.Store().Get(ctx, types.ReceiptRef(userID, challengeID), &r)
	if err != nil || !ok {
		return nil, false, err
	}
	return &r, true, nil
}

// ResetClaim deletes the receipt and any anomaly flag for (userID,
// challengeID) so the reward can be granted again. Balances are not rolled
// back. It returns false when there was no receipt.
func (e *Engine) ResetClaim(ctx context.Context, userID, challengeID string) (bool, error) {
	const op = "ledger.reset_claim"
	userID = strings.TrimSpace(userID)
	challengeID = strings.TrimSpace(challengeID)
	if userID == "" || challengeID == "" {
		return false, types.Validation(op, "user id and challenge id are required")
	}

	existed, err := txn.Run(ctx, e.runner, op, func(tx types.Tx) (bool, error) {
		var r types.RewardClaimReceipt
		ok, err := tx.Get(types.ReceiptRef(userID, challengeID), &r)
		if err != nil || !ok {
			return false, err
		}
		if err := tx.Delete(types.ReceiptRef(userID, challengeID)); err != nil {
			return false, err
		}
		return true, tx.Delete(types.AnomalyRef(userID, challengeID))
	})
	if err != nil {
		return false, err
	}
	if existed {
		e.log.Warn("reward claim reset", "user_id", userID, "challenge_id", challengeID)
	}
	return existed, nil
}
