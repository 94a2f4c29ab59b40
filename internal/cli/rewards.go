package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/questbook/pkg/types"
)

func newRewardsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rewards",
		Short: "Grant and inspect rewards",
	}
	cmd.AddCommand(newRewardsGrantCmd(flags))
	cmd.AddCommand(newRewardsBalanceCmd(flags))
	cmd.AddCommand(newRewardsReceiptCmd(flags))
	cmd.AddCommand(newRewardsResetCmd(flags))
	return cmd
}

// grantFlags collects an explicit reward list from flags.
type grantFlags struct {
	xp, currency, rare int64
	items, abilities   []string
}

func (g grantFlags) specs() []types.RewardSpec {
	var out []types.RewardSpec
	if g.xp != 0 {
		out = append(out, types.RewardSpec{Kind: types.RewardXP, Amount: g.xp})
	}
	if g.currency != 0 {
		out = append(out, types.RewardSpec{Kind: types.RewardCurrency, Amount: g.currency})
	}
	if g.rare != 0 {
		out = append(out, types.RewardSpec{Kind: types.RewardRareCurrency, Amount: g.rare})
	}
	for _, id := range g.items {
		out = append(out, types.RewardSpec{Kind: types.RewardItem, ID: id})
	}
	for _, id := range g.abilities {
		out = append(out, types.RewardSpec{Kind: types.RewardAbility, ID: id})
	}
	return out
}

func newRewardsGrantCmd(flags *rootFlags) *cobra.Command {
	var g grantFlags
	cmd := &cobra.Command{
		Use:   "grant <user-id> <challenge-id>",
		Short: "Grant a challenge's rewards exactly once",
		Long: "Grant rewards for a challenge. Without reward flags the challenge's catalog\n" +
			"rewards are used. A second grant for the same challenge returns the stored\n" +
			"receipt unchanged.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, challengeID := args[0], args[1]
			return withApp(flags, func(a *app) error {
				rewards := g.specs()
				if len(rewards) == 0 {
					def, _, ok := a.catalog.Challenge(challengeID)
					if !ok {
						return usagef("challenge %q is not in the catalog; pass reward flags", challengeID)
					}
					rewards = def.Rewards
				}
				res, err := a.ledger.GrantRewards(cmd.Context(), userID, challengeID, rewards)
				if err != nil {
					return err
				}
				return emit(cmd, flags, res, func(w io.Writer) {
					switch {
					case res.AlreadyClaimed:
						fmt.Fprintf(w, "%s already claimed at %s\n", challengeID, res.ClaimedAt.Format("2006-01-02 15:04:05"))
					case res.Granted.IsZero():
						fmt.Fprintln(w, "nothing to grant")
						return
					default:
						fmt.Fprintf(w, "granted %s to %s\n", challengeID, userID)
					}
					printSnapshot(w, res.Granted)
					if len(res.Skipped) > 0 {
						fmt.Fprintf(w, "  skipped:       %s\n", strings.Join(res.Skipped, ", "))
					}
				})
			})
		},
	}
	cmd.Flags().Int64Var(&g.xp, "xp", 0, "xp to grant")
	cmd.Flags().Int64Var(&g.currency, "currency", 0, "currency to grant")
	cmd.Flags().Int64Var(&g.rare, "rare", 0, "rare currency to grant")
	cmd.Flags().StringSliceVar(&g.items, "item", nil, "item id to grant (repeatable)")
	cmd.Flags().StringSliceVar(&g.abilities, "ability", nil, "ability id (accepted, not stored)")
	return cmd
}

func newRewardsBalanceCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Display balances, vault and inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				acct, err := a.ledger.Balances(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return emit(cmd, flags, acct, func(w io.Writer) {
					fmt.Fprintf(w, "user %s\n", args[0])
					if b := acct.Balance; b != nil {
						fmt.Fprintf(w, "  xp: %d  currency: %d  rare: %d\n", b.XP, b.Currency, b.RareCurrency)
					}
					if v := acct.Vault; v != nil {
						fmt.Fprintf(w, "  vault: %d/%d\n", v.Balance, v.Capacity)
					}
					if inv := acct.Inventory; inv != nil {
						for _, it := range inv.Items {
							fmt.Fprintf(w, "  item %s (from %s)\n", it.ID, it.GrantedByChallenge)
						}
					}
				})
			})
		},
	}
}

func newRewardsReceiptCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "receipt <user-id> <challenge-id>",
		Short: "Display the claim receipt for a challenge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				rec, ok, err := a.ledger.Receipt(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if !ok {
					return types.NotFound("cli.receipt", "no receipt for %s/%s", args[0], args[1])
				}
				return emit(cmd, flags, rec, func(w io.Writer) {
					fmt.Fprintf(w, "%s claimed %s at %s\n", rec.UserID, rec.ChallengeID, rec.ClaimedAt.Format("2006-01-02 15:04:05"))
					printSnapshot(w, rec.RewardsSnapshot)
				})
			})
		},
	}
}

func newRewardsResetCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <user-id> <challenge-id>",
		Short: "Delete a claim receipt so the challenge can be granted again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				removed, err := a.ledger.ResetClaim(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return emit(cmd, flags, map[string]bool{"removed": removed}, func(w io.Writer) {
					if removed {
						fmt.Fprintf(w, "reset claim %s for %s\n", args[1], args[0])
					} else {
						fmt.Fprintln(w, "no claim to reset")
					}
				})
			})
		},
	}
}
