package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/questbook/internal/ledger"
	"github.com/mesh-intelligence/questbook/internal/progression"
)

func newProgressCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Inspect and advance chapter progression",
	}
	cmd.AddCommand(newProgressShowCmd(flags))
	cmd.AddCommand(newProgressCompleteCmd(flags))
	cmd.AddCommand(newProgressRepairCmd(flags))
	return cmd
}

func newProgressShowCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Display a user's progress record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				rec, err := a.progression.Progress(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return emit(cmd, flags, rec, func(w io.Writer) { printProgress(w, rec) })
			})
		},
	}
}

func newProgressCompleteCmd(flags *rootFlags) *cobra.Command {
	var (
		chapterID int
		grant     bool
	)
	cmd := &cobra.Command{
		Use:   "complete <user-id> <challenge-id>",
		Short: "Mark a challenge completed and unlock what follows",
		Long: "Mark a challenge completed. The chapter defaults to the one the catalog\n" +
			"assigns the challenge to. With --grant the challenge's catalog rewards are\n" +
			"granted after the completion commits.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, challengeID := args[0], args[1]
			return withApp(flags, func(a *app) error {
				chapter := chapterID
				if chapter == 0 {
					id, ok := a.catalog.ChapterOf(challengeID)
					if !ok {
						return usagef("challenge %q is not in the catalog; pass --chapter", challengeID)
					}
					chapter = id
				}
				res, err := a.progression.CompleteChallenge(cmd.Context(), userID, chapter, challengeID)
				if err != nil {
					return err
				}

				out := struct {
					progression.Result
					Rewards *ledger.GrantResult `json:"rewards,omitempty"`
				}{Result: res}
				if grant {
					def, _, ok := a.catalog.Challenge(challengeID)
					if ok && len(def.Rewards) > 0 {
						g, err := a.ledger.GrantRewards(cmd.Context(), userID, challengeID, def.Rewards)
						if err != nil {
							return fmt.Errorf("grant rewards: %w", err)
						}
						out.Rewards = &g
					}
				}

				return emit(cmd, flags, out, func(w io.Writer) {
					if res.AlreadyCompleted {
						fmt.Fprintf(w, "%s already completed\n", challengeID)
					} else {
						fmt.Fprintf(w, "completed %s (chapter %d)\n", challengeID, chapter)
					}
					if res.ChallengeUnlocked != "" {
						fmt.Fprintf(w, "unlocked challenge %s\n", res.ChallengeUnlocked)
					}
					if res.ChapterCompleted {
						fmt.Fprintf(w, "chapter %d completed\n", chapter)
					}
					if res.ChapterUnlocked != 0 {
						fmt.Fprintf(w, "unlocked chapter %d\n", res.ChapterUnlocked)
					}
					if out.Rewards != nil && !out.Rewards.AlreadyClaimed {
						fmt.Fprintln(w, "rewards granted:")
						printSnapshot(w, out.Rewards.Granted)
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&chapterID, "chapter", 0, "chapter id (default: looked up in the catalog)")
	cmd.Flags().BoolVar(&grant, "grant", false, "grant the challenge's catalog rewards")
	return cmd
}

func newProgressRepairCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "repair <user-id>",
		Short: "Restore unlock invariants on a user's progress record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				res, err := a.progression.RepairProgression(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return emit(cmd, flags, res, func(w io.Writer) {
					if !res.Changed() {
						fmt.Fprintln(w, "progress is consistent")
						return
					}
					fmt.Fprintf(w, "repaired %d challenge(s), %d chapter(s)\n", res.ChallengesRepaired, res.ChaptersRepaired)
				})
			})
		},
	}
}
