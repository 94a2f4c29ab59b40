package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newUserCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	var capacity int64
	create := &cobra.Command{
		Use:   "create <user-id>",
		Short: "Create a user's progress record and reward documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := args[0]
			return withApp(flags, func(a *app) error {
				seeded, err := a.progression.SeedUser(cmd.Context(), userID)
				if err != nil {
					return err
				}
				opened, err := a.ledger.OpenAccount(cmd.Context(), userID, capacity)
				if err != nil {
					return err
				}
				result := map[string]any{"userId": userID, "progressCreated": seeded, "accountCreated": opened}
				return emit(cmd, flags, result, func(w io.Writer) {
					if !seeded && !opened {
						fmt.Fprintf(w, "user %s already exists\n", userID)
						return
					}
					fmt.Fprintf(w, "created user %s\n", userID)
				})
			})
		},
	}
	create.Flags().Int64Var(&capacity, "vault-capacity", 0, "vault capacity (default from config)")

	cmd.AddCommand(create)
	return cmd
}
