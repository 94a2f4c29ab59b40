package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/questbook/internal/config"
	"github.com/mesh-intelligence/questbook/internal/paths"
	"github.com/mesh-intelligence/questbook/pkg/types"
)

func newInitCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize questbook storage",
		Long:  "Create the configuration directory with a default config.yaml, then attach the storage backend.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, err := paths.ResolveConfigDir(flags.configDir)
			if err != nil {
				return fmt.Errorf("resolve config dir: %w", err)
			}
			if _, err := config.EnsureDefaultFile(configDir); err != nil {
				return err
			}
			return withApp(flags, func(a *app) error {
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "questbook initialized")
				fmt.Fprintln(out, "  config: ", a.configDir)
				fmt.Fprintln(out, "  backend:", a.cfg.Backend)
				if a.cfg.Backend == types.BackendSQLite {
					fmt.Fprintln(out, "  data:   ", a.cfg.DataDir)
				}
				return nil
			})
		},
	}
}
