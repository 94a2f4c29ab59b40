// Package cli implements the questbook command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/questbook/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	backend   string
	jsonMode  bool
}

// NewRootCmd creates the top-level "questbook" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	var flags rootFlags
	root := &cobra.Command{
		Use:   "questbook",
		Short: "Transactional progression and reward ledger",
		Long: "questbook tracks chapter and challenge progression, grants rewards exactly\n" +
			"once per challenge, and manages capacity-bounded lobbies.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", "", "configuration directory (default: .questbook)")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "data directory (default: .questbook-db)")
	root.PersistentFlags().StringVar(&flags.backend, "backend", "", "storage backend override (sqlite or memory)")
	root.PersistentFlags().BoolVar(&flags.jsonMode, "json", false, "output in JSON format")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(&flags))
	root.AddCommand(newUserCmd(&flags))
	root.AddCommand(newProgressCmd(&flags))
	root.AddCommand(newRewardsCmd(&flags))
	root.AddCommand(newLobbyCmd(&flags))
	root.AddCommand(newExportCmd(&flags))
	root.AddCommand(newImportCmd(&flags))
	root.AddCommand(newEventsCmd(&flags))

	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "questbook:", err)
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode maps caller mistakes to exitUserError and everything else to
// exitSysError.
func exitCode(err error) int {
	switch types.CodeOf(err) {
	case types.CodeNotFound, types.CodeValidation, types.CodeNotJoinable:
		return exitUserError
	}
	var usage usageError
	if errors.As(err, &usage) {
		return exitUserError
	}
	return exitSysError
}

// usageError marks a bad argument detected by the CLI itself.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}
