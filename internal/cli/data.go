package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/questbook/internal/sqlite"
)

func newExportCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "export <dir>",
		Short: "Write every document to <dir>/<collection>.jsonl",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				n, err := sqlite.Export(cmd.Context(), a.store, args[0])
				if err != nil {
					return err
				}
				return emit(cmd, flags, map[string]int{"exported": n}, func(w io.Writer) {
					fmt.Fprintf(w, "exported %d document(s) to %s\n", n, args[0])
				})
			})
		},
	}
}

func newImportCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <dir>",
		Short: "Load <dir>/<collection>.jsonl files, replacing documents with the same id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				n, err := sqlite.Import(cmd.Context(), a.store, args[0])
				if err != nil {
					return err
				}
				return emit(cmd, flags, map[string]int{"imported": n}, func(w io.Writer) {
					fmt.Fprintf(w, "imported %d document(s) from %s\n", n, args[0])
				})
			})
		},
	}
}
