// Package sqlite exposes the SQLite document store to programs outside this
// module while keeping the implementation internal.
package sqlite

import (
	"context"

	"github.com/mesh-intelligence/questbook/internal/sqlite"
	"github.com/mesh-intelligence/questbook/pkg/types"
)

// Open creates a SQLite document store under cfg.DataDir and applies
// migrations. Callers must Detach it when done.
//
// Example:
//
//	store, err := sqlite.Open(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".questbook-db",
//	    Tx:      types.DefaultConfig().Tx,
//	    Lobby:   types.DefaultConfig().Lobby,
//	})
//	defer store.Detach()
func Open(cfg types.Config) (types.DocumentStore, error) {
	b, err := sqlite.Open(cfg)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Export writes every collection of store to <dir>/<collection>.jsonl.
func Export(ctx context.Context, store types.DocumentStore, dir string) (int, error) {
	return sqlite.Export(ctx, store, dir)
}

// Import loads <dir>/<collection>.jsonl files into store.
func Import(ctx context.Context, store types.DocumentStore, dir string) (int, error) {
	return sqlite.Import(ctx, store, dir)
}
