package cli

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/questbook/internal/catalog"
	"github.com/mesh-intelligence/questbook/internal/clock"
	"github.com/mesh-intelligence/questbook/internal/config"
	"github.com/mesh-intelligence/questbook/internal/ledger"
	"github.com/mesh-intelligence/questbook/internal/lobby"
	"github.com/mesh-intelligence/questbook/internal/logger"
	"github.com/mesh-intelligence/questbook/internal/memstore"
	"github.com/mesh-intelligence/questbook/internal/notify"
	"github.com/mesh-intelligence/questbook/internal/paths"
	"github.com/mesh-intelligence/questbook/internal/progression"
	"github.com/mesh-intelligence/questbook/internal/sqlite"
	"github.com/mesh-intelligence/questbook/internal/txn"
	"github.com/mesh-intelligence/questbook/pkg/types"
)

// app is the wired engine for one CLI invocation.
type app struct {
	cfg       types.Config
	configDir string
	log       *logger.Logger
	store     types.DocumentStore
	runner    *txn.Runner
	catalog   *catalog.Catalog
	events    notify.Publisher

	progression *progression.Engine
	ledger      *ledger.Engine
	lobbies     *lobby.Registry
}

// loadConfig resolves directories and loads configuration with the CLI
// overrides applied.
func loadConfig(flags *rootFlags) (types.Config, string, error) {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return types.Config{}, "", fmt.Errorf("resolve config dir: %w", err)
	}
	cfg, err := config.Load(configDir)
	if err != nil {
		return types.Config{}, "", err
	}
	if flags.backend != "" {
		cfg.Backend = flags.backend
		if err := cfg.Validate(); err != nil {
			return types.Config{}, "", usagef("invalid --backend %q: %v", flags.backend, err)
		}
	}
	cfg.DataDir, err = paths.ResolveDataDir(flags.dataDir, cfg.DataDir)
	if err != nil {
		return types.Config{}, "", fmt.Errorf("resolve data dir: %w", err)
	}
	return cfg, configDir, nil
}

func newLogger(mode string) (*logger.Logger, error) {
	switch strings.ToLower(mode) {
	case "off", "none", "nop":
		return logger.NewNop(), nil
	}
	return logger.New(mode)
}

// openApp wires store, runner, catalog, publisher and the three engines.
// The caller must call close.
func openApp(flags *rootFlags) (*app, error) {
	cfg, configDir, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	clk := clock.NewMonotonic()
	var store types.DocumentStore
	switch cfg.Backend {
	case types.BackendMemory:
		store = memstore.New(memstore.WithClock(clk))
	default:
		b, err := sqlite.Open(cfg, sqlite.WithClock(clk), sqlite.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("attach backend: %w", err)
		}
		store = b
	}

	a := &app{cfg: cfg, configDir: configDir, log: log, store: store}
	if err := a.wire(clk); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(clk clock.Clock) error {
	cat, err := catalog.LoadOrDefault(a.cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	a.catalog = cat

	events, err := notify.New(a.log, a.cfg.Notify)
	if err != nil {
		return fmt.Errorf("connect notifier: %w", err)
	}
	a.events = events

	a.runner = txn.NewRunner(a.store, a.cfg.Tx, txn.WithLogger(a.log))

	if a.progression, err = progression.New(progression.Deps{
		Runner: a.runner, Catalog: cat, Clock: clk, Log: a.log, Events: events,
	}); err != nil {
		return err
	}
	if a.ledger, err = ledger.New(ledger.Deps{
		Runner: a.runner, Canonicalizer: cat.Canonicalizer(), Config: a.cfg.Ledger,
		Clock: clk, Log: a.log, Events: events,
	}); err != nil {
		return err
	}
	a.lobbies, err = lobby.New(lobby.Deps{
		Runner: a.runner, Config: a.cfg.Lobby, Clock: clk, Log: a.log, Events: events,
	})
	return err
}

// close waits for background reward checks, then releases the publisher and
// the store.
func (a *app) close() {
	if a.ledger != nil {
		a.ledger.Wait()
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.log.Warn("close notifier", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Detach(); err != nil {
			a.log.Warn("detach store", "error", err)
		}
	}
	a.log.Sync()
}

// withApp opens the app, runs fn and closes the app.
func withApp(flags *rootFlags, fn func(a *app) error) error {
	a, err := openApp(flags)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}
