package types

import (
	"errors"
	"time"
)

// Config holds backend selection and engine tuning for questbook.
// Fields carry mapstructure tags for config.yaml and env tags for the
// QUESTBOOK_* environment overlay.
type Config struct {
	Backend     string `json:"backend" yaml:"backend" mapstructure:"backend" env:"QUESTBOOK_BACKEND"`
	DataDir     string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	CatalogPath string `json:"catalog_path" yaml:"catalog_path" mapstructure:"catalog_path" env:"QUESTBOOK_CATALOG"`
	LogMode     string `json:"log_mode" yaml:"log_mode" mapstructure:"log_mode" env:"QUESTBOOK_LOG_MODE"`

	Tx     TxConfig     `json:"tx" yaml:"tx" mapstructure:"tx" envPrefix:"QUESTBOOK_TX_"`
	Ledger LedgerConfig `json:"ledger" yaml:"ledger" mapstructure:"ledger" envPrefix:"QUESTBOOK_LEDGER_"`
	Lobby  LobbyConfig  `json:"lobby" yaml:"lobby" mapstructure:"lobby" envPrefix:"QUESTBOOK_LOBBY_"`
	Notify NotifyConfig `json:"notify" yaml:"notify" mapstructure:"notify" envPrefix:"QUESTBOOK_NOTIFY_"`
}

// TxConfig bounds the optimistic retry loop around every atomic operation.
type TxConfig struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts" env:"MAX_ATTEMPTS"`
	BaseBackoff time.Duration `json:"base_backoff" yaml:"base_backoff" mapstructure:"base_backoff" env:"BASE_BACKOFF"`
	MaxBackoff  time.Duration `json:"max_backoff" yaml:"max_backoff" mapstructure:"max_backoff" env:"MAX_BACKOFF"`
}

// LedgerConfig controls reward anomaly detection and account provisioning.
type LedgerConfig struct {
	LargeXPThreshold       int64         `json:"large_xp_threshold" yaml:"large_xp_threshold" mapstructure:"large_xp_threshold" env:"LARGE_XP_THRESHOLD"`
	LargeCurrencyThreshold int64         `json:"large_currency_threshold" yaml:"large_currency_threshold" mapstructure:"large_currency_threshold" env:"LARGE_CURRENCY_THRESHOLD"`
	DefaultVaultCapacity   int64         `json:"default_vault_capacity" yaml:"default_vault_capacity" mapstructure:"default_vault_capacity" env:"DEFAULT_VAULT_CAPACITY"`
	VerifyTimeout          time.Duration `json:"verify_timeout" yaml:"verify_timeout" mapstructure:"verify_timeout" env:"VERIFY_TIMEOUT"`
}

// LobbyConfig controls lobby sizing and staleness eviction.
type LobbyConfig struct {
	DefaultMaxPlayers int           `json:"default_max_players" yaml:"default_max_players" mapstructure:"default_max_players" env:"DEFAULT_MAX_PLAYERS"`
	StaleAfter        time.Duration `json:"stale_after" yaml:"stale_after" mapstructure:"stale_after" env:"STALE_AFTER"`
	SweepParallelism  int           `json:"sweep_parallelism" yaml:"sweep_parallelism" mapstructure:"sweep_parallelism" env:"SWEEP_PARALLELISM"`
}

// NotifyConfig selects where unlock and grant events are published.
// An empty RedisAddr publishes to the log only.
type NotifyConfig struct {
	RedisAddr string `json:"redis_addr" yaml:"redis_addr" mapstructure:"redis_addr" env:"REDIS_ADDR"`
	Channel   string `json:"channel" yaml:"channel" mapstructure:"channel" env:"CHANNEL"`
}

// Supported backend names.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config validation errors.
var (
	ErrBackendEmpty       = errors.New("backend must not be empty")
	ErrBackendUnknown     = errors.New("unknown backend")
	ErrMaxAttemptsInvalid = errors.New("tx max attempts must be positive")
	ErrBackoffInvalid     = errors.New("tx backoff must not be negative")
	ErrThresholdInvalid   = errors.New("ledger thresholds must not be negative")
	ErrCapacityInvalid    = errors.New("vault capacity must not be negative")
	ErrStaleAfterInvalid  = errors.New("lobby stale_after must be positive")
	ErrMaxPlayersInvalid  = errors.New("lobby max players must be positive")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite: true,
	BackendMemory: true,
}

// DefaultConfig returns the configuration used when config.yaml and the
// environment leave a field unset.
func DefaultConfig() Config {
	return Config{
		Backend: BackendSQLite,
		LogMode: "development",
		Tx: TxConfig{
			MaxAttempts: 8,
			BaseBackoff: 5 * time.Millisecond,
			MaxBackoff:  250 * time.Millisecond,
		},
		Ledger: LedgerConfig{
			LargeXPThreshold:       5000,
			LargeCurrencyThreshold: 50000,
			DefaultVaultCapacity:   100000,
			VerifyTimeout:          5 * time.Second,
		},
		Lobby: LobbyConfig{
			DefaultMaxPlayers: 4,
			StaleAfter:        10 * time.Minute,
			SweepParallelism:  8,
		},
		Notify: NotifyConfig{
			Channel: "questbook.events",
		},
	}
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if c.Tx.MaxAttempts <= 0 {
		return ErrMaxAttemptsInvalid
	}
	if c.Tx.BaseBackoff < 0 || c.Tx.MaxBackoff < 0 {
		return ErrBackoffInvalid
	}
	if c.Ledger.LargeXPThreshold < 0 || c.Ledger.LargeCurrencyThreshold < 0 {
		return ErrThresholdInvalid
	}
	if c.Ledger.DefaultVaultCapacity < 0 {
		return ErrCapacityInvalid
	}
	if c.Lobby.StaleAfter <= 0 {
		return ErrStaleAfterInvalid
	}
	if c.Lobby.DefaultMaxPlayers <= 0 {
		return ErrMaxPlayersInvalid
	}
	return nil
}
