package config

import (
	"os"
	"time"
)

// Config is the top-level configuration container for go-mark-sync. It is
// populated by merging values from environment variables, command-line flags
// and an optional JSON file (in that order; later sources fill gaps, they do
// not override).
//
// Struct tags:
//   - envPrefix: prefix applied to nested env tag lookups (caarlos0/env).
//   - env: direct environment variable name for scalar fields.
type Config struct {
	// Storage holds the local places database settings.
	Storage Storage `envPrefix:"STORAGE_"`

	// Server holds the sync server address and transport timeouts.
	Server Server `envPrefix:"SERVER_"`

	// Engine holds merge/apply tuning knobs.
	Engine Engine `envPrefix:"ENGINE_"`

	// Workers holds background sync job settings for daemon mode.
	Workers Workers `envPrefix:"WORKERS_"`

	// JSONFilePath is the optional path to a JSON configuration file,
	// merged on top of env and flag values when non-empty.
	// Populated via the CONFIG environment variable or the -c / -config flag.
	JSONFilePath string `env:"CONFIG"`
}

// Storage groups local persistence settings.
type Storage struct {
	DB DB `envPrefix:"DB_"`
}

// DB holds the SQLite connection settings for the places database.
type DB struct {
	// DSN is the SQLite file path (":memory:" is rejected by validation:
	// sync metadata must survive restarts).
	// Env: STORAGE_DB_DATABASE_URI
	DSN string `env:"DATABASE_URI"`
}

// Server holds the sync server transport settings.
type Server struct {
	// BaseURL is the root URL of the bookmark collection endpoint.
	// Env: SERVER_ADDRESS
	BaseURL string `env:"ADDRESS"`

	// RequestTimeout bounds every transport round-trip.
	// Env: SERVER_REQUEST_TIMEOUT
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"`

	// DeviceID identifies this client to the sync server when requesting
	// tokens. Defaults to the hostname when unset.
	// Env: SERVER_DEVICE_ID
	DeviceID string `env:"DEVICE_ID"`
}

// Engine holds chunking limits for the interruptible transactions.
type Engine struct {
	// ChunkTarget is the wall-clock budget of one transaction chunk, so a
	// concurrent reader sees forward progress. Defaults to 1s when unset.
	// Env: ENGINE_CHUNK_TARGET
	ChunkTarget time.Duration `env:"CHUNK_TARGET"`
}

// Workers holds the periodic sync job settings.
type Workers struct {
	// SyncInterval is the pause between sync cycles in daemon mode.
	// Env: WORKERS_SYNC_INTERVAL
	SyncInterval time.Duration `env:"SYNC_INTERVAL"`

	// Daemon keeps the process alive and syncs periodically instead of
	// running a single cycle.
	// Env: WORKERS_DAEMON
	Daemon bool `env:"DAEMON"`
}

// validate checks that the final merged Config satisfies the engine's
// startup invariants.
func (cfg *Config) validate() error {
	if cfg.Storage.DB.DSN == "" || cfg.Storage.DB.DSN == ":memory:" {
		return ErrInvalidStorageConfigs
	}

	if cfg.Server.BaseURL == "" || cfg.Server.RequestTimeout <= 0 {
		return ErrInvalidServerConfigs
	}

	return nil
}

// applyDefaults fills tuning knobs that are optional in every source.
func (cfg *Config) applyDefaults() {
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 15 * time.Second
	}
	if cfg.Server.DeviceID == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "mark-sync-client"
		}
		cfg.Server.DeviceID = hostname
	}
	if cfg.Engine.ChunkTarget == 0 {
		cfg.Engine.ChunkTarget = time.Second
	}
	if cfg.Workers.SyncInterval == 0 {
		cfg.Workers.SyncInterval = 5 * time.Minute
	}
}
