package config

import (
	"flag"
	"time"
)

// ParseFlags parses all configuration flags.
//
// Flags:
//
//	-d database path of the local places DB
//	-a sync server base URL
//	-device-id device identifier presented to the sync server
//	-c/-config json file path with configs
//	-request-timeout transport timeout (e.g., "30s", "1m")
//	-sync-interval pause between daemon-mode sync cycles (e.g., "5m")
//	-daemon keep running and sync periodically
//	-chunk-target wall-clock budget per transaction chunk
func ParseFlags() *Config {
	var databaseDSN string
	var serverBaseURL string
	var deviceID string
	var jsonConfigPath string
	var requestTimeout time.Duration
	var syncInterval time.Duration
	var daemon bool
	var chunkTarget time.Duration

	flag.StringVar(&databaseDSN, "d", "", "Local places database path")
	flag.StringVar(&serverBaseURL, "a", "", "Sync server base URL")
	flag.StringVar(&deviceID, "device-id", "", "Device identifier presented to the sync server")
	flag.StringVar(&jsonConfigPath, "c", "", "JSON config file path")
	flag.StringVar(&jsonConfigPath, "config", "", "JSON config file path (alias)")
	flag.DurationVar(&requestTimeout, "request-timeout", 0, "Transport request timeout (e.g., 30s, 1m)")
	flag.DurationVar(&syncInterval, "sync-interval", 0, "Daemon-mode sync interval (e.g., 5m)")
	flag.BoolVar(&daemon, "daemon", false, "Keep running and sync periodically")
	flag.DurationVar(&chunkTarget, "chunk-target", 0, "Wall-clock budget per transaction chunk")

	flag.Parse()

	cfg := &Config{JSONFilePath: jsonConfigPath}
	cfg.Storage.DB.DSN = databaseDSN
	cfg.Server.BaseURL = serverBaseURL
	cfg.Server.DeviceID = deviceID
	cfg.Server.RequestTimeout = requestTimeout
	cfg.Engine.ChunkTarget = chunkTarget
	cfg.Workers.SyncInterval = syncInterval
	cfg.Workers.Daemon = daemon

	return cfg
}
