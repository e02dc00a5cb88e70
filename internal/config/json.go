package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// jsonConfig mirrors [Config] with JSON tags and duration strings.
type jsonConfig struct {
	Storage struct {
		DB struct {
			DSN string `json:"dsn"`
		} `json:"db,omitempty"`
	} `json:"storage,omitempty"`

	Server struct {
		BaseURL        string   `json:"base_url"`
		DeviceID       string   `json:"device_id"`
		RequestTimeout Duration `json:"request_timeout"`
	} `json:"server,omitempty"`

	Engine struct {
		ChunkTarget Duration `json:"chunk_target"`
	} `json:"engine,omitempty"`

	Workers struct {
		SyncInterval Duration `json:"sync_interval"`
		Daemon       bool     `json:"daemon"`
	} `json:"workers,omitempty"`
}

// Duration wraps time.Duration so JSON configs can use strings like "30s".
type Duration time.Duration

// UnmarshalJSON accepts either a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		parsed, parseErr := time.ParseDuration(asString)
		if parseErr != nil {
			return fmt.Errorf("invalid duration %q: %w", asString, parseErr)
		}
		*d = Duration(parsed)
		return nil
	}

	var asNumber int64
	if err := json.Unmarshal(data, &asNumber); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(asNumber)

	return nil
}

// parseJSON reads the JSON config file at path and converts it into a
// partial [Config] suitable for merging.
func parseJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading json config file: %w", err)
	}

	var parsed jsonConfig
	if err = json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("error decoding json config file: %w", err)
	}

	cfg := &Config{}
	cfg.Storage.DB.DSN = parsed.Storage.DB.DSN
	cfg.Server.BaseURL = parsed.Server.BaseURL
	cfg.Server.DeviceID = parsed.Server.DeviceID
	cfg.Server.RequestTimeout = time.Duration(parsed.Server.RequestTimeout)
	cfg.Engine.ChunkTarget = time.Duration(parsed.Engine.ChunkTarget)
	cfg.Workers.SyncInterval = time.Duration(parsed.Workers.SyncInterval)
	cfg.Workers.Daemon = parsed.Workers.Daemon

	return cfg, nil
}
