package config

import "errors"

// Validation errors returned by [Config.validate]. Callers should match them
// with [errors.Is].
var (
	// ErrInvalidStorageConfigs is returned when the places DB path is
	// missing or points at an in-memory database.
	ErrInvalidStorageConfigs = errors.New("invalid storage configs")

	// ErrInvalidServerConfigs is returned when the sync server address or
	// timeout is unusable.
	ErrInvalidServerConfigs = errors.New("invalid server configs")
)
