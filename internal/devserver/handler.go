// Package devserver implements a small in-memory bookmarks collection server
// used for development and end-to-end testing of the sync engine. It speaks
// the same HTTP protocol the transport client expects: JWT device
// authentication, watermark-based fetches and batched uploads.
package devserver

import (
	"time"

	"github.com/MKhiriev/go-mark-sync/internal/logger"
)

// issuer is the iss claim stamped into every token the devserver signs.
const issuer = "mark-sync-devserver"

// Config holds the devserver's token settings.
type Config struct {
	// SignKey is the HMAC secret used to sign and verify device tokens.
	SignKey string

	// TokenTTL is how long an issued token stays valid. Defaults to one
	// hour when unset.
	TokenTTL time.Duration
}

type Handler struct {
	collection *Collection
	cfg        Config

	logger *logger.Logger
}

func NewHandler(collection *Collection, cfg Config, logger *logger.Logger) *Handler {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}

	logger.Info().Msg("devserver handler created")
	return &Handler{
		collection: collection,
		cfg:        cfg,
		logger:     logger,
	}
}
