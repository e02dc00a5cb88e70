// Package utils provides small helpers shared across go-mark-sync: sync GUID
// generation, URL hashing and normalisation primitives registered as SQLite
// scalar functions, and typed context keys.
package utils

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/MKhiriev/go-mark-sync/models"
)

// NewGuid generates a fresh random sync GUID: 9 random bytes, base64url
// encoded into exactly 12 characters. The result always satisfies
// [models.Guid.IsValid].
func NewGuid() (models.Guid, error) {
	var raw [9]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("error generating guid: %w", err)
	}

	return models.Guid(base64.RawURLEncoding.EncodeToString(raw[:])), nil
}
