package store

import "github.com/MKhiriev/go-mark-sync/internal/logger"

// NewStorages wires all repositories over one database connection.
func NewStorages(db *DB, log *logger.Logger) Storages {
	return Storages{
		DB:        db,
		Meta:      NewMetaRepository(db, log),
		Bookmarks: NewBookmarksRepository(db, log),
		Mirror:    NewMirrorRepository(db, log),
		Apply:     NewApplyRepository(db, log),
		Outgoing:  NewOutgoingRepository(db, log),
	}
}
