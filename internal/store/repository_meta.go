package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/MKhiriev/go-mark-sync/internal/logger"
)

// Keys of the sync_meta key-value table. Engines must use distinct keys per
// collection because collections are reset individually.
const (
	MetaLastServerTS     = "last_server_ts"
	MetaGlobalSyncID     = "global_sync_id"
	MetaCollectionSyncID = "collection_sync_id"

	metaChangeToken = "change_token"
	metaApplyGuard  = "apply_guard"
)

// metaRepository is the SQLite-backed implementation of [MetaRepository].
type metaRepository struct {
	*DB
	logger *logger.Logger
}

// NewMetaRepository constructs a [MetaRepository] backed by db.
func NewMetaRepository(db *DB, log *logger.Logger) MetaRepository {
	return &metaRepository{
		DB:     db,
		logger: log,
	}
}

func (m *metaRepository) GetString(ctx context.Context, key string) (string, error) {
	var value string
	err := m.DB.QueryRowContext(ctx, getMeta, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrMetaNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	return value, nil
}

func (m *metaRepository) GetInt64(ctx context.Context, key string) (int64, error) {
	raw, err := m.GetString(ctx, key)
	if err != nil {
		return 0, err
	}

	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sync meta key %s holds non-integer value %q: %w", key, raw, err)
	}

	return value, nil
}

func (m *metaRepository) Put(ctx context.Context, key string, value any) error {
	if _, err := m.DB.ExecContext(ctx, putMeta, key, fmt.Sprint(value)); err != nil {
		m.logger.Err(err).
			Str("func", "metaRepository.Put").
			Str("key", key).
			Msg("failed to write sync meta")
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	return nil
}

func (m *metaRepository) Delete(ctx context.Context, key string) error {
	if _, err := m.DB.ExecContext(ctx, deleteMeta, key); err != nil {
		m.logger.Err(err).
			Str("func", "metaRepository.Delete").
			Str("key", key).
			Msg("failed to delete sync meta")
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	return nil
}

func (m *metaRepository) ChangeToken(ctx context.Context, q Querier) (int64, error) {
	var token int64
	if err := q.QueryRowContext(ctx, getMeta, metaChangeToken).Scan(&token); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	return token, nil
}

func (m *metaRepository) SetApplyGuard(ctx context.Context, q Querier, on bool) error {
	guard := 0
	if on {
		guard = 1
	}

	if _, err := q.ExecContext(ctx, putMeta, metaApplyGuard, strconv.Itoa(guard)); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	return nil
}
