package store

import (
	"context"
	"fmt"
	"time"

	"github.com/MKhiriev/go-mark-sync/internal/logger"
	"github.com/MKhiriev/go-mark-sync/models"
)

// mirrorRepository is the SQLite-backed implementation of
// [MirrorRepository]. The synced_* tables double as the mirror of the last
// confirmed server state and as the staging area for the current batch:
// rows written this cycle carry needs_merge=1 until the applier clears it.
type mirrorRepository struct {
	*DB
	logger *logger.Logger
}

// NewMirrorRepository constructs a [MirrorRepository] backed by db.
func NewMirrorRepository(db *DB, log *logger.Logger) MirrorRepository {
	return &mirrorRepository{
		DB:     db,
		logger: log,
	}
}

// UpsertItem stages one decoded remote item. Re-staging the same GUID within
// a batch keeps only the newest write, and an item row displaces any staged
// tombstone for that GUID. REPLACE INTO recreates the row, so tag relations
// attached to the old row id are dropped by the cascade and rewritten here.
func (m *mirrorRepository) UpsertItem(ctx context.Context, q Querier, rec *models.StagedRecord) error {
	log := logger.FromContext(ctx)

	url := ""
	if rec.HasURL {
		url = rec.URL
		if err := insertPlace(ctx, q, url); err != nil {
			return err
		}
	}

	_, err := q.ExecContext(ctx, upsertSyncedItem,
		string(rec.Guid),
		string(rec.ParentGuid),
		rec.ServerModified,
		int(rec.Kind),
		rec.DateAdded,
		rec.Title,
		rec.Keyword,
		int(rec.Validity),
		url, url, url,
		string(rec.UnknownFields),
	)
	if err != nil {
		log.Err(err).
			Str("func", "mirrorRepository.UpsertItem").
			Str("guid", rec.Guid.String()).
			Msg("failed to upsert staged remote item")
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	if _, err = q.ExecContext(ctx, deleteSyncedTombstone, string(rec.Guid)); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	now := time.Now().UnixMilli()
	for _, tag := range rec.Tags {
		if _, err = q.ExecContext(ctx, insertTagIfMissing, tag, now); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}
		if _, err = q.ExecContext(ctx, insertSyncedTagRelation, string(rec.Guid), tag); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}
	}

	return nil
}

// UpsertTombstone stages one remote deletion, displacing any staged item row
// and structure claims for the same GUID.
func (m *mirrorRepository) UpsertTombstone(ctx context.Context, q Querier, guid models.Guid, serverModified int64) error {
	if _, err := q.ExecContext(ctx, deleteSyncedItem, string(guid)); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}
	if _, err := q.ExecContext(ctx, deleteSyncedStructureForParent, string(guid)); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}
	if _, err := q.ExecContext(ctx, upsertSyncedTombstone, string(guid), serverModified); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	return nil
}

// ReplaceStructure replaces a staged folder's child list. Inserts are split
// so no statement exceeds the bind-parameter cap.
func (m *mirrorRepository) ReplaceStructure(ctx context.Context, q Querier, folder models.Guid, children []models.Guid) error {
	if _, err := q.ExecContext(ctx, deleteSyncedStructureForParent, string(folder)); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	// 3 parameters per row.
	return EachChunk(len(children), MaxVariables/3, func(lo, hi int) error {
		query := `INSERT OR REPLACE INTO synced_structure(parent_guid, guid, position) VALUES `
		args := make([]any, 0, (hi-lo)*3)

		for i := lo; i < hi; i++ {
			if i > lo {
				query += ", "
			}
			query += "(?, ?, ?)"
			args = append(args, string(folder), string(children[i]), i)
		}

		if _, err := q.ExecContext(ctx, query+";", args...); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}

		return nil
	})
}

func (m *mirrorRepository) FetchItems(ctx context.Context) ([]SyncedItemRow, error) {
	log := logger.FromContext(ctx)

	rows, err := m.DB.QueryContext(ctx, getAllSyncedItems)
	if err != nil {
		log.Err(err).
			Str("func", "mirrorRepository.FetchItems").
			Msg("failed to query synced items")
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	results := make([]SyncedItemRow, 0, 64)

	for rows.Next() {
		var row SyncedItemRow
		var unknown string

		scanErr := rows.Scan(
			&row.ID,
			&row.Guid,
			&row.ParentGuid,
			&row.ServerModified,
			&row.NeedsMerge,
			&row.IsOverridden,
			&row.Kind,
			&row.DateAdded,
			&row.Title,
			&row.Keyword,
			&row.Validity,
			&row.PlaceID,
			&row.URL,
			&unknown,
		)
		if scanErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRow, scanErr)
		}

		if unknown != "" {
			row.UnknownFields = []byte(unknown)
		}

		results = append(results, row)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, rowsErr)
	}

	return results, nil
}

func (m *mirrorRepository) FetchStructure(ctx context.Context) ([]StructureRow, error) {
	rows, err := m.DB.QueryContext(ctx, getSyncedStructure)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	results := make([]StructureRow, 0, 64)

	for rows.Next() {
		var row StructureRow
		if scanErr := rows.Scan(&row.Guid, &row.ParentGuid, &row.Position); scanErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRow, scanErr)
		}
		results = append(results, row)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, rowsErr)
	}

	return results, nil
}

func (m *mirrorRepository) FetchTombstones(ctx context.Context) ([]SyncedTombstoneRow, error) {
	rows, err := m.DB.QueryContext(ctx, getSyncedTombstones)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	results := make([]SyncedTombstoneRow, 0, 8)

	for rows.Next() {
		var row SyncedTombstoneRow
		if scanErr := rows.Scan(&row.Guid, &row.ServerModified, &row.NeedsMerge); scanErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRow, scanErr)
		}
		results = append(results, row)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, rowsErr)
	}

	return results, nil
}

func (m *mirrorRepository) FetchTagsByItem(ctx context.Context) (map[int64]TagSet, error) {
	rows, err := m.DB.QueryContext(ctx, getSyncedTagsByItem)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	tagsByItem := make(map[int64]TagSet)

	for rows.Next() {
		var itemID, tagID int64
		var tag string

		if scanErr := rows.Scan(&itemID, &tagID, &tag); scanErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRow, scanErr)
		}

		set := tagsByItem[itemID]
		set.Tags = append(set.Tags, tag)
		set.IDSum += tagID
		tagsByItem[itemID] = set
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, rowsErr)
	}

	return tagsByItem, nil
}

func (m *mirrorRepository) FlagDivergences(ctx context.Context) (int64, error) {
	log := logger.FromContext(ctx)

	var flagged int64

	res, err := m.DB.ExecContext(ctx, flagKeywordDivergence)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}
	if n, affErr := res.RowsAffected(); affErr == nil {
		flagged += n
	}

	res, err = m.DB.ExecContext(ctx, flagTagDivergence)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}
	if n, affErr := res.RowsAffected(); affErr == nil {
		flagged += n
	}

	if flagged > 0 {
		log.Info().
			Str("func", "mirrorRepository.FlagDivergences").
			Int64("flagged", flagged).
			Msg("flagged diverged mirror rows for reupload")
	}

	return flagged, nil
}

// Clear drops all mirror state. Used when the sync association changes and
// the mirror is no longer meaningful.
func (m *mirrorRepository) Clear(ctx context.Context) error {
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM synced_tag_relation;`,
		`DELETE FROM synced_structure;`,
		`DELETE FROM synced_items;`,
		`DELETE FROM synced_tombstones;`,
	} {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("%w: %w", ErrCommitingTransaction, commitErr)
	}

	return nil
}
