package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MKhiriev/go-mark-sync/internal/logger"
	"github.com/MKhiriev/go-mark-sync/models"
)

// bookmarksRepository is the SQLite-backed implementation of
// [BookmarksRepository]. It reads the authoritative local tree and performs
// the local mutations the embedding application issues between syncs.
type bookmarksRepository struct {
	*DB
	logger *logger.Logger
}

// NewBookmarksRepository constructs a [BookmarksRepository] backed by db.
func NewBookmarksRepository(db *DB, log *logger.Logger) BookmarksRepository {
	return &bookmarksRepository{
		DB:     db,
		logger: log,
	}
}

func (b *bookmarksRepository) FetchAll(ctx context.Context) ([]LocalRow, error) {
	log := logger.FromContext(ctx)

	rows, err := b.DB.QueryContext(ctx, getAllLocalRows)
	if err != nil {
		log.Err(err).
			Str("func", "bookmarksRepository.FetchAll").
			Msg("failed to query local bookmark rows")
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	results := make([]LocalRow, 0, 64)

	for rows.Next() {
		var row LocalRow

		scanErr := rows.Scan(
			&row.ID,
			&row.Guid,
			&row.ParentGuid,
			&row.Position,
			&row.Kind,
			&row.Title,
			&row.PlaceID,
			&row.URL,
			&row.Keyword,
			&row.DateAdded,
			&row.LastModified,
			&row.SyncStatus,
			&row.SyncChangeCounter,
		)
		if scanErr != nil {
			log.Err(scanErr).
				Str("func", "bookmarksRepository.FetchAll").
				Msg("failed to scan local bookmark row")
			return nil, fmt.Errorf("%w: %w", ErrScanningRow, scanErr)
		}

		results = append(results, row)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		log.Err(rowsErr).
			Str("func", "bookmarksRepository.FetchAll").
			Msg("error occurred during rows iteration")
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, rowsErr)
	}

	return results, nil
}

func (b *bookmarksRepository) FetchTagsByPlace(ctx context.Context) (map[int64]TagSet, error) {
	rows, err := b.DB.QueryContext(ctx, getLocalTagsByPlace)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	tagsByPlace := make(map[int64]TagSet)

	for rows.Next() {
		var placeID, tagID int64
		var tag string

		if scanErr := rows.Scan(&placeID, &tagID, &tag); scanErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRow, scanErr)
		}

		set := tagsByPlace[placeID]
		set.Tags = append(set.Tags, tag)
		set.IDSum += tagID
		tagsByPlace[placeID] = set
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, rowsErr)
	}

	return tagsByPlace, nil
}

func (b *bookmarksRepository) FetchTombstones(ctx context.Context) ([]models.Tombstone, error) {
	rows, err := b.DB.QueryContext(ctx, getLocalTombstones)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	tombstones := make([]models.Tombstone, 0, 8)

	for rows.Next() {
		var t models.Tombstone
		if scanErr := rows.Scan(&t.Guid, &t.DateRemoved); scanErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRow, scanErr)
		}
		tombstones = append(tombstones, t)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, rowsErr)
	}

	return tombstones, nil
}

func (b *bookmarksRepository) FetchChildrenGuids(ctx context.Context, folder models.Guid) ([]models.Guid, error) {
	rows, err := b.DB.QueryContext(ctx, getLocalChildrenGuids, string(folder))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	children := make([]models.Guid, 0, 8)

	for rows.Next() {
		var g models.Guid
		if scanErr := rows.Scan(&g); scanErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRow, scanErr)
		}
		children = append(children, g)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, rowsErr)
	}

	return children, nil
}

func (b *bookmarksRepository) HasLocalChanges(ctx context.Context) (bool, error) {
	var has bool
	if err := b.DB.QueryRowContext(ctx, hasLocalChanges).Scan(&has); err != nil {
		return false, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	return has, nil
}

func (b *bookmarksRepository) HasAnyChanges(ctx context.Context) (bool, error) {
	var has bool
	if err := b.DB.QueryRowContext(ctx, hasAnyChanges).Scan(&has); err != nil {
		return false, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	return has, nil
}

func (b *bookmarksRepository) CountOrphans(ctx context.Context) (int, error) {
	var count int
	if err := b.DB.QueryRowContext(ctx, countOrphans).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	return count, nil
}

// Insert adds a new item at the end of its parent folder. The item starts
// with sync_status=new and counter=1; the parent's counter is bumped because
// its child list changed.
func (b *bookmarksRepository) Insert(ctx context.Context, item *models.LocalItem) error {
	log := logger.FromContext(ctx)

	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}
	defer tx.Rollback()

	var parentID int64
	var parentKind models.Kind
	err = tx.QueryRowContext(ctx,
		`SELECT id, kind FROM bookmarks WHERE guid = ?;`, string(item.ParentGuid)).
		Scan(&parentID, &parentKind)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: parent %s", ErrItemNotFound, item.ParentGuid)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	if !parentKind.IsFolder() {
		return fmt.Errorf("%w: %s", ErrNotAFolder, item.ParentGuid)
	}

	placeID := sql.NullInt64{}
	if item.URL != "" {
		if err = insertPlace(ctx, tx, item.URL); err != nil {
			return err
		}
		if err = tx.QueryRowContext(ctx,
			`SELECT id FROM places WHERE url_hash = url_hash(?) AND url = ?;`,
			item.URL, item.URL).Scan(&placeID.Int64); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
		}
		placeID.Valid = true
	}

	var position int
	if err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookmarks WHERE parent_id = ?;`, parentID).Scan(&position); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO bookmarks(guid, parent_id, position, kind, title, place_id,
			date_added, last_modified, sync_status, sync_change_counter)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1);`,
		string(item.Guid), parentID, position, int(item.Kind), item.Title, placeID,
		item.DateAdded, item.LastModified, int(models.StatusNew))
	if err != nil {
		log.Err(err).
			Str("func", "bookmarksRepository.Insert").
			Str("guid", item.Guid.String()).
			Msg("failed to insert bookmark")
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}
	item.ID, _ = res.LastInsertId()
	item.Position = position
	item.SyncStatus = models.StatusNew
	item.SyncChangeCounter = 1

	// Re-creating a previously deleted GUID revives it; the tombstone must
	// not survive (tombstone exclusion invariant).
	if _, err = tx.ExecContext(ctx, `DELETE FROM tombstones WHERE guid = ?;`, string(item.Guid)); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE bookmarks SET sync_change_counter = sync_change_counter + 1 WHERE id = ?;`,
		parentID); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("%w: %w", ErrCommitingTransaction, commitErr)
	}

	return nil
}

func (b *bookmarksRepository) SetTitle(ctx context.Context, guid models.Guid, title string, nowMillis int64) error {
	res, err := b.DB.ExecContext(ctx,
		`UPDATE bookmarks
		SET title = ?, last_modified = ?, sync_change_counter = sync_change_counter + 1
		WHERE guid = ?;`,
		title, nowMillis, string(guid))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, guid)
	}

	return nil
}

// Delete removes an item (recursively for folders), closes the position gap
// among its siblings and records tombstones for items the server has seen.
func (b *bookmarksRepository) Delete(ctx context.Context, guid models.Guid, nowMillis int64) error {
	if guid.IsSyncableRoot() {
		return fmt.Errorf("%w: cannot delete root %s", ErrExecutingStatement, guid)
	}

	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}
	defer tx.Rollback()

	var id, parentID int64
	var position int
	err = tx.QueryRowContext(ctx,
		`SELECT id, parent_id, position FROM bookmarks WHERE guid = ?;`, string(guid)).
		Scan(&id, &parentID, &position)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrItemNotFound, guid)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	// Tombstones only make sense for items the server knows about; brand
	// new items just disappear.
	if _, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO tombstones(guid, date_removed)
		SELECT d.guid, ?
		FROM (
			WITH RECURSIVE descendants(id, guid) AS (
				SELECT id, guid FROM bookmarks WHERE id = ?
				UNION ALL
				SELECT b.id, b.guid FROM bookmarks b JOIN descendants d ON b.parent_id = d.id
			)
			SELECT id, guid FROM descendants
		) d
		JOIN bookmarks bd ON bd.id = d.id
		WHERE bd.sync_status = ?;`,
		nowMillis, id, int(models.StatusNormal)); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM bookmarks WHERE id IN (
			WITH RECURSIVE descendants(id) AS (
				SELECT id FROM bookmarks WHERE id = ?
				UNION ALL
				SELECT b.id FROM bookmarks b JOIN descendants d ON b.parent_id = d.id
			)
			SELECT id FROM descendants
		);`, id); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE bookmarks SET position = position - 1 WHERE parent_id = ? AND position > ?;`,
		parentID, position); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE bookmarks SET sync_change_counter = sync_change_counter + 1, last_modified = ? WHERE id = ?;`,
		nowMillis, parentID); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("%w: %w", ErrCommitingTransaction, commitErr)
	}

	return nil
}

// ResetSyncState forgets everything the server ever confirmed: every item
// goes back to sync_status=new with a positive change counter so the next
// cycle merges by content, and pending tombstones are dropped because the
// new generation never saw those GUIDs.
func (b *bookmarksRepository) ResetSyncState(ctx context.Context) error {
	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx,
		`UPDATE bookmarks
		SET sync_status = ?, sync_change_counter = MAX(sync_change_counter, 1);`,
		int(models.StatusNew)); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM tombstones;`); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("%w: %w", ErrCommitingTransaction, commitErr)
	}

	return nil
}

// WipeUserContent deletes every user item, keeping only the five roots, and
// drops all pending local sync state with them.
func (b *bookmarksRepository) WipeUserContent(ctx context.Context, nowMillis int64) error {
	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}
	defer tx.Rollback()

	roots := append([]models.Guid{models.RootGuid}, models.UserContentRoots...)
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM bookmarks WHERE guid NOT IN (`+Placeholders(len(roots))+`);`,
		GuidArgs(roots)...); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE bookmarks
		SET sync_status = ?, sync_change_counter = 1, last_modified = ?;`,
		int(models.StatusNew), nowMillis); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	for _, stmt := range []string{
		`DELETE FROM tombstones;`,
		`DELETE FROM keywords;`,
		`DELETE FROM tag_relation;`,
		`DELETE FROM stale_frecencies;`,
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

// insertPlace ensures a places row exists for url.
func insertPlace(ctx context.Context, q Querier, url string) error {
	if _, err := q.ExecContext(ctx, insertPlaceIfMissing, url, url, url, url); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}
	return nil
}
