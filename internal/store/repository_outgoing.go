package store

import (
	"context"
	"fmt"

	"github.com/MKhiriev/go-mark-sync/internal/logger"
	"github.com/MKhiriev/go-mark-sync/models"
)

// outgoingRepository is the SQLite-backed implementation of
// [OutgoingRepository]. Staged rows survive process restarts, so an upload
// interrupted mid-flight resumes from the same snapshot.
type outgoingRepository struct {
	*DB
	logger *logger.Logger
}

// NewOutgoingRepository constructs an [OutgoingRepository] backed by db.
func NewOutgoingRepository(db *DB, log *logger.Logger) OutgoingRepository {
	return &outgoingRepository{
		DB:     db,
		logger: log,
	}
}

func (o *outgoingRepository) StageItem(ctx context.Context, q Querier, rec models.OutgoingRecord, changeCounter int64, weak bool) error {
	if _, err := q.ExecContext(ctx, stageOutgoingItem,
		string(rec.Guid), string(rec.Payload), changeCounter, weak); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	return nil
}

func (o *outgoingRepository) StageTombstone(ctx context.Context, q Querier, guid models.Guid) error {
	if _, err := q.ExecContext(ctx, stageOutgoingTombstone, string(guid)); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	return nil
}

func (o *outgoingRepository) ClearStaged(ctx context.Context, q Querier) error {
	if _, err := q.ExecContext(ctx, clearOutgoingItems); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}
	if _, err := q.ExecContext(ctx, clearOutgoingTombstones); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	return nil
}

func (o *outgoingRepository) ListStaged(ctx context.Context) ([]models.OutgoingRecord, []models.Guid, error) {
	log := logger.FromContext(ctx)

	rows, err := o.DB.QueryContext(ctx, getOutgoingItems)
	if err != nil {
		log.Err(err).
			Str("func", "outgoingRepository.ListStaged").
			Msg("failed to query staged outgoing items")
		return nil, nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	records := make([]models.OutgoingRecord, 0, 16)

	for rows.Next() {
		var rec models.OutgoingRecord
		var payload string

		if scanErr := rows.Scan(&rec.Guid, &payload); scanErr != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrScanningRow, scanErr)
		}

		rec.Payload = []byte(payload)
		records = append(records, rec)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrScanningRows, rowsErr)
	}

	tombstoneRows, err := o.DB.QueryContext(ctx, getOutgoingTombstones)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer tombstoneRows.Close()

	tombstones := make([]models.Guid, 0, 8)

	for tombstoneRows.Next() {
		var g models.Guid
		if scanErr := tombstoneRows.Scan(&g); scanErr != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrScanningRow, scanErr)
		}
		tombstones = append(tombstones, g)
	}
	if rowsErr := tombstoneRows.Err(); rowsErr != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrScanningRows, rowsErr)
	}

	return records, tombstones, nil
}

// DecrementCounters subtracts from each item's change counter exactly the
// value snapshot at stage time, floored at zero. Weak uploads stage with a
// zero counter, so this is a no-op for them.
func (o *outgoingRepository) DecrementCounters(ctx context.Context, q Querier, guids []models.Guid) error {
	return EachChunk(len(guids), MaxVariables, func(lo, hi int) error {
		query, args, err := buildDecrementCountersQuery(guids[lo:hi])
		if err != nil {
			return err
		}

		if _, err = q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}

		return nil
	})
}

// FoldUploadedItems makes the mirror match what the server just confirmed:
// the uploaded items' mirror rows are rebuilt from the local table, along
// with their structure claims and tag relations. unknown_fields is left
// alone because the uploaded payload re-emitted it verbatim.
func (o *outgoingRepository) FoldUploadedItems(ctx context.Context, q Querier, guids []models.Guid, serverModified int64) error {
	log := logger.FromContext(ctx)

	return EachChunk(len(guids), MaxVariables-1, func(lo, hi int) error {
		chunk := guids[lo:hi]
		in := Placeholders(len(chunk))
		inArgs := GuidArgs(chunk)

		fold := `INSERT INTO synced_items(guid, parent_guid, server_modified, needs_merge,
				kind, date_added, title, keyword, validity, place_id)
			SELECT b.guid, p.guid, ?, 0, b.kind, b.date_added, NULLIF(b.title, ''),
				(SELECT k.keyword FROM keywords k WHERE k.place_id = b.place_id),
				1, b.place_id
			FROM bookmarks b
			LEFT JOIN bookmarks p ON p.id = b.parent_id
			WHERE b.guid IN (` + in + `)
			ON CONFLICT(guid) DO UPDATE SET
				parent_guid = excluded.parent_guid,
				server_modified = excluded.server_modified,
				needs_merge = 0,
				is_overridden = 0,
				kind = excluded.kind,
				date_added = excluded.date_added,
				title = excluded.title,
				keyword = excluded.keyword,
				validity = 1,
				place_id = excluded.place_id;`

		if _, err := q.ExecContext(ctx, fold, append([]any{serverModified}, inArgs...)...); err != nil {
			log.Err(err).
				Str("func", "outgoingRepository.FoldUploadedItems").
				Int("count", len(chunk)).
				Msg("failed to fold uploaded items into mirror")
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}

		// The server now knows these items: they stop counting as new, so a
		// later remote delete wins unless the item changes again locally.
		setNormal := `UPDATE bookmarks SET sync_status = ? WHERE guid IN (` + in + `);`
		if _, err := q.ExecContext(ctx, setNormal,
			append([]any{int64(models.StatusNormal)}, inArgs...)...); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}

		statements := []string{
			`DELETE FROM synced_tombstones WHERE guid IN (` + in + `);`,
			`DELETE FROM synced_structure WHERE parent_guid IN (` + in + `);`,
			`INSERT OR REPLACE INTO synced_structure(parent_guid, guid, position)
				SELECT p.guid, c.guid, c.position
				FROM bookmarks c
				JOIN bookmarks p ON p.id = c.parent_id
				WHERE p.guid IN (` + in + `);`,
			`DELETE FROM synced_tag_relation WHERE item_id IN (
				SELECT id FROM synced_items WHERE guid IN (` + in + `));`,
			`INSERT OR IGNORE INTO synced_tag_relation(item_id, tag_id)
				SELECT v.id, r.tag_id
				FROM synced_items v
				JOIN tag_relation r ON r.place_id = v.place_id
				WHERE v.guid IN (` + in + `);`,
		}

		for _, stmt := range statements {
			if _, err := q.ExecContext(ctx, stmt, inArgs...); err != nil {
				return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
			}
		}

		return nil
	})
}

// FoldUploadedTombstones records the server's acknowledgment of our
// deletions: the mirror rows disappear, confirmed tombstones replace them
// and the local pending tombstones are released.
func (o *outgoingRepository) FoldUploadedTombstones(ctx context.Context, q Querier, guids []models.Guid, serverModified int64) error {
	return EachChunk(len(guids), MaxVariables-1, func(lo, hi int) error {
		chunk := guids[lo:hi]
		in := Placeholders(len(chunk))
		inArgs := GuidArgs(chunk)

		statements := []struct {
			sql  string
			args []any
		}{
			{`DELETE FROM synced_structure WHERE parent_guid IN (` + in + `) OR guid IN (` + in + `);`,
				append(append([]any{}, inArgs...), inArgs...)},
			{`DELETE FROM synced_items WHERE guid IN (` + in + `);`, inArgs},
			{`INSERT OR REPLACE INTO synced_tombstones(guid, server_modified, needs_merge)
				SELECT guid, ?, 0 FROM tombstones WHERE guid IN (` + in + `);`,
				append([]any{serverModified}, inArgs...)},
			{`DELETE FROM tombstones WHERE guid IN (` + in + `);`, inArgs},
		}

		for _, stmt := range statements {
			if _, err := q.ExecContext(ctx, stmt.sql, stmt.args...); err != nil {
				return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
			}
		}

		return nil
	})
}

// DropStaged removes acknowledged records from the outgoing tables. Must run
// after DecrementCounters, which reads the staged counter snapshots.
func (o *outgoingRepository) DropStaged(ctx context.Context, q Querier, guids []models.Guid) error {
	return EachChunk(len(guids), MaxVariables, func(lo, hi int) error {
		chunk := guids[lo:hi]
		in := Placeholders(len(chunk))
		args := GuidArgs(chunk)

		if _, err := q.ExecContext(ctx,
			`DELETE FROM outgoing_items WHERE guid IN (`+in+`);`, args...); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}
		if _, err := q.ExecContext(ctx,
			`DELETE FROM outgoing_tombstones WHERE guid IN (`+in+`);`, args...); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}

		return nil
	})
}

// RecalculateStaleFrecencies recomputes ranking scores for at most limit
// places flagged during apply, then unflags them. Returns how many places
// were processed so the caller can loop until zero.
func (o *outgoingRepository) RecalculateStaleFrecencies(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 64
	}

	rows, err := o.DB.QueryContext(ctx, getStaleFrecencyPlaces, limit)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	placeIDs := make([]int64, 0, limit)
	for rows.Next() {
		var id int64
		if scanErr := rows.Scan(&id); scanErr != nil {
			return 0, fmt.Errorf("%w: %w", ErrScanningRow, scanErr)
		}
		placeIDs = append(placeIDs, id)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return 0, fmt.Errorf("%w: %w", ErrScanningRows, rowsErr)
	}

	if len(placeIDs) == 0 {
		return 0, nil
	}

	tx, err := o.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}
	defer tx.Rollback()

	in := Placeholders(len(placeIDs))
	args := make([]any, len(placeIDs))
	for i, id := range placeIDs {
		args[i] = id
	}

	// The score is proportional to how many bookmarks reference the place.
	if _, err = tx.ExecContext(ctx,
		`UPDATE places
		SET frecency = (SELECT COUNT(*) * 100 FROM bookmarks b WHERE b.place_id = places.id)
		WHERE id IN (`+in+`);`, args...); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM stale_frecencies WHERE place_id IN (`+in+`);`, args...); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return 0, fmt.Errorf("%w: %w", ErrCommitingTransaction, commitErr)
	}

	return len(placeIDs), nil
}
