package store

import (
	"context"
	"fmt"

	"github.com/MKhiriev/go-mark-sync/internal/logger"
	"github.com/MKhiriev/go-mark-sync/models"
)

// applyRepository is the SQLite-backed implementation of [ApplyRepository].
// Every method takes a Querier so the entire completion runs inside the
// applier's chunked transaction, with the change-token triggers suppressed
// by the apply guard.
type applyRepository struct {
	*DB
	logger *logger.Logger
}

// NewApplyRepository constructs an [ApplyRepository] backed by db.
func NewApplyRepository(db *DB, log *logger.Logger) ApplyRepository {
	return &applyRepository{
		DB:     db,
		logger: log,
	}
}

func (a *applyRepository) ChangeGuid(ctx context.Context, q Querier, change models.GuidChange, nowMillis int64) error {
	log := logger.FromContext(ctx)

	res, err := q.ExecContext(ctx, changeLocalGuid,
		string(change.NewGuid), change.SyncStatusNormal, nowMillis, string(change.LocalGuid))
	if err != nil {
		log.Err(err).
			Str("func", "applyRepository.ChangeGuid").
			Str("guid", change.LocalGuid.String()).
			Str("new_guid", change.NewGuid.String()).
			Msg("failed to rewrite local guid")
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, change.LocalGuid)
	}

	return nil
}

// FlagStaleFrecencies records the place ids whose frecency becomes stale
// because an upcoming remote upsert changes the item's URL. Both sides are
// captured: the URL the item is leaving and the URL it is moving to. Must
// run before UpsertRemoteItems overwrites place_id.
func (a *applyRepository) FlagStaleFrecencies(ctx context.Context, q Querier, guids []models.Guid, nowMillis int64) error {
	return EachChunk(len(guids), MaxVariables-1, func(lo, hi int) error {
		chunk := guids[lo:hi]
		in := Placeholders(len(chunk))
		args := append([]any{nowMillis}, GuidArgs(chunk)...)

		outgoing := `INSERT OR REPLACE INTO stale_frecencies(place_id, stale_at)
			SELECT b.place_id, ?
			FROM bookmarks b
			JOIN synced_items v ON v.guid = b.guid
			WHERE b.guid IN (` + in + `)
				AND b.place_id IS NOT NULL
				AND (v.place_id IS NULL OR v.place_id <> b.place_id);`

		if _, err := q.ExecContext(ctx, outgoing, args...); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}

		incoming := `INSERT OR REPLACE INTO stale_frecencies(place_id, stale_at)
			SELECT v.place_id, ?
			FROM synced_items v
			LEFT JOIN bookmarks b ON b.guid = v.guid
			WHERE v.guid IN (` + in + `)
				AND v.place_id IS NOT NULL
				AND (b.place_id IS NULL OR b.place_id <> v.place_id);`

		if _, err := q.ExecContext(ctx, incoming, args...); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}

		return nil
	})
}

// UpsertRemoteItems copies mirror content into the local table for the given
// GUIDs. New rows arrive detached (no parent, position -1) and are placed by
// ApplyStructure. On update the local dateAdded only moves backwards: the
// older of the two timestamps wins.
func (a *applyRepository) UpsertRemoteItems(ctx context.Context, q Querier, guids []models.Guid, nowMillis int64) error {
	log := logger.FromContext(ctx)

	return EachChunk(len(guids), MaxVariables-1, func(lo, hi int) error {
		chunk := guids[lo:hi]
		query := `INSERT INTO bookmarks(guid, parent_id, position, kind, title, place_id,
				date_added, last_modified, sync_status, sync_change_counter)
			SELECT v.guid, NULL, -1, v.kind, IFNULL(v.title, ''), v.place_id,
				v.date_added, ?, 2, 0
			FROM synced_items v
			WHERE v.guid IN (` + Placeholders(len(chunk)) + `)
			ON CONFLICT(guid) DO UPDATE SET
				kind = excluded.kind,
				title = excluded.title,
				place_id = excluded.place_id,
				date_added = CASE
					WHEN excluded.date_added > 0 AND excluded.date_added < date_added
						THEN excluded.date_added
					ELSE date_added
				END,
				last_modified = excluded.last_modified,
				sync_status = 2;`

		args := append([]any{nowMillis}, GuidArgs(chunk)...)

		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			log.Err(err).
				Str("func", "applyRepository.UpsertRemoteItems").
				Int("count", len(chunk)).
				Msg("failed to upsert remote item content")
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}

		return nil
	})
}

// ApplyRemoteKeywordsAndTags replaces local keywords and tag relations for
// the places the given mirror rows point at. Remote wins wholesale.
func (a *applyRepository) ApplyRemoteKeywordsAndTags(ctx context.Context, q Querier, guids []models.Guid) error {
	return EachChunk(len(guids), MaxVariables, func(lo, hi int) error {
		chunk := guids[lo:hi]
		in := Placeholders(len(chunk))
		args := GuidArgs(chunk)

		statements := []string{
			`DELETE FROM keywords WHERE place_id IN (
				SELECT place_id FROM synced_items WHERE guid IN (` + in + `) AND place_id IS NOT NULL);`,
			`INSERT OR REPLACE INTO keywords(keyword, place_id)
				SELECT v.keyword, v.place_id
				FROM synced_items v
				WHERE v.guid IN (` + in + `) AND v.keyword IS NOT NULL AND v.place_id IS NOT NULL;`,
			`DELETE FROM tag_relation WHERE place_id IN (
				SELECT place_id FROM synced_items WHERE guid IN (` + in + `) AND place_id IS NOT NULL);`,
			`INSERT OR IGNORE INTO tag_relation(tag_id, place_id)
				SELECT r.tag_id, v.place_id
				FROM synced_tag_relation r
				JOIN synced_items v ON v.id = r.item_id
				WHERE v.guid IN (` + in + `) AND v.place_id IS NOT NULL;`,
		}

		for _, stmt := range statements {
			if _, err := q.ExecContext(ctx, stmt, args...); err != nil {
				return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
			}
		}

		return nil
	})
}

func (a *applyRepository) ApplyStructure(ctx context.Context, q Querier, entry models.StructureEntry) error {
	if _, err := q.ExecContext(ctx, applyStructureEntry,
		string(entry.ParentGuid), entry.Position, string(entry.Guid)); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	return nil
}

func (a *applyRepository) DeleteItems(ctx context.Context, q Querier, guids []models.Guid) error {
	return EachChunk(len(guids), MaxVariables, func(lo, hi int) error {
		query, args, err := buildDeleteLocalItemsQuery(guids[lo:hi])
		if err != nil {
			return err
		}

		if _, err = q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}

		return nil
	})
}

func (a *applyRepository) DeleteTombstones(ctx context.Context, q Querier, guids []models.Guid) error {
	return EachChunk(len(guids), MaxVariables, func(lo, hi int) error {
		query, args, err := buildDeleteTombstonesQuery("tombstones", guids[lo:hi])
		if err != nil {
			return err
		}

		if _, err = q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}

		return nil
	})
}

func (a *applyRepository) ZeroChangeCounters(ctx context.Context, q Querier, guids []models.Guid) error {
	return EachChunk(len(guids), MaxVariables, func(lo, hi int) error {
		query, args, err := buildZeroCountersQuery(guids[lo:hi])
		if err != nil {
			return err
		}

		if _, err = q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}

		return nil
	})
}

func (a *applyRepository) BumpChangeCounters(ctx context.Context, q Querier, guids []models.Guid) error {
	return EachChunk(len(guids), MaxVariables, func(lo, hi int) error {
		query, args, err := buildBumpCountersQuery(guids[lo:hi])
		if err != nil {
			return err
		}

		if _, err = q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}

		return nil
	})
}

func (a *applyRepository) ClearNeedsMerge(ctx context.Context, q Querier, guids []models.Guid) error {
	return EachChunk(len(guids), MaxVariables, func(lo, hi int) error {
		for _, table := range []string{"synced_items", "synced_tombstones"} {
			query, args, err := buildClearNeedsMergeQuery(table, guids[lo:hi])
			if err != nil {
				return err
			}

			if _, err = q.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
			}
		}

		return nil
	})
}
