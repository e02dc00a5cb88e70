package store

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-mark-sync/models"
)

// Builders for statements whose shape depends on a GUID set. squirrel
// expands a slice in sq.Eq into an IN clause with one placeholder per
// element, so callers chunk the set to stay under MaxVariables.

func buildDeleteLocalItemsQuery(guids []models.Guid) (string, []any, error) {
	query, args, err := sq.Delete("bookmarks").
		Where(sq.Eq{"guid": guidStrings(guids)}).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}
	return query, args, nil
}

func buildZeroCountersQuery(guids []models.Guid) (string, []any, error) {
	query, args, err := sq.Update("bookmarks").
		Set("sync_change_counter", 0).
		Where(sq.Eq{"guid": guidStrings(guids)}).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}
	return query, args, nil
}

func buildBumpCountersQuery(guids []models.Guid) (string, []any, error) {
	query, args, err := sq.Update("bookmarks").
		Set("sync_change_counter", sq.Expr("MAX(sync_change_counter, 1)")).
		Where(sq.Eq{"guid": guidStrings(guids)}).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}
	return query, args, nil
}

func buildClearNeedsMergeQuery(table string, guids []models.Guid) (string, []any, error) {
	query, args, err := sq.Update(table).
		Set("needs_merge", 0).
		Where(sq.Eq{"guid": guidStrings(guids)}).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}
	return query, args, nil
}

func buildDeleteTombstonesQuery(table string, guids []models.Guid) (string, []any, error) {
	query, args, err := sq.Delete(table).
		Where(sq.Eq{"guid": guidStrings(guids)}).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}
	return query, args, nil
}

// buildDecrementCountersQuery subtracts the counter value captured at stage
// time, never below zero. Mutations racing the upload keep the difference
// and stay scheduled for the next cycle.
func buildDecrementCountersQuery(guids []models.Guid) (string, []any, error) {
	query, args, err := sq.Update("bookmarks").
		Set("sync_change_counter", sq.Expr(
			`MAX(0, sync_change_counter - IFNULL(
				(SELECT o.change_counter FROM outgoing_items o WHERE o.guid = bookmarks.guid), 0))`)).
		Where(sq.Eq{"guid": guidStrings(guids)}).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}
	return query, args, nil
}

func guidStrings(guids []models.Guid) []string {
	out := make([]string, len(guids))
	for i, g := range guids {
		out[i] = string(g)
	}
	return out
}
