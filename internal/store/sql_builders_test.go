// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-mark-sync/models"
)

func Test_buildDeleteLocalItemsQuery_SQLContainsParts(t *testing.T) {
	guids := []models.Guid{"bookmarkAAA1", "bookmarkBBB2"}

	query, args, err := buildDeleteLocalItemsQuery(guids)
	require.NoError(t, err)

	// args checks
	require.Len(t, args, 2)
	require.Equal(t, "bookmarkAAA1", args[0])
	require.Equal(t, "bookmarkBBB2", args[1])

	// query checks (contains parts)
	q := strings.ToLower(query)

	require.Contains(t, q, "delete")
	require.Contains(t, q, "from bookmarks")
	require.Contains(t, q, "where")
	require.Contains(t, q, "guid in")

	// placeholder format should be ? (SQLite)
	require.Contains(t, query, "?")
	require.NotContains(t, query, "$1")
}

func Test_buildDeleteLocalItemsQuery_OnePlaceholderPerGuid(t *testing.T) {
	tests := []struct {
		name  string
		guids []models.Guid
	}{
		{name: "single guid", guids: []models.Guid{"bookmarkAAA1"}},
		{name: "three guids", guids: []models.Guid{"bookmarkAAA1", "bookmarkBBB2", "folderCCCCC3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := buildDeleteLocalItemsQuery(tt.guids)
			require.NoError(t, err)

			assert.Len(t, args, len(tt.guids))
			assert.Equal(t, len(tt.guids), strings.Count(query, "?"))
		})
	}
}

func Test_buildZeroCountersQuery(t *testing.T) {
	query, args, err := buildZeroCountersQuery([]models.Guid{"bookmarkAAA1"})
	require.NoError(t, err)

	q := strings.ToLower(query)

	require.Contains(t, q, "update bookmarks")
	require.Contains(t, q, "set sync_change_counter")
	require.Contains(t, q, "guid in")

	// first arg is the SET value, the rest are the guid set
	require.Len(t, args, 2)
	assert.Equal(t, 0, args[0])
	assert.Equal(t, "bookmarkAAA1", args[1])
}

func Test_buildBumpCountersQuery_KeepsLargerCounter(t *testing.T) {
	query, args, err := buildBumpCountersQuery([]models.Guid{"menu________", "toolbar_____"})
	require.NoError(t, err)

	q := strings.ToLower(query)

	require.Contains(t, q, "update bookmarks")
	require.Contains(t, q, "max(sync_change_counter, 1)")
	require.Contains(t, q, "guid in")

	// sq.Expr contributes no args; only the guid set binds
	require.Len(t, args, 2)
	assert.Equal(t, "menu________", args[0])
	assert.Equal(t, "toolbar_____", args[1])
}

func Test_buildClearNeedsMergeQuery_TargetsGivenTable(t *testing.T) {
	tests := []struct {
		name  string
		table string
	}{
		{name: "items", table: "synced_items"},
		{name: "tombstones", table: "synced_tombstones"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := buildClearNeedsMergeQuery(tt.table, []models.Guid{"bookmarkAAA1"})
			require.NoError(t, err)

			q := strings.ToLower(query)

			assert.Contains(t, q, "update "+tt.table)
			assert.Contains(t, q, "needs_merge")
			require.Len(t, args, 2)
			assert.Equal(t, 0, args[0])
		})
	}
}

func Test_buildDeleteTombstonesQuery(t *testing.T) {
	query, args, err := buildDeleteTombstonesQuery("tombstones", []models.Guid{"bookmarkAAA1"})
	require.NoError(t, err)

	q := strings.ToLower(query)

	require.Contains(t, q, "delete from tombstones")
	require.Contains(t, q, "guid in")
	require.Len(t, args, 1)
	assert.Equal(t, "bookmarkAAA1", args[0])
}

func Test_buildDecrementCountersQuery(t *testing.T) {
	query, args, err := buildDecrementCountersQuery([]models.Guid{"bookmarkAAA1", "bookmarkBBB2"})
	require.NoError(t, err)

	q := strings.ToLower(query)

	require.Contains(t, q, "update bookmarks")
	require.Contains(t, q, "max(0, sync_change_counter")
	require.Contains(t, q, "outgoing_items")
	require.Contains(t, q, "guid in")

	// subquery binds nothing; only the guid set
	require.Len(t, args, 2)
	assert.Equal(t, "bookmarkAAA1", args[0])
	assert.Equal(t, "bookmarkBBB2", args[1])
}
