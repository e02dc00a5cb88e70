package tree_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-mark-sync/internal/store"
	"github.com/MKhiriev/go-mark-sync/internal/tree"
	"github.com/MKhiriev/go-mark-sync/models"
)

const testNow = int64(1_700_000_000_000)

func localRow(guid, parent models.Guid, pos int, kind models.Kind) store.LocalRow {
	return store.LocalRow{
		Guid:       guid,
		ParentGuid: parent,
		Position:   pos,
		Kind:       kind,
		SyncStatus: models.StatusNormal,
	}
}

func TestBuildLocal(t *testing.T) {
	t.Run("orders children by position", func(t *testing.T) {
		rows := []store.LocalRow{
			localRow(models.RootGuid, "", 0, models.KindFolder),
			localRow(models.MenuGuid, models.RootGuid, 0, models.KindFolder),
			// Deliberately shuffled input.
			localRow("bookmarkCCCC", models.MenuGuid, 2, models.KindBookmark),
			localRow("bookmarkAAAA", models.MenuGuid, 0, models.KindBookmark),
			localRow("bookmarkBBBB", models.MenuGuid, 1, models.KindBookmark),
		}

		tr, err := tree.BuildLocal(rows, nil, nil, testNow)
		require.NoError(t, err)

		menu := tr.Node(models.MenuGuid)
		require.NotNil(t, menu)
		require.Len(t, menu.Children, 3)
		assert.Equal(t, models.Guid("bookmarkAAAA"), menu.Children[0].Guid)
		assert.Equal(t, models.Guid("bookmarkBBBB"), menu.Children[1].Guid)
		assert.Equal(t, models.Guid("bookmarkCCCC"), menu.Children[2].Guid)
		assert.Equal(t, 2, menu.Children[0].Level)
	})

	t.Run("missing root is corruption", func(t *testing.T) {
		rows := []store.LocalRow{
			localRow(models.MenuGuid, models.RootGuid, 0, models.KindFolder),
		}

		_, err := tree.BuildLocal(rows, nil, nil, testNow)
		assert.ErrorIs(t, err, tree.ErrMissingRoot)
	})

	t.Run("unreachable row is corruption", func(t *testing.T) {
		rows := []store.LocalRow{
			localRow(models.RootGuid, "", 0, models.KindFolder),
			localRow("bookmarkLOST", "folderGONE12", 0, models.KindBookmark),
		}

		_, err := tree.BuildLocal(rows, nil, nil, testNow)
		assert.ErrorIs(t, err, tree.ErrCorrupt)
	})

	t.Run("carries change flags, tags and tombstones", func(t *testing.T) {
		changed := localRow("bookmarkAAAA", models.RootGuid, 0, models.KindBookmark)
		changed.SyncChangeCounter = 3
		changed.PlaceID = 7
		changed.LastModified = testNow - 5000

		rows := []store.LocalRow{
			localRow(models.RootGuid, "", 0, models.KindFolder),
			changed,
		}
		tags := map[int64]store.TagSet{7: {Tags: []string{"work", "go"}}}
		tombstones := []models.Tombstone{{Guid: "bookmarkDEAD", DateRemoved: testNow}}

		tr, err := tree.BuildLocal(rows, tags, tombstones, testNow)
		require.NoError(t, err)

		node := tr.Node("bookmarkAAAA")
		require.NotNil(t, node)
		assert.True(t, node.NeedsMerge)
		assert.Equal(t, []string{"work", "go"}, node.Tags)
		assert.Equal(t, int64(5000), node.Age)
		assert.True(t, tr.IsDeleted("bookmarkDEAD"))
		assert.False(t, tr.IsDeleted("bookmarkAAAA"))
	})
}

func syncedItem(guid, parent models.Guid, kind models.Kind) store.SyncedItemRow {
	return store.SyncedItemRow{
		Guid:       guid,
		ParentGuid: parent,
		Kind:       kind,
		Validity:   models.ValidityValid,
	}
}

func claim(parent, child models.Guid, pos int) store.StructureRow {
	return store.StructureRow{ParentGuid: parent, Guid: child, Position: pos}
}

func TestBuildRemote(t *testing.T) {
	t.Run("synthesizes missing roots", func(t *testing.T) {
		tr, err := tree.BuildRemote(nil, nil, nil, nil, testNow)
		require.NoError(t, err)

		require.NotNil(t, tr.Root())
		for _, rootGuid := range models.UserContentRoots {
			node := tr.Node(rootGuid)
			require.NotNil(t, node, "content root %s must exist", rootGuid)
			assert.Equal(t, tr.Root(), node.Parent)
		}
		assert.Equal(t, 5, tr.Size())
	})

	t.Run("attaches children in claim order", func(t *testing.T) {
		items := []store.SyncedItemRow{
			syncedItem(models.MenuGuid, models.RootGuid, models.KindFolder),
			syncedItem("bookmarkBBBB", models.MenuGuid, models.KindBookmark),
			syncedItem("bookmarkAAAA", models.MenuGuid, models.KindBookmark),
		}
		structure := []store.StructureRow{
			claim(models.RootGuid, models.MenuGuid, 0),
			claim(models.MenuGuid, "bookmarkBBBB", 1),
			claim(models.MenuGuid, "bookmarkAAAA", 0),
		}

		tr, err := tree.BuildRemote(items, structure, nil, nil, testNow)
		require.NoError(t, err)

		menu := tr.Node(models.MenuGuid)
		require.NotNil(t, menu)
		require.Len(t, menu.Children, 2)
		assert.Equal(t, models.Guid("bookmarkAAAA"), menu.Children[0].Guid)
		assert.Equal(t, models.Guid("bookmarkBBBB"), menu.Children[1].Guid)
	})

	t.Run("unclaimed content root keeps its claimed subtree clean", func(t *testing.T) {
		// Typical server data: the content roots' own records exist but no
		// root record claims them. Their subtrees must still attach through
		// structure claims, without any reupload flags.
		items := []store.SyncedItemRow{
			syncedItem(models.MenuGuid, models.RootGuid, models.KindFolder),
			syncedItem("folderAAAAAA", models.MenuGuid, models.KindFolder),
			syncedItem("bookmarkAAAA", "folderAAAAAA", models.KindBookmark),
		}
		structure := []store.StructureRow{
			claim(models.MenuGuid, "folderAAAAAA", 0),
			claim("folderAAAAAA", "bookmarkAAAA", 0),
		}

		tr, err := tree.BuildRemote(items, structure, nil, nil, testNow)
		require.NoError(t, err)

		menu := tr.Node(models.MenuGuid)
		require.NotNil(t, menu)
		require.Len(t, menu.Children, 1)
		assert.Equal(t, models.Guid("folderAAAAAA"), menu.Children[0].Guid)

		leaf := tr.Node("bookmarkAAAA")
		require.NotNil(t, leaf)
		assert.Equal(t, models.Guid("folderAAAAAA"), leaf.Parent.Guid)

		for _, guid := range []models.Guid{models.MenuGuid, "folderAAAAAA", "bookmarkAAAA"} {
			assert.Equal(t, models.ValidityValid, tr.Node(guid).Validity,
				"%s must not be flagged for reupload", guid)
		}
	})

	t.Run("missing claimed child flags the folder for reupload", func(t *testing.T) {
		items := []store.SyncedItemRow{
			syncedItem(models.MenuGuid, models.RootGuid, models.KindFolder),
		}
		structure := []store.StructureRow{
			claim(models.RootGuid, models.MenuGuid, 0),
			claim(models.MenuGuid, "bookmarkGONE", 0),
		}

		tr, err := tree.BuildRemote(items, structure, nil, nil, testNow)
		require.NoError(t, err)

		assert.Equal(t, models.ValidityReupload, tr.Node(models.MenuGuid).Validity)
	})

	t.Run("first claim wins a doubly claimed child", func(t *testing.T) {
		items := []store.SyncedItemRow{
			syncedItem("folderAAAAAA", models.RootGuid, models.KindFolder),
			syncedItem("folderBBBBBB", models.RootGuid, models.KindFolder),
			syncedItem("bookmarkDUPE", "folderAAAAAA", models.KindBookmark),
		}
		structure := []store.StructureRow{
			claim(models.RootGuid, "folderAAAAAA", 0),
			claim(models.RootGuid, "folderBBBBBB", 1),
			claim("folderAAAAAA", "bookmarkDUPE", 0),
			claim("folderBBBBBB", "bookmarkDUPE", 0),
		}

		tr, err := tree.BuildRemote(items, structure, nil, nil, testNow)
		require.NoError(t, err)

		node := tr.Node("bookmarkDUPE")
		require.NotNil(t, node)
		assert.Equal(t, models.Guid("folderAAAAAA"), node.Parent.Guid)
		assert.Equal(t, models.ValidityReupload, tr.Node("folderBBBBBB").Validity)
	})

	t.Run("orphan falls back to its advisory parent", func(t *testing.T) {
		items := []store.SyncedItemRow{
			syncedItem(models.MenuGuid, models.RootGuid, models.KindFolder),
			// No folder record claims this bookmark; its own record names
			// the menu as parent.
			syncedItem("bookmarkLOST", models.MenuGuid, models.KindBookmark),
		}
		structure := []store.StructureRow{
			claim(models.RootGuid, models.MenuGuid, 0),
		}

		tr, err := tree.BuildRemote(items, structure, nil, nil, testNow)
		require.NoError(t, err)

		node := tr.Node("bookmarkLOST")
		require.NotNil(t, node)
		assert.Equal(t, models.MenuGuid, node.Parent.Guid)
		assert.Equal(t, models.ValidityReupload, node.Validity)
		assert.Equal(t, models.ValidityReupload, node.Parent.Validity)
	})

	t.Run("orphan without advisory parent lands under unfiled", func(t *testing.T) {
		items := []store.SyncedItemRow{
			syncedItem("bookmarkLOST", "", models.KindBookmark),
		}

		tr, err := tree.BuildRemote(items, nil, nil, nil, testNow)
		require.NoError(t, err)

		node := tr.Node("bookmarkLOST")
		require.NotNil(t, node)
		assert.Equal(t, models.UnfiledGuid, node.Parent.Guid)
		assert.Equal(t, models.ValidityReupload, node.Validity)
	})

	t.Run("rescued folder pulls its claimed subtree in", func(t *testing.T) {
		items := []store.SyncedItemRow{
			// The folder itself is unclaimed, but it claims a child.
			syncedItem("folderLOST12", "", models.KindFolder),
			syncedItem("bookmarkKID1", "folderLOST12", models.KindBookmark),
		}
		structure := []store.StructureRow{
			claim("folderLOST12", "bookmarkKID1", 0),
		}

		tr, err := tree.BuildRemote(items, structure, nil, nil, testNow)
		require.NoError(t, err)

		folder := tr.Node("folderLOST12")
		require.NotNil(t, folder)
		assert.Equal(t, models.UnfiledGuid, folder.Parent.Guid)

		kid := tr.Node("bookmarkKID1")
		require.NotNil(t, kid)
		assert.Equal(t, folder, kid.Parent)
	})

	t.Run("notes tombstones", func(t *testing.T) {
		tombstones := []store.SyncedTombstoneRow{
			{Guid: "bookmarkDEAD", NeedsMerge: true},
		}

		tr, err := tree.BuildRemote(nil, nil, tombstones, nil, testNow)
		require.NoError(t, err)

		assert.True(t, tr.IsDeleted("bookmarkDEAD"))
	})

	t.Run("carries needs_merge and tags", func(t *testing.T) {
		item := syncedItem("bookmarkAAAA", models.UnfiledGuid, models.KindBookmark)
		item.ID = 42
		item.NeedsMerge = true
		item.ServerModified = testNow - 1000
		tags := map[int64]store.TagSet{42: {Tags: []string{"go"}}}

		tr, err := tree.BuildRemote([]store.SyncedItemRow{item}, nil, nil, tags, testNow)
		require.NoError(t, err)

		node := tr.Node("bookmarkAAAA")
		require.NotNil(t, node)
		assert.True(t, node.NeedsMerge)
		assert.Equal(t, []string{"go"}, node.Tags)
		assert.Equal(t, int64(1000), node.Age)
	})
}
