package store

// Fixed queries. Statements whose shape depends on row counts are built
// dynamically with squirrel in the repository methods instead.
const (
	getMeta = `SELECT value FROM sync_meta WHERE key = ?;`

	putMeta = `INSERT INTO sync_meta(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value;`

	deleteMeta = `DELETE FROM sync_meta WHERE key = ?;`

	getAllLocalRows = `SELECT b.id, b.guid, IFNULL(p.guid, ''), b.position, b.kind, b.title,
			IFNULL(b.place_id, 0), IFNULL(pl.url, ''), IFNULL(k.keyword, ''),
			b.date_added, b.last_modified, b.sync_status, b.sync_change_counter
		FROM bookmarks b
		LEFT JOIN bookmarks p ON p.id = b.parent_id
		LEFT JOIN places pl ON pl.id = b.place_id
		LEFT JOIN keywords k ON k.place_id = b.place_id
		ORDER BY b.parent_id, b.position;`

	getLocalTagsByPlace = `SELECT r.place_id, t.id, t.tag
		FROM tag_relation r
		JOIN tags t ON t.id = r.tag_id
		ORDER BY r.place_id, t.tag;`

	getLocalTombstones = `SELECT guid, date_removed FROM tombstones ORDER BY guid;`

	hasLocalChanges = `SELECT EXISTS (SELECT 1 FROM bookmarks WHERE sync_change_counter > 0)
		OR EXISTS (SELECT 1 FROM tombstones);`

	hasAnyChanges = `SELECT EXISTS (SELECT 1 FROM synced_items WHERE needs_merge)
		OR EXISTS (SELECT 1 FROM synced_tombstones WHERE needs_merge)
		OR EXISTS (SELECT 1 FROM bookmarks WHERE sync_change_counter > 0)
		OR EXISTS (SELECT 1 FROM tombstones);`

	countOrphans = `SELECT COUNT(*)
		FROM bookmarks b
		WHERE (b.parent_id IS NOT NULL
			AND NOT EXISTS (SELECT 1 FROM bookmarks p WHERE p.id = b.parent_id))
			OR (b.guid <> 'root________' AND b.position < 0);`

	getAllSyncedItems = `SELECT v.id, v.guid, IFNULL(v.parent_guid, ''), v.server_modified,
			v.needs_merge, v.is_overridden, v.kind, v.date_added, IFNULL(v.title, ''),
			IFNULL(v.keyword, ''), v.validity, IFNULL(v.place_id, 0), IFNULL(pl.url, ''),
			IFNULL(v.unknown_fields, '')
		FROM synced_items v
		LEFT JOIN places pl ON pl.id = v.place_id
		ORDER BY v.guid;`

	getSyncedStructure = `SELECT guid, parent_guid, position
		FROM synced_structure
		ORDER BY parent_guid, position;`

	getSyncedTombstones = `SELECT guid, server_modified, needs_merge
		FROM synced_tombstones
		ORDER BY guid;`

	getSyncedTagsByItem = `SELECT r.item_id, t.id, t.tag
		FROM synced_tag_relation r
		JOIN tags t ON t.id = r.tag_id
		ORDER BY r.item_id, t.tag;`

	insertPlaceIfMissing = `INSERT INTO places(url, url_hash)
		SELECT ?, url_hash(?)
		WHERE NOT EXISTS (SELECT 1 FROM places WHERE url_hash = url_hash(?) AND url = ?);`

	upsertSyncedItem = `REPLACE INTO synced_items(guid, parent_guid, server_modified, needs_merge,
			kind, date_added, title, keyword, validity, place_id, unknown_fields)
		VALUES (?, NULLIF(?, ''), ?, 1, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?,
			CASE WHEN ? = '' THEN NULL
				ELSE (SELECT id FROM places WHERE url_hash = url_hash(?) AND url = ?)
			END,
			NULLIF(?, ''));`

	deleteSyncedTombstone = `DELETE FROM synced_tombstones WHERE guid = ?;`

	upsertSyncedTombstone = `REPLACE INTO synced_tombstones(guid, server_modified, needs_merge)
		VALUES (?, ?, 1);`

	deleteSyncedItem = `DELETE FROM synced_items WHERE guid = ?;`

	deleteSyncedStructureForParent = `DELETE FROM synced_structure WHERE parent_guid = ?;`

	insertTagIfMissing = `INSERT OR IGNORE INTO tags(tag, last_modified) VALUES (?, ?);`

	insertSyncedTagRelation = `INSERT OR IGNORE INTO synced_tag_relation(item_id, tag_id)
		VALUES ((SELECT id FROM synced_items WHERE guid = ?),
			(SELECT id FROM tags WHERE tag = ?));`

	// Pre-merge keyword coherence sweep: a keyword that maps to more than
	// one URL, or a URL that carries more than one keyword, is flagged for
	// reupload. Remote value wins at repair time.
	flagKeywordDivergence = `UPDATE synced_items SET validity = 2
		WHERE validity = 1 AND (
			(keyword IS NOT NULL AND keyword IN (
				SELECT keyword FROM synced_items
				WHERE keyword IS NOT NULL
				GROUP BY keyword
				HAVING COUNT(DISTINCT COALESCE(place_id, -1)) > 1))
			OR (place_id IS NOT NULL AND place_id IN (
				SELECT place_id FROM synced_items
				WHERE place_id IS NOT NULL
				GROUP BY place_id
				HAVING COUNT(DISTINCT COALESCE(keyword, '')) > 1))
		);`

	// Pre-merge tag coherence sweep. The multiset equality check uses the
	// sum of tag ids as an O(n) proxy: two items sharing a URL whose tag-id
	// sums differ cannot carry the same tag set.
	flagTagDivergence = `UPDATE synced_items SET validity = 2
		WHERE validity = 1 AND place_id IN (
			SELECT place_id FROM (
				SELECT v.place_id AS place_id,
					COALESCE((SELECT SUM(r.tag_id) FROM synced_tag_relation r
						WHERE r.item_id = v.id), 0) AS tag_sum
				FROM synced_items v
				WHERE v.place_id IS NOT NULL
			)
			GROUP BY place_id
			HAVING COUNT(DISTINCT tag_sum) > 1
		);`

	changeLocalGuid = `UPDATE bookmarks
		SET guid = ?,
			sync_status = CASE WHEN ? THEN 2 ELSE sync_status END,
			last_modified = ?
		WHERE guid = ?;`

	applyStructureEntry = `UPDATE bookmarks
		SET parent_id = (SELECT id FROM bookmarks p WHERE p.guid = ?),
			position = ?
		WHERE guid = ?;`

	insertLocalTombstone = `INSERT OR REPLACE INTO tombstones(guid, date_removed) VALUES (?, ?);`

	getLocalChildrenGuids = `SELECT c.guid
		FROM bookmarks c
		JOIN bookmarks p ON p.id = c.parent_id
		WHERE p.guid = ?
		ORDER BY c.position;`

	getStaleFrecencyPlaces = `SELECT place_id FROM stale_frecencies ORDER BY stale_at LIMIT ?;`

	getOutgoingItems = `SELECT guid, payload FROM outgoing_items ORDER BY guid;`

	getOutgoingTombstones = `SELECT guid FROM outgoing_tombstones ORDER BY guid;`

	stageOutgoingItem = `INSERT OR REPLACE INTO outgoing_items(guid, payload, change_counter, weak)
		VALUES (?, ?, ?, ?);`

	stageOutgoingTombstone = `INSERT OR REPLACE INTO outgoing_tombstones(guid) VALUES (?);`

	clearOutgoingItems      = `DELETE FROM outgoing_items;`
	clearOutgoingTombstones = `DELETE FROM outgoing_tombstones;`
)
