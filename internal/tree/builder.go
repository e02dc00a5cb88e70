package tree

import (
	"fmt"
	"sort"

	"github.com/MKhiriev/go-mark-sync/internal/store"
	"github.com/MKhiriev/go-mark-sync/models"
)

// BuildLocal assembles the local tree from the authoritative store rows.
// The local store is expected to be structurally sound; a row whose parent
// is missing is corruption and aborts the cycle.
func BuildLocal(rows []store.LocalRow, tagsByPlace map[int64]store.TagSet, tombstones []models.Tombstone, nowMillis int64) (*Tree, error) {
	var rootRow *store.LocalRow
	childRows := make(map[models.Guid][]store.LocalRow, len(rows))

	for i := range rows {
		row := rows[i]
		if row.Guid == models.RootGuid {
			rootRow = &rows[i]
			continue
		}
		childRows[row.ParentGuid] = append(childRows[row.ParentGuid], row)
	}

	if rootRow == nil {
		return nil, ErrMissingRoot
	}

	t := New(localNode(*rootRow, tagsByPlace, nowMillis))

	attached := 1
	queue := []*Node{t.Root()}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]

		children := childRows[parent.Guid]
		sort.SliceStable(children, func(i, j int) bool {
			return children[i].Position < children[j].Position
		})

		for _, row := range children {
			node := localNode(row, tagsByPlace, nowMillis)
			if err := t.Insert(parent, node); err != nil {
				return nil, err
			}
			attached++
			if node.IsFolder() {
				queue = append(queue, node)
			}
		}
	}

	if attached != len(rows) {
		return nil, fmt.Errorf("%w: %d local rows unreachable from the root",
			ErrCorrupt, len(rows)-attached)
	}

	for _, tombstone := range tombstones {
		t.NoteDeleted(tombstone.Guid)
	}

	return t, nil
}

func localNode(row store.LocalRow, tagsByPlace map[int64]store.TagSet, nowMillis int64) *Node {
	node := &Node{
		Guid:         row.Guid,
		Kind:         row.Kind,
		Title:        row.Title,
		URL:          row.URL,
		Keyword:      row.Keyword,
		DateAdded:    row.DateAdded,
		LastModified: row.LastModified,
		Age:          age(nowMillis, row.LastModified),
		NeedsMerge:   row.SyncChangeCounter > 0,
		Validity:     models.ValidityValid,
		SyncStatus:   row.SyncStatus,
	}

	if row.PlaceID != 0 {
		node.Tags = tagsByPlace[row.PlaceID].Tags
	}

	return node
}

// BuildRemote assembles the remote tree from the mirror and staging tables.
// Structure claims attach children under their folders; an item no folder
// claims falls back to its advisory parent, and failing that is reparented
// under the unfiled root and flagged for reupload (the cleaned-up tree goes
// back to the server).
func BuildRemote(items []store.SyncedItemRow, structure []store.StructureRow, tombstones []store.SyncedTombstoneRow, tagsByItem map[int64]store.TagSet, nowMillis int64) (*Tree, error) {
	nodes := make(map[models.Guid]*Node, len(items)+5)
	advisoryParents := make(map[models.Guid]models.Guid, len(items))
	for _, item := range items {
		nodes[item.Guid] = remoteNode(item, tagsByItem, nowMillis)
		if item.ParentGuid != "" {
			advisoryParents[item.Guid] = item.ParentGuid
		}
	}

	root, ok := nodes[models.RootGuid]
	if !ok {
		root = syntheticFolder(models.RootGuid)
		nodes[models.RootGuid] = root
	}
	t := New(root)

	// Ordered child claims per folder. The staging writes keep positions
	// dense per parent, so a stable sort by position reconstructs record
	// order.
	claims := make(map[models.Guid][]store.StructureRow, len(items))
	for _, row := range structure {
		claims[row.ParentGuid] = append(claims[row.ParentGuid], row)
	}

	queue := []*Node{root}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]

		children := claims[parent.Guid]
		sort.SliceStable(children, func(i, j int) bool {
			return children[i].Position < children[j].Position
		})

		for _, claim := range children {
			child, exists := nodes[claim.Guid]
			if !exists {
				// The folder references a child that was never staged:
				// upload the repaired folder next cycle.
				parent.Validity = maxValidity(parent.Validity, models.ValidityReupload)
				continue
			}
			if child.Parent != nil || child == root {
				// Claimed twice, or claims the root. First claim wins.
				parent.Validity = maxValidity(parent.Validity, models.ValidityReupload)
				continue
			}
			if err := t.Insert(parent, child); err != nil {
				return nil, err
			}
			if child.IsFolder() {
				queue = append(queue, child)
			}
		}
	}

	// The four content roots always exist, staged or not. A content root the
	// root record never claimed still owns its claimed subtree, so it
	// re-enters the claim walk once attached.
	for _, rootGuid := range models.UserContentRoots {
		node, exists := nodes[rootGuid]
		if !exists {
			node = syntheticFolder(rootGuid)
			nodes[rootGuid] = node
		}
		if node.Parent == nil {
			if err := t.Insert(root, node); err != nil {
				return nil, err
			}
			if err := attachClaimed(t, node, nodes, claims); err != nil {
				return nil, err
			}
		}
	}

	if err := attachStragglers(t, nodes, advisoryParents, claims); err != nil {
		return nil, err
	}

	for _, tombstone := range tombstones {
		t.NoteDeleted(tombstone.Guid)
	}

	return t, nil
}

// attachStragglers places every node not reachable through structure claims:
// first under its advisory parent, then under the unfiled root. Folders
// rescued this way pull their own claimed subtrees in with them.
func attachStragglers(t *Tree, nodes map[models.Guid]*Node, advisoryParents map[models.Guid]models.Guid, claims map[models.Guid][]store.StructureRow) error {
	unfiled := t.Node(models.UnfiledGuid)

	for {
		orphans := make([]*Node, 0)
		for _, node := range nodes {
			if node.Parent == nil && !node.IsRoot() {
				orphans = append(orphans, node)
			}
		}
		if len(orphans) == 0 {
			return nil
		}

		sort.Slice(orphans, func(i, j int) bool {
			return orphans[i].Guid < orphans[j].Guid
		})

		// Prefer advisory parents already in the tree; once no orphan has
		// one, fall back to the unfiled root so the pass always shrinks.
		progressed := false
		for _, orphan := range orphans {
			advisory := t.Node(advisoryParents[orphan.Guid])
			if advisory == nil || !advisory.IsFolder() {
				continue
			}
			if err := rescueOrphan(t, advisory, orphan, nodes, claims); err != nil {
				return err
			}
			progressed = true
		}
		if progressed {
			continue
		}

		// Nothing has a live advisory parent. Rescue one orphan whose own
		// advisory parent is not also waiting, so an orphaned folder goes
		// in before the children that name it.
		orphanSet := make(map[models.Guid]struct{}, len(orphans))
		for _, orphan := range orphans {
			orphanSet[orphan.Guid] = struct{}{}
		}
		fallback := orphans[0]
		for _, orphan := range orphans {
			if _, waiting := orphanSet[advisoryParents[orphan.Guid]]; !waiting {
				fallback = orphan
				break
			}
		}

		if err := rescueOrphan(t, unfiled, fallback, nodes, claims); err != nil {
			return err
		}
	}
}

func rescueOrphan(t *Tree, parent, orphan *Node, nodes map[models.Guid]*Node, claims map[models.Guid][]store.StructureRow) error {
	orphan.Validity = maxValidity(orphan.Validity, models.ValidityReupload)
	parent.Validity = maxValidity(parent.Validity, models.ValidityReupload)
	if err := t.Insert(parent, orphan); err != nil {
		return err
	}

	// A rescued folder re-enters the claim walk so its own children attach
	// beneath it.
	if orphan.IsFolder() {
		return attachClaimed(t, orphan, nodes, claims)
	}

	return nil
}

func attachClaimed(t *Tree, folder *Node, nodes map[models.Guid]*Node, claims map[models.Guid][]store.StructureRow) error {
	children := claims[folder.Guid]
	sort.SliceStable(children, func(i, j int) bool {
		return children[i].Position < children[j].Position
	})

	for _, claim := range children {
		child, exists := nodes[claim.Guid]
		if !exists || child.Parent != nil || child.IsRoot() {
			continue
		}
		if err := t.Insert(folder, child); err != nil {
			return err
		}
		if child.IsFolder() {
			if err := attachClaimed(t, child, nodes, claims); err != nil {
				return err
			}
		}
	}

	return nil
}

func remoteNode(item store.SyncedItemRow, tagsByItem map[int64]store.TagSet, nowMillis int64) *Node {
	node := &Node{
		Guid:         item.Guid,
		Kind:         item.Kind,
		Title:        item.Title,
		URL:          item.URL,
		Keyword:      item.Keyword,
		DateAdded:    item.DateAdded,
		LastModified: item.ServerModified,
		Age:          age(nowMillis, item.ServerModified),
		NeedsMerge:   item.NeedsMerge,
		Validity:     item.Validity,
		SyncStatus:   models.StatusNormal,
	}

	node.Tags = tagsByItem[item.ID].Tags

	return node
}

func syntheticFolder(guid models.Guid) *Node {
	return &Node{
		Guid:       guid,
		Kind:       models.KindFolder,
		Validity:   models.ValidityValid,
		SyncStatus: models.StatusNormal,
	}
}

func age(nowMillis, modified int64) int64 {
	if modified <= 0 || modified > nowMillis {
		return 0
	}
	return nowMillis - modified
}

func maxValidity(a, b models.Validity) models.Validity {
	if b > a {
		return b
	}
	return a
}
