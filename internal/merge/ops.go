package merge

import (
	"sort"

	"github.com/MKhiriev/go-mark-sync/internal/tree"
	"github.com/MKhiriev/go-mark-sync/models"
)

// deriveOps walks the finished merged tree and fills the op buckets the
// applier executes. Structure entries are sorted parents first so a row
// always exists before a child references it.
func (m *mergeRun) deriveOps(root *mergedNode) (*models.CompletionOps, error) {
	type frame struct {
		mn     *mergedNode
		parent models.Guid
		level  int
		pos    int
	}

	queue := []frame{{mn: root, level: 0}}
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		mn := f.mn

		if f.level > 0 {
			m.deriveNodeOps(mn, f.parent, f.level, f.pos)
		}

		for i, child := range mn.children {
			queue = append(queue, frame{mn: child, parent: mn.guid, level: f.level + 1, pos: i})
		}
	}

	sort.SliceStable(m.ops.ApplyNewStructure, func(i, j int) bool {
		return m.ops.ApplyNewStructure[i].Level < m.ops.ApplyNewStructure[j].Level
	})

	return &m.ops, nil
}

func (m *mergeRun) deriveNodeOps(mn *mergedNode, parentGuid models.Guid, level, pos int) {
	// A folder whose merged child list no longer matches the server's copy
	// must go back up with the new children array.
	if mn.content().IsFolder() && mn.remote != nil && !mn.upload {
		if !childListsEqual(mn, mn.remote) {
			mn.upload = true
		}
	}

	if mn.state == stateRemote && mn.remote != nil {
		if mn.local == nil || !contentEqual(mn.local, mn.remote) {
			m.ops.ApplyRemoteItems = append(m.ops.ApplyRemoteItems, mn.guid)
		}
	}

	if m.structureDiffers(mn, parentGuid, pos) {
		m.ops.ApplyNewStructure = append(m.ops.ApplyNewStructure, models.StructureEntry{
			Guid:       mn.guid,
			ParentGuid: parentGuid,
			Position:   pos,
			Level:      level,
		})
	}

	switch {
	case mn.upload:
		m.ops.UploadItems = append(m.ops.UploadItems, models.UploadItem{Guid: mn.guid})
		m.ops.SetUnmerged = append(m.ops.SetUnmerged, mn.guid)
	case mn.weak:
		m.ops.UploadItems = append(m.ops.UploadItems, models.UploadItem{Guid: mn.guid, Weak: true})
	}

	if mn.local != nil && mn.local.NeedsMerge && !mn.upload {
		m.ops.SetMerged = append(m.ops.SetMerged, mn.guid)
	}
}

// structureDiffers reports whether the local store must be rewritten to put
// the item at (parentGuid, pos).
func (m *mergeRun) structureDiffers(mn *mergedNode, parentGuid models.Guid, pos int) bool {
	if mn.local == nil {
		return true
	}
	if mn.local.Parent == nil {
		return false
	}
	return m.finalGuid(mn.local.Parent.Guid) != parentGuid || mn.local.Position() != pos
}

func childListsEqual(mn *mergedNode, rn *tree.Node) bool {
	if len(mn.children) != len(rn.Children) {
		return false
	}
	for i, child := range mn.children {
		if child.guid != rn.Children[i].Guid {
			return false
		}
	}
	return true
}

// contentEqual compares the fields a record carries on the wire. Positions
// and children are structure, handled separately.
func contentEqual(ln, rn *tree.Node) bool {
	if ln.Kind != rn.Kind ||
		ln.Title != rn.Title ||
		ln.URL != rn.URL ||
		ln.Keyword != rn.Keyword {
		return false
	}
	if rn.DateAdded > 0 && ln.DateAdded != rn.DateAdded {
		return false
	}
	return tagSetsEqual(ln.Tags, rn.Tags)
}

func tagSetsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, tag := range a {
		seen[tag]++
	}
	for _, tag := range b {
		seen[tag]--
		if seen[tag] < 0 {
			return false
		}
	}
	return true
}
