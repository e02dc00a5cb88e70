package merge

import (
	"fmt"
	"sort"

	"github.com/MKhiriev/go-mark-sync/internal/tree"
	"github.com/MKhiriev/go-mark-sync/models"
)

// prepareDedup pairs new remote children with never-uploaded local children
// of the same folder by content fingerprint. Pairs are recorded as GUID
// rewrites before either walk runs, so neither side places its half alone.
func (m *mergeRun) prepareDedup(localFolder, remoteFolder *tree.Node) {
	if localFolder == nil || remoteFolder == nil {
		return
	}

	// Local candidates: new, unconsumed, unknown to the server.
	candidates := make(map[string][]*tree.Node)
	for _, lc := range localFolder.Children {
		if lc.SyncStatus != models.StatusNew {
			continue
		}
		if _, consumed := m.consumedLocal[lc.Guid]; consumed {
			continue
		}
		if _, renamed := m.renames[lc.Guid]; renamed {
			continue
		}
		if m.remote.Node(lc.Guid) != nil {
			continue
		}
		if fp, ok := lc.Fingerprint(); ok {
			candidates[fp] = append(candidates[fp], lc)
		}
	}
	if len(candidates) == 0 {
		return
	}

	for _, rc := range remoteFolder.Children {
		if m.local.Node(rc.Guid) != nil {
			continue
		}
		if _, paired := m.dedupTargets[rc.Guid]; paired {
			continue
		}
		fp, ok := rc.Fingerprint()
		if !ok {
			continue
		}
		pool := candidates[fp]
		if len(pool) == 0 {
			continue
		}

		local := pool[0]
		candidates[fp] = pool[1:]

		m.renames[local.Guid] = rc.Guid
		m.dedupTargets[rc.Guid] = local
		m.ops.ChangeGuids = append(m.ops.ChangeGuids, models.GuidChange{
			LocalGuid:        local.Guid,
			NewGuid:          rc.Guid,
			SyncStatusNormal: true,
		})
		m.stats.Dedupes++
	}
}

func (m *mergeRun) placeRemoteChild(parent *mergedNode, rc *tree.Node) error {
	if _, consumed := m.consumedRemote[rc.Guid]; consumed {
		return nil
	}

	// Deleted locally?
	if m.local.IsDeleted(rc.Guid) {
		m.consumedRemote[rc.Guid] = struct{}{}

		if rc.NeedsMerge {
			// Changed remotely after the local delete: resurrect.
			m.ops.DeleteLocalTombstones = append(m.ops.DeleteLocalTombstones, rc.Guid)
			m.noteRemoteMerged(rc)
			m.stats.Resurrections++
			return m.addNode(parent, &mergedNode{
				guid: rc.Guid, remote: rc, state: stateRemote,
			}, nil, rc)
		}

		// Unchanged remotely: the local deletion wins and goes up.
		// Deletions never cascade: the remote copy's children each get
		// their own verdict, survivors relocating to the nearest
		// surviving ancestor.
		m.ops.UploadTombstones = append(m.ops.UploadTombstones, rc.Guid)
		m.noteRemoteMerged(rc)
		m.stats.RemoteDeletes++
		for _, child := range rc.Children {
			if err := m.placeRemoteChild(parent, child); err != nil {
				return err
			}
		}
		return nil
	}

	ln := m.local.Node(rc.Guid)
	if ln == nil {
		if local, paired := m.dedupTargets[rc.Guid]; paired {
			return m.mergePair(parent, local, rc)
		}

		// Genuinely new on remote.
		m.consumedRemote[rc.Guid] = struct{}{}
		m.noteRemoteMerged(rc)
		mn := &mergedNode{guid: rc.Guid, remote: rc, state: stateRemote}
		mn.upload = rc.Validity != models.ValidityValid
		return m.addNode(parent, mn, nil, rc)
	}

	// Known on both sides. If the sides disagree about the parent folder,
	// exactly one walk places it.
	if ln.Parent != nil && rc.Parent != nil && m.finalGuid(ln.Parent.Guid) != rc.Parent.Guid {
		if !remoteParentWins(ln.Parent, rc.Parent) {
			return nil
		}
	}

	return m.mergePair(parent, ln, rc)
}

func (m *mergeRun) placeLocalChild(parent *mergedNode, lc *tree.Node) error {
	if _, consumed := m.consumedLocal[lc.Guid]; consumed {
		return nil
	}
	finalGuid := m.finalGuid(lc.Guid)

	// Deleted remotely?
	if m.remote.IsDeleted(finalGuid) {
		m.consumedLocal[lc.Guid] = struct{}{}
		m.noteRemoteTombstoneMerged(finalGuid)

		if lc.NeedsMerge || lc.SyncStatus == models.StatusNew {
			// The item itself changed after the remote delete: resurrect
			// and upload; the applier drops the mirror tombstone's flag.
			// Deletions never cascade: a deleted folder's children are
			// relocated below, each with its own verdict.
			m.stats.Resurrections++
			mn := &mergedNode{guid: finalGuid, local: lc, state: stateLocal, upload: true}
			return m.addNode(parent, mn, lc, nil)
		}

		// Honour the remote deletion; surviving local children move up to
		// the nearest surviving ancestor.
		m.ops.DeleteLocalItems = append(m.ops.DeleteLocalItems, finalGuid)
		m.stats.LocalDeletes++
		for _, child := range lc.Children {
			if err := m.placeLocalChild(parent, child); err != nil {
				return err
			}
		}
		return nil
	}

	if rn := m.remote.Node(finalGuid); rn != nil {
		if lc.Parent != nil && rn.Parent != nil && m.finalGuid(lc.Parent.Guid) != rn.Parent.Guid {
			if remoteParentWins(lc.Parent, rn.Parent) {
				return nil
			}
		}
		return m.mergePair(parent, lc, rn)
	}

	// Local only: absent upstream, not tombstoned. Upload it.
	m.consumedLocal[lc.Guid] = struct{}{}
	mn := &mergedNode{guid: finalGuid, local: lc, state: stateLocal, upload: true}
	return m.addNode(parent, mn, lc, nil)
}

// mergePair reconciles one GUID present on both sides.
func (m *mergeRun) mergePair(parent *mergedNode, ln, rn *tree.Node) error {
	m.consumedLocal[ln.Guid] = struct{}{}
	m.consumedRemote[rn.Guid] = struct{}{}
	m.noteRemoteMerged(rn)

	if ln.Kind != rn.Kind {
		return m.fork(parent, ln, rn)
	}

	mn := &mergedNode{guid: rn.Guid, local: ln, remote: rn}

	switch {
	case rn.Validity == models.ValidityReplace:
		// The remote copy is unusable; the local copy wins and replaces it.
		mn.state = stateLocal
		mn.upload = true
	case ln.NeedsMerge && rn.NeedsMerge:
		mn.state = stateRemote
		if olderLocally(ln, rn) {
			// Content conflicts go to remote, but the older local
			// dateAdded still goes up, without a counter bump.
			mn.weak = true
		}
	case ln.NeedsMerge:
		mn.state = stateLocal
		mn.upload = true
	case rn.NeedsMerge:
		mn.state = stateRemote
	default:
		mn.state = stateUnchanged
	}

	if !mn.upload && rn.Validity == models.ValidityReupload {
		mn.upload = true
	}

	return m.addNode(parent, mn, ln, rn)
}

// fork splits a kind conflict into two items: remote keeps the GUID, the
// local copy moves to a fresh one and is uploaded as a new item.
func (m *mergeRun) fork(parent *mergedNode, ln, rn *tree.Node) error {
	fresh, err := m.merger.NewGuid()
	if err != nil {
		return fmt.Errorf("failed to fork %s: %w", ln.Guid, err)
	}

	m.renames[ln.Guid] = fresh
	m.ops.ChangeGuids = append(m.ops.ChangeGuids, models.GuidChange{
		LocalGuid: ln.Guid,
		NewGuid:   fresh,
	})
	m.stats.Forks++

	remoteSide := &mergedNode{guid: rn.Guid, remote: rn, state: stateRemote}
	if err := m.addNode(parent, remoteSide, nil, rn); err != nil {
		return err
	}

	localSide := &mergedNode{guid: fresh, local: ln, state: stateLocal, upload: true}
	return m.addNode(parent, localSide, ln, nil)
}

// addNode attaches a merged node to its parent and recurses into folder
// children.
func (m *mergeRun) addNode(parent *mergedNode, mn *mergedNode, ln, rn *tree.Node) error {
	if _, dup := m.byGuid[mn.guid]; dup {
		return fmt.Errorf("%w: guid %s merged twice", tree.ErrCorrupt, mn.guid)
	}

	parent.children = append(parent.children, mn)
	m.byGuid[mn.guid] = mn

	if mn.content().IsFolder() {
		var lf, rf *tree.Node
		if ln != nil && ln.IsFolder() {
			lf = ln
		}
		if rn != nil && rn.IsFolder() {
			rf = rn
		}
		return m.mergeChildren(mn, lf, rf)
	}

	return nil
}

// sweepStragglers places anything neither walk consumed, parents first, so
// every input node gets a verdict even over inconsistent inputs.
func (m *mergeRun) sweepStragglers(root *mergedNode) error {
	for {
		placed := false

		locals := m.unconsumedLocals()
		for _, ln := range locals {
			parentMn := m.parentMergedNode(ln.Parent, root)
			if parentMn == nil {
				continue
			}
			if err := m.placeLocalChild(parentMn, ln); err != nil {
				return err
			}
			placed = true
		}

		remotes := m.unconsumedRemotes()
		for _, rn := range remotes {
			parentMn := m.parentMergedNode(rn.Parent, root)
			if parentMn == nil {
				continue
			}
			if err := m.placeRemoteChild(parentMn, rn); err != nil {
				return err
			}
			placed = true
		}

		if len(locals) == 0 && len(remotes) == 0 {
			return nil
		}
		if !placed {
			return fmt.Errorf("%w: %d nodes unplaceable",
				tree.ErrCorrupt, len(locals)+len(remotes))
		}
	}
}

func (m *mergeRun) unconsumedLocals() []*tree.Node {
	var out []*tree.Node
	for _, guid := range m.local.Guids() {
		if _, consumed := m.consumedLocal[guid]; !consumed {
			out = append(out, m.local.Node(guid))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].Guid < out[j].Guid
	})
	return out
}

func (m *mergeRun) unconsumedRemotes() []*tree.Node {
	var out []*tree.Node
	for _, guid := range m.remote.Guids() {
		if _, consumed := m.consumedRemote[guid]; !consumed {
			out = append(out, m.remote.Node(guid))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].Guid < out[j].Guid
	})
	return out
}

func (m *mergeRun) parentMergedNode(parent *tree.Node, root *mergedNode) *mergedNode {
	if parent == nil {
		return root
	}
	if mn, ok := m.byGuid[m.finalGuid(parent.Guid)]; ok {
		return mn
	}
	return nil
}

func (m *mergeRun) noteRemoteMerged(rn *tree.Node) {
	if rn.NeedsMerge {
		m.ops.SetRemoteMerged = append(m.ops.SetRemoteMerged, rn.Guid)
	}
}

func (m *mergeRun) noteRemoteTombstoneMerged(guid models.Guid) {
	m.ops.SetRemoteMerged = append(m.ops.SetRemoteMerged, guid)
}

// olderLocally reports whether the local creation timestamp predates the
// remote one, meaning the older value should be pushed back up.
func olderLocally(ln, rn *tree.Node) bool {
	return ln.DateAdded > 0 && rn.DateAdded > 0 && ln.DateAdded < rn.DateAdded
}
