// Package merge implements the three-way reconciliation of the local tree,
// the remote tree and their shared base. The base is implicit: each side's
// needs-merge flag records whether that side diverged from the last-synced
// state, which is what the merge decisions actually need.
//
// The merger is pure. It reads two trees and produces a bucketed set of
// completion operations; it never touches the store.
package merge

import (
	"context"
	"time"

	"github.com/MKhiriev/go-mark-sync/internal/interrupt"
	"github.com/MKhiriev/go-mark-sync/internal/tree"
	"github.com/MKhiriev/go-mark-sync/internal/utils"
	"github.com/MKhiriev/go-mark-sync/models"
)

// mergeState is the per-node outcome of value reconciliation.
type mergeState int

const (
	// stateUnchanged: neither side diverged; nothing to write, nothing to
	// upload.
	stateUnchanged mergeState = iota
	// stateLocal: the local copy wins and goes up on the next upload.
	stateLocal
	// stateRemote: the remote copy wins and is applied locally.
	stateRemote
)

func (s mergeState) String() string {
	switch s {
	case stateLocal:
		return "local"
	case stateRemote:
		return "remote"
	default:
		return "unchanged"
	}
}

// mergedNode is one node of the merged tree under construction.
type mergedNode struct {
	guid     models.Guid
	local    *tree.Node
	remote   *tree.Node
	state    mergeState
	upload   bool
	weak     bool
	children []*mergedNode
}

// content returns the node whose field values won the merge.
func (m *mergedNode) content() *tree.Node {
	if m.state == stateRemote && m.remote != nil {
		return m.remote
	}
	if m.local != nil {
		return m.local
	}
	return m.remote
}

// Stats counts the interesting decisions one merge made.
type Stats struct {
	Dedupes       int
	Forks         int
	Resurrections int
	LocalDeletes  int
	RemoteDeletes int
	Duration      time.Duration
}

// Merger reconciles tree pairs. Zero-value options fall back to defaults;
// NewGuid is injectable so tests get deterministic fork GUIDs.
type Merger struct {
	NewGuid func() (models.Guid, error)
}

// NewMerger returns a Merger with production defaults.
func NewMerger() *Merger {
	return &Merger{NewGuid: utils.NewGuid}
}

// Merge reconciles local against remote and returns the completion ops the
// applier must execute. The interrupt token is consulted between phases; on
// interruption the merge returns promptly with interrupt.ErrInterrupted and
// no ops.
func (mg *Merger) Merge(local, remote *tree.Tree, token *interrupt.Token) (*models.CompletionOps, *Stats, error) {
	started := time.Now()

	if local.Root() == nil || remote.Root() == nil {
		return nil, nil, tree.ErrMissingRoot
	}

	m := &mergeRun{
		merger:         mg,
		local:          local,
		remote:         remote,
		consumedLocal:  make(map[models.Guid]struct{}, local.Size()),
		consumedRemote: make(map[models.Guid]struct{}, remote.Size()),
		renames:        make(map[models.Guid]models.Guid),
		dedupTargets:   make(map[models.Guid]*tree.Node),
		byGuid:         make(map[models.Guid]*mergedNode, local.Size()+remote.Size()),
		stats:          &Stats{},
	}

	if err := token.Err(contextlessCheck); err != nil {
		return nil, nil, err
	}

	root := &mergedNode{
		guid:   models.RootGuid,
		local:  local.Root(),
		remote: remote.Root(),
		state:  stateUnchanged,
	}
	m.consumedLocal[models.RootGuid] = struct{}{}
	m.consumedRemote[models.RootGuid] = struct{}{}
	m.byGuid[models.RootGuid] = root

	if err := m.mergeChildren(root, local.Root(), remote.Root()); err != nil {
		return nil, nil, err
	}

	if err := token.Err(contextlessCheck); err != nil {
		return nil, nil, err
	}

	if err := m.sweepStragglers(root); err != nil {
		return nil, nil, err
	}

	if err := token.Err(contextlessCheck); err != nil {
		return nil, nil, err
	}

	ops, err := m.deriveOps(root)
	if err != nil {
		return nil, nil, err
	}

	m.stats.Duration = time.Since(started)

	return ops, m.stats, nil
}

// mergeRun is the per-invocation scratch state.
type mergeRun struct {
	merger         *Merger
	local          *tree.Tree
	remote         *tree.Tree
	consumedLocal  map[models.Guid]struct{}
	consumedRemote map[models.Guid]struct{}
	// renames maps original local GUIDs to their final merged GUIDs, for
	// dedup rewrites and kind-mismatch forks.
	renames map[models.Guid]models.Guid
	// dedupTargets maps a new remote GUID to the local node whose GUID is
	// being rewritten onto it.
	dedupTargets map[models.Guid]*tree.Node
	// byGuid indexes the merged tree under construction by final GUID.
	byGuid map[models.Guid]*mergedNode
	ops    models.CompletionOps
	stats  *Stats
}

func (m *mergeRun) finalGuid(localGuid models.Guid) models.Guid {
	if final, ok := m.renames[localGuid]; ok {
		return final
	}
	return localGuid
}

// mergeChildren reconciles one folder's child lists. Which side drives the
// ordering depends on which sides changed; when both changed, the walk
// follows remote order and slots local-only runs in after their nearest
// shared predecessor.
func (m *mergeRun) mergeChildren(parent *mergedNode, localFolder, remoteFolder *tree.Node) error {
	m.prepareDedup(localFolder, remoteFolder)

	localChanged := localFolder != nil && localFolder.NeedsMerge
	remoteChanged := remoteFolder != nil && remoteFolder.NeedsMerge

	switch {
	case localChanged && remoteChanged:
		if err := m.interleave(parent, localFolder, remoteFolder); err != nil {
			return err
		}
	case localChanged || remoteFolder == nil:
		if err := m.driveLocal(parent, localFolder, remoteFolder); err != nil {
			return err
		}
	default:
		if err := m.driveRemote(parent, localFolder, remoteFolder); err != nil {
			return err
		}
	}

	return nil
}

func (m *mergeRun) driveRemote(parent *mergedNode, localFolder, remoteFolder *tree.Node) error {
	for _, rc := range remoteFolder.Children {
		if err := m.placeRemoteChild(parent, rc); err != nil {
			return err
		}
	}

	if localFolder == nil {
		return nil
	}
	for _, lc := range localFolder.Children {
		if err := m.placeLocalChild(parent, lc); err != nil {
			return err
		}
	}

	return nil
}

func (m *mergeRun) driveLocal(parent *mergedNode, localFolder, remoteFolder *tree.Node) error {
	for _, lc := range localFolder.Children {
		if err := m.placeLocalChild(parent, lc); err != nil {
			return err
		}
	}

	if remoteFolder == nil {
		return nil
	}
	for _, rc := range remoteFolder.Children {
		if err := m.placeRemoteChild(parent, rc); err != nil {
			return err
		}
	}

	return nil
}

// interleave walks remote order and inserts runs of local-only children
// after the shared child that preceded them locally. A run with no shared
// predecessor goes first.
func (m *mergeRun) interleave(parent *mergedNode, localFolder, remoteFolder *tree.Node) error {
	remoteSet := make(map[models.Guid]struct{}, len(remoteFolder.Children))
	for _, rc := range remoteFolder.Children {
		remoteSet[rc.Guid] = struct{}{}
	}

	runs := make(map[models.Guid][]*tree.Node)
	var anchor models.Guid
	for _, lc := range localFolder.Children {
		final := m.finalGuid(lc.Guid)
		if _, shared := remoteSet[final]; shared {
			anchor = final
			continue
		}
		runs[anchor] = append(runs[anchor], lc)
	}

	emitRun := func(anchor models.Guid) error {
		for _, lc := range runs[anchor] {
			if err := m.placeLocalChild(parent, lc); err != nil {
				return err
			}
		}
		return nil
	}

	if err := emitRun(""); err != nil {
		return err
	}
	for _, rc := range remoteFolder.Children {
		if err := m.placeRemoteChild(parent, rc); err != nil {
			return err
		}
		if err := emitRun(rc.Guid); err != nil {
			return err
		}
	}

	// Shared children remote no longer lists (moved or deleted remotely)
	// still need a verdict.
	for _, lc := range localFolder.Children {
		if err := m.placeLocalChild(parent, lc); err != nil {
			return err
		}
	}

	return nil
}

// remoteParentWins resolves a relocation: the side whose parent folder
// changed wins; ties go to remote.
func remoteParentWins(localParent, remoteParent *tree.Node) bool {
	localChanged := localParent != nil && localParent.NeedsMerge
	remoteChanged := remoteParent != nil && remoteParent.NeedsMerge

	if localChanged && !remoteChanged {
		return false
	}
	return true
}

// contextlessCheck satisfies Token.Err's context parameter for the pure
// merge phase, which performs no blocking work of its own.
var contextlessCheck = context.Background()
