package tree

import (
	"errors"
	"fmt"

	"github.com/MKhiriev/go-mark-sync/models"
)

// Corruption sentinels. The merger refuses to run over a corrupt tree; the
// cycle is aborted and reported, never crashed on.
var (
	ErrCorrupt     = errors.New("corrupt bookmark tree")
	ErrMissingRoot = fmt.Errorf("%w: missing root", ErrCorrupt)
	ErrCycle       = fmt.Errorf("%w: cycle detected", ErrCorrupt)
)

// maxDepth bounds parent-chain traversals; exceeding it is treated as a
// cycle.
const maxDepth = 512

// Tree is a rooted bookmark tree with by-GUID lookup and an attached set of
// deletions (tombstones known on that side).
type Tree struct {
	root    *Node
	byGuid  map[models.Guid]*Node
	deleted map[models.Guid]struct{}
}

// New returns a tree holding only the given root node.
func New(root *Node) *Tree {
	root.Level = 0
	return &Tree{
		root:    root,
		byGuid:  map[models.Guid]*Node{root.Guid: root},
		deleted: make(map[models.Guid]struct{}),
	}
}

// Root returns the tree root.
func (t *Tree) Root() *Node {
	return t.root
}

// Node returns the node for the GUID, or nil.
func (t *Tree) Node(guid models.Guid) *Node {
	return t.byGuid[guid]
}

// Size returns the number of nodes, root included.
func (t *Tree) Size() int {
	return len(t.byGuid)
}

// Insert appends node as the last child of parent. The GUID must be new to
// the tree and the parent must be a folder already in it.
func (t *Tree) Insert(parent *Node, node *Node) error {
	if _, dup := t.byGuid[node.Guid]; dup {
		return fmt.Errorf("%w: duplicate guid %s", ErrCorrupt, node.Guid)
	}
	if t.byGuid[parent.Guid] != parent {
		return fmt.Errorf("%w: parent %s not in tree", ErrCorrupt, parent.Guid)
	}
	if !parent.IsFolder() && !parent.IsRoot() {
		return fmt.Errorf("%w: parent %s is not a folder", ErrCorrupt, parent.Guid)
	}
	if parent.Level+1 > maxDepth {
		return fmt.Errorf("%w: depth limit at %s", ErrCycle, node.Guid)
	}

	node.Parent = parent
	node.Level = parent.Level + 1
	parent.Children = append(parent.Children, node)
	t.byGuid[node.Guid] = node

	return nil
}

// NoteDeleted records that guid is deleted on this side.
func (t *Tree) NoteDeleted(guid models.Guid) {
	t.deleted[guid] = struct{}{}
}

// IsDeleted reports whether guid is deleted on this side.
func (t *Tree) IsDeleted(guid models.Guid) bool {
	_, ok := t.deleted[guid]
	return ok
}

// Deletions returns the GUIDs deleted on this side, in no particular order.
func (t *Tree) Deletions() []models.Guid {
	guids := make([]models.Guid, 0, len(t.deleted))
	for g := range t.deleted {
		guids = append(guids, g)
	}
	return guids
}

// Guids returns all GUIDs present in the tree, in no particular order.
func (t *Tree) Guids() []models.Guid {
	guids := make([]models.Guid, 0, len(t.byGuid))
	for g := range t.byGuid {
		guids = append(guids, g)
	}
	return guids
}
