// Package tree builds the in-memory local and remote bookmark trees the
// merger consumes. Each node carries the metadata the merge decisions need:
// a needs-merge flag, a validity status, an age for tie-breaks and a content
// fingerprint for deduplication.
package tree

import (
	"fmt"

	"github.com/MKhiriev/go-mark-sync/models"
)

// Node is one item of an in-memory tree. Children are ordered.
type Node struct {
	Guid         models.Guid
	Kind         models.Kind
	Title        string
	URL          string
	Keyword      string
	Tags         []string
	DateAdded    int64
	LastModified int64

	// Age is the item's staleness in milliseconds relative to the sync
	// clock, used only for tie-breaks. Never negative.
	Age int64

	// NeedsMerge is true iff this side changed since the last sync: a
	// positive change counter locally, the needs_merge flag remotely.
	NeedsMerge bool

	Validity   models.Validity
	SyncStatus models.SyncStatus

	// Level is the node's depth; the root is level 0.
	Level int

	Parent   *Node
	Children []*Node
}

// IsFolder reports whether the node may carry children.
func (n *Node) IsFolder() bool {
	return n.Kind.IsFolder()
}

// IsRoot reports whether the node is the tree root.
func (n *Node) IsRoot() bool {
	return n.Guid == models.RootGuid
}

// Position returns the node's index among its parent's children, or -1 for
// the root.
func (n *Node) Position() int {
	if n.Parent == nil {
		return -1
	}
	for i, sibling := range n.Parent.Children {
		if sibling == n {
			return i
		}
	}
	return -1
}

// Fingerprint returns the node's content fingerprint for deduplication, and
// whether the node is dedupable at all. Folders match on title, bookmarks
// and queries on title plus URL, separators on their position. Roots and
// livemarks never dedupe.
func (n *Node) Fingerprint() (string, bool) {
	if n.Guid.IsSyncableRoot() {
		return "", false
	}

	switch n.Kind {
	case models.KindBookmark, models.KindQuery:
		if n.URL == "" {
			return "", false
		}
		return fmt.Sprintf("b\x00%s\x00%s", n.Title, n.URL), true
	case models.KindFolder:
		return fmt.Sprintf("f\x00%s", n.Title), true
	case models.KindSeparator:
		return fmt.Sprintf("s\x00%d", n.Position()), true
	default:
		return "", false
	}
}

func (n *Node) String() string {
	return fmt.Sprintf("%s (%s)", n.Guid, n.Kind)
}
