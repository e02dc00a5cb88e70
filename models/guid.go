// Package models defines the domain types shared across the sync engine:
// GUIDs, item kinds, local and mirror items, tombstones, wire records and
// the completion operations exchanged between the merger and the applier.
package models

// Guid is the stable 12-character identifier of a bookmark item. GUIDs are
// opaque and shared across devices; the engine never interprets their
// contents beyond validity checks.
type Guid string

// The five syncable roots. Their GUIDs are fixed by the wire protocol and
// never change, are never uploaded as deletions, and always exist locally.
const (
	RootGuid    Guid = "root________"
	MenuGuid    Guid = "menu________"
	ToolbarGuid Guid = "toolbar_____"
	UnfiledGuid Guid = "unfiled_____"
	MobileGuid  Guid = "mobile______"
)

// UserContentRoots lists the four roots user items live under, in canonical
// order.
var UserContentRoots = []Guid{MenuGuid, ToolbarGuid, UnfiledGuid, MobileGuid}

// IsUserContentRoot reports whether g is one of the four content roots.
func (g Guid) IsUserContentRoot() bool {
	for _, root := range UserContentRoots {
		if g == root {
			return true
		}
	}
	return false
}

// IsSyncableRoot reports whether g is the tree root or a content root.
func (g Guid) IsSyncableRoot() bool {
	return g == RootGuid || g.IsUserContentRoot()
}

// IsValid reports whether g is a well-formed sync GUID: exactly 12 characters
// drawn from the base64url alphabet with '-' and '_' allowed.
func (g Guid) IsValid() bool {
	if len(g) != 12 {
		return false
	}
	for i := 0; i < len(g); i++ {
		c := g[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

func (g Guid) String() string {
	return string(g)
}
