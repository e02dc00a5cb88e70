package models

import "fmt"

// Kind distinguishes the five bookmark item types carried by the bookmarks
// collection. An item's Kind never changes after creation: a kind mismatch
// between the local and remote copies of a GUID forces a fork onto a fresh
// GUID instead of mutating the item in place.
type Kind int

const (
	KindBookmark Kind = iota + 1
	KindQuery
	KindFolder
	KindLivemark
	KindSeparator
)

// kindNames maps kinds to their on-wire `type` values.
var kindNames = map[Kind]string{
	KindBookmark:  "bookmark",
	KindQuery:     "query",
	KindFolder:    "folder",
	KindLivemark:  "livemark",
	KindSeparator: "separator",
}

// KindFromWire translates an on-wire `type` value into a Kind.
func KindFromWire(name string) (Kind, error) {
	for kind, wire := range kindNames {
		if wire == name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown record type %q", name)
}

// WireName returns the on-wire `type` value for the kind.
func (k Kind) WireName() string {
	return kindNames[k]
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsFolder reports whether items of this kind may have children.
func (k Kind) IsFolder() bool {
	return k == KindFolder
}

// HasURL reports whether items of this kind carry a URL payload.
func (k Kind) HasURL() bool {
	return k == KindBookmark || k == KindQuery
}

// SyncStatus records how a local item relates to the server.
type SyncStatus int

const (
	// StatusUnknown marks items restored from backups or migrated from old
	// profiles; they are merged by content rather than trusted by GUID.
	StatusUnknown SyncStatus = iota
	// StatusNew marks items created locally and never uploaded.
	StatusNew
	// StatusNormal marks items the server has confirmed at least once.
	StatusNormal
)

func (s SyncStatus) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusNormal:
		return "normal"
	default:
		return "unknown"
	}
}

// Validity is the integrity status of a mirror item, derived at decode time
// and by the pre-merge coherence sweeps.
type Validity int

const (
	// ValidityValid: the remote item can be applied as-is.
	ValidityValid Validity = iota + 1
	// ValidityReupload: the remote item is applied, but the cleaned-up local
	// copy must be uploaded on the next cycle.
	ValidityReupload
	// ValidityReplace: the remote item is unusable (for example a bookmark
	// without a parseable URL); the local copy, if any, wins and is
	// reuploaded.
	ValidityReplace
)

func (v Validity) String() string {
	switch v {
	case ValidityValid:
		return "valid"
	case ValidityReupload:
		return "reupload"
	case ValidityReplace:
		return "replace"
	default:
		return fmt.Sprintf("validity(%d)", int(v))
	}
}
