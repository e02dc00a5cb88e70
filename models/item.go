package models

// LocalItem is a row of the authoritative local bookmarks table.
//
// Position is the item's index among its parent's children; after a merge
// completes, children of every folder occupy positions 0..N-1 with no gaps.
// SyncChangeCounter is the authoritative "needs upload" signal: it is
// incremented on every local mutation and decremented by the uploader glue by
// exactly the value observed when the outgoing snapshot was taken.
type LocalItem struct {
	ID                int64
	Guid              Guid
	ParentID          int64
	ParentGuid        Guid
	Position          int
	Kind              Kind
	Title             string
	URL               string
	PlaceID           int64
	Keyword           string
	Tags              []string
	DateAdded         int64 // ms since epoch
	LastModified      int64 // ms since epoch
	SyncStatus        SyncStatus
	SyncChangeCounter int64
}

// MirrorItem is a row of the synced_items table: the client's snapshot of
// what the server last confirmed, plus per-cycle staging state.
type MirrorItem struct {
	Guid           Guid
	ParentGuid     Guid
	Position       int
	Kind           Kind
	Title          string
	URL            string
	Keyword        string
	Tags           []string
	Children       []Guid
	DateAdded      int64
	ServerModified int64
	NeedsMerge     bool
	IsOverridden   bool
	Validity       Validity
	// UnknownFields round-trips top-level wire fields this client does not
	// understand, as a raw JSON object.
	UnknownFields []byte
}

// Tombstone marks a locally deleted item whose deletion has not yet been
// uploaded. A GUID never appears both in the local tree and in the tombstone
// set.
type Tombstone struct {
	Guid        Guid
	DateRemoved int64 // ms since epoch
}

// SyncAssociation identifies the server-side sync generation the local
// metadata belongs to. When either ID changes the mirror is no longer
// meaningful and must be discarded.
type SyncAssociation struct {
	GlobalSyncID     string
	CollectionSyncID string
}

// IsConnected reports whether the association names a concrete generation.
func (a SyncAssociation) IsConnected() bool {
	return a.GlobalSyncID != "" && a.CollectionSyncID != ""
}
