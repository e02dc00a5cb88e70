package models

// GuidChange rewrites a local item's GUID. Dedup (a never-uploaded local item
// matched a new remote by content) and forks (kind mismatch between sides)
// both manifest as GUID changes; keeping them in their own phase makes the
// unique-GUID invariant easy to check.
type GuidChange struct {
	LocalGuid Guid
	NewGuid   Guid
	// SyncStatusNormal is set when only the GUID changed (pure dedup): the
	// item now matches a server-confirmed record and needs no upload.
	SyncStatusNormal bool
}

// StructureEntry fixes an item's final parent and position in the merged
// tree. Entries are applied in ascending Level order so a parent row always
// exists before its children reference it.
type StructureEntry struct {
	Guid       Guid
	ParentGuid Guid
	Position   int
	Level      int
}

// UploadItem schedules an item for the outgoing staging pass. Weak uploads
// propagate metadata (an older remote dateAdded) without bumping the change
// counter.
type UploadItem struct {
	Guid Guid
	Weak bool
}

// CompletionOps is the merger's entire output: everything the applier must
// do to make the local store match the merged tree, bucketed by phase.
// Order within a bucket is unspecified except for ApplyNewStructure, which
// is sorted by Level.
type CompletionOps struct {
	// Phase 1: GUID rewrites for dedup and forks.
	ChangeGuids []GuidChange
	// Phase 2: remote items whose content must be upserted locally. The
	// applier reads the values from the mirror by GUID.
	ApplyRemoteItems []Guid
	// Phase 4: final parent and position for every item the merge moved or
	// inserted.
	ApplyNewStructure []StructureEntry
	// Phase 5: items to delete locally (deleted remotely, unchanged here).
	// No tombstones are written for them: the deletion came from the server.
	DeleteLocalItems []Guid
	// Phase 6: tombstones to drop because the merge revived the item.
	DeleteLocalTombstones []Guid
	// Stager input: items to materialise as outgoing records.
	UploadItems []UploadItem
	// Local deletions that won the merge. The stager re-reads the tombstones
	// table when it snapshots, so this bucket only keeps a tombstone-only
	// merge from looking like a no-op.
	UploadTombstones []Guid
	// Phase 7: counters to zero (content fully merged, nothing to upload).
	SetMerged []Guid
	// Phase 7: counters to force >= 1 (local changes survive to next cycle).
	SetUnmerged []Guid
	// Phase 8: mirror rows whose needs_merge flag is cleared.
	SetRemoteMerged []Guid
}

// IsEmpty reports whether the merge produced no work at all.
func (o *CompletionOps) IsEmpty() bool {
	return len(o.ChangeGuids) == 0 &&
		len(o.ApplyRemoteItems) == 0 &&
		len(o.ApplyNewStructure) == 0 &&
		len(o.DeleteLocalItems) == 0 &&
		len(o.DeleteLocalTombstones) == 0 &&
		len(o.UploadItems) == 0 &&
		len(o.UploadTombstones) == 0 &&
		len(o.SetMerged) == 0 &&
		len(o.SetUnmerged) == 0 &&
		len(o.SetRemoteMerged) == 0
}
