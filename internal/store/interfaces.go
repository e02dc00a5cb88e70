package store

import (
	"context"

	"github.com/MKhiriev/go-mark-sync/models"
)

// LocalRow is one row of the authoritative bookmarks table, joined with its
// parent GUID, place URL and keyword.
type LocalRow struct {
	ID                int64
	Guid              models.Guid
	ParentGuid        models.Guid // "" for the root
	Position          int
	Kind              models.Kind
	Title             string
	PlaceID           int64 // 0 when the item has no URL
	URL               string
	Keyword           string
	DateAdded         int64
	LastModified      int64
	SyncStatus        models.SyncStatus
	SyncChangeCounter int64
}

// SyncedItemRow is one row of the synced_items mirror table joined with its
// place URL.
type SyncedItemRow struct {
	ID             int64
	Guid           models.Guid
	ParentGuid     models.Guid // record's stated parent, advisory
	ServerModified int64
	NeedsMerge     bool
	IsOverridden   bool
	Kind           models.Kind
	DateAdded      int64
	Title          string
	Keyword        string
	Validity       models.Validity
	PlaceID        int64
	URL            string
	UnknownFields  []byte
}

// StructureRow is one parent/child claim from a synced folder record.
type StructureRow struct {
	Guid       models.Guid
	ParentGuid models.Guid
	Position   int
}

// SyncedTombstoneRow is one staged remote deletion.
type SyncedTombstoneRow struct {
	Guid           models.Guid
	ServerModified int64
	NeedsMerge     bool
}

// TagSet holds one item's (or place's) tags together with the sum of their
// tag-table ids, the O(n) proxy the coherence sweep compares with.
type TagSet struct {
	Tags  []string
	IDSum int64
}

// MetaRepository accesses the sync_meta key-value table.
type MetaRepository interface {
	GetString(ctx context.Context, key string) (string, error)
	GetInt64(ctx context.Context, key string) (int64, error)
	Put(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error

	// ChangeToken reads the global change token: a counter bumped by
	// triggers on every non-applier write to the bookmarks table.
	ChangeToken(ctx context.Context, q Querier) (int64, error)

	// SetApplyGuard suppresses (on=true) or re-enables the change-token
	// triggers while the applier writes. Must run inside the applier's
	// transaction.
	SetApplyGuard(ctx context.Context, q Querier, on bool) error
}

// BookmarksRepository reads and mutates the authoritative local tree.
type BookmarksRepository interface {
	FetchAll(ctx context.Context) ([]LocalRow, error)
	FetchTagsByPlace(ctx context.Context) (map[int64]TagSet, error)
	FetchTombstones(ctx context.Context) ([]models.Tombstone, error)
	FetchChildrenGuids(ctx context.Context, folder models.Guid) ([]models.Guid, error)
	HasLocalChanges(ctx context.Context) (bool, error)
	HasAnyChanges(ctx context.Context) (bool, error)
	CountOrphans(ctx context.Context) (int, error)

	// Local mutations, used by the embedding application and by fixtures.
	// Every mutation bumps the item's change counter and the global change
	// token.
	Insert(ctx context.Context, item *models.LocalItem) error
	SetTitle(ctx context.Context, guid models.Guid, title string, nowMillis int64) error
	Delete(ctx context.Context, guid models.Guid, nowMillis int64) error

	// ResetSyncState returns every item to sync_status=new with a positive
	// change counter and drops pending tombstones. Used when the sync
	// generation changes and the mirror is discarded.
	ResetSyncState(ctx context.Context) error
	// WipeUserContent deletes everything except the five roots.
	WipeUserContent(ctx context.Context, nowMillis int64) error
}

// MirrorRepository maintains the synced_* staging and mirror tables.
type MirrorRepository interface {
	UpsertItem(ctx context.Context, q Querier, rec *models.StagedRecord) error
	UpsertTombstone(ctx context.Context, q Querier, guid models.Guid, serverModified int64) error
	ReplaceStructure(ctx context.Context, q Querier, folder models.Guid, children []models.Guid) error

	FetchItems(ctx context.Context) ([]SyncedItemRow, error)
	FetchStructure(ctx context.Context) ([]StructureRow, error)
	FetchTombstones(ctx context.Context) ([]SyncedTombstoneRow, error)
	FetchTagsByItem(ctx context.Context) (map[int64]TagSet, error)

	// FlagDivergences runs the pre-merge keyword and tag coherence sweeps,
	// marking offending rows validity=reupload. Returns rows flagged.
	FlagDivergences(ctx context.Context) (int64, error)

	Clear(ctx context.Context) error
}

// ApplyRepository is the applier's write surface. Every method takes a
// Querier so the whole apply runs inside one chunked transaction.
type ApplyRepository interface {
	ChangeGuid(ctx context.Context, q Querier, change models.GuidChange, nowMillis int64) error
	FlagStaleFrecencies(ctx context.Context, q Querier, guids []models.Guid, nowMillis int64) error
	UpsertRemoteItems(ctx context.Context, q Querier, guids []models.Guid, nowMillis int64) error
	ApplyRemoteKeywordsAndTags(ctx context.Context, q Querier, guids []models.Guid) error
	ApplyStructure(ctx context.Context, q Querier, entry models.StructureEntry) error
	DeleteItems(ctx context.Context, q Querier, guids []models.Guid) error
	DeleteTombstones(ctx context.Context, q Querier, guids []models.Guid) error
	ZeroChangeCounters(ctx context.Context, q Querier, guids []models.Guid) error
	BumpChangeCounters(ctx context.Context, q Querier, guids []models.Guid) error
	ClearNeedsMerge(ctx context.Context, q Querier, guids []models.Guid) error
}

// OutgoingRepository stages outgoing records and folds acknowledged uploads
// back into the mirror.
type OutgoingRepository interface {
	StageItem(ctx context.Context, q Querier, rec models.OutgoingRecord, changeCounter int64, weak bool) error
	StageTombstone(ctx context.Context, q Querier, guid models.Guid) error
	ClearStaged(ctx context.Context, q Querier) error
	ListStaged(ctx context.Context) ([]models.OutgoingRecord, []models.Guid, error)

	DecrementCounters(ctx context.Context, q Querier, guids []models.Guid) error
	FoldUploadedItems(ctx context.Context, q Querier, guids []models.Guid, serverModified int64) error
	FoldUploadedTombstones(ctx context.Context, q Querier, guids []models.Guid, serverModified int64) error
	DropStaged(ctx context.Context, q Querier, guids []models.Guid) error

	RecalculateStaleFrecencies(ctx context.Context, limit int) (int, error)
}

// Storages bundles the repositories over one database connection.
type Storages struct {
	DB        *DB
	Meta      MetaRepository
	Bookmarks BookmarksRepository
	Mirror    MirrorRepository
	Apply     ApplyRepository
	Outgoing  OutgoingRepository
}
