// Package engine orchestrates one bookmark sync cycle: fetch, stage, merge,
// apply, stage outgoing, upload, fold acknowledgements. Each step is
// individually callable so embedders that own their own transport can drive
// the cycle themselves.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MKhiriev/go-mark-sync/internal/apply"
	"github.com/MKhiriev/go-mark-sync/internal/incoming"
	"github.com/MKhiriev/go-mark-sync/internal/interrupt"
	"github.com/MKhiriev/go-mark-sync/internal/logger"
	"github.com/MKhiriev/go-mark-sync/internal/merge"
	"github.com/MKhiriev/go-mark-sync/internal/outgoing"
	"github.com/MKhiriev/go-mark-sync/internal/store"
	"github.com/MKhiriev/go-mark-sync/internal/telemetry"
	"github.com/MKhiriev/go-mark-sync/internal/transport"
	"github.com/MKhiriev/go-mark-sync/internal/tree"
	"github.com/MKhiriev/go-mark-sync/models"
)

// Engine is the sync engine over one places database.
type Engine struct {
	db        *store.DB
	storages  store.Storages
	client    transport.Client
	incoming  *incoming.Applicator
	merger    *merge.Merger
	applier   *apply.Applier
	stager    *outgoing.Stager
	telemetry telemetry.Sink
	logger    *logger.Logger
}

// Report summarises one sync cycle.
type Report struct {
	Fetched    int
	Applied    int
	Failed     int
	Tombstones int
	Staged     int
	Uploaded   int
}

// New constructs an Engine. chunkTarget bounds the wall clock of one
// transaction chunk.
func New(db *store.DB, storages store.Storages, client transport.Client, sink telemetry.Sink, log *logger.Logger, chunkTarget time.Duration) *Engine {
	return &Engine{
		db:        db,
		storages:  storages,
		client:    client,
		incoming:  incoming.NewApplicator(db, storages.Mirror, sink, log, chunkTarget),
		merger:    merge.NewMerger(),
		applier:   apply.NewApplier(db, storages, sink, log, chunkTarget),
		stager:    outgoing.NewStager(db, storages, log, chunkTarget),
		telemetry: sink,
		logger:    log,
	}
}

// StageIncoming decodes and stages a batch of raw server records into the
// mirror. Malformed records are counted and skipped, never fatal.
func (e *Engine) StageIncoming(ctx context.Context, records []models.RawRecord, token *interrupt.Token) (incoming.Stats, error) {
	return e.incoming.Stage(ctx, records, token)
}

// Apply merges the staged remote state with the local tree, writes the
// outcome locally and rebuilds the outgoing snapshot. Returns how many
// records were staged for upload.
func (e *Engine) Apply(ctx context.Context, token *interrupt.Token) (int, error) {
	log := logger.FromContext(ctx)

	// A crash between chunks can leave the trigger guard set; a set guard
	// would silence the concurrent-write check forever.
	if err := e.storages.Meta.SetApplyGuard(ctx, e.db, false); err != nil {
		return 0, err
	}

	if _, err := e.storages.Mirror.FlagDivergences(ctx); err != nil {
		return 0, err
	}

	nowMillis := time.Now().UnixMilli()

	local, err := e.buildLocalTree(ctx, nowMillis)
	if err != nil {
		return 0, fmt.Errorf("build local tree: %w", err)
	}
	remote, err := e.buildRemoteTree(ctx, nowMillis)
	if err != nil {
		return 0, fmt.Errorf("build remote tree: %w", err)
	}

	ops, stats, err := e.merger.Merge(local, remote, token)
	if err != nil {
		return 0, err
	}

	e.telemetry.Record(telemetry.MergeDuration{
		Duration:   stats.Duration,
		LocalSize:  local.Size(),
		RemoteSize: remote.Size(),
	})
	log.Debug().
		Str("func", "Engine.Apply").
		Int("dedupes", stats.Dedupes).
		Int("forks", stats.Forks).
		Int("resurrections", stats.Resurrections).
		Dur("merge_duration", stats.Duration).
		Msg("merge completed")

	if err = e.applier.Apply(ctx, ops, token); err != nil {
		return 0, err
	}

	return e.stager.Stage(ctx, ops, token)
}

// ListStaged returns the staged outgoing records, tombstones included.
func (e *Engine) ListStaged(ctx context.Context) ([]models.OutgoingRecord, error) {
	return e.stager.ListStaged(ctx)
}

// SetUploaded folds server acknowledgements into the mirror and advances the
// server watermark.
func (e *Engine) SetUploaded(ctx context.Context, acked []models.Guid, serverModified int64, token *interrupt.Token) error {
	return e.stager.SetUploaded(ctx, acked, serverModified, token)
}

// Reset discards everything tied to the current sync generation: the mirror,
// the staged outgoing snapshot and the server watermark. Local bookmarks
// survive and will be merged by content against the next generation.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.storages.Mirror.Clear(ctx); err != nil {
		return err
	}
	if err := e.storages.Outgoing.ClearStaged(ctx, e.db); err != nil {
		return err
	}
	if err := e.storages.Bookmarks.ResetSyncState(ctx); err != nil {
		return err
	}

	return e.clearMeta(ctx)
}

// Wipe deletes all user content, keeping only the roots, and resets the sync
// state the way Reset does.
func (e *Engine) Wipe(ctx context.Context) error {
	if err := e.storages.Bookmarks.WipeUserContent(ctx, time.Now().UnixMilli()); err != nil {
		return err
	}
	if err := e.storages.Mirror.Clear(ctx); err != nil {
		return err
	}
	if err := e.storages.Outgoing.ClearStaged(ctx, e.db); err != nil {
		return err
	}

	return e.clearMeta(ctx)
}

// HasChanges reports whether anything needs a sync: pending local changes,
// tombstones, or unmerged mirror rows.
func (e *Engine) HasChanges(ctx context.Context) (bool, error) {
	return e.storages.Bookmarks.HasAnyChanges(ctx)
}

// LastSync returns the server watermark of the last completed cycle, or the
// zero time if the engine has never synced.
func (e *Engine) LastSync(ctx context.Context) (time.Time, error) {
	millis, err := e.storages.Meta.GetInt64(ctx, store.MetaLastServerTS)
	if errors.Is(err, store.ErrMetaNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}

	return time.UnixMilli(millis), nil
}

// Sync runs one full cycle against the transport. A sync-generation change
// resets local sync state and restarts the fetch from scratch.
func (e *Engine) Sync(ctx context.Context, token *interrupt.Token) (*Report, error) {
	log := logger.FromContext(ctx)

	since := int64(0)
	if last, err := e.LastSync(ctx); err != nil {
		return nil, err
	} else if !last.IsZero() {
		since = last.UnixMilli()
	}

	fetched, err := e.client.Fetch(ctx, since)
	if errors.Is(err, transport.ErrSyncIDChanged) {
		if err = e.Reset(ctx); err != nil {
			return nil, err
		}
		fetched, err = e.client.Fetch(ctx, 0)
	}
	if err != nil {
		return nil, err
	}

	if fetched, err = e.checkAssociation(ctx, fetched); err != nil {
		return nil, err
	}

	stats, err := e.StageIncoming(ctx, fetched.Records, token)
	if err != nil {
		return nil, err
	}

	staged, err := e.Apply(ctx, token)
	if err != nil {
		return nil, err
	}

	if fetched.ServerModified > 0 {
		if err = e.storages.Meta.Put(ctx, store.MetaLastServerTS, fetched.ServerModified); err != nil {
			return nil, err
		}
	}

	report := &Report{
		Fetched:    stats.Incoming,
		Applied:    stats.Applied,
		Failed:     stats.Failed,
		Tombstones: stats.Tombstones,
		Staged:     staged,
	}

	records, err := e.stager.ListStaged(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return report, nil
	}

	uploaded, err := e.client.Upload(ctx, records)
	if err != nil {
		return nil, err
	}
	if err = e.SetUploaded(ctx, uploaded.Succeeded, uploaded.ServerModified, token); err != nil {
		return nil, err
	}
	report.Uploaded = len(uploaded.Succeeded)

	log.Info().
		Str("func", "Engine.Sync").
		Int("fetched", report.Fetched).
		Int("applied", report.Applied).
		Int("staged", report.Staged).
		Int("uploaded", report.Uploaded).
		Msg("sync cycle completed")

	return report, nil
}

// checkAssociation verifies the server's sync generation against the stored
// one. A mismatch discards the mirror and refetches from scratch; a first
// contact stores the generation.
func (e *Engine) checkAssociation(ctx context.Context, fetched *transport.FetchResult) (*transport.FetchResult, error) {
	stored, err := e.association(ctx)
	if err != nil {
		return nil, err
	}

	if stored.IsConnected() && stored != fetched.Association {
		e.logger.Warn().
			Str("func", "Engine.checkAssociation").
			Str("stored_global", stored.GlobalSyncID).
			Str("server_global", fetched.Association.GlobalSyncID).
			Msg("sync generation changed, resetting")
		e.telemetry.Record(telemetry.Breadcrumb{Message: "sync id changed, mirror reset"})

		if err = e.Reset(ctx); err != nil {
			return nil, err
		}
		if fetched, err = e.client.Fetch(ctx, 0); err != nil {
			return nil, err
		}
	}

	if fetched.Association.IsConnected() && fetched.Association != stored {
		if err = e.storages.Meta.Put(ctx, store.MetaGlobalSyncID, fetched.Association.GlobalSyncID); err != nil {
			return nil, err
		}
		if err = e.storages.Meta.Put(ctx, store.MetaCollectionSyncID, fetched.Association.CollectionSyncID); err != nil {
			return nil, err
		}
	}

	return fetched, nil
}

func (e *Engine) association(ctx context.Context) (models.SyncAssociation, error) {
	var assoc models.SyncAssociation
	var err error

	assoc.GlobalSyncID, err = e.storages.Meta.GetString(ctx, store.MetaGlobalSyncID)
	if err != nil && !errors.Is(err, store.ErrMetaNotFound) {
		return assoc, err
	}
	assoc.CollectionSyncID, err = e.storages.Meta.GetString(ctx, store.MetaCollectionSyncID)
	if err != nil && !errors.Is(err, store.ErrMetaNotFound) {
		return assoc, err
	}

	return assoc, nil
}

func (e *Engine) clearMeta(ctx context.Context) error {
	for _, key := range []string{store.MetaLastServerTS, store.MetaGlobalSyncID, store.MetaCollectionSyncID} {
		if err := e.storages.Meta.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) buildLocalTree(ctx context.Context, nowMillis int64) (*tree.Tree, error) {
	rows, err := e.storages.Bookmarks.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	tagsByPlace, err := e.storages.Bookmarks.FetchTagsByPlace(ctx)
	if err != nil {
		return nil, err
	}
	tombstones, err := e.storages.Bookmarks.FetchTombstones(ctx)
	if err != nil {
		return nil, err
	}

	return tree.BuildLocal(rows, tagsByPlace, tombstones, nowMillis)
}

func (e *Engine) buildRemoteTree(ctx context.Context, nowMillis int64) (*tree.Tree, error) {
	items, err := e.storages.Mirror.FetchItems(ctx)
	if err != nil {
		return nil, err
	}
	structure, err := e.storages.Mirror.FetchStructure(ctx)
	if err != nil {
		return nil, err
	}
	tombstones, err := e.storages.Mirror.FetchTombstones(ctx)
	if err != nil {
		return nil, err
	}
	tagsByItem, err := e.storages.Mirror.FetchTagsByItem(ctx)
	if err != nil {
		return nil, err
	}

	return tree.BuildRemote(items, structure, tombstones, tagsByItem, nowMillis)
}
