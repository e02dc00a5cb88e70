// Package apply executes completion ops against the local store inside one
// logical, chunked transaction. Phases run in a fixed order so no
// intermediate chunk violates parent-exists, and a global change token
// aborts the whole apply if another writer raced it.
package apply

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MKhiriev/go-mark-sync/internal/interrupt"
	"github.com/MKhiriev/go-mark-sync/internal/logger"
	"github.com/MKhiriev/go-mark-sync/internal/store"
	"github.com/MKhiriev/go-mark-sync/internal/telemetry"
	"github.com/MKhiriev/go-mark-sync/models"
)

// ErrConcurrentWrite means another writer mutated the bookmarks table while
// the apply was in flight. The apply rolled back its open chunk; the cycle
// should be retried.
var ErrConcurrentWrite = errors.New("local tree changed during apply")

// Applier writes merge outcomes to the local store.
type Applier struct {
	db          *store.DB
	meta        store.MetaRepository
	apply       store.ApplyRepository
	bookmarks   store.BookmarksRepository
	telemetry   telemetry.Sink
	logger      *logger.Logger
	chunkTarget time.Duration
}

// NewApplier constructs an Applier over the given storages.
func NewApplier(db *store.DB, storages store.Storages, sink telemetry.Sink, log *logger.Logger, chunkTarget time.Duration) *Applier {
	return &Applier{
		db:          db,
		meta:        storages.Meta,
		apply:       storages.Apply,
		bookmarks:   storages.Bookmarks,
		telemetry:   sink,
		logger:      log,
		chunkTarget: chunkTarget,
	}
}

// Apply executes the ops. The change-token triggers are suppressed while the
// applier's own writes run, and re-enabled around chunk commits so racing
// writers are still observed. On a token mismatch at the end the open chunk
// is rolled back and ErrConcurrentWrite is returned.
func (a *Applier) Apply(ctx context.Context, ops *models.CompletionOps, token *interrupt.Token) error {
	log := logger.FromContext(ctx)

	if ops.IsEmpty() {
		return nil
	}

	nowMillis := time.Now().UnixMilli()

	tx, err := a.db.BeginChunked(ctx, a.chunkTarget, token)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tokenBefore, err := a.meta.ChangeToken(ctx, tx.Q())
	if err != nil {
		return err
	}
	if err = a.meta.SetApplyGuard(ctx, tx.Q(), true); err != nil {
		return err
	}

	phases := []struct {
		name string
		run  func(context.Context, *store.ChunkedTx) error
	}{
		{"change_guids", func(ctx context.Context, tx *store.ChunkedTx) error {
			return a.changeGuids(ctx, tx, ops.ChangeGuids, nowMillis)
		}},
		{"apply_remote", func(ctx context.Context, tx *store.ChunkedTx) error {
			return a.applyRemote(ctx, tx, ops.ApplyRemoteItems, nowMillis)
		}},
		{"apply_structure", func(ctx context.Context, tx *store.ChunkedTx) error {
			return a.applyStructure(ctx, tx, ops.ApplyNewStructure)
		}},
		{"deletions", func(ctx context.Context, tx *store.ChunkedTx) error {
			return a.apply.DeleteItems(ctx, tx.Q(), ops.DeleteLocalItems)
		}},
		{"revive_tombstones", func(ctx context.Context, tx *store.ChunkedTx) error {
			return a.apply.DeleteTombstones(ctx, tx.Q(), ops.DeleteLocalTombstones)
		}},
		{"counters", func(ctx context.Context, tx *store.ChunkedTx) error {
			if err := a.apply.ZeroChangeCounters(ctx, tx.Q(), ops.SetMerged); err != nil {
				return err
			}
			return a.apply.BumpChangeCounters(ctx, tx.Q(), ops.SetUnmerged)
		}},
		{"mark_remote_merged", func(ctx context.Context, tx *store.ChunkedTx) error {
			return a.apply.ClearNeedsMerge(ctx, tx.Q(), ops.SetRemoteMerged)
		}},
	}

	for _, phase := range phases {
		if err = phase.run(ctx, tx); err != nil {
			log.Err(err).
				Str("func", "Applier.Apply").
				Str("phase", phase.name).
				Msg("apply phase failed")
			return fmt.Errorf("apply phase %s: %w", phase.name, err)
		}
		if err = a.maybeCommit(ctx, tx); err != nil {
			return err
		}
	}

	tokenAfter, err := a.meta.ChangeToken(ctx, tx.Q())
	if err != nil {
		return err
	}
	if tokenAfter != tokenBefore {
		log.Warn().
			Str("func", "Applier.Apply").
			Int64("token_before", tokenBefore).
			Int64("token_after", tokenAfter).
			Msg("local tree changed during apply, rolling back")
		return ErrConcurrentWrite
	}

	if err = a.meta.SetApplyGuard(ctx, tx.Q(), false); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}

	a.reportOrphans(ctx)

	return nil
}

func (a *Applier) changeGuids(ctx context.Context, tx *store.ChunkedTx, changes []models.GuidChange, nowMillis int64) error {
	for _, change := range changes {
		if err := a.apply.ChangeGuid(ctx, tx.Q(), change, nowMillis); err != nil {
			return err
		}
		if err := a.maybeCommit(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

// applyRemote copies remote content into local rows. Stale frecencies are
// flagged before the upsert, while the old place ids are still visible.
func (a *Applier) applyRemote(ctx context.Context, tx *store.ChunkedTx, guids []models.Guid, nowMillis int64) error {
	if len(guids) == 0 {
		return nil
	}

	if err := a.apply.FlagStaleFrecencies(ctx, tx.Q(), guids, nowMillis); err != nil {
		return err
	}
	if err := a.apply.UpsertRemoteItems(ctx, tx.Q(), guids, nowMillis); err != nil {
		return err
	}
	return a.apply.ApplyRemoteKeywordsAndTags(ctx, tx.Q(), guids)
}

// applyStructure writes final parents and positions, parents before
// children: entries arrive sorted by level.
func (a *Applier) applyStructure(ctx context.Context, tx *store.ChunkedTx, entries []models.StructureEntry) error {
	for i, entry := range entries {
		if err := a.apply.ApplyStructure(ctx, tx.Q(), entry); err != nil {
			return err
		}
		// Committing mid-level is fine: each applied entry is a complete
		// parent/position fact.
		if i%64 == 63 {
			if err := a.maybeCommit(ctx, tx); err != nil {
				return err
			}
		}
	}
	return nil
}

// maybeCommit drops the apply guard around the chunk boundary so writes
// racing between chunks still bump the change token, then restores it.
func (a *Applier) maybeCommit(ctx context.Context, tx *store.ChunkedTx) error {
	if err := a.meta.SetApplyGuard(ctx, tx.Q(), false); err != nil {
		return err
	}
	if _, err := tx.MaybeCommit(ctx); err != nil {
		return err
	}
	return a.meta.SetApplyGuard(ctx, tx.Q(), true)
}

// reportOrphans runs the cheap post-apply orphan scan. A non-zero count is
// corruption telemetry, not an abort.
func (a *Applier) reportOrphans(ctx context.Context) {
	count, err := a.bookmarks.CountOrphans(ctx)
	if err != nil {
		a.logger.Err(err).
			Str("func", "Applier.reportOrphans").
			Msg("post-apply orphan scan failed")
		return
	}

	a.telemetry.Record(telemetry.OrphansFound{Count: count})
}
