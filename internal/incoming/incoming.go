// Package incoming stages batches of fetched wire records into the mirror's
// staging tables. Staging is idempotent per GUID: re-running an interrupted
// batch converges on the same rows.
package incoming

import (
	"context"
	"fmt"
	"time"

	"github.com/MKhiriev/go-mark-sync/internal/codec"
	"github.com/MKhiriev/go-mark-sync/internal/interrupt"
	"github.com/MKhiriev/go-mark-sync/internal/logger"
	"github.com/MKhiriev/go-mark-sync/internal/store"
	"github.com/MKhiriev/go-mark-sync/internal/telemetry"
	"github.com/MKhiriev/go-mark-sync/models"
)

// Applicator decodes raw records and upserts them into the staging tables
// inside a chunked transaction.
type Applicator struct {
	db          *store.DB
	mirror      store.MirrorRepository
	telemetry   telemetry.Sink
	logger      *logger.Logger
	chunkTarget time.Duration
}

// NewApplicator constructs an incoming applicator over the given storages.
func NewApplicator(db *store.DB, mirror store.MirrorRepository, sink telemetry.Sink, log *logger.Logger, chunkTarget time.Duration) *Applicator {
	return &Applicator{
		db:          db,
		mirror:      mirror,
		telemetry:   sink,
		logger:      log,
		chunkTarget: chunkTarget,
	}
}

// Stats summarises one staging pass.
type Stats struct {
	Incoming   int
	Applied    int
	Failed     int
	Tombstones int
}

// Stage decodes and stages one batch. Malformed records are reported to
// telemetry and skipped; only an error outside record decoding (storage,
// interruption) aborts the batch. Between records the enclosing transaction
// is given a chance to commit and reopen, so a restart re-stages at most the
// uncommitted tail.
func (a *Applicator) Stage(ctx context.Context, records []models.RawRecord, token *interrupt.Token) (Stats, error) {
	log := logger.FromContext(ctx)
	stats := Stats{Incoming: len(records)}

	if len(records) == 0 {
		return stats, nil
	}

	tx, err := a.db.BeginChunked(ctx, a.chunkTarget, token)
	if err != nil {
		return stats, err
	}
	defer tx.Rollback()

	for _, raw := range records {
		staged, decodeErr := codec.Decode(raw)
		if decodeErr != nil {
			stats.Failed++
			a.telemetry.Record(telemetry.ValidationProblem{Reason: decodeErr.Error()})
			log.Warn().
				Str("func", "Applicator.Stage").
				Err(decodeErr).
				Msg("skipping malformed incoming record")
			continue
		}

		if stageErr := a.stageOne(ctx, tx.Q(), staged); stageErr != nil {
			return stats, fmt.Errorf("failed to stage record %s: %w", staged.Guid, stageErr)
		}

		if staged.IsTombstone {
			stats.Tombstones++
		} else {
			stats.Applied++
		}

		if _, commitErr := tx.MaybeCommit(ctx); commitErr != nil {
			return stats, commitErr
		}
	}

	if err = tx.Commit(); err != nil {
		return stats, err
	}

	a.telemetry.Record(telemetry.FetchStats{
		Incoming:   stats.Incoming,
		Applied:    stats.Applied,
		Failed:     stats.Failed,
		Tombstones: stats.Tombstones,
	})

	return stats, nil
}

func (a *Applicator) stageOne(ctx context.Context, q store.Querier, staged *models.StagedRecord) error {
	if staged.IsTombstone {
		return a.mirror.UpsertTombstone(ctx, q, staged.Guid, staged.ServerModified)
	}

	if err := a.mirror.UpsertItem(ctx, q, staged); err != nil {
		return err
	}

	if staged.Kind.IsFolder() {
		return a.mirror.ReplaceStructure(ctx, q, staged.Guid, staged.Children)
	}

	return nil
}
