// Package outgoing materialises upload candidates into wire records and
// folds server acknowledgements back into the mirror. Staged records live in
// their own tables so an upload interrupted mid-flight resumes from the same
// snapshot instead of re-reading a tree that may have moved on.
package outgoing

import (
	"context"
	"sort"
	"time"

	"github.com/MKhiriev/go-mark-sync/internal/codec"
	"github.com/MKhiriev/go-mark-sync/internal/interrupt"
	"github.com/MKhiriev/go-mark-sync/internal/logger"
	"github.com/MKhiriev/go-mark-sync/internal/store"
	"github.com/MKhiriev/go-mark-sync/models"
)

const frecencyBatch = 64

// Stager builds the outgoing snapshot after a merge and applies server
// acknowledgements after an upload.
type Stager struct {
	db          *store.DB
	meta        store.MetaRepository
	bookmarks   store.BookmarksRepository
	mirror      store.MirrorRepository
	outgoing    store.OutgoingRepository
	logger      *logger.Logger
	chunkTarget time.Duration
}

// NewStager constructs a Stager over the given storages.
func NewStager(db *store.DB, storages store.Storages, log *logger.Logger, chunkTarget time.Duration) *Stager {
	return &Stager{
		db:          db,
		meta:        storages.Meta,
		bookmarks:   storages.Bookmarks,
		mirror:      storages.Mirror,
		outgoing:    storages.Outgoing,
		logger:      log,
		chunkTarget: chunkTarget,
	}
}

// Stage rebuilds the outgoing tables from scratch: every item the merge
// scheduled plus every item whose change counter is positive, and every
// pending local tombstone. Returns how many records were staged.
func (s *Stager) Stage(ctx context.Context, ops *models.CompletionOps, token *interrupt.Token) (int, error) {
	log := logger.FromContext(ctx)

	rows, err := s.bookmarks.FetchAll(ctx)
	if err != nil {
		return 0, err
	}
	tagsByPlace, err := s.bookmarks.FetchTagsByPlace(ctx)
	if err != nil {
		return 0, err
	}
	tombstones, err := s.bookmarks.FetchTombstones(ctx)
	if err != nil {
		return 0, err
	}
	unknownByGuid, err := s.unknownFields(ctx)
	if err != nil {
		return 0, err
	}

	byGuid := make(map[models.Guid]*store.LocalRow, len(rows))
	childrenByParent := make(map[models.Guid][]*store.LocalRow)
	for i := range rows {
		row := &rows[i]
		byGuid[row.Guid] = row
		if row.ParentGuid != "" {
			childrenByParent[row.ParentGuid] = append(childrenByParent[row.ParentGuid], row)
		}
	}
	for _, children := range childrenByParent {
		sort.Slice(children, func(i, j int) bool {
			return children[i].Position < children[j].Position
		})
	}

	weak := make(map[models.Guid]bool, len(ops.UploadItems))
	candidates := make(map[models.Guid]struct{}, len(ops.UploadItems))
	for _, up := range ops.UploadItems {
		candidates[up.Guid] = struct{}{}
		if up.Weak {
			weak[up.Guid] = true
		}
	}
	for i := range rows {
		if rows[i].SyncChangeCounter > 0 {
			candidates[rows[i].Guid] = struct{}{}
		}
	}
	delete(candidates, models.RootGuid)

	guids := make([]models.Guid, 0, len(candidates))
	for g := range candidates {
		guids = append(guids, g)
	}
	sort.Slice(guids, func(i, j int) bool { return guids[i] < guids[j] })

	tx, err := s.db.BeginChunked(ctx, s.chunkTarget, token)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err = s.outgoing.ClearStaged(ctx, tx.Q()); err != nil {
		return 0, err
	}

	staged := 0

	for _, guid := range guids {
		row, ok := byGuid[guid]
		if !ok {
			// Scheduled for upload but gone from the local table: the item
			// was deleted between merge and staging. The tombstone pass
			// covers it.
			continue
		}

		rec, encodeErr := codec.EncodeItem(s.itemToUpload(row, byGuid, childrenByParent, tagsByPlace, unknownByGuid))
		if encodeErr != nil {
			log.Err(encodeErr).
				Str("func", "Stager.Stage").
				Str("guid", string(guid)).
				Msg("failed to encode outgoing record")
			return 0, encodeErr
		}

		counter := row.SyncChangeCounter
		if weak[guid] {
			// Weak uploads push metadata only; a zero counter snapshot makes
			// the post-upload decrement a no-op.
			counter = 0
		} else if counter < 1 {
			counter = 1
		}

		if err = s.outgoing.StageItem(ctx, tx.Q(), rec, counter, weak[guid]); err != nil {
			return 0, err
		}
		staged++

		if _, err = tx.MaybeCommit(ctx); err != nil {
			return 0, err
		}
	}

	for _, t := range tombstones {
		if t.Guid.IsSyncableRoot() {
			continue
		}
		if err = s.outgoing.StageTombstone(ctx, tx.Q(), t.Guid); err != nil {
			return 0, err
		}
		staged++
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}

	return staged, nil
}

// ListStaged materialises the staged snapshot for the transport: item
// records as staged, tombstones encoded on the fly.
func (s *Stager) ListStaged(ctx context.Context) ([]models.OutgoingRecord, error) {
	items, tombstones, err := s.outgoing.ListStaged(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]models.OutgoingRecord, 0, len(items)+len(tombstones))
	records = append(records, items...)

	for _, guid := range tombstones {
		rec, encodeErr := codec.EncodeTombstone(guid)
		if encodeErr != nil {
			return nil, encodeErr
		}
		records = append(records, rec)
	}

	return records, nil
}

// SetUploaded folds acknowledged uploads into the mirror: counters are
// decremented by their staged snapshots, mirror rows are rebuilt from the
// local table, confirmed tombstones replace pending ones, and the staged
// rows are released. Finally the flagged frecencies are recomputed.
func (s *Stager) SetUploaded(ctx context.Context, acked []models.Guid, serverModified int64, token *interrupt.Token) error {
	if len(acked) == 0 {
		return nil
	}

	_, stagedTombstones, err := s.outgoing.ListStaged(ctx)
	if err != nil {
		return err
	}

	tombstoneSet := make(map[models.Guid]struct{}, len(stagedTombstones))
	for _, g := range stagedTombstones {
		tombstoneSet[g] = struct{}{}
	}

	items := make([]models.Guid, 0, len(acked))
	tombstones := make([]models.Guid, 0, len(tombstoneSet))
	for _, g := range acked {
		if _, ok := tombstoneSet[g]; ok {
			tombstones = append(tombstones, g)
		} else {
			items = append(items, g)
		}
	}

	tx, err := s.db.BeginChunked(ctx, s.chunkTarget, token)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Counter decrement reads the staged snapshots, so it must precede
	// DropStaged.
	if err = s.outgoing.DecrementCounters(ctx, tx.Q(), items); err != nil {
		return err
	}
	if err = s.outgoing.FoldUploadedItems(ctx, tx.Q(), items, serverModified); err != nil {
		return err
	}
	if _, err = tx.MaybeCommit(ctx); err != nil {
		return err
	}
	if err = s.outgoing.FoldUploadedTombstones(ctx, tx.Q(), tombstones, serverModified); err != nil {
		return err
	}
	if err = s.outgoing.DropStaged(ctx, tx.Q(), acked); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}

	if err = s.meta.Put(ctx, store.MetaLastServerTS, serverModified); err != nil {
		return err
	}

	return s.recalculateFrecencies(ctx, token)
}

func (s *Stager) recalculateFrecencies(ctx context.Context, token *interrupt.Token) error {
	for {
		if err := token.Err(ctx); err != nil {
			return err
		}

		n, err := s.outgoing.RecalculateStaleFrecencies(ctx, frecencyBatch)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// unknownFields indexes preserved wire fields by GUID so re-uploads carry
// them through verbatim.
func (s *Stager) unknownFields(ctx context.Context) (map[models.Guid][]byte, error) {
	mirrorRows, err := s.mirror.FetchItems(ctx)
	if err != nil {
		return nil, err
	}

	unknown := make(map[models.Guid][]byte)
	for i := range mirrorRows {
		if len(mirrorRows[i].UnknownFields) > 0 {
			unknown[mirrorRows[i].Guid] = mirrorRows[i].UnknownFields
		}
	}

	return unknown, nil
}

func (s *Stager) itemToUpload(
	row *store.LocalRow,
	byGuid map[models.Guid]*store.LocalRow,
	childrenByParent map[models.Guid][]*store.LocalRow,
	tagsByPlace map[int64]store.TagSet,
	unknownByGuid map[models.Guid][]byte,
) codec.ItemToUpload {
	item := codec.ItemToUpload{
		Guid:          row.Guid,
		Kind:          row.Kind,
		ParentGuid:    row.ParentGuid,
		Title:         row.Title,
		URL:           row.URL,
		Keyword:       row.Keyword,
		Position:      row.Position,
		DateAdded:     row.DateAdded,
		UnknownFields: unknownByGuid[row.Guid],
	}

	if parent, ok := byGuid[row.ParentGuid]; ok {
		item.ParentTitle = parent.Title
	}
	if row.PlaceID != 0 {
		item.Tags = tagsByPlace[row.PlaceID].Tags
	}
	if row.Kind.IsFolder() {
		children := childrenByParent[row.Guid]
		item.Children = make([]models.Guid, len(children))
		for i, child := range children {
			item.Children[i] = child.Guid
		}
	}

	return item
}
