package engine_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/MKhiriev/go-mark-sync/internal/config"
	"github.com/MKhiriev/go-mark-sync/internal/devserver"
	"github.com/MKhiriev/go-mark-sync/internal/engine"
	"github.com/MKhiriev/go-mark-sync/internal/interrupt"
	"github.com/MKhiriev/go-mark-sync/internal/logger"
	"github.com/MKhiriev/go-mark-sync/internal/store"
	"github.com/MKhiriev/go-mark-sync/internal/telemetry"
	"github.com/MKhiriev/go-mark-sync/internal/transport"
	"github.com/MKhiriev/go-mark-sync/migrations"
	"github.com/MKhiriev/go-mark-sync/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient drives the engine against an in-memory devserver collection,
// skipping HTTP entirely.
type fakeClient struct {
	collection *devserver.Collection
}

func (f *fakeClient) Fetch(ctx context.Context, sinceMillis int64) (*transport.FetchResult, error) {
	records, serverModified, globalSyncID, collectionSyncID := f.collection.Fetch(sinceMillis)

	result := &transport.FetchResult{
		Records:        make([]models.RawRecord, len(records)),
		ServerModified: serverModified,
		Association: models.SyncAssociation{
			GlobalSyncID:     globalSyncID,
			CollectionSyncID: collectionSyncID,
		},
	}
	for i, rec := range records {
		result.Records[i] = models.RawRecord{Payload: rec.Payload, ServerModified: rec.Modified}
	}

	return result, nil
}

func (f *fakeClient) Upload(ctx context.Context, records []models.OutgoingRecord) (*transport.UploadResult, error) {
	stored := make([]devserver.StoredRecord, len(records))
	for i, rec := range records {
		stored[i] = devserver.StoredRecord{ID: string(rec.Guid), Payload: rec.Payload}
	}

	accepted, serverModified := f.collection.Put(stored)

	result := &transport.UploadResult{
		Succeeded:      make([]models.Guid, len(accepted)),
		ServerModified: serverModified,
	}
	for i, id := range accepted {
		result.Succeeded[i] = models.Guid(id)
	}

	return result, nil
}

type harness struct {
	t          *testing.T
	db         *store.DB
	engine     *engine.Engine
	collection *devserver.Collection
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	log := logger.Nop()

	db, err := store.NewConnectSQLite(ctx, config.DB{DSN: filepath.Join(t.TempDir(), "places.db")}, log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migrations.Migrate(db.DB))

	collection := devserver.NewCollection()
	eng := engine.New(db, store.NewStorages(db, log), &fakeClient{collection: collection},
		telemetry.NewLogSink(log), log, time.Second)

	return &harness{t: t, db: db, engine: eng, collection: collection}
}

func (h *harness) sync() *engine.Report {
	h.t.Helper()
	report, err := h.engine.Sync(context.Background(), interrupt.NewToken())
	require.NoError(h.t, err)
	return report
}

// insertLocalBookmark places a new, never-uploaded bookmark under the menu
// root, the way a host application would.
func (h *harness) insertLocalBookmark(guid, title, url string) {
	h.t.Helper()
	now := time.Now().UnixMilli()

	res, err := h.db.ExecContext(context.Background(),
		`INSERT INTO places(url, url_hash) VALUES (?, url_hash(?))`, url, url)
	require.NoError(h.t, err)
	placeID, err := res.LastInsertId()
	require.NoError(h.t, err)

	_, err = h.db.ExecContext(context.Background(), `
		INSERT INTO bookmarks(guid, parent_id, position, kind, title, place_id,
		                      date_added, last_modified, sync_status, sync_change_counter)
		SELECT ?, id, 0, ?, ?, ?, ?, ?, ?, 1 FROM bookmarks WHERE guid = ?`,
		guid, int(models.KindBookmark), title, placeID, now, now,
		int(models.StatusNew), string(models.MenuGuid))
	require.NoError(h.t, err)
}

func (h *harness) seedRemote(payloads ...string) {
	h.t.Helper()
	records := make([]devserver.StoredRecord, len(payloads))
	for i, payload := range payloads {
		var envelope struct {
			ID string `json:"id"`
		}
		require.NoError(h.t, json.Unmarshal([]byte(payload), &envelope))
		records[i] = devserver.StoredRecord{ID: envelope.ID, Payload: json.RawMessage(payload)}
	}
	h.collection.Put(records)
}

func (h *harness) queryBookmark(guid string) (title string, status, counter int, ok bool) {
	h.t.Helper()
	err := h.db.QueryRowContext(context.Background(),
		`SELECT title, sync_status, sync_change_counter FROM bookmarks WHERE guid = ?`, guid).
		Scan(&title, &status, &counter)
	if err != nil {
		return "", 0, 0, false
	}
	return title, status, counter, true
}

// ─────────────────────────────────────────────
// Full cycles
// ─────────────────────────────────────────────

func TestSync_UploadsLocalAdditions(t *testing.T) {
	h := newHarness(t)
	h.insertLocalBookmark("bookmarkAAA1", "Example", "https://example.com/")

	report := h.sync()

	// The new bookmark plus its parent folder, whose children list changed.
	assert.Equal(t, 0, report.Fetched)
	assert.Equal(t, 2, report.Staged)
	assert.Equal(t, 2, report.Uploaded)
	assert.Equal(t, 2, h.collection.Len())

	_, status, counter, ok := h.queryBookmark("bookmarkAAA1")
	require.True(t, ok)
	assert.Equal(t, int(models.StatusNormal), status)
	assert.Zero(t, counter)

	changed, err := h.engine.HasChanges(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)

	last, err := h.engine.LastSync(context.Background())
	require.NoError(t, err)
	assert.False(t, last.IsZero())
}

func TestSync_SecondCycleIsIdle(t *testing.T) {
	h := newHarness(t)
	h.insertLocalBookmark("bookmarkAAA1", "Example", "https://example.com/")
	h.sync()

	report := h.sync()

	assert.Equal(t, 0, report.Fetched)
	assert.Equal(t, 0, report.Staged)
	assert.Equal(t, 0, report.Uploaded)
}

func TestSync_AppliesRemoteAdditions(t *testing.T) {
	h := newHarness(t)
	h.seedRemote(
		`{"id":"menu","type":"folder","parentid":"places","title":"menu","children":["bookmarkBBB2"]}`,
		`{"id":"bookmarkBBB2","type":"bookmark","parentid":"menu","parentName":"menu",`+
			`"title":"Remote","bmkUri":"https://remote.example/","dateAdded":1700000000000}`,
	)

	report := h.sync()

	assert.Equal(t, 2, report.Fetched)
	assert.Zero(t, report.Failed)

	title, status, counter, ok := h.queryBookmark("bookmarkBBB2")
	require.True(t, ok)
	assert.Equal(t, "Remote", title)
	assert.Equal(t, int(models.StatusNormal), status)
	assert.Zero(t, counter)

	// Nothing local changed, so nothing goes back up.
	assert.Zero(t, report.Uploaded)
	assert.Equal(t, 2, h.collection.Len())
}

func TestSync_LocalAndRemoteConverge(t *testing.T) {
	h := newHarness(t)
	h.insertLocalBookmark("bookmarkAAA1", "Local", "https://local.example/")
	h.seedRemote(
		`{"id":"toolbar","type":"folder","parentid":"places","title":"toolbar","children":["bookmarkBBB2"]}`,
		`{"id":"bookmarkBBB2","type":"bookmark","parentid":"toolbar","parentName":"toolbar",`+
			`"title":"Remote","bmkUri":"https://remote.example/","dateAdded":1700000000000}`,
	)

	report := h.sync()

	assert.Equal(t, 2, report.Fetched)
	assert.Positive(t, report.Uploaded)

	_, _, _, ok := h.queryBookmark("bookmarkBBB2")
	assert.True(t, ok, "remote bookmark should exist locally")
	_, status, _, ok := h.queryBookmark("bookmarkAAA1")
	require.True(t, ok)
	assert.Equal(t, int(models.StatusNormal), status)

	// Idle afterwards.
	report = h.sync()
	assert.Zero(t, report.Staged)
	assert.Zero(t, report.Uploaded)
}

func TestSync_GenerationChangeResetsAndReuploads(t *testing.T) {
	h := newHarness(t)
	h.insertLocalBookmark("bookmarkAAA1", "Example", "https://example.com/")
	h.sync()

	// Server-side node reassignment: fresh sync IDs, empty collection.
	h.collection.Rotate()

	report := h.sync()

	// Every user-content root plus the bookmark goes back up.
	assert.Equal(t, 5, report.Uploaded)
	assert.Equal(t, 5, h.collection.Len())

	_, status, counter, ok := h.queryBookmark("bookmarkAAA1")
	require.True(t, ok)
	assert.Equal(t, int(models.StatusNormal), status)
	assert.Zero(t, counter)

	// The new generation is adopted and the next cycle is idle.
	report = h.sync()
	assert.Zero(t, report.Staged)
	assert.Zero(t, report.Uploaded)
}

func TestSync_RemoteDeleteRemovesLocalItem(t *testing.T) {
	h := newHarness(t)
	h.insertLocalBookmark("bookmarkAAA1", "Example", "https://example.com/")
	h.sync()

	h.seedRemote(
		`{"id":"menu","type":"folder","parentid":"places","title":"menu","children":[]}`,
		`{"id":"bookmarkAAA1","deleted":true}`,
	)

	report := h.sync()
	assert.Equal(t, 2, report.Fetched)
	assert.Equal(t, 1, report.Tombstones)

	_, _, _, ok := h.queryBookmark("bookmarkAAA1")
	assert.False(t, ok, "remotely deleted bookmark should be gone")
}

func TestWipe_RemovesUserContentAndMeta(t *testing.T) {
	h := newHarness(t)
	h.insertLocalBookmark("bookmarkAAA1", "Example", "https://example.com/")
	h.sync()

	require.NoError(t, h.engine.Wipe(context.Background()))

	_, _, _, ok := h.queryBookmark("bookmarkAAA1")
	assert.False(t, ok)

	last, err := h.engine.LastSync(context.Background())
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}
