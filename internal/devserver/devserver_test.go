// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package devserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/MKhiriev/go-mark-sync/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────

const testSignKey = "test-sign-key"

func newTestRouter(t *testing.T) (http.Handler, *Collection) {
	t.Helper()
	collection := NewCollection()
	h := NewHandler(collection, Config{SignKey: testSignKey}, logger.Nop())
	return h.Init(), collection
}

// issueToken obtains a bearer token through the public token endpoint.
func issueToken(t *testing.T, router http.Handler, deviceID string) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/auth/token",
		strings.NewReader(`{"deviceID":"`+deviceID+`"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	header := rec.Header().Get("Authorization")
	require.True(t, strings.HasPrefix(header, "Bearer "), "expected bearer token, got %q", header)

	return strings.TrimPrefix(header, "Bearer ")
}

func doAuthed(router http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// ─────────────────────────────────────────────
// Collection store
// ─────────────────────────────────────────────

func TestCollection_PutAssignsMonotonicTimestamps(t *testing.T) {
	c := NewCollection()

	accepted, first := c.Put([]StoredRecord{
		{ID: "bookmarkAAA1", Payload: json.RawMessage(`{"id":"bookmarkAAA1"}`)},
		{ID: "bookmarkBBB2", Payload: json.RawMessage(`{"id":"bookmarkBBB2"}`)},
	})
	require.Equal(t, []string{"bookmarkAAA1", "bookmarkBBB2"}, accepted)
	require.Positive(t, first)

	_, second := c.Put([]StoredRecord{
		{ID: "bookmarkAAA1", Payload: json.RawMessage(`{"id":"bookmarkAAA1","v":2}`)},
	})
	assert.Greater(t, second, first)
	assert.Equal(t, 2, c.Len())
}

func TestCollection_PutSkipsInvalidRecords(t *testing.T) {
	c := NewCollection()

	accepted, serverModified := c.Put([]StoredRecord{
		{ID: "", Payload: json.RawMessage(`{}`)},
		{ID: "bookmarkAAA1"},
	})

	assert.Empty(t, accepted)
	assert.Zero(t, serverModified)
	assert.Zero(t, c.Len())
}

func TestCollection_FetchHonoursWatermark(t *testing.T) {
	c := NewCollection()

	_, first := c.Put([]StoredRecord{
		{ID: "bookmarkAAA1", Payload: json.RawMessage(`{}`)},
	})
	_, second := c.Put([]StoredRecord{
		{ID: "bookmarkBBB2", Payload: json.RawMessage(`{}`)},
	})

	all, serverModified, _, _ := c.Fetch(0)
	require.Len(t, all, 2)
	assert.Equal(t, second, serverModified)

	newer, _, _, _ := c.Fetch(first)
	require.Len(t, newer, 1)
	assert.Equal(t, "bookmarkBBB2", newer[0].ID)

	none, _, _, _ := c.Fetch(second)
	assert.Empty(t, none)
}

func TestCollection_RotateStartsFreshGeneration(t *testing.T) {
	c := NewCollection()
	c.Put([]StoredRecord{{ID: "bookmarkAAA1", Payload: json.RawMessage(`{}`)}})

	_, _, oldGlobal, oldCollection := c.Fetch(0)
	newGlobal, newCollection := c.Rotate()

	assert.NotEqual(t, oldGlobal, newGlobal)
	assert.NotEqual(t, oldCollection, newCollection)
	assert.Zero(t, c.Len())

	records, serverModified, _, _ := c.Fetch(0)
	assert.Empty(t, records)
	assert.Zero(t, serverModified)
}

// ─────────────────────────────────────────────
// Token endpoint
// ─────────────────────────────────────────────

func TestToken_IssuesBearerToken(t *testing.T) {
	router, _ := newTestRouter(t)

	token := issueToken(t, router, "device-1")
	assert.NotEmpty(t, token)
}

func TestToken_RejectsBadRequests(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{not json`},
		{name: "empty device id", body: `{"deviceID":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/auth/token", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

// ─────────────────────────────────────────────
// Auth middleware
// ─────────────────────────────────────────────

func TestAuth_RejectsUnauthenticatedRequests(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "malformed header", header: "Bearer"},
		{name: "empty token", header: "Bearer "},
		{name: "garbage token", header: "Bearer not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/collection/bookmarks", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuth_RejectsTokenSignedWithOtherKey(t *testing.T) {
	routerA, _ := newTestRouter(t)

	otherHandler := NewHandler(NewCollection(), Config{SignKey: "other-key"}, logger.Nop())
	routerB := otherHandler.Init()

	token := issueToken(t, routerB, "device-1")

	rec := doAuthed(routerA, http.MethodGet, "/api/collection/bookmarks", token, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// ─────────────────────────────────────────────
// Trace ID middleware
// ─────────────────────────────────────────────

func TestTraceID_EchoedOrGenerated(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name     string
		incoming string
		echoed   bool
	}{
		{name: "client trace id is echoed", incoming: "sync-run-42", echoed: true},
		{name: "missing trace id gets generated", incoming: "", echoed: false},
		{name: "oversized trace id is replaced", incoming: strings.Repeat("x", maxTraceIDLength+1), echoed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/auth/token",
				strings.NewReader(`{"deviceID":"device-1"}`))
			if tt.incoming != "" {
				req.Header.Set(traceIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			got := rec.Header().Get(traceIDHeader)
			require.NotEmpty(t, got)
			if tt.echoed {
				assert.Equal(t, tt.incoming, got)
			} else {
				assert.NotEqual(t, tt.incoming, got)
				assert.LessOrEqual(t, len(got), maxTraceIDLength)
			}
		})
	}
}

// ─────────────────────────────────────────────
// Collection endpoints
// ─────────────────────────────────────────────

func TestCollectionEndpoints_UploadThenFetch(t *testing.T) {
	router, _ := newTestRouter(t)
	token := issueToken(t, router, "device-1")

	upload := `{"records":[
		{"id":"bookmarkAAA1","payload":{"id":"bookmarkAAA1","type":"bookmark"}},
		{"id":"folderBBBB02","payload":{"id":"folderBBBB02","type":"folder"}}
	]}`
	rec := doAuthed(router, http.MethodPost, "/api/collection/bookmarks", token, upload)
	require.Equal(t, http.StatusOK, rec.Code)

	var ur uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ur))
	assert.ElementsMatch(t, []string{"bookmarkAAA1", "folderBBBB02"}, ur.Success)
	assert.Positive(t, ur.ServerModified)

	rec = doAuthed(router, http.MethodGet, "/api/collection/bookmarks?newer=0", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var fr fetchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fr))
	require.Len(t, fr.Records, 2)
	assert.Equal(t, ur.ServerModified, fr.ServerModified)
	assert.NotEmpty(t, fr.GlobalSyncID)
	assert.NotEmpty(t, fr.CollectionSyncID)

	rec = doAuthed(router, http.MethodGet, "/api/collection/bookmarks?newer="+
		strconv.FormatInt(fr.ServerModified, 10), token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fr))
	assert.Empty(t, fr.Records)
}

func TestCollectionEndpoints_FetchRejectsBadWatermark(t *testing.T) {
	router, _ := newTestRouter(t)
	token := issueToken(t, router, "device-1")

	rec := doAuthed(router, http.MethodGet, "/api/collection/bookmarks?newer=abc", token, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCollectionEndpoints_UploadRejectsInvalidJSON(t *testing.T) {
	router, _ := newTestRouter(t)
	token := issueToken(t, router, "device-1")

	rec := doAuthed(router, http.MethodPost, "/api/collection/bookmarks", token, `{broken`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCollectionEndpoints_RotateChangesSyncIDs(t *testing.T) {
	router, collection := newTestRouter(t)
	token := issueToken(t, router, "device-1")

	_, _, oldGlobal, _ := collection.Fetch(0)

	rec := doAuthed(router, http.MethodPost, "/api/admin/rotate", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var rr rotateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rr))
	assert.NotEqual(t, oldGlobal, rr.GlobalSyncID)
}
