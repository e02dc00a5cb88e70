// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-mark-sync/internal/utils"
	"github.com/MKhiriev/go-mark-sync/models"
)

const testSignKey = "transport-test-key"

// issueToken answers the token endpoint the way the sync server does: JWT in
// the Authorization response header.
func issueToken(t *testing.T, w http.ResponseWriter, r *http.Request) string {
	t.Helper()

	var body struct {
		DeviceID string `json:"deviceID"`
	}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

	token, err := utils.GenerateJWT("test-server", body.DeviceID, time.Hour, testSignKey)
	require.NoError(t, err)

	w.Header().Set("Authorization", "Bearer "+token)
	w.WriteHeader(http.StatusOK)
	return body.DeviceID
}

func newTestClient(serverURL string) Client {
	return NewHTTPClient(Config{
		BaseURL:  serverURL,
		DeviceID: "device-under-test",
		Timeout:  5 * time.Second,
	})
}

// ── Fetch ───────────────────────────────────────────────────────────────────

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/token" {
			deviceID := issueToken(t, w, r)
			assert.Equal(t, "device-under-test", deviceID)
			return
		}

		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/collection/bookmarks", r.URL.Path)
		assert.Equal(t, "1500", r.URL.Query().Get("newer"))
		assert.NotEmpty(t, r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"records": [{"id": "bookmarkAAA1", "payload": {"id": "bookmarkAAA1"}, "modified": 2000}],
			"serverModified": 2000,
			"globalSyncID": "global-1",
			"collectionSyncID": "coll-1"
		}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	got, err := c.Fetch(context.Background(), 1500)

	require.NoError(t, err)
	require.Len(t, got.Records, 1)
	assert.Equal(t, int64(2000), got.Records[0].ServerModified)
	assert.JSONEq(t, `{"id": "bookmarkAAA1"}`, string(got.Records[0].Payload))
	assert.Equal(t, int64(2000), got.ServerModified)
	assert.Equal(t, "global-1", got.Association.GlobalSyncID)
	assert.Equal(t, "coll-1", got.Association.CollectionSyncID)
}

func TestFetch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/token" {
			issueToken(t, w, r)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Fetch(context.Background(), 0)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
}

func TestFetch_PreconditionFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/token" {
			issueToken(t, w, r)
			return
		}
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Fetch(context.Background(), 0)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSyncIDChanged)
}

// ── Upload ──────────────────────────────────────────────────────────────────

func TestUpload_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/token" {
			issueToken(t, w, r)
			return
		}

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/collection/bookmarks", r.URL.Path)

		var body struct {
			Records []struct {
				ID      string          `json:"id"`
				Payload json.RawMessage `json:"payload"`
			} `json:"records"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Records, 1)
		assert.Equal(t, "bookmarkAAA1", body.Records[0].ID)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": ["bookmarkAAA1"], "serverModified": 3000}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	got, err := c.Upload(context.Background(), []models.OutgoingRecord{
		{Guid: "bookmarkAAA1", Payload: json.RawMessage(`{"id": "bookmarkAAA1"}`)},
	})

	require.NoError(t, err)
	assert.Equal(t, []models.Guid{"bookmarkAAA1"}, got.Succeeded)
	assert.Equal(t, int64(3000), got.ServerModified)
}

func TestUpload_EmptyBatchSkipsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty batch")
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	got, err := c.Upload(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, got.Succeeded)
}

// ── Auth ────────────────────────────────────────────────────────────────────

func TestClient_ReusesTokenAcrossRequests(t *testing.T) {
	var authCalls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/token" {
			authCalls.Add(1)
			issueToken(t, w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"records": [], "serverModified": 0, "globalSyncID": "g", "collectionSyncID": "c"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	_, err := c.Fetch(context.Background(), 0)
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, int32(1), authCalls.Load())
}

func TestClient_AuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Fetch(context.Background(), 0)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestClient_AuthMissingHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 200 without an Authorization header is a broken token endpoint
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Fetch(context.Background(), 0)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
