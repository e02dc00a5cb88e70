package devserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/MKhiriev/go-mark-sync/internal/logger"
	"github.com/MKhiriev/go-mark-sync/internal/utils"
)

type recordEnvelope struct {
	ID       string          `json:"id"`
	Payload  json.RawMessage `json:"payload"`
	Modified int64           `json:"modified,omitempty"`
}

type fetchResponse struct {
	Records          []recordEnvelope `json:"records"`
	ServerModified   int64            `json:"serverModified"`
	GlobalSyncID     string           `json:"globalSyncID"`
	CollectionSyncID string           `json:"collectionSyncID"`
}

type uploadRequest struct {
	Records []recordEnvelope `json:"records"`
}

type uploadResponse struct {
	Success        []string `json:"success"`
	ServerModified int64    `json:"serverModified"`
}

type rotateResponse struct {
	GlobalSyncID     string `json:"globalSyncID"`
	CollectionSyncID string `json:"collectionSyncID"`
}

// fetchBookmarks returns every record written after the "newer" watermark,
// along with the collection watermark and the current sync generation.
func (h *Handler) fetchBookmarks(w http.ResponseWriter, r *http.Request) {
	log := logger.FromRequest(r)

	var newerThan int64
	if raw := r.URL.Query().Get("newer"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			log.Err(err).Str("newer", raw).Msg("invalid newer parameter")
			http.Error(w, "invalid newer parameter", http.StatusBadRequest)
			return
		}
		newerThan = parsed
	}

	records, serverModified, globalSyncID, collectionSyncID := h.collection.Fetch(newerThan)

	resp := fetchResponse{
		Records:          make([]recordEnvelope, len(records)),
		ServerModified:   serverModified,
		GlobalSyncID:     globalSyncID,
		CollectionSyncID: collectionSyncID,
	}
	for i, rec := range records {
		resp.Records[i] = recordEnvelope{ID: rec.ID, Payload: rec.Payload, Modified: rec.Modified}
	}

	log.Debug().Int("records", len(records)).Int64("newer", newerThan).Msg("collection fetched")

	utils.WriteJSON(w, resp, http.StatusOK)
}

// uploadBookmarks stores one batch of records and acknowledges the accepted
// IDs together with the new collection watermark.
func (h *Handler) uploadBookmarks(w http.ResponseWriter, r *http.Request) {
	log := logger.FromRequest(r)

	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Err(err).Msg("Invalid JSON was passed")
		http.Error(w, "Invalid JSON was passed", http.StatusBadRequest)
		return
	}

	records := make([]StoredRecord, len(req.Records))
	for i, env := range req.Records {
		records[i] = StoredRecord{ID: env.ID, Payload: env.Payload}
	}

	accepted, serverModified := h.collection.Put(records)

	deviceID, _ := utils.GetDeviceIDFromContext(r.Context())
	log.Debug().
		Str("device_id", deviceID).
		Int("received", len(req.Records)).
		Int("accepted", len(accepted)).
		Msg("collection upload")

	utils.WriteJSON(w, uploadResponse{Success: accepted, ServerModified: serverModified}, http.StatusOK)
}

// rotate wipes the collection and starts a fresh sync generation. Clients
// notice the new sync IDs on their next fetch and reset their local mirrors.
func (h *Handler) rotate(w http.ResponseWriter, r *http.Request) {
	log := logger.FromRequest(r)

	globalSyncID, collectionSyncID := h.collection.Rotate()
	log.Info().Str("global_sync_id", globalSyncID).Msg("collection rotated")

	utils.WriteJSON(w, rotateResponse{
		GlobalSyncID:     globalSyncID,
		CollectionSyncID: collectionSyncID,
	}, http.StatusOK)
}
