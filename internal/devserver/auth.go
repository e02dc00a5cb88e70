package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/MKhiriev/go-mark-sync/internal/logger"
	"github.com/MKhiriev/go-mark-sync/internal/utils"
)

type tokenRequest struct {
	DeviceID string `json:"deviceID"`
}

// token issues a signed bearer token for the device named in the request
// body. The token is returned in the Authorization response header, mirroring
// where authenticated requests are expected to carry it.
func (h *Handler) token(w http.ResponseWriter, r *http.Request) {
	log := logger.FromRequest(r)

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Err(err).Msg("Invalid JSON was passed")
		http.Error(w, "Invalid JSON was passed", http.StatusBadRequest)
		return
	}

	if req.DeviceID == "" {
		log.Error().Msg("empty device id")
		http.Error(w, "empty device id", http.StatusBadRequest)
		return
	}

	tokenString, err := utils.GenerateJWT(issuer, req.DeviceID, h.cfg.TokenTTL, h.cfg.SignKey)
	if err != nil {
		log.Err(err).Msg("creation of token failed")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	log.Debug().Str("device_id", req.DeviceID).Msg("issued device token")

	w.Header().Set("Authorization", fmt.Sprintf("Bearer %s", tokenString))
	w.WriteHeader(http.StatusOK)
}
