package devserver

import (
	"net/http"
	"time"

	"github.com/MKhiriev/go-mark-sync/internal/logger"
)

// withLogging emits one line per served request. The query string is logged
// as well: for collection fetches it carries the "newer" watermark, which is
// the most useful single datum when replaying a sync session from the logs.
func (h *Handler) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromRequest(r)
		start := time.Now()

		lw := &responseWriter{ResponseWriter: w}
		next.ServeHTTP(lw, r)

		entry := log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", lw.status).
			Dur("duration", time.Since(start)).
			Int("size", lw.size)
		if query := r.URL.RawQuery; query != "" {
			entry = entry.Str("query", query)
		}
		entry.Msg("request served")
	})
}
