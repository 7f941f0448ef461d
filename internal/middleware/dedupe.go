package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Strob0t/ledgersync/internal/port/cache"
)

// maxDedupeBody caps stored responses.
const maxDedupeBody = 64 << 10

type dedupeEntry struct {
	StatusCode int    `json:"status_code"`
	Body       []byte `json:"body"`
	Pending    bool   `json:"pending,omitempty"`
}

var pendingEntry, _ = json.Marshal(dedupeEntry{Pending: true})

// Dedupe returns middleware that answers a repeated delivery, identified by
// the given header (GitHub: X-GitHub-Delivery), with the response recorded
// for the first one. Requests without the header pass through. Server
// errors are not recorded so that redeliveries are processed again.
//
// When c implements cache.Reserver the delivery id is reserved before the
// handler runs, and a redelivery arriving meanwhile is answered with 409.
func Dedupe(c cache.Cache, header string, ttl time.Duration, log *slog.Logger) func(http.Handler) http.Handler {
	reserver, _ := c.(cache.Reserver)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(header)
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := "delivery:" + id

			reserved := false
			if reserver != nil {
				ok, err := reserver.Reserve(r.Context(), key, pendingEntry, ttl)
				if err != nil {
					log.Warn("delivery reservation failed", "delivery", id, "error", err)
				}
				reserved = ok
			}
			if !reserved && replay(w, r, c, key, id, log) {
				return
			}

			rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.statusCode >= http.StatusInternalServerError || rec.body.Len() > maxDedupeBody {
				if reserved {
					if err := c.Delete(r.Context(), key); err != nil {
						log.Warn("delivery release failed", "delivery", id, "error", err)
					}
				}
				return
			}
			data, err := json.Marshal(dedupeEntry{StatusCode: rec.statusCode, Body: rec.body.Bytes()})
			if err != nil {
				return
			}
			if err := c.Set(r.Context(), key, data, ttl); err != nil {
				log.Warn("delivery store failed", "delivery", id, "error", err)
			}
		})
	}
}

// replay answers from the recorded entry for key and reports whether it did.
func replay(w http.ResponseWriter, r *http.Request, c cache.Cache, key, id string, log *slog.Logger) bool {
	data, ok, err := c.Get(r.Context(), key)
	if err != nil {
		log.Warn("delivery lookup failed", "delivery", id, "error", err)
	}
	if !ok {
		return false
	}
	var cached dedupeEntry
	if err := json.Unmarshal(data, &cached); err != nil {
		log.Warn("corrupt delivery entry", "delivery", id)
		return false
	}
	if cached.Pending {
		log.Info("delivery already in progress", "delivery", id)
		writeError(w, http.StatusConflict, "delivery is being processed")
		return true
	}
	log.Info("duplicate delivery", "delivery", id)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Ledgersync-Replayed", "true")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
	return true
}

// responseRecorder wraps http.ResponseWriter to capture the response.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
