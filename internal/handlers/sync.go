package handlers

import (
	"net/http"
	"time"
)

// HandleSync answers one incremental sync round trip. Without a watermark the
// response is the caller's full account state; with one it is everything that
// changed after it. Clients persist server_time and present it next time.
func HandleSync(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}

		var req struct {
			LastSyncedAt string `json:"last_synced_at"`
		}
		if r.ContentLength != 0 && !decodeBody(w, r, &req) {
			return
		}

		var since time.Time
		if req.LastSyncedAt != "" {
			parsed, err := time.Parse(time.RFC3339, req.LastSyncedAt)
			if err != nil {
				writeError(w, http.StatusBadRequest, "last_synced_at must be RFC 3339")
				return
			}
			since = parsed
		}

		delta, err := store.DeltaSince(r.Context(), userID, since)
		if err != nil {
			internalError(w, "sync", err)
			return
		}
		delta.IsFullSync = since.IsZero()
		writeJSON(w, http.StatusOK, delta)
	}
}
