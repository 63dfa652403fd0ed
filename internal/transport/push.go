package transport

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fieldsafe/safegate/internal/logx"
	"github.com/fieldsafe/safegate/internal/notify"
)

const maxPushBytes = 1 << 20

// PushHandler lets an out-of-process backend deliver a frame straight
// to a connection it was handed the endpoint for. A missing connection
// answers 410 so the caller can stop pushing.
func PushHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			http.Error(w, "missing connection id", http.StatusBadRequest)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxPushBytes))
		if err != nil || len(body) == 0 {
			http.Error(w, "missing body", http.StatusBadRequest)
			return
		}
		if err := hub.Send(r.Context(), id, body); err != nil {
			if errors.Is(err, notify.ErrGone) {
				http.Error(w, "connection gone", http.StatusGone)
				return
			}
			logx.Log.Error().Err(err).Str("connection_id", id).Msg("direct push failed")
			http.Error(w, "delivery failed", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
