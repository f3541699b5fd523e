package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/idlejohn/internal/cache"
	"github.com/dropDatabas3/idlejohn/internal/session"
)

type statusHandler struct {
	mgr   *session.Manager
	cache *cache.StatusCache
}

func (h *statusHandler) Register(r chi.Router) {
	r.Get("/v1/status", h.status)
}

// GET /v1/status
//
// Vista agregada para polling; sale del cache, no del store.
func (h *statusHandler) status(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.cache.All(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"live":     h.mgr.LiveSessions(),
		"sessions": snaps,
	})
}
