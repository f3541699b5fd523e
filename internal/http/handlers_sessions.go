package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/idlejohn/internal/cache"
	"github.com/dropDatabas3/idlejohn/internal/domain"
	"github.com/dropDatabas3/idlejohn/internal/session"
)

type sessionHandler struct {
	mgr   *session.Manager
	cache *cache.StatusCache
}

func (h *sessionHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Post("/v1/identities/{id}/start", h.start)
		r.Post("/v1/identities/{id}/stop", h.stop)
		r.Post("/v1/identities/{id}/logout", h.logout)
		r.Put("/v1/identities/{id}/activity", h.setActivity)
		r.Put("/v1/identities/{id}/persona", h.setPersona)

		r.Post("/v1/start-all", h.startAll)
		r.Post("/v1/stop-all", h.stopAll)
		r.Post("/v1/logout-all", h.logoutAll)
	})
}

// POST /v1/identities/{id}/start
//
// El login resuelve inline: la respuesta ya trae el estado final (idling,
// o el error clasificado si el remoto rechazó).
func (h *sessionHandler) start(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := h.mgr.Start(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.cache.Invalidate(id)
	WriteJSON(w, http.StatusOK, snap)
}

// POST /v1/identities/{id}/stop
func (h *sessionHandler) stop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := h.mgr.Stop(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.cache.Invalidate(id)
	WriteJSON(w, http.StatusOK, snap)
}

// POST /v1/identities/{id}/logout
func (h *sessionHandler) logout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := h.mgr.Logout(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.cache.Invalidate(id)
	WriteJSON(w, http.StatusOK, snap)
}

type activityRequest struct {
	IDs []uint32 `json:"ids"`
}

// PUT /v1/identities/{id}/activity
func (h *sessionHandler) setActivity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req activityRequest
	if !ReadJSON(w, r, &req) {
		return
	}
	snap, err := h.mgr.SetActivity(r.Context(), id, req.IDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.cache.Invalidate(id)
	WriteJSON(w, http.StatusOK, snap)
}

type personaRequest struct {
	Persona string `json:"persona"`
}

// PUT /v1/identities/{id}/persona
func (h *sessionHandler) setPersona(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req personaRequest
	if !ReadJSON(w, r, &req) {
		return
	}
	snap, err := h.mgr.SetPersona(r.Context(), id, domain.Persona(req.Persona))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.cache.Invalidate(id)
	WriteJSON(w, http.StatusOK, snap)
}

func (h *sessionHandler) writeOutcomes(w http.ResponseWriter, status int, outcomes []session.Outcome, err error) {
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.cache.Flush()
	WriteJSON(w, status, map[string]any{
		"results": outcomes,
		"total":   len(outcomes),
	})
}

// POST /v1/start-all
func (h *sessionHandler) startAll(w http.ResponseWriter, r *http.Request) {
	outcomes, err := h.mgr.StartAll(r.Context())
	h.writeOutcomes(w, http.StatusOK, outcomes, err)
}

// POST /v1/stop-all
func (h *sessionHandler) stopAll(w http.ResponseWriter, r *http.Request) {
	outcomes, err := h.mgr.StopAll(r.Context())
	h.writeOutcomes(w, http.StatusOK, outcomes, err)
}

// POST /v1/logout-all
func (h *sessionHandler) logoutAll(w http.ResponseWriter, r *http.Request) {
	outcomes, err := h.mgr.LogoutAll(r.Context())
	h.writeOutcomes(w, http.StatusOK, outcomes, err)
}
