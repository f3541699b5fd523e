package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/idlejohn/internal/observability/logger"
	"github.com/dropDatabas3/idlejohn/internal/security/keyring"
	"github.com/dropDatabas3/idlejohn/internal/store"
)

type systemHandler struct {
	store store.AdapterConnection
	keys  *keyring.Manager
}

func (h *systemHandler) Register(r chi.Router) {
	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
}

// GET /healthz
func (h *systemHandler) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// GET /readyz
//
// El store caído es 503: sin persistencia nada funciona. La clave ausente
// NO lo es: el proceso arranca bloqueado a propósito y se informa en el
// body para que el operador sepa que falta el unlock.
func (h *systemHandler) readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		logger.From(r.Context()).Error("store no disponible", logger.Err(err))
		WriteError(w, http.StatusServiceUnavailable, "store_unavailable", "store no disponible", 2001)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"ready":    true,
		"store":    h.store.Name(),
		"unlocked": h.keys.Ready(),
	})
}
