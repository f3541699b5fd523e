// Package http expone la API de control del proceso: el contacto fino que
// usan el CLI y cualquier frontend de operador. Handlers chicos que
// delegan en el Manager; acá no vive lógica de sesión.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/idlejohn/internal/cache"
	"github.com/dropDatabas3/idlejohn/internal/eventlog"
	"github.com/dropDatabas3/idlejohn/internal/security/keyring"
	"github.com/dropDatabas3/idlejohn/internal/session"
	"github.com/dropDatabas3/idlejohn/internal/store"
)

// Deps agrupa las dependencias de la API de control.
type Deps struct {
	Manager *session.Manager
	Cache   *cache.StatusCache
	Keyring *keyring.Manager
	Store   store.AdapterConnection
	Events  *eventlog.Recorder

	// Metrics es el handler de /metrics (promhttp). Nil lo deja sin montar.
	Metrics http.Handler
}

// NewRouter arma el router chi con todos los handlers montados.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	(&systemHandler{store: d.Store, keys: d.Keyring}).Register(r)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	(&unlockHandler{keys: d.Keyring, cache: d.Cache, events: d.Events, store: d.Store}).Register(r)
	(&statusHandler{mgr: d.Manager, cache: d.Cache}).Register(r)
	(&identityHandler{mgr: d.Manager, cache: d.Cache, store: d.Store, events: d.Events}).Register(r)
	(&sessionHandler{mgr: d.Manager, cache: d.Cache}).Register(r)
	(&eventsHandler{store: d.Store}).Register(r)

	return r
}
