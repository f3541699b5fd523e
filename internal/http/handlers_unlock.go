package http

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/idlejohn/internal/cache"
	"github.com/dropDatabas3/idlejohn/internal/domain"
	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
	"github.com/dropDatabas3/idlejohn/internal/eventlog"
	"github.com/dropDatabas3/idlejohn/internal/security/keyring"
	"github.com/dropDatabas3/idlejohn/internal/store"
)

type unlockHandler struct {
	keys   *keyring.Manager
	cache  *cache.StatusCache
	events *eventlog.Recorder
	store  store.AdapterConnection
}

func (h *unlockHandler) Register(r chi.Router) {
	r.Post("/v1/unlock", h.unlock)
	r.Post("/v1/rekey", h.rekey)
}

type unlockRequest struct {
	Passphrase string `json:"passphrase"`
}

// POST /v1/unlock
func (h *unlockHandler) unlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if !ReadJSON(w, r, &req) {
		return
	}

	if err := h.keys.Unlock(r.Context(), req.Passphrase); err != nil {
		// Acá descifrado fallido significa passphrase equivocada, no un
		// secreto corrupto: es culpa del cliente.
		if repository.IsDecryption(err) {
			WriteError(w, http.StatusForbidden, "invalid_passphrase", "passphrase incorrecta", 1303)
			return
		}
		writeDomainError(w, err)
		return
	}

	// La resumption diferida ya espera en Unlocked(); acá solo queda
	// refrescar la vista de estado.
	h.cache.Flush()
	h.events.Info(r.Context(), "", domain.EventCatProcess, "proceso desbloqueado por el operador")
	WriteJSON(w, http.StatusOK, map[string]any{"unlocked": true})
}

type rekeyRequest struct {
	OldPassphrase string `json:"oldPassphrase"`
	NewPassphrase string `json:"newPassphrase"`
}

// POST /v1/rekey
func (h *unlockHandler) rekey(w http.ResponseWriter, r *http.Request) {
	var req rekeyRequest
	if !ReadJSON(w, r, &req) {
		return
	}

	res, err := h.keys.Rekey(r.Context(), h.store.Identities(), req.OldPassphrase, req.NewPassphrase)
	if err != nil {
		if repository.IsDecryption(err) {
			WriteError(w, http.StatusForbidden, "invalid_passphrase", "passphrase incorrecta", 1303)
			return
		}
		writeDomainError(w, err)
		return
	}

	h.cache.Flush()
	h.events.Info(r.Context(), "", domain.EventCatProcess,
		fmt.Sprintf("passphrase rotada: %d campos re-cifrados, %d fallidos", res.Reencrypted, res.Failed))
	WriteJSON(w, http.StatusOK, map[string]any{
		"reencrypted": res.Reencrypted,
		"failed":      res.Failed,
	})
}
