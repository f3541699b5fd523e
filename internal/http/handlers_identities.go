package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/idlejohn/internal/cache"
	"github.com/dropDatabas3/idlejohn/internal/domain"
	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
	"github.com/dropDatabas3/idlejohn/internal/eventlog"
	"github.com/dropDatabas3/idlejohn/internal/security/secretbox"
	"github.com/dropDatabas3/idlejohn/internal/session"
	"github.com/dropDatabas3/idlejohn/internal/store"
)

// identityView es la proyección JSON de una identidad. Los secretos nunca
// salen del proceso: solo flags de presencia.
type identityView struct {
	IdentityID      string         `json:"identityId"`
	LoginName       string         `json:"loginName"`
	Status          domain.Status  `json:"status"`
	LastError       string         `json:"lastError,omitempty"`
	DesiredIdle     bool           `json:"desiredIdle"`
	Persona         domain.Persona `json:"persona"`
	ActivitySet     []uint32       `json:"activitySet,omitempty"`
	FailedLogins    int            `json:"failedLogins"`
	LockedUntil     *time.Time     `json:"lockedUntil,omitempty"`
	HasPassword     bool           `json:"hasPassword"`
	HasSharedSecret bool           `json:"hasSharedSecret"`
	HasRefreshToken bool           `json:"hasRefreshToken"`
	Live            bool           `json:"live"`
	Records         *recordCounts  `json:"records,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

type recordCounts struct {
	Total int `json:"total"`
	Open  int `json:"open"`
}

func viewFromRow(row *domain.Identity) identityView {
	return identityView{
		IdentityID:      row.ID,
		LoginName:       row.LoginName,
		Status:          row.Status,
		LastError:       row.LastError,
		DesiredIdle:     row.DesiredIdle,
		Persona:         row.Persona.OrDefault(),
		ActivitySet:     row.CloneActivitySet(),
		FailedLogins:    row.FailedLogins,
		LockedUntil:     row.LockedUntil,
		HasPassword:     row.Password != "",
		HasSharedSecret: row.SharedSecret != "",
		HasRefreshToken: row.RefreshToken != "",
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}

// applySnapshot pisa la vista con el estado en vivo del Manager: para
// sesiones activas la memoria manda sobre la fila.
func (v *identityView) applySnapshot(snap session.Snapshot) {
	v.Status = snap.Status
	v.LastError = snap.LastError
	v.DesiredIdle = snap.DesiredIdle
	v.FailedLogins = snap.FailedLogins
	v.LockedUntil = snap.LockedUntil
	v.Live = snap.Live
	if snap.Persona != "" {
		v.Persona = snap.Persona
	}
	if len(snap.ActivitySet) > 0 {
		v.ActivitySet = snap.ActivitySet
	}
}

type identityHandler struct {
	mgr    *session.Manager
	cache  *cache.StatusCache
	store  store.AdapterConnection
	events *eventlog.Recorder
}

func (h *identityHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Get("/v1/identities", h.list)
		r.Post("/v1/identities", h.create)
		r.Get("/v1/identities/{id}", h.get)
		r.Patch("/v1/identities/{id}", h.update)
		r.Delete("/v1/identities/{id}", h.remove)
	})
}

// GET /v1/identities
func (h *identityHandler) list(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.Identities().List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	snaps, err := h.cache.All(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	byID := make(map[string]session.Snapshot, len(snaps))
	for _, s := range snaps {
		byID[s.IdentityID] = s
	}

	views := make([]identityView, 0, len(rows))
	for i := range rows {
		v := viewFromRow(&rows[i])
		if snap, ok := byID[rows[i].ID]; ok {
			v.applySnapshot(snap)
		}
		views = append(views, v)
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"identities": views,
		"total":      len(views),
	})
}

type createIdentityRequest struct {
	LoginName      string   `json:"loginName"`
	Password       string   `json:"password,omitempty"`
	SharedSecret   string   `json:"sharedSecret,omitempty"`
	IdentitySecret string   `json:"identitySecret,omitempty"`
	Persona        string   `json:"persona,omitempty"`
	ActivitySet    []uint32 `json:"activitySet,omitempty"`
}

// POST /v1/identities
//
// Los secretos llegan en claro por el loopback y se cifran acá; la fila
// nunca ve plaintext. Una alta sin credencial es válida (queda incompleta
// hasta el primer PATCH).
func (h *identityHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createIdentityRequest
	if !ReadJSON(w, r, &req) {
		return
	}

	login := strings.TrimSpace(req.LoginName)
	if login == "" {
		WriteError(w, http.StatusBadRequest, "invalid_input", "loginName requerido", 1103)
		return
	}
	persona := domain.Persona(req.Persona)
	if persona != "" && !persona.IsValid() {
		WriteError(w, http.StatusBadRequest, "invalid_input", "persona desconocida", 1103)
		return
	}

	input := repository.CreateIdentityInput{
		LoginName:   login,
		Persona:     persona,
		ActivitySet: domain.NormalizeActivitySet(req.ActivitySet),
	}
	var err error
	if input.Password, err = encryptField(req.Password); err != nil {
		writeDomainError(w, err)
		return
	}
	if input.SharedSecret, err = encryptField(req.SharedSecret); err != nil {
		writeDomainError(w, err)
		return
	}
	if input.IdentitySecret, err = encryptField(req.IdentitySecret); err != nil {
		writeDomainError(w, err)
		return
	}

	ident, err := h.store.Identities().Create(r.Context(), input)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.cache.Flush()
	h.events.Info(r.Context(), ident.ID, domain.EventCatCredentials, "identidad dada de alta: "+ident.LoginName)
	v := viewFromRow(ident)
	WriteJSON(w, http.StatusCreated, v)
}

// encryptField cifra un secreto entrante; el vacío pasa de largo para que
// las altas incompletas no exijan unlock.
func encryptField(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	return secretbox.Encrypt(plain)
}

// GET /v1/identities/{id}
func (h *identityHandler) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	row, err := h.store.Identities().Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	v := viewFromRow(row)
	if snap, err := h.cache.One(r.Context(), id); err == nil {
		v.applySnapshot(snap)
	}
	if total, open, err := h.store.ActivityRecords().CountByIdentity(r.Context(), id); err == nil {
		v.Records = &recordCounts{Total: total, Open: open}
	}
	WriteJSON(w, http.StatusOK, v)
}

type updateIdentityRequest struct {
	Password       *string   `json:"password"`
	SharedSecret   *string   `json:"sharedSecret"`
	IdentitySecret *string   `json:"identitySecret"`
	Persona        *string   `json:"persona"`
	ActivitySet    *[]uint32 `json:"activitySet"`
}

// PATCH /v1/identities/{id}
//
// Campos ausentes no cambian; string vacío borra el secreto. Persona y
// activity set van por el Manager para que una sesión viva los aplique al
// instante.
func (h *identityHandler) update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateIdentityRequest
	if !ReadJSON(w, r, &req) {
		return
	}

	input := repository.UpdateIdentityInput{}
	touched := false

	if req.Password != nil {
		enc, err := encryptField(*req.Password)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		input.Password = &enc
		// El refresh token quedó atado a la credencial anterior.
		empty := ""
		input.RefreshToken = &empty
		touched = true
	}
	if req.SharedSecret != nil {
		enc, err := encryptField(*req.SharedSecret)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		input.SharedSecret = &enc
		touched = true
	}
	if req.IdentitySecret != nil {
		enc, err := encryptField(*req.IdentitySecret)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		input.IdentitySecret = &enc
		touched = true
	}

	if touched {
		if _, err := h.store.Identities().Update(r.Context(), id, input); err != nil {
			writeDomainError(w, err)
			return
		}
		h.events.Info(r.Context(), id, domain.EventCatCredentials, "credenciales actualizadas")
	}

	if req.Persona != nil {
		if _, err := h.mgr.SetPersona(r.Context(), id, domain.Persona(*req.Persona)); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	if req.ActivitySet != nil {
		if _, err := h.mgr.SetActivity(r.Context(), id, *req.ActivitySet); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	h.cache.Invalidate(id)

	row, err := h.store.Identities().Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	v := viewFromRow(row)
	if snap, serr := h.mgr.Status(r.Context(), id); serr == nil {
		v.applySnapshot(snap)
	}
	WriteJSON(w, http.StatusOK, v)
}

// DELETE /v1/identities/{id}
func (h *identityHandler) remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.mgr.DeleteIdentity(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	h.cache.Invalidate(id)
	h.events.Info(r.Context(), id, domain.EventCatCredentials, "identidad eliminada")
	w.WriteHeader(http.StatusNoContent)
}
