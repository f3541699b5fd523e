package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
)

type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorCode        int    `json:"error_code,omitempty"`
	RequestID        string `json:"request_id,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, code, desc string, errCode int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	rid := w.Header().Get("X-Request-ID")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{
		Error:            code,
		ErrorDescription: desc,
		ErrorCode:        errCode,
		RequestID:        rid,
	})
}

// WriteJSON: respuesta JSON estándar
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON: decodifica JSON de forma tolerante (NO falla por campos desconocidos).
// Valida Content-Type y limita el tamaño del body a 1MB.
func ReadJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.Contains(ct, "application/json") {
		WriteError(w, http.StatusBadRequest, "invalid_json", "Content-Type debe ser application/json", 1102)
		return false
	}
	// máx 1MB
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && err != io.EOF {
		WriteError(w, http.StatusBadRequest, "invalid_json", "json inválido", 1102)
		return false
	}
	return true
}

// writeDomainError traduce los sentinelas del dominio a respuestas HTTP.
// Todo handler que delega en el Manager o los repositorios termina acá.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case repository.IsNotFound(err):
		WriteError(w, http.StatusNotFound, "not_found", "identidad no encontrada", 1201)
	case repository.IsDuplicate(err):
		WriteError(w, http.StatusConflict, "duplicate", "login name ya registrado", 1202)
	case errors.Is(err, repository.ErrIncompleteAccount):
		WriteError(w, http.StatusConflict, "incomplete_account", "la identidad no tiene credencial guardada", 1203)
	case repository.IsLockedOut(err):
		WriteError(w, http.StatusLocked, "locked_out", "identidad en lockout por fallos de login", 1301)
	case repository.IsKeyUnavailable(err):
		WriteError(w, http.StatusServiceUnavailable, "key_unavailable", "el proceso está bloqueado; unlock primero", 1302)
	case errors.Is(err, repository.ErrInvalidCredential):
		WriteError(w, http.StatusUnprocessableEntity, "invalid_credential", "el remoto rechazó la credencial", 1305)
	case errors.Is(err, repository.ErrTwoFactorRequired):
		WriteError(w, http.StatusUnprocessableEntity, "guard_required", "challenge 2FA sin shared secret en archivo", 1306)
	case errors.Is(err, repository.ErrRateLimited):
		WriteError(w, http.StatusTooManyRequests, "upstream_rate_limited", "rate limit del remoto; cooldown aplicado", 1402)
	case errors.Is(err, repository.ErrTransientConnection):
		WriteError(w, http.StatusBadGateway, "upstream_unavailable", "fallo transitorio de conexión; reintento programado", 1403)
	case errors.Is(err, repository.ErrInvalidInput):
		WriteError(w, http.StatusBadRequest, "invalid_input", err.Error(), 1103)
	case repository.IsDecryption(err):
		WriteError(w, http.StatusInternalServerError, "decryption_failed", "no se pudo descifrar la credencial", 1304)
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "error interno", 1500)
	}
}
