package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/idlejohn/internal/domain"
	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
	"github.com/dropDatabas3/idlejohn/internal/store"
)

type eventsHandler struct {
	store store.AdapterConnection
}

func (h *eventsHandler) Register(r chi.Router) {
	r.Get("/v1/events", h.list)
}

type eventView struct {
	Timestamp  time.Time `json:"timestamp"`
	Level      string    `json:"level"`
	IdentityID string    `json:"identityId,omitempty"`
	Category   string    `json:"category,omitempty"`
	Message    string    `json:"message"`
}

const maxEventLimit = 1000

// GET /v1/events?level=&identity=&category=&limit=
func (h *eventsHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	level := domain.EventLevel(q.Get("level"))
	if level != "" && !level.IsValid() {
		WriteError(w, http.StatusBadRequest, "invalid_input", "level desconocido (debug|info|warn|error)", 1103)
		return
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "invalid_input", "limit inválido", 1103)
			return
		}
		limit = n
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	filter := repository.EventFilter{
		Level:      level,
		IdentityID: q.Get("identity"),
		Category:   q.Get("category"),
		Limit:      limit,
	}
	rows, err := h.store.Events().List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	views := make([]eventView, 0, len(rows))
	for _, e := range rows {
		views = append(views, eventView{
			Timestamp:  e.Timestamp,
			Level:      string(e.Level),
			IdentityID: e.IdentityID,
			Category:   e.Category,
			Message:    e.Message,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"events": views,
		"total":  len(views),
	})
}
