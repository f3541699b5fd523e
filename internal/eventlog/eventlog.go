// Package eventlog persiste el activity log del proceso: la línea de
// tiempo que el operador consulta y la materia prima del postmortem.
//
// Cada entrada se escribe al store y se espeja al logger estructurado.
// El log de eventos es best-effort: un fallo de escritura se reporta por
// zap y no interrumpe la transición que lo originó.
package eventlog

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/idlejohn/internal/domain"
	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
	"github.com/dropDatabas3/idlejohn/internal/observability/logger"
)

// Recorder escribe entradas del activity log.
// El zero value y el puntero nil son no-ops seguros.
type Recorder struct {
	events repository.EventRepository
	log    *zap.Logger
}

// New crea un Recorder sobre el repositorio de eventos.
func New(events repository.EventRepository) *Recorder {
	return &Recorder{
		events: events,
		log:    logger.Named("eventlog"),
	}
}

// Record agrega una entrada con el instante actual.
func (r *Recorder) Record(ctx context.Context, level domain.EventLevel, identityID, category, message string) {
	if r == nil {
		return
	}

	e := domain.Event{
		Timestamp:  time.Now(),
		Level:      level,
		IdentityID: identityID,
		Category:   category,
		Message:    message,
	}

	r.mirror(e)

	if r.events == nil {
		return
	}
	if err := r.events.Append(ctx, e); err != nil {
		r.log.Warn("no se pudo persistir evento",
			logger.String("category", category),
			logger.IdentityID(identityID),
			logger.Err(err),
		)
	}
}

// mirror espeja la entrada al logger estructurado con el nivel análogo.
func (r *Recorder) mirror(e domain.Event) {
	if r.log == nil {
		return
	}

	fields := []zap.Field{
		logger.String("category", e.Category),
	}
	if e.IdentityID != "" {
		fields = append(fields, logger.IdentityID(e.IdentityID))
	}

	switch e.Level {
	case domain.EventDebug:
		r.log.Debug(e.Message, fields...)
	case domain.EventWarn:
		r.log.Warn(e.Message, fields...)
	case domain.EventError:
		r.log.Error(e.Message, fields...)
	default:
		r.log.Info(e.Message, fields...)
	}
}

// Debug agrega una entrada de nivel debug.
func (r *Recorder) Debug(ctx context.Context, identityID, category, message string) {
	r.Record(ctx, domain.EventDebug, identityID, category, message)
}

// Info agrega una entrada de nivel info.
func (r *Recorder) Info(ctx context.Context, identityID, category, message string) {
	r.Record(ctx, domain.EventInfo, identityID, category, message)
}

// Warn agrega una entrada de nivel warn.
func (r *Recorder) Warn(ctx context.Context, identityID, category, message string) {
	r.Record(ctx, domain.EventWarn, identityID, category, message)
}

// Error agrega una entrada de nivel error.
func (r *Recorder) Error(ctx context.Context, identityID, category, message string) {
	r.Record(ctx, domain.EventError, identityID, category, message)
}
