package repository

import (
	"context"
	"time"

	"github.com/dropDatabas3/idlejohn/internal/domain"
)

// EventFilter filtra la lectura del activity log.
type EventFilter struct {
	// Level filtra por severidad exacta ("" = todas).
	Level domain.EventLevel
	// IdentityID filtra por identidad ("" = todas, incluidos eventos de proceso).
	IdentityID string
	// Category filtra por categoría ("" = todas).
	Category string
	// Limit acota el resultado (0 = default del adapter).
	Limit int
}

// EventRepository define el sink persistido del activity log.
type EventRepository interface {
	// Append agrega una entrada. El timestamp lo pone el caller para que
	// la entrada y la transición que la causó cuenten el mismo instante.
	Append(ctx context.Context, e domain.Event) error

	// List retorna entradas más recientes primero según el filtro.
	List(ctx context.Context, filter EventFilter) ([]domain.Event, error)

	// Prune elimina entradas anteriores a before. Retorna cuántas borró.
	Prune(ctx context.Context, before time.Time) (int, error)
}
