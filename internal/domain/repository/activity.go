package repository

import (
	"context"
	"time"

	"github.com/dropDatabas3/idlejohn/internal/domain"
)

// ActivityRecordRepository define operaciones sobre ventanas de idling.
//
// El invariante "a lo sumo una ventana abierta por identidad" lo garantiza
// la sesión cerrando antes de abrir; Open lo refuerza cerrando cualquier
// ventana abierta previa dentro de la misma transacción.
type ActivityRecordRepository interface {
	// Open abre una ventana nueva, cerrando primero (en la misma
	// transacción) cualquier ventana abierta de la identidad.
	Open(ctx context.Context, identityID string, at time.Time, activitySet []uint32) (*domain.ActivityRecord, error)

	// Close cierra la ventana abierta de la identidad. Si no hay ventana
	// abierta es un no-op (retorna nil, nil): stop es idempotente.
	Close(ctx context.Context, identityID string, at time.Time) (*domain.ActivityRecord, error)

	// CloseAllOpen cierra toda ventana abierta (drain de shutdown y
	// saneo post-crash). Retorna cuántas cerró.
	CloseAllOpen(ctx context.Context, at time.Time) (int, error)

	// GetOpen retorna la ventana abierta de la identidad.
	// Retorna ErrNotFound si no hay ninguna.
	GetOpen(ctx context.Context, identityID string) (*domain.ActivityRecord, error)

	// ListByIdentity retorna las ventanas de una identidad, más reciente
	// primero, limitadas a limit (0 = sin límite).
	ListByIdentity(ctx context.Context, identityID string, limit int) ([]domain.ActivityRecord, error)

	// CountByIdentity retorna ventanas totales y abiertas de una identidad.
	CountByIdentity(ctx context.Context, identityID string) (total, open int, err error)
}
