package repository

import (
	"context"
	"time"

	"github.com/dropDatabas3/idlejohn/internal/domain"
)

// CreateIdentityInput contiene los datos para dar de alta una identidad.
// Los campos secretos llegan YA cifrados; este paquete no cifra nada.
type CreateIdentityInput struct {
	LoginName      string
	Password       string
	SharedSecret   string
	IdentitySecret string
	Persona        domain.Persona
	ActivitySet    []uint32
}

// UpdateIdentityInput actualiza campos editables por el operador.
// Punteros nil significan "sin cambio".
type UpdateIdentityInput struct {
	Password       *string
	SharedSecret   *string
	IdentitySecret *string
	RefreshToken   *string
	Persona        *domain.Persona
	ActivitySet    *[]uint32
}

// LockoutUpdate es el estado de lockout completo a persistir de una vez.
type LockoutUpdate struct {
	FailedLogins  int
	LastFailureAt *time.Time
	LockedUntil   *time.Time
}

// IdentityRepository define operaciones sobre identidades gestionadas.
type IdentityRepository interface {
	// Create da de alta una identidad. Retorna ErrDuplicate si el login
	// name ya existe. Una identidad sin credencial es válida (importada
	// incompleta); Start la rechaza después con ErrIncompleteAccount.
	Create(ctx context.Context, input CreateIdentityInput) (*domain.Identity, error)

	// Get busca por id. Retorna ErrNotFound si no existe.
	Get(ctx context.Context, id string) (*domain.Identity, error)

	// GetByLogin busca por login name. Retorna ErrNotFound si no existe.
	GetByLogin(ctx context.Context, loginName string) (*domain.Identity, error)

	// List retorna todas las identidades ordenadas por login name.
	List(ctx context.Context) ([]domain.Identity, error)

	// ListDesiredIdle retorna las identidades con desired-idle=true.
	// Es la consulta de resumeAfterRestart.
	ListDesiredIdle(ctx context.Context) ([]domain.Identity, error)

	// Update aplica cambios de operador. Retorna la identidad actualizada.
	Update(ctx context.Context, id string, input UpdateIdentityInput) (*domain.Identity, error)

	// UpdateStatus persiste status + last error en una sola escritura.
	UpdateStatus(ctx context.Context, id string, status domain.Status, lastError string) error

	// UpdateLockout persiste el estado de lockout completo.
	UpdateLockout(ctx context.Context, id string, lockout LockoutUpdate) error

	// SetDesiredIdle persiste la intención de idling (fuente de verdad
	// para la recuperación post-restart).
	SetDesiredIdle(ctx context.Context, id string, desired bool) error

	// SetActivitySet persiste el set de actividad asignado.
	SetActivitySet(ctx context.Context, id string, ids []uint32) error

	// SetRefreshToken persiste el refresh token cifrado ("" lo borra).
	SetRefreshToken(ctx context.Context, id string, token string) error

	// Delete elimina la identidad y sus registros dependientes.
	Delete(ctx context.Context, id string) error

	// Count retorna el total de identidades.
	Count(ctx context.Context) (int, error)
}
