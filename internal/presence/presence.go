// Package presence define la interfaz angosta hacia la red remota de
// presencia. El core solo conoce este contrato; el transporte concreto
// (bridge websocket en producción, fake en tests) es intercambiable.
package presence

import (
	"context"

	"github.com/dropDatabas3/idlejohn/internal/domain"
)

// Credentials es el material de login de una identidad, ya descifrado.
// Vive solo en memoria durante el intento.
type Credentials struct {
	LoginName string
	Password  string
	// RefreshToken, si está presente y vigente, evita el login con
	// credencial completa.
	RefreshToken string
}

// ChallengeAnswerer produce el código 2FA cuando el login lo exige.
// nil significa "no hay shared secret en archivo".
type ChallengeAnswerer func() (string, error)

// Client abre conexiones contra la red remota.
type Client interface {
	// Connect abre una conexión y completa el login. Bloquea hasta que el
	// remoto confirme o rechace; no hay timeout propio (las señales del
	// remoto son el único corte, el presupuesto de reconexión acota al
	// resto). El error clasifica el fallo con los sentinels de
	// repository: ErrInvalidCredential, ErrTwoFactorRequired,
	// ErrRateLimited o ErrTransientConnection.
	Connect(ctx context.Context, creds Credentials, answer ChallengeAnswerer) (Conn, error)
}

// Conn es una conexión viva y logueada.
type Conn interface {
	// SetActivity anuncia el set de actividad en curso (vacío lo limpia).
	SetActivity(ids []uint32) error

	// SetPresence aplica la preferencia de presencia en vivo.
	SetPresence(p domain.Persona) error

	// Events entrega los eventos asíncronos de la conexión. El canal se
	// cierra cuando la conexión muere; el último evento es Disconnected.
	Events() <-chan Event

	// Close libera la conexión (logout explícito). Idempotente.
	Close() error
}

// EventKind clasifica los eventos asíncronos de una conexión.
type EventKind string

const (
	// EventDisconnected indica caída de la conexión; Err lleva la causa.
	EventDisconnected EventKind = "disconnected"
	// EventToken indica que el remoto emitió/renovó un refresh token.
	EventToken EventKind = "token"
)

// Event es un evento asíncrono de la conexión.
type Event struct {
	Kind EventKind
	// Err acompaña a EventDisconnected.
	Err error
	// RefreshToken acompaña a EventToken.
	RefreshToken string
}
