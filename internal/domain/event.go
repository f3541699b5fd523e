package domain

import "time"

// EventLevel clasifica la severidad de una entrada del activity log.
type EventLevel string

const (
	EventDebug EventLevel = "debug"
	EventInfo  EventLevel = "info"
	EventWarn  EventLevel = "warn"
	EventError EventLevel = "error"
)

// IsValid retorna true si el nivel es conocido.
func (l EventLevel) IsValid() bool {
	switch l {
	case EventDebug, EventInfo, EventWarn, EventError:
		return true
	}
	return false
}

// Event es una entrada persistida del activity log: visible para el
// operador y materia prima del postmortem. IdentityID vacío significa
// evento a nivel de proceso.
type Event struct {
	ID         int64
	Timestamp  time.Time
	Level      EventLevel
	IdentityID string
	Category   string
	Message    string
}

// Categorías de eventos usadas por el core. Los consumidores filtran por
// estos valores, no los parsean.
const (
	EventCatSession     = "session"
	EventCatLogin       = "login"
	EventCatReconnect   = "reconnect"
	EventCatLockout     = "lockout"
	EventCatActivity    = "activity"
	EventCatCredentials = "credentials"
	EventCatStore       = "store"
	EventCatProcess     = "process"
)
