// Package domain define los tipos compartidos del ciclo de vida de sesiones.
package domain

// Status es el estado de conectividad de una identidad gestionada.
//
// Offline y Locked son estados de reposo; Connecting es transitorio;
// Online e Idling son estados activos. Error requiere intervención
// del operador (o un restart manual de la sesión).
type Status string

const (
	// StatusOffline indica que no hay conexión y no se desea ninguna.
	StatusOffline Status = "offline"
	// StatusConnecting indica un intento de login en vuelo.
	StatusConnecting Status = "connecting"
	// StatusOnline indica sesión establecida sin actividad configurada.
	StatusOnline Status = "online"
	// StatusIdling indica sesión establecida y marcando actividad.
	StatusIdling Status = "idling"
	// StatusError indica un fallo terminal para esta sesión (ver LastError).
	StatusError Status = "error"
	// StatusLocked indica un lockout vigente (ver LockedUntil).
	StatusLocked Status = "locked"
)

// IsValid retorna true si el estado es conocido.
func (s Status) IsValid() bool {
	switch s {
	case StatusOffline, StatusConnecting, StatusOnline, StatusIdling, StatusError, StatusLocked:
		return true
	}
	return false
}

// Active retorna true si hay una conexión viva detrás del estado.
func (s Status) Active() bool {
	return s == StatusOnline || s == StatusIdling
}

// Resting retorna true para estados terminales desde la perspectiva del
// proceso (no hay reconexión pendiente ni conexión viva).
func (s Status) Resting() bool {
	return s == StatusOffline || s == StatusLocked || s == StatusError
}
