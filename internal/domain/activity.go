package domain

import "time"

// ActivityRecord es una ventana de idling persistida (append-only).
//
// EndedAt == nil denota una ventana en curso; el invariante del sistema es
// a lo sumo UNA ventana abierta por identidad, cerrada siempre antes de
// abrir la siguiente y al perder la conexión.
type ActivityRecord struct {
	ID          string
	IdentityID  string
	StartedAt   time.Time
	EndedAt     *time.Time
	ActivitySet []uint32
}

// Open retorna true si la ventana sigue en curso.
func (r *ActivityRecord) Open() bool {
	return r.EndedAt == nil
}

// Duration retorna la duración de la ventana; para ventanas abiertas se
// mide contra now.
func (r *ActivityRecord) Duration(now time.Time) time.Duration {
	end := now
	if r.EndedAt != nil {
		end = *r.EndedAt
	}
	if end.Before(r.StartedAt) {
		return 0
	}
	return end.Sub(r.StartedAt)
}
