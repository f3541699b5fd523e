package domain

// Persona es la preferencia de presencia que la identidad proyecta en la
// red remota mientras está conectada.
type Persona string

const (
	PersonaOffline        Persona = "offline"
	PersonaOnline         Persona = "online"
	PersonaBusy           Persona = "busy"
	PersonaAway           Persona = "away"
	PersonaSnooze         Persona = "snooze"
	PersonaLookingToTrade Persona = "looking-to-trade"
	PersonaLookingToPlay  Persona = "looking-to-play"
	PersonaInvisible      Persona = "invisible"
)

// IsValid retorna true si la persona es conocida. El vacío se trata como
// "sin preferencia" y es válido (el default lo decide la sesión).
func (p Persona) IsValid() bool {
	switch p {
	case "", PersonaOffline, PersonaOnline, PersonaBusy, PersonaAway,
		PersonaSnooze, PersonaLookingToTrade, PersonaLookingToPlay, PersonaInvisible:
		return true
	}
	return false
}

// OrDefault retorna la persona o el default online cuando no hay preferencia.
func (p Persona) OrDefault() Persona {
	if p == "" {
		return PersonaOnline
	}
	return p
}
