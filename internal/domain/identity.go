package domain

import "time"

// MaxActivitySet es el máximo de identificadores de actividad por identidad.
const MaxActivitySet = 32

// Identity es una cuenta externa gestionada por el proceso.
//
// Los campos sensibles (Password, SharedSecret, IdentitySecret, RefreshToken)
// se guardan SIEMPRE cifrados (secretbox); el plaintext solo existe en
// memoria durante el login. DesiredIdle es la fuente de verdad para la
// recuperación post-restart: Status es derivado y efímero.
type Identity struct {
	ID        string
	LoginName string

	// Cifrados en reposo.
	Password       string
	SharedSecret   string
	IdentitySecret string
	RefreshToken   string

	Status      Status
	LastError   string
	DesiredIdle bool
	Persona     Persona

	// Estado de lockout (parte persistida de la identidad).
	FailedLogins  int
	LastFailureAt *time.Time
	LockedUntil   *time.Time

	ActivitySet []uint32

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasCredentials retorna true si la identidad tiene credencial primaria.
// Una fila importada sin credencial es válida pero no arrancable.
func (i *Identity) HasCredentials() bool {
	return i.LoginName != "" && i.Password != ""
}

// HasSharedSecret retorna true si hay seed 2FA en archivo.
func (i *Identity) HasSharedSecret() bool {
	return i.SharedSecret != ""
}

// LockedAt retorna true si el lockout sigue vigente en el instante dado.
func (i *Identity) LockedAt(now time.Time) bool {
	return i.LockedUntil != nil && now.Before(*i.LockedUntil)
}

// CloneActivitySet copia el set de actividad (los callers lo mutan).
func (i *Identity) CloneActivitySet() []uint32 {
	if len(i.ActivitySet) == 0 {
		return nil
	}
	out := make([]uint32, len(i.ActivitySet))
	copy(out, i.ActivitySet)
	return out
}

// NormalizeActivitySet deduplica preservando orden y corta en MaxActivitySet.
func NormalizeActivitySet(ids []uint32) []uint32 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[uint32]struct{}, len(ids))
	out := make([]uint32, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		if len(out) == MaxActivitySet {
			break
		}
	}
	return out
}
