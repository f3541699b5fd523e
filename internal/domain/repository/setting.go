package repository

import "context"

// Claves de settings usadas por el core. Otros consumidores pueden guardar
// las suyas; estas están reservadas.
const (
	SettingKDFSalt  = "crypto.kdf_salt"  // salt PBKDF2 en base64
	SettingKeyCheck = "crypto.key_check" // sentinel cifrado para verificar passphrase
)

// SettingsRepository define un key-value simple para preferencias del
// operador y bookkeeping interno.
type SettingsRepository interface {
	// Get retorna el valor de una clave. Retorna ErrNotFound si no existe.
	Get(ctx context.Context, key string) (string, error)

	// Set crea o reemplaza el valor de una clave.
	Set(ctx context.Context, key, value string) error

	// Delete elimina una clave. No-op si no existe.
	Delete(ctx context.Context, key string) error

	// All retorna todas las claves con sus valores.
	All(ctx context.Context) (map[string]string, error)
}
