package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - HTTP
// =================================================================================

// RequestID crea un campo para el ID del request.
func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// Method crea un campo para el método HTTP.
func Method(v string) zap.Field {
	return zap.String("method", v)
}

// Path crea un campo para el path del request.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Duration crea un campo para la duración del request.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// DurationMs crea un campo para la duración en milisegundos.
func DurationMs(v int64) zap.Field {
	return zap.Int64("duration_ms", v)
}

// ClientIP crea un campo para la IP del cliente.
func ClientIP(v string) zap.Field {
	return zap.String("client_ip", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - SESIONES
// =================================================================================

// IdentityID crea un campo para el ID de la identidad gestionada.
func IdentityID(v string) zap.Field {
	return zap.String("identity_id", v)
}

// LoginName crea un campo para el login name (nunca la credencial).
func LoginName(v string) zap.Field {
	return zap.String("login_name", v)
}

// SessionStatus crea un campo para el estado de la sesión.
func SessionStatus(v string) zap.Field {
	return zap.String("status", v)
}

// Attempt crea un campo para el número de intento de reconexión.
func Attempt(v int) zap.Field {
	return zap.Int("attempt", v)
}

// FailedLogins crea un campo para el contador de logins fallidos.
func FailedLogins(v int) zap.Field {
	return zap.Int("failed_logins", v)
}

// LockedUntil crea un campo para la expiración del lockout.
func LockedUntil(v time.Time) zap.Field {
	return zap.Time("locked_until", v)
}

// Activities crea un campo para el tamaño del set de actividad.
func Activities(v int) zap.Field {
	return zap.Int("activities", v)
}

// RecordID crea un campo para el ID de una ventana de actividad.
func RecordID(v string) zap.Field {
	return zap.String("record_id", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Driver crea un campo para el driver de storage activo.
func Driver(v string) zap.Field {
	return zap.String("driver", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// =================================================================================
// CAMPOS ESTÁNDAR - DATOS
// =================================================================================

// Count crea un campo para un conteo.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// ID crea un campo genérico para un ID.
func ID(v string) zap.Field {
	return zap.String("id", v)
}

// Key crea un campo genérico para una clave.
func Key(v string) zap.Field {
	return zap.String("key", v)
}

// Any crea un campo genérico para cualquier tipo.
func Any(key string, v any) zap.Field {
	return zap.Any(key, v)
}

// String crea un campo string genérico.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}

// Int crea un campo int genérico.
func Int(key string, v int) zap.Field {
	return zap.Int(key, v)
}

// Bool crea un campo bool genérico.
func Bool(key string, v bool) zap.Field {
	return zap.Bool(key, v)
}
