package repository

import "errors"

var (
	// ErrNotFound indica que el recurso solicitado no existe.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indica un duplicado (login name o ventana abierta repetida).
	ErrDuplicate = errors.New("duplicate")

	// ErrInvalidInput indica que los datos de entrada son inválidos.
	ErrInvalidInput = errors.New("invalid input")

	// ErrIncompleteAccount indica una identidad sin credencial primaria.
	ErrIncompleteAccount = errors.New("account has no credentials")

	// ErrInvalidCredential indica credencial rechazada por el servicio remoto.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrTwoFactorRequired indica un challenge 2FA sin shared secret en archivo.
	ErrTwoFactorRequired = errors.New("Steam Guard code required")

	// ErrRateLimited indica throttling del servicio remoto.
	ErrRateLimited = errors.New("rate limited by remote service")

	// ErrTransientConnection cubre caídas y timeouts de red reconectables.
	ErrTransientConnection = errors.New("transient connection failure")

	// ErrMaxReconnectAttempts indica que se agotó el presupuesto de reconexión.
	ErrMaxReconnectAttempts = errors.New("max reconnect attempts exceeded")

	// ErrLockedOut indica un lockout vigente para la identidad.
	ErrLockedOut = errors.New("identity is locked out")

	// ErrDecryption indica ciphertext malformado o tag inválido (clave
	// incorrecta o corrupción). Nunca se degrada a plaintext.
	ErrDecryption = errors.New("decryption failed")

	// ErrKeyUnavailable indica que el operador aún no desbloqueó la clave.
	ErrKeyUnavailable = errors.New("encryption key unavailable")

	// ErrNotImplemented indica que la operación no está implementada por este driver.
	ErrNotImplemented = errors.New("not implemented")

	// ErrNoDatabase indica que no hay base de datos configurada.
	ErrNoDatabase = errors.New("no database configured")
)

// IsNotFound verifica si el error es ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicate verifica si el error es ErrDuplicate.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsDecryption verifica si el error es ErrDecryption.
func IsDecryption(err error) bool {
	return errors.Is(err, ErrDecryption)
}

// IsLockedOut verifica si el error es ErrLockedOut.
func IsLockedOut(err error) bool {
	return errors.Is(err, ErrLockedOut)
}

// IsKeyUnavailable verifica si el error es ErrKeyUnavailable.
func IsKeyUnavailable(err error) bool {
	return errors.Is(err, ErrKeyUnavailable)
}
