package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
)

const (
	envelopePrefix    = "sb1"
	nonceSizeGCM      = 12  // AES-GCM nonce size recomendado (96 bits)
	requiredKeyLength = 32  // 32 bytes => AES-256
	sep               = "|" // sb1|base64(nonce)|base64(ciphertext)
)

var (
	activeKey []byte
	mu        sync.RWMutex
)

// SetKey instala la clave activa del proceso. La llama el keyring al
// desbloquear; no hay otra fuente de clave (perderla hace irrecuperables
// los secretos almacenados).
func SetKey(k []byte) error {
	if len(k) != requiredKeyLength {
		return fmt.Errorf("clave inválida: %d bytes (requiere %d)", len(k), requiredKeyLength)
	}
	mu.Lock()
	activeKey = make([]byte, len(k))
	copy(activeKey, k)
	mu.Unlock()
	return nil
}

// Ready expone si hay clave activa (útil para healthchecks y el gate de
// resume-after-restart).
func Ready() bool {
	mu.RLock()
	defer mu.RUnlock()
	return len(activeKey) == requiredKeyLength
}

func currentKey() ([]byte, error) {
	mu.RLock()
	defer mu.RUnlock()
	if len(activeKey) != requiredKeyLength {
		return nil, repository.ErrKeyUnavailable
	}
	k := make([]byte, len(activeKey))
	copy(k, activeKey)
	return k, nil
}

// IsEncrypted reporta si el valor tiene forma de envelope sb1. No valida
// el contenido, solo el formato.
func IsEncrypted(v string) bool {
	parts := strings.Split(v, sep)
	if len(parts) != 3 || parts[0] != envelopePrefix {
		return false
	}
	n, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(n) != nonceSizeGCM {
		return false
	}
	_, err = base64.StdEncoding.DecodeString(parts[2])
	return err == nil
}

// Encrypt cifra plainText con la clave activa y devuelve el envelope
// sb1|base64(nonce)|base64(ciphertext).
func Encrypt(plainText string) (string, error) {
	key, err := currentKey()
	if err != nil {
		return "", err
	}
	return EncryptWithKey(key, plainText)
}

// EncryptWithKey cifra con una clave explícita (re-keying, tests).
func EncryptWithKey(key []byte, plainText string) (string, error) {
	if len(key) != requiredKeyLength {
		return "", fmt.Errorf("clave inválida: %d bytes (requiere %d)", len(key), requiredKeyLength)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce random: %w", err)
	}

	ct := aesgcm.Seal(nil, nonce, []byte(plainText), nil)

	nonceB64 := base64.StdEncoding.EncodeToString(nonce)
	ctB64 := base64.StdEncoding.EncodeToString(ct)
	return envelopePrefix + sep + nonceB64 + sep + ctB64, nil
}

// Decrypt recibe un envelope sb1 y devuelve el texto plano usando la clave
// activa. Falla con ErrKeyUnavailable si el proceso sigue bloqueado y con
// ErrDecryption si el envelope es inválido o el tag no verifica.
func Decrypt(cipherText string) (string, error) {
	key, err := currentKey()
	if err != nil {
		return "", err
	}
	return DecryptWithKey(key, cipherText)
}

// DecryptWithKey descifra con una clave explícita (re-keying, tests).
// Nunca retorna plaintext parcial: cualquier fallo es ErrDecryption.
func DecryptWithKey(key []byte, cipherText string) (string, error) {
	if len(key) != requiredKeyLength {
		return "", fmt.Errorf("clave inválida: %d bytes (requiere %d)", len(key), requiredKeyLength)
	}

	parts := strings.Split(cipherText, sep)
	if len(parts) != 3 || parts[0] != envelopePrefix {
		return "", fmt.Errorf("formato inválido, esperado sb1|nonce|ciphertext: %w", repository.ErrDecryption)
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", repository.ErrDecryption)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", repository.ErrDecryption)
	}
	if len(nonce) != nonceSizeGCM {
		return "", fmt.Errorf("nonce de %d bytes: %w", len(nonce), repository.ErrDecryption)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	pt, err := aesgcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("gcm auth/decrypt: %w", repository.ErrDecryption)
	}
	return string(pt), nil
}

// ReEncryptField descifra con oldKey y cifra con newKey. Los batches de
// re-keying llaman esto campo por campo y cuentan fallos sin abortar.
func ReEncryptField(oldKey, newKey []byte, cipherText string) (string, error) {
	pt, err := DecryptWithKey(oldKey, cipherText)
	if err != nil {
		return "", err
	}
	return EncryptWithKey(newKey, pt)
}

// --- Helpers para tests ---

// UnsafeResetForTests borra la clave activa. Usar sólo en tests.
func UnsafeResetForTests() {
	mu.Lock()
	activeKey = nil
	mu.Unlock()
}
