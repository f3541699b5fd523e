// Package keyring deriva y custodia la clave de cifrado del proceso.
//
// La clave sale de la passphrase del operador vía PBKDF2 (salt persistido
// en settings). El proceso arranca "locked": sin clave no se descifra nada
// y resume-after-restart queda diferido hasta el Unlock. No existe backdoor
// de recuperación: passphrase perdida = secretos perdidos.
package keyring

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
	"github.com/dropDatabas3/idlejohn/internal/observability/logger"
)

const (
	saltLength = 16
	keyLength  = 32
	// checkSentinel es el plaintext del key-check: verificar la passphrase
	// descifrando esto evita tocar filas de identidades en el unlock.
	checkSentinel = "idlejohn-key-check-v1"
)

// Sink instala la clave activa una vez verificada. En producción es
// secretbox.SetKey; los tests inyectan el suyo.
type Sink func(key []byte) error

// Manager custodia el estado locked/unlocked del proceso.
type Manager struct {
	mu         sync.Mutex
	iterations int
	settings   repository.SettingsRepository
	sink       Sink

	unlocked   bool
	unlockedCh chan struct{}
}

// New crea un Manager bloqueado.
func New(iterations int, settings repository.SettingsRepository, sink Sink) *Manager {
	return &Manager{
		iterations: iterations,
		settings:   settings,
		sink:       sink,
		unlockedCh: make(chan struct{}),
	}
}

// DeriveKey deriva la clave AES-256 desde passphrase+salt. Lento a
// propósito (iterations alto).
func DeriveKey(passphrase string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, iterations, keyLength, sha256.New)
}

// GenerateSalt produce un salt aleatorio nuevo.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("salt random: %w", err)
	}
	return salt, nil
}

// Ready retorna true si el proceso ya tiene clave activa.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked
}

// Unlocked retorna un canal que se cierra en el primer Unlock exitoso.
// El registry lo usa para disparar la resunción diferida.
func (m *Manager) Unlocked() <-chan struct{} {
	return m.unlockedCh
}

// Unlock deriva la clave desde la passphrase y la verifica contra el
// key-check persistido. En el primer arranque (sin salt) crea salt y
// key-check. Con passphrase incorrecta retorna error que satisface
// repository.IsDecryption; el estado queda locked.
func (m *Manager) Unlock(ctx context.Context, passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase vacía: %w", repository.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	log := logger.Named("keyring")

	salt, firstRun, err := m.loadOrCreateSalt(ctx)
	if err != nil {
		return err
	}

	key := DeriveKey(passphrase, salt, m.iterations)

	if firstRun {
		check, err := encryptCheck(key)
		if err != nil {
			return fmt.Errorf("crear key-check: %w", err)
		}
		if err := m.settings.Set(ctx, repository.SettingKeyCheck, check); err != nil {
			return fmt.Errorf("persistir key-check: %w", err)
		}
		log.Info("keyring inicializado (primer unlock)")
	} else {
		check, err := m.settings.Get(ctx, repository.SettingKeyCheck)
		if err != nil {
			if repository.IsNotFound(err) {
				// salt sin key-check: cortado a mitad de un primer unlock;
				// lo regeneramos con esta passphrase.
				check, err = encryptCheck(key)
				if err != nil {
					return fmt.Errorf("crear key-check: %w", err)
				}
				if err := m.settings.Set(ctx, repository.SettingKeyCheck, check); err != nil {
					return fmt.Errorf("persistir key-check: %w", err)
				}
			} else {
				return fmt.Errorf("leer key-check: %w", err)
			}
		}
		if err := verifyCheck(key, check); err != nil {
			log.Warn("unlock rechazado: passphrase incorrecta")
			return err
		}
	}

	if err := m.sink(key); err != nil {
		return fmt.Errorf("instalar clave: %w", err)
	}
	if !m.unlocked {
		m.unlocked = true
		close(m.unlockedCh)
	}
	log.Info("proceso desbloqueado")
	return nil
}

// loadOrCreateSalt retorna el salt persistido, creándolo si es el primer
// arranque. firstRun=true cuando acaba de crearlo.
func (m *Manager) loadOrCreateSalt(ctx context.Context) (salt []byte, firstRun bool, err error) {
	s, err := m.settings.Get(ctx, repository.SettingKDFSalt)
	switch {
	case err == nil:
		salt, err = base64.StdEncoding.DecodeString(s)
		if err != nil || len(salt) != saltLength {
			return nil, false, fmt.Errorf("salt persistido corrupto: %w", repository.ErrDecryption)
		}
		return salt, false, nil
	case repository.IsNotFound(err):
		salt, err = GenerateSalt()
		if err != nil {
			return nil, false, err
		}
		if err := m.settings.Set(ctx, repository.SettingKDFSalt, base64.StdEncoding.EncodeToString(salt)); err != nil {
			return nil, false, fmt.Errorf("persistir salt: %w", err)
		}
		return salt, true, nil
	default:
		return nil, false, fmt.Errorf("leer salt: %w", err)
	}
}
