package keyring

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
	"github.com/dropDatabas3/idlejohn/internal/observability/logger"
	"github.com/dropDatabas3/idlejohn/internal/security/secretbox"
)

func encryptCheck(key []byte) (string, error) {
	return secretbox.EncryptWithKey(key, checkSentinel)
}

func verifyCheck(key []byte, check string) error {
	pt, err := secretbox.DecryptWithKey(key, check)
	if err != nil {
		return fmt.Errorf("passphrase incorrecta: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(pt), []byte(checkSentinel)) != 1 {
		return fmt.Errorf("key-check no coincide: %w", repository.ErrDecryption)
	}
	return nil
}

// RekeyResult resume un re-keying: campos re-cifrados y campos que no se
// pudieron abrir con la clave vieja (quedan como estaban).
type RekeyResult struct {
	Reencrypted int
	Failed      int
}

// Rekey rota la passphrase: verifica la vieja, deriva clave nueva con salt
// nuevo y re-cifra campo por campo los secretos de todas las identidades.
// Fallos individuales no abortan el batch; se cuentan y se loguean. Al
// terminar persiste salt y key-check nuevos e instala la clave nueva.
func (m *Manager) Rekey(ctx context.Context, identities repository.IdentityRepository, oldPassphrase, newPassphrase string) (RekeyResult, error) {
	var res RekeyResult
	if newPassphrase == "" {
		return res, fmt.Errorf("passphrase nueva vacía: %w", repository.ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	log := logger.Named("keyring")

	salt, firstRun, err := m.loadOrCreateSalt(ctx)
	if err != nil {
		return res, err
	}
	if firstRun {
		return res, fmt.Errorf("no hay secretos que rotar: %w", repository.ErrNotFound)
	}
	oldKey := DeriveKey(oldPassphrase, salt, m.iterations)
	check, err := m.settings.Get(ctx, repository.SettingKeyCheck)
	if err != nil {
		return res, fmt.Errorf("leer key-check: %w", err)
	}
	if err := verifyCheck(oldKey, check); err != nil {
		return res, err
	}

	newSalt, err := GenerateSalt()
	if err != nil {
		return res, err
	}
	newKey := DeriveKey(newPassphrase, newSalt, m.iterations)

	all, err := identities.List(ctx)
	if err != nil {
		return res, fmt.Errorf("listar identidades: %w", err)
	}
	for i := range all {
		id := &all[i]
		update := repository.UpdateIdentityInput{}

		rotate := func(cipher string, dst **string) {
			if cipher == "" {
				return
			}
			out, err := secretbox.ReEncryptField(oldKey, newKey, cipher)
			if err != nil {
				res.Failed++
				log.Warn("campo no rotado",
					logger.IdentityID(id.ID),
					logger.Err(err),
				)
				return
			}
			*dst = &out
			res.Reencrypted++
		}

		rotate(id.Password, &update.Password)
		rotate(id.SharedSecret, &update.SharedSecret)
		rotate(id.IdentitySecret, &update.IdentitySecret)
		rotate(id.RefreshToken, &update.RefreshToken)

		if update.Password == nil && update.SharedSecret == nil &&
			update.IdentitySecret == nil && update.RefreshToken == nil {
			continue
		}
		if _, err := identities.Update(ctx, id.ID, update); err != nil {
			// la escritura falló: los campos de esta identidad cuentan
			// como fallidos aunque el re-cifrado haya salido.
			n := countSet(update)
			res.Reencrypted -= n
			res.Failed += n
			log.Error("persistir identidad rotada",
				logger.IdentityID(id.ID),
				logger.Err(err),
			)
			continue
		}
	}

	newCheck, err := encryptCheck(newKey)
	if err != nil {
		return res, fmt.Errorf("crear key-check nuevo: %w", err)
	}
	if err := m.settings.Set(ctx, repository.SettingKDFSalt, base64.StdEncoding.EncodeToString(newSalt)); err != nil {
		return res, fmt.Errorf("persistir salt nuevo: %w", err)
	}
	if err := m.settings.Set(ctx, repository.SettingKeyCheck, newCheck); err != nil {
		return res, fmt.Errorf("persistir key-check nuevo: %w", err)
	}

	if err := m.sink(newKey); err != nil {
		return res, fmt.Errorf("instalar clave nueva: %w", err)
	}
	if !m.unlocked {
		m.unlocked = true
		close(m.unlockedCh)
	}
	log.Info("re-keying completado",
		logger.Int("reencrypted", res.Reencrypted),
		logger.Int("failed", res.Failed),
	)
	return res, nil
}

func countSet(u repository.UpdateIdentityInput) int {
	n := 0
	if u.Password != nil {
		n++
	}
	if u.SharedSecret != nil {
		n++
	}
	if u.IdentitySecret != nil {
		n++
	}
	if u.RefreshToken != nil {
		n++
	}
	return n
}
