// Package totp genera códigos two-factor del estilo que usa la red de
// presencia: 5 caracteres sobre un alfabeto alfanumérico reducido, paso
// de 30 segundos, HMAC-SHA1 (RFC 4226/6238 con truncado propio).
package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

const (
	// Alfabeto del código: sin vocales ni caracteres ambiguos (0/O, 1/I, etc.).
	alphabet = "23456789BCDFGHJKMNPQRTVWXY"
	digits   = 5
	period   = 30 // segundos por paso
)

// GenerateCode deriva el código de 5 caracteres desde el shared secret
// (base64) para el instante t. Función pura: sin I/O ni estado; la
// tolerancia a skew la da la ventana de pasos del verificador remoto y los
// reintentos pertenecen al flujo de login, no a este paquete.
func GenerateCode(sharedSecret string, t time.Time) (string, error) {
	sharedSecret = strings.TrimSpace(sharedSecret)
	if sharedSecret == "" {
		return "", fmt.Errorf("shared secret vacío")
	}
	key, err := base64.StdEncoding.DecodeString(sharedSecret)
	if err != nil {
		// algunos exports traen el secret sin padding
		key, err = base64.RawStdEncoding.DecodeString(sharedSecret)
		if err != nil {
			return "", fmt.Errorf("decode shared secret: %w", err)
		}
	}
	return genAt(key, t.Unix()/period), nil
}

func genAt(key []byte, counter int64) string {
	var msg [8]byte
	for i := 7; i >= 0; i-- {
		msg[i] = byte(counter & 0xff)
		counter >>= 8
	}
	m := hmac.New(sha1.New, key)
	_, _ = m.Write(msg[:])
	sum := m.Sum(nil)

	offset := int(sum[len(sum)-1] & 0x0f)
	full := (int(sum[offset])&0x7f)<<24 |
		int(sum[offset+1])<<16 |
		int(sum[offset+2])<<8 |
		int(sum[offset+3])

	var b strings.Builder
	b.Grow(digits)
	for i := 0; i < digits; i++ {
		b.WriteByte(alphabet[full%len(alphabet)])
		full /= len(alphabet)
	}
	return b.String()
}
