package integration

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// 00 - Arranque locked: probes, negativa a guardar secretos sin clave,
// unlock y métricas expuestas.
func Test_00_Smoke_LockedBoot(t *testing.T) {
	s := bootStack(t, filepath.Join(t.TempDir(), "idlejohn.db"), nil)

	t.Run("healthz responde siempre", func(t *testing.T) {
		status, body := s.doJSON(t, http.MethodGet, "/healthz", nil)
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, "ok", string(body))
	})

	t.Run("readyz reporta locked con el store arriba", func(t *testing.T) {
		status, raw := s.doJSON(t, http.MethodGet, "/readyz", nil)
		require.Equal(t, http.StatusOK, status)
		var out struct {
			Ready    bool   `json:"ready"`
			Store    string `json:"store"`
			Unlocked bool   `json:"unlocked"`
		}
		decode(t, raw, &out)
		require.True(t, out.Ready)
		require.Equal(t, "sqlite", out.Store)
		require.False(t, out.Unlocked)
	})

	t.Run("crear identidad sin clave es 503", func(t *testing.T) {
		status, raw := s.doJSON(t, http.MethodPost, "/v1/identities", map[string]any{
			"loginName": "temprana",
			"password":  "hunter2",
		})
		require.Equal(t, http.StatusServiceUnavailable, status)
		require.Contains(t, string(raw), "key_unavailable")
	})

	t.Run("unlock deja el proceso operable", func(t *testing.T) {
		s.unlock(t, "frase maestra")

		status, raw := s.doJSON(t, http.MethodGet, "/readyz", nil)
		require.Equal(t, http.StatusOK, status)
		var out struct {
			Unlocked bool `json:"unlocked"`
		}
		decode(t, raw, &out)
		require.True(t, out.Unlocked)
	})

	t.Run("metrics expone los contadores HTTP", func(t *testing.T) {
		status, raw := s.doJSON(t, http.MethodGet, "/metrics", nil)
		require.Equal(t, http.StatusOK, status)
		require.Contains(t, string(raw), "http_requests_total")
	})
}
