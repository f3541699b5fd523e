package integration

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/idlejohn/internal/domain"
)

func Test_01_Lifecycle_AltaStartIdleLogout(t *testing.T) {
	db := filepath.Join(t.TempDir(), "idlejohn.db")
	s := bootStack(t, db, nil)
	s.unlock(t, "frase maestra")

	var id string
	t.Run("alta con set de actividad", func(t *testing.T) {
		id = s.createIdentity(t, "walter", 570)
		v := s.getIdentity(t, id)
		require.Equal(t, string(domain.StatusOffline), v.Status)
		require.True(t, v.HasPassword)
		require.False(t, v.DesiredIdle, "el alta no pide idling por sí sola")
		require.Equal(t, []uint32{570}, v.ActivitySet)
	})

	t.Run("start conecta y queda online", func(t *testing.T) {
		status, raw := s.doJSON(t, http.MethodPost, "/v1/identities/"+id+"/start", nil)
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		var snap snapshotView
		decode(t, raw, &snap)
		require.Equal(t, string(domain.StatusOnline), snap.Status)
		require.True(t, snap.Live)
		require.False(t, snap.DesiredIdle)
		require.Equal(t, 1, s.client.Connects())
	})

	t.Run("activity enciende el idling sobre la conexión viva", func(t *testing.T) {
		status, raw := s.doJSON(t, http.MethodPut, "/v1/identities/"+id+"/activity",
			map[string]any{"ids": []uint32{570, 730}})
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		var snap snapshotView
		decode(t, raw, &snap)
		require.Equal(t, string(domain.StatusIdling), snap.Status)
		require.True(t, snap.DesiredIdle)

		calls := s.client.LastConn().ActivityCalls()
		require.NotEmpty(t, calls)
		require.Equal(t, []uint32{570, 730}, calls[len(calls)-1])
	})

	t.Run("stop corta el idling sin desconectar", func(t *testing.T) {
		status, raw := s.doJSON(t, http.MethodPost, "/v1/identities/"+id+"/stop", nil)
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		var snap snapshotView
		decode(t, raw, &snap)
		require.Equal(t, string(domain.StatusOnline), snap.Status)
		require.False(t, snap.DesiredIdle)
		require.True(t, snap.Live)
		require.False(t, s.client.LastConn().Closed())
	})

	t.Run("logout suelta la conexión", func(t *testing.T) {
		status, raw := s.doJSON(t, http.MethodPost, "/v1/identities/"+id+"/logout", nil)
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		var snap snapshotView
		decode(t, raw, &snap)
		require.Equal(t, string(domain.StatusOffline), snap.Status)
		require.False(t, snap.Live)
		require.True(t, s.client.LastConn().Closed())
		require.Equal(t, 0, s.getStatus(t).Live)
	})

	t.Run("delete borra la fila", func(t *testing.T) {
		status, _ := s.doJSON(t, http.MethodDelete, "/v1/identities/"+id, nil)
		require.Equal(t, http.StatusNoContent, status)
		status, _ = s.doJSON(t, http.MethodGet, "/v1/identities/"+id, nil)
		require.Equal(t, http.StatusNotFound, status)
	})
}
