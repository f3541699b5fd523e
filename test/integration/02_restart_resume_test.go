package integration

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/idlejohn/internal/domain"
)

// El reinicio del daemon debe retomar solo lo que estaba idling: la
// intención persistida sobrevive al drain y el resume espera el unlock.
func Test_02_Restart_ResumeTrasUnlock(t *testing.T) {
	db := filepath.Join(t.TempDir(), "idlejohn.db")

	// 1) Primer arranque: identidad idling con persona propia.
	s1 := bootStack(t, db, nil)
	s1.unlock(t, "frase maestra")
	id := s1.createIdentity(t, "walter", 570)

	status, _ := s1.doJSON(t, http.MethodPut, "/v1/identities/"+id+"/persona", map[string]any{"persona": "away"})
	require.Equal(t, http.StatusOK, status)
	status, _ = s1.doJSON(t, http.MethodPost, "/v1/identities/"+id+"/start", nil)
	require.Equal(t, http.StatusOK, status)
	status, raw := s1.doJSON(t, http.MethodPut, "/v1/identities/"+id+"/activity", map[string]any{"ids": []uint32{570}})
	require.Equal(t, http.StatusOK, status, "body: %s", raw)

	var snap snapshotView
	decode(t, raw, &snap)
	require.Equal(t, string(domain.StatusIdling), snap.Status)
	require.Equal(t, 1, s1.client.Connects())

	// 2) Reinicio: el drain deja la fila offline con la intención intacta.
	s1.stop(t)
	s2 := bootStack(t, db, nil)

	v := s2.getIdentity(t, id)
	require.Equal(t, string(domain.StatusOffline), v.Status)
	require.True(t, v.DesiredIdle, "el drain no debe borrar la intención de idling")
	require.False(t, v.Live)

	// 3) El proceso arranca locked: la passphrase equivocada se rechaza
	// y el resume sigue a la espera.
	status, raw = s2.doJSON(t, http.MethodPost, "/v1/unlock", map[string]any{"passphrase": "otra frase"})
	require.Equal(t, http.StatusForbidden, status, "body: %s", raw)
	require.Equal(t, 0, s2.client.Connects())

	// 4) Unlock correcto: el resume corre solo y vuelve a idling.
	s2.unlock(t, "frase maestra")
	waitFor(t, "resume a idling", func() bool {
		v := s2.getIdentity(t, id)
		return v.Status == string(domain.StatusIdling) && v.Live
	})
	require.Equal(t, 1, s2.client.Connects())
	require.True(t, s2.hasEvent(t, "category=process", "resume post-restart: 1/1 sesiones retomadas"))

	// 5) El login del resume releyó la fila: persona y set asignado.
	calls := s2.client.LastConn().PresenceCalls()
	require.NotEmpty(t, calls)
	require.Equal(t, domain.PersonaAway, calls[0])
	acts := s2.client.LastConn().ActivityCalls()
	require.NotEmpty(t, acts)
	require.Equal(t, []uint32{570}, acts[len(acts)-1])
}
