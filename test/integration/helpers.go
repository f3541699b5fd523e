// Package integration levanta el stack completo del daemon en proceso
// (store sqlite real, keyring, Manager, router con el onion de
// middlewares) y lo ejercita por HTTP, incluyendo reinicios sobre el
// mismo archivo de base.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dropDatabas3/idlejohn/internal/cache"
	"github.com/dropDatabas3/idlejohn/internal/eventlog"
	httpapi "github.com/dropDatabas3/idlejohn/internal/http"
	"github.com/dropDatabas3/idlejohn/internal/presence/fake"
	"github.com/dropDatabas3/idlejohn/internal/rate"
	"github.com/dropDatabas3/idlejohn/internal/security/keyring"
	"github.com/dropDatabas3/idlejohn/internal/security/secretbox"
	"github.com/dropDatabas3/idlejohn/internal/session"
	"github.com/dropDatabas3/idlejohn/internal/store"

	_ "github.com/dropDatabas3/idlejohn/internal/store/adapters/sqlite"
)

// Sin t.Parallel en esta suite: la clave activa de secretbox es estado
// de proceso y los stacks la instalan y resetean.

// stack es un daemon completo corriendo en proceso sobre httptest.
type stack struct {
	base   string
	hc     *http.Client
	conn   store.AdapterConnection
	client *fake.Client
	mgr    *session.Manager
	keys   *keyring.Manager
	srv    *httptest.Server
	cancel context.CancelFunc
}

// bootStack arma el mismo cableado que cmd/service sobre un archivo
// sqlite dado. Arranca locked, con el resume programado esperando el
// unlock. fc nil crea un fake.Client sin guion (todo login resuelve ok).
func bootStack(t *testing.T, dbPath string, fc *fake.Client) *stack {
	t.Helper()
	secretbox.UnsafeResetForTests()

	ctx, cancel := context.WithCancel(context.Background())

	conn, err := store.OpenAdapter(ctx, store.AdapterConfig{
		Name:        store.DriverSQLite,
		Path:        dbPath,
		BusyTimeout: 2 * time.Second,
	})
	if err != nil {
		cancel()
		t.Fatalf("abrir store: %v", err)
	}

	if fc == nil {
		fc = fake.NewClient()
	}
	events := eventlog.New(conn.Events())
	// Iteraciones bajas: acá el KDF no es lo que se prueba.
	keys := keyring.New(1000, conn.Settings(), secretbox.SetKey)

	p := session.DefaultPolicy()
	p.ResumeSettleDelay = time.Millisecond
	p.ReconnectStep = 10 * time.Millisecond

	var sc *cache.StatusCache
	mgr := session.NewManager(ctx, session.Options{
		Identities: conn.Identities(),
		Records:    conn.ActivityRecords(),
		Events:     events,
		Client:     fc,
		Keyring:    keys,
		Policy:     p,
		OnTransition: func(id string) {
			if sc != nil {
				sc.Invalidate(id)
			}
		},
	})
	sc = cache.New(mgr, 2*time.Second)

	if err := mgr.ReconcileStartup(ctx); err != nil {
		t.Fatalf("reconcile de arranque: %v", err)
	}
	mgr.ScheduleResume()

	metricsHandler, err := httpapi.RegisterHTTPMetrics(httpapi.MetricsConfig{})
	if err != nil {
		t.Fatalf("registrar métricas: %v", err)
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Manager: mgr,
		Cache:   sc,
		Keyring: keys,
		Store:   conn,
		Events:  events,
		Metrics: metricsHandler,
	})
	handler := httpapi.WithLogging(
		httpapi.WithRecover(
			httpapi.WithRequestID(
				httpapi.WithMetrics(
					httpapi.WithRateLimit(
						httpapi.WithSecurityHeaders(router),
						rate.NewWindowLimiter(20, time.Minute),
					),
				),
			),
		),
	)
	srv := httptest.NewServer(handler)

	s := &stack{
		base:   srv.URL,
		hc:     &http.Client{Timeout: 10 * time.Second},
		conn:   conn,
		client: fc,
		mgr:    mgr,
		keys:   keys,
		srv:    srv,
		cancel: cancel,
	}
	t.Cleanup(func() { s.stop(t) })
	return s
}

// stop drena en el mismo orden que el daemon: HTTP, sesiones, store.
// Idempotente para convivir con el Cleanup.
func (s *stack) stop(t *testing.T) {
	t.Helper()
	if s.srv == nil {
		return
	}
	s.srv.Close()
	s.srv = nil
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.mgr.Shutdown(ctx)
	if err := s.conn.Close(); err != nil {
		t.Errorf("cerrar store: %v", err)
	}
	s.cancel()
}

// doJSON ejecuta un request contra el stack y retorna status y body.
func (s *stack) doJSON(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("serializar body: %v", err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.base+path, rd)
	if err != nil {
		t.Fatalf("armar request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("leer respuesta: %v", err)
	}
	return resp.StatusCode, buf.Bytes()
}

func decode(t *testing.T, raw []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decodificar respuesta: %v (body: %s)", err, raw)
	}
}

// unlock desbloquea el proceso con la passphrase dada y exige éxito.
func (s *stack) unlock(t *testing.T, passphrase string) {
	t.Helper()
	status, body := s.doJSON(t, http.MethodPost, "/v1/unlock", map[string]string{"passphrase": passphrase})
	if status != http.StatusOK {
		t.Fatalf("unlock: status %d (body: %s)", status, body)
	}
}

type identityView struct {
	IdentityID   string     `json:"identityId"`
	LoginName    string     `json:"loginName"`
	Status       string     `json:"status"`
	LastError    string     `json:"lastError"`
	DesiredIdle  bool       `json:"desiredIdle"`
	Persona      string     `json:"persona"`
	ActivitySet  []uint32   `json:"activitySet"`
	FailedLogins int        `json:"failedLogins"`
	LockedUntil  *time.Time `json:"lockedUntil"`
	HasPassword  bool       `json:"hasPassword"`
	Live         bool       `json:"live"`
}

type snapshotView struct {
	IdentityID  string     `json:"identityId"`
	LoginName   string     `json:"loginName"`
	Status      string     `json:"status"`
	LastError   string     `json:"lastError"`
	DesiredIdle bool       `json:"desiredIdle"`
	ActivitySet []uint32   `json:"activitySet"`
	LockedUntil *time.Time `json:"lockedUntil"`
	Live        bool       `json:"live"`
}

type statusView struct {
	Live     int            `json:"live"`
	Sessions []snapshotView `json:"sessions"`
}

func (s *stack) createIdentity(t *testing.T, login string, activities ...uint32) string {
	t.Helper()
	body := map[string]any{
		"loginName": login,
		"password":  "hunter2-" + login,
	}
	if len(activities) > 0 {
		body["activitySet"] = activities
	}
	status, raw := s.doJSON(t, http.MethodPost, "/v1/identities", body)
	if status != http.StatusCreated {
		t.Fatalf("crear %s: status %d (body: %s)", login, status, raw)
	}
	var v identityView
	decode(t, raw, &v)
	return v.IdentityID
}

func (s *stack) getIdentity(t *testing.T, id string) identityView {
	t.Helper()
	status, raw := s.doJSON(t, http.MethodGet, "/v1/identities/"+id, nil)
	if status != http.StatusOK {
		t.Fatalf("GET identidad: status %d (body: %s)", status, raw)
	}
	var v identityView
	decode(t, raw, &v)
	return v
}

func (s *stack) getStatus(t *testing.T) statusView {
	t.Helper()
	status, raw := s.doJSON(t, http.MethodGet, "/v1/status", nil)
	if status != http.StatusOK {
		t.Fatalf("GET status: status %d (body: %s)", status, raw)
	}
	var v statusView
	decode(t, raw, &v)
	return v
}

type eventView struct {
	Level      string `json:"level"`
	IdentityID string `json:"identityId"`
	Category   string `json:"category"`
	Message    string `json:"message"`
}

// events lista el activity log con el query string dado ("" trae todo).
func (s *stack) events(t *testing.T, query string) []eventView {
	t.Helper()
	path := "/v1/events"
	if query != "" {
		path += "?" + query
	}
	status, raw := s.doJSON(t, http.MethodGet, path, nil)
	if status != http.StatusOK {
		t.Fatalf("GET events: status %d (body: %s)", status, raw)
	}
	var resp struct {
		Events []eventView `json:"events"`
		Total  int         `json:"total"`
	}
	decode(t, raw, &resp)
	return resp.Events
}

// hasEvent busca un mensaje exacto en el activity log.
func (s *stack) hasEvent(t *testing.T, query, message string) bool {
	t.Helper()
	for _, e := range s.events(t, query) {
		if e.Message == message {
			return true
		}
	}
	return false
}

// waitFor sondea cond hasta que dé true o venza el plazo.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout esperando %s", what)
}
