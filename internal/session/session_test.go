package session_test

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dropDatabas3/idlejohn/internal/domain"
	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
	"github.com/dropDatabas3/idlejohn/internal/eventlog"
	"github.com/dropDatabas3/idlejohn/internal/presence/fake"
	"github.com/dropDatabas3/idlejohn/internal/security/secretbox"
	"github.com/dropDatabas3/idlejohn/internal/session"
	"github.com/dropDatabas3/idlejohn/internal/store"
	"github.com/dropDatabas3/idlejohn/internal/store/adapters/memory"
)

// Sin t.Parallel en este paquete: la clave activa de secretbox es estado
// de proceso y varios tests la instalan o la resetean.

var masterKey = func() []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = 0x40 + byte(i)
	}
	return k
}()

func installKey(t *testing.T) {
	t.Helper()
	if err := secretbox.SetKey(masterKey); err != nil {
		t.Fatalf("instalar clave de test: %v", err)
	}
}

func enc(t *testing.T, plain string) string {
	t.Helper()
	ct, err := secretbox.Encrypt(plain)
	if err != nil {
		t.Fatalf("cifrar fixture: %v", err)
	}
	return ct
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout esperando %s", what)
}

func fastPolicy() session.Policy {
	return session.Policy{
		MaxFailedLogins:      3,
		LockoutBase:          30 * time.Minute,
		LockoutMax:           24 * time.Hour,
		RateLimitCooldown:    time.Hour,
		MaxReconnectAttempts: 10,
		ReconnectStep:        10 * time.Millisecond,
		ResumeSettleDelay:    time.Millisecond,
		BulkConcurrency:      2,
	}
}

type harness struct {
	ctx    context.Context
	conn   store.AdapterConnection
	client *fake.Client
	mgr    *session.Manager
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithPolicy(t, fastPolicy())
}

func newHarnessWithPolicy(t *testing.T, p session.Policy) *harness {
	t.Helper()
	installKey(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	conn := memory.NewConnection()
	client := fake.NewClient()
	mgr := session.NewManager(ctx, session.Options{
		Identities: conn.Identities(),
		Records:    conn.ActivityRecords(),
		Events:     eventlog.New(conn.Events()),
		Client:     client,
		Policy:     p,
	})
	t.Cleanup(func() { mgr.Shutdown(context.Background()) })

	return &harness{ctx: ctx, conn: conn, client: client, mgr: mgr}
}

func (h *harness) createIdentity(t *testing.T, login string, activities ...uint32) string {
	t.Helper()
	ident, err := h.conn.Identities().Create(h.ctx, repository.CreateIdentityInput{
		LoginName:   login,
		Password:    enc(t, "hunter2-"+login),
		ActivitySet: activities,
	})
	if err != nil {
		t.Fatalf("crear identidad %s: %v", login, err)
	}
	return ident.ID
}

func (h *harness) snapshot(t *testing.T, id string) session.Snapshot {
	t.Helper()
	snap, err := h.mgr.Status(h.ctx, id)
	if err != nil {
		t.Fatalf("status de %s: %v", id, err)
	}
	return snap
}

func (h *harness) windowCounts(t *testing.T, id string) (total, open int) {
	t.Helper()
	total, open, err := h.conn.ActivityRecords().CountByIdentity(h.ctx, id)
	if err != nil {
		t.Fatalf("contar ventanas: %v", err)
	}
	return total, open
}

func (h *harness) row(t *testing.T, id string) *domain.Identity {
	t.Helper()
	ident, err := h.conn.Identities().Get(h.ctx, id)
	if err != nil {
		t.Fatalf("leer fila: %v", err)
	}
	return ident
}

// backdateLockout simula el paso del tiempo: deja el lockout persistido
// como vencido sin tocar el contador de fallos.
func (h *harness) backdateLockout(t *testing.T, id string, failures int) {
	t.Helper()
	past := time.Now().Add(-time.Minute)
	err := h.conn.Identities().UpdateLockout(h.ctx, id, repository.LockoutUpdate{
		FailedLogins:  failures,
		LastFailureAt: &past,
		LockedUntil:   &past,
	})
	if err != nil {
		t.Fatalf("vencer lockout: %v", err)
	}
}

func wantLockedFor(t *testing.T, snap session.Snapshot, d time.Duration) {
	t.Helper()
	if snap.Status != domain.StatusLocked {
		t.Fatalf("status = %s, esperaba locked", snap.Status)
	}
	if snap.LockedUntil == nil {
		t.Fatalf("LockedUntil nil en estado locked")
	}
	got := time.Until(*snap.LockedUntil)
	if got < d-10*time.Second || got > d+10*time.Second {
		t.Fatalf("lockout de %s, esperaba ~%s", got.Round(time.Second), d)
	}
}

// ─── Login ──────────────────────────────────────────────────────────────

func TestStart_ReachesOnline(t *testing.T) {
	h := newHarness(t)
	id := h.createIdentity(t, "alice", 570)

	snap, err := h.mgr.Start(h.ctx, id)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if snap.Status != domain.StatusOnline {
		t.Fatalf("status = %s, esperaba online", snap.Status)
	}
	if !snap.Live || snap.Since == nil {
		t.Errorf("snapshot sin marca de sesión viva: %+v", snap)
	}
	if h.client.Connects() != 1 {
		t.Errorf("connects = %d, esperaba 1", h.client.Connects())
	}
	if calls := h.client.LastConn().PresenceCalls(); len(calls) != 1 || calls[0] != domain.PersonaOnline {
		t.Errorf("persona aplicada = %v, esperaba [online]", calls)
	}
	if row := h.row(t, id); row.Status != domain.StatusOnline {
		t.Errorf("fila persistida con status %s, esperaba online", row.Status)
	}
	// sin desired-idle no se abre ventana aunque haya set asignado
	if total, open := h.windowCounts(t, id); total != 0 || open != 0 {
		t.Errorf("ventanas = %d/%d, esperaba 0/0", total, open)
	}
}

func TestStart_AutoIdlesWhenDesired(t *testing.T) {
	h := newHarness(t)
	id := h.createIdentity(t, "bob")

	if _, err := h.mgr.SetActivity(h.ctx, id, []uint32{440, 570}); err != nil {
		t.Fatalf("set activity: %v", err)
	}
	snap, err := h.mgr.Start(h.ctx, id)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if snap.Status != domain.StatusIdling {
		t.Fatalf("status = %s, esperaba idling", snap.Status)
	}
	if total, open := h.windowCounts(t, id); total != 1 || open != 1 {
		t.Fatalf("ventanas = %d/%d, esperaba 1/1", total, open)
	}
	calls := h.client.LastConn().ActivityCalls()
	if len(calls) != 1 || len(calls[0]) != 2 || calls[0][0] != 440 || calls[0][1] != 570 {
		t.Errorf("actividad anunciada = %v, esperaba [[440 570]]", calls)
	}
}

func TestStart_SecondCallIsNoop(t *testing.T) {
	h := newHarness(t)
	id := h.createIdentity(t, "carol")

	if _, err := h.mgr.Start(h.ctx, id); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap, err := h.mgr.Start(h.ctx, id)
	if err != nil {
		t.Fatalf("segundo start: %v", err)
	}
	if snap.Status != domain.StatusOnline {
		t.Errorf("status = %s tras doble start", snap.Status)
	}
	if h.client.Connects() != 1 {
		t.Errorf("connects = %d, el segundo start no debe reconectar", h.client.Connects())
	}
}

func TestStart_RejectsIncompleteAccount(t *testing.T) {
	h := newHarness(t)
	ident, err := h.conn.Identities().Create(h.ctx, repository.CreateIdentityInput{LoginName: "imported"})
	if err != nil {
		t.Fatalf("crear identidad: %v", err)
	}

	_, err = h.mgr.Start(h.ctx, ident.ID)
	if !errors.Is(err, repository.ErrIncompleteAccount) {
		t.Fatalf("err = %v, esperaba ErrIncompleteAccount", err)
	}
	if h.client.Connects() != 0 {
		t.Errorf("conectó con una cuenta sin credencial")
	}
}

func TestStart_RequiresUnlockedKey(t *testing.T) {
	h := newHarness(t)
	id := h.createIdentity(t, "dave")

	secretbox.UnsafeResetForTests()
	_, err := h.mgr.Start(h.ctx, id)
	if !repository.IsKeyUnavailable(err) {
		t.Fatalf("err = %v, esperaba ErrKeyUnavailable", err)
	}
	if h.client.Connects() != 0 {
		t.Errorf("conectó sin clave activa")
	}

	installKey(t)
	snap, err := h.mgr.Start(h.ctx, id)
	if err != nil || snap.Status != domain.StatusOnline {
		t.Fatalf("start tras reinstalar clave: %v (status %s)", err, snap.Status)
	}
}

// ─── Two-factor ─────────────────────────────────────────────────────────

func TestStart_AnswersChallengeWithSharedSecret(t *testing.T) {
	h := newHarness(t)
	seed := base64.StdEncoding.EncodeToString([]byte("steam-guard-seed-001"))
	ident, err := h.conn.Identities().Create(h.ctx, repository.CreateIdentityInput{
		LoginName:    "guarded",
		Password:     enc(t, "pw"),
		SharedSecret: enc(t, seed),
	})
	if err != nil {
		t.Fatalf("crear identidad: %v", err)
	}

	h.client.Queue(fake.Outcome{Challenge: true})
	snap, err := h.mgr.Start(h.ctx, ident.ID)
	if err != nil {
		t.Fatalf("start con challenge: %v", err)
	}
	if snap.Status != domain.StatusOnline {
		t.Fatalf("status = %s, esperaba online", snap.Status)
	}
	codes := h.client.Answered()
	if len(codes) != 1 || len(codes[0]) != 5 {
		t.Fatalf("códigos respondidos = %v, esperaba uno de 5 caracteres", codes)
	}
}

func TestStart_ChallengeWithoutSecretIsTerminal(t *testing.T) {
	h := newHarness(t)
	id := h.createIdentity(t, "unguarded")

	h.client.Queue(fake.Outcome{Challenge: true})
	snap, err := h.mgr.Start(h.ctx, id)
	if !errors.Is(err, repository.ErrTwoFactorRequired) {
		t.Fatalf("err = %v, esperaba ErrTwoFactorRequired", err)
	}
	if snap.Status != domain.StatusError {
		t.Fatalf("status = %s, esperaba error", snap.Status)
	}
	if want := "Steam Guard"; !strings.Contains(snap.LastError, want) {
		t.Errorf("LastError = %q, debe mencionar %q", snap.LastError, want)
	}
	if snap.ReconnectPending {
		t.Errorf("hay reconexión programada para un fallo 2FA")
	}
	time.Sleep(30 * time.Millisecond)
	if h.client.Connects() != 1 {
		t.Errorf("connects = %d, un fallo 2FA no debe reintentar", h.client.Connects())
	}
}

// ─── Lockout ────────────────────────────────────────────────────────────

func TestInvalidCredential_EscalatingLockout(t *testing.T) {
	h := newHarness(t)
	id := h.createIdentity(t, "erin")

	h.client.Queue(
		fake.Outcome{Err: repository.ErrInvalidCredential},
		fake.Outcome{Err: repository.ErrInvalidCredential},
		fake.Outcome{Err: repository.ErrInvalidCredential},
		fake.Outcome{Err: repository.ErrInvalidCredential},
		fake.Outcome{Err: repository.ErrInvalidCredential},
		fake.Outcome{Err: repository.ErrInvalidCredential},
	)

	// Los primeros tres fallos quedan en Error, sin lockout.
	for i := 1; i <= 3; i++ {
		snap, err := h.mgr.Start(h.ctx, id)
		if !errors.Is(err, repository.ErrInvalidCredential) {
			t.Fatalf("fallo %d: err = %v", i, err)
		}
		if snap.Status != domain.StatusError {
			t.Fatalf("fallo %d: status = %s, esperaba error", i, snap.Status)
		}
		if snap.FailedLogins != i {
			t.Fatalf("fallo %d: contador = %d", i, snap.FailedLogins)
		}
		if snap.LockedUntil != nil {
			t.Fatalf("fallo %d: lockout prematuro hasta %s", i, snap.LockedUntil)
		}
	}

	// Cuarto fallo: primer lockout, en la base.
	snap, err := h.mgr.Start(h.ctx, id)
	if !errors.Is(err, repository.ErrInvalidCredential) {
		t.Fatalf("fallo 4: err = %v", err)
	}
	wantLockedFor(t, snap, 30*time.Minute)

	// Quinto y sexto duplican: 60 y 120 minutos.
	h.backdateLockout(t, id, 4)
	snap, _ = h.mgr.Start(h.ctx, id)
	wantLockedFor(t, snap, time.Hour)

	h.backdateLockout(t, id, 5)
	snap, _ = h.mgr.Start(h.ctx, id)
	wantLockedFor(t, snap, 2*time.Hour)

	// Con el lockout vigente, Start rechaza sin tocar el remoto.
	before := h.client.Connects()
	_, err = h.mgr.Start(h.ctx, id)
	if !repository.IsLockedOut(err) {
		t.Fatalf("start bloqueado: err = %v, esperaba ErrLockedOut", err)
	}
	if h.client.Connects() != before {
		t.Errorf("start bloqueado igual conectó")
	}
}

func TestLockout_ClearedOnSuccessfulLogin(t *testing.T) {
	h := newHarness(t)
	id := h.createIdentity(t, "frank")

	h.client.Queue(
		fake.Outcome{Err: repository.ErrInvalidCredential},
		fake.Outcome{Err: repository.ErrInvalidCredential},
	)
	for i := 0; i < 2; i++ {
		_, _ = h.mgr.Start(h.ctx, id)
	}
	if snap := h.snapshot(t, id); snap.FailedLogins != 2 {
		t.Fatalf("contador = %d tras dos fallos", snap.FailedLogins)
	}

	snap, err := h.mgr.Start(h.ctx, id)
	if err != nil || snap.Status != domain.StatusOnline {
		t.Fatalf("login bueno: %v (status %s)", err, snap.Status)
	}
	if snap.FailedLogins != 0 || snap.LockedUntil != nil {
		t.Errorf("el éxito no limpió el historial: %+v", snap)
	}
	if row := h.row(t, id); row.FailedLogins != 0 || row.LastFailureAt != nil {
		t.Errorf("fila con historial sucio tras login bueno: %+v", row)
	}
}

func TestRateLimit_FixedCooldownWithoutCounting(t *testing.T) {
	h := newHarness(t)
	id := h.createIdentity(t, "grace")

	h.client.Queue(fake.Outcome{Err: repository.ErrRateLimited})
	snap, err := h.mgr.Start(h.ctx, id)
	if !errors.Is(err, repository.ErrRateLimited) {
		t.Fatalf("err = %v, esperaba ErrRateLimited", err)
	}
	wantLockedFor(t, snap, time.Hour)
	if snap.FailedLogins != 0 {
		t.Errorf("el rate limit no debe contar como fallo de credencial: %d", snap.FailedLogins)
	}
	if row := h.row(t, id); row.LastFailureAt != nil {
		t.Errorf("rate limit marcó LastFailureAt: %s", row.LastFailureAt)
	}

	// Vencido el cooldown el login entra normal.
	h.backdateLockout(t, id, 0)
	snap, err = h.mgr.Start(h.ctx, id)
	if err != nil || snap.Status != domain.StatusOnline {
		t.Fatalf("start tras cooldown: %v (status %s)", err, snap.Status)
	}
	if snap.LockedUntil != nil {
		t.Errorf("lockout no limpiado tras login bueno")
	}
}

// ─── Caídas y reconexión ────────────────────────────────────────────────

func TestDrop_ResumesIdlingWithFreshWindow(t *testing.T) {
	h := newHarness(t)
	id := h.createIdentity(t, "henry")

	if _, err := h.mgr.SetActivity(h.ctx, id, []uint32{730}); err != nil {
		t.Fatalf("set activity: %v", err)
	}
	if _, err := h.mgr.Start(h.ctx, id); err != nil {
		t.Fatalf("start: %v", err)
	}
	if total, open := h.windowCounts(t, id); total != 1 || open != 1 {
		t.Fatalf("ventanas iniciales = %d/%d", total, open)
	}

	h.client.LastConn().Drop(nil)

	waitFor(t, "reconexión tras la caída", func() bool {
		return h.client.Connects() == 2 && h.snapshot(t, id).Status == domain.StatusIdling
	})

	// Exactamente una ventana nueva cerrada y una nueva abierta.
	if total, open := h.windowCounts(t, id); total != 2 || open != 1 {
		t.Fatalf("ventanas tras resume = %d/%d, esperaba 2/1", total, open)
	}
	calls := h.client.LastConn().ActivityCalls()
	if len(calls) == 0 || calls[len(calls)-1][0] != 730 {
		t.Errorf("la conexión nueva no anunció el set: %v", calls)
	}
}

func TestDrop_WithoutDesiredIdleStaysOffline(t *testing.T) {
	h := newHarness(t)
	id := h.createIdentity(t, "iris")

	if _, err := h.mgr.Start(h.ctx, id); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.client.LastConn().Drop(nil)

	waitFor(t, "transición a offline", func() bool {
		return h.snapshot(t, id).Status == domain.StatusOffline
	})
	time.Sleep(50 * time.Millisecond)
	if h.client.Connects() != 1 {
		t.Errorf("reconectó sin desired-idle: connects = %d", h.client.Connects())
	}
	if snap := h.snapshot(t, id); snap.ReconnectPending {
		t.Errorf("timer de reconexión armado sin desired-idle")
	}
}

func TestReconnect_BudgetExhaustionIsTerminal(t *testing.T) {
	p := fastPolicy()
	p.MaxReconnectAttempts = 2
	h := newHarnessWithPolicy(t, p)
	id := h.createIdentity(t, "judy")

	if _, err := h.mgr.SetActivity(h.ctx, id, []uint32{10}); err != nil {
		t.Fatalf("set activity: %v", err)
	}
	if _, err := h.mgr.Start(h.ctx, id); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.client.Queue(
		fake.Outcome{Err: repository.ErrTransientConnection},
		fake.Outcome{Err: repository.ErrTransientConnection},
	)
	h.client.LastConn().Drop(nil)

	waitFor(t, "presupuesto de reconexión agotado", func() bool {
		return h.snapshot(t, id).Status == domain.StatusError
	})

	snap := h.snapshot(t, id)
	if snap.LastError != repository.ErrMaxReconnectAttempts.Error() {
		t.Errorf("LastError = %q", snap.LastError)
	}
	if snap.ReconnectPending {
		t.Errorf("quedó un timer armado tras agotar el presupuesto")
	}
	// login inicial + exactamente los reintentos del presupuesto
	if got := h.client.Connects(); got != 3 {
		t.Errorf("connects = %d, esperaba 3", got)
	}
	if total, open := h.windowCounts(t, id); total != 1 || open != 0 {
		t.Errorf("ventanas = %d/%d, esperaba 1/0", total, open)
	}

	// Un start manual renueva el presupuesto.
	snap, err := h.mgr.Start(h.ctx, id)
	if err != nil || snap.Status != domain.StatusIdling {
		t.Fatalf("start manual tras error: %v (status %s)", err, snap.Status)
	}
}

func TestStop_CancelsPendingReconnect(t *testing.T) {
	p := fastPolicy()
	p.ReconnectStep = 150 * time.Millisecond
	h := newHarnessWithPolicy(t, p)
	id := h.createIdentity(t, "kate")

	if _, err := h.mgr.SetActivity(h.ctx, id, []uint32{20}); err != nil {
		t.Fatalf("set activity: %v", err)
	}
	if _, err := h.mgr.Start(h.ctx, id); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.client.LastConn().Drop(nil)

	waitFor(t, "timer de reconexión armado", func() bool {
		snap := h.snapshot(t, id)
		return snap.Status == domain.StatusOffline && snap.ReconnectPending
	})

	snap, err := h.mgr.Stop(h.ctx, id)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if snap.ReconnectPending || snap.DesiredIdle {
		t.Fatalf("stop no canceló la reconexión: %+v", snap)
	}
	time.Sleep(250 * time.Millisecond)
	if h.client.Connects() != 1 {
		t.Errorf("reconectó después del stop: connects = %d", h.client.Connects())
	}
}

// ─── Stop, logout y ventanas ────────────────────────────────────────────

func TestStop_IsIdempotent(t *testing.T) {
	h := newHarness(t)
	id := h.createIdentity(t, "leo")

	if _, err := h.mgr.SetActivity(h.ctx, id, []uint32{300}); err != nil {
		t.Fatalf("set activity: %v", err)
	}
	if _, err := h.mgr.Start(h.ctx, id); err != nil {
		t.Fatalf("start: %v", err)
	}

	snap, err := h.mgr.Stop(h.ctx, id)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if snap.Status != domain.StatusOnline || snap.DesiredIdle {
		t.Fatalf("tras stop: %+v", snap)
	}
	if total, open := h.windowCounts(t, id); total != 1 || open != 0 {
		t.Fatalf("ventanas tras stop = %d/%d, esperaba 1/0", total, open)
	}

	// Un segundo stop no produce registros nuevos.
	if _, err := h.mgr.Stop(h.ctx, id); err != nil {
		t.Fatalf("segundo stop: %v", err)
	}
	if total, open := h.windowCounts(t, id); total != 1 || open != 0 {
		t.Errorf("el stop repetido generó registros: %d/%d", total, open)
	}
}

func TestSetActivity_WhileIdlingRotatesWindow(t *testing.T) {
	h := newHarness(t)
	id := h.createIdentity(t, "mona")

	if _, err := h.mgr.SetActivity(h.ctx, id, []uint32{10}); err != nil {
		t.Fatalf("set activity: %v", err)
	}
	if _, err := h.mgr.Start(h.ctx, id); err != nil {
		t.Fatalf("start: %v", err)
	}

	snap, err := h.mgr.SetActivity(h.ctx, id, []uint32{20, 30, 20})
	if err != nil {
		t.Fatalf("set activity en vivo: %v", err)
	}
	if snap.Status != domain.StatusIdling {
		t.Fatalf("status = %s", snap.Status)
	}
	if total, open := h.windowCounts(t, id); total != 2 || open != 1 {
		t.Fatalf("ventanas = %d/%d, esperaba 2/1", total, open)
	}
	if row := h.row(t, id); len(row.ActivitySet) != 2 {
		t.Errorf("set persistido sin deduplicar: %v", row.ActivitySet)
	}
	calls := h.client.LastConn().ActivityCalls()
	last := calls[len(calls)-1]
	if len(last) != 2 || last[0] != 20 || last[1] != 30 {
		t.Errorf("último anuncio = %v, esperaba [20 30]", last)
	}
}

func TestSetActivity_OfflinePersistsIntent(t *testing.T) {
	h := newHarness(t)
	id := h.createIdentity(t, "nina")

	snap, err := h.mgr.SetActivity(h.ctx, id, []uint32{99})
	if err != nil {
		t.Fatalf("set activity: %v", err)
	}
	if !snap.DesiredIdle || snap.Live {
		t.Fatalf("sin conexión esperaba solo intención persistida: %+v", snap)
	}
	if h.client.Connects() != 0 {
		t.Errorf("set activity disparó un connect")
	}
	if total, _ := h.windowCounts(t, id); total != 0 {
		t.Errorf("abrió ventana sin conexión")
	}

	// El próximo start entra directo a idling.
	got, err := h.mgr.Start(h.ctx, id)
	if err != nil || got.Status != domain.StatusIdling {
		t.Fatalf("start: %v (status %s)", err, got.Status)
	}
}

func TestSetActivity_EmptySetRejected(t *testing.T) {
	h := newHarness(t)
	id := h.createIdentity(t, "oscar")

	if _, err := h.mgr.SetActivity(h.ctx, id, nil); !errors.Is(err, repository.ErrInvalidInput) {
		t.Fatalf("err = %v, esperaba ErrInvalidInput", err)
	}
}

func TestSetPersona_AppliedLiveAndPersisted(t *testing.T) {
	h := newHarness(t)
	id := h.createIdentity(t, "pam")

	if _, err := h.mgr.Start(h.ctx, id); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.mgr.SetPersona(h.ctx, id, domain.PersonaAway); err != nil {
		t.Fatalf("set persona: %v", err)
	}
	calls := h.client.LastConn().PresenceCalls()
	if len(calls) != 2 || calls[1] != domain.PersonaAway {
		t.Errorf("presencias aplicadas = %v", calls)
	}
	if row := h.row(t, id); row.Persona != domain.PersonaAway {
		t.Errorf("persona no persistida: %s", row.Persona)
	}

	if _, err := h.mgr.SetPersona(h.ctx, id, domain.Persona("sarcastic")); !errors.Is(err, repository.ErrInvalidInput) {
		t.Errorf("persona inválida aceptada: %v", err)
	}
}

func TestLogout_TearsEverythingDown(t *testing.T) {
	h := newHarness(t)
	id := h.createIdentity(t, "quinn")

	if _, err := h.mgr.SetActivity(h.ctx, id, []uint32{55}); err != nil {
		t.Fatalf("set activity: %v", err)
	}
	if _, err := h.mgr.Start(h.ctx, id); err != nil {
		t.Fatalf("start: %v", err)
	}
	conn := h.client.LastConn()

	snap, err := h.mgr.Logout(h.ctx, id)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	if snap.Status != domain.StatusOffline || snap.DesiredIdle || snap.ReconnectPending {
		t.Fatalf("tras logout: %+v", snap)
	}
	if !conn.Closed() {
		t.Errorf("la conexión no se cerró")
	}
	if total, open := h.windowCounts(t, id); total != 1 || open != 0 {
		t.Errorf("ventanas = %d/%d tras logout", total, open)
	}
	if h.mgr.LiveSessions() != 0 {
		t.Errorf("la sesión sigue registrada tras logout")
	}
	row := h.row(t, id)
	if row.Status != domain.StatusOffline || row.DesiredIdle {
		t.Errorf("fila tras logout: status=%s desired=%v", row.Status, row.DesiredIdle)
	}

	time.Sleep(50 * time.Millisecond)
	if h.client.Connects() != 1 {
		t.Errorf("reconectó tras logout: connects = %d", h.client.Connects())
	}
}

func TestLogout_AbortsInflightLogin(t *testing.T) {
	h := newHarness(t)
	id := h.createIdentity(t, "ruth")

	hold := make(chan struct{})
	h.client.Queue(fake.Outcome{Hold: hold})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.mgr.Start(h.ctx, id)
	}()

	waitFor(t, "connect en vuelo", func() bool { return h.client.Connects() == 1 })
	if _, err := h.mgr.Logout(h.ctx, id); err != nil {
		t.Fatalf("logout: %v", err)
	}
	close(hold)
	<-done

	snap := h.snapshot(t, id)
	if snap.Status != domain.StatusOffline {
		t.Errorf("status = %s tras abortar login, esperaba offline", snap.Status)
	}
	if h.client.LastConn() != nil {
		t.Errorf("el connect abortado produjo una conexión")
	}
}

// ─── Refresh tokens ─────────────────────────────────────────────────────

func TestRefreshToken_StoredEncrypted(t *testing.T) {
	h := newHarness(t)
	id := h.createIdentity(t, "sara")

	h.client.Queue(fake.Outcome{Token: "refresh-inicial"})
	if _, err := h.mgr.Start(h.ctx, id); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "token persistido", func() bool {
		return h.row(t, id).RefreshToken != ""
	})
	stored := h.row(t, id).RefreshToken
	if !secretbox.IsEncrypted(stored) {
		t.Fatalf("token en claro en el storage: %q", stored)
	}
	if pt, err := secretbox.Decrypt(stored); err != nil || pt != "refresh-inicial" {
		t.Fatalf("token descifrado = %q (%v)", pt, err)
	}

	// Una renovación espontánea del remoto reemplaza el almacenado.
	h.client.LastConn().GrantToken("refresh-rotado")
	waitFor(t, "token rotado", func() bool {
		pt, err := secretbox.Decrypt(h.row(t, id).RefreshToken)
		return err == nil && pt == "refresh-rotado"
	})
}
