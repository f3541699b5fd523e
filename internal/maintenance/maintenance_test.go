package maintenance_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dropDatabas3/idlejohn/internal/domain"
	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
	"github.com/dropDatabas3/idlejohn/internal/eventlog"
	"github.com/dropDatabas3/idlejohn/internal/maintenance"
	"github.com/dropDatabas3/idlejohn/internal/presence/fake"
	"github.com/dropDatabas3/idlejohn/internal/security/secretbox"
	"github.com/dropDatabas3/idlejohn/internal/session"
	"github.com/dropDatabas3/idlejohn/internal/store"
	"github.com/dropDatabas3/idlejohn/internal/store/adapters/memory"
)

// Sin t.Parallel: la clave activa de secretbox es estado de proceso.

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

// fakeClock avanza a demanda; el runner lo consulta vía Options.Now.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock { return &fakeClock{now: time.Now()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// checkpointConn agrega soporte de checkpoint sobre el adapter de memoria.
type checkpointConn struct {
	store.AdapterConnection
	checkpoints int32
}

func (c *checkpointConn) Checkpoint(ctx context.Context) error {
	atomic.AddInt32(&c.checkpoints, 1)
	return nil
}

type fixture struct {
	ctx    context.Context
	conn   store.AdapterConnection
	client *fake.Client
	mgr    *session.Manager
	clk    *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	installKey(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	conn := memory.NewConnection()
	client := fake.NewClient()
	pol := session.DefaultPolicy()
	pol.ResumeSettleDelay = time.Millisecond
	mgr := session.NewManager(ctx, session.Options{
		Identities: conn.Identities(),
		Records:    conn.ActivityRecords(),
		Events:     eventlog.New(conn.Events()),
		Client:     client,
		Policy:     pol,
	})
	t.Cleanup(func() { mgr.Shutdown(context.Background()) })

	return &fixture{ctx: ctx, conn: conn, client: client, mgr: mgr, clk: newClock()}
}

// runner construye un Runner con schedules minutales y el reloj fake.
func (f *fixture) runner(t *testing.T, opts maintenance.Options) *maintenance.Runner {
	t.Helper()
	if opts.Store == nil {
		opts.Store = f.conn
	}
	opts.Manager = f.mgr
	opts.Events = eventlog.New(f.conn.Events())
	if opts.CheckpointSchedule == "" {
		opts.CheckpointSchedule = "* * * * *"
	}
	if opts.PruneSchedule == "" {
		opts.PruneSchedule = "* * * * *"
	}
	if opts.LockoutSweepSchedule == "" {
		opts.LockoutSweepSchedule = "* * * * *"
	}
	opts.Now = f.clk.Now

	r, err := maintenance.New(opts)
	if err != nil {
		t.Fatalf("construir runner: %v", err)
	}
	return r
}

func (f *fixture) createIdentity(t *testing.T, login string, activities ...uint32) string {
	t.Helper()
	ident, err := f.conn.Identities().Create(f.ctx, repository.CreateIdentityInput{
		LoginName:   login,
		Password:    enc(t, "hunter2-"+login),
		ActivitySet: activities,
	})
	if err != nil {
		t.Fatalf("crear identidad %s: %v", login, err)
	}
	return ident.ID
}

// markLocked deja la fila como deseada-idle y bloqueada; until negativo
// produce un lockout ya vencido.
func (f *fixture) markLocked(t *testing.T, id string, until time.Duration) {
	t.Helper()
	if err := f.conn.Identities().SetDesiredIdle(f.ctx, id, true); err != nil {
		t.Fatalf("marcar desired-idle: %v", err)
	}
	lockedUntil := time.Now().Add(until)
	failedAt := time.Now().Add(-time.Hour)
	err := f.conn.Identities().UpdateLockout(f.ctx, id, repository.LockoutUpdate{
		FailedLogins:  4,
		LastFailureAt: &failedAt,
		LockedUntil:   &lockedUntil,
	})
	if err != nil {
		t.Fatalf("persistir lockout: %v", err)
	}
	if err := f.conn.Identities().UpdateStatus(f.ctx, id, domain.StatusLocked, "credencial inválida"); err != nil {
		t.Fatalf("persistir status: %v", err)
	}
}

func TestNew_RejectsInvalidSchedule(t *testing.T) {
	f := newFixture(t)

	_, err := maintenance.New(maintenance.Options{
		Store:                f.conn,
		Manager:              f.mgr,
		CheckpointSchedule:   "* * * * *",
		PruneSchedule:        "cada treinta minutos",
		LockoutSweepSchedule: "* * * * *",
	})
	if err == nil {
		t.Fatal("esperaba error por expresión cron inválida")
	}
}

func TestRunOnce_FiresOnlyWhenDue(t *testing.T) {
	f := newFixture(t)
	cp := &checkpointConn{AdapterConnection: f.conn}
	r := f.runner(t, maintenance.Options{Store: cp})

	if n := r.RunOnce(f.ctx); n != 0 {
		t.Fatalf("corrió %d jobs recién construido, esperaba 0", n)
	}

	f.clk.Advance(2 * time.Minute)
	if n := r.RunOnce(f.ctx); n != 3 {
		t.Fatalf("corrió %d jobs vencidos, esperaba 3", n)
	}
	if got := atomic.LoadInt32(&cp.checkpoints); got != 1 {
		t.Errorf("checkpoints = %d, esperaba 1", got)
	}

	// reprogramados: sin avanzar el reloj no hay nada vencido
	if n := r.RunOnce(f.ctx); n != 0 {
		t.Errorf("re-corrió %d jobs sin avanzar el reloj", n)
	}
}

func TestCheckpoint_OmittedWithoutJournalSupport(t *testing.T) {
	f := newFixture(t)
	r := f.runner(t, maintenance.Options{})

	f.clk.Advance(2 * time.Minute)
	if n := r.RunOnce(f.ctx); n != 2 {
		t.Errorf("corrió %d jobs sobre memoria, esperaba 2 (sin checkpoint)", n)
	}
}

func TestPrune_DropsEntriesPastRetention(t *testing.T) {
	f := newFixture(t)
	seed := []domain.Event{
		{Timestamp: time.Now().Add(-48 * time.Hour), Level: domain.EventInfo, Category: domain.EventCatSession, Message: "entrada vieja"},
		{Timestamp: time.Now().Add(-time.Hour), Level: domain.EventInfo, Category: domain.EventCatSession, Message: "entrada reciente"},
	}
	for _, e := range seed {
		if err := f.conn.Events().Append(f.ctx, e); err != nil {
			t.Fatalf("sembrar evento: %v", err)
		}
	}

	r := f.runner(t, maintenance.Options{Retention: 24 * time.Hour})
	f.clk.Advance(2 * time.Minute)
	r.RunOnce(f.ctx)

	got, err := f.conn.Events().List(f.ctx, repository.EventFilter{})
	if err != nil {
		t.Fatalf("listar eventos: %v", err)
	}
	var haveRecent, haveNotice bool
	for _, e := range got {
		switch {
		case e.Message == "entrada vieja":
			t.Error("la entrada vieja sobrevivió al prune")
		case e.Message == "entrada reciente":
			haveRecent = true
		case e.Category == domain.EventCatStore && strings.Contains(e.Message, "prune del activity log"):
			haveNotice = true
		}
	}
	if !haveRecent {
		t.Error("el prune borró una entrada dentro de la retención")
	}
	if !haveNotice {
		t.Error("falta la constancia del prune en el activity log")
	}
}

func TestLockoutSweep_ResumesExpiredLockouts(t *testing.T) {
	f := newFixture(t)

	resume := f.createIdentity(t, "vuelve", 570)
	f.markLocked(t, resume, -time.Minute)

	held := f.createIdentity(t, "sigue-presa", 620)
	f.markLocked(t, held, time.Hour)

	// deseada pero sin lockout: el barrido no la arranca
	idle := f.createIdentity(t, "apagada", 730)
	if err := f.conn.Identities().SetDesiredIdle(f.ctx, idle, true); err != nil {
		t.Fatalf("marcar desired-idle: %v", err)
	}

	r := f.runner(t, maintenance.Options{})
	f.clk.Advance(6 * time.Minute)
	r.RunOnce(f.ctx)

	waitFor(t, "resume de la identidad desbloqueada", func() bool {
		snap, err := f.mgr.Status(f.ctx, resume)
		return err == nil && snap.Status == domain.StatusIdling
	})
	if got := f.client.Connects(); got != 1 {
		t.Errorf("connects = %d, esperaba 1", got)
	}
	for _, id := range []string{held, idle} {
		snap, err := f.mgr.Status(f.ctx, id)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if snap.Live {
			t.Errorf("la identidad %s no debía arrancar", snap.LoginName)
		}
	}
}

func TestLockoutSweep_IdleWithoutKey(t *testing.T) {
	f := newFixture(t)
	id := f.createIdentity(t, "sin-clave", 570)
	f.markLocked(t, id, -time.Minute)
	r := f.runner(t, maintenance.Options{})

	secretbox.UnsafeResetForTests()
	f.clk.Advance(6 * time.Minute)
	if n := r.RunOnce(f.ctx); n != 2 {
		t.Errorf("corrió %d jobs, esperaba 2", n)
	}
	if got := f.client.Connects(); got != 0 {
		t.Errorf("connects = %d con la clave ausente, esperaba 0", got)
	}

	installKey(t)
	f.clk.Advance(6 * time.Minute)
	r.RunOnce(f.ctx)
	waitFor(t, "resume tras instalar la clave", func() bool {
		snap, err := f.mgr.Status(f.ctx, id)
		return err == nil && snap.Status == domain.StatusIdling
	})
}

func TestStartStop_BackgroundLoop(t *testing.T) {
	f := newFixture(t)
	cp := &checkpointConn{AdapterConnection: f.conn}
	r := f.runner(t, maintenance.Options{Store: cp, Tick: 5 * time.Millisecond})

	r.Start(f.ctx)
	f.clk.Advance(2 * time.Minute)
	waitFor(t, "checkpoint de fondo", func() bool {
		return atomic.LoadInt32(&cp.checkpoints) >= 1
	})

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	before := atomic.LoadInt32(&cp.checkpoints)
	f.clk.Advance(2 * time.Minute)
	time.Sleep(30 * time.Millisecond)
	if got := atomic.LoadInt32(&cp.checkpoints); got != before {
		t.Errorf("el loop siguió corriendo tras Stop: %d -> %d", before, got)
	}
}
