package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/idlejohn/internal/domain"
	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
	"github.com/dropDatabas3/idlejohn/internal/eventlog"
	"github.com/dropDatabas3/idlejohn/internal/metrics"
	"github.com/dropDatabas3/idlejohn/internal/observability/logger"
	"github.com/dropDatabas3/idlejohn/internal/presence"
	"github.com/dropDatabas3/idlejohn/internal/security/keyring"
	"github.com/dropDatabas3/idlejohn/internal/security/secretbox"
)

// Snapshot es la vista combinada de una identidad: la fila persistida
// mezclada con el estado vivo de su sesión si existe.
type Snapshot struct {
	IdentityID       string         `json:"identityId"`
	LoginName        string         `json:"loginName"`
	Status           domain.Status  `json:"status"`
	LastError        string         `json:"lastError,omitempty"`
	DesiredIdle      bool           `json:"desiredIdle"`
	Persona          domain.Persona `json:"persona"`
	ActivitySet      []uint32       `json:"activitySet,omitempty"`
	FailedLogins     int            `json:"failedLogins"`
	LockedUntil      *time.Time     `json:"lockedUntil,omitempty"`
	Live             bool           `json:"live"`
	Since            *time.Time     `json:"since,omitempty"`
	ReconnectAttempt int            `json:"reconnectAttempt,omitempty"`
	ReconnectPending bool           `json:"reconnectPending"`
}

func snapshotFromRow(row *domain.Identity) Snapshot {
	return Snapshot{
		IdentityID:   row.ID,
		LoginName:    row.LoginName,
		Status:       row.Status,
		LastError:    row.LastError,
		DesiredIdle:  row.DesiredIdle,
		Persona:      row.Persona.OrDefault(),
		ActivitySet:  row.CloneActivitySet(),
		FailedLogins: row.FailedLogins,
		LockedUntil:  row.LockedUntil,
	}
}

// Outcome es el resultado por identidad de una operación masiva. Los
// fallos individuales no cortan el batch; viajan como string acá.
type Outcome struct {
	IdentityID string        `json:"identityId"`
	LoginName  string        `json:"loginName"`
	Status     domain.Status `json:"status"`
	Err        string        `json:"error,omitempty"`
}

// Options agrupa las dependencias del Manager.
type Options struct {
	Identities repository.IdentityRepository
	Records    repository.ActivityRecordRepository
	Events     *eventlog.Recorder
	Client     presence.Client
	Keyring    *keyring.Manager
	Policy     Policy

	// OnTransition se invoca tras cada cambio de estado persistido (la
	// capa de cache lo usa para invalidar). No debe llamar de vuelta al
	// Manager.
	OnTransition func(identityID string)
}

// Manager registra las sesiones vivas y expone las operaciones del
// proceso: start/stop/logout individuales y masivos, resume post-restart
// y el drain de cierre. Garantiza a lo sumo una Session por identidad.
type Manager struct {
	base    context.Context
	idents  repository.IdentityRepository
	records repository.ActivityRecordRepository
	events  *eventlog.Recorder
	client  presence.Client
	keyring *keyring.Manager
	policy  Policy
	notify  func(identityID string)
	log     *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	resumeOnce sync.Once
}

// NewManager construye el registry. base acota la vida de timers,
// goroutines de eventos y reconexiones: cancelarlo detiene todo lo
// asíncrono, pero el drain ordenado es Shutdown.
func NewManager(base context.Context, opts Options) *Manager {
	policy := opts.Policy
	if policy.MaxReconnectAttempts == 0 {
		policy = DefaultPolicy()
	}
	return &Manager{
		base:     base,
		idents:   opts.Identities,
		records:  opts.Records,
		events:   opts.Events,
		client:   opts.Client,
		keyring:  opts.Keyring,
		policy:   policy,
		notify:   opts.OnTransition,
		log:      logger.Named("session"),
		sessions: make(map[string]*Session),
	}
}

// ─── Registry ───────────────────────────────────────────────────────────

// session retorna la sesión viva de la identidad, creándola si no existe.
func (m *Manager) session(ident *domain.Identity) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[ident.ID]; ok {
		return s
	}
	s := newSession(m.base, ident, sessionDeps{
		client:  m.client,
		idents:  m.idents,
		records: m.records,
		events:  m.events,
		policy:  m.policy,
		notify:  m.notify,
	})
	m.sessions[ident.ID] = s
	return s
}

func (m *Manager) live(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// LiveSessions retorna cuántas sesiones hay registradas en memoria.
func (m *Manager) LiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ─── Operaciones individuales ───────────────────────────────────────────

// Start arranca (o retoma) la sesión de una identidad. Bloquea hasta que
// el login resuelva. Rechaza sin tocar nada si la clave maestra no está
// disponible, si la identidad no tiene credencial o si hay lockout
// vigente.
func (m *Manager) Start(ctx context.Context, id string) (Snapshot, error) {
	if !secretbox.Ready() {
		return Snapshot{}, repository.ErrKeyUnavailable
	}
	ident, err := m.idents.Get(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	if !ident.HasCredentials() {
		return snapshotFromRow(ident), fmt.Errorf("identidad %s sin credencial: %w", ident.LoginName, repository.ErrIncompleteAccount)
	}
	if now := time.Now(); ident.LockedAt(now) {
		if _, ok := m.live(id); !ok && ident.Status != domain.StatusLocked {
			// arrastre de un logout previo: que el estado visible refleje
			// el lockout vigente
			if uerr := m.idents.UpdateStatus(ctx, id, domain.StatusLocked, ident.LastError); uerr == nil {
				ident.Status = domain.StatusLocked
			}
		}
		return m.mergedSnapshot(id, ident), fmt.Errorf("bloqueada hasta %s: %w",
			ident.LockedUntil.Format(time.RFC3339), repository.ErrLockedOut)
	}

	s := m.session(ident)
	_, err = s.Start(ctx, ident)
	return m.mergedSnapshot(id, ident), err
}

// Stop corta el idling de la identidad sin desconectar. Sin sesión viva
// solo persiste la intención (cierra ventana huérfana si la hubiera y
// apaga desired-idle).
func (m *Manager) Stop(ctx context.Context, id string) (Snapshot, error) {
	ident, err := m.idents.Get(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	if s, ok := m.live(id); ok {
		_, err = s.StopActivity(ctx)
		return m.mergedSnapshot(id, ident), err
	}
	if _, cerr := m.records.Close(ctx, id, time.Now()); cerr != nil {
		m.log.Error("cerrar ventana al detener", logger.IdentityID(id), logger.Err(cerr))
	}
	if derr := m.idents.SetDesiredIdle(ctx, id, false); derr != nil {
		return snapshotFromRow(ident), derr
	}
	ident.DesiredIdle = false
	return snapshotFromRow(ident), nil
}

// Logout desconecta y apaga desired-idle; la identidad queda Offline. El
// lockout NO se limpia: status es derivado, locked_until manda.
func (m *Manager) Logout(ctx context.Context, id string) (Snapshot, error) {
	ident, err := m.idents.Get(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	if s, ok := m.live(id); ok {
		err = s.Logout(ctx)
		m.remove(id)
		s.releaseGauge()
		// la sesión ya no está para el overlay: releer la fila
		snap, serr := m.Status(ctx, id)
		if err == nil {
			err = serr
		}
		return snap, err
	}
	if _, cerr := m.records.Close(ctx, id, time.Now()); cerr != nil {
		m.log.Error("cerrar ventana en logout", logger.IdentityID(id), logger.Err(cerr))
	}
	if derr := m.idents.SetDesiredIdle(ctx, id, false); derr != nil {
		return snapshotFromRow(ident), derr
	}
	if uerr := m.idents.UpdateStatus(ctx, id, domain.StatusOffline, ""); uerr != nil {
		return snapshotFromRow(ident), uerr
	}
	ident.DesiredIdle = false
	ident.Status = domain.StatusOffline
	ident.LastError = ""
	if m.notify != nil {
		m.notify(id)
	}
	return snapshotFromRow(ident), nil
}

// SetActivity asigna el set de actividad y enciende desired-idle. Con
// sesión conectada el idling arranca en el momento; sin conexión queda
// la intención persistida para el próximo start o resume.
func (m *Manager) SetActivity(ctx context.Context, id string, ids []uint32) (Snapshot, error) {
	ids = domain.NormalizeActivitySet(ids)
	if len(ids) == 0 {
		return Snapshot{}, fmt.Errorf("set de actividad vacío: %w", repository.ErrInvalidInput)
	}
	ident, err := m.idents.Get(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	if err := m.idents.SetActivitySet(ctx, id, ids); err != nil {
		return snapshotFromRow(ident), err
	}
	ident.ActivitySet = ids

	if s, ok := m.live(id); ok {
		_, err = s.SetActivity(ctx, ids)
		return m.mergedSnapshot(id, ident), err
	}
	if derr := m.idents.SetDesiredIdle(ctx, id, true); derr != nil {
		return snapshotFromRow(ident), derr
	}
	ident.DesiredIdle = true
	return snapshotFromRow(ident), nil
}

// SetPersona persiste la preferencia de presencia y la aplica en vivo si
// hay conexión.
func (m *Manager) SetPersona(ctx context.Context, id string, p domain.Persona) (Snapshot, error) {
	if p == "" || !p.IsValid() {
		return Snapshot{}, fmt.Errorf("persona %q: %w", p, repository.ErrInvalidInput)
	}
	ident, err := m.idents.Update(ctx, id, repository.UpdateIdentityInput{Persona: &p})
	if err != nil {
		return Snapshot{}, err
	}
	if s, ok := m.live(id); ok {
		if aerr := s.ApplyPersona(p); aerr != nil {
			m.log.Warn("aplicar persona en vivo", logger.IdentityID(id), logger.Err(aerr))
		}
	}
	return m.mergedSnapshot(id, ident), nil
}

// DeleteIdentity hace logout si hay sesión viva y borra la fila con sus
// registros dependientes.
func (m *Manager) DeleteIdentity(ctx context.Context, id string) error {
	if s, ok := m.live(id); ok {
		if err := s.Logout(ctx); err != nil {
			m.log.Warn("logout previo al borrado", logger.IdentityID(id), logger.Err(err))
		}
		m.remove(id)
		s.releaseGauge()
	}
	return m.idents.Delete(ctx, id)
}

// ─── Lecturas ───────────────────────────────────────────────────────────

// Status retorna el snapshot combinado de una identidad.
func (m *Manager) Status(ctx context.Context, id string) (Snapshot, error) {
	ident, err := m.idents.Get(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	return m.mergedSnapshot(id, ident), nil
}

// StatusAll retorna el snapshot combinado de todas las identidades.
func (m *Manager) StatusAll(ctx context.Context) ([]Snapshot, error) {
	rows, err := m.idents.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(rows))
	for i := range rows {
		out = append(out, m.mergedSnapshot(rows[i].ID, &rows[i]))
	}
	return out, nil
}

func (m *Manager) mergedSnapshot(id string, row *domain.Identity) Snapshot {
	if s, ok := m.live(id); ok {
		return s.Snapshot(row)
	}
	return snapshotFromRow(row)
}

// ─── Operaciones masivas ────────────────────────────────────────────────

// fanOut aplica op sobre cada fila con concurrencia acotada. Las ops no
// retornan error: cada fallo queda en su Outcome y el batch sigue.
func (m *Manager) fanOut(ctx context.Context, rows []domain.Identity, op func(context.Context, domain.Identity) Outcome) []Outcome {
	out := make([]Outcome, len(rows))
	var g errgroup.Group
	limit := m.policy.BulkConcurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for i := range rows {
		i := i
		g.Go(func() error {
			out[i] = op(ctx, rows[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func outcome(row domain.Identity, snap Snapshot, err error) Outcome {
	o := Outcome{IdentityID: row.ID, LoginName: row.LoginName, Status: snap.Status}
	if o.Status == "" {
		o.Status = row.Status
	}
	if err != nil {
		o.Err = err.Error()
	}
	return o
}

// StartAll arranca todas las identidades. Los rechazos individuales
// (credencial incompleta, lockout) no cortan el resto.
func (m *Manager) StartAll(ctx context.Context) ([]Outcome, error) {
	rows, err := m.idents.List(ctx)
	if err != nil {
		return nil, err
	}
	return m.fanOut(ctx, rows, func(ctx context.Context, row domain.Identity) Outcome {
		snap, err := m.Start(ctx, row.ID)
		return outcome(row, snap, err)
	}), nil
}

// StopAll corta el idling de todas las identidades.
func (m *Manager) StopAll(ctx context.Context) ([]Outcome, error) {
	rows, err := m.idents.List(ctx)
	if err != nil {
		return nil, err
	}
	return m.fanOut(ctx, rows, func(ctx context.Context, row domain.Identity) Outcome {
		snap, err := m.Stop(ctx, row.ID)
		return outcome(row, snap, err)
	}), nil
}

// LogoutAll desconecta todas las identidades y apaga sus desired-idle.
func (m *Manager) LogoutAll(ctx context.Context) ([]Outcome, error) {
	rows, err := m.idents.List(ctx)
	if err != nil {
		return nil, err
	}
	return m.fanOut(ctx, rows, func(ctx context.Context, row domain.Identity) Outcome {
		snap, err := m.Logout(ctx, row.ID)
		return outcome(row, snap, err)
	}), nil
}

// ─── Arranque y cierre de proceso ───────────────────────────────────────

// ReconcileStartup sanea lo que un crash dejó a medias, antes de servir
// tráfico y sin necesitar la clave maestra: cierra ventanas huérfanas y
// normaliza a Offline los status activos que quedaron escritos.
func (m *Manager) ReconcileStartup(ctx context.Context) error {
	n, err := m.records.CloseAllOpen(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("cerrar ventanas huérfanas: %w", err)
	}
	if n > 0 {
		m.events.Warn(ctx, "", domain.EventCatProcess, fmt.Sprintf("saneo de arranque: %d ventanas huérfanas cerradas", n))
		m.log.Warn("ventanas huérfanas cerradas", logger.Count(n))
	}

	rows, err := m.idents.List(ctx)
	if err != nil {
		return fmt.Errorf("listar identidades: %w", err)
	}
	fixed := 0
	for i := range rows {
		if rows[i].Status.Resting() {
			continue
		}
		if uerr := m.idents.UpdateStatus(ctx, rows[i].ID, domain.StatusOffline, rows[i].LastError); uerr != nil {
			m.log.Error("normalizar status de arranque", logger.IdentityID(rows[i].ID), logger.Err(uerr))
			continue
		}
		fixed++
	}
	if fixed > 0 {
		m.log.Info("status residuales normalizados a offline", logger.Count(fixed))
	}
	return nil
}

// ResumeAfterRestart retoma las identidades con desired-idle=true. Cada
// una vuelve a pasar por el login completo; los fallos quedan en su
// Outcome.
func (m *Manager) ResumeAfterRestart(ctx context.Context) ([]Outcome, error) {
	rows, err := m.idents.ListDesiredIdle(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	m.log.Info("retomando identidades con idling deseado", logger.Count(len(rows)))
	out := m.fanOut(ctx, rows, func(ctx context.Context, row domain.Identity) Outcome {
		metrics.ResumeAttempts.Inc()
		snap, err := m.Start(ctx, row.ID)
		return outcome(row, snap, err)
	})
	ok := 0
	for _, o := range out {
		if o.Err == "" {
			ok++
		}
	}
	m.events.Info(ctx, "", domain.EventCatProcess, fmt.Sprintf("resume post-restart: %d/%d sesiones retomadas", ok, len(out)))
	return out, nil
}

// ScheduleResume lanza el resume en background: espera el settle delay
// y, si la clave maestra todavía no está, el unlock del keyring. Solo la
// primera llamada hace algo.
func (m *Manager) ScheduleResume() {
	m.resumeOnce.Do(func() {
		go m.resumeWhenReady()
	})
}

func (m *Manager) resumeWhenReady() {
	if !secretbox.Ready() {
		if m.keyring == nil {
			m.log.Warn("resume abandonado: clave no disponible y sin keyring configurado")
			return
		}
		m.log.Info("resume a la espera del unlock")
		select {
		case <-m.keyring.Unlocked():
		case <-m.base.Done():
			return
		}
	}
	if d := m.policy.ResumeSettleDelay; d > 0 {
		select {
		case <-time.After(d):
		case <-m.base.Done():
			return
		}
	}
	if _, err := m.ResumeAfterRestart(m.base); err != nil {
		m.log.Error("resume post-restart", logger.Err(err))
	}
}

// Shutdown drena todas las sesiones en orden: cierra ventanas, suelta
// conexiones y deja cada identidad Offline SIN tocar desired-idle, que
// es lo que permite retomar en el próximo arranque.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	drained := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		drained = append(drained, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range drained {
		s.shutdown(ctx)
		s.releaseGauge()
	}
	if len(drained) > 0 {
		m.events.Info(ctx, "", domain.EventCatProcess, fmt.Sprintf("drain de cierre: %d sesiones desconectadas", len(drained)))
		m.log.Info("sesiones drenadas", logger.Count(len(drained)))
	}
}
