// Package session implementa el núcleo del proceso: la máquina de estados
// de cada sesión (login, challenge 2FA, idling, reconexión, lockout) y el
// Manager que las registra y orquesta las operaciones masivas.
//
// Una Session vive en memoria y es dueña exclusiva del ciclo de vida de su
// identidad mientras exista: toda transición pasa por su lock, se persiste
// en el momento y deja entrada en el activity log. Nunca hay dos Sessions
// para la misma identidad; el flag desired-idle persistido, no el estado
// vivo, es la fuente de verdad para retomar tras un restart.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/idlejohn/internal/domain"
	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
	"github.com/dropDatabas3/idlejohn/internal/eventlog"
	"github.com/dropDatabas3/idlejohn/internal/metrics"
	"github.com/dropDatabas3/idlejohn/internal/observability/logger"
	"github.com/dropDatabas3/idlejohn/internal/presence"
	"github.com/dropDatabas3/idlejohn/internal/security/secretbox"
	"github.com/dropDatabas3/idlejohn/internal/security/totp"
)

// sessionDeps agrupa lo que el Manager inyecta en cada sesión. El core
// recibe los puertos por constructor; nunca importa capas de arriba.
type sessionDeps struct {
	client  presence.Client
	idents  repository.IdentityRepository
	records repository.ActivityRecordRepository
	events  *eventlog.Recorder
	policy  Policy
	notify  func(identityID string)
}

// Session es la máquina de estados en memoria de una identidad gestionada.
//
// Todos los campos mutables viven bajo mu. Los callbacks asíncronos
// (eventos de la conexión, timers de reconexión) llevan la generación con
// la que nacieron y se descartan si un logout o un start posterior la
// avanzó.
type Session struct {
	id        string
	loginName string
	base      context.Context // vida del proceso; acota timers y reconexiones

	deps sessionDeps
	log  *zap.Logger

	mu            sync.Mutex
	status        domain.Status
	lastError     string
	since         time.Time
	conn          presence.Conn
	gen           int
	connecting    bool // guard de re-entrada del login
	cancelConnect context.CancelFunc
	attempts      int
	timer         *time.Timer
	activitySet   []uint32
	windowStart   time.Time
	desired       bool
	failedLogins  int
	lastFailureAt *time.Time
	lockedUntil   *time.Time
}

func newSession(base context.Context, ident *domain.Identity, deps sessionDeps) *Session {
	s := &Session{
		id:            ident.ID,
		loginName:     ident.LoginName,
		base:          base,
		deps:          deps,
		log:           logger.Named("session").With(logger.IdentityID(ident.ID), logger.LoginName(ident.LoginName)),
		status:        domain.StatusOffline,
		since:         time.Now(),
		desired:       ident.DesiredIdle,
		failedLogins:  ident.FailedLogins,
		lastFailureAt: ident.LastFailureAt,
		lockedUntil:   ident.LockedUntil,
	}
	metrics.SessionsByStatus.WithLabelValues(string(domain.StatusOffline)).Inc()
	return s
}

// ─── Transiciones ───────────────────────────────────────────────────────

// setStatusLocked aplica y persiste una transición. Un fallo del storage
// se loguea y no revierte el estado en memoria; el saneo de arranque
// reconcilia lo que quede a medias.
func (s *Session) setStatusLocked(ctx context.Context, st domain.Status, lastErr string) {
	if s.status != st {
		metrics.SessionsByStatus.WithLabelValues(string(s.status)).Dec()
		metrics.SessionsByStatus.WithLabelValues(string(st)).Inc()
		s.since = time.Now()
	}
	s.status = st
	s.lastError = lastErr
	if err := s.deps.idents.UpdateStatus(ctx, s.id, st, lastErr); err != nil {
		s.log.Error("no se pudo persistir el estado", logger.SessionStatus(string(st)), logger.Err(err))
	}
	if s.deps.notify != nil {
		s.deps.notify(s.id)
	}
}

// setDesiredLocked persiste la intención de idling cuando cambia.
func (s *Session) setDesiredLocked(ctx context.Context, desired bool) {
	if s.desired == desired {
		return
	}
	s.desired = desired
	if err := s.deps.idents.SetDesiredIdle(ctx, s.id, desired); err != nil {
		s.log.Error("no se pudo persistir desired-idle", logger.Err(err))
	}
}

// persistLockoutLocked escribe el estado de lockout completo desde los
// espejos en memoria.
func (s *Session) persistLockoutLocked(ctx context.Context) {
	upd := repository.LockoutUpdate{
		FailedLogins:  s.failedLogins,
		LastFailureAt: s.lastFailureAt,
		LockedUntil:   s.lockedUntil,
	}
	if err := s.deps.idents.UpdateLockout(ctx, s.id, upd); err != nil {
		s.log.Error("no se pudo persistir el lockout", logger.Err(err))
	}
}

func (s *Session) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// ─── Login ──────────────────────────────────────────────────────────────

// Start ejecuta el login de forma síncrona: bloquea hasta que el remoto
// confirme o rechace. Con un intento ya en vuelo o una conexión viva
// retorna el estado actual sin iniciar otro. La fila ya viene validada
// por el Manager (credencial presente, sin lockout vigente).
func (s *Session) Start(ctx context.Context, ident *domain.Identity) (domain.Status, error) {
	s.mu.Lock()
	if s.connecting || s.status.Active() {
		st := s.status
		s.mu.Unlock()
		return st, nil
	}
	s.cancelTimerLocked()
	s.attempts = 0 // un start manual renueva el presupuesto de reconexión
	gen, attemptCtx := s.beginConnectingLocked(ctx)
	s.mu.Unlock()

	return s.attemptLogin(attemptCtx, ident, gen)
}

// beginConnectingLocked marca el guard de re-entrada, persiste Connecting
// y deja armado el cancel con el que Logout aborta un Connect bloqueado.
func (s *Session) beginConnectingLocked(parent context.Context) (int, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.connecting = true
	s.cancelConnect = cancel
	s.setStatusLocked(ctx, domain.StatusConnecting, "")
	return s.gen, ctx
}

// attemptLogin descifra credenciales y conecta. Corre fuera del lock
// porque Connect bloquea; el resultado se aplica bajo lock y se descarta
// si un logout ganó la carrera.
func (s *Session) attemptLogin(ctx context.Context, ident *domain.Identity, gen int) (domain.Status, error) {
	creds, answer, err := s.credentials(ident)
	if err != nil {
		return s.finishLogin(ident, gen, nil, err)
	}
	conn, err := s.deps.client.Connect(ctx, creds, answer)
	return s.finishLogin(ident, gen, conn, err)
}

// credentials descifra el material de login. El plaintext vive lo que
// dura el intento y nunca se loguea.
func (s *Session) credentials(ident *domain.Identity) (presence.Credentials, presence.ChallengeAnswerer, error) {
	password, err := secretbox.Decrypt(ident.Password)
	if err != nil {
		return presence.Credentials{}, nil, fmt.Errorf("descifrar credencial: %w", err)
	}
	creds := presence.Credentials{LoginName: ident.LoginName, Password: password}

	if ident.RefreshToken != "" {
		if tok, err := secretbox.Decrypt(ident.RefreshToken); err != nil {
			s.log.Warn("refresh token ilegible, va login completo", logger.Err(err))
		} else if tokenUsable(tok, time.Now()) {
			creds.RefreshToken = tok
		}
	}

	var answer presence.ChallengeAnswerer
	if ident.HasSharedSecret() {
		secret, err := secretbox.Decrypt(ident.SharedSecret)
		if err != nil {
			return presence.Credentials{}, nil, fmt.Errorf("descifrar shared secret: %w", err)
		}
		answer = func() (string, error) {
			return totp.GenerateCode(secret, time.Now())
		}
	}
	return creds, answer, nil
}

// finishLogin aplica el resultado del intento. Persiste contra el
// contexto del proceso: el del intento puede venir ya cancelado y la
// transición igual tiene que quedar escrita.
func (s *Session) finishLogin(ident *domain.Identity, gen int, conn presence.Conn, err error) (domain.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		// un logout ganó la carrera: el resultado ya no es nuestro
		if conn != nil {
			_ = conn.Close()
		}
		return s.status, nil
	}
	s.connecting = false
	s.cancelConnect = nil

	if err != nil {
		return s.loginFailedLocked(s.base, err)
	}
	return s.loginSucceededLocked(s.base, ident, conn)
}

// loginFailedLocked clasifica el fallo y aplica política: lockout
// exponencial para credencial inválida, cooldown fijo para rate limit,
// reintento acotado para transitorios y Error terminal para el resto.
func (s *Session) loginFailedLocked(ctx context.Context, err error) (domain.Status, error) {
	now := time.Now()

	switch {
	case errors.Is(err, context.Canceled):
		// abortado por el caller sin logout de por medio (un logout bumpea
		// la generación y el resultado nunca llega acá)
		s.setStatusLocked(ctx, domain.StatusOffline, "login cancelado")
		return s.status, err

	case errors.Is(err, repository.ErrTwoFactorRequired):
		metrics.LoginsTotal.WithLabelValues("two_factor").Inc()
		s.setStatusLocked(ctx, domain.StatusError, err.Error())
		s.deps.events.Warn(ctx, s.id, domain.EventCatLogin, "challenge 2FA sin shared secret en archivo")
		s.log.Warn("login rechazado: falta shared secret")
		return s.status, err

	case errors.Is(err, repository.ErrInvalidCredential):
		metrics.LoginsTotal.WithLabelValues("invalid_credential").Inc()
		s.failedLogins++
		s.lastFailureAt = &now
		if lockFor := s.deps.policy.LockoutDuration(s.failedLogins); lockFor > 0 {
			until := now.Add(lockFor)
			s.lockedUntil = &until
			s.persistLockoutLocked(ctx)
			metrics.LockoutsTotal.WithLabelValues("failed_logins").Inc()
			s.setStatusLocked(ctx, domain.StatusLocked, err.Error())
			s.deps.events.Error(ctx, s.id, domain.EventCatLockout,
				fmt.Sprintf("lockout por credencial inválida (fallo %d) hasta %s", s.failedLogins, until.Format(time.RFC3339)))
			s.log.Warn("lockout aplicado", logger.FailedLogins(s.failedLogins), logger.LockedUntil(until))
		} else {
			s.lockedUntil = nil
			s.persistLockoutLocked(ctx)
			s.setStatusLocked(ctx, domain.StatusError, err.Error())
			s.deps.events.Warn(ctx, s.id, domain.EventCatLogin,
				fmt.Sprintf("credencial inválida (fallo %d de %d)", s.failedLogins, s.deps.policy.MaxFailedLogins))
		}
		return s.status, err

	case errors.Is(err, repository.ErrRateLimited):
		metrics.LoginsTotal.WithLabelValues("rate_limited").Inc()
		metrics.LockoutsTotal.WithLabelValues("rate_limited").Inc()
		until := now.Add(s.deps.policy.RateLimitCooldown)
		s.lockedUntil = &until
		// el contador de fallos no se toca: el throttling no es culpa de
		// la credencial
		s.persistLockoutLocked(ctx)
		s.setStatusLocked(ctx, domain.StatusLocked, err.Error())
		s.deps.events.Warn(ctx, s.id, domain.EventCatLockout,
			fmt.Sprintf("rate limit del remoto: cooldown hasta %s", until.Format(time.RFC3339)))
		return s.status, err

	case errors.Is(err, repository.ErrTransientConnection):
		metrics.LoginsTotal.WithLabelValues("transient").Inc()
		s.setStatusLocked(ctx, domain.StatusOffline, err.Error())
		s.deps.events.Warn(ctx, s.id, domain.EventCatLogin, fmt.Sprintf("fallo transitorio: %v", err))
		s.scheduleReconnectLocked()
		return s.status, err

	default:
		// sin clasificar: no quema reintentos contra el remoto
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		s.setStatusLocked(ctx, domain.StatusError, err.Error())
		s.deps.events.Error(ctx, s.id, domain.EventCatLogin, fmt.Sprintf("fallo de login: %v", err))
		return s.status, err
	}
}

func (s *Session) loginSucceededLocked(ctx context.Context, ident *domain.Identity, conn presence.Conn) (domain.Status, error) {
	s.conn = conn
	s.attempts = 0
	go s.watch(conn, s.gen)

	if s.failedLogins != 0 || s.lastFailureAt != nil || s.lockedUntil != nil {
		// el éxito limpia el historial de fallos y cualquier lockout
		s.failedLogins = 0
		s.lastFailureAt = nil
		s.lockedUntil = nil
		s.persistLockoutLocked(ctx)
	}

	if err := conn.SetPresence(ident.Persona.OrDefault()); err != nil {
		// la conexión pudo caerse en la ventana; el drop llega por watch
		s.log.Warn("no se pudo aplicar la persona", logger.Err(err))
	}

	metrics.LoginsTotal.WithLabelValues("ok").Inc()
	s.setStatusLocked(ctx, domain.StatusOnline, "")
	s.deps.events.Info(ctx, s.id, domain.EventCatLogin, "sesión establecida")
	s.log.Info("sesión establecida")

	// El set asignado se relee de la fila: si el operador lo editó durante
	// una caída, gana la edición. La intención sale del espejo, que una
	// operación concurrente pudo haber actualizado durante el Connect.
	if s.desired && len(ident.ActivitySet) > 0 {
		s.openWindowLocked(ctx, ident.CloneActivitySet())
	}
	return s.status, nil
}

// ─── Ventanas de actividad ──────────────────────────────────────────────

// openWindowLocked abre la ventana y pasa a Idling. Cierra explícito
// primero (evento y métrica); Open vuelve a cerrar en su transacción
// cualquier ventana abierta como refuerzo del invariante.
func (s *Session) openWindowLocked(ctx context.Context, ids []uint32) {
	now := time.Now()
	s.closeWindowLocked(ctx, now)

	rec, err := s.deps.records.Open(ctx, s.id, now, ids)
	if err != nil {
		s.log.Error("no se pudo abrir la ventana de actividad", logger.Err(err))
	} else {
		s.windowStart = now
		metrics.ActivityWindows.WithLabelValues("opened").Inc()
		s.deps.events.Info(ctx, s.id, domain.EventCatActivity,
			fmt.Sprintf("ventana de actividad abierta (%d actividades)", len(ids)))
		s.log.Info("ventana abierta", logger.RecordID(rec.ID), logger.Activities(len(ids)))
	}

	s.activitySet = append([]uint32(nil), ids...)
	if s.conn != nil {
		if err := s.conn.SetActivity(ids); err != nil {
			s.log.Warn("no se pudo anunciar la actividad", logger.Err(err))
		}
	}
	s.setStatusLocked(ctx, domain.StatusIdling, "")
}

// closeWindowLocked cierra la ventana abierta si la hay; sin ventana no
// hace nada (stop es idempotente).
func (s *Session) closeWindowLocked(ctx context.Context, now time.Time) {
	rec, err := s.deps.records.Close(ctx, s.id, now)
	if err != nil {
		s.log.Error("no se pudo cerrar la ventana de actividad", logger.Err(err))
		return
	}
	if rec == nil {
		return
	}
	metrics.ActivityWindows.WithLabelValues("closed").Inc()
	s.deps.events.Info(ctx, s.id, domain.EventCatActivity,
		fmt.Sprintf("ventana de actividad cerrada (duró %s)", rec.Duration(now).Round(time.Second)))
	s.windowStart = time.Time{}
}

// SetActivity arranca el idling con el set dado si hay conexión; sin
// conexión deja la intención persistida para el próximo start o resume.
// El set ya llega normalizado y persistido en la fila por el Manager.
func (s *Session) SetActivity(ctx context.Context, ids []uint32) (domain.Status, error) {
	if len(ids) == 0 {
		return "", fmt.Errorf("set de actividad vacío: %w", repository.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setDesiredLocked(ctx, true)
	if s.conn == nil {
		return s.status, nil
	}
	s.openWindowLocked(ctx, ids)
	return s.status, nil
}

// StopActivity corta el idling: cierra la ventana abierta y persiste
// desired-idle=false. Idempotente. Con conexión viva queda Online; sin
// conexión cancela la reconexión pendiente (la intención ya no existe) y
// deja el estado de reposo como está.
func (s *Session) StopActivity(ctx context.Context) (domain.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeWindowLocked(ctx, time.Now())
	s.setDesiredLocked(ctx, false)
	s.activitySet = nil

	if s.conn != nil {
		if err := s.conn.SetActivity(nil); err != nil {
			s.log.Warn("no se pudo limpiar la actividad", logger.Err(err))
		}
		if s.status != domain.StatusOnline {
			s.setStatusLocked(ctx, domain.StatusOnline, "")
		}
		return s.status, nil
	}
	s.cancelTimerLocked()
	return s.status, nil
}

// ─── Logout y shutdown ──────────────────────────────────────────────────

// Logout corta todo: cancela el timer, aborta un login en vuelo, cierra
// la ventana abierta, persiste desired-idle=false y suelta la conexión.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++ // invalida el intento en vuelo y los drops encolados
	s.cancelTimerLocked()
	if s.cancelConnect != nil {
		s.cancelConnect()
		s.cancelConnect = nil
	}
	s.connecting = false
	s.attempts = 0

	s.closeWindowLocked(ctx, time.Now())
	s.setDesiredLocked(ctx, false)
	s.activitySet = nil

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.log.Warn("cerrar conexión", logger.Err(err))
		}
		s.conn = nil
	}
	s.setStatusLocked(ctx, domain.StatusOffline, "")
	s.deps.events.Info(ctx, s.id, domain.EventCatSession, "logout")
	return nil
}

// shutdown es el drain de cierre de proceso: igual que Logout pero sin
// tocar desired-idle, así el próximo arranque retoma lo que estaba
// idling.
func (s *Session) shutdown(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.cancelTimerLocked()
	if s.cancelConnect != nil {
		s.cancelConnect()
		s.cancelConnect = nil
	}
	s.connecting = false

	s.closeWindowLocked(ctx, time.Now())
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.setStatusLocked(ctx, domain.StatusOffline, "")
}

// ─── Eventos de la conexión ─────────────────────────────────────────────

// watch consume los eventos de una conexión hasta que el canal cierra.
// Corre en su propia goroutine; cada evento entra al estado bajo el lock,
// así nunca corren dos handlers de la misma sesión a la vez.
func (s *Session) watch(conn presence.Conn, gen int) {
	for ev := range conn.Events() {
		switch ev.Kind {
		case presence.EventToken:
			s.storeToken(ev.RefreshToken)
		case presence.EventDisconnected:
			s.handleDrop(conn, gen, ev.Err)
		}
	}
}

// storeToken persiste cifrado un refresh token emitido por el remoto.
func (s *Session) storeToken(token string) {
	if token == "" {
		return
	}
	enc, err := secretbox.Encrypt(token)
	if err != nil {
		s.log.Warn("no se pudo cifrar el refresh token", logger.Err(err))
		return
	}
	if err := s.deps.idents.SetRefreshToken(s.base, s.id, enc); err != nil {
		s.log.Warn("no se pudo persistir el refresh token", logger.Err(err))
		return
	}
	s.deps.events.Debug(s.base, s.id, domain.EventCatCredentials, "refresh token renovado por el remoto")
}

// handleDrop procesa la caída: cierra la ventana abierta en el momento
// (sin ventanas huérfanas), pasa a Offline y, si la identidad quería
// estar idling, programa la reconexión.
func (s *Session) handleDrop(conn presence.Conn, gen int, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.conn != conn {
		return // conexión vieja: otro handler ya se hizo cargo
	}
	if cause == nil {
		cause = repository.ErrTransientConnection
	}
	s.conn = nil
	s.closeWindowLocked(s.base, time.Now())
	s.setStatusLocked(s.base, domain.StatusOffline, cause.Error())
	s.deps.events.Warn(s.base, s.id, domain.EventCatSession, fmt.Sprintf("conexión caída: %v", cause))
	s.log.Warn("conexión caída", logger.Err(cause))

	if s.desired {
		s.scheduleReconnectLocked()
	}
}

// ─── Reconexión ─────────────────────────────────────────────────────────

// scheduleReconnectLocked programa el próximo intento con delay lineal
// (intento × step). Se salta con un intento en vuelo, un timer ya armado
// o un lockout vigente; agotado el presupuesto pasa a Error y no programa
// más.
func (s *Session) scheduleReconnectLocked() {
	if s.connecting || s.timer != nil {
		return
	}
	if s.lockedUntil != nil && time.Now().Before(*s.lockedUntil) {
		s.log.Info("reconexión omitida: lockout vigente", logger.LockedUntil(*s.lockedUntil))
		return
	}
	if s.attempts >= s.deps.policy.MaxReconnectAttempts {
		metrics.ReconnectsExhausted.Inc()
		s.setStatusLocked(s.base, domain.StatusError, repository.ErrMaxReconnectAttempts.Error())
		s.deps.events.Error(s.base, s.id, domain.EventCatReconnect,
			fmt.Sprintf("presupuesto de reconexión agotado (%d intentos)", s.deps.policy.MaxReconnectAttempts))
		s.log.Error("presupuesto de reconexión agotado", logger.Attempt(s.attempts))
		return
	}
	s.attempts++
	delay := s.deps.policy.ReconnectDelay(s.attempts)
	gen := s.gen
	s.timer = time.AfterFunc(delay, func() { s.reconnect(gen) })
	metrics.ReconnectsScheduled.Inc()
	s.deps.events.Info(s.base, s.id, domain.EventCatReconnect,
		fmt.Sprintf("reintento %d/%d en %s", s.attempts, s.deps.policy.MaxReconnectAttempts, delay))
	s.log.Info("reconexión programada", logger.Attempt(s.attempts), logger.String("delay", delay.String()))
}

// reconnect corre al vencer el timer. Relee la fila persistida antes de
// intentar: credenciales, lockout y set de actividad salen del estado
// actual, no del que había al caer la conexión.
func (s *Session) reconnect(gen int) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	if s.connecting || s.conn != nil || !s.desired {
		// un start manual, un stop o una conexión nueva ganaron la carrera
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ident, err := s.deps.idents.Get(s.base, s.id)
	if err != nil {
		s.mu.Lock()
		if gen == s.gen {
			s.setStatusLocked(s.base, domain.StatusError, fmt.Sprintf("releer identidad: %v", err))
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if gen != s.gen || s.connecting || s.conn != nil || !s.desired {
		s.mu.Unlock()
		return
	}
	if ident.LockedAt(time.Now()) {
		s.lockedUntil = ident.LockedUntil
		s.setStatusLocked(s.base, domain.StatusLocked, s.lastError)
		s.mu.Unlock()
		return
	}
	if !ident.HasCredentials() {
		s.setStatusLocked(s.base, domain.StatusError, repository.ErrIncompleteAccount.Error())
		s.mu.Unlock()
		return
	}
	attemptGen, ctx := s.beginConnectingLocked(s.base)
	s.mu.Unlock()

	_, _ = s.attemptLogin(ctx, ident, attemptGen)
}

// ─── Lecturas ───────────────────────────────────────────────────────────

// ApplyPersona aplica la preferencia en vivo si hay conexión; sin
// conexión no hace nada (la preferencia persistida entra sola en el
// próximo login).
func (s *Session) ApplyPersona(p domain.Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.SetPresence(p)
}

// Snapshot mezcla la fila persistida con el estado vivo de la sesión.
func (s *Session) Snapshot(row *domain.Identity) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshotFromRow(row)
	snap.Live = true
	snap.Status = s.status
	snap.LastError = s.lastError
	since := s.since
	snap.Since = &since
	snap.DesiredIdle = s.desired
	snap.FailedLogins = s.failedLogins
	snap.LockedUntil = s.lockedUntil
	snap.ReconnectAttempt = s.attempts
	snap.ReconnectPending = s.timer != nil
	return snap
}

// releaseGauge ajusta el gauge cuando la sesión sale del registry.
func (s *Session) releaseGauge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	metrics.SessionsByStatus.WithLabelValues(string(s.status)).Dec()
}
