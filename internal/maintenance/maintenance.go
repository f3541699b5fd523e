// Package maintenance ejecuta las tareas periódicas del proceso: el
// checkpoint del journal de sqlite, el prune del activity log y el
// barrido de lockouts vencidos.
//
// El runner parsea las expresiones cron al construirse y corre un único
// goroutine con tick fijo; cada tick ejecuta en orden los jobs vencidos.
// Los jobs son best-effort: un fallo se reporta y el schedule sigue en pie.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/dropDatabas3/idlejohn/internal/domain"
	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
	"github.com/dropDatabas3/idlejohn/internal/eventlog"
	"github.com/dropDatabas3/idlejohn/internal/observability/logger"
	"github.com/dropDatabas3/idlejohn/internal/security/secretbox"
	"github.com/dropDatabas3/idlejohn/internal/session"
	"github.com/dropDatabas3/idlejohn/internal/store"
)

// Expresiones estándar de 5 campos, más descriptores (@hourly y amigos).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Options configura el runner de mantenimiento.
type Options struct {
	Store   store.AdapterConnection
	Manager *session.Manager
	Events  *eventlog.Recorder

	// Expresiones cron de 5 campos, ya con defaults desde config.
	CheckpointSchedule   string
	PruneSchedule        string
	LockoutSweepSchedule string

	// Retention acota la edad del activity log persistido.
	Retention time.Duration

	// Tick y Now aceleran el reloj en tests.
	Tick time.Duration
	Now  func() time.Time
}

type job struct {
	name  string
	sched cron.Schedule
	next  time.Time
	run   func(ctx context.Context) error
}

// Runner agenda y ejecuta los jobs de mantenimiento.
type Runner struct {
	jobs   []*job
	log    *zap.Logger
	events *eventlog.Recorder
	now    func() time.Time
	tick   time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New construye el runner validando las tres expresiones cron.
// Si el adapter no implementa Checkpointer el job de checkpoint se omite.
func New(opts Options) (*Runner, error) {
	r := &Runner{
		log:    logger.Named("maintenance"),
		events: opts.Events,
		now:    opts.Now,
		tick:   opts.Tick,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.tick <= 0 {
		r.tick = 15 * time.Second
	}

	add := func(name, expr string, run func(ctx context.Context) error) error {
		sched, err := cronParser.Parse(expr)
		if err != nil {
			return fmt.Errorf("maintenance: schedule de %s inválido (%q): %w", name, expr, err)
		}
		r.jobs = append(r.jobs, &job{name: name, sched: sched, next: sched.Next(r.now()), run: run})
		return nil
	}

	if cp, ok := opts.Store.(store.Checkpointer); ok {
		err := add("checkpoint", opts.CheckpointSchedule, func(ctx context.Context) error {
			return cp.Checkpoint(ctx)
		})
		if err != nil {
			return nil, err
		}
	} else {
		r.log.Debug("adapter sin journal compactable, checkpoint omitido",
			logger.Driver(opts.Store.Name()))
	}

	retention := opts.Retention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	events := opts.Store.Events()
	err := add("prune", opts.PruneSchedule, func(ctx context.Context) error {
		n, err := events.Prune(ctx, r.now().Add(-retention))
		if err != nil {
			return err
		}
		if n > 0 {
			r.events.Info(ctx, "", domain.EventCatStore,
				fmt.Sprintf("prune del activity log: %d entradas con más de %s", n, retention))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	idents := opts.Store.Identities()
	mgr := opts.Manager
	err = add("lockout-sweep", opts.LockoutSweepSchedule, func(ctx context.Context) error {
		return r.sweepExpiredLockouts(ctx, idents, mgr)
	})
	if err != nil {
		return nil, err
	}

	return r, nil
}

// Start lanza el loop del runner. Retorna de inmediato; el loop corre
// hasta que el contexto se cancele.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.log.Info("runner de mantenimiento iniciado",
		logger.Int("jobs", len(r.jobs)),
		logger.Duration(r.tick))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.runDue(ctx)
			}
		}
	}()
}

// Stop detiene el loop y espera a que el job en curso termine.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce ejecuta los jobs vencidos de inmediato y retorna cuántos corrió.
func (r *Runner) RunOnce(ctx context.Context) int {
	return r.runDue(ctx)
}

func (r *Runner) runDue(ctx context.Context) int {
	now := r.now()
	ran := 0
	for _, j := range r.jobs {
		r.mu.Lock()
		due := !now.Before(j.next)
		if due {
			j.next = j.sched.Next(now)
		}
		r.mu.Unlock()
		if !due {
			continue
		}

		if err := j.run(ctx); err != nil {
			r.log.Warn("job de mantenimiento falló",
				logger.String("job", j.name),
				logger.Err(err))
			continue
		}
		ran++
		r.log.Debug("job de mantenimiento completado", logger.String("job", j.name))
	}
	return ran
}

// sweepExpiredLockouts reanuda identidades cuyo lockout venció mientras el
// operador las quería en idle. El reconectador no reintenta sobre filas
// bloqueadas, así que este barrido es el camino de vuelta. Sin la clave
// maestra instalada no hay nada que hacer: Start fallaría para todas.
func (r *Runner) sweepExpiredLockouts(ctx context.Context, idents repository.IdentityRepository, mgr *session.Manager) error {
	if !secretbox.Ready() {
		return nil
	}

	rows, err := idents.ListDesiredIdle(ctx)
	if err != nil {
		return err
	}

	now := r.now()
	resumed := 0
	for _, row := range rows {
		if row.Status != domain.StatusLocked || row.LockedUntil == nil || row.LockedAt(now) {
			continue
		}
		if _, err := mgr.Start(ctx, row.ID); err != nil {
			r.log.Warn("no se pudo reanudar identidad tras lockout",
				logger.IdentityID(row.ID),
				logger.Err(err))
			continue
		}
		resumed++
	}

	if resumed > 0 {
		r.events.Info(ctx, "", domain.EventCatLockout,
			fmt.Sprintf("barrido de lockouts: %d identidades reanudadas", resumed))
	}
	return nil
}
