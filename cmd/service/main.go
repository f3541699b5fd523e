// idlejohn service: el daemon de presencia. Carga config, abre el
// storage, levanta el Manager de sesiones y expone la API de control.
// El proceso arranca locked: sin unlock no hay secretos ni resume.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/dropDatabas3/idlejohn/internal/cache"
	"github.com/dropDatabas3/idlejohn/internal/config"
	"github.com/dropDatabas3/idlejohn/internal/domain"
	"github.com/dropDatabas3/idlejohn/internal/eventlog"
	httpapi "github.com/dropDatabas3/idlejohn/internal/http"
	"github.com/dropDatabas3/idlejohn/internal/maintenance"
	"github.com/dropDatabas3/idlejohn/internal/metrics"
	"github.com/dropDatabas3/idlejohn/internal/observability/logger"
	"github.com/dropDatabas3/idlejohn/internal/presence/bridge"
	"github.com/dropDatabas3/idlejohn/internal/rate"
	"github.com/dropDatabas3/idlejohn/internal/security/keyring"
	"github.com/dropDatabas3/idlejohn/internal/security/secretbox"
	"github.com/dropDatabas3/idlejohn/internal/session"
	"github.com/dropDatabas3/idlejohn/internal/store"
	"github.com/dropDatabas3/idlejohn/internal/util"

	_ "github.com/dropDatabas3/idlejohn/internal/store/adapters/memory"
	_ "github.com/dropDatabas3/idlejohn/internal/store/adapters/pg"
	_ "github.com/dropDatabas3/idlejohn/internal/store/adapters/sqlite"
)

// Presupuesto del unlock: pocas pruebas de passphrase por IP y por minuto.
const (
	unlockRateMax    = 5
	unlockRateWindow = time.Minute
)

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func printConfigSummary(c *config.Config) {
	log.Printf(`CONFIG:
  server.addr=%s
  cors=%v

  storage.driver=%s
  storage.dsn=%s
  sqlite(path=%s, busy_timeout=%s)

  security(kdf_iterations=%d)

  session(max_failed=%d, lockout_base=%s, lockout_max=%s, rate_cooldown=%s)
  session(reconnect_max=%d, reconnect_step=%s, resume_settle=%s, bulk=%d)

  bridge(url=%s, dial_timeout=%s, ping_interval=%s)

  cache(status_ttl=%s)
  events(retention=%s)

  maintenance(enabled=%t, checkpoint=%q, prune=%q, lockout_sweep=%q)
`,
		c.Server.Addr, c.Server.CORSAllowedOrigins,
		c.Storage.Driver, util.MaskDSN(c.Storage.DSN),
		c.Storage.SQLite.Path, c.Storage.SQLite.BusyTimeout,
		c.Security.KDFIterations,
		c.Session.MaxFailedLogins, c.Session.LockoutBase, c.Session.LockoutMax, c.Session.RateLimitCooldown,
		c.Session.MaxReconnectAttempts, c.Session.ReconnectStep, c.Session.ResumeSettleDelay, c.Session.BulkConcurrency,
		c.Bridge.URL, c.Bridge.DialTimeout, c.Bridge.PingInterval,
		c.Cache.StatusTTL,
		c.Events.Retention,
		c.Maintenance.Enabled, c.Maintenance.CheckpointSchedule, c.Maintenance.PruneSchedule, c.Maintenance.LockoutSweepSchedule,
	)
}

func main() {
	var (
		flagConfigPath = flag.String("config", "", "ruta a config.yaml (fallback: $CONFIG_PATH o configs/config.yaml)")
		flagEnvFile    = flag.String("env-file", ".env", "ruta a .env (si existe, se carga)")
		flagPrint      = flag.Bool("print-config", false, "imprime config efectiva y termina")
	)
	flag.Parse()

	if *flagEnvFile != "" && fileExists(*flagEnvFile) {
		if err := godotenv.Load(*flagEnvFile); err == nil {
			log.Printf("dotenv: cargado %s", *flagEnvFile)
		}
	}

	cfgPath := *flagConfigPath
	if cfgPath == "" {
		cfgPath = os.Getenv("CONFIG_PATH")
	}
	if cfgPath == "" {
		if fileExists("configs/config.yaml") {
			cfgPath = "configs/config.yaml"
		} else {
			cfgPath = "configs/config.example.yaml"
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *flagPrint {
		printConfigSummary(cfg)
		return
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       getenv("LOG_LEVEL", "info"),
		ServiceName: "idlejohn",
	})
	defer func() { _ = logger.Sync() }()
	zlog := logger.Named("main")

	// El contexto base muere con la señal; acota timers y reconexiones
	// del Manager. El drain ordenado corre después, con su propio timeout.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := store.OpenAdapter(ctx, store.AdapterConfig{
		Name:            cfg.Storage.Driver,
		DSN:             cfg.Storage.DSN,
		Path:            cfg.Storage.SQLite.Path,
		BusyTimeout:     config.Dur(cfg.Storage.SQLite.BusyTimeout),
		MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.Postgres.MaxIdleConns,
		ConnMaxLifetime: config.Dur(cfg.Storage.Postgres.ConnMaxLifetime),
	})
	if err != nil {
		zlog.Fatal("store open", logger.Err(err))
	}

	events := eventlog.New(conn.Events())
	keys := keyring.New(cfg.Security.KDFIterations, conn.Settings(), secretbox.SetKey)

	client := bridge.New(bridge.Config{
		URL:          cfg.Bridge.URL,
		DialTimeout:  config.Dur(cfg.Bridge.DialTimeout),
		PingInterval: config.Dur(cfg.Bridge.PingInterval),
	})

	// Manager y cache se referencian mutuamente: OnTransition invalida el
	// cache y el cache lee snapshots del Manager. El closure rompe el ciclo.
	var sc *cache.StatusCache
	mgr := session.NewManager(ctx, session.Options{
		Identities: conn.Identities(),
		Records:    conn.ActivityRecords(),
		Events:     events,
		Client:     client,
		Keyring:    keys,
		Policy:     session.PolicyFromConfig(cfg),
		OnTransition: func(id string) {
			if sc != nil {
				sc.Invalidate(id)
			}
		},
	})
	sc = cache.New(mgr, config.Dur(cfg.Cache.StatusTTL))

	if err := metrics.RegisterSession(nil); err != nil {
		zlog.Fatal("metrics de sesión", logger.Err(err))
	}
	var poolFn func() *pgxpool.Pool
	if pg, ok := conn.(interface{ Pool() *pgxpool.Pool }); ok {
		poolFn = pg.Pool
	}
	metricsHandler, err := httpapi.RegisterHTTPMetrics(httpapi.MetricsConfig{Pool: poolFn})
	if err != nil {
		zlog.Fatal("metrics http", logger.Err(err))
	}

	// Saneo de arranque antes de servir: ventanas huérfanas cerradas y
	// status residuales normalizados. Nada de esto necesita la clave.
	if err := mgr.ReconcileStartup(ctx); err != nil {
		zlog.Fatal("reconciliación de arranque", logger.Err(err))
	}
	mgr.ScheduleResume()

	var mnt *maintenance.Runner
	if cfg.Maintenance.Enabled {
		mnt, err = maintenance.New(maintenance.Options{
			Store:                conn,
			Manager:              mgr,
			Events:               events,
			CheckpointSchedule:   cfg.Maintenance.CheckpointSchedule,
			PruneSchedule:        cfg.Maintenance.PruneSchedule,
			LockoutSweepSchedule: cfg.Maintenance.LockoutSweepSchedule,
			Retention:            config.Dur(cfg.Events.Retention),
		})
		if err != nil {
			zlog.Fatal("maintenance", logger.Err(err))
		}
		mnt.Start(ctx)
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
						httpapi.WithSecurityHeaders(
							httpapi.WithCORS(router, cfg.Server.CORSAllowedOrigins),
						),
						rate.NewWindowLimiter(unlockRateMax, unlockRateWindow),
					),
				),
			),
		),
	)

	srv := httpapi.NewServer(cfg.Server.Addr, handler)

	zlog.Info("daemon arriba",
		logger.String("addr", cfg.Server.Addr),
		logger.Driver(conn.Name()),
		logger.Bool("maintenance", cfg.Maintenance.Enabled),
		logger.String("bridge", cfg.Bridge.URL))
	events.Info(ctx, "", domain.EventCatProcess, "proceso iniciado (locked, a la espera del unlock)")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			zlog.Fatal("http", logger.Err(err))
		}
		return
	case <-ctx.Done():
	}

	zlog.Info("señal recibida, drenando")

	// Drain ordenado: primero dejar de aceptar requests, después frenar el
	// cron, después desconectar sesiones dejando desired-idle intacto.
	shCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shCtx); err != nil {
		zlog.Warn("shutdown http", logger.Err(err))
	}
	if mnt != nil {
		if err := mnt.Stop(shCtx); err != nil {
			zlog.Warn("shutdown maintenance", logger.Err(err))
		}
	}
	mgr.Shutdown(shCtx)
	events.Info(shCtx, "", domain.EventCatProcess, "proceso detenido")
	if err := conn.Close(); err != nil {
		zlog.Warn("cierre de store", logger.Err(err))
	}
	zlog.Info("daemon abajo")
}
