package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	} `yaml:"server"`

	Storage struct {
		// sqlite | pg | memory
		Driver string `yaml:"driver"`
		// DSN para pg; ignorado por sqlite/memory.
		DSN    string `yaml:"dsn"`
		SQLite struct {
			Path        string `yaml:"path"`
			BusyTimeout string `yaml:"busy_timeout"`
		} `yaml:"sqlite"`
		Postgres struct {
			MaxOpenConns    int    `yaml:"max_open_conns"`
			MaxIdleConns    int    `yaml:"max_idle_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Security struct {
		// Iteraciones PBKDF2 para derivar la clave desde la passphrase.
		// Bajar de esto solo en tests.
		KDFIterations int `yaml:"kdf_iterations"`
	} `yaml:"security"`

	Session struct {
		MaxFailedLogins      int    `yaml:"max_failed_logins"`
		LockoutBase          string `yaml:"lockout_base"`
		LockoutMax           string `yaml:"lockout_max"`
		RateLimitCooldown    string `yaml:"rate_limit_cooldown"`
		MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
		ReconnectStep        string `yaml:"reconnect_step"`
		ResumeSettleDelay    string `yaml:"resume_settle_delay"`
		BulkConcurrency      int    `yaml:"bulk_concurrency"`
	} `yaml:"session"`

	Bridge struct {
		URL          string `yaml:"url"`
		DialTimeout  string `yaml:"dial_timeout"`
		PingInterval string `yaml:"ping_interval"`
	} `yaml:"bridge"`

	Cache struct {
		StatusTTL string `yaml:"status_ttl"`
	} `yaml:"cache"`

	Events struct {
		// Retención del activity log persistido (el prune corre por cron).
		Retention string `yaml:"retention"`
	} `yaml:"events"`

	Maintenance struct {
		Enabled bool `yaml:"enabled"`
		// Expresiones cron (formato robfig/cron estándar de 5 campos).
		CheckpointSchedule   string `yaml:"checkpoint_schedule"`
		PruneSchedule        string `yaml:"prune_schedule"`
		LockoutSweepSchedule string `yaml:"lockout_sweep_schedule"`
	} `yaml:"maintenance"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.SQLite.Path == "" {
		c.Storage.SQLite.Path = "./data/idlejohn.db"
	}
	if c.Storage.SQLite.BusyTimeout == "" {
		c.Storage.SQLite.BusyTimeout = "5s"
	}
	if c.Security.KDFIterations == 0 {
		c.Security.KDFIterations = 310_000
	}
	if c.Session.MaxFailedLogins == 0 {
		c.Session.MaxFailedLogins = 3
	}
	if c.Session.LockoutBase == "" {
		c.Session.LockoutBase = "30m"
	}
	if c.Session.LockoutMax == "" {
		c.Session.LockoutMax = "24h"
	}
	if c.Session.RateLimitCooldown == "" {
		c.Session.RateLimitCooldown = "1h"
	}
	if c.Session.MaxReconnectAttempts == 0 {
		c.Session.MaxReconnectAttempts = 10
	}
	if c.Session.ReconnectStep == "" {
		c.Session.ReconnectStep = "30s"
	}
	if c.Session.ResumeSettleDelay == "" {
		c.Session.ResumeSettleDelay = "10s"
	}
	if c.Session.BulkConcurrency == 0 {
		c.Session.BulkConcurrency = 4
	}
	if c.Bridge.URL == "" {
		c.Bridge.URL = "ws://127.0.0.1:7030/session"
	}
	if c.Bridge.DialTimeout == "" {
		c.Bridge.DialTimeout = "15s"
	}
	if c.Bridge.PingInterval == "" {
		c.Bridge.PingInterval = "30s"
	}
	if c.Cache.StatusTTL == "" {
		c.Cache.StatusTTL = "2s"
	}
	if c.Events.Retention == "" {
		c.Events.Retention = "720h" // 30d
	}
	if c.Maintenance.CheckpointSchedule == "" {
		c.Maintenance.CheckpointSchedule = "*/30 * * * *"
	}
	if c.Maintenance.PruneSchedule == "" {
		c.Maintenance.PruneSchedule = "10 4 * * *"
	}
	if c.Maintenance.LockoutSweepSchedule == "" {
		c.Maintenance.LockoutSweepSchedule = "*/5 * * * *"
	}

	// Overrides por env
	c.applyEnvOverrides()

	// Validation
	if err := c.Validate(); err != nil {
		return nil, err
	}

	// Normalizar path de sqlite (si relativo) respecto al directorio del YAML
	if p := strings.TrimSpace(c.Storage.SQLite.Path); p != "" && !filepath.IsAbs(p) {
		base := filepath.Dir(path)
		c.Storage.SQLite.Path = filepath.Clean(filepath.Join(base, p))
	}

	return &c, nil
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		if strings.TrimSpace(s) == "" {
			return []string{}, true
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvCSV("SERVER_CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvStr("SQLITE_PATH"); ok {
		c.Storage.SQLite.Path = v
	}
	if v, ok := getEnvStr("SQLITE_BUSY_TIMEOUT"); ok {
		c.Storage.SQLite.BusyTimeout = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_OPEN_CONNS"); ok {
		c.Storage.Postgres.MaxOpenConns = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_IDLE_CONNS"); ok {
		c.Storage.Postgres.MaxIdleConns = v
	}
	if v, ok := getEnvStr("POSTGRES_CONN_MAX_LIFETIME"); ok {
		c.Storage.Postgres.ConnMaxLifetime = v
	}

	// SECURITY
	if v, ok := getEnvInt("SECURITY_KDF_ITERATIONS"); ok {
		c.Security.KDFIterations = v
	}

	// SESSION
	if v, ok := getEnvInt("SESSION_MAX_FAILED_LOGINS"); ok {
		c.Session.MaxFailedLogins = v
	}
	if v, ok := getEnvStr("SESSION_LOCKOUT_BASE"); ok {
		c.Session.LockoutBase = v
	}
	if v, ok := getEnvStr("SESSION_LOCKOUT_MAX"); ok {
		c.Session.LockoutMax = v
	}
	if v, ok := getEnvStr("SESSION_RATE_LIMIT_COOLDOWN"); ok {
		c.Session.RateLimitCooldown = v
	}
	if v, ok := getEnvInt("SESSION_MAX_RECONNECT_ATTEMPTS"); ok {
		c.Session.MaxReconnectAttempts = v
	}
	if v, ok := getEnvStr("SESSION_RECONNECT_STEP"); ok {
		c.Session.ReconnectStep = v
	}
	if v, ok := getEnvStr("SESSION_RESUME_SETTLE_DELAY"); ok {
		c.Session.ResumeSettleDelay = v
	}
	if v, ok := getEnvInt("SESSION_BULK_CONCURRENCY"); ok {
		c.Session.BulkConcurrency = v
	}

	// BRIDGE
	if v, ok := getEnvStr("BRIDGE_URL"); ok {
		c.Bridge.URL = v
	}
	if v, ok := getEnvStr("BRIDGE_DIAL_TIMEOUT"); ok {
		c.Bridge.DialTimeout = v
	}
	if v, ok := getEnvStr("BRIDGE_PING_INTERVAL"); ok {
		c.Bridge.PingInterval = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_STATUS_TTL"); ok {
		c.Cache.StatusTTL = v
	}

	// EVENTS
	if v, ok := getEnvStr("EVENTS_RETENTION"); ok {
		c.Events.Retention = v
	}

	// MAINTENANCE
	if v, ok := getEnvBool("MAINTENANCE_ENABLED"); ok {
		c.Maintenance.Enabled = v
	}
	if v, ok := getEnvStr("MAINTENANCE_CHECKPOINT_SCHEDULE"); ok {
		c.Maintenance.CheckpointSchedule = v
	}
	if v, ok := getEnvStr("MAINTENANCE_PRUNE_SCHEDULE"); ok {
		c.Maintenance.PruneSchedule = v
	}
	if v, ok := getEnvStr("MAINTENANCE_LOCKOUT_SWEEP_SCHEDULE"); ok {
		c.Maintenance.LockoutSweepSchedule = v
	}
}

// Validate valida valores críticos: drivers conocidos y duraciones parseables.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "pg", "memory":
	default:
		return fmt.Errorf("storage.driver desconocido: %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "pg" && strings.TrimSpace(c.Storage.DSN) == "" {
		return fmt.Errorf("storage.dsn requerido con driver pg")
	}
	for name, s := range map[string]string{
		"storage.sqlite.busy_timeout":        c.Storage.SQLite.BusyTimeout,
		"session.lockout_base":               c.Session.LockoutBase,
		"session.lockout_max":                c.Session.LockoutMax,
		"session.rate_limit_cooldown":        c.Session.RateLimitCooldown,
		"session.reconnect_step":             c.Session.ReconnectStep,
		"session.resume_settle_delay":        c.Session.ResumeSettleDelay,
		"bridge.dial_timeout":                c.Bridge.DialTimeout,
		"bridge.ping_interval":               c.Bridge.PingInterval,
		"cache.status_ttl":                   c.Cache.StatusTTL,
		"events.retention":                   c.Events.Retention,
		"storage.postgres.conn_max_lifetime": c.Storage.Postgres.ConnMaxLifetime,
	} {
		if s == "" {
			continue
		}
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Session.MaxReconnectAttempts < 1 {
		return fmt.Errorf("session.max_reconnect_attempts debe ser >= 1")
	}
	if c.Security.KDFIterations < 1000 {
		return fmt.Errorf("security.kdf_iterations demasiado bajo")
	}
	return nil
}

// Dur parsea una duración ya validada por Validate; útil para los callers
// que arman políticas a partir de la config.
func Dur(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
