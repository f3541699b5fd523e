// Package sqlite implementa el adapter SQLite para store.
// Driver puro Go (modernc.org/sqlite), sin CGO; es el backend por defecto.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
	"github.com/dropDatabas3/idlejohn/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// addedColumns son las columnas posteriores al esquema inicial. Se crean
// con EnsureColumns al abrir bases existentes.
var addedColumns = []store.Column{
	{Table: "identities", Name: "refresh_token", DDL: "TEXT NOT NULL DEFAULT ''"},
	{Table: "identities", Name: "last_error", DDL: "TEXT NOT NULL DEFAULT ''"},
	{Table: "identities", Name: "persona", DDL: "TEXT NOT NULL DEFAULT 'online'"},
	{Table: "identities", Name: "activity_set", DDL: "TEXT NOT NULL DEFAULT '[]'"},
}

func init() {
	store.RegisterAdapter(&sqliteAdapter{})
}

// sqliteAdapter implementa store.Adapter para SQLite.
type sqliteAdapter struct{}

func (a *sqliteAdapter) Name() string { return store.DriverSQLite }

func (a *sqliteAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: path requerido")
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)",
		cfg.Path, busy.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// SQLite serializa escrituras; una única conexión evita SQLITE_BUSY
	// entre goroutines del propio proceso.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	exec := &dbExecutor{db: db}
	if _, err := store.NewMigrator(migrationsFS, "migrations").Run(ctx, exec, store.DriverSQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	if _, err := store.EnsureColumns(ctx, exec, store.DriverSQLite, addedColumns); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ensure columns: %w", err)
	}

	return &sqliteConnection{db: db}, nil
}

// dbExecutor adapta *sql.DB a store.SQLExecutor.
type dbExecutor struct{ db *sql.DB }

func (e *dbExecutor) Exec(ctx context.Context, query string, args ...any) error {
	_, err := e.db.ExecContext(ctx, query, args...)
	return err
}

func (e *dbExecutor) QueryRow(ctx context.Context, query string, args ...any) store.RowScanner {
	return e.db.QueryRowContext(ctx, query, args...)
}

// sqliteConnection representa una base SQLite abierta y migrada.
type sqliteConnection struct {
	db *sql.DB
}

func (c *sqliteConnection) Name() string { return store.DriverSQLite }

func (c *sqliteConnection) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *sqliteConnection) Close() error {
	return c.db.Close()
}

// Checkpoint compacta el WAL. Implementa store.Checkpointer.
func (c *sqliteConnection) Checkpoint(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// ─── Repositorios ───

func (c *sqliteConnection) Identities() repository.IdentityRepository {
	return &identityRepo{db: c.db}
}

func (c *sqliteConnection) ActivityRecords() repository.ActivityRecordRepository {
	return &activityRepo{db: c.db}
}

func (c *sqliteConnection) Events() repository.EventRepository {
	return &eventRepo{db: c.db}
}

func (c *sqliteConnection) Settings() repository.SettingsRepository {
	return &settingRepo{db: c.db}
}
