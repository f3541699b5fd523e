// Package pg implementa el adapter PostgreSQL para store.
// Usa pgxpool directamente.
package pg

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
	"github.com/dropDatabas3/idlejohn/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// addedColumns son las columnas posteriores al esquema inicial.
var addedColumns = []store.Column{
	{Table: "identities", Name: "refresh_token", DDL: "TEXT NOT NULL DEFAULT ''"},
	{Table: "identities", Name: "last_error", DDL: "TEXT NOT NULL DEFAULT ''"},
	{Table: "identities", Name: "persona", DDL: "TEXT NOT NULL DEFAULT 'online'"},
	{Table: "identities", Name: "activity_set", DDL: "TEXT NOT NULL DEFAULT '[]'"},
}

func init() {
	store.RegisterAdapter(&postgresAdapter{})
}

// postgresAdapter implementa store.Adapter para PostgreSQL.
type postgresAdapter struct{}

func (a *postgresAdapter) Name() string { return store.DriverPostgres }

func (a *postgresAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg: parse DSN: %w", err)
	}

	// Configurar pool
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	} else {
		poolCfg.MaxConns = 10
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	} else {
		poolCfg.MinConns = 2
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}

	// Verificar conexión
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping failed: %w", err)
	}

	exec := &poolExecutor{pool: pool}
	if _, err := store.NewMigrator(migrationsFS, "migrations").Run(ctx, exec, store.DriverPostgres); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: migrate: %w", err)
	}
	if _, err := store.EnsureColumns(ctx, exec, store.DriverPostgres, addedColumns); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ensure columns: %w", err)
	}

	return &pgConnection{pool: pool}, nil
}

// poolExecutor adapta pgxpool.Pool a store.SQLExecutor.
type poolExecutor struct{ pool *pgxpool.Pool }

func (e *poolExecutor) Exec(ctx context.Context, query string, args ...any) error {
	if len(args) == 0 {
		// Los archivos de migración traen varios statements: protocolo simple.
		_, err := e.pool.Exec(ctx, query, pgx.QueryExecModeSimpleProtocol)
		return err
	}
	_, err := e.pool.Exec(ctx, query, args...)
	return err
}

func (e *poolExecutor) QueryRow(ctx context.Context, query string, args ...any) store.RowScanner {
	return e.pool.QueryRow(ctx, query, args...)
}

// pgConnection representa una conexión activa a PostgreSQL.
type pgConnection struct {
	pool *pgxpool.Pool
}

func (c *pgConnection) Name() string { return store.DriverPostgres }

// Pool expone el pool subyacente para el collector de métricas.
func (c *pgConnection) Pool() *pgxpool.Pool { return c.pool }

func (c *pgConnection) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

func (c *pgConnection) Close() error {
	c.pool.Close()
	return nil
}

// ─── Repositorios ───

func (c *pgConnection) Identities() repository.IdentityRepository {
	return &identityRepo{pool: c.pool}
}

func (c *pgConnection) ActivityRecords() repository.ActivityRecordRepository {
	return &activityRepo{pool: c.pool}
}

func (c *pgConnection) Events() repository.EventRepository {
	return &eventRepo{pool: c.pool}
}

func (c *pgConnection) Settings() repository.SettingsRepository {
	return &settingRepo{pool: c.pool}
}
