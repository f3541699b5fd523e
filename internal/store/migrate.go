package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// Las migraciones SQL se embeben en el binario de cada adapter.
// Formato de archivo: {version}_{name}.sql (ej: 001_init.sql)

// Migrator aplica migraciones SQL a una base de datos.
type Migrator struct {
	migrationsFS  embed.FS
	migrationsDir string
}

// NewMigrator crea un nuevo Migrator.
func NewMigrator(migrationsFS embed.FS, migrationsDir string) *Migrator {
	return &Migrator{
		migrationsFS:  migrationsFS,
		migrationsDir: migrationsDir,
	}
}

// Migration representa una migración individual.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationResult resultado de aplicar migraciones.
type MigrationResult struct {
	Applied      []int
	Skipped      []int
	ColumnsAdded int
	Duration     time.Duration
}

// migrationFilePattern patrón para nombres de archivo de migración.
var migrationFilePattern = regexp.MustCompile(`^(\d+)_(.+)\.sql$`)

// ParseMigrations lee y parsea las migraciones del FS embebido.
func (m *Migrator) ParseMigrations() ([]Migration, error) {
	var migrations []Migration

	err := fs.WalkDir(m.migrationsFS, m.migrationsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		filename := filepath.Base(path)
		matches := migrationFilePattern.FindStringSubmatch(filename)
		if matches == nil {
			return nil // Ignorar archivos que no coinciden
		}

		version, _ := strconv.Atoi(matches[1])
		name := matches[2]

		content, err := m.migrationsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    name,
			SQL:     string(content),
		})

		return nil
	})

	if err != nil {
		return nil, err
	}

	// Ordenar por versión
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// RowScanner es el resultado mínimo de una query de una fila.
type RowScanner interface {
	Scan(dest ...any) error
}

// SQLExecutor abstrae el ejecutor SQL para migraciones (database/sql o
// pgxpool). Cada adapter provee el suyo.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) error
	QueryRow(ctx context.Context, query string, args ...any) RowScanner
}

// Run aplica migraciones pendientes a una base de datos.
func (m *Migrator) Run(ctx context.Context, exec SQLExecutor, driver string) (*MigrationResult, error) {
	start := time.Now()
	result := &MigrationResult{}

	// Asegurar que existe la tabla de migraciones
	if err := m.ensureMigrationsTable(ctx, exec, driver); err != nil {
		result.Duration = time.Since(start)
		return result, fmt.Errorf("creating migrations table: %w", err)
	}

	// Obtener migraciones aplicadas
	applied, err := m.getAppliedVersions(ctx, exec)
	if err != nil {
		result.Duration = time.Since(start)
		return result, fmt.Errorf("getting applied migrations: %w", err)
	}

	// Parsear migraciones disponibles
	migrations, err := m.ParseMigrations()
	if err != nil {
		result.Duration = time.Since(start)
		return result, fmt.Errorf("parsing migrations: %w", err)
	}

	// Aplicar pendientes
	for _, mig := range migrations {
		if applied[mig.Version] {
			result.Skipped = append(result.Skipped, mig.Version)
			continue
		}

		if err := m.applyMigration(ctx, exec, driver, mig); err != nil {
			result.Duration = time.Since(start)
			return result, fmt.Errorf("applying migration %d_%s: %w", mig.Version, mig.Name, err)
		}

		result.Applied = append(result.Applied, mig.Version)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// ensureMigrationsTable crea la tabla de tracking de migraciones.
func (m *Migrator) ensureMigrationsTable(ctx context.Context, exec SQLExecutor, driver string) error {
	var createSQL string
	switch driver {
	case DriverPostgres:
		createSQL = `
			CREATE TABLE IF NOT EXISTS _migrations (
				version INT PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				applied_at TIMESTAMPTZ DEFAULT NOW()
			)`
	default:
		createSQL = `
			CREATE TABLE IF NOT EXISTS _migrations (
				version INTEGER PRIMARY KEY,
				name TEXT NOT NULL,
				applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`
	}

	return exec.Exec(ctx, createSQL)
}

// getAppliedVersions obtiene las versiones ya aplicadas.
// Las versiones son secuenciales: basta con la máxima aplicada.
func (m *Migrator) getAppliedVersions(ctx context.Context, exec SQLExecutor) (map[int]bool, error) {
	applied := make(map[int]bool)

	var maxVersion int
	row := exec.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM _migrations")
	if err := row.Scan(&maxVersion); err != nil {
		return nil, err
	}

	for i := 1; i <= maxVersion; i++ {
		applied[i] = true
	}

	return applied, nil
}

// applyMigration ejecuta una migración y la registra.
func (m *Migrator) applyMigration(ctx context.Context, exec SQLExecutor, driver string, mig Migration) error {
	if err := exec.Exec(ctx, mig.SQL); err != nil {
		return err
	}

	insertSQL := "INSERT INTO _migrations (version, name) VALUES (?, ?)"
	if driver == DriverPostgres {
		insertSQL = "INSERT INTO _migrations (version, name) VALUES ($1, $2)"
	}
	return exec.Exec(ctx, insertSQL, mig.Version, mig.Name)
}

// ─── Columnas aditivas ───

// Column describe una columna que debe existir tras migrar. El esquema
// evoluciona agregando columnas: las features nuevas declaran aquí la suya
// y EnsureColumns la crea en bases anteriores sin tocar datos.
type Column struct {
	Table string
	Name  string
	// DDL es tipo + default en el dialecto del adapter,
	// ej: "TEXT NOT NULL DEFAULT ''".
	DDL string
}

// EnsureColumns agrega las columnas que falten. Retorna cuántas agregó.
func EnsureColumns(ctx context.Context, exec SQLExecutor, driver string, cols []Column) (int, error) {
	added := 0
	for _, c := range cols {
		exists, err := columnExists(ctx, exec, driver, c.Table, c.Name)
		if err != nil {
			return added, fmt.Errorf("checking column %s.%s: %w", c.Table, c.Name, err)
		}
		if exists {
			continue
		}

		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", c.Table, c.Name, c.DDL)
		if err := exec.Exec(ctx, stmt); err != nil {
			return added, fmt.Errorf("adding column %s.%s: %w", c.Table, c.Name, err)
		}
		added++
	}
	return added, nil
}

// columnExists verifica si una columna existe.
func columnExists(ctx context.Context, exec SQLExecutor, driver, table, column string) (bool, error) {
	switch driver {
	case DriverPostgres:
		const query = `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = $1 AND column_name = $2)`
		var exists bool
		err := exec.QueryRow(ctx, query, table, column).Scan(&exists)
		return exists, err
	default:
		const query = `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`
		var n int
		err := exec.QueryRow(ctx, query, table, column).Scan(&n)
		return n > 0, err
	}
}
