// Package store provee el registry de adaptadores de persistencia.
//
// Cada adapter (sqlite, pg, memory) se registra en init() y expone los
// repositorios del dominio a través de una AdapterConnection. El resto del
// proceso no sabe qué driver hay debajo.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
)

// Nombres de drivers soportados.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pg"
	DriverMemory   = "memory"
)

// Adapter representa un backend de persistencia capaz de crear repositorios.
type Adapter interface {
	// Name retorna el nombre del adapter (ej: "sqlite", "pg", "memory").
	Name() string

	// Connect abre el almacenamiento y aplica migraciones pendientes.
	Connect(ctx context.Context, cfg AdapterConfig) (AdapterConnection, error)
}

// AdapterConnection representa una conexión activa.
// Provee acceso a los repositorios implementados por el adapter.
type AdapterConnection interface {
	// Name retorna el nombre del adapter.
	Name() string

	// Ping verifica la conexión.
	Ping(ctx context.Context) error

	// Close cierra la conexión.
	Close() error

	// ─── Repositorios ───

	Identities() repository.IdentityRepository
	ActivityRecords() repository.ActivityRecordRepository
	Events() repository.EventRepository
	Settings() repository.SettingsRepository
}

// Checkpointer interfaz opcional para conexiones con journal compactable.
// La implementa sqlite (WAL checkpoint); el job de mantenimiento la usa.
type Checkpointer interface {
	Checkpoint(ctx context.Context) error
}

// AdapterConfig configuración para abrir un almacenamiento.
type AdapterConfig struct {
	// Name del adapter: "sqlite", "pg" o "memory".
	Name string

	// DSN connection string (pg).
	DSN string

	// Path al archivo de base de datos (sqlite).
	Path string

	// BusyTimeout espera máxima ante locks concurrentes (sqlite).
	BusyTimeout time.Duration

	// Pool settings (pg).
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ─── Registry Global ───

var (
	registryMu sync.RWMutex
	adapters   = make(map[string]Adapter)
)

// RegisterAdapter registra un adapter en el registry global.
// Llamar en init() de cada adapter.
func RegisterAdapter(a Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := a.Name()
	if _, exists := adapters[name]; exists {
		panic(fmt.Sprintf("adapter: %q already registered", name))
	}
	adapters[name] = a
}

// GetAdapter obtiene un adapter por nombre.
func GetAdapter(name string) (Adapter, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	a, ok := adapters[name]
	return a, ok
}

// ListAdapters retorna los nombres de todos los adapters registrados.
func ListAdapters() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}
	return names
}

// OpenAdapter abre una conexión usando el adapter especificado en la config.
func OpenAdapter(ctx context.Context, cfg AdapterConfig) (AdapterConnection, error) {
	a, ok := GetAdapter(cfg.Name)
	if !ok {
		return nil, fmt.Errorf("adapter: %q not registered", cfg.Name)
	}
	return a.Connect(ctx, cfg)
}
