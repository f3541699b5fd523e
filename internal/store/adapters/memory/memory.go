// Package memory implementa un adapter volátil. Lo usan los tests y el
// modo demo; mismo contrato que sqlite/pg, nada sobrevive al proceso.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/idlejohn/internal/domain"
	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
	"github.com/dropDatabas3/idlejohn/internal/store"
)

func init() {
	store.RegisterAdapter(&memoryAdapter{})
}

// memoryAdapter implementa store.Adapter en memoria.
type memoryAdapter struct{}

func (a *memoryAdapter) Name() string { return store.DriverMemory }

func (a *memoryAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	return NewConnection(), nil
}

// NewConnection crea una conexión memory vacía. Exportada para que los
// tests construyan el fixture sin pasar por el registry.
func NewConnection() store.AdapterConnection {
	return &memoryConnection{
		identities: make(map[string]*domain.Identity),
		byLogin:    make(map[string]string),
		byID:       make(map[string]*domain.ActivityRecord),
		settings:   make(map[string]string),
	}
}

// memoryConnection guarda todo bajo un único mutex; el volumen esperado
// son decenas de identidades, no miles.
type memoryConnection struct {
	mu sync.RWMutex

	identities map[string]*domain.Identity
	byLogin    map[string]string // login name -> id

	records []*domain.ActivityRecord
	byID    map[string]*domain.ActivityRecord

	events    []domain.Event
	nextEvent int64

	settings map[string]string
}

func (c *memoryConnection) Name() string { return store.DriverMemory }

func (c *memoryConnection) Ping(ctx context.Context) error { return nil }

func (c *memoryConnection) Close() error { return nil }

func (c *memoryConnection) Identities() repository.IdentityRepository {
	return &identityRepo{conn: c}
}

func (c *memoryConnection) ActivityRecords() repository.ActivityRecordRepository {
	return &activityRepo{conn: c}
}

func (c *memoryConnection) Events() repository.EventRepository {
	return &eventRepo{conn: c}
}

func (c *memoryConnection) Settings() repository.SettingsRepository {
	return &settingRepo{conn: c}
}

// ─── Clones ───

func cloneIdentity(i *domain.Identity) *domain.Identity {
	out := *i
	out.ActivitySet = i.CloneActivitySet()
	if i.LastFailureAt != nil {
		t := *i.LastFailureAt
		out.LastFailureAt = &t
	}
	if i.LockedUntil != nil {
		t := *i.LockedUntil
		out.LockedUntil = &t
	}
	return &out
}

func cloneRecord(r *domain.ActivityRecord) *domain.ActivityRecord {
	out := *r
	if r.EndedAt != nil {
		t := *r.EndedAt
		out.EndedAt = &t
	}
	if len(r.ActivitySet) > 0 {
		out.ActivitySet = make([]uint32, len(r.ActivitySet))
		copy(out.ActivitySet, r.ActivitySet)
	}
	return &out
}

// ─── IdentityRepository ───

type identityRepo struct{ conn *memoryConnection }

func (r *identityRepo) Create(ctx context.Context, input repository.CreateIdentityInput) (*domain.Identity, error) {
	if strings.TrimSpace(input.LoginName) == "" {
		return nil, repository.ErrInvalidInput
	}

	c := r.conn
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byLogin[input.LoginName]; exists {
		return nil, repository.ErrDuplicate
	}

	now := time.Now()
	ident := &domain.Identity{
		ID:             uuid.NewString(),
		LoginName:      input.LoginName,
		Password:       input.Password,
		SharedSecret:   input.SharedSecret,
		IdentitySecret: input.IdentitySecret,
		Status:         domain.StatusOffline,
		Persona:        input.Persona.OrDefault(),
		ActivitySet:    domain.NormalizeActivitySet(input.ActivitySet),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	c.identities[ident.ID] = ident
	c.byLogin[ident.LoginName] = ident.ID
	return cloneIdentity(ident), nil
}

func (r *identityRepo) Get(ctx context.Context, id string) (*domain.Identity, error) {
	c := r.conn
	c.mu.RLock()
	defer c.mu.RUnlock()

	ident, ok := c.identities[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneIdentity(ident), nil
}

func (r *identityRepo) GetByLogin(ctx context.Context, loginName string) (*domain.Identity, error) {
	c := r.conn
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.byLogin[loginName]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneIdentity(c.identities[id]), nil
}

func (r *identityRepo) List(ctx context.Context) ([]domain.Identity, error) {
	return r.listWhere(func(*domain.Identity) bool { return true })
}

func (r *identityRepo) ListDesiredIdle(ctx context.Context) ([]domain.Identity, error) {
	return r.listWhere(func(i *domain.Identity) bool { return i.DesiredIdle })
}

func (r *identityRepo) listWhere(keep func(*domain.Identity) bool) ([]domain.Identity, error) {
	c := r.conn
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []domain.Identity
	for _, ident := range c.identities {
		if keep(ident) {
			out = append(out, *cloneIdentity(ident))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoginName < out[j].LoginName })
	return out, nil
}

func (r *identityRepo) Update(ctx context.Context, id string, input repository.UpdateIdentityInput) (*domain.Identity, error) {
	c := r.conn
	c.mu.Lock()
	defer c.mu.Unlock()

	ident, ok := c.identities[id]
	if !ok {
		return nil, repository.ErrNotFound
	}

	if input.Password != nil {
		ident.Password = *input.Password
	}
	if input.SharedSecret != nil {
		ident.SharedSecret = *input.SharedSecret
	}
	if input.IdentitySecret != nil {
		ident.IdentitySecret = *input.IdentitySecret
	}
	if input.RefreshToken != nil {
		ident.RefreshToken = *input.RefreshToken
	}
	if input.Persona != nil {
		ident.Persona = input.Persona.OrDefault()
	}
	if input.ActivitySet != nil {
		ident.ActivitySet = domain.NormalizeActivitySet(*input.ActivitySet)
	}
	ident.UpdatedAt = time.Now()

	return cloneIdentity(ident), nil
}

func (r *identityRepo) UpdateStatus(ctx context.Context, id string, status domain.Status, lastError string) error {
	return r.mutate(id, func(i *domain.Identity) {
		i.Status = status
		i.LastError = lastError
	})
}

func (r *identityRepo) UpdateLockout(ctx context.Context, id string, lockout repository.LockoutUpdate) error {
	return r.mutate(id, func(i *domain.Identity) {
		i.FailedLogins = lockout.FailedLogins
		i.LastFailureAt = lockout.LastFailureAt
		i.LockedUntil = lockout.LockedUntil
	})
}

func (r *identityRepo) SetDesiredIdle(ctx context.Context, id string, desired bool) error {
	return r.mutate(id, func(i *domain.Identity) { i.DesiredIdle = desired })
}

func (r *identityRepo) SetActivitySet(ctx context.Context, id string, ids []uint32) error {
	set := domain.NormalizeActivitySet(ids)
	return r.mutate(id, func(i *domain.Identity) { i.ActivitySet = set })
}

func (r *identityRepo) SetRefreshToken(ctx context.Context, id string, token string) error {
	return r.mutate(id, func(i *domain.Identity) { i.RefreshToken = token })
}

func (r *identityRepo) mutate(id string, fn func(*domain.Identity)) error {
	c := r.conn
	c.mu.Lock()
	defer c.mu.Unlock()

	ident, ok := c.identities[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(ident)
	ident.UpdatedAt = time.Now()
	return nil
}

func (r *identityRepo) Delete(ctx context.Context, id string) error {
	c := r.conn
	c.mu.Lock()
	defer c.mu.Unlock()

	ident, ok := c.identities[id]
	if !ok {
		return repository.ErrNotFound
	}

	delete(c.identities, id)
	delete(c.byLogin, ident.LoginName)

	// Cascade: fuera las ventanas de la identidad, los eventos quedan.
	kept := c.records[:0]
	for _, rec := range c.records {
		if rec.IdentityID != id {
			kept = append(kept, rec)
		} else {
			delete(c.byID, rec.ID)
		}
	}
	c.records = kept
	return nil
}

func (r *identityRepo) Count(ctx context.Context) (int, error) {
	c := r.conn
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.identities), nil
}

// ─── ActivityRecordRepository ───

type activityRepo struct{ conn *memoryConnection }

func (r *activityRepo) Open(ctx context.Context, identityID string, at time.Time, activitySet []uint32) (*domain.ActivityRecord, error) {
	c := r.conn
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.identities[identityID]; !ok {
		return nil, repository.ErrNotFound
	}

	// Cerrar cualquier ventana abierta previa.
	for _, rec := range c.records {
		if rec.IdentityID == identityID && rec.EndedAt == nil {
			end := at
			rec.EndedAt = &end
		}
	}

	rec := &domain.ActivityRecord{
		ID:          uuid.NewString(),
		IdentityID:  identityID,
		StartedAt:   at,
		ActivitySet: domain.NormalizeActivitySet(activitySet),
	}
	c.records = append(c.records, rec)
	c.byID[rec.ID] = rec
	return cloneRecord(rec), nil
}

func (r *activityRepo) Close(ctx context.Context, identityID string, at time.Time) (*domain.ActivityRecord, error) {
	c := r.conn
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rec := range c.records {
		if rec.IdentityID == identityID && rec.EndedAt == nil {
			end := at
			rec.EndedAt = &end
			return cloneRecord(rec), nil
		}
	}
	return nil, nil // sin ventana abierta: stop es idempotente
}

func (r *activityRepo) CloseAllOpen(ctx context.Context, at time.Time) (int, error) {
	c := r.conn
	c.mu.Lock()
	defer c.mu.Unlock()

	closed := 0
	for _, rec := range c.records {
		if rec.EndedAt == nil {
			end := at
			rec.EndedAt = &end
			closed++
		}
	}
	return closed, nil
}

func (r *activityRepo) GetOpen(ctx context.Context, identityID string) (*domain.ActivityRecord, error) {
	c := r.conn
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, rec := range c.records {
		if rec.IdentityID == identityID && rec.EndedAt == nil {
			return cloneRecord(rec), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *activityRepo) ListByIdentity(ctx context.Context, identityID string, limit int) ([]domain.ActivityRecord, error) {
	c := r.conn
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []domain.ActivityRecord
	for _, rec := range c.records {
		if rec.IdentityID == identityID {
			out = append(out, *cloneRecord(rec))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *activityRepo) CountByIdentity(ctx context.Context, identityID string) (total, open int, err error) {
	c := r.conn
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, rec := range c.records {
		if rec.IdentityID != identityID {
			continue
		}
		total++
		if rec.EndedAt == nil {
			open++
		}
	}
	return total, open, nil
}

// ─── EventRepository ───

type eventRepo struct{ conn *memoryConnection }

const defaultEventLimit = 200

func (r *eventRepo) Append(ctx context.Context, e domain.Event) error {
	c := r.conn
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextEvent++
	e.ID = c.nextEvent
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	c.events = append(c.events, e)
	return nil
}

func (r *eventRepo) List(ctx context.Context, filter repository.EventFilter) ([]domain.Event, error) {
	c := r.conn
	c.mu.RLock()
	defer c.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}

	var out []domain.Event
	for i := len(c.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := c.events[i]
		if filter.Level != "" && e.Level != filter.Level {
			continue
		}
		if filter.IdentityID != "" && e.IdentityID != filter.IdentityID {
			continue
		}
		if filter.Category != "" && e.Category != filter.Category {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *eventRepo) Prune(ctx context.Context, before time.Time) (int, error) {
	c := r.conn
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.events[:0]
	pruned := 0
	for _, e := range c.events {
		if e.Timestamp.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	c.events = kept
	return pruned, nil
}

// ─── SettingsRepository ───

type settingRepo struct{ conn *memoryConnection }

func (r *settingRepo) Get(ctx context.Context, key string) (string, error) {
	c := r.conn
	c.mu.RLock()
	defer c.mu.RUnlock()

	value, ok := c.settings[key]
	if !ok {
		return "", repository.ErrNotFound
	}
	return value, nil
}

func (r *settingRepo) Set(ctx context.Context, key, value string) error {
	c := r.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings[key] = value
	return nil
}

func (r *settingRepo) Delete(ctx context.Context, key string) error {
	c := r.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.settings, key)
	return nil
}

func (r *settingRepo) All(ctx context.Context) (map[string]string, error) {
	c := r.conn
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]string, len(c.settings))
	for k, v := range c.settings {
		out[k] = v
	}
	return out, nil
}
