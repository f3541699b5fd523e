// Package cache amortigua la superficie de consulta: los clientes de
// control hacen polling del estado agregado y ese fan-in no tiene por qué
// golpear el storage en cada request. TTL corto (el estado es vivo),
// singleflight para colapsar reconstrucciones concurrentes e invalidación
// explícita en cada transición de sesión.
package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/idlejohn/internal/session"
)

const (
	keyAll    = "status:all"
	keyPrefix = "status:id:"
)

// Source es la vista del Manager que el cache necesita.
type Source interface {
	Status(ctx context.Context, id string) (session.Snapshot, error)
	StatusAll(ctx context.Context) ([]session.Snapshot, error)
}

// StatusCache sirve snapshots con un TTL corto.
type StatusCache struct {
	src   Source
	ttl   time.Duration
	store *gocache.Cache
	group singleflight.Group
}

// New crea el cache. Con ttl <= 0 aplica el default de 2s.
func New(src Source, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &StatusCache{
		src:   src,
		ttl:   ttl,
		store: gocache.New(ttl, time.Minute),
	}
}

// All retorna el estado agregado. Entre invalidaciones la reconstrucción
// corre a lo sumo una vez por TTL sin importar cuántos lectores lleguen.
func (c *StatusCache) All(ctx context.Context) ([]session.Snapshot, error) {
	if v, ok := c.store.Get(keyAll); ok {
		return v.([]session.Snapshot), nil
	}
	v, err, _ := c.group.Do(keyAll, func() (any, error) {
		snaps, err := c.src.StatusAll(ctx)
		if err != nil {
			return nil, err
		}
		c.store.Set(keyAll, snaps, c.ttl)
		return snaps, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]session.Snapshot), nil
}

// One retorna el snapshot de una identidad bajo el mismo TTL.
func (c *StatusCache) One(ctx context.Context, id string) (session.Snapshot, error) {
	key := keyPrefix + id
	if v, ok := c.store.Get(key); ok {
		return v.(session.Snapshot), nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		snap, err := c.src.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		c.store.Set(key, snap, c.ttl)
		return snap, nil
	})
	if err != nil {
		return session.Snapshot{}, err
	}
	return v.(session.Snapshot), nil
}

// Invalidate tira el agregado y la entrada de la identidad que
// transicionó. Lo llama el Manager desde OnTransition, bajo el lock de la
// sesión: acá solo se borran claves, nunca se vuelve a entrar al Manager.
func (c *StatusCache) Invalidate(identityID string) {
	c.store.Delete(keyAll)
	if identityID != "" {
		c.store.Delete(keyPrefix + identityID)
	}
}

// Flush vacía el cache completo (unlock, operaciones masivas).
func (c *StatusCache) Flush() {
	c.store.Flush()
}
