// Package rate implementa rate limiting de ventana fija para los endpoints
// sensibles del control API (hoy: unlock). Al ser un proceso único de
// escritorio no hay estado compartido entre instancias, así que la ventana
// vive en memoria del proceso.
package rate

import (
	"context"
	"sync"
	"time"
)

type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	WindowTTL   time.Duration
	CurrentHits int64
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// WindowLimiter: fixed window sencillo (contador por clave + inicio de ventana).
type WindowLimiter struct {
	Max    int64
	Window time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	start time.Time
	count int64
}

func NewWindowLimiter(max int, window time.Duration) *WindowLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &WindowLimiter{
		Max:     int64(max),
		Window:  window,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *WindowLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := l.now().UTC()
	winStart := now.Truncate(l.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || b.start.Before(winStart) {
		b = &bucket{start: winStart}
		l.buckets[key] = b
	}
	b.count++

	if len(l.buckets) > 1024 {
		l.prune(winStart)
	}

	hits := b.count
	allowed := hits <= l.Max
	remaining := l.Max - hits
	if remaining < 0 {
		remaining = 0
	}

	ttl := b.start.Add(l.Window).Sub(now)
	if ttl < 0 {
		ttl = 0
	}

	res := Result{
		Allowed:     allowed,
		Remaining:   remaining,
		CurrentHits: hits,
		WindowTTL:   ttl,
	}
	if !allowed {
		// Retry after: resto de la ventana
		res.RetryAfter = ttl
	}
	return res, nil
}

// prune descarta ventanas ya vencidas. Se llama con el lock tomado.
func (l *WindowLimiter) prune(winStart time.Time) {
	for k, b := range l.buckets {
		if b.start.Before(winStart) {
			delete(l.buckets, k)
		}
	}
}
