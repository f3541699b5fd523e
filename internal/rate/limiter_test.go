package rate

import (
	"context"
	"testing"
	"time"
)

func fixedClock(at time.Time) (func() time.Time, *time.Time) {
	now := at
	return func() time.Time { return now }, &now
}

func TestAllow_UpToMax(t *testing.T) {
	l := NewWindowLimiter(3, time.Minute)
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	clk, _ := fixedClock(base)
	l.now = clk

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		res, err := l.Allow(ctx, "1.2.3.4")
		if err != nil {
			t.Fatalf("Allow #%d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("hit %d: denegado antes de llegar al máximo", i)
		}
		if want := int64(3 - i); res.Remaining != want {
			t.Errorf("hit %d: Remaining = %d, want %d", i, res.Remaining, want)
		}
	}

	res, err := l.Allow(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("Allow #4: %v", err)
	}
	if res.Allowed {
		t.Fatal("hit 4: permitido por encima del máximo")
	}
	if res.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", res.Remaining)
	}
	if res.RetryAfter <= 0 || res.RetryAfter > time.Minute {
		t.Errorf("RetryAfter = %s, want dentro de la ventana", res.RetryAfter)
	}
	if res.CurrentHits != 4 {
		t.Errorf("CurrentHits = %d, want 4", res.CurrentHits)
	}
}

func TestAllow_PerKeyIsolation(t *testing.T) {
	l := NewWindowLimiter(1, time.Minute)
	clk, _ := fixedClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	l.now = clk

	ctx := context.Background()
	if res, _ := l.Allow(ctx, "a"); !res.Allowed {
		t.Fatal("primer hit de a denegado")
	}
	if res, _ := l.Allow(ctx, "a"); res.Allowed {
		t.Fatal("segundo hit de a permitido")
	}
	if res, _ := l.Allow(ctx, "b"); !res.Allowed {
		t.Fatal("el límite de a no debe afectar a b")
	}
}

func TestAllow_WindowReset(t *testing.T) {
	l := NewWindowLimiter(1, time.Minute)
	now := time.Date(2025, 3, 10, 12, 0, 10, 0, time.UTC)
	l.now = func() time.Time { return now }

	ctx := context.Background()
	if res, _ := l.Allow(ctx, "a"); !res.Allowed {
		t.Fatal("primer hit denegado")
	}
	if res, _ := l.Allow(ctx, "a"); res.Allowed {
		t.Fatal("segundo hit en la misma ventana permitido")
	}

	now = now.Add(time.Minute)
	res, err := l.Allow(ctx, "a")
	if err != nil {
		t.Fatalf("Allow tras reset: %v", err)
	}
	if !res.Allowed {
		t.Fatal("ventana nueva: el contador debería reiniciarse")
	}
	if res.CurrentHits != 1 {
		t.Errorf("CurrentHits = %d, want 1", res.CurrentHits)
	}
}

func TestPrune_DropsExpiredBuckets(t *testing.T) {
	l := NewWindowLimiter(5, time.Minute)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	ctx := context.Background()
	_, _ = l.Allow(ctx, "vieja")
	now = now.Add(2 * time.Minute)
	_, _ = l.Allow(ctx, "nueva")

	l.mu.Lock()
	l.prune(now.Truncate(time.Minute))
	if _, ok := l.buckets["vieja"]; ok {
		t.Error("bucket vencido sigue en el mapa")
	}
	if _, ok := l.buckets["nueva"]; !ok {
		t.Error("bucket vigente fue eliminado")
	}
	l.mu.Unlock()
}
