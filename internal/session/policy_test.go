package session

import (
	"testing"
	"time"
)

func TestLockoutDuration_EscalatesFromBase(t *testing.T) {
	p := DefaultPolicy() // umbral 3, base 30m, techo 24h

	cases := []struct {
		failures int
		want     time.Duration
	}{
		{0, 0},
		{1, 0},
		{2, 0},
		{3, 0},                 // en el umbral todavía no hay lockout
		{4, 30 * time.Minute},  // primer lockout arranca en la base
		{5, 60 * time.Minute},  // y duplica por cada fallo extra
		{6, 120 * time.Minute},
		{7, 240 * time.Minute},
		{9, 16 * time.Hour},
		{10, 24 * time.Hour}, // 32h se recorta al techo
		{50, 24 * time.Hour},
		{500, 24 * time.Hour}, // el loop no desborda con contadores absurdos
	}
	for _, tc := range cases {
		if got := p.LockoutDuration(tc.failures); got != tc.want {
			t.Errorf("LockoutDuration(%d) = %s, want %s", tc.failures, got, tc.want)
		}
	}
}

func TestLockoutDuration_CustomThreshold(t *testing.T) {
	p := Policy{MaxFailedLogins: 1, LockoutBase: time.Minute, LockoutMax: 3 * time.Minute}

	for _, tc := range []struct {
		failures int
		want     time.Duration
	}{
		{1, 0},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 3 * time.Minute}, // techo
	} {
		if got := p.LockoutDuration(tc.failures); got != tc.want {
			t.Errorf("LockoutDuration(%d) = %s, want %s", tc.failures, got, tc.want)
		}
	}
}

func TestReconnectDelay_Linear(t *testing.T) {
	p := Policy{ReconnectStep: 30 * time.Second}

	for _, tc := range []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{10, 300 * time.Second},
		{0, 30 * time.Second},  // intentos fuera de rango se tratan como el primero
		{-3, 30 * time.Second},
	} {
		if got := p.ReconnectDelay(tc.attempt); got != tc.want {
			t.Errorf("ReconnectDelay(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestDefaultPolicy_Values(t *testing.T) {
	p := DefaultPolicy()
	if p.MaxFailedLogins != 3 || p.LockoutBase != 30*time.Minute || p.LockoutMax != 24*time.Hour {
		t.Errorf("lockout defaults inesperados: %+v", p)
	}
	if p.MaxReconnectAttempts != 10 || p.ReconnectStep != 30*time.Second {
		t.Errorf("reconnect defaults inesperados: %+v", p)
	}
	if p.RateLimitCooldown != time.Hour {
		t.Errorf("RateLimitCooldown = %s, want 1h", p.RateLimitCooldown)
	}
}
