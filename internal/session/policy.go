package session

import (
	"time"

	"github.com/dropDatabas3/idlejohn/internal/config"
)

// Policy reúne los parámetros de lockout y reconexión. Los valores salen
// de la config; DefaultPolicy es el fallback de tests y herramientas.
type Policy struct {
	// MaxFailedLogins es el umbral de fallos tolerados antes del primer
	// lockout.
	MaxFailedLogins int

	// LockoutBase es la duración del primer lockout; se duplica por cada
	// fallo adicional hasta LockoutMax.
	LockoutBase time.Duration
	LockoutMax  time.Duration

	// RateLimitCooldown es el lockout fijo ante throttling del remoto,
	// independiente del contador de fallos.
	RateLimitCooldown time.Duration

	// MaxReconnectAttempts acota los reintentos automáticos de una sesión.
	MaxReconnectAttempts int

	// ReconnectStep es el paso del delay lineal (intento × step).
	ReconnectStep time.Duration

	// ResumeSettleDelay es la espera previa al resume post-arranque.
	ResumeSettleDelay time.Duration

	// BulkConcurrency acota el fan-out de las operaciones masivas.
	BulkConcurrency int
}

func DefaultPolicy() Policy {
	return Policy{
		MaxFailedLogins:      3,
		LockoutBase:          30 * time.Minute,
		LockoutMax:           24 * time.Hour,
		RateLimitCooldown:    time.Hour,
		MaxReconnectAttempts: 10,
		ReconnectStep:        30 * time.Second,
		ResumeSettleDelay:    10 * time.Second,
		BulkConcurrency:      4,
	}
}

// PolicyFromConfig arma la política desde una config ya validada.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		MaxFailedLogins:      cfg.Session.MaxFailedLogins,
		LockoutBase:          config.Dur(cfg.Session.LockoutBase),
		LockoutMax:           config.Dur(cfg.Session.LockoutMax),
		RateLimitCooldown:    config.Dur(cfg.Session.RateLimitCooldown),
		MaxReconnectAttempts: cfg.Session.MaxReconnectAttempts,
		ReconnectStep:        config.Dur(cfg.Session.ReconnectStep),
		ResumeSettleDelay:    config.Dur(cfg.Session.ResumeSettleDelay),
		BulkConcurrency:      cfg.Session.BulkConcurrency,
	}
}

// LockoutDuration calcula la duración del lockout para un contador de
// fallos dado: 0 mientras el contador no supere el umbral; a partir de
// ahí la base se duplica por cada fallo extra, con tope en LockoutMax.
// Con los defaults, los fallos 4, 5 y 6 producen 30, 60 y 120 minutos.
func (p Policy) LockoutDuration(failedLogins int) time.Duration {
	if failedLogins <= p.MaxFailedLogins {
		return 0
	}
	d := p.LockoutBase
	for i := p.MaxFailedLogins + 1; i < failedLogins; i++ {
		d *= 2
		if d >= p.LockoutMax {
			return p.LockoutMax
		}
	}
	if d > p.LockoutMax {
		return p.LockoutMax
	}
	return d
}

// ReconnectDelay retorna el delay del intento n (1-based): n × step.
func (p Policy) ReconnectDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * p.ReconnectStep
}
