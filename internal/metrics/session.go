package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Session-related Prometheus metrics. Standalone package to avoid import
// cycles between session (core) and HTTP packages.

var (
	SessionsByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "idlejohn_sessions",
		Help: "Sesiones vivas por estado",
	}, []string{"status"})

	LoginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idlejohn_logins_total",
		Help: "Intentos de login por resultado (ok|invalid_credential|two_factor|rate_limited|transient|error)",
	}, []string{"outcome"})

	ReconnectsScheduled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idlejohn_reconnects_scheduled_total",
		Help: "Reconexiones programadas",
	})

	ReconnectsExhausted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idlejohn_reconnects_exhausted_total",
		Help: "Sesiones que agotaron el presupuesto de reconexión",
	})

	LockoutsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idlejohn_lockouts_total",
		Help: "Lockouts aplicados por causa (failed_logins|rate_limited)",
	}, []string{"cause"})

	ActivityWindows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idlejohn_activity_windows_total",
		Help: "Ventanas de actividad por operación (opened|closed)",
	}, []string{"op"})

	ResumeAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idlejohn_resume_attempts_total",
		Help: "Starts intentados por resume-after-restart",
	})

	StoreOpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "idlejohn_store_op_ms",
		Help:    "Latencia de operaciones de storage en milisegundos",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
	}, []string{"op"})
)

// RegisterSession registers the session metrics on the given registry
// (or default if nil).
func RegisterSession(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		SessionsByStatus,
		LoginsTotal,
		ReconnectsScheduled,
		ReconnectsExhausted,
		LockoutsTotal,
		ActivityWindows,
		ResumeAttempts,
		StoreOpDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
