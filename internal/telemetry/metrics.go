// Package telemetry exposes prometheus instrumentation for the session core.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors the session core reports into. A Metrics built
// from a fresh registry is valid for tests.
type Metrics struct {
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec // cause: stopped|expired|replaced
	ActiveSessions  prometheus.Gauge
	Rotations       prometheus.Counter
	Verifications   *prometheus.CounterVec // result plus rejection reason
}

// New registers the rollcall collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_sessions_started_total",
			Help: "Number of attendance sessions opened.",
		}),
		SessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_sessions_ended_total",
			Help: "Number of attendance sessions torn down, by cause.",
		}, []string{"cause"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rollcall_active_sessions",
			Help: "Number of currently open attendance sessions.",
		}),
		Rotations: factory.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_token_rotations_total",
			Help: "Number of credential token rotations.",
		}),
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_verifications_total",
			Help: "Number of scan verifications, by result and rejection reason.",
		}, []string{"result", "reason"}),
	}
}
