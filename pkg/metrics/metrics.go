// Package metrics holds the Prometheus collectors of the debugger.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StepsTotal counts forward steps by how they were served.
	StepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chrono_steps_total",
		Help: "Forward steps by mode (live, replay)",
	}, []string{"mode"})

	// BackwardStepsTotal counts backward steps and jumps.
	BackwardStepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chrono_backward_steps_total",
		Help: "Backward steps and jumps to earlier versions",
	})

	// TruncationsTotal counts discarded futures.
	TruncationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chrono_truncations_total",
		Help: "Recorded futures discarded because execution diverged",
	})

	// DiscardedVersionsTotal counts versions dropped by truncation.
	DiscardedVersionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chrono_discarded_versions_total",
		Help: "Versions dropped by truncation",
	})

	// EngineErrorsTotal counts engine failures by operation.
	EngineErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chrono_engine_errors_total",
		Help: "Emulation engine failures by operation",
	}, []string{"op"})

	// StepDuration tracks live step latency, engine call included.
	StepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chrono_step_duration_seconds",
		Help:    "Live step duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
	})

	// SessionsOpen tracks live debugging sessions.
	SessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chrono_sessions_open",
		Help: "Debugging sessions currently open",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
