package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	tunnelStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drill",
			Subsystem: "tunnel",
			Name:      "starts_total",
			Help:      "Number of successful tunnel starts.",
		}, []string{"name"},
	)
	tunnelStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drill",
			Subsystem: "tunnel",
			Name:      "stops_total",
			Help:      "Number of explicit tunnel stops.",
		}, []string{"name"},
	)
	tunnelErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drill",
			Subsystem: "tunnel",
			Name:      "errors_total",
			Help:      "Number of tunnel failures (start failures and crashes).",
		}, []string{"name"},
	)
	activeTunnels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "drill",
			Subsystem: "tunnel",
			Name:      "active",
			Help:      "Current number of active tunnel subprocesses.",
		},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drill",
			Subsystem: "tunnel",
			Name:      "state_transitions_total",
			Help:      "Number of status transitions per tunnel and target state.",
		}, []string{"name", "to"},
	)
	diagnosticMatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drill",
			Subsystem: "tunnel",
			Name:      "diagnostic_matches_total",
			Help:      "Known failure patterns observed on ssh stderr.",
		}, []string{"name", "class"},
	)
	probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drill",
			Subsystem: "probe",
			Name:      "tests_total",
			Help:      "Connectivity probes by outcome.",
		}, []string{"outcome"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{tunnelStarts, tunnelStops, tunnelErrors, activeTunnels, stateTransitions, diagnosticMatches, probes}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(name string) {
	if regOK.Load() {
		tunnelStarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		tunnelStops.WithLabelValues(name).Inc()
	}
}

func IncError(name string) {
	if regOK.Load() {
		tunnelErrors.WithLabelValues(name).Inc()
	}
}

func SetActive(n int) {
	if regOK.Load() {
		activeTunnels.Set(float64(n))
	}
}

func IncTransition(name, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, to).Inc()
	}
}

func IncDiagnostic(name, class string) {
	if regOK.Load() {
		diagnosticMatches.WithLabelValues(name, class).Inc()
	}
}

func IncProbe(outcome string) {
	if regOK.Load() {
		probes.WithLabelValues(outcome).Inc()
	}
}
