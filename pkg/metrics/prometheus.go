package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// simulationSteps counts completed swarm steps.
	simulationSteps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gridswarm",
		Subsystem: "swarm",
		Name:      "steps_total",
		Help:      "Total simulation steps executed",
	})

	// activationRate is the fraction of active agents after the last step.
	activationRate = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gridswarm",
		Subsystem: "swarm",
		Name:      "activation_rate",
		Help:      "Fraction of agents active after the last step",
	})

	// deltaNorm is the Frobenius norm of the influence matrix.
	deltaNorm = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gridswarm",
		Subsystem: "grid",
		Name:      "delta_norm",
		Help:      "Frobenius norm of the rank-space influence matrix",
	})

	// botRequests counts chat calls by provider and status.
	// Labels: provider, status (success, error)
	botRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridswarm",
		Subsystem: "bot",
		Name:      "requests_total",
		Help:      "Total chat requests made by bots",
	}, []string{"provider", "status"})

	// botLatency measures chat call latency.
	// Labels: provider
	botLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gridswarm",
		Subsystem: "bot",
		Name:      "latency_seconds",
		Help:      "Chat request latency in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"provider"})

	// fleetBots is the number of bots currently held by the fleet.
	fleetBots = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gridswarm",
		Subsystem: "fleet",
		Name:      "bots",
		Help:      "Bots currently running in the fleet",
	})

	// gateResults counts gate verdicts.
	// Labels: gate, passed (true, false)
	gateResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridswarm",
		Subsystem: "gate",
		Name:      "results_total",
		Help:      "Validation gate verdicts",
	}, []string{"gate", "passed"})

	// diagnosticLevel is the last reading of a host check: 0 ok, 1 warning, 2 error.
	// Labels: check
	diagnosticLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gridswarm",
		Subsystem: "diagnostics",
		Name:      "level",
		Help:      "Severity of the last host diagnostic check",
	}, []string{"check"})
)

// ObserveStep records the outcome of one simulation step.
func ObserveStep(activation, norm float64) {
	simulationSteps.Inc()
	activationRate.Set(activation)
	deltaNorm.Set(norm)
}

// ObserveBotRequest records one chat call.
func ObserveBotRequest(provider string, success bool, latency time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}

	botRequests.WithLabelValues(provider, status).Inc()
	botLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// SetFleetSize records how many bots the fleet holds.
func SetFleetSize(n int) {
	fleetBots.Set(float64(n))
}

// ObserveGate records one gate verdict.
func ObserveGate(gate string, passed bool) {
	label := "false"
	if passed {
		label = "true"
	}
	gateResults.WithLabelValues(gate, label).Inc()
}

// SetDiagnosticLevel records the severity of the last run of check.
func SetDiagnosticLevel(check string, level int) {
	diagnosticLevel.WithLabelValues(check).Set(float64(level))
}

// Handler exposes the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
