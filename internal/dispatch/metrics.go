package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for run outcome.
const (
	outcomeCompleted = "completed"
	outcomeDegraded  = "degraded"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_runs_total",
			Help: "Total number of dispatch runs, by outcome.",
		},
		[]string{"outcome"},
	)

	runsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "faultline_runs_in_flight",
			Help: "Number of dispatch runs currently executing.",
		},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "faultline_run_duration_seconds",
			Help:    "Wall-clock duration of a full dispatch run, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	attemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "faultline_functor_attempts_total",
			Help: "Total number of functor execution attempts, including remapped retries.",
		},
	)

	remapsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "faultline_remaps_total",
			Help: "Total number of failed functors reassigned to an idle device.",
		},
	)

	donationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "faultline_idle_donations_total",
			Help: "Total number of devices that finished successfully and entered the idle pool.",
		},
	)

	permanentFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "faultline_permanent_failures_total",
			Help: "Total number of functors left permanently failed after the idle pool was exhausted.",
		},
	)

	auxAbandonedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "faultline_aux_abandoned_total",
			Help: "Total number of auxiliary tasks still running when the main barrier completed.",
		},
	)
)

func init() {
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(runsInFlight)
	prometheus.MustRegister(runDuration)
	prometheus.MustRegister(attemptsTotal)
	prometheus.MustRegister(remapsTotal)
	prometheus.MustRegister(donationsTotal)
	prometheus.MustRegister(permanentFailuresTotal)
	prometheus.MustRegister(auxAbandonedTotal)

	// Pre-initialize outcome labels so both series appear in /metrics from startup.
	runsTotal.WithLabelValues(outcomeCompleted)
	runsTotal.WithLabelValues(outcomeDegraded)
}
