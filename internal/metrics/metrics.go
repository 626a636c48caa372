package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ternarybob/transitwatch/internal/models"
)

const namespace = "transitwatch"

var (
	phaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "loop_phase_transitions_total",
		Help:      "Scrape loop phase transitions by phase.",
	}, []string{"phase"})

	resultsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "results_accepted_total",
		Help:      "Scrape results written to the cache, by whether the target line was found.",
	}, []string{"found"})

	resultsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "results_discarded_total",
		Help:      "Scrape results dropped by the hub, by reason.",
	}, []string{"reason"})

	scrapeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scrape_duration_seconds",
		Help:      "Time from interaction to parsed rows for accepted results.",
		Buckets:   []float64{0.5, 1, 2, 3, 5, 8, 13, 20, 30},
	})

	subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "subscribers",
		Help:      "Live update subscribers currently registered.",
	})

	subscribersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subscribers_dropped_total",
		Help:      "Subscribers dropped because their buffer was full.",
	})

	trackedTargets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "targets_tracked",
		Help:      "Targets in the active set.",
	})

	workerUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_up",
		Help:      "1 while the scrape worker channel is alive.",
	})
)

// ObservePhase counts a loop phase transition
func ObservePhase(phase models.Phase) {
	phaseTransitions.WithLabelValues(phase.String()).Inc()
}

// ObserveAccepted counts a cached result and records its duration
func ObserveAccepted(result models.ScrapeResult) {
	found := "false"
	if result.Found {
		found = "true"
	}
	resultsAccepted.WithLabelValues(found).Inc()
	if result.Metrics != nil && result.Metrics.TotalMs > 0 {
		scrapeDuration.Observe(float64(result.Metrics.TotalMs) / 1000)
	}
}

// ObserveDiscarded counts a result the hub refused
func ObserveDiscarded(reason string) {
	resultsDiscarded.WithLabelValues(reason).Inc()
}

// SetSubscribers records the current subscriber count
func SetSubscribers(n int) {
	subscribers.Set(float64(n))
}

// ObserveSubscriberDropped counts a slow subscriber being removed
func ObserveSubscriberDropped() {
	subscribersDropped.Inc()
}

// SetTargets records the current target count
func SetTargets(n int) {
	trackedTargets.Set(float64(n))
}

// SetWorkerUp records whether the worker channel is alive
func SetWorkerUp(up bool) {
	if up {
		workerUp.Set(1)
		return
	}
	workerUp.Set(0)
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
