package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels analyses that produced a result.
	OutcomeSuccess = "success"
	// OutcomeInsufficient labels analyses rejected for lack of data.
	OutcomeInsufficient = "insufficient_data"
	// OutcomeError labels analyses that failed for any other reason.
	OutcomeError = "error"

	// SourceNone labels analyses that ended without a result.
	SourceNone = "none"
)

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nestling",
			Name:      "analyses_total",
			Help:      "Total number of analyses handled, partitioned by insight, result source and outcome.",
		},
		[]string{"insight", "source", "outcome"},
	)

	cloudFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nestling",
			Name:      "cloud_fallbacks_total",
			Help:      "Cloud attempts that degraded to local analysis, partitioned by failure reason.",
		},
		[]string{"insight", "reason"},
	)

	analysisDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nestling",
			Name:      "analysis_seconds",
			Help:      "Analysis latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"insight"},
	)
)

// Register attaches the nestling collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysesTotal,
		cloudFallbacksTotal,
		analysisDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnalysis records an analysis duration with its source and outcome.
func ObserveAnalysis(insight, source, outcome string, duration time.Duration) {
	switch outcome {
	case OutcomeSuccess, OutcomeInsufficient:
	default:
		outcome = OutcomeError
	}
	if source == "" {
		source = SourceNone
	}
	analysesTotal.WithLabelValues(insight, source, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.WithLabelValues(insight).Observe(duration.Seconds())
}

// ObserveCloudFallback counts a cloud failure absorbed by local analysis.
func ObserveCloudFallback(insight, reason string) {
	cloudFallbacksTotal.WithLabelValues(insight, reason).Inc()
}
