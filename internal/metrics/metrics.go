package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Scan pipeline Prometheus metrics.
var (
	ScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardscan",
			Name:      "scans_total",
			Help:      "Total number of scans by outcome",
		},
		[]string{"outcome"}, // "assembled" / "ocr_only" / "failed"
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cardscan",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	ExtractionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardscan",
			Name:      "extraction_requests_total",
			Help:      "Total number of extraction backend requests",
		},
		[]string{"backend", "status"}, // "ok" / "network" / "server" / "parse" / "validation" / "cancelled"
	)

	GeometryStrategyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardscan",
			Name:      "geometry_strategy_total",
			Help:      "Geometry correction strategy used per capture",
		},
		[]string{"strategy"},
	)
)

var registerOnce sync.Once

// Register registers the scan metrics with the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ScansTotal)
		prometheus.MustRegister(StageDuration)
		prometheus.MustRegister(ExtractionRequestsTotal)
		prometheus.MustRegister(GeometryStrategyTotal)
		prometheus.MustRegister(httpRequestDuration)
		prometheus.MustRegister(httpRequestsTotal)
	})
}
