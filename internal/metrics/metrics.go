// Package metrics exposes Prometheus collectors for the extraction pipeline.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docfields/pkg/models"
)

var (
	engineAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docfields_engine_attempts_total",
		Help: "OCR engine invocations by engine and outcome.",
	}, []string{"engine", "outcome"})

	engineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docfields_engine_attempt_duration_seconds",
		Help:    "Duration of OCR engine invocations.",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
	}, []string{"engine"})

	extractions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docfields_extractions_total",
		Help: "Completed extractions by source and degraded flag.",
	}, []string{"source", "degraded"})

	extractionConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docfields_extraction_confidence",
		Help:    "Final confidence score of completed extractions.",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	})

	normalizeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docfields_normalize_failures_total",
		Help: "Documents rejected before recognition, by reason.",
	}, []string{"reason"})
)

// ObserveAttempt records one engine attempt.
func ObserveAttempt(a models.EngineAttempt) {
	engineAttempts.WithLabelValues(a.Engine, string(a.Outcome)).Inc()
	engineDuration.WithLabelValues(a.Engine).Observe(a.Duration.Seconds())
}

// ObserveExtraction records a finished extraction.
func ObserveExtraction(r *models.ExtractionResult) {
	extractions.WithLabelValues(string(r.Source), strconv.FormatBool(r.Degraded)).Inc()
	extractionConfidence.Observe(float64(r.Confidence))
}

// ObserveNormalizeFailure records a rejected document.
func ObserveNormalizeFailure(reason string) {
	normalizeFailures.WithLabelValues(reason).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
