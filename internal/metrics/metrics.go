// Package metrics exposes Prometheus instrumentation for the cost engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storagecost"

// Cache names used as label values.
const (
	CachePricing     = "pricing"
	CacheAssumptions = "global_assumptions"
)

// Recorder groups the engine's collectors. A nil *Recorder is valid and records nothing.
type Recorder struct {
	cacheLookups   *prometheus.CounterVec
	catalogFetches *prometheus.CounterVec
	recalculations *prometheus.CounterVec
	confidence     *prometheus.HistogramVec
}

// NewRecorder creates the collectors and registers them on reg when reg is non-nil.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by cache and result (hit or miss).",
		}, []string{"cache", "result"}),
		catalogFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_fetches_total",
			Help:      "Retail catalog fetches by resource family and outcome.",
		}, []string{"family", "outcome"}),
		recalculations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "volume_recalculations_total",
			Help:      "Per-volume recalculations by outcome.",
		}, []string{"outcome"}),
		confidence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "estimate_confidence",
			Help:      "Confidence level of produced estimates.",
			Buckets:   []float64{10, 25, 50, 75, 90, 100},
		}, []string{"family"}),
	}
	if reg != nil {
		reg.MustRegister(r.cacheLookups, r.catalogFetches, r.recalculations, r.confidence)
	}
	return r
}

// CacheLookup counts a cache hit or miss.
func (r *Recorder) CacheLookup(cache string, hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(cache, result).Inc()
}

// CatalogFetch counts a catalog fetch attempt outcome.
func (r *Recorder) CatalogFetch(family string, ok bool) {
	if r == nil {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	r.catalogFetches.WithLabelValues(family, outcome).Inc()
}

// Recalculation counts one per-volume recalculation outcome.
func (r *Recorder) Recalculation(ok bool) {
	if r == nil {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	r.recalculations.WithLabelValues(outcome).Inc()
}

// EstimateConfidence observes the confidence of a finished estimate.
func (r *Recorder) EstimateConfidence(family string, confidence int) {
	if r == nil {
		return
	}
	r.confidence.WithLabelValues(family).Observe(float64(confidence))
}
