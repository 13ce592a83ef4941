package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// searchTrials counts generated mixtures by outcome
	searchTrials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formulary_search_trials_total",
		Help: "Optimizer trials by outcome (accepted, out_of_bounds, duplicate)",
	}, []string{"outcome"})

	searchFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "formulary_search_fallbacks_total",
		Help: "Optimizer runs that needed the deterministic fallback scan",
	})

	searchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "formulary_search_duration_seconds",
		Help:    "Search duration by operation",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"operation"})
)
