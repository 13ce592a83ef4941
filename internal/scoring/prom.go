package scoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	evaluations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "formulary_mixture_evaluations_total",
		Help: "Mixtures evaluated through the engine",
	})

	// defaultModels counts synthesis attempts by whether this process wrote the row
	defaultModels = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formulary_default_models_total",
		Help: "Default metric model synthesis attempts by result",
	}, []string{"result"})

	expressionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formulary_expression_failures_total",
		Help: "Metric model expressions that failed and contributed 0, by metric and stage",
	}, []string{"metric", "stage"})

	modelLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "formulary_model_load_duration_seconds",
		Help:    "Time to load the model table for one request",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
)
