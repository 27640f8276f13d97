package commons

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BackendConstructions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claritylab_backend_constructions_total",
		Help: "Number of successful classifier backend constructions.",
	}, []string{"backend"})

	Verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claritylab_verdicts_total",
		Help: "Classification requests by input kind and outcome.",
	}, []string{"input", "outcome"})

	ClassifyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "claritylab_classify_duration_seconds",
		Help:    "Time spent producing a verdict.",
		Buckets: prometheus.DefBuckets,
	}, []string{"input"})
)
