package user

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	validationStatus *prometheus.CounterVec
	jobsTotal        *prometheus.CounterVec
	recordsTotal     *prometheus.CounterVec
	applyLatency     *prometheus.HistogramVec
	rollbacksTotal   *prometheus.CounterVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		validationStatus: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulk_import",
			Name:      "validated_records_total",
			Help:      "Total number of validated candidate records by status.",
		}, []string{"status"}),
		jobsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulk_import",
			Name:      "jobs_total",
			Help:      "Total number of import jobs by terminal status.",
		}, []string{"status"}),
		recordsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulk_import",
			Name:      "records_total",
			Help:      "Total number of records processed by import jobs.",
		}, []string{"result"}),
		applyLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bulk_import",
			Name:      "apply_latency_seconds",
			Help:      "Latency distribution for record store apply calls.",
			Buckets: []float64{
				0.001, 0.002, 0.005,
				0.01, 0.02, 0.05,
				0.1, 0.2, 0.5,
				1, 2, 5,
			},
		}, []string{"result"}),
		rollbacksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulk_import",
			Name:      "rollbacks_total",
			Help:      "Total number of rollback attempts by result.",
		}, []string{"result"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
