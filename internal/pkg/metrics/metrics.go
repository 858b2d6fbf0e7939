package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "complygate_request_transitions_total",
		Help: "Request lifecycle transitions by action and outcome",
	}, []string{"action", "outcome"})

	AuditEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "complygate_audit_entries_total",
		Help: "Audit log entries recorded by action",
	}, []string{"action"})

	CategoryOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "complygate_category_outcomes_total",
		Help: "Per-category export/deletion outcomes",
	}, []string{"kind", "outcome"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "complygate_job_duration_seconds",
		Help:    "Export/deletion run duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "complygate_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
