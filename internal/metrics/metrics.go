// Package metrics defines Prometheus metrics for reqtrail.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reqtrail_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reqtrail_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ChangesRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reqtrail_changes_recorded_total",
			Help: "Change records created or merged, by change type",
		},
		[]string{"change_type"},
	)

	RecordFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reqtrail_record_failures_total",
			Help: "Audit recording failures that were logged and swallowed",
		},
		[]string{"stage"},
	)

	RequestsLogged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reqtrail_requests_logged_total",
			Help: "Request records written at finalization",
		},
	)

	SweepDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reqtrail_sweep_deleted_total",
			Help: "Rows deleted by the retention sweeper, by table",
		},
		[]string{"table"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestDuration, RequestsTotal,
		ChangesRecorded, RecordFailures, RequestsLogged,
		SweepDeleted,
	)
}
