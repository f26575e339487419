package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total emails sent",
		},
	)

	EmailFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_failures_total",
			Help: "Total failed emails",
		},
	)

	IngestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ingest_requests_total", Help: "Ingest batches by outcome"},
		[]string{"outcome"},
	)
	IngestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "ingest_duration_seconds", Help: "Ingest batch processing time"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "HTTP requests by route and status"},
		[]string{"route", "status"},
	)

	SchedulerClaimed = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "scheduler_claim_batch_size", Help: "Rows claimed per scheduler tick"},
	)

	PostProcessorFlushSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "post_processor_flush_size", Help: "Outcomes per post-processor flush"},
	)
	PostProcessorFlushFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "post_processor_flush_failures_total", Help: "Failed flush attempts"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "gateway_circuit_breaker_state", Help: "0=closed 1=half-open 2=open"},
		[]string{"name"},
	)
)

// Init registers every metric with the default Prometheus registry. Called
// once at process startup.
func Init() {
	prometheus.MustRegister(
		EmailsSent,
		EmailFailures,
		IngestTotal,
		IngestDuration,
		HTTPRequests,
		SchedulerClaimed,
		PostProcessorFlushSize,
		PostProcessorFlushFailures,
		CircuitBreakerState,
	)
}
