package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BusPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pricegov_bus_published_total", Help: "Events delivered to subscribers"},
		[]string{"topic"},
	)
	BusDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pricegov_bus_dropped_total", Help: "Events dropped before delivery"},
		[]string{"topic", "reason"},
	)
	BusHandlerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pricegov_bus_handler_failures_total", Help: "Subscriber errors and panics"},
		[]string{"topic"},
	)
	TicksIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pricegov_ticks_ingested_total", Help: "Market ticks persisted"},
		[]string{"source"},
	)
	IngestionJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pricegov_ingestion_jobs_total", Help: "Ingestion jobs by terminal status"},
		[]string{"status"},
	)
	Proposals = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pricegov_proposals_total", Help: "Price proposals published"},
		[]string{"algorithm"},
	)
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pricegov_decisions_total", Help: "Governance decisions by status"},
		[]string{"status"},
	)
	ApplySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "pricegov_apply_seconds", Help: "Latency of the ledger apply transaction", Buckets: prometheus.DefBuckets},
	)
	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "pricegov_worker_queue_depth", Help: "Tasks waiting in the worker pool"},
	)
)

func init() {
	prometheus.MustRegister(
		BusPublished,
		BusDropped,
		BusHandlerFailures,
		TicksIngested,
		IngestionJobs,
		Proposals,
		Decisions,
		ApplySeconds,
		WorkerQueueDepth,
	)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
