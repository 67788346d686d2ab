package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	// Write path
	PaymentEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_events_total",
			Help: "Gateway payment events by outcome",
		},
		[]string{"outcome"}, // applied|duplicate|stale|rejected
	)
	AuthorityViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authority_violations_total",
			Help: "Transitions denied or warned by the authority registry",
		},
		[]string{"entity", "subsystem"},
	)

	// Reconciliation
	ReconRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_runs_total",
			Help: "Reconciliation runs by trigger",
		},
		[]string{"trigger"}, // scheduler|admin
	)
	ReconItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_items_total",
			Help: "Reconciliation items by category",
		},
		[]string{"category"},
	)
	GatewayLookupSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_lookup_seconds",
			Help:    "Latency of gateway transaction-status lookups",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Worker queue
	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current worker queue depth",
		},
	)

	StuckEntities = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stuck_entities",
			Help: "Entities flagged by the last stuck-state sweep",
		},
		[]string{"entity", "state"},
	)
)

// handler for the /metrics endpoint
var Handler = promhttp.Handler

func Init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(PaymentEventsTotal)
	prometheus.MustRegister(AuthorityViolations)
	prometheus.MustRegister(ReconRunsTotal)
	prometheus.MustRegister(ReconItemsTotal)
	prometheus.MustRegister(GatewayLookupSeconds)
	prometheus.MustRegister(WorkerQueueDepth)
	prometheus.MustRegister(StuckEntities)
}
