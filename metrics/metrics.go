// Package metrics exposes Prometheus collectors for the ledger and the HTTP
// API. Each Metrics value owns its registry so tests can build as many as
// they like.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/family-ledger/audit"
	"github.com/warp/family-ledger/ledger"
)

const namespace = "family_ledger"

type Metrics struct {
	registry *prometheus.Registry

	mutations  *prometheus.CounterVec
	amount     *prometheus.CounterVec
	rejections *prometheus.CounterVec

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	drifted      prometheus.Gauge
	auditFailure prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Ledger transactions committed, partitioned by operation and transaction type.",
		}, []string{"operation", "type"}),
		amount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_amount_total",
			Help:      "Absolute value of committed transaction amounts, partitioned by transaction type.",
		}, []string{"type"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Rolled back store transactions, partitioned by operation and error kind.",
		}, []string{"operation", "kind"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests processed, partitioned by status code, method and route.",
		}, []string{"code", "method", "route"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		drifted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drifted_accounts",
			Help:      "Children whose balance disagreed with their ledger at the last audit.",
		}),
		auditFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_failures_total",
			Help:      "Ledger audit passes that could not read the store.",
		}),
	}
	m.registry.MustRegister(
		m.mutations, m.amount, m.rejections,
		m.requests, m.requestDuration,
		m.drifted, m.auditFailure,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry is exposed for tests and for callers adding their own collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// =============================================================================
// ledger.Observer
// =============================================================================

func (m *Metrics) Committed(operation string, txs []ledger.Transaction) {
	for _, t := range txs {
		m.mutations.WithLabelValues(operation, string(t.Type)).Inc()
		m.amount.WithLabelValues(string(t.Type)).Add(t.Amount.Abs().InexactFloat64())
	}
}

func (m *Metrics) Rejected(operation string, kind ledger.Kind) {
	m.rejections.WithLabelValues(operation, string(kind)).Inc()
}

var _ ledger.Observer = (*Metrics)(nil)

// ObserveAudit keeps the last successful drift count; a failed pass leaves
// the gauge alone.
func (m *Metrics) ObserveAudit(drifted int, err error) {
	if err != nil {
		m.auditFailure.Inc()
		return
	}
	m.drifted.Set(float64(drifted))
}

var _ audit.Reporter = (*Metrics)(nil)

// =============================================================================
// HTTP
// =============================================================================

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latencies labelled with the chi
// route pattern, so /children/{childID} is one series, not one per id.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(strconv.Itoa(status), r.Method, route).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
