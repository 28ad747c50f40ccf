// Package metrics holds the Prometheus collectors exported at /metrics.
//
// All methods are safe on a nil *Metrics, so components can be built
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/efreitasn/batchbroker/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "batchbroker"

// Metrics owns a private registry and the service's collectors.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	intentions       *prometheus.CounterVec
	outcomes         *prometheus.CounterVec
	batchRuns        *prometheus.CounterVec
	batchDuration    prometheus.Histogram
	quoteFailures    *prometheus.CounterVec
	lockContention   prometheus.Counter
	ordersLocked     prometheus.Gauge
	breakerState     *prometheus.GaugeVec
	streamClients    prometheus.Gauge
	notificationsOut *prometheus.CounterVec
}

// New creates the registry with Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: reg}

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by method, route and status.", "method", "route", "status")
	m.httpDuration = m.histogramVec("http_request_duration_seconds", "HTTP request latency.", "method", "route")
	m.intentions = m.counterVec("intentions_created_total", "Intentions accepted, by side and order type.", "side", "order_type")
	m.outcomes = m.counterVec("intention_outcomes_total", "Intentions reaching a terminal status.", "status")
	m.batchRuns = m.counterVec("batch_runs_total", "Batch trigger results.", "result")
	m.quoteFailures = m.counterVec("quote_failures_total", "Instruments without market data in a batch.", "symbol")
	m.notificationsOut = m.counterVec("notifications_total", "Notifications dispatched, by channel and event.", "channel", "event")
	m.breakerState = m.gaugeVec("circuit_breaker_state", "Circuit breaker state (0 closed, 1 half-open, 2 open).", "name")

	m.batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_duration_seconds",
		Help:      "Wall time of one batch execution.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	m.lockContention = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_lock_timeouts_total",
		Help:      "Account lock acquisitions that timed out.",
	})
	m.ordersLocked = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "orders_locked",
		Help:      "1 between the cancellation cutoff and batch completion.",
	})
	m.streamClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stream_clients",
		Help:      "Connected websocket stream clients.",
	})
	reg.MustRegister(m.batchDuration, m.lockContention, m.ordersLocked, m.streamClients)

	return m
}

func (m *Metrics) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	m.registry.MustRegister(cv)
	return cv
}

func (m *Metrics) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	m.registry.MustRegister(gv)
	return gv
}

func (m *Metrics) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: name, Help: help, Buckets: prometheus.DefBuckets,
	}, labels)
	m.registry.MustRegister(hv)
	return hv
}

// Handler exposes the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) IntentionCreated(side domain.Side, orderType domain.OrderType) {
	if m == nil {
		return
	}
	m.intentions.WithLabelValues(string(side), string(orderType)).Inc()
}

func (m *Metrics) IntentionFinished(status domain.IntentionStatus) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(status)).Inc()
}

// BatchExecuted records a completed batch and its per-symbol outages.
func (m *Metrics) BatchExecuted(report *domain.BatchReport) {
	if m == nil {
		return
	}
	m.batchRuns.WithLabelValues("executed").Inc()
	m.batchDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	for _, sym := range report.Unavailable {
		m.quoteFailures.WithLabelValues(sym).Inc()
	}
}

// BatchSkipped records a trigger that found its date already executed.
func (m *Metrics) BatchSkipped() {
	if m == nil {
		return
	}
	m.batchRuns.WithLabelValues("skipped").Inc()
}

func (m *Metrics) BatchFailed() {
	if m == nil {
		return
	}
	m.batchRuns.WithLabelValues("failed").Inc()
}

func (m *Metrics) LockTimeout() {
	if m == nil {
		return
	}
	m.lockContention.Inc()
}

func (m *Metrics) SetOrdersLocked(locked bool) {
	if m == nil {
		return
	}
	if locked {
		m.ordersLocked.Set(1)
		return
	}
	m.ordersLocked.Set(0)
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) StreamClients(delta int) {
	if m == nil {
		return
	}
	m.streamClients.Add(float64(delta))
}

func (m *Metrics) NotificationSent(channel, event string) {
	if m == nil {
		return
	}
	m.notificationsOut.WithLabelValues(channel, event).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
