package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	eventDecisions  *prometheus.CounterVec
	postingsTotal   prometheus.Counter
	balanceSkips    prometheus.Counter
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roamly_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roamly_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roamly_payment_event_decisions_total",
		Help: "Finalize guard decisions by provider event type.",
	}, []string{"event_type", "decision"})
	postings := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roamly_ledger_postings_total",
		Help: "Ledger postings accepted.",
	})
	skips := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roamly_ledger_balance_skips_total",
		Help: "Balance cache updates skipped because the account could not be resolved.",
	})
	registry.MustRegister(requests, duration, decisions, postings, skips)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		eventDecisions:  decisions,
		postingsTotal:   postings,
		balanceSkips:    skips,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveEventDecision counts a finalize guard decision.
func (m *Metrics) ObserveEventDecision(eventType, decision string) {
	if m == nil {
		return
	}
	m.eventDecisions.WithLabelValues(eventType, decision).Inc()
}

// ObservePosting counts an accepted ledger posting.
func (m *Metrics) ObservePosting() {
	if m == nil {
		return
	}
	m.postingsTotal.Inc()
}

// ObserveBalanceSkip counts a skipped balance cache update.
func (m *Metrics) ObserveBalanceSkip() {
	if m == nil {
		return
	}
	m.balanceSkips.Inc()
}

// Registerer exposes the registry for registering custom metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
