// Package metrics provides Prometheus instrumentation for the item exchange.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradeTransitions counts trade offers by lifecycle transition
	// (created, accepted, rejected, cancelled) and outcome (ok, error).
	TradeTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_trade_transitions_total",
		Help: "Trade offer lifecycle transitions",
	}, []string{"transition", "outcome"})

	// SettlementLatency tracks how long an acceptance unit of work takes.
	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "exchange_settlement_latency_seconds",
		Help:    "Trade settlement latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// InventoryOps counts inventory mutations by operation and outcome.
	InventoryOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_inventory_ops_total",
		Help: "Inventory add/drop/lock/unlock operations",
	}, []string{"op", "outcome"})

	// CacheLookups counts read-through lookups by key family and result.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_cache_lookups_total",
		Help: "Cache-aside lookups by key family and result (hit, miss, error)",
	}, []string{"family", "result"})

	// NotificationsDropped counts pushes dropped because a buffer was full
	// or the transport failed.
	NotificationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_notifications_dropped_total",
		Help: "Notifications dropped by transport",
	}, []string{"transport"})

	// WebSocketClients tracks connected WebSocket sessions.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_websocket_clients",
		Help: "Number of connected WebSocket sessions",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exchange_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Outcome returns the outcome label for an error.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
