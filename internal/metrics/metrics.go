// Package metrics exposes Prometheus metrics for the HTTP API, the planner
// and the presence channel. A nil *Metrics records nothing.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	operations       *prometheus.CounterVec
	wsConnections    prometheus.Gauge
	wsMessages       *prometheus.CounterVec
	wsDropped        prometheus.Counter
	rosterMembers    prometheus.Gauge
	sideEffectErrors *prometheus.CounterVec

	registry *prometheus.Registry
}

func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itinera_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "itinera_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"route", "method"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itinera_planner_operations_total",
			Help: "Planner operations by name and outcome kind",
		}, []string{"operation", "outcome"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "itinera_ws_connections",
			Help: "Open websocket connections on this instance",
		}),
		wsMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itinera_ws_messages_total",
			Help: "Websocket messages by direction and event type",
		}, []string{"direction", "type"}),
		wsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "itinera_ws_dropped_sessions_total",
			Help: "Sessions closed because their outbound queue was full",
		}),
		rosterMembers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "itinera_presence_sessions",
			Help: "Sessions joined to a template on this instance",
		}),
		sideEffectErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itinera_side_effect_errors_total",
			Help: "Swallowed failures of best-effort side effects",
		}, []string{"effect"}),
	}

	collectors := []prometheus.Collector{
		m.httpRequests, m.httpDuration, m.operations, m.wsConnections,
		m.wsMessages, m.wsDropped, m.rosterMembers, m.sideEffectErrors,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

func (m *Metrics) Operation(name, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.wsConnections.Dec()
}

func (m *Metrics) Message(direction, eventType string) {
	if m == nil {
		return
	}
	m.wsMessages.WithLabelValues(direction, eventType).Inc()
}

func (m *Metrics) SessionDropped() {
	if m == nil {
		return
	}
	m.wsDropped.Inc()
}

func (m *Metrics) RosterJoined() {
	if m == nil {
		return
	}
	m.rosterMembers.Inc()
}

func (m *Metrics) RosterLeft() {
	if m == nil {
		return
	}
	m.rosterMembers.Dec()
}

func (m *Metrics) SideEffectFailed(effect string) {
	if m == nil {
		return
	}
	m.sideEffectErrors.WithLabelValues(effect).Inc()
}
