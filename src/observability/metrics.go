// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "dashboard_sync"

// Metrics holds all Prometheus metrics for the application. It satisfies the
// recorder interfaces of the state store, the poll scheduler, the symbol
// registry and the stream client.
type Metrics struct {
	registry *prometheus.Registry

	// Scheduler metrics
	Refreshes             *prometheus.CounterVec
	RefreshesCoalesced    prometheus.Counter
	RefreshesSkipped      *prometheus.CounterVec
	LastSuccessfulRefresh prometheus.Gauge

	// State metrics
	EventsPublished  *prometheus.CounterVec
	EventsSuppressed *prometheus.CounterVec

	// Stream metrics
	StreamMessages *prometheus.CounterVec

	// Command metrics
	Commands *prometheus.CounterVec

	// Hub metrics
	DashboardClients prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "refreshes_total",
			Help:      "Total number of executed refreshes by result",
		}, []string{"result"}),
		RefreshesCoalesced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "refreshes_coalesced_total",
			Help:      "Total number of refresh requests joined to an in-flight refresh",
		}),
		RefreshesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "refreshes_skipped_total",
			Help:      "Total number of refreshes skipped by reason",
		}, []string{"reason"}),
		LastSuccessfulRefresh: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "last_successful_refresh_timestamp",
			Help:      "Unix timestamp of last successful refresh",
		}),

		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "events_published_total",
			Help:      "Total number of published state change events by kind",
		}, []string{"kind"}),
		EventsSuppressed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "events_suppressed_total",
			Help:      "Total number of updates discarded as unchanged by kind",
		}, []string{"kind"}),

		StreamMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_total",
			Help:      "Total number of push stream messages by type",
		}, []string{"type"}),

		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "commands_total",
			Help:      "Total number of strategy commands by command and result",
		}, []string{"command", "result"}),

		DashboardClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "clients",
			Help:      "Number of connected dashboard websocket clients",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// -----------------------------------------------------------------------------
// Recorders
// -----------------------------------------------------------------------------

// RefreshResult records an executed refresh.
func (m *Metrics) RefreshResult(result string) {
	m.Refreshes.WithLabelValues(result).Inc()
	if result == "success" {
		m.LastSuccessfulRefresh.Set(float64(time.Now().Unix()))
	}
}

func (m *Metrics) RefreshCoalesced() {
	m.RefreshesCoalesced.Inc()
}

func (m *Metrics) RefreshSkipped(reason string) {
	m.RefreshesSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Published(kind string) {
	m.EventsPublished.WithLabelValues(kind).Inc()
}

func (m *Metrics) Suppressed(kind string) {
	m.EventsSuppressed.WithLabelValues(kind).Inc()
}

func (m *Metrics) StreamMessage(kind string) {
	m.StreamMessages.WithLabelValues(kind).Inc()
}

func (m *Metrics) CommandResult(command, result string) {
	m.Commands.WithLabelValues(command, result).Inc()
}

// ClientsConnected sets the dashboard client gauge.
func (m *Metrics) ClientsConnected(n int) {
	m.DashboardClients.Set(float64(n))
}
