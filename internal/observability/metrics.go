package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments exported by the runtime.
type Metrics struct {
	registry *prometheus.Registry

	// DispatchTotal counts dispatched frames by kind and outcome.
	DispatchTotal *prometheus.CounterVec
	// RateLimited counts frames rejected by per-connection rate limits,
	// by endpoint ("agent" or "player").
	RateLimited *prometheus.CounterVec
	// ConnectedPlayers tracks the number of authenticated player connections.
	ConnectedPlayers prometheus.Gauge
	// ConsoleReconnects counts remote-console reconnect attempts.
	ConsoleReconnects prometheus.Counter
	// ConsoleCommands counts remote-console command executions by outcome.
	ConsoleCommands *prometheus.CounterVec
}

// NewMetrics creates and registers all instruments on a fresh registry.
//
// Postcondition: Returns a Metrics with every instrument registered.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gamekeeper_dispatch_total",
			Help: "Dispatched frames by kind (command, event, socket) and outcome.",
		}, []string{"kind", "outcome"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gamekeeper_rate_limited_total",
			Help: "Frames rejected by per-connection rate limiting.",
		}, []string{"endpoint"}),
		ConnectedPlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gamekeeper_connected_players",
			Help: "Number of authenticated player connections.",
		}),
		ConsoleReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gamekeeper_console_reconnects_total",
			Help: "Remote-console reconnect attempts.",
		}),
		ConsoleCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gamekeeper_console_commands_total",
			Help: "Remote-console command executions by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.DispatchTotal,
		m.RateLimited,
		m.ConnectedPlayers,
		m.ConsoleReconnects,
		m.ConsoleCommands,
	)
	return m
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
