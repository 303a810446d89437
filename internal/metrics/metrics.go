// Package metrics exposes reactord's Prometheus counters and gauges.
// The metric set follows a promauto counter/gauge-vector-per-concern
// style, generalized from buffer-pool hit/miss counting to the
// reactor's connection and request lifecycle.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every counter/gauge the reactor updates.
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	ConnectionsDropped  *prometheus.CounterVec
	Requests            *prometheus.CounterVec
	WorkerQueueDepth    prometheus.Gauge
	TimerHeapSize       prometheus.Gauge
}

// New registers and returns a fresh metric set against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the global
// default registry across test runs.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "reactord",
			Subsystem: "connections",
			Name:      "accepted_total",
			Help:      "Total number of connections accepted by the reactor.",
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "reactord",
			Subsystem: "connections",
			Name:      "active",
			Help:      "Number of connections currently tracked by the reactor.",
		}),
		ConnectionsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reactord",
			Subsystem: "connections",
			Name:      "dropped_total",
			Help:      "Total number of connections dropped, by reason.",
		}, []string{"reason"}),
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reactord",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests served, by response status.",
		}, []string{"status"}),
		WorkerQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "reactord",
			Subsystem: "worker",
			Name:      "queue_depth",
			Help:      "Number of connection references currently queued for a worker.",
		}),
		TimerHeapSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "reactord",
			Subsystem: "timer",
			Name:      "heap_size",
			Help:      "Number of entries in the idle-connection timer heap, including cancelled entries not yet collected.",
		}),
	}
}

// Reasons for ConnectionsDropped, named per the error kinds in
// spec.md §7.
const (
	ReasonTimeout        = "timeout"
	ReasonPeerClosed     = "peer_closed"
	ReasonTransportError = "transport_error"
	ReasonParseError     = "parse_error"
	ReasonShutdown       = "shutdown"
)

// Server serves /metrics on addr using an ordinary net/http listener.
// It runs outside the reactor's epoll loop entirely, per spec.md §4.8 —
// scraping is not part of the GET-serving hot path.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a metrics HTTP server bound to addr, gathering from reg.
func NewServer(addr string, reg *prometheus.Registry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// ListenAndServe blocks serving /metrics until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the metrics listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
