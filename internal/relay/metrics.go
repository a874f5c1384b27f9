package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Frame directions and close sides used as metric labels.
const (
	DirectionClientToUpstream = "client_to_upstream"
	DirectionUpstreamToClient = "upstream_to_client"

	SideClient   = "client"
	SideUpstream = "upstream"
)

// Metrics holds the relay collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive      prometheus.Gauge
	SessionsTotal       prometheus.Counter
	Frames              *prometheus.CounterVec
	Closes              *prometheus.CounterVec
	UpstreamDialFailure prometheus.Counter
	Rejected            *prometheus.CounterVec
	APIRequests         *prometheus.CounterVec
}

// NewMetrics builds and registers every relay collector plus the Go runtime
// and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voxrelay_relay_sessions_active",
			Help: "Relay sessions currently forwarding",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxrelay_relay_sessions_total",
			Help: "Relay sessions opened since start",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxrelay_relay_frames_total",
			Help: "Frames forwarded by direction",
		}, []string{"direction"}),
		Closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxrelay_relay_closes_total",
			Help: "Close frames observed by originating side and code",
		}, []string{"side", "code"}),
		UpstreamDialFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxrelay_relay_upstream_dial_failures_total",
			Help: "Upstream connections that could not be opened",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxrelay_relay_rejected_total",
			Help: "Client connections rejected before forwarding",
		}, []string{"reason"}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxrelay_api_requests_total",
			Help: "HTTP API requests by endpoint and status",
		}, []string{"endpoint", "status"}),
	}

	m.registry.MustRegister(
		m.SessionsActive,
		m.SessionsTotal,
		m.Frames,
		m.Closes,
		m.UpstreamDialFailure,
		m.Rejected,
		m.APIRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
