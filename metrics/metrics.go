// Package metrics declares the Prometheus collectors the analyzer
// server exposes, grounded on prometheus.go's label and naming
// conventions (promauto-registered Gauge/Counter/GaugeVec collectors,
// one struct field per metric) but scoped to a private
// registry instead of the global default one, so tests can spin up an
// isolated Metrics instance without colliding with other packages'
// collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the server registers.
type Metrics struct {
	Registry *prometheus.Registry

	PSDFramesTotal        prometheus.Counter
	InspectorOpenTotal    prometheus.Counter
	InspectorCloseTotal   prometheus.Counter
	MQDepth               *prometheus.GaugeVec
	MulticastFragsTotal   *prometheus.CounterVec
	ServerSessionsActive  prometheus.Gauge
	DiscoveryDevices      prometheus.Gauge
	AuthFailuresTotal     prometheus.Counter
	WireUnpackErrorsTotal prometheus.Counter
}

// New creates a fresh registry and registers every sdrcore collector
// against it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		PSDFramesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "sdrcore_psd_frames_total",
			Help: "Total PSD frames emitted by local analyzers.",
		}),
		InspectorOpenTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "sdrcore_inspector_open_total",
			Help: "Total inspector channels opened.",
		}),
		InspectorCloseTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "sdrcore_inspector_close_total",
			Help: "Total inspector channels closed.",
		}),
		MQDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sdrcore_mq_depth",
			Help: "Current queue depth by queue name.",
		}, []string{"queue"}),
		MulticastFragsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sdrcore_multicast_fragments_total",
			Help: "Total multicast fragments transmitted by interface.",
		}, []string{"iface"}),
		ServerSessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "sdrcore_server_sessions_active",
			Help: "Current number of authenticated server sessions.",
		}),
		DiscoveryDevices: f.NewGauge(prometheus.GaugeOpts{
			Name: "sdrcore_discovery_devices",
			Help: "Current number of devices in the discovery table.",
		}),
		AuthFailuresTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "sdrcore_auth_failures_total",
			Help: "Total HELLO authentication failures.",
		}),
		WireUnpackErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "sdrcore_wire_unpack_errors_total",
			Help: "Total malformed CALL payloads rejected by the wire decoder.",
		}),
	}
}
