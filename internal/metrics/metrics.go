// Package metrics exposes the relay's monotonic packet counters on a
// Prometheus-compatible /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the relay's counters. Built on a private prometheus.Registry
// rather than the global default so tests can run isolated instances.
type Registry struct {
	reg *prometheus.Registry

	PktToUDP     prometheus.Counter // DataChannel -> UDP
	PktToDC      prometheus.Counter // UDP -> DataChannel
	GoToPython   prometheus.Counter // sidecar ingress boundary
	PythonToGo   prometheus.Counter // sidecar egress boundary
}

// New creates a Registry with all four counters registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		PktToUDP: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pkt_to_udp_total",
			Help: "Packets forwarded from a DataChannel to the UDP backend.",
		}),
		PktToDC: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pkt_to_dc_total",
			Help: "Datagrams forwarded from the UDP backend to a DataChannel.",
		}),
		GoToPython: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "go_to_python_total",
			Help: "Packets received on the sidecar HTTP ingress.",
		}),
		PythonToGo: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "python_to_go_total",
			Help: "Packets sent out over the sidecar WebSocket egress.",
		}),
	}
	reg.MustRegister(r.PktToUDP, r.PktToDC, r.GoToPython, r.PythonToGo)
	return r
}

// Handler returns the http.Handler serving the Prometheus text exposition
// format for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
