// Package telemetry holds the node's prometheus metrics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meshnode"
)

const namespace = "meshnode"

// Metrics is the set of collectors one node exports. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	received  *prometheus.CounterVec
	sends     *prometheus.CounterVec
	deaths    prometheus.Counter
	relayOn   prometheus.Gauge
	fired     *prometheus.CounterVec
	buildInfo *prometheus.GaugeVec
}

// NewMetrics registers the node collectors on reg. Each node gets its own
// registry so simulations can run several nodes in one process.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		received: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Messages received, by decoded kind.",
			},
			[]string{"kind"},
		),
		sends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sends_total",
				Help:      "Send attempts, by message kind and delivery status.",
			},
			[]string{"kind", "status"},
		),
		deaths: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_deaths_total",
			Help:      "Peers that transitioned from alive to dead.",
		}),
		relayOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_on",
			Help:      "1 while the relay output is on.",
		}),
		fired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_fired_total",
				Help:      "Periodic actions fired by the scheduler.",
			},
			[]string{"action"},
		),
		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "build_info",
				Help:      "Build info (constant 1, labeled by version).",
			},
			[]string{"version"},
		),
	}

	startTime := time.Now()
	uptime := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Node uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)

	reg.MustRegister(m.received, m.sends, m.deaths, m.relayOn, m.fired, m.buildInfo, uptime)
	return m
}

// RegisterPeers exports the registry counts as meshnode_peers{state}.
func (m *Metrics) RegisterPeers(counts func() meshnode.HealthSummary) {
	if m == nil {
		return
	}
	gauge := func(state string, pick func(meshnode.HealthSummary) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "peers",
				Help:        "Known peers, by liveness state.",
				ConstLabels: prometheus.Labels{"state": state},
			},
			func() float64 { return float64(pick(counts())) },
		)
	}
	m.registry.MustRegister(
		gauge(meshnode.PeerAlive.String(), func(s meshnode.HealthSummary) int { return s.Alive }),
		gauge(meshnode.PeerDead.String(), func(s meshnode.HealthSummary) int { return s.Dead }),
	)
}

// Handler exposes the registry for /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup.
func (m *Metrics) SetBuildInfo(version string) {
	if m == nil {
		return
	}
	m.buildInfo.WithLabelValues(version).Set(1)
}

func (m *Metrics) MessageReceived(kind string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(kind).Inc()
}

func (m *Metrics) SendAttempted(kind, status string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) PeerDied() {
	if m == nil {
		return
	}
	m.deaths.Inc()
}

func (m *Metrics) RelaySet(on bool) {
	if m == nil {
		return
	}
	if on {
		m.relayOn.Set(1)
	} else {
		m.relayOn.Set(0)
	}
}

func (m *Metrics) ActionFired(action string) {
	if m == nil {
		return
	}
	m.fired.WithLabelValues(action).Inc()
}
