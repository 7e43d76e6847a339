package marketdata

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks feed-level counters. A nil *Metrics is safe to use so tests
// can skip registration.
type Metrics struct {
	UpdatesApplied      prometheus.Counter
	UpdatesDiscarded    prometheus.Counter
	ChainsApplied       prometheus.Counter
	ReconnectAttempts   prometheus.Counter
	FallbackActivations prometheus.Counter
	ActiveSubscriptions prometheus.Gauge
	ConnectionState     prometheus.Gauge
}

// NewMetrics creates and registers feed metrics on the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UpdatesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdata_updates_applied_total",
			Help: "Price updates accepted into the cache",
		}),
		UpdatesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdata_updates_discarded_total",
			Help: "Price updates discarded as stale",
		}),
		ChainsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdata_chains_applied_total",
			Help: "Option chain snapshots accepted into the cache",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdata_reconnect_attempts_total",
			Help: "Feed reconnection attempts",
		}),
		FallbackActivations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdata_fallback_activations_total",
			Help: "Times the feed degraded to polling",
		}),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketdata_active_subscriptions",
			Help: "Registry keys with at least one reference",
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketdata_connection_state",
			Help: "Feed connection state (0 disconnected, 1 connecting, 2 connected, 3 error)",
		}),
	}
	reg.MustRegister(
		m.UpdatesApplied,
		m.UpdatesDiscarded,
		m.ChainsApplied,
		m.ReconnectAttempts,
		m.FallbackActivations,
		m.ActiveSubscriptions,
		m.ConnectionState,
	)
	return m
}

func (m *Metrics) incApplied() {
	if m != nil {
		m.UpdatesApplied.Inc()
	}
}

func (m *Metrics) incDiscarded() {
	if m != nil {
		m.UpdatesDiscarded.Inc()
	}
}

func (m *Metrics) incChains() {
	if m != nil {
		m.ChainsApplied.Inc()
	}
}

func (m *Metrics) incReconnects() {
	if m != nil {
		m.ReconnectAttempts.Inc()
	}
}

func (m *Metrics) incFallbacks() {
	if m != nil {
		m.FallbackActivations.Inc()
	}
}

func (m *Metrics) setSubscriptions(n int) {
	if m != nil {
		m.ActiveSubscriptions.Set(float64(n))
	}
}

func (m *Metrics) setState(s ConnState) {
	if m != nil {
		m.ConnectionState.Set(float64(s))
	}
}
