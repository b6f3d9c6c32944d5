// Package metrics exposes the harness's prometheus collectors.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bundlerlab"

// Metrics groups every collector. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	positionFetches   *prometheus.CounterVec
	simulationFetches *prometheus.CounterVec
	simulationBlock   prometheus.Gauge
	actions           *prometheus.CounterVec
	actionDuration    *prometheus.HistogramVec
	walletConnected   prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the collectors registered with the default prometheus
// registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		positionFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "position",
			Name:      "fetches_total",
			Help:      "Position fetches by result.",
		}, []string{"result"}),
		simulationFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "fetches_total",
			Help:      "Simulation state fetches by result.",
		}, []string{"result"}),
		simulationBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "block_number",
			Help:      "Block number of the most recent simulation state.",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "actions_total",
			Help:      "Shell bundle actions by action and status.",
		}, []string{"action", "status"}),
		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "action_duration_seconds",
			Help:      "Wall time of shell bundle actions.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"action"}),
		walletConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "connected",
			Help:      "1 while the signing wallet is connected.",
		}),
	}
	reg.MustRegister(
		m.positionFetches,
		m.simulationFetches,
		m.simulationBlock,
		m.actions,
		m.actionDuration,
		m.walletConnected,
	)
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// PositionFetched counts one position fetch.
func (m *Metrics) PositionFetched(err error) {
	if m == nil {
		return
	}
	m.positionFetches.WithLabelValues(result(err)).Inc()
}

// SimulationFetched counts one simulation fetch and, on success, records
// the block it was taken at.
func (m *Metrics) SimulationFetched(block uint64, err error) {
	if m == nil {
		return
	}
	m.simulationFetches.WithLabelValues(result(err)).Inc()
	if err == nil {
		m.simulationBlock.Set(float64(block))
	}
}

// ActionFinished records a completed shell action.
func (m *Metrics) ActionFinished(action, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(action, status).Inc()
	m.actionDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

// WalletConnected sets the wallet gauge.
func (m *Metrics) WalletConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.walletConnected.Set(1)
		return
	}
	m.walletConnected.Set(0)
}
