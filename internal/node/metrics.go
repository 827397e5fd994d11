package node

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics of the service. It implements the
// metrics hooks of the pairing client and the controller.
type Metrics struct {
	PairingRequests *prometheus.CounterVec
	PairingLatency  *prometheus.HistogramVec
	Transfers       *prometheus.CounterVec
	TransferLatency *prometheus.HistogramVec
	WSClients       prometheus.Gauge
	ChainConnected  prometheus.Gauge

	registerer prometheus.Registerer
}

// NewMetrics creates the metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PairingRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dotbeacon_pairing_requests_total",
			Help: "Requests sent to the paired wallet by type and outcome",
		}, []string{"type", "outcome"}),
		PairingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dotbeacon_pairing_request_seconds",
			Help:    "Time until the paired wallet answered",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"type"}),
		Transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dotbeacon_transfers_total",
			Help: "Transfers submitted by network, signer and outcome",
		}, []string{"network", "signer", "outcome"}),
		TransferLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dotbeacon_transfer_seconds",
			Help:    "Time from signing until a transfer was included or failed",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"network"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dotbeacon_ws_clients",
			Help: "Connected status stream clients",
		}),
		ChainConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dotbeacon_chain_connected",
			Help: "1 while the chain client is connected",
		}),
		registerer: reg,
	}

	reg.MustRegister(
		m.PairingRequests,
		m.PairingLatency,
		m.Transfers,
		m.TransferLatency,
		m.WSClients,
		m.ChainConnected,
	)
	return m
}

// ObserveRequest implements pairing.Metrics
func (m *Metrics) ObserveRequest(msgType, outcome string, elapsed time.Duration) {
	m.PairingRequests.WithLabelValues(msgType, outcome).Inc()
	m.PairingLatency.WithLabelValues(msgType).Observe(elapsed.Seconds())
}

// ObserveTransfer implements controller.Metrics
func (m *Metrics) ObserveTransfer(network, signerKey, outcome string, elapsed time.Duration) {
	m.Transfers.WithLabelValues(network, signerKey, outcome).Inc()
	m.TransferLatency.WithLabelValues(network).Observe(elapsed.Seconds())
}

// Close unregisters all metrics
func (m *Metrics) Close() {
	m.registerer.Unregister(m.PairingRequests)
	m.registerer.Unregister(m.PairingLatency)
	m.registerer.Unregister(m.Transfers)
	m.registerer.Unregister(m.TransferLatency)
	m.registerer.Unregister(m.WSClients)
	m.registerer.Unregister(m.ChainConnected)
}
