// Package netmetrics registers the Prometheus counters/gauges spec.md
// §6 names. Grounded on the teacher's go.mod carrying
// prometheus/client_golang as an indirect dependency; promoted to
// direct and wired here since telemetry export is explicitly part of
// the Network Manager's job (spec.md §1 "exporting operational
// telemetry").
package netmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/empower1/netcore/internal/types"
)

// Metrics bundles every gauge/counter spec.md §6 publishes. A single
// instance is constructed per Manager and threaded through as a
// plain struct field, the same way the teacher threads its *log.Logger
// through constructors rather than reaching for a global.
type Metrics struct {
	ConnectedPeers    prometheus.Gauge
	IncomingConns     prometheus.Gauge
	OutgoingConns     prometheus.Gauge
	TrackedPeers      prometheus.Gauge
	BackedOffPeers    prometheus.Gauge
	ClosedSessions    prometheus.Counter
	PendingFailures   prometheus.Counter
	InvalidMessages   prometheus.Counter
	TotalIncomingConn prometheus.Counter
	TotalOutgoingConn prometheus.Counter
	DroppedEthReqFull prometheus.Counter
	TxManagerQueueDepth prometheus.Gauge

	DisconnectsByReason *prometheus.CounterVec
}

// New registers every metric against reg. Passing a fresh
// prometheus.NewRegistry() in tests avoids the global default
// registry's "duplicate registration" panic across test runs.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConnectedPeers:    f.NewGauge(prometheus.GaugeOpts{Name: "connected_peers"}),
		IncomingConns:     f.NewGauge(prometheus.GaugeOpts{Name: "incoming_connections"}),
		OutgoingConns:     f.NewGauge(prometheus.GaugeOpts{Name: "outgoing_connections"}),
		TrackedPeers:      f.NewGauge(prometheus.GaugeOpts{Name: "tracked_peers"}),
		BackedOffPeers:    f.NewGauge(prometheus.GaugeOpts{Name: "backed_off_peers"}),
		ClosedSessions:    f.NewCounter(prometheus.CounterOpts{Name: "closed_sessions"}),
		PendingFailures:   f.NewCounter(prometheus.CounterOpts{Name: "pending_session_failures"}),
		InvalidMessages:   f.NewCounter(prometheus.CounterOpts{Name: "invalid_messages_received"}),
		TotalIncomingConn: f.NewCounter(prometheus.CounterOpts{Name: "total_incoming_connections"}),
		TotalOutgoingConn: f.NewCounter(prometheus.CounterOpts{Name: "total_outgoing_connections"}),
		DroppedEthReqFull: f.NewCounter(prometheus.CounterOpts{Name: "total_dropped_eth_requests_at_full_capacity"}),
		TxManagerQueueDepth: f.NewGauge(prometheus.GaugeOpts{Name: "tx_manager_queue_depth"}),
		DisconnectsByReason: f.NewCounterVec(prometheus.CounterOpts{
			Name: "session_disconnects_total",
		}, []string{"reason"}),
	}
}

// ObserveDisconnect increments the per-DisconnectReason histogram
// (spec.md §6; implemented as a counter vector, the idiomatic
// client_golang equivalent of a labeled histogram of discrete reasons).
func (m *Metrics) ObserveDisconnect(reason types.DisconnectReason) {
	m.DisconnectsByReason.WithLabelValues(reason.String()).Inc()
}
