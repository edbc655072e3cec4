// Package metrics exposes the prometheus collectors the engine updates as
// it runs. Registration happens once per process via sync.Once so tests may
// construct multiple engines without tripping prometheus's duplicate
// registration panic.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	PacketsSent   prometheus.Counter
	PacketsAcked  prometheus.Counter
	PacketsLost   prometheus.Counter
	BytesSent     prometheus.Counter
	BytesReceived prometheus.Counter
	CwndBytes     prometheus.Gauge
	SmoothedRTT   prometheus.Gauge
)

// Register installs the collectors into the default registry. Safe to call
// from multiple connections; only the first call actually registers.
func Register() {
	once.Do(func() {
		PacketsSent = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quince",
			Name:      "packets_sent_total",
			Help:      "Total packets handed to the UDP collaborator.",
		})
		PacketsAcked = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quince",
			Name:      "packets_acked_total",
			Help:      "Total packets removed from in-flight by an incoming ACK.",
		})
		PacketsLost = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quince",
			Name:      "packets_lost_total",
			Help:      "Total packets classified as lost by the retransmission timer.",
		})
		BytesSent = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quince",
			Name:      "bytes_sent_total",
			Help:      "Total frame payload bytes sent.",
		})
		BytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quince",
			Name:      "bytes_received_total",
			Help:      "Total frame payload bytes received.",
		})
		CwndBytes = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quince",
			Name:      "cwnd_bytes",
			Help:      "Current congestion window, in bytes.",
		})
		SmoothedRTT = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quince",
			Name:      "srtt_seconds",
			Help:      "Current smoothed RTT estimate, in seconds.",
		})
		prometheus.MustRegister(
			PacketsSent, PacketsAcked, PacketsLost,
			BytesSent, BytesReceived, CwndBytes, SmoothedRTT,
		)
	})
}
