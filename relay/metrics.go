package relay

import (
	"github.com/holepunch/holepunch/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ConnectionCount counts accepted connections.
	ConnectionCount = metrics.NewCounter("relay", "connection_count", "The number of connections accepted by the relay")

	// ActiveConnections is the number of connections currently served.
	ActiveConnections = metrics.NewGauge("relay", "active_connections", "The number of connections currently being served")

	// ConnectionErrorCount counts connections that ended with an error,
	// by error kind.
	ConnectionErrorCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "relay",
			Name:      "connection_error_count",
			Help:      "The number of connections that ended with an error",
		},
		[]string{"kind"},
	)

	// EnvelopeCount counts envelopes by direction and type.
	EnvelopeCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "relay",
			Name:      "envelope_count",
			Help:      "The number of envelopes sent and received",
		},
		[]string{"direction", "type"},
	)

	// PayloadBytes counts message payload bytes by direction.
	PayloadBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "relay",
			Name:      "payload_bytes",
			Help:      "The number of message payload bytes sent and forwarded",
		},
		[]string{"direction"},
	)

	// HeartbeatRTT observes round trips between a Ping and its Pong.
	HeartbeatRTT = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "relay",
			Name:      "heartbeat_rtt_seconds",
			Help:      "Round trip time between a heartbeat ping and its pong",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		},
	)
)

func init() {
	prometheus.MustRegister(ConnectionErrorCount)
	prometheus.MustRegister(EnvelopeCount)
	prometheus.MustRegister(PayloadBytes)
	prometheus.MustRegister(HeartbeatRTT)
}
