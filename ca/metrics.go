package ca

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "holepunch"

var (
	// GenerateCount counts trust material generation events by artifact.
	GenerateCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ca",
			Name:      "generate_count",
			Help:      "The number of times CA trust material was generated and written",
		},
		[]string{"artifact"},
	)

	// LoadFailureCount counts failures loading trust material from storage.
	LoadFailureCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ca",
			Name:      "load_failure_count",
			Help:      "The number of times CA trust material failed to load or verify",
		},
	)

	// Expires is the unix time at which the CA certificate expires.
	Expires = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "ca",
			Name:      "expire_timestamp",
			Help:      "The unix time for when the CA certificate expires",
		},
	)
)

func init() {
	prometheus.MustRegister(GenerateCount)
	prometheus.MustRegister(LoadFailureCount)
	prometheus.MustRegister(Expires)
}
