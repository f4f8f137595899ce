package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	replayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "minichat",
			Subsystem: "outbox",
			Name:      "replayed_total",
			Help:      "Offline pending messages delivered after recovery.",
		},
	)

	replayFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "minichat",
			Subsystem: "outbox",
			Name:      "replay_failures_total",
			Help:      "Failed replay attempts.",
		},
	)

	confirmFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "minichat",
			Subsystem: "outbox",
			Name:      "confirm_failures_total",
			Help:      "Replayed messages that could not be marked confirmed locally.",
		},
	)

	pruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "minichat",
			Subsystem: "outbox",
			Name:      "pruned_total",
			Help:      "Outdated cached messages deleted.",
		},
	)
)

func init() {
	prometheus.MustRegister(replayed)
	prometheus.MustRegister(replayFailures)
	prometheus.MustRegister(confirmFailures)
	prometheus.MustRegister(pruned)
}
