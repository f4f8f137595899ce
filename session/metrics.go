package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minichat",
			Subsystem: "session",
			Name:      "sends_total",
			Help:      "Messages sent, by path: channel, api, offline or failed.",
		},
		[]string{"path"},
	)

	notices = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "minichat",
			Subsystem: "session",
			Name:      "notices_total",
			Help:      "Notices shown to the user.",
		},
	)

	autoReplies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "minichat",
			Subsystem: "session",
			Name:      "auto_replies_total",
			Help:      "Simulated unavailable replies inserted.",
		},
	)
)

func init() {
	prometheus.MustRegister(sends)
	prometheus.MustRegister(notices)
	prometheus.MustRegister(autoReplies)
}
