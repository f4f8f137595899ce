package ws

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minichat",
			Subsystem: "ws",
			Name:      "frames_sent_total",
			Help:      "Frames written to the channel, by type.",
		},
		[]string{"type"},
	)

	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minichat",
			Subsystem: "ws",
			Name:      "frames_received_total",
			Help:      "Frames decoded from the channel, by type.",
		},
		[]string{"type"},
	)

	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minichat",
			Subsystem: "ws",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped, by reason.",
		},
		[]string{"reason"},
	)

	dials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minichat",
			Subsystem: "ws",
			Name:      "dials_total",
			Help:      "Channel dial attempts, by result.",
		},
		[]string{"result"},
	)

	connState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "minichat",
			Subsystem: "ws",
			Name:      "connection_state",
			Help:      "Current connection state: 0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 closed.",
		},
	)
)

func init() {
	prometheus.MustRegister(framesSent)
	prometheus.MustRegister(framesReceived)
	prometheus.MustRegister(framesDropped)
	prometheus.MustRegister(dials)
	prometheus.MustRegister(connState)
}
