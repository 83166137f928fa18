package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swipecore",
			Subsystem: "chat",
			Name:      "messages_sent_total",
			Help:      "Messages sent by result.",
		},
		[]string{"result"},
	)

	realtimeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swipecore",
			Subsystem: "chat",
			Name:      "realtime_events_total",
			Help:      "Realtime message events applied to open sessions.",
		},
		[]string{"type"},
	)
)
