package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swipecore",
			Subsystem: "notify",
			Name:      "events_total",
			Help:      "Notification events by kind and payload type.",
		},
		[]string{"kind", "type"},
	)

	resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swipecore",
			Subsystem: "notify",
			Name:      "resolutions_total",
			Help:      "Tapped message notifications by outcome.",
		},
		[]string{"outcome"},
	)
)
