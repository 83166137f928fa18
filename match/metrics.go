package match

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	swipesSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swipecore",
			Subsystem: "match",
			Name:      "swipes_submitted_total",
			Help:      "Swipes sent to the backend by result.",
		},
		[]string{"result"},
	)

	icebreakers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swipecore",
			Subsystem: "match",
			Name:      "icebreakers_total",
			Help:      "Icebreaker messages by result.",
		},
		[]string{"result"},
	)
)
