package swipe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "swipecore",
		Subsystem: "swipe",
		Name:      "decisions_total",
		Help:      "Swipe gestures by outcome.",
	},
	[]string{"outcome"},
)
