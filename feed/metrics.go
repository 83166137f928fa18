package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var replenishments = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "swipecore",
		Subsystem: "feed",
		Name:      "replenishments_total",
		Help:      "Feed batch fetches by result.",
	},
	[]string{"result"},
)
