package workqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swipecore",
			Subsystem: "workqueue",
			Name:      "jobs_submitted_total",
			Help:      "Jobs accepted into a work queue.",
		},
		[]string{"queue"},
	)

	jobsRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swipecore",
			Subsystem: "workqueue",
			Name:      "jobs_retried_total",
			Help:      "Job attempts that failed and were scheduled again.",
		},
		[]string{"queue"},
	)

	jobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swipecore",
			Subsystem: "workqueue",
			Name:      "jobs_failed_total",
			Help:      "Jobs that gave up after their last attempt.",
		},
		[]string{"queue"},
	)
)
