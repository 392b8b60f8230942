package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	processTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskagent_process_total",
		Help: "Processed messages by outcome.",
	}, []string{"outcome"})

	processDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "taskagent_process_duration_seconds",
		Help:    "End-to-end duration of Process.",
		Buckets: prometheus.DefBuckets,
	})

	taskWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskagent_task_writes_total",
		Help: "Task store writes by operation and result.",
	}, []string{"op", "result"})
)
