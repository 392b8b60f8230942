package extraction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskagent_extraction_fallbacks_total",
		Help: "Extractions served by the fallback extractor, by reason.",
	}, []string{"reason"})

	sourceTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskagent_extraction_source_total",
		Help: "Extractions by the extractor that produced the result.",
	}, []string{"source"})

	candidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskagent_extraction_candidates_total",
		Help: "Candidates produced, by source and task type.",
	}, []string{"source", "task_type"})
)
