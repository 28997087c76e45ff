package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCommits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "palaver",
		Subsystem: "store",
		Name:      "commits_total",
		Help:      "Committed action batches.",
	})

	metricActionsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "palaver",
		Subsystem: "store",
		Name:      "actions_applied_total",
		Help:      "Individual actions applied across all batches.",
	})

	metricFastApplies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "palaver",
		Subsystem: "store",
		Name:      "fast_path_applies_total",
		Help:      "Actions handled by the in-place fast path.",
	})

	metricReducerApplies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "palaver",
		Subsystem: "store",
		Name:      "reducer_applies_total",
		Help:      "Actions handled by the pure reducer.",
	})

	metricCacheRepairs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "palaver",
		Subsystem: "store",
		Name:      "index_cache_repairs_total",
		Help:      "Tool index cache misses repaired by rescanning.",
	})
)
