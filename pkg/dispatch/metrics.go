package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "palaver",
		Name:      "events_dispatched_total",
		Help:      "Events consumed by the dispatcher, by event kind.",
	}, []string{"kind"})
	metricActionsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "palaver",
		Name:      "actions_emitted_total",
		Help:      "Reducer actions emitted by the dispatcher.",
	})
	metricResultsBuffered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "palaver",
		Name:      "tool_results_buffered_total",
		Help:      "Tool results that arrived before their start event.",
	})
	metricResultsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "palaver",
		Name:      "tool_results_recovered_total",
		Help:      "Tools created already resolved from a buffered result.",
	})
	metricEchoesSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "palaver",
		Name:      "result_echoes_suppressed_total",
		Help:      "Uncorrelated legacy result echoes dropped.",
	})
	metricAliasReplays = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "palaver",
		Name:      "task_alias_replays_total",
		Help:      "Buffered background-task events replayed after registration.",
	})
	metricLateSubagentMerges = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "palaver",
		Name:      "late_subagent_merges_total",
		Help:      "Subagent updates applied to already-finalized messages.",
	})
	metricTokenEstimates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "palaver",
		Name:      "context_token_estimates_total",
		Help:      "Turns sealed with a locally estimated context size.",
	})
	metricPendingResults = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "palaver",
		Name:      "pending_tool_results",
		Help:      "Tool results currently buffered awaiting their start event.",
	})
)
