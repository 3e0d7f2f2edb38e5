// Package metrics carries the process-wide counters and timings: a
// Prometheus collector set for aggregate monitoring plus a JSONL event
// tracker for the raw, human-auditable event stream.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AntiInjection bundles the anti-injection pipeline's statistics
// counters: total, detected, blocked, shielded, errors, processing time.
type AntiInjection struct {
	Total          prometheus.Counter
	Detected       prometheus.Counter
	Blocked        prometheus.Counter
	Shielded       prometheus.Counter
	Errors         prometheus.Counter
	ProcessingTime prometheus.Histogram
}

// NewAntiInjection registers the anti-injection collector set on reg.
// A nil reg yields working but unregistered collectors, which is what
// tests want.
func NewAntiInjection(reg prometheus.Registerer) *AntiInjection {
	m := &AntiInjection{
		Total: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "antiinjection_messages_total",
			Help: "Messages handed to the anti-injection pipeline.",
		}),
		Detected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "antiinjection_detected_total",
			Help: "Messages the detector flagged as injection attempts.",
		}),
		Blocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "antiinjection_blocked_total",
			Help: "Messages blocked (injection or active ban).",
		}),
		Shielded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "antiinjection_shielded_total",
			Help: "Messages whose content was replaced by the shield.",
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "antiinjection_errors_total",
			Help: "Pipeline-internal errors (fail-closed).",
		}),
		ProcessingTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "antiinjection_processing_seconds",
			Help:    "Wall-clock time spent per processed message.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Total, m.Detected, m.Blocked, m.Shielded, m.Errors, m.ProcessingTime)
	}
	return m
}

// Memory bundles the memory engine's stage timings and outcome counters.
type Memory struct {
	StageDuration *prometheus.HistogramVec
	ChunksStored  prometheus.Counter
	ChunksDropped prometheus.Counter
	Retrievals    prometheus.Counter
}

// NewMemory registers the memory-engine collector set on reg.
func NewMemory(reg prometheus.Registerer) *Memory {
	m := &Memory{
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "memory_stage_seconds",
			Help:    "Duration of one memory engine stage run.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		ChunksStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memory_chunks_stored_total",
			Help: "Memory chunks persisted to both stores.",
		}),
		ChunksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memory_chunks_dropped_total",
			Help: "Memory chunks dropped by validation, fusion, or forgetting.",
		}),
		Retrievals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memory_retrievals_total",
			Help: "Retrieval pipeline invocations.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.StageDuration, m.ChunksStored, m.ChunksDropped, m.Retrievals)
	}
	return m
}

// Planner bundles the per-cycle planner outcome counters.
type Planner struct {
	Cycles        *prometheus.CounterVec
	CycleDuration prometheus.Histogram
}

// NewPlanner registers the planner collector set on reg. Cycle outcomes
// are labelled reply / no_action / error / timeout.
func NewPlanner(reg prometheus.Registerer) *Planner {
	m := &Planner{
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_cycles_total",
			Help: "Planner cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "planner_cycle_seconds",
			Help:    "Wall-clock duration of one planner cycle.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Cycles, m.CycleDuration)
	}
	return m
}
