// Package metrics provides Prometheus metrics for pipeline runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "connectogrid"

var (
	// SubjectsTotal counts processed subjects by final status.
	SubjectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "participant",
			Name:      "subjects_total",
			Help:      "Total number of subjects processed by final status",
		},
		[]string{"status"}, // "succeeded", "failed", "cancelled"
	)

	// SubjectsActive tracks subjects currently being processed.
	SubjectsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "participant",
			Name:      "subjects_active",
			Help:      "Number of subjects currently being processed",
		},
	)

	// SubjectDuration tracks the wall time of a subject's run.
	SubjectDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "participant",
			Name:      "subject_duration_seconds",
			Help:      "Subject processing duration in seconds",
			Buckets:   []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800, 57600},
		},
		[]string{"status"},
	)

	// NodesTotal counts nodes by terminal status and tool.
	NodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "nodes_total",
			Help:      "Total number of nodes by terminal status",
		},
		[]string{"tool", "status"}, // "completed", "failed", "skipped"
	)

	// NodeDuration tracks tool invocation duration.
	NodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "node_duration_seconds",
			Help:      "Tool invocation duration in seconds",
			Buckets:   []float64{1, 10, 30, 60, 300, 900, 1800, 3600, 7200, 21600},
		},
		[]string{"tool", "status"},
	)

	// ThreadsInUse tracks thread slots held by running nodes.
	ThreadsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "threads_in_use",
			Help:      "Thread slots currently held by running nodes",
		},
	)

	// StagesRecorded counts ledger completion records by stage.
	StagesRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "stages_recorded_total",
			Help:      "Total number of stage completions written to the run ledger",
		},
		[]string{"stage", "result"}, // result: success, error
	)

	// StagesReused counts stages bound to existing artifacts at build time.
	StagesReused = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "stages_reused_total",
			Help:      "Total number of stages reused instead of expanded",
		},
		[]string{"stage"},
	)
)
