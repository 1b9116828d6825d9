// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package execinfra

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the execution metrics of all flows in the process. All
// methods are safe to call on a nil receiver, so operators do not need to
// guard for a missing metrics sink.
type Metrics struct {
	// SpillRuns counts the sorted runs written to temp storage.
	SpillRuns prometheus.Counter
	// SpilledBytes counts the compressed bytes written to temp storage.
	SpilledBytes prometheus.Counter
	// SpilledRows counts the rows written to temp storage.
	SpilledRows prometheus.Counter
	// MergePasses counts the intermediate merge passes needed because more
	// runs existed than the merge fan-in allows.
	MergePasses prometheus.Counter
	// NonReclaimableAttempts counts memory reclamation requests that could
	// not be honored because the operator had started producing output.
	NonReclaimableAttempts prometheus.Counter
	// SpillWriteDuration observes the wall time of writing one spill run.
	SpillWriteDuration prometheus.Histogram
}

// NewMetrics creates the execution metrics and registers them with reg. A nil
// reg leaves them unregistered, which tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SpillRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vexec",
			Subsystem: "sort",
			Name:      "spill_runs_total",
			Help:      "Sorted runs written to temp storage.",
		}),
		SpilledBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vexec",
			Subsystem: "sort",
			Name:      "spilled_bytes_total",
			Help:      "Compressed bytes written to temp storage.",
		}),
		SpilledRows: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vexec",
			Subsystem: "sort",
			Name:      "spilled_rows_total",
			Help:      "Rows written to temp storage.",
		}),
		MergePasses: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vexec",
			Subsystem: "sort",
			Name:      "merge_passes_total",
			Help:      "Intermediate merge passes over spilled runs.",
		}),
		NonReclaimableAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vexec",
			Subsystem: "sort",
			Name:      "non_reclaimable_reclaim_attempts_total",
			Help:      "Reclamation requests received after output production started.",
		}),
		SpillWriteDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vexec",
			Subsystem: "sort",
			Name:      "spill_write_duration_seconds",
			Help:      "Wall time spent writing one spill run.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
}

// RecordSpill records one written spill run.
func (m *Metrics) RecordSpill(bytes, rows int64, writeDuration time.Duration) {
	if m == nil {
		return
	}
	m.SpillRuns.Inc()
	m.SpilledBytes.Add(float64(bytes))
	m.SpilledRows.Add(float64(rows))
	m.SpillWriteDuration.Observe(writeDuration.Seconds())
}

// RecordMergePass records one intermediate merge pass.
func (m *Metrics) RecordMergePass() {
	if m == nil {
		return
	}
	m.MergePasses.Inc()
}

// RecordNonReclaimableAttempt records a reclamation request that arrived too
// late to be honored.
func (m *Metrics) RecordNonReclaimableAttempt() {
	if m == nil {
		return
	}
	m.NonReclaimableAttempts.Inc()
}
