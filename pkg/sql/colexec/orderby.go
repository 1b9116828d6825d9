// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package colexec

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vexecdb/vexec/pkg/col/coldata"
	"github.com/vexecdb/vexec/pkg/col/coltypes"
	"github.com/vexecdb/vexec/pkg/sql/colcontainer"
	"github.com/vexecdb/vexec/pkg/sql/colexecerror"
	"github.com/vexecdb/vexec/pkg/sql/colexecop"
	"github.com/vexecdb/vexec/pkg/sql/colmem"
	"github.com/vexecdb/vexec/pkg/sql/execinfra"
	"github.com/vexecdb/vexec/pkg/util/humanizeutil"
	"github.com/vexecdb/vexec/pkg/util/log"
	"github.com/vexecdb/vexec/pkg/util/mon"
)

// OrderBy is the sort operator. It consumes its whole input via AddInput,
// sorts it on the configured ordering columns, and emits the ordered rows
// from GetOutput in operator-sized batches.
//
// The operator holds the buffered rows in memory under a per-operator memory
// account. When constructed with spill support it writes sorted runs to temp
// storage once usage crosses the spill threshold, or when the memory governor
// calls Reclaim, and merges the runs with the in-memory residue when the
// input ends. Without spill support, exceeding the memory budget surfaces as
// an error marked with mon.ErrBudgetExceeded.
type OrderBy struct {
	colexecop.InitHelper

	flowCtx *execinfra.FlowCtx
	typs    []coltypes.T
	keys    []sortKey

	spillEligible   bool
	spillThreshold  int64
	outputBatchRows int

	memMonitor  *mon.BytesMonitor
	diskMonitor *mon.BytesMonitor
	memAcc      mon.BoundAccount
	diskAcc     mon.BoundAccount

	// lifecycle is shared with the engine and with any goroutine calling
	// Reclaim or Abort.
	lifecycle colexecop.LifecycleState

	engine *sortBuffer

	// noMoreInput and finished mirror the lifecycle flags for the driving
	// goroutine, which owns them without locking.
	noMoreInput bool
	finished    bool
}

var _ colexecop.Operator = &OrderBy{}
var _ colexecop.Reclaimable = &OrderBy{}

// NewOrderBy validates the ordering against the input schema and creates the
// operator. Construction errors are returned, not thrown: an invalid ordering
// is a configuration mistake, not a runtime failure.
func NewOrderBy(
	ctx context.Context,
	flowCtx *execinfra.FlowCtx,
	typs []coltypes.T,
	ordering []execinfra.OrderingColumn,
) (*OrderBy, error) {
	if len(typs) == 0 {
		return nil, execinfra.NewInvalidConfigurationError("sort input must have at least one column")
	}
	keys, err := makeSortKeys(typs, ordering)
	if err != nil {
		return nil, err
	}

	queryCfg := flowCtx.QueryCfg
	rows := queryCfg.OutputBatchRows
	if rows <= 0 {
		perRow := colmem.EstimateBatchSizeBytes(typs, coldata.BatchSize()) / int64(coldata.BatchSize())
		if perRow < 1 {
			perRow = 1
		}
		rows = int(queryCfg.PreferredOutputBatchBytes / perRow)
	}
	if rows < 1 {
		rows = 1
	}
	if rows > coldata.BatchSize() {
		rows = coldata.BatchSize()
	}
	threshold := queryCfg.SpillMemoryThreshold
	if threshold <= 0 {
		threshold = queryCfg.MemoryLimit
	}

	o := &OrderBy{
		flowCtx:         flowCtx,
		typs:            append([]coltypes.T(nil), typs...),
		keys:            keys,
		spillEligible:   queryCfg.SpillEnabled && flowCtx.Cfg.TempFS != nil,
		spillThreshold:  threshold,
		outputBatchRows: rows,
	}
	o.memMonitor = mon.NewMonitor("orderby-mem", mon.MemoryResource, queryCfg.MemoryLimit)
	o.memMonitor.Start(ctx, flowCtx.MemMonitor)
	o.memAcc = o.memMonitor.MakeBoundAccount()
	o.diskMonitor = mon.NewUnlimitedMonitor("orderby-disk", mon.DiskResource)
	o.diskMonitor.Start(ctx, flowCtx.DiskMonitor)
	o.diskAcc = o.diskMonitor.MakeBoundAccount()
	return o, nil
}

// Init is part of the colexecop.Operator interface.
func (o *OrderBy) Init(ctx context.Context) {
	if !o.InitHelper.Init(ctx) {
		return
	}
	var spillCfg *colcontainer.Config
	if o.spillEligible {
		spillCfg = &colcontainer.Config{
			FS:          o.flowCtx.Cfg.TempFS,
			Path:        o.flowCtx.Cfg.TempStoragePath,
			FDSemaphore: o.flowCtx.Cfg.FDSemaphore,
		}
	}
	o.engine = newSortBuffer(
		colmem.NewAllocator(o.Ctx, &o.memAcc),
		o.typs,
		o.keys,
		o.outputBatchRows,
		o.flowCtx.QueryCfg.MaxSpillRunsToMerge,
		&o.lifecycle,
		spillCfg,
		o.spillThreshold,
		&o.diskAcc,
		o.flowCtx.Cfg.Metrics,
	)
}

// AddInput is part of the colexecop.Operator interface.
func (o *OrderBy) AddInput(batch *coldata.Batch) {
	if o.engine == nil {
		colexecerror.InternalError(errors.AssertionFailedf("AddInput called before Init"))
	}
	if o.noMoreInput {
		colexecerror.InternalError(errors.AssertionFailedf("AddInput called after NoMoreInput"))
	}
	o.engine.addInput(o.Ctx, batch)
}

// NoMoreInput is part of the colexecop.Operator interface.
func (o *OrderBy) NoMoreInput() {
	if o.engine == nil {
		colexecerror.InternalError(errors.AssertionFailedf("NoMoreInput called before Init"))
	}
	if o.noMoreInput {
		colexecerror.InternalError(errors.AssertionFailedf("NoMoreInput called twice"))
	}
	o.noMoreInput = true
	o.lifecycle.Lock()
	o.lifecycle.NoMoreInput = true
	o.lifecycle.Unlock()
	o.engine.noMoreInput(o.Ctx)
	if stats := o.engine.spillStats(); stats.Runs > 0 {
		log.Infof(o.Ctx, "%s: spilled %d runs (%d rows, %s) in %s, %d merge passes",
			o.memMonitor.Name(), stats.Runs, stats.SpilledRows,
			humanizeutil.IBytes(stats.SpilledBytes), humanizeutil.Duration(stats.WriteTime),
			stats.MergePasses)
	}
}

// GetOutput is part of the colexecop.Operator interface. The sort is a
// blocking operator: calls before NoMoreInput return nil.
func (o *OrderBy) GetOutput() *coldata.Batch {
	if o.engine == nil {
		colexecerror.InternalError(errors.AssertionFailedf("GetOutput called before Init"))
	}
	if !o.noMoreInput || o.finished {
		return nil
	}
	b := o.engine.next(o.Ctx)
	if b == nil {
		o.finished = true
		o.lifecycle.Lock()
		o.lifecycle.Finished = true
		o.lifecycle.Unlock()
	}
	return b
}

// CanReclaim is part of the colexecop.Reclaimable interface.
func (o *OrderBy) CanReclaim() bool {
	return o.spillEligible
}

// Reclaim is part of the colexecop.Reclaimable interface. It writes the
// buffered rows out as a sorted run, releasing their memory. Requests that
// arrive once the input phase is over, or while the engine is inside a
// non-reclaimable section, are counted and logged but not honored.
//
// The lifecycle mutex is held for the whole call, which serializes Reclaim
// against Abort. The engine's writeRun does not touch the lifecycle state,
// so calling it under the mutex is safe.
func (o *OrderBy) Reclaim(ctx context.Context, targetBytes int64) {
	s := &o.lifecycle
	s.Lock()
	defer s.Unlock()
	if s.Aborted || o.engine == nil {
		return
	}
	if !o.spillEligible {
		colexecerror.InternalError(errors.AssertionFailedf(
			"Reclaim called on a sort without spill support"))
	}
	if s.NonReclaimableSection || s.NoMoreInput {
		s.NonReclaimableAttempts++
		o.flowCtx.Cfg.Metrics.RecordNonReclaimableAttempt()
		log.Warningf(ctx, "%s: cannot reclaim %s: input phase over or mid-spill, used %s, reserved %s",
			o.memMonitor.Name(), humanizeutil.IBytes(targetBytes),
			humanizeutil.IBytes(o.memAcc.Used()), humanizeutil.IBytes(o.memAcc.Allocated()))
		return
	}
	if log.V(2) {
		log.VEventf(ctx, 2, "%s: reclaiming (target %s, used %s)",
			o.memMonitor.Name(), humanizeutil.IBytes(targetBytes), humanizeutil.IBytes(o.memAcc.Used()))
	}
	s.NonReclaimableSection = true
	var spilled bool
	err := colexecerror.CatchVectorizedRuntimeError(func() {
		var runErr error
		spilled, runErr = o.engine.writeRun(ctx)
		if runErr != nil {
			colexecerror.ExpectedError(runErr)
		}
	})
	s.NonReclaimableSection = false
	if spilled {
		s.SpillRuns++
	}
	if err != nil {
		// The error is stashed with the engine and surfaces to the driving
		// goroutine on its next call. This also covers budget failures the
		// allocator raises while staging rows for the run.
		o.engine.deferErr(err)
		log.Errorf(ctx, "%s: reclaim failed: %v", o.memMonitor.Name(), err)
	}
}

// Abort is part of the colexecop.Operator interface. It closes the engine,
// removes any spill files and stops the operator's monitors. Safe to call
// more than once and concurrently with an in-flight Reclaim.
func (o *OrderBy) Abort() {
	o.lifecycle.Lock()
	if o.lifecycle.Aborted {
		o.lifecycle.Unlock()
		return
	}
	o.lifecycle.Aborted = true
	o.lifecycle.Unlock()

	ctx := o.EnsureCtx()
	if o.engine != nil {
		if err := o.engine.close(ctx); err != nil {
			log.Errorf(ctx, "%s: error closing sort: %v", o.memMonitor.Name(), err)
		}
	}
	o.memAcc.Close(ctx)
	o.diskAcc.Close(ctx)
	o.memMonitor.Stop(ctx)
	o.diskMonitor.Stop(ctx)
}

// SpillStats returns a snapshot of the sort's disk activity.
func (o *OrderBy) SpillStats() SpillStats {
	if o.engine == nil {
		return SpillStats{}
	}
	return o.engine.spillStats()
}

// NumSpillRuns returns the number of runs spilled because of memory
// pressure, whether triggered by the spill threshold or by Reclaim.
func (o *OrderBy) NumSpillRuns() int64 {
	return o.lifecycle.NumSpillRuns()
}

// NumNonReclaimableAttempts returns the number of Reclaim requests that were
// not honored.
func (o *OrderBy) NumNonReclaimableAttempts() int64 {
	return o.lifecycle.NumNonReclaimableAttempts()
}

// MemoryUsed returns the bytes currently charged to the operator's memory
// account.
func (o *OrderBy) MemoryUsed() int64 {
	return o.memAcc.Used()
}

// MaxMemoryUsed returns the high-water mark of the operator's memory monitor.
func (o *OrderBy) MaxMemoryUsed() int64 {
	return o.memMonitor.MaximumBytes()
}
