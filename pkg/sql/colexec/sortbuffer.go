// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package colexec

import (
	"context"
	"time"

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
	"github.com/vexecdb/vexec/pkg/util/timeutil"
)

// sortBufferState is the lifecycle state of a sortBuffer.
type sortBufferState int

const (
	// sortBufferAccumulating is the input phase: batches are buffered and
	// possibly spilled.
	sortBufferAccumulating sortBufferState = iota
	// sortBufferFinalizing is the transient state while the residue is sorted
	// and the merge is initialized.
	sortBufferFinalizing
	// sortBufferProducing is the output phase.
	sortBufferProducing
	// sortBufferExhausted means all output has been produced.
	sortBufferExhausted
	// sortBufferAborted means close was called. Terminal.
	sortBufferAborted
)

func (s sortBufferState) String() string {
	switch s {
	case sortBufferAccumulating:
		return "accumulating"
	case sortBufferFinalizing:
		return "finalizing"
	case sortBufferProducing:
		return "producing"
	case sortBufferExhausted:
		return "exhausted"
	case sortBufferAborted:
		return "aborted"
	default:
		return "invalid"
	}
}

// SpillStats is a snapshot of the disk activity of one sort.
type SpillStats struct {
	// Runs is the number of sorted runs written because of memory pressure.
	Runs int64
	// SpilledBytes is the compressed size of those runs.
	SpilledBytes int64
	// SpilledRows is the number of rows written to those runs.
	SpilledRows int64
	// MergePasses is the number of intermediate merge passes that were needed
	// to respect the merge fan-in limit.
	MergePasses int64
	// WriteTime is the cumulative wall time spent writing runs.
	WriteTime time.Duration
}

// sortBuffer is the sorting engine behind the OrderBy operator. It buffers
// input rows in an append-only batch, writes sorted runs to a RunStore when
// asked to give up memory, and merges runs and the in-memory residue into a
// globally ordered stream.
//
// The engine is driven by a single goroutine with one exception: writeRun may
// be invoked by the memory governor through OrderBy.Reclaim while the driving
// goroutine is quiescent. Methods that touch the shared lifecycle state take
// its mutex only in short sections; writeRun touches none of it so that the
// reclaim path can call it with the lifecycle mutex already held.
type sortBuffer struct {
	typs      []coltypes.T
	keys      []sortKey
	allocator *colmem.Allocator
	lifecycle *colexecop.LifecycleState
	metrics   *execinfra.Metrics

	state sortBufferState

	// buffered holds the resident rows in arrival order. nil until the first
	// append and after a spill.
	buffered *coldata.Batch
	// order enumerates buffered's rows in sorted order once sortResident has
	// run.
	order []int

	// scratch carries rows between the buffer and the run files. Allocated
	// lazily, capacity coldata.BatchSize().
	scratch *coldata.Batch

	spillCfg       *colcontainer.Config
	spillThreshold int64
	maxMergeRuns   int
	diskAcc        *mon.BoundAccount
	store          *colcontainer.RunStore
	// aliveRuns are the run indexes not yet consumed by an intermediate
	// merge.
	aliveRuns []int

	outputBatchRows int
	output          *coldata.Batch
	merge           *mergeQueue

	stats SpillStats

	// err is a failure raised on the reclaim path, surfaced to the driving
	// goroutine on its next call.
	err error
}

// newSortBuffer creates the engine. spillCfg nil disables spilling, in which
// case exceeding the memory budget surfaces as an out-of-memory error.
func newSortBuffer(
	allocator *colmem.Allocator,
	typs []coltypes.T,
	keys []sortKey,
	outputBatchRows int,
	maxMergeRuns int,
	lifecycle *colexecop.LifecycleState,
	spillCfg *colcontainer.Config,
	spillThreshold int64,
	diskAcc *mon.BoundAccount,
	metrics *execinfra.Metrics,
) *sortBuffer {
	return &sortBuffer{
		typs:            append([]coltypes.T(nil), typs...),
		keys:            keys,
		allocator:       allocator,
		lifecycle:       lifecycle,
		metrics:         metrics,
		state:           sortBufferAccumulating,
		spillCfg:        spillCfg,
		spillThreshold:  spillThreshold,
		maxMergeRuns:    maxMergeRuns,
		diskAcc:         diskAcc,
		outputBatchRows: outputBatchRows,
	}
}

func (b *sortBuffer) assertState(expected sortBufferState) {
	if b.state != expected {
		colexecerror.InternalError(errors.AssertionFailedf(
			"sort buffer is %s, expected %s", b.state, expected))
	}
}

// checkDeferredErr surfaces a failure raised on the reclaim path.
func (b *sortBuffer) checkDeferredErr() {
	if b.err != nil {
		colexecerror.ExpectedError(b.err)
	}
}

// deferErr stashes err to be surfaced to the driving goroutine on its next
// call. The first error wins.
func (b *sortBuffer) deferErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *sortBuffer) residentRows() int {
	if b.buffered == nil {
		return 0
	}
	return b.buffered.Length()
}

// addInput copies the batch into the buffer, spilling beforehand if the
// append would push the accounted footprint past the spill threshold.
func (b *sortBuffer) addInput(ctx context.Context, in *coldata.Batch) {
	b.checkDeferredErr()
	b.assertState(sortBufferAccumulating)
	n := in.Length()
	if n == 0 {
		return
	}
	if b.spillCfg != nil && b.residentRows() > 0 {
		if b.allocator.Used()+b.appendGrowth(n) > b.spillThreshold {
			b.spill(ctx)
		}
	}
	b.appendRows(in)
}

// appendGrowth estimates the extra memory that appending n rows will
// register with the allocator. When the append will reallocate the buffer,
// the estimate covers the transient period during which the old and the new
// buffer are both accounted, so that a spill decision made against it keeps
// the append within budget.
func (b *sortBuffer) appendGrowth(n int) int64 {
	cur := b.residentRows()
	if b.buffered == nil {
		capacity := n
		if capacity < coldata.BatchSize() {
			capacity = coldata.BatchSize()
		}
		return colmem.EstimateBatchSizeBytes(b.typs, capacity)
	}
	if cur+n <= b.buffered.Capacity() {
		return colmem.EstimateBatchSizeBytes(b.typs, n)
	}
	newCapacity := 2 * b.buffered.Capacity()
	if newCapacity < cur+n {
		newCapacity = cur + n
	}
	return colmem.EstimateBatchSizeBytes(b.typs, newCapacity)
}

// appendRows copies all rows of in to the end of the buffer, growing it as
// needed.
func (b *sortBuffer) appendRows(in *coldata.Batch) {
	n := in.Length()
	cur := b.residentRows()
	b.ensureBufferCapacity(cur + n)
	b.allocator.PerformOperation(b.buffered.ColVecs(), func() {
		for i := 0; i < n; i++ {
			copyRow(b.buffered, cur+i, in, i)
		}
	})
	b.buffered.SetLength(cur + n)
}

// ensureBufferCapacity makes the buffer hold at least capacity rows,
// reallocating with doubling growth when needed. Resident rows survive the
// reallocation.
func (b *sortBuffer) ensureBufferCapacity(capacity int) {
	if b.buffered == nil {
		if capacity < coldata.BatchSize() {
			capacity = coldata.BatchSize()
		}
		b.buffered = b.allocator.NewMemBatchWithFixedCapacity(b.typs, capacity)
		return
	}
	if b.buffered.Capacity() >= capacity {
		return
	}
	newCapacity := 2 * b.buffered.Capacity()
	if newCapacity < capacity {
		newCapacity = capacity
	}
	old := b.buffered
	grown := b.allocator.NewMemBatchWithFixedCapacity(b.typs, newCapacity)
	b.allocator.PerformOperation(grown.ColVecs(), func() {
		for i := 0; i < old.Length(); i++ {
			copyRow(grown, i, old, i)
		}
	})
	grown.SetLength(old.Length())
	b.buffered = grown
	b.allocator.AdjustMemoryUsage(-colmem.GetBatchMemSize(old))
}

// sortResident rebuilds the order index over the buffered rows and sorts it.
func (b *sortBuffer) sortResident() {
	n := b.residentRows()
	if cap(b.order) < n {
		b.order = make([]int, n)
	}
	b.order = b.order[:n]
	for i := range b.order {
		b.order[i] = i
	}
	sortRows(b.keys, b.buffered, b.order)
}

func (b *sortBuffer) ensureScratch() {
	if b.scratch == nil {
		b.scratch = b.allocator.NewMemBatchWithFixedCapacity(b.typs, coldata.BatchSize())
	}
}

func (b *sortBuffer) releaseScratch() {
	if b.scratch != nil {
		b.allocator.AdjustMemoryUsage(-colmem.GetBatchMemSize(b.scratch))
		b.scratch = nil
	}
}

// spill writes the resident rows out as one sorted run inside a
// non-reclaimable section. Only the driving goroutine may call it; the
// reclaim path calls writeRun directly because it already holds the
// lifecycle mutex.
func (b *sortBuffer) spill(ctx context.Context) {
	b.lifecycle.SetNonReclaimable(true)
	defer b.lifecycle.SetNonReclaimable(false)
	spilled, err := b.writeRun(ctx)
	if err != nil {
		colexecerror.ExpectedError(err)
	}
	if spilled {
		b.lifecycle.RecordSpillRun()
	}
}

// writeRun sorts the resident rows, streams them into a new run file and
// releases their memory. Writing zero resident rows is a no-op. It must not
// touch the lifecycle state: the reclaim path calls it with the lifecycle
// mutex held.
func (b *sortBuffer) writeRun(ctx context.Context) (bool, error) {
	n := b.residentRows()
	if n == 0 {
		return false, nil
	}
	if b.store == nil {
		b.store = colcontainer.NewRunStore(*b.spillCfg, b.typs, b.diskAcc)
	}
	start := timeutil.Now()
	b.sortResident()
	b.ensureScratch()
	w, err := b.store.NewRunWriter(ctx)
	if err != nil {
		b.deferErr(err)
		return false, err
	}
	// Close is idempotent; the deferred call covers every early exit, the
	// allocator's budget panics included.
	defer func() { _ = w.Close(ctx) }()
	for base := 0; base < n; base += coldata.BatchSize() {
		chunk := n - base
		if chunk > coldata.BatchSize() {
			chunk = coldata.BatchSize()
		}
		b.scratch.ResetInternalBatch()
		b.allocator.PerformOperation(b.scratch.ColVecs(), func() {
			for i := 0; i < chunk; i++ {
				copyRow(b.scratch, i, b.buffered, b.order[base+i])
			}
		})
		b.scratch.SetLength(chunk)
		if err := w.WriteBatch(b.scratch); err != nil {
			b.deferErr(err)
			return false, err
		}
	}
	if err := w.Close(ctx); err != nil {
		b.deferErr(err)
		return false, err
	}
	runIdx := b.store.NumRuns() - 1
	b.aliveRuns = append(b.aliveRuns, runIdx)

	// The run now holds the rows; give all of their memory back, the write
	// scratch included, so that a reclaim visibly frees the budget.
	b.allocator.AdjustMemoryUsage(-colmem.GetBatchMemSize(b.buffered))
	b.buffered = nil
	b.order = b.order[:0]
	b.releaseScratch()

	elapsed := timeutil.Since(start)
	runBytes := b.store.RunSize(runIdx)
	b.stats.Runs++
	b.stats.SpilledBytes += runBytes
	b.stats.SpilledRows += int64(n)
	b.stats.WriteTime += elapsed
	b.metrics.RecordSpill(runBytes, int64(n), elapsed)
	if log.V(1) {
		log.VEventf(ctx, 1, "sort spilled run %d: %d rows, %s in %s",
			runIdx, n, humanizeutil.IBytes(runBytes), elapsed)
	}
	return true, nil
}

// noMoreInput closes the input phase: it sorts the residue, reduces the run
// count to the merge fan-in limit, and sets up the final merge.
func (b *sortBuffer) noMoreInput(ctx context.Context) {
	b.checkDeferredErr()
	b.assertState(sortBufferAccumulating)
	b.state = sortBufferFinalizing
	b.lifecycle.SetNonReclaimable(true)
	defer b.lifecycle.SetNonReclaimable(false)

	for len(b.aliveRuns) > b.maxMergeRuns {
		if err := b.mergeRunSubset(ctx, b.maxMergeRuns); err != nil {
			colexecerror.ExpectedError(err)
		}
	}

	cursors := make([]mergeCursor, 0, len(b.aliveRuns)+1)
	defer func() {
		// Owned by the merge once it is built; until then close on any exit.
		for _, c := range cursors {
			_ = c.close(ctx)
		}
	}()
	if b.residentRows() > 0 {
		b.sortResident()
		cursors = append(cursors, &residueCursor{batch: b.buffered, order: b.order})
	}
	for _, runIdx := range b.aliveRuns {
		c, err := newRunCursor(ctx, b.store, runIdx, b.typs, b.allocator)
		if err != nil {
			colexecerror.ExpectedError(err)
		}
		cursors = append(cursors, c)
	}
	b.merge = newMergeQueue(b.keys, cursors)
	cursors = nil
	// The scratch only serves run writing, which is over.
	b.releaseScratch()
	b.state = sortBufferProducing
}

// mergeRunSubset merges the first count alive runs into a single new run and
// removes the sources.
func (b *sortBuffer) mergeRunSubset(ctx context.Context, count int) error {
	b.ensureScratch()
	cursors := make([]mergeCursor, 0, count)
	defer func() {
		for _, c := range cursors {
			_ = c.close(ctx)
		}
	}()
	for _, runIdx := range b.aliveRuns[:count] {
		c, err := newRunCursor(ctx, b.store, runIdx, b.typs, b.allocator)
		if err != nil {
			return err
		}
		cursors = append(cursors, c)
	}
	m := newMergeQueue(b.keys, cursors)

	w, err := b.store.NewRunWriter(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close(ctx) }()
	for {
		b.scratch.ResetInternalBatch()
		var n int
		b.allocator.PerformOperation(b.scratch.ColVecs(), func() {
			n, err = m.nextInto(ctx, b.scratch, coldata.BatchSize())
		})
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		b.scratch.SetLength(n)
		if err := w.WriteBatch(b.scratch); err != nil {
			return err
		}
	}
	if err := w.Close(ctx); err != nil {
		return err
	}
	newRunIdx := b.store.NumRuns() - 1

	// Close the source cursors before removing their files.
	var closeErr error
	for _, c := range cursors {
		closeErr = errors.CombineErrors(closeErr, c.close(ctx))
	}
	cursors = nil
	if closeErr != nil {
		return closeErr
	}
	for _, runIdx := range b.aliveRuns[:count] {
		if err := b.store.RemoveRun(ctx, runIdx); err != nil {
			return err
		}
	}
	b.aliveRuns = append(b.aliveRuns[count:], newRunIdx)
	b.stats.MergePasses++
	b.metrics.RecordMergePass()
	if log.V(1) {
		log.VEventf(ctx, 1, "sort merged %d runs into run %d", count, newRunIdx)
	}
	return nil
}

// next returns the next ordered output batch, or nil when all rows have been
// emitted. The returned batch is reused by the following call.
func (b *sortBuffer) next(ctx context.Context) *coldata.Batch {
	b.checkDeferredErr()
	switch b.state {
	case sortBufferProducing:
	case sortBufferExhausted:
		return nil
	default:
		colexecerror.InternalError(errors.AssertionFailedf(
			"next called on a sort buffer that is %s", b.state))
	}
	b.output, _ = b.allocator.ResetMaybeReallocate(b.typs, b.output, b.outputBatchRows)
	var n int
	b.allocator.PerformOperation(b.output.ColVecs(), func() {
		var err error
		n, err = b.merge.nextInto(ctx, b.output, b.outputBatchRows)
		if err != nil {
			colexecerror.ExpectedError(err)
		}
	})
	if n == 0 {
		b.state = sortBufferExhausted
		return nil
	}
	b.output.SetLength(n)
	return b.output
}

// spillStats returns a snapshot of the engine's disk activity.
func (b *sortBuffer) spillStats() SpillStats {
	return b.stats
}

// close releases everything the engine holds: buffered memory, the merge
// cursors, and the run files. Idempotent.
func (b *sortBuffer) close(ctx context.Context) error {
	if b.state == sortBufferAborted {
		return nil
	}
	b.state = sortBufferAborted
	var err error
	if b.merge != nil {
		err = b.merge.close(ctx)
		b.merge = nil
	}
	if b.store != nil {
		err = errors.CombineErrors(err, b.store.CloseAndRemove(ctx))
		b.store = nil
	}
	b.buffered = nil
	b.scratch = nil
	b.output = nil
	b.order = nil
	b.aliveRuns = nil
	b.allocator.ReleaseAll()
	return err
}
