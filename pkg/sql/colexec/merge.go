// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package colexec

import (
	"container/heap"
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vexecdb/vexec/pkg/col/coldata"
	"github.com/vexecdb/vexec/pkg/col/coltypes"
	"github.com/vexecdb/vexec/pkg/sql/colcontainer"
	"github.com/vexecdb/vexec/pkg/sql/colmem"
)

// mergeCursor enumerates the rows of one sorted run. A freshly created cursor
// is positioned on the run's first row; runs are never empty.
type mergeCursor interface {
	// currentBatch returns the batch holding the cursor's current row.
	currentBatch() *coldata.Batch

	// currentIdx returns the index of the current row within currentBatch.
	currentIdx() int

	// advance moves the cursor to the next row. It returns false once the run
	// is exhausted.
	advance(ctx context.Context) (bool, error)

	// close releases the cursor's resources.
	close(ctx context.Context) error
}

// residueCursor walks the sorted resident rows through their order index.
type residueCursor struct {
	batch *coldata.Batch
	order []int
	pos   int
}

var _ mergeCursor = &residueCursor{}

func (c *residueCursor) currentBatch() *coldata.Batch { return c.batch }
func (c *residueCursor) currentIdx() int              { return c.order[c.pos] }

func (c *residueCursor) advance(context.Context) (bool, error) {
	c.pos++
	return c.pos < len(c.order), nil
}

func (c *residueCursor) close(context.Context) error { return nil }

// runCursor streams a spilled run back from disk, holding one decoded record
// in memory at a time. The record batch stays registered with the allocator
// while loaded.
type runCursor struct {
	reader    *colcontainer.RunReader
	allocator *colmem.Allocator
	batch     *coldata.Batch
	idx       int
}

var _ mergeCursor = &runCursor{}

// newRunCursor opens run runIdx of the store and positions the cursor on its
// first row.
func newRunCursor(
	ctx context.Context,
	store *colcontainer.RunStore,
	runIdx int,
	typs []coltypes.T,
	allocator *colmem.Allocator,
) (*runCursor, error) {
	// The decode batch is allocated before the run is opened so that a budget
	// failure cannot leak an open file.
	c := &runCursor{
		allocator: allocator,
		batch:     allocator.NewMemBatchWithFixedCapacity(typs, coldata.BatchSize()),
	}
	success := false
	defer func() {
		if !success {
			_ = c.close(ctx)
		}
	}()
	reader, err := store.NewRunReader(ctx, runIdx)
	if err != nil {
		return nil, err
	}
	c.reader = reader
	ok, err := c.load()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.AssertionFailedf("spill run %d is empty", runIdx)
	}
	success = true
	return c, nil
}

// load reads the run's next record into the cursor's batch, keeping the
// batch's footprint registered with the allocator.
func (c *runCursor) load() (bool, error) {
	var ok bool
	var err error
	c.allocator.PerformOperation(c.batch.ColVecs(), func() {
		ok, err = c.reader.ReadBatch(c.batch)
	})
	c.idx = 0
	return ok, err
}

func (c *runCursor) currentBatch() *coldata.Batch { return c.batch }
func (c *runCursor) currentIdx() int              { return c.idx }

func (c *runCursor) advance(context.Context) (bool, error) {
	c.idx++
	if c.idx < c.batch.Length() {
		return true, nil
	}
	return c.load()
}

func (c *runCursor) close(context.Context) error {
	var err error
	if c.reader != nil {
		err = c.reader.Close()
		c.reader = nil
	}
	if c.batch != nil {
		c.allocator.AdjustMemoryUsage(-colmem.GetBatchMemSize(c.batch))
		c.batch = nil
	}
	return err
}

// mergeQueue merges an arbitrary number of sorted cursors into a single
// ordered row stream using a min-heap keyed by each cursor's current row.
type mergeQueue struct {
	keys    []sortKey
	cursors []mergeCursor
	// heap holds indices into cursors, ordered as a min-heap on the cursors'
	// current rows.
	heap []int
}

var _ heap.Interface = &mergeQueue{}

// newMergeQueue builds a merge over the given cursors, all positioned on
// their first rows.
func newMergeQueue(keys []sortKey, cursors []mergeCursor) *mergeQueue {
	m := &mergeQueue{
		keys:    keys,
		cursors: cursors,
		heap:    make([]int, len(cursors)),
	}
	for i := range cursors {
		m.heap[i] = i
	}
	heap.Init(m)
	return m
}

// nextInto copies up to maxRows rows in merged order into dst, starting at
// row zero, and returns the number of rows written. Zero rows means all
// cursors are exhausted. The caller is responsible for setting dst's length
// and accounting its growth.
func (m *mergeQueue) nextInto(ctx context.Context, dst *coldata.Batch, maxRows int) (int, error) {
	outIdx := 0
	for outIdx < maxRows && len(m.heap) > 0 {
		c := m.cursors[m.heap[0]]
		copyRow(dst, outIdx, c.currentBatch(), c.currentIdx())
		outIdx++
		ok, err := c.advance(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			heap.Remove(m, 0)
		} else {
			heap.Fix(m, 0)
		}
	}
	return outIdx, nil
}

// close closes all cursors, combining any errors.
func (m *mergeQueue) close(ctx context.Context) error {
	var err error
	for _, c := range m.cursors {
		err = errors.CombineErrors(err, c.close(ctx))
	}
	m.cursors = nil
	m.heap = nil
	return err
}

// Len is part of heap.Interface and is only meant to be used internally.
func (m *mergeQueue) Len() int { return len(m.heap) }

// Less is part of heap.Interface and is only meant to be used internally.
func (m *mergeQueue) Less(i, j int) bool {
	a, b := m.cursors[m.heap[i]], m.cursors[m.heap[j]]
	return compareRows(m.keys, a.currentBatch(), a.currentIdx(), b.currentBatch(), b.currentIdx()) < 0
}

// Swap is part of heap.Interface and is only meant to be used internally.
func (m *mergeQueue) Swap(i, j int) {
	m.heap[i], m.heap[j] = m.heap[j], m.heap[i]
}

// Push is part of heap.Interface and is only meant to be used internally.
func (m *mergeQueue) Push(x interface{}) {
	m.heap = append(m.heap, x.(int))
}

// Pop is part of heap.Interface and is only meant to be used internally.
func (m *mergeQueue) Pop() interface{} {
	x := m.heap[len(m.heap)-1]
	m.heap = m.heap[:len(m.heap)-1]
	return x
}
