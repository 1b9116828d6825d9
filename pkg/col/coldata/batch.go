// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package coldata exposes the columnar batch representation used by the
// vectorized execution engine.
package coldata

import (
	"github.com/cockroachdb/errors"
	"github.com/vexecdb/vexec/pkg/col/coltypes"
)

const (
	defaultBatchSize = 1024
	// maxBatchSize is the maximum acceptable size of batches.
	maxBatchSize = 4096
)

// BatchSize is the default number of rows in a columnar batch.
func BatchSize() int {
	return defaultBatchSize
}

// MaxBatchSize is the maximum acceptable number of rows in a columnar batch.
func MaxBatchSize() int {
	return maxBatchSize
}

// Batch is a fixed-schema collection of column vectors processed as a unit.
// The batch is in a valid state when all its vectors hold at least Length()
// values.
type Batch struct {
	length   int
	capacity int
	typs     []coltypes.T
	vecs     []*Vec
}

// NewMemBatchWithCapacity allocates a new in-memory Batch with the given
// column types and row capacity. Most callers should go through the colmem
// allocator instead so that the memory is accounted for.
func NewMemBatchWithCapacity(typs []coltypes.T, capacity int) *Batch {
	b := &Batch{
		capacity: capacity,
		typs:     append([]coltypes.T(nil), typs...),
		vecs:     make([]*Vec, len(typs)),
	}
	for i, t := range typs {
		b.vecs[i] = NewMemColumn(t, capacity)
	}
	return b
}

// Length returns the number of values in the batch.
func (b *Batch) Length() int {
	return b.length
}

// SetLength sets the number of values in the batch.
func (b *Batch) SetLength(n int) {
	if n > b.capacity {
		panic(errors.AssertionFailedf(
			"length %d exceeds batch capacity %d", n, b.capacity))
	}
	b.length = n
}

// Capacity returns the maximum number of values the batch can hold.
func (b *Batch) Capacity() int {
	return b.capacity
}

// Width returns the number of columns in the batch.
func (b *Batch) Width() int {
	return len(b.vecs)
}

// Types returns the physical types of the batch's columns. The returned slice
// must not be mutated.
func (b *Batch) Types() []coltypes.T {
	return b.typs
}

// ColVec returns the ith column vector.
func (b *Batch) ColVec(i int) *Vec {
	return b.vecs[i]
}

// ColVecs returns all column vectors. The returned slice must not be
// mutated.
func (b *Batch) ColVecs() []*Vec {
	return b.vecs
}

// ResetInternalBatch resets the batch for reuse: the length becomes zero, all
// nulls are unset, and variable-length columns are emptied while keeping
// their buffers.
func (b *Batch) ResetInternalBatch() {
	b.length = 0
	for _, v := range b.vecs {
		v.Nulls().UnsetNulls()
		if v.Type() == coltypes.Bytes {
			v.Bytes().Reset()
		}
	}
}
