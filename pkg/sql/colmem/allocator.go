// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package colmem provides the memory accounting layer between the vectorized
// operators and the mon.BytesMonitor hierarchy.
package colmem

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vexecdb/vexec/pkg/col/coldata"
	"github.com/vexecdb/vexec/pkg/col/coltypes"
	"github.com/vexecdb/vexec/pkg/sql/colexecerror"
	"github.com/vexecdb/vexec/pkg/util/mon"
)

// Allocator is a memory management object that allocates batches on behalf of
// a vectorized operator and registers their footprint with a bound account.
// When the account cannot accommodate a growth the Allocator panics with a
// colexecerror.ExpectedError so that the failure propagates to the operator
// driver as an out-of-memory error rather than an assertion.
type Allocator struct {
	ctx context.Context
	acc *mon.BoundAccount
}

// NewAllocator constructs a new Allocator instance backed by acc.
func NewAllocator(ctx context.Context, acc *mon.BoundAccount) *Allocator {
	return &Allocator{ctx: ctx, acc: acc}
}

// NewMemBatchWithFixedCapacity allocates a new in-memory coldata.Batch with
// the given column schema and capacity. The budget check runs against the
// size estimate before anything is allocated; the registered amount is then
// settled to the measured footprint, so the account always tracks footprints
// and a release of GetBatchMemSize balances it exactly.
func (a *Allocator) NewMemBatchWithFixedCapacity(
	typs []coltypes.T, capacity int,
) *coldata.Batch {
	if capacity <= 0 {
		colexecerror.InternalError(errors.AssertionFailedf(
			"non-positive batch capacity %d", capacity))
	}
	estimate := EstimateBatchSizeBytes(typs, capacity)
	if err := a.acc.Grow(a.ctx, estimate); err != nil {
		colexecerror.ExpectedError(err)
	}
	b := coldata.NewMemBatchWithCapacity(typs, capacity)
	a.AdjustMemoryUsage(GetBatchMemSize(b) - estimate)
	return b
}

// ResetMaybeReallocate returns a batch that has the given schema and space for
// at least requiredCapacity rows. If oldBatch has enough capacity it is simply
// reset and returned, otherwise a new batch is allocated and the old batch's
// footprint is released. The boolean indicates whether a new batch was
// allocated, in which case any references into the old batch are invalid.
func (a *Allocator) ResetMaybeReallocate(
	typs []coltypes.T, oldBatch *coldata.Batch, requiredCapacity int,
) (*coldata.Batch, bool) {
	if requiredCapacity <= 0 {
		requiredCapacity = 1
	}
	if requiredCapacity > coldata.MaxBatchSize() {
		requiredCapacity = coldata.MaxBatchSize()
	}
	if oldBatch != nil && oldBatch.Capacity() >= requiredCapacity {
		oldBatch.ResetInternalBatch()
		return oldBatch, false
	}
	if oldBatch != nil {
		a.AdjustMemoryUsage(-GetBatchMemSize(oldBatch))
	}
	return a.NewMemBatchWithFixedCapacity(typs, requiredCapacity), true
}

// PerformOperation executes operation, which is assumed to only mutate
// destVecs, and updates the account by the change in the vectors' footprint.
// This is the mechanism by which variable-size growth (e.g. appending to a
// Bytes vector) stays accounted.
func (a *Allocator) PerformOperation(destVecs []*coldata.Vec, operation func()) {
	before := getVecsMemoryFootprint(destVecs)
	operation()
	after := getVecsMemoryFootprint(destVecs)
	a.AdjustMemoryUsage(after - before)
}

// AdjustMemoryUsage grows or shrinks the account by delta bytes. A growth that
// exceeds the budget results in a colexecerror.ExpectedError panic.
func (a *Allocator) AdjustMemoryUsage(delta int64) {
	if delta > 0 {
		if err := a.acc.Grow(a.ctx, delta); err != nil {
			colexecerror.ExpectedError(err)
		}
	} else if delta < 0 {
		a.acc.Shrink(a.ctx, -delta)
	}
}

// Used returns the number of bytes currently registered with the account.
func (a *Allocator) Used() int64 {
	return a.acc.Used()
}

// ReleaseAll releases all bytes registered with the account. The batches the
// bytes were accounted for must not be used afterwards.
func (a *Allocator) ReleaseAll() {
	a.acc.Clear(a.ctx)
}

const (
	sizeOfBool    = int64(1)
	sizeOfInt64   = int64(8)
	sizeOfFloat64 = int64(8)
	// bytesValueSizeEstimate is the assumed average payload of a single value
	// in a Bytes vector, used when the actual data is not yet known.
	bytesValueSizeEstimate = int64(16)
)

// EstimateBatchSizeBytes returns an estimate of the footprint in bytes of a
// batch with the given schema and number of rows.
func EstimateBatchSizeBytes(typs []coltypes.T, batchLength int) int64 {
	if batchLength < 0 {
		colexecerror.InternalError(errors.AssertionFailedf(
			"negative batch length %d", batchLength))
	}
	nullBitmapSize := int64((batchLength-1)/8 + 1)
	acc := int64(0)
	for _, t := range typs {
		switch t {
		case coltypes.Bool:
			acc += sizeOfBool * int64(batchLength)
		case coltypes.Int64:
			acc += sizeOfInt64 * int64(batchLength)
		case coltypes.Float64:
			acc += sizeOfFloat64 * int64(batchLength)
		case coltypes.Bytes:
			// Offsets plus the assumed payload.
			acc += coldata.FlatBytesOverhead +
				int64(batchLength)*(4+bytesValueSizeEstimate)
		default:
			colexecerror.InternalError(errors.AssertionFailedf(
				"unhandled column type %s", t))
		}
		acc += nullBitmapSize
	}
	return acc
}

// GetBatchMemSize returns the measured footprint of the batch in bytes.
func GetBatchMemSize(b *coldata.Batch) int64 {
	if b == nil {
		return 0
	}
	return getVecsMemoryFootprint(b.ColVecs())
}

func getVecsMemoryFootprint(vecs []*coldata.Vec) int64 {
	var size int64
	for _, v := range vecs {
		switch v.Type() {
		case coltypes.Bool:
			size += sizeOfBool * int64(len(v.Bool()))
		case coltypes.Int64:
			size += sizeOfInt64 * int64(len(v.Int64()))
		case coltypes.Float64:
			size += sizeOfFloat64 * int64(len(v.Float64()))
		case coltypes.Bytes:
			size += v.Bytes().Size()
		default:
			colexecerror.InternalError(errors.AssertionFailedf(
				"unhandled column type %s", v.Type()))
		}
		size += int64(len(v.Nulls().NullBitmap()))
	}
	return size
}
