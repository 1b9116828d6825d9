// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package coldata

import (
	"unsafe"

	"github.com/cockroachdb/errors"
)

// Bytes is a vector that stores []byte values using a flat representation:
// all values are appended to a single contiguous buffer, and an offsets slice
// demarcates them, exactly like the Arrow variable-length binary layout.
// Elements must be Set in non-decreasing index order; Set(i) invalidates
// everything stored at larger indices.
type Bytes struct {
	// data is the slice of all bytes.
	data []byte
	// offsets contains the offsets for each []byte slice in data. The ith
	// value starts at offsets[i] and ends at offsets[i+1].
	offsets []int32
	// maxSetLength specifies the number of elements set by the user of this
	// struct. This enforces the in-order Set contract.
	maxSetLength int
}

// FlatBytesOverhead is the in-memory size of a zero-valued Bytes in bytes.
const FlatBytesOverhead = int64(unsafe.Sizeof(Bytes{}))

// NewBytes returns a Bytes struct with enough capacity for n zero-length
// []byte values.
func NewBytes(n int) *Bytes {
	return &Bytes{
		data:    make([]byte, 0, n*8),
		offsets: make([]int32, n+1),
	}
}

// Len returns how many []byte values the receiver can hold.
func (b *Bytes) Len() int {
	return len(b.offsets) - 1
}

// Get returns the ith []byte in Bytes. Note that the returned byte slice
// aliases the underlying storage and is only valid until the next mutation.
func (b *Bytes) Get(i int) []byte {
	return b.data[b.offsets[i]:b.offsets[i+1]]
}

// Set sets the ith []byte in Bytes. Sets must happen at non-decreasing
// indices: a Set at i invalidates all values at indices greater than i.
func (b *Bytes) Set(i int, v []byte) {
	if i < b.maxSetLength-1 {
		panic(errors.AssertionFailedf(
			"cannot overwrite value at index %d after %d elements have been set",
			i, b.maxSetLength))
	}
	// Intermediate indices that were never Set share the offset of the
	// previous element, representing zero-length values.
	for j := b.maxSetLength; j <= i; j++ {
		b.offsets[j] = int32(len(b.data))
	}
	b.data = append(b.data[:b.offsets[i]], v...)
	b.offsets[i+1] = int32(len(b.data))
	b.maxSetLength = i + 1
}

// Reset empties the receiver, keeping the allocated buffers for reuse.
func (b *Bytes) Reset() {
	b.data = b.data[:0]
	for i := range b.offsets {
		b.offsets[i] = 0
	}
	b.maxSetLength = 0
}

// Truncate discards all elements at indices greater than or equal to length.
func (b *Bytes) Truncate(length int) {
	if length >= b.maxSetLength {
		return
	}
	b.data = b.data[:b.offsets[length]]
	b.maxSetLength = length
}

// Size returns the total size of the receiver in bytes.
func (b *Bytes) Size() int64 {
	return FlatBytesOverhead + int64(cap(b.data)) + int64(cap(b.offsets))*4
}

// ProportionalSize returns the size of the receiver in bytes that is
// attributable to only the first n of its values.
func (b *Bytes) ProportionalSize(n int) int64 {
	if n == 0 {
		return 0
	}
	return FlatBytesOverhead + int64(b.offsets[n]) + int64(n)*4
}

// ToArrowSerializationFormat returns a pair of byte slices in the same format
// as an Arrow variable-length binary array: the data buffer and the offsets
// buffer for the first n elements.
func (b *Bytes) ToArrowSerializationFormat(n int) ([]byte, []int32) {
	if n == 0 {
		return []byte{}, []int32{0}
	}
	// Elements beyond maxSetLength (e.g. trailing nulls that were never Set)
	// need well-formed offsets.
	for j := b.maxSetLength; j < n; j++ {
		b.offsets[j+1] = int32(len(b.data))
	}
	return b.data[:b.offsets[n]], b.offsets[:n+1]
}

// BytesFromArrowSerializationFormat takes an Arrow byte slice and accompanying
// offsets and populates b.
func BytesFromArrowSerializationFormat(b *Bytes, data []byte, offsets []int32) {
	b.data = data
	b.offsets = offsets
	b.maxSetLength = len(offsets) - 1
}
