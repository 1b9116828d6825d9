// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package coldata

// zeroedNulls is a zeroed out slice representing a bitmap of size MaxBatchSize.
// This is copied to efficiently unset a nulls bitmap.
var zeroedNulls [(maxBatchSize-1)/8 + 1]byte

// filledNulls is a slice representing a bitmap of size MaxBatchSize with every
// single bit set.
var filledNulls [(maxBatchSize-1)/8 + 1]byte

// bitMask[i] is a byte with a single bit set at i.
var bitMask = [8]byte{0x1, 0x2, 0x4, 0x8, 0x10, 0x20, 0x40, 0x80}

// flippedBitMask[i] is a byte with all bits set except at i.
var flippedBitMask = [8]byte{0xFE, 0xFD, 0xFB, 0xF7, 0xEF, 0xDF, 0xBF, 0x7F}

func init() {
	for i := range filledNulls {
		filledNulls[i] = 0xFF
	}
}

// Nulls represents a list of potentially nullable values using a bitmap. It
// is assumed that the bitmap is of sufficient size to accommodate all
// potentially nullable values, so the caller must update itself when the
// number of values changes. The bitmap uses the same LSB layout as Arrow
// validity buffers: a set bit means "valid", a cleared bit means "null".
type Nulls struct {
	nulls []byte
	// maybeHasNulls is a best-effort representation of whether or not the
	// vector has any null values set. If it is false, there definitely will be
	// no null values. If it is true, there may or may not be null values.
	maybeHasNulls bool
}

// NewNulls returns a new nulls vector, initialized with a length capable of
// storing n values.
func NewNulls(n int) Nulls {
	if n <= 0 {
		n = 1
	}
	nulls := Nulls{nulls: make([]byte, (n-1)/8+1)}
	nulls.UnsetNulls()
	return nulls
}

// MaybeHasNulls returns true if the column possibly has any null values.
func (n *Nulls) MaybeHasNulls() bool {
	return n.maybeHasNulls
}

// NullAt returns true if the ith value of the column is null.
func (n *Nulls) NullAt(i int) bool {
	return n.nulls[i>>3]&bitMask[i&7] == 0
}

// SetNull sets the ith value of the column to null.
func (n *Nulls) SetNull(i int) {
	n.maybeHasNulls = true
	n.nulls[i>>3] &= flippedBitMask[i&7]
}

// UnsetNull unsets the ith value of the column.
func (n *Nulls) UnsetNull(i int) {
	n.nulls[i>>3] |= bitMask[i&7]
}

// UnsetNulls sets the column to have no null values.
func (n *Nulls) UnsetNulls() {
	n.maybeHasNulls = false
	startIdx := 0
	for startIdx < len(n.nulls) {
		startIdx += copy(n.nulls[startIdx:], filledNulls[:])
	}
}

// SetNulls sets the column to have only null values.
func (n *Nulls) SetNulls() {
	n.maybeHasNulls = true
	startIdx := 0
	for startIdx < len(n.nulls) {
		startIdx += copy(n.nulls[startIdx:], zeroedNulls[:])
	}
}

// NullBitmap returns the null bitmap. A set bit means the value is valid.
func (n *Nulls) NullBitmap() []byte {
	return n.nulls
}

// SetNullBitmap sets the validity bitmap to bm, which must use the Arrow
// layout, and resizes it to accommodate size values. A nil bm means all
// values are valid. The bitmap is scanned to recompute maybeHasNulls.
func (n *Nulls) SetNullBitmap(bm []byte, size int) {
	if len(bm) == 0 {
		if size > 0 {
			bm = make([]byte, (size-1)/8+1)
			for i := range bm {
				bm[i] = 0xFF
			}
		}
		n.nulls = bm
		n.maybeHasNulls = false
		return
	}
	n.nulls = bm
	n.maybeHasNulls = false
	for i := 0; i < size; i++ {
		if n.NullAt(i) {
			n.maybeHasNulls = true
			return
		}
	}
}

// Copy copies the contents of other into n.
func (n *Nulls) Copy(other *Nulls) {
	if len(n.nulls) < len(other.nulls) {
		n.nulls = make([]byte, len(other.nulls))
	}
	copy(n.nulls, other.nulls)
	n.maybeHasNulls = other.maybeHasNulls
}
