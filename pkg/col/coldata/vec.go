// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package coldata

import (
	"github.com/cockroachdb/errors"
	"github.com/vexecdb/vexec/pkg/col/coltypes"
)

// Bools is a slice of bool.
type Bools []bool

// Int64s is a slice of int64.
type Int64s []int64

// Float64s is a slice of float64.
type Float64s []float64

// Vec is an in-memory column of a single physical type.
type Vec struct {
	t     coltypes.T
	col   interface{}
	nulls Nulls
}

// NewMemColumn returns a new in-memory Vec of the given type with space for
// n values.
func NewMemColumn(t coltypes.T, n int) *Vec {
	v := &Vec{t: t, nulls: NewNulls(n)}
	switch t {
	case coltypes.Bool:
		v.col = make(Bools, n)
	case coltypes.Int64:
		v.col = make(Int64s, n)
	case coltypes.Float64:
		v.col = make(Float64s, n)
	case coltypes.Bytes:
		v.col = NewBytes(n)
	default:
		panic(errors.AssertionFailedf("unhandled column type %s", t))
	}
	return v
}

// Type returns the physical type of the vector.
func (v *Vec) Type() coltypes.T {
	return v.t
}

// Bool returns the bool column.
func (v *Vec) Bool() Bools {
	return v.col.(Bools)
}

// Int64 returns the int64 column.
func (v *Vec) Int64() Int64s {
	return v.col.(Int64s)
}

// Float64 returns the float64 column.
func (v *Vec) Float64() Float64s {
	return v.col.(Float64s)
}

// Bytes returns the bytes column.
func (v *Vec) Bytes() *Bytes {
	return v.col.(*Bytes)
}

// Nulls returns the null bitmap of the vector.
func (v *Vec) Nulls() *Nulls {
	return &v.nulls
}

// Capacity returns the number of values the vector has space for.
func (v *Vec) Capacity() int {
	switch v.t {
	case coltypes.Bool:
		return len(v.Bool())
	case coltypes.Int64:
		return len(v.Int64())
	case coltypes.Float64:
		return len(v.Float64())
	case coltypes.Bytes:
		return v.Bytes().Len()
	default:
		panic(errors.AssertionFailedf("unhandled column type %s", v.t))
	}
}

// CopyValue copies the value at srcIdx of src into position dstIdx of dst.
// The vectors must have the same physical type. Bytes destinations must be
// written in non-decreasing index order, per the flat Bytes contract.
func CopyValue(dst *Vec, dstIdx int, src *Vec, srcIdx int) {
	if src.nulls.MaybeHasNulls() && src.nulls.NullAt(srcIdx) {
		dst.nulls.SetNull(dstIdx)
		if dst.t == coltypes.Bytes {
			// Keep the offsets contiguous for null values.
			dst.Bytes().Set(dstIdx, nil)
		}
		return
	}
	if dst.nulls.MaybeHasNulls() {
		dst.nulls.UnsetNull(dstIdx)
	}
	switch dst.t {
	case coltypes.Bool:
		dst.Bool()[dstIdx] = src.Bool()[srcIdx]
	case coltypes.Int64:
		dst.Int64()[dstIdx] = src.Int64()[srcIdx]
	case coltypes.Float64:
		dst.Float64()[dstIdx] = src.Float64()[srcIdx]
	case coltypes.Bytes:
		dst.Bytes().Set(dstIdx, src.Bytes().Get(srcIdx))
	default:
		panic(errors.AssertionFailedf("unhandled column type %s", dst.t))
	}
}
