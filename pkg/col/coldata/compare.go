// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package coldata

import (
	"bytes"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/vexecdb/vexec/pkg/col/coltypes"
)

// NullHandling governs how a comparison treats null values.
type NullHandling int8

const (
	// NullAsValue makes nulls ordinary comparable values: null equals null,
	// and null orders against non-null values according to the NullsFirst
	// flag. Sorting requires this mode since it needs a total order over all
	// rows, nulls included.
	NullAsValue NullHandling = iota
	// StopAtNull makes any comparison involving a null indeterminate: the
	// comparison early-exits with 0. Used by callers for which a null
	// poisons the result (never by the sort engine).
	StopAtNull
)

// CompareFlags configures the total order produced by CompareValueAt for one
// sort key.
type CompareFlags struct {
	// NullsFirst places nulls before all non-null values in the produced
	// order when true, after them when false. Null placement is not affected
	// by Ascending.
	NullsFirst bool
	// Ascending orders non-null values smallest first when true, largest
	// first when false.
	Ascending bool
	// EqualsOnly indicates the caller only cares about equality. It does not
	// change the result and exists so that flag sets can be passed through
	// unchanged to comparators that can short-circuit on it.
	EqualsOnly bool
	// NullHandling selects between total-order and early-exit null
	// semantics.
	NullHandling NullHandling
}

// CompareValueAt compares the value at aIdx of vector a with the value at
// bIdx of vector b and returns -1, 0 or 1 according to the order configured
// by flags. The vectors must share a physical type.
func CompareValueAt(a *Vec, aIdx int, b *Vec, bIdx int, flags CompareFlags) int {
	aNull := a.nulls.MaybeHasNulls() && a.nulls.NullAt(aIdx)
	bNull := b.nulls.MaybeHasNulls() && b.nulls.NullAt(bIdx)
	if aNull || bNull {
		if flags.NullHandling == StopAtNull {
			return 0
		}
		if aNull && bNull {
			return 0
		}
		if aNull {
			if flags.NullsFirst {
				return -1
			}
			return 1
		}
		if flags.NullsFirst {
			return 1
		}
		return -1
	}

	var cmp int
	switch a.t {
	case coltypes.Bool:
		av, bv := a.Bool()[aIdx], b.Bool()[bIdx]
		if av == bv {
			cmp = 0
		} else if av {
			cmp = 1
		} else {
			cmp = -1
		}
	case coltypes.Int64:
		av, bv := a.Int64()[aIdx], b.Int64()[bIdx]
		if av < bv {
			cmp = -1
		} else if av > bv {
			cmp = 1
		}
	case coltypes.Float64:
		cmp = compareFloats(a.Float64()[aIdx], b.Float64()[bIdx])
	case coltypes.Bytes:
		cmp = bytes.Compare(a.Bytes().Get(aIdx), b.Bytes().Get(bIdx))
	default:
		panic(errors.AssertionFailedf("unhandled column type %s", a.t))
	}
	if !flags.Ascending {
		cmp = -cmp
	}
	return cmp
}

// compareFloats orders float64 values totally: NaN compares equal to itself
// and smaller than every non-NaN value.
func compareFloats(a, b float64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	if a == b {
		return 0
	}
	if math.IsNaN(a) {
		if math.IsNaN(b) {
			return 0
		}
		return -1
	}
	return 1
}
