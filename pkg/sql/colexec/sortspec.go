// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package colexec implements the vectorized execution operators. Its
// centerpiece is the OrderBy operator: an external sort that buffers input
// batches in memory, spills sorted runs to temp storage under memory
// pressure, and merges everything back into a globally ordered stream.
package colexec

import (
	"github.com/vexecdb/vexec/pkg/col/coldata"
	"github.com/vexecdb/vexec/pkg/col/coltypes"
	"github.com/vexecdb/vexec/pkg/sql/execinfra"
)

// sortKey is one resolved column of a sort ordering.
type sortKey struct {
	colIdx int
	flags  coldata.CompareFlags
}

// makeSortKeys resolves an ordering against the input schema. Orderings that
// reference a constant column or a column outside the schema are planner
// bugs; they fail with an error marked execinfra.ErrInvalidConfiguration and
// no operator is built on top of them.
func makeSortKeys(
	typs []coltypes.T, ordering []execinfra.OrderingColumn,
) ([]sortKey, error) {
	if len(ordering) == 0 {
		return nil, execinfra.NewInvalidConfigurationError("no sort keys specified")
	}
	keys := make([]sortKey, len(ordering))
	for i, col := range ordering {
		if col.ColIdx == execinfra.ConstColIdx {
			return nil, execinfra.NewInvalidConfigurationError(
				"sort key %d references a constant column; it must be elided by the planner", i)
		}
		if col.ColIdx < 0 || col.ColIdx >= len(typs) {
			return nil, execinfra.NewInvalidConfigurationError(
				"sort key column %d out of range for schema of %d columns", col.ColIdx, len(typs))
		}
		keys[i] = sortKey{
			colIdx: col.ColIdx,
			flags: coldata.CompareFlags{
				NullsFirst:   col.NullsOrder == execinfra.NullsFirst,
				Ascending:    col.Direction == execinfra.Ascending,
				NullHandling: coldata.NullAsValue,
			},
		}
	}
	return keys, nil
}

// compareRows compares row aIdx of batch a with row bIdx of batch b under the
// sort keys, walking keys left to right and short-circuiting on the first
// difference.
func compareRows(keys []sortKey, a *coldata.Batch, aIdx int, b *coldata.Batch, bIdx int) int {
	for _, k := range keys {
		if c := coldata.CompareValueAt(
			a.ColVec(k.colIdx), aIdx, b.ColVec(k.colIdx), bIdx, k.flags,
		); c != 0 {
			return c
		}
	}
	return 0
}
