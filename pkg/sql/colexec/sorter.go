// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package colexec

import (
	"sort"

	"github.com/vexecdb/vexec/pkg/col/coldata"
)

// sortRows orders the indices in order so that they enumerate the rows of b
// according to the sort keys. The sort is stable, so rows that compare equal
// keep their arrival order within a run.
func sortRows(keys []sortKey, b *coldata.Batch, order []int) {
	sort.SliceStable(order, func(i, j int) bool {
		return compareRows(keys, b, order[i], b, order[j]) < 0
	})
}

// copyRow copies row srcIdx of src into row dstIdx of dst. The batches must
// share a schema, and dst rows must be written in increasing index order to
// respect the flat Bytes contract.
func copyRow(dst *coldata.Batch, dstIdx int, src *coldata.Batch, srcIdx int) {
	for i, vec := range dst.ColVecs() {
		coldata.CopyValue(vec, dstIdx, src.ColVec(i), srcIdx)
	}
}
