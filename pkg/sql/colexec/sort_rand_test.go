// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package colexec

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/marusama/semaphore"
	"github.com/stretchr/testify/require"
	"github.com/vexecdb/vexec/pkg/col/coldata"
	"github.com/vexecdb/vexec/pkg/col/coltypes"
	"github.com/vexecdb/vexec/pkg/sql/execinfra"
	"github.com/vexecdb/vexec/pkg/util/leaktest"
	"github.com/vexecdb/vexec/pkg/util/randutil"
)

// referenceCompare reimplements the ordering semantics over test tuples: null
// placement follows the nulls flag alone, NaN equals itself and precedes all
// other floats, and the direction negates only the value comparison.
func referenceCompare(ordering []execinfra.OrderingColumn, a, b tuple) int {
	for _, col := range ordering {
		va, vb := a[col.ColIdx], b[col.ColIdx]
		if va == nil || vb == nil {
			if va == nil && vb == nil {
				continue
			}
			first := va == nil
			if (col.NullsOrder == execinfra.NullsFirst) == first {
				return -1
			}
			return 1
		}
		var cmp int
		switch x := va.(type) {
		case bool:
			y := vb.(bool)
			if x != y {
				if y {
					cmp = -1
				} else {
					cmp = 1
				}
			}
		case int64:
			y := vb.(int64)
			if x < y {
				cmp = -1
			} else if x > y {
				cmp = 1
			}
		case float64:
			cmp = referenceCompareFloats(x, vb.(float64))
		case []byte:
			cmp = bytes.Compare(x, vb.([]byte))
		default:
			panic(fmt.Sprintf("unsupported test value %T", va))
		}
		if col.Direction == execinfra.Descending {
			cmp = -cmp
		}
		if cmp != 0 {
			return cmp
		}
	}
	return 0
}

func referenceCompareFloats(a, b float64) int {
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

func randomValue(rng *rand.Rand, t coltypes.T) interface{} {
	switch t {
	case coltypes.Bool:
		return rng.Intn(2) == 0
	case coltypes.Int64:
		// A small domain produces plenty of duplicate keys.
		return rng.Int63n(100) - 50
	case coltypes.Float64:
		if rng.Intn(10) == 0 {
			return math.NaN()
		}
		return rng.NormFloat64()
	case coltypes.Bytes:
		return randutil.RandBytes(rng, 1+rng.Intn(10))
	default:
		panic(fmt.Sprintf("unhandled column type %s", t))
	}
}

func randomRows(rng *rand.Rand, typs []coltypes.T, n int, nullChance float64) tuples {
	rows := make(tuples, n)
	for i := range rows {
		row := make(tuple, len(typs))
		for j, t := range typs {
			if rng.Float64() < nullChance {
				continue
			}
			row[j] = randomValue(rng, t)
		}
		rows[i] = row
	}
	return rows
}

// encodeTuple renders a tuple into a key usable for multiset comparison.
func encodeTuple(row tuple) string {
	var buf bytes.Buffer
	for _, v := range row {
		switch x := v.(type) {
		case nil:
			buf.WriteString("<NULL>")
		case []byte:
			fmt.Fprintf(&buf, "%q", x)
		default:
			fmt.Fprintf(&buf, "%v", x)
		}
		buf.WriteByte('|')
	}
	return buf.String()
}

func sortedEncodings(rows tuples) []string {
	enc := make([]string, len(rows))
	for i, row := range rows {
		enc[i] = encodeTuple(row)
	}
	sort.Strings(enc)
	return enc
}

// TestOrderByRandomized cross-checks the operator against a reference sort
// over random schemas, orderings and inputs, in memory and under several
// spilling configurations. The in-memory output must match the stable
// reference exactly; spilled runs must produce the same multiset in an order
// the reference comparator accepts.
func TestOrderByRandomized(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := context.Background()
	rng := randutil.NewTestRand(t)

	typPool := []coltypes.T{coltypes.Bool, coltypes.Int64, coltypes.Float64, coltypes.Bytes}

	const numTrials = 20
	for trial := 0; trial < numTrials; trial++ {
		numCols := 1 + rng.Intn(3)
		typs := make([]coltypes.T, numCols)
		for i := range typs {
			typs[i] = typPool[rng.Intn(len(typPool))]
		}
		numKeys := 1 + rng.Intn(numCols)
		perm := rng.Perm(numCols)
		ordering := make([]execinfra.OrderingColumn, numKeys)
		for i := range ordering {
			ordering[i] = execinfra.OrderingColumn{
				ColIdx:     perm[i],
				Direction:  execinfra.Direction(rng.Intn(2)),
				NullsOrder: execinfra.NullsOrder(rng.Intn(2)),
			}
		}

		numBatches := 1 + rng.Intn(5)
		var input []tuples
		var all tuples
		for i := 0; i < numBatches; i++ {
			rows := randomRows(rng, typs, rng.Intn(600), 0.2)
			input = append(input, rows)
			all = append(all, rows...)
		}

		expected := append(tuples(nil), all...)
		sort.SliceStable(expected, func(i, j int) bool {
			return referenceCompare(ordering, expected[i], expected[j]) < 0
		})

		name := fmt.Sprintf("trial=%d/typs=%v/keys=%d/rows=%d", trial, typs, numKeys, len(all))
		t.Run(name, func(t *testing.T) {
			for _, params := range []testSortParams{
				{},
				{fs: vfs.NewMem(), spillEnabled: true, spillMemoryThreshold: 1,
					outputBatchRows: 1 + rng.Intn(coldata.BatchSize())},
				{fs: vfs.NewMem(), spillEnabled: true, spillMemoryThreshold: 1 + rng.Int63n(16<<10),
					maxSpillRunsToMerge: 2 + rng.Intn(3),
					fdSemaphore:         semaphore.New(4 + rng.Intn(4))},
			} {
				inMemory := params.fs == nil
				flowCtx := makeTestFlow(ctx, params)
				out, op, err := runSort(ctx, flowCtx, typs, ordering, input)
				require.NoError(t, err)
				if inMemory {
					// A single stable in-memory sort matches the reference
					// row for row.
					assertTuplesEqual(t, expected, out)
				} else {
					require.Equal(t, len(all), len(out))
					for i := 1; i < len(out); i++ {
						require.LessOrEqual(t,
							referenceCompare(ordering, out[i-1], out[i]), 0,
							"output out of order at row %d", i)
					}
					require.Equal(t, sortedEncodings(all), sortedEncodings(out),
						"output is not a permutation of the input")
				}
				op.Abort()
				require.Zero(t, op.MemoryUsed())
				flowCtx.Close(ctx)
			}
		})
	}
}
