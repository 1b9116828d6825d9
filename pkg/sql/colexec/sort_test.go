// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package colexec

import (
	"context"
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/marusama/semaphore"
	"github.com/stretchr/testify/require"
	"github.com/vexecdb/vexec/pkg/col/coldata"
	"github.com/vexecdb/vexec/pkg/col/coltypes"
	"github.com/vexecdb/vexec/pkg/sql/colexecerror"
	"github.com/vexecdb/vexec/pkg/sql/execinfra"
	"github.com/vexecdb/vexec/pkg/util/leaktest"
)

// tuple is one row of test data. nil values are NULLs.
type tuple []interface{}

// tuples is an ordered collection of rows.
type tuples []tuple

// canonValue maps test literals onto the representation used for comparing
// expected and actual rows: ints widen to int64, strings become byte slices.
func canonValue(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case bool, int64, float64:
		return x
	case int:
		return int64(x)
	case string:
		return []byte(x)
	case []byte:
		return append([]byte(nil), x...)
	default:
		panic(fmt.Sprintf("unsupported test value %T", v))
	}
}

func canonTuples(ts tuples) tuples {
	out := make(tuples, len(ts))
	for i, t := range ts {
		row := make(tuple, len(t))
		for j, v := range t {
			row[j] = canonValue(v)
		}
		out[i] = row
	}
	return out
}

func assertTuplesEqual(t *testing.T, expected, actual tuples) {
	t.Helper()
	require.Equal(t, canonTuples(expected), canonTuples(actual))
}

// makeTestBatch builds an unaccounted batch out of rows. Row values must
// match the column types; nil is a NULL.
func makeTestBatch(typs []coltypes.T, rows tuples) *coldata.Batch {
	capacity := len(rows)
	if capacity == 0 {
		capacity = 1
	}
	b := coldata.NewMemBatchWithCapacity(typs, capacity)
	for i, row := range rows {
		for j, v := range row {
			vec := b.ColVec(j)
			if v == nil {
				vec.Nulls().SetNull(i)
				if typs[j] == coltypes.Bytes {
					vec.Bytes().Set(i, nil)
				}
				continue
			}
			switch typs[j] {
			case coltypes.Bool:
				vec.Bool()[i] = v.(bool)
			case coltypes.Int64:
				vec.Int64()[i] = canonValue(v).(int64)
			case coltypes.Float64:
				vec.Float64()[i] = v.(float64)
			case coltypes.Bytes:
				vec.Bytes().Set(i, canonValue(v).([]byte))
			}
		}
	}
	b.SetLength(len(rows))
	return b
}

// batchRows copies the rows of b out into tuples, nil for NULLs.
func batchRows(b *coldata.Batch) tuples {
	out := make(tuples, b.Length())
	for i := 0; i < b.Length(); i++ {
		row := make(tuple, b.Width())
		for j := 0; j < b.Width(); j++ {
			vec := b.ColVec(j)
			if vec.Nulls().MaybeHasNulls() && vec.Nulls().NullAt(i) {
				continue
			}
			switch vec.Type() {
			case coltypes.Bool:
				row[j] = vec.Bool()[i]
			case coltypes.Int64:
				row[j] = vec.Int64()[i]
			case coltypes.Float64:
				row[j] = vec.Float64()[i]
			case coltypes.Bytes:
				row[j] = append([]byte(nil), vec.Bytes().Get(i)...)
			}
		}
		out[i] = row
	}
	return out
}

// testSortParams configures the flow a test sort runs in. The zero value is
// an in-memory sort with the default budget and no temp storage.
type testSortParams struct {
	memoryLimit          int64
	spillEnabled         bool
	spillMemoryThreshold int64
	outputBatchRows      int
	maxSpillRunsToMerge  int
	fs                   vfs.FS
	fdSemaphore          semaphore.Semaphore
	metrics              *execinfra.Metrics
}

func makeTestFlow(ctx context.Context, p testSortParams) *execinfra.FlowCtx {
	cfg := &execinfra.ServerConfig{
		TempFS:          p.fs,
		TempStoragePath: "spill",
		FDSemaphore:     p.fdSemaphore,
		Metrics:         p.metrics,
	}
	queryCfg := execinfra.DefaultQueryConfig()
	queryCfg.SpillEnabled = p.spillEnabled
	if p.memoryLimit > 0 {
		queryCfg.MemoryLimit = p.memoryLimit
	}
	if p.spillMemoryThreshold > 0 {
		queryCfg.SpillMemoryThreshold = p.spillMemoryThreshold
	}
	if p.outputBatchRows > 0 {
		queryCfg.OutputBatchRows = p.outputBatchRows
	}
	if p.maxSpillRunsToMerge > 0 {
		queryCfg.MaxSpillRunsToMerge = p.maxSpillRunsToMerge
	}
	return execinfra.NewFlowCtx(ctx, cfg, queryCfg)
}

func asc(colIdx int) execinfra.OrderingColumn {
	return execinfra.OrderingColumn{
		ColIdx: colIdx, Direction: execinfra.Ascending, NullsOrder: execinfra.NullsLast,
	}
}

func desc(colIdx int) execinfra.OrderingColumn {
	return execinfra.OrderingColumn{
		ColIdx: colIdx, Direction: execinfra.Descending, NullsOrder: execinfra.NullsLast,
	}
}

// runSort drives a full operator lifecycle: feed every batch, close the
// input, drain the output. Runtime failures thrown by the operator come back
// as the error.
func runSort(
	ctx context.Context,
	flowCtx *execinfra.FlowCtx,
	typs []coltypes.T,
	ordering []execinfra.OrderingColumn,
	input []tuples,
) (tuples, *OrderBy, error) {
	op, err := NewOrderBy(ctx, flowCtx, typs, ordering)
	if err != nil {
		return nil, nil, err
	}
	op.Init(ctx)
	var out tuples
	err = colexecerror.CatchVectorizedRuntimeError(func() {
		for _, rows := range input {
			op.AddInput(makeTestBatch(typs, rows))
		}
		op.NoMoreInput()
		for b := op.GetOutput(); b != nil; b = op.GetOutput() {
			out = append(out, batchRows(b)...)
		}
	})
	return out, op, err
}

// requireNoSpillFiles asserts that the temp directory holds no leftover spill
// files. A directory that was never created passes too.
func requireNoSpillFiles(t *testing.T, fs vfs.FS) {
	t.Helper()
	entries, err := fs.List("spill")
	if oserror.IsNotExist(err) {
		return
	}
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestOrderByBasic(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := context.Background()
	flowCtx := makeTestFlow(ctx, testSortParams{})
	defer flowCtx.Close(ctx)

	typs := []coltypes.T{coltypes.Int64, coltypes.Bytes}
	out, op, err := runSort(ctx, flowCtx, typs,
		[]execinfra.OrderingColumn{asc(0)},
		[]tuples{
			{{3, "a"}, {1, "b"}},
			{{2, "c"}},
		},
	)
	require.NoError(t, err)
	defer op.Abort()
	assertTuplesEqual(t, tuples{{1, "b"}, {2, "c"}, {3, "a"}}, out)
	require.Zero(t, op.SpillStats().Runs)
}

func TestOrderByNullOrdering(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := context.Background()

	input := []tuples{{{nil}, {5}, {nil}, {1}}}
	for _, tc := range []struct {
		direction  execinfra.Direction
		nullsOrder execinfra.NullsOrder
		expected   tuples
	}{
		{execinfra.Ascending, execinfra.NullsFirst, tuples{{nil}, {nil}, {1}, {5}}},
		{execinfra.Ascending, execinfra.NullsLast, tuples{{1}, {5}, {nil}, {nil}}},
		{execinfra.Descending, execinfra.NullsFirst, tuples{{nil}, {nil}, {5}, {1}}},
		{execinfra.Descending, execinfra.NullsLast, tuples{{5}, {1}, {nil}, {nil}}},
	} {
		t.Run(fmt.Sprintf("%s/%s", tc.direction, tc.nullsOrder), func(t *testing.T) {
			flowCtx := makeTestFlow(ctx, testSortParams{})
			defer flowCtx.Close(ctx)
			out, op, err := runSort(ctx, flowCtx, []coltypes.T{coltypes.Int64},
				[]execinfra.OrderingColumn{{ColIdx: 0, Direction: tc.direction, NullsOrder: tc.nullsOrder}},
				input,
			)
			require.NoError(t, err)
			defer op.Abort()
			assertTuplesEqual(t, tc.expected, out)
		})
	}
}

func TestOrderByMultiKey(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := context.Background()
	flowCtx := makeTestFlow(ctx, testSortParams{})
	defer flowCtx.Close(ctx)

	typs := []coltypes.T{coltypes.Bytes, coltypes.Int64}
	out, op, err := runSort(ctx, flowCtx, typs,
		[]execinfra.OrderingColumn{asc(0), desc(1)},
		[]tuples{
			{{"b", 1}, {"a", 2}, {"b", 3}},
			{{"a", 4}, {nil, 7}},
		},
	)
	require.NoError(t, err)
	defer op.Abort()
	assertTuplesEqual(t, tuples{{"a", 4}, {"a", 2}, {"b", 3}, {"b", 1}, {nil, 7}}, out)
}

// TestOrderByStability checks that rows with equal keys keep their arrival
// order when the sort runs fully in memory.
func TestOrderByStability(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := context.Background()
	flowCtx := makeTestFlow(ctx, testSortParams{})
	defer flowCtx.Close(ctx)

	typs := []coltypes.T{coltypes.Int64, coltypes.Bytes}
	out, op, err := runSort(ctx, flowCtx, typs,
		[]execinfra.OrderingColumn{asc(0)},
		[]tuples{
			{{1, "first"}, {0, "x"}, {1, "second"}},
			{{1, "third"}, {0, "y"}},
		},
	)
	require.NoError(t, err)
	defer op.Abort()
	assertTuplesEqual(t, tuples{
		{0, "x"}, {0, "y"}, {1, "first"}, {1, "second"}, {1, "third"},
	}, out)
}

func TestOrderByEmptyInput(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := context.Background()
	flowCtx := makeTestFlow(ctx, testSortParams{})
	defer flowCtx.Close(ctx)

	typs := []coltypes.T{coltypes.Int64}
	for _, input := range [][]tuples{
		nil,
		{{}},
		{{}, {}},
	} {
		out, op, err := runSort(ctx, flowCtx, typs,
			[]execinfra.OrderingColumn{asc(0)}, input)
		require.NoError(t, err)
		require.Empty(t, out)
		op.Abort()
	}
}

// TestOrderByEOSIdempotent checks that GetOutput keeps returning nil after
// exhaustion, and returns nil before the input phase has been closed.
func TestOrderByEOSIdempotent(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := context.Background()
	flowCtx := makeTestFlow(ctx, testSortParams{})
	defer flowCtx.Close(ctx)

	typs := []coltypes.T{coltypes.Int64}
	op, err := NewOrderBy(ctx, flowCtx, typs, []execinfra.OrderingColumn{asc(0)})
	require.NoError(t, err)
	defer op.Abort()
	op.Init(ctx)

	require.NoError(t, colexecerror.CatchVectorizedRuntimeError(func() {
		op.AddInput(makeTestBatch(typs, tuples{{2}, {1}}))
		// The sort is a blocking operator: no output before NoMoreInput.
		require.Nil(t, op.GetOutput())
		op.AddInput(makeTestBatch(typs, tuples{{3}}))
		op.NoMoreInput()

		var out tuples
		for b := op.GetOutput(); b != nil; b = op.GetOutput() {
			out = append(out, batchRows(b)...)
		}
		assertTuplesEqual(t, tuples{{1}, {2}, {3}}, out)
		for i := 0; i < 3; i++ {
			require.Nil(t, op.GetOutput())
		}
	}))
}

// TestOrderByContractViolations checks that misuse of the operator protocol
// trips assertions rather than silently misbehaving.
func TestOrderByContractViolations(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := context.Background()
	typs := []coltypes.T{coltypes.Int64}
	ordering := []execinfra.OrderingColumn{asc(0)}

	t.Run("add-input-after-no-more-input", func(t *testing.T) {
		flowCtx := makeTestFlow(ctx, testSortParams{})
		defer flowCtx.Close(ctx)
		op, err := NewOrderBy(ctx, flowCtx, typs, ordering)
		require.NoError(t, err)
		defer op.Abort()
		op.Init(ctx)
		require.NoError(t, colexecerror.CatchVectorizedRuntimeError(func() {
			op.NoMoreInput()
		}))
		err = colexecerror.CatchVectorizedRuntimeError(func() {
			op.AddInput(makeTestBatch(typs, tuples{{1}}))
		})
		require.Error(t, err)
		require.True(t, errors.HasAssertionFailure(err), "%+v", err)
	})

	t.Run("no-more-input-twice", func(t *testing.T) {
		flowCtx := makeTestFlow(ctx, testSortParams{})
		defer flowCtx.Close(ctx)
		op, err := NewOrderBy(ctx, flowCtx, typs, ordering)
		require.NoError(t, err)
		defer op.Abort()
		op.Init(ctx)
		require.NoError(t, colexecerror.CatchVectorizedRuntimeError(op.NoMoreInput))
		err = colexecerror.CatchVectorizedRuntimeError(op.NoMoreInput)
		require.Error(t, err)
		require.True(t, errors.HasAssertionFailure(err), "%+v", err)
	})

	t.Run("add-input-before-init", func(t *testing.T) {
		flowCtx := makeTestFlow(ctx, testSortParams{})
		defer flowCtx.Close(ctx)
		op, err := NewOrderBy(ctx, flowCtx, typs, ordering)
		require.NoError(t, err)
		defer op.Abort()
		err = colexecerror.CatchVectorizedRuntimeError(func() {
			op.AddInput(makeTestBatch(typs, tuples{{1}}))
		})
		require.Error(t, err)
		require.True(t, errors.HasAssertionFailure(err), "%+v", err)
	})
}

// TestOrderByInvalidOrdering checks that broken orderings are rejected at
// construction with a configuration error and without leaking monitors.
func TestOrderByInvalidOrdering(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := context.Background()
	flowCtx := makeTestFlow(ctx, testSortParams{})
	defer flowCtx.Close(ctx)

	typs := []coltypes.T{coltypes.Int64, coltypes.Bytes}
	for name, ordering := range map[string][]execinfra.OrderingColumn{
		"empty":          {},
		"constant":       {{ColIdx: execinfra.ConstColIdx, Direction: execinfra.Ascending}},
		"out-of-range":   {asc(2)},
		"negative":       {asc(0), {ColIdx: -5, Direction: execinfra.Descending}},
		"mixed-constant": {asc(1), {ColIdx: execinfra.ConstColIdx, Direction: execinfra.Ascending}},
	} {
		t.Run(name, func(t *testing.T) {
			op, err := NewOrderBy(ctx, flowCtx, typs, ordering)
			require.Error(t, err)
			require.True(t, errors.Is(err, execinfra.ErrInvalidConfiguration), "%+v", err)
			require.Nil(t, op)
		})
	}

	t.Run("no-columns", func(t *testing.T) {
		op, err := NewOrderBy(ctx, flowCtx, nil, []execinfra.OrderingColumn{asc(0)})
		require.Error(t, err)
		require.True(t, errors.Is(err, execinfra.ErrInvalidConfiguration), "%+v", err)
		require.Nil(t, op)
	})
}

// TestOrderByAbortLifecycle aborts the operator at every lifecycle stage and
// checks that monitors stop clean and no spill files are left behind.
func TestOrderByAbortLifecycle(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := context.Background()
	typs := []coltypes.T{coltypes.Int64, coltypes.Bytes}
	ordering := []execinfra.OrderingColumn{asc(0)}

	input := make(tuples, 100)
	for i := range input {
		input[i] = tuple{i * 37 % 100, fmt.Sprintf("payload-%d", i)}
	}

	for _, tc := range []struct {
		name  string
		drive func(t *testing.T, op *OrderBy)
	}{
		{"before-init", func(*testing.T, *OrderBy) {}},
		{"after-init", func(t *testing.T, op *OrderBy) {
			op.Init(ctx)
		}},
		{"mid-input", func(t *testing.T, op *OrderBy) {
			op.Init(ctx)
			require.NoError(t, colexecerror.CatchVectorizedRuntimeError(func() {
				op.AddInput(makeTestBatch(typs, input[:50]))
				op.AddInput(makeTestBatch(typs, input[50:]))
			}))
		}},
		{"after-no-more-input", func(t *testing.T, op *OrderBy) {
			op.Init(ctx)
			require.NoError(t, colexecerror.CatchVectorizedRuntimeError(func() {
				op.AddInput(makeTestBatch(typs, input[:50]))
				op.AddInput(makeTestBatch(typs, input[50:]))
				op.NoMoreInput()
			}))
		}},
		{"mid-output", func(t *testing.T, op *OrderBy) {
			op.Init(ctx)
			require.NoError(t, colexecerror.CatchVectorizedRuntimeError(func() {
				op.AddInput(makeTestBatch(typs, input[:50]))
				op.AddInput(makeTestBatch(typs, input[50:]))
				op.NoMoreInput()
				require.NotNil(t, op.GetOutput())
			}))
		}},
		{"after-exhaustion", func(t *testing.T, op *OrderBy) {
			op.Init(ctx)
			require.NoError(t, colexecerror.CatchVectorizedRuntimeError(func() {
				op.AddInput(makeTestBatch(typs, input[:50]))
				op.AddInput(makeTestBatch(typs, input[50:]))
				op.NoMoreInput()
				for b := op.GetOutput(); b != nil; b = op.GetOutput() {
				}
			}))
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fs := vfs.NewMem()
			// Force a spill on every append so each stage has run files to
			// clean up.
			flowCtx := makeTestFlow(ctx, testSortParams{
				fs: fs, spillEnabled: true, spillMemoryThreshold: 1, outputBatchRows: 7,
			})
			defer flowCtx.Close(ctx)
			op, err := NewOrderBy(ctx, flowCtx, typs, ordering)
			require.NoError(t, err)
			tc.drive(t, op)
			op.Abort()
			// Abort is reentrant.
			op.Abort()
			require.Zero(t, op.MemoryUsed())
			requireNoSpillFiles(t, fs)
		})
	}
}
