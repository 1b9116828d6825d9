// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package colcontainer_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/marusama/semaphore"
	"github.com/stretchr/testify/require"
	"github.com/vexecdb/vexec/pkg/col/coldata"
	"github.com/vexecdb/vexec/pkg/col/coltypes"
	"github.com/vexecdb/vexec/pkg/sql/colcontainer"
	"github.com/vexecdb/vexec/pkg/util/leaktest"
	"github.com/vexecdb/vexec/pkg/util/mon"
)

var runTestTyps = []coltypes.T{coltypes.Int64}

func makeInt64Batch(vals ...int64) *coldata.Batch {
	b := coldata.NewMemBatchWithCapacity(runTestTyps, len(vals))
	copy(b.ColVec(0).Int64(), vals)
	b.SetLength(len(vals))
	return b
}

func readAllInt64s(t *testing.T, r *colcontainer.RunReader) []int64 {
	t.Helper()
	scratch := coldata.NewMemBatchWithCapacity(runTestTyps, coldata.BatchSize())
	var out []int64
	for {
		ok, err := r.ReadBatch(scratch)
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, scratch.ColVec(0).Int64()[:scratch.Length()]...)
	}
}

func TestRunStoreWriteAndRead(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := context.Background()

	m := mon.NewUnlimitedMonitor("disk", mon.DiskResource)
	m.Start(ctx, nil)
	defer m.Stop(ctx)
	diskAcc := m.MakeBoundAccount()
	defer diskAcc.Close(ctx)

	cfg := colcontainer.Config{FS: vfs.NewMem(), Path: "tmp"}
	s := colcontainer.NewRunStore(cfg, runTestTyps, &diskAcc)

	w, err := s.NewRunWriter(ctx)
	require.NoError(t, err)
	require.NoError(t, w.WriteBatch(makeInt64Batch(1, 2, 3)))
	require.NoError(t, w.WriteBatch(makeInt64Batch(10, 11)))
	require.NoError(t, w.Close(ctx))

	w, err = s.NewRunWriter(ctx)
	require.NoError(t, err)
	require.NoError(t, w.WriteBatch(makeInt64Batch(7)))
	require.NoError(t, w.Close(ctx))

	require.Equal(t, 2, s.NumRuns())
	require.Positive(t, s.RunSize(0))
	require.Positive(t, s.RunSize(1))
	require.Equal(t, s.RunSize(0)+s.RunSize(1), diskAcc.Used())

	r, err := s.NewRunReader(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3, 10, 11}, readAllInt64s(t, r))
	require.NoError(t, r.Close())

	r, err = s.NewRunReader(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []int64{7}, readAllInt64s(t, r))
	require.NoError(t, r.Close())

	require.NoError(t, s.CloseAndRemove(ctx))
	require.Zero(t, diskAcc.Used())
	// A second removal is a no-op.
	require.NoError(t, s.CloseAndRemove(ctx))
}

func TestRunStoreRemoveRun(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := context.Background()

	m := mon.NewUnlimitedMonitor("disk", mon.DiskResource)
	m.Start(ctx, nil)
	defer m.Stop(ctx)
	diskAcc := m.MakeBoundAccount()
	defer diskAcc.Close(ctx)

	cfg := colcontainer.Config{FS: vfs.NewMem(), Path: "tmp"}
	s := colcontainer.NewRunStore(cfg, runTestTyps, &diskAcc)
	defer func() {
		require.NoError(t, s.CloseAndRemove(ctx))
	}()

	for i := 0; i < 2; i++ {
		w, err := s.NewRunWriter(ctx)
		require.NoError(t, err)
		require.NoError(t, w.WriteBatch(makeInt64Batch(int64(i))))
		require.NoError(t, w.Close(ctx))
	}

	require.NoError(t, s.RemoveRun(ctx, 0))
	require.Equal(t, int64(-1), s.RunSize(0))
	require.Equal(t, s.RunSize(1), diskAcc.Used())

	// The removed run cannot be opened again.
	_, err := s.NewRunReader(ctx, 0)
	require.Error(t, err)
	require.True(t, errors.Is(err, colcontainer.ErrSpillIO))
}

func TestRunStoreFDSemaphore(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := context.Background()

	m := mon.NewUnlimitedMonitor("disk", mon.DiskResource)
	m.Start(ctx, nil)
	defer m.Stop(ctx)
	diskAcc := m.MakeBoundAccount()
	defer diskAcc.Close(ctx)

	sem := semaphore.New(8)
	cfg := colcontainer.Config{FS: vfs.NewMem(), Path: "tmp", FDSemaphore: sem}
	s := colcontainer.NewRunStore(cfg, runTestTyps, &diskAcc)
	defer func() {
		require.NoError(t, s.CloseAndRemove(ctx))
	}()

	w, err := s.NewRunWriter(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sem.GetCount())
	require.NoError(t, w.WriteBatch(makeInt64Batch(42)))
	require.NoError(t, w.Close(ctx))
	require.Zero(t, sem.GetCount())

	r, err := s.NewRunReader(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, sem.GetCount())
	require.NoError(t, r.Close())
	require.Zero(t, sem.GetCount())
}
