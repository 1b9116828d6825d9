// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package execinfra

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/marusama/semaphore"
	"github.com/stretchr/testify/require"
	"github.com/vexecdb/vexec/pkg/util/leaktest"
	"github.com/vexecdb/vexec/pkg/util/mon"
)

func TestQueryConfigNormalize(t *testing.T) {
	defer leaktest.AfterTest(t)()

	c := QueryConfig{}.normalize(nil)
	require.Equal(t, int64(DefaultMemoryLimit), c.MemoryLimit)
	require.Equal(t, int64(DefaultPreferredOutputBatchBytes), c.PreferredOutputBatchBytes)
	require.Equal(t, DefaultMaxSpillRunsToMerge, c.MaxSpillRunsToMerge)

	// The merge fan-in leaves one descriptor for the merge output run.
	c = QueryConfig{}.normalize(semaphore.New(8))
	require.Equal(t, 7, c.MaxSpillRunsToMerge)

	// A tiny semaphore still leaves a workable fan-in.
	c = QueryConfig{}.normalize(semaphore.New(2))
	require.Equal(t, MinSpillRunsToMerge, c.MaxSpillRunsToMerge)
}

func TestFlowCtxMonitors(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := context.Background()

	pool := mon.NewUnlimitedMonitor("pool", mon.MemoryResource)
	pool.Start(ctx, nil)
	defer pool.Stop(ctx)

	f := NewFlowCtx(ctx, &ServerConfig{MemPool: pool}, QueryConfig{MemoryLimit: 1 << 20})
	acc := f.MemMonitor.MakeBoundAccount()
	require.NoError(t, acc.Grow(ctx, 1024))
	require.True(t, errors.Is(acc.Grow(ctx, 2<<20), mon.ErrBudgetExceeded))
	acc.Close(ctx)
	f.Close(ctx)
}

func TestInvalidConfigurationError(t *testing.T) {
	defer leaktest.AfterTest(t)()

	err := NewInvalidConfigurationError("sort key column %d out of range", 7)
	require.True(t, errors.Is(err, ErrInvalidConfiguration))
	require.Contains(t, err.Error(), "column 7")
}
