// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package execinfra

import (
	"context"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/marusama/semaphore"
	"github.com/vexecdb/vexec/pkg/util/mon"
)

// ServerConfig holds the process-wide resources shared by all flows.
type ServerConfig struct {
	// MemPool is the process-wide memory pool that per-flow monitors draw
	// from. It may be nil, in which case flows are only bounded by their own
	// limits.
	MemPool *mon.BytesMonitor

	// DiskPool bounds the temp storage used for spilling, analogous to
	// MemPool. It may be nil.
	DiskPool *mon.BytesMonitor

	// TempFS is the filesystem spill files are written to.
	TempFS vfs.FS

	// TempStoragePath is the directory on TempFS under which spill files are
	// created.
	TempStoragePath string

	// FDSemaphore bounds the file descriptors concurrently open for spill
	// files across the process. It may be nil.
	FDSemaphore semaphore.Semaphore

	// Metrics receives the execution metrics of all flows. It may be nil.
	Metrics *Metrics
}

const (
	// DefaultMemoryLimit is the default memory budget of a single flow.
	DefaultMemoryLimit = 64 << 20 // 64 MiB

	// DefaultPreferredOutputBatchBytes is the default target size of the
	// batches an operator emits.
	DefaultPreferredOutputBatchBytes = 256 << 10 // 256 KiB

	// DefaultMaxSpillRunsToMerge is the default cap on the number of spill
	// runs merged in a single pass.
	DefaultMaxSpillRunsToMerge = 16

	// MinSpillRunsToMerge is the smallest usable merge fan-in. Below two, a
	// merge pass cannot make progress.
	MinSpillRunsToMerge = 2
)

// QueryConfig holds the per-query execution knobs.
type QueryConfig struct {
	// MemoryLimit bounds the memory a single flow may hold.
	MemoryLimit int64

	// SpillEnabled allows operators to fall back to disk when their memory
	// budget is exhausted. When false, exceeding the budget is an error.
	SpillEnabled bool

	// SpillMemoryThreshold makes operators move their buffered data to disk
	// once their usage exceeds it. Zero means spill only on memory pressure,
	// i.e. the threshold is the memory limit itself. Setting it to 1 forces
	// spilling on the first batch, which tests use.
	SpillMemoryThreshold int64

	// PreferredOutputBatchBytes is the target footprint of emitted batches.
	// The row count of output batches is derived from it unless
	// OutputBatchRows overrides it.
	PreferredOutputBatchBytes int64

	// OutputBatchRows fixes the row count of emitted batches. Zero means
	// derive it from PreferredOutputBatchBytes.
	OutputBatchRows int

	// MaxSpillRunsToMerge caps the merge fan-in. When more runs exist, the
	// operator first merges subsets into larger runs.
	MaxSpillRunsToMerge int
}

// DefaultQueryConfig returns a QueryConfig with all knobs at their defaults.
func DefaultQueryConfig() QueryConfig {
	return QueryConfig{
		MemoryLimit:               DefaultMemoryLimit,
		SpillEnabled:              true,
		PreferredOutputBatchBytes: DefaultPreferredOutputBatchBytes,
		MaxSpillRunsToMerge:       DefaultMaxSpillRunsToMerge,
	}
}

// normalize fills in unset numeric knobs.
func (c QueryConfig) normalize(fdSemaphore semaphore.Semaphore) QueryConfig {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = DefaultMemoryLimit
	}
	if c.PreferredOutputBatchBytes <= 0 {
		c.PreferredOutputBatchBytes = DefaultPreferredOutputBatchBytes
	}
	if c.MaxSpillRunsToMerge <= 0 {
		c.MaxSpillRunsToMerge = DefaultMaxSpillRunsToMerge
	}
	if fdSemaphore != nil {
		// One descriptor stays reserved for the output run of an intermediate
		// merge pass.
		if limit := fdSemaphore.GetLimit() - 1; c.MaxSpillRunsToMerge > limit {
			c.MaxSpillRunsToMerge = limit
		}
	}
	if c.MaxSpillRunsToMerge < MinSpillRunsToMerge {
		c.MaxSpillRunsToMerge = MinSpillRunsToMerge
	}
	return c
}

// FlowCtx describes the resources of a single flow, i.e. one query's worth of
// operators. The flow's monitors draw from the server-wide pools.
type FlowCtx struct {
	Cfg      *ServerConfig
	QueryCfg QueryConfig

	// MemMonitor bounds the flow's memory usage. Operator accounts are
	// children of it.
	MemMonitor *mon.BytesMonitor

	// DiskMonitor tracks the flow's temp storage usage.
	DiskMonitor *mon.BytesMonitor
}

// NewFlowCtx sets up the monitors of a new flow. Close must be called to
// release them.
func NewFlowCtx(ctx context.Context, cfg *ServerConfig, queryCfg QueryConfig) *FlowCtx {
	queryCfg = queryCfg.normalize(cfg.FDSemaphore)
	memMonitor := mon.NewMonitor("flow-mem", mon.MemoryResource, queryCfg.MemoryLimit)
	memMonitor.Start(ctx, cfg.MemPool)
	diskMonitor := mon.NewUnlimitedMonitor("flow-disk", mon.DiskResource)
	diskMonitor.Start(ctx, cfg.DiskPool)
	return &FlowCtx{
		Cfg:         cfg,
		QueryCfg:    queryCfg,
		MemMonitor:  memMonitor,
		DiskMonitor: diskMonitor,
	}
}

// Close stops the flow's monitors. All operator accounts must have been
// closed first.
func (f *FlowCtx) Close(ctx context.Context) {
	f.MemMonitor.Stop(ctx)
	f.DiskMonitor.Stop(ctx)
}
