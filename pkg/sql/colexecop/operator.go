// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package colexecop defines the interfaces implemented by the vectorized
// execution operators and the lifecycle state they share with the helpers
// they delegate work to.
package colexecop

import (
	"context"

	"github.com/vexecdb/vexec/pkg/col/coldata"
	"github.com/vexecdb/vexec/pkg/util/syncutil"
)

// Operator is a push-based vectorized operator driven by the pipeline
// scheduler. The scheduler pushes input batches with AddInput, closes the
// input phase with NoMoreInput, and then pulls ordered results with
// GetOutput until it returns nil.
//
// A single goroutine drives Init, AddInput, NoMoreInput, GetOutput and
// Abort; they are never invoked concurrently with each other. Operators
// follow the colexecerror discipline: data-dependent failures and internal
// violations surface as panics which the driver converts back to errors via
// colexecerror.CatchVectorizedRuntimeError.
type Operator interface {
	// Init prepares the operator for work. It must be called exactly once,
	// before any other method.
	Init(ctx context.Context)

	// AddInput feeds the next input batch to the operator. The batch is only
	// valid for the duration of the call; the operator copies what it needs
	// to retain. Calling AddInput after NoMoreInput is a contract violation.
	AddInput(batch *coldata.Batch)

	// NoMoreInput signals that no more input batches will arrive. It must be
	// called exactly once.
	NoMoreInput()

	// GetOutput returns the next output batch, or nil once the operator is
	// exhausted. The returned batch is owned by the operator and is only
	// valid until the next GetOutput call. Calls before NoMoreInput return
	// nil without producing data.
	GetOutput() *coldata.Batch

	// Abort releases all resources held by the operator. It is safe to call
	// at any lifecycle stage, more than once, and concurrently with an
	// in-flight Reclaim.
	Abort()
}

// Reclaimable is implemented by operators that can release memory on request
// from the memory governor.
type Reclaimable interface {
	// CanReclaim reports whether the operator was constructed with spill
	// support. Reclaim on an operator that cannot reclaim is a contract
	// violation.
	CanReclaim() bool

	// Reclaim asks the operator to free about targetBytes bytes of memory,
	// normally by spilling to disk. The governor may call it from a
	// different goroutine than the one driving the operator, but only while
	// no lifecycle method is executing (the pipeline is paused first).
	Reclaim(ctx context.Context, targetBytes int64)
}

// LifecycleState tracks the lifecycle of a single operator instance. The
// operator shares it, by pointer, with the execution engine it delegates to,
// so that the engine can observe operator-level state and maintain the spill
// counters without the operator owning engine internals.
//
// The embedded mutex guards every field. The driving goroutine takes it
// briefly to flip flags at phase boundaries; the reclaim path holds it for
// the whole reclaim so that abort and reclaim serialize.
type LifecycleState struct {
	syncutil.Mutex

	// NonReclaimableSection is set while the engine is mutating state in a
	// way that must not be interrupted by reclamation, e.g. while writing a
	// spill run or initializing the merge.
	NonReclaimableSection bool

	// NoMoreInput is set once the input phase has been closed.
	NoMoreInput bool

	// Finished is set once all output has been delivered.
	Finished bool

	// Aborted is set by Abort. A reclaim that observes it is a no-op.
	Aborted bool

	// SpillRuns counts the sorted runs written to external storage.
	SpillRuns int64

	// NonReclaimableAttempts counts reclaim requests that arrived after
	// output production had started and were therefore not honored.
	NonReclaimableAttempts int64
}

// SetNonReclaimable marks or clears a non-reclaimable critical section.
func (s *LifecycleState) SetNonReclaimable(v bool) {
	s.Lock()
	s.NonReclaimableSection = v
	s.Unlock()
}

// RecordSpillRun bumps the spill-run counter.
func (s *LifecycleState) RecordSpillRun() {
	s.Lock()
	s.SpillRuns++
	s.Unlock()
}

// NumSpillRuns returns the number of spill runs recorded so far.
func (s *LifecycleState) NumSpillRuns() int64 {
	s.Lock()
	defer s.Unlock()
	return s.SpillRuns
}

// NumNonReclaimableAttempts returns the number of reclaim requests that were
// not honored because output had started.
func (s *LifecycleState) NumNonReclaimableAttempts() int64 {
	s.Lock()
	defer s.Unlock()
	return s.NonReclaimableAttempts
}

// InitHelper is a simple initialization tracker embedded by operators.
type InitHelper struct {
	// Ctx is the context passed on the first Init call, retained for
	// logging from later lifecycle methods.
	Ctx context.Context
}

// Init marks the InitHelper as initialized. If true is returned, this is the
// first call to Init.
func (h *InitHelper) Init(ctx context.Context) bool {
	if h.Ctx != nil {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.Ctx = ctx
	return true
}

// EnsureCtx returns the context the helper was initialized with or
// context.Background() if Init hasn't been called.
func (h *InitHelper) EnsureCtx() context.Context {
	if h.Ctx == nil {
		return context.Background()
	}
	return h.Ctx
}
