// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package mon implements accounting for memory and disk usage. A tree of
// BytesMonitors arbitrates a byte budget between the components of a query;
// each component charges its usage to a BoundAccount obtained from its
// monitor. Monitors reserve from their parent pool in coarse chunks so that
// the common Grow/Shrink path stays cheap.
package mon

import (
	"context"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/vexecdb/vexec/pkg/util/humanizeutil"
	"github.com/vexecdb/vexec/pkg/util/log"
	"github.com/vexecdb/vexec/pkg/util/syncutil"
)

// Resource identifies the kind of resource a monitor arbitrates.
type Resource int8

const (
	// MemoryResource monitors RAM.
	MemoryResource Resource = iota
	// DiskResource monitors temp storage used for spilling.
	DiskResource
)

func (r Resource) String() string {
	if r == DiskResource {
		return "disk"
	}
	return "memory"
}

// ErrBudgetExceeded is the reference error marking all budget exhaustion
// errors produced by this package. Test with errors.Is.
var ErrBudgetExceeded = errors.New("budget exceeded")

// DefaultPoolAllocationSize specifies the unit of allocation used by a
// monitor to reserve and release bytes to a pool.
const DefaultPoolAllocationSize = 10 * 1024

// BytesMonitor defines an object that can track and limit memory or disk
// usage by other components. A monitor is either standalone, in which case
// its limit is the budget, or it draws its budget from a parent pool monitor
// in chunks of poolAllocationSize.
type BytesMonitor struct {
	mu struct {
		syncutil.Mutex

		// curAllocated tracks the current amount of bytes allocated at this
		// monitor by its client components.
		curAllocated int64

		// maxAllocated tracks the high water mark of allocations.
		maxAllocated int64

		// curBudget represents the budget drawn from the pool, if any.
		curBudget BoundAccount

		// numAccounts tracks the number of open accounts, so that Stop can
		// flag components that forgot to close theirs.
		numAccounts int64

		stopped bool
	}

	name     string
	resource Resource

	// limit specifies a hard cap on allocated bytes. Allocations that would
	// exceed it fail with an error marked with ErrBudgetExceeded.
	limit int64

	poolAllocationSize int64
}

// NewMonitor creates a new monitor with the given byte limit. A non-positive
// limit means unlimited.
func NewMonitor(name string, res Resource, limit int64) *BytesMonitor {
	if limit <= 0 {
		limit = math.MaxInt64
	}
	m := &BytesMonitor{
		name:               name,
		resource:           res,
		limit:              limit,
		poolAllocationSize: DefaultPoolAllocationSize,
	}
	return m
}

// NewUnlimitedMonitor creates a monitor with no local limit, suitable for
// tracking-only use or as the root of a monitor tree.
func NewUnlimitedMonitor(name string, res Resource) *BytesMonitor {
	return NewMonitor(name, res, math.MaxInt64)
}

// Start begins a monitoring region, optionally drawing the budget from the
// given pool. pool may be nil, in which case the monitor's own limit is the
// entire budget.
func (mm *BytesMonitor) Start(ctx context.Context, pool *BytesMonitor) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.mu.curAllocated != 0 || mm.mu.numAccounts != 0 {
		panic(errors.AssertionFailedf(
			"%s: started with %d bytes and %d accounts outstanding",
			mm.name, mm.mu.curAllocated, mm.mu.numAccounts))
	}
	mm.mu.stopped = false
	if pool != nil {
		mm.mu.curBudget = pool.MakeBoundAccount()
	}
}

// Stop completes a monitoring region. All bytes must have been released and
// all accounts closed; leftovers indicate a leak and trip an assertion.
func (mm *BytesMonitor) Stop(ctx context.Context) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.mu.curAllocated != 0 {
		panic(errors.AssertionFailedf(
			"%s: unexpected %d leftover bytes", mm.name, mm.mu.curAllocated))
	}
	if mm.mu.numAccounts != 0 {
		panic(errors.AssertionFailedf(
			"%s: %d accounts still open", mm.name, mm.mu.numAccounts))
	}
	if log.V(1) && mm.mu.maxAllocated > 0 {
		log.VEventf(ctx, 1, "%s, bytes usage max %s",
			mm.name, humanizeutil.IBytes(mm.mu.maxAllocated))
	}
	// Return the budget drawn from the pool, if any.
	mm.mu.curBudget.Close(ctx)
	mm.mu.curBudget = BoundAccount{}
	mm.mu.stopped = true
}

// Name returns the name of the monitor.
func (mm *BytesMonitor) Name() string {
	return mm.name
}

// Resource returns the kind of resource the monitor arbitrates.
func (mm *BytesMonitor) Resource() Resource {
	return mm.resource
}

// Limit returns the configured byte limit.
func (mm *BytesMonitor) Limit() int64 {
	return mm.limit
}

// AllocBytes returns the current number of allocated bytes in this monitor.
func (mm *BytesMonitor) AllocBytes() int64 {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.mu.curAllocated
}

// MaximumBytes returns the high water mark of allocated bytes.
func (mm *BytesMonitor) MaximumBytes() int64 {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.mu.maxAllocated
}

// roundSize rounds its argument to the smallest greater or equal multiple of
// the pool allocation size.
func (mm *BytesMonitor) roundSize(sz int64) int64 {
	const maxRoundSize = 4 << 20 // 4 MiB
	if sz >= maxRoundSize {
		// Don't round the size up if the allocation is large. This also
		// avoids edge cases in the math below if sz == math.MaxInt64.
		return sz
	}
	chunks := (sz + mm.poolAllocationSize - 1) / mm.poolAllocationSize
	return chunks * mm.poolAllocationSize
}

// reserveBytes declares an allocation to this monitor. An error is returned
// if the allocation is denied.
func (mm *BytesMonitor) reserveBytes(ctx context.Context, x int64) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	// Check the local limit first.
	if mm.mu.curAllocated > mm.limit-x {
		return errors.Wrapf(mm.newBudgetExceededErrorLocked(x),
			"%s", mm.name)
	}
	// Check whether we need to request an increase of our budget from the
	// pool.
	if mm.mu.curBudget.mon != nil &&
		mm.mu.curAllocated > mm.mu.curBudget.used-x {
		minExtra := mm.roundSize(x)
		if err := mm.mu.curBudget.Grow(ctx, minExtra); err != nil {
			return errors.Wrapf(err, "%s", mm.name)
		}
	}
	mm.mu.curAllocated += x
	if mm.mu.curAllocated > mm.mu.maxAllocated {
		mm.mu.maxAllocated = mm.mu.curAllocated
	}
	return nil
}

// releaseBytes releases bytes previously successfully registered via
// reserveBytes.
func (mm *BytesMonitor) releaseBytes(ctx context.Context, sz int64) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.mu.curAllocated < sz {
		panic(errors.AssertionFailedf(
			"%s: no bytes to release, current %d, free %d",
			mm.name, mm.mu.curAllocated, sz))
	}
	mm.mu.curAllocated -= sz
	// Return budget in excess of one allocation chunk back to the pool so
	// that sibling monitors can use it.
	if mm.mu.curBudget.mon != nil {
		if extra := mm.mu.curBudget.used - mm.mu.curAllocated; extra > mm.poolAllocationSize {
			mm.mu.curBudget.Shrink(ctx, extra-mm.poolAllocationSize)
		}
	}
}

// newBudgetExceededErrorLocked constructs the budget exhaustion error for a
// denied allocation of requestedBytes.
func (mm *BytesMonitor) newBudgetExceededErrorLocked(requestedBytes int64) error {
	return errors.Mark(errors.Newf(
		"%s budget exceeded: %d bytes requested, %s currently allocated, %s bytes in budget",
		mm.resource,
		requestedBytes,
		humanizeutil.IBytes(mm.mu.curAllocated),
		humanizeutil.IBytes(mm.limit),
	), ErrBudgetExceeded)
}
