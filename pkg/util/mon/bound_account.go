// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package mon

import (
	"context"

	"github.com/cockroachdb/errors"
)

// BoundAccount tracks the cumulated allocations of one component against a
// monitor. Allocations grow in multiples of the monitor's pool allocation
// size: the account keeps the slack between what its client requested and
// what was reserved, so that small Grow/Shrink pairs do not hit the monitor
// on every call.
//
// An account is not safe for concurrent use.
type BoundAccount struct {
	used int64
	// reserved is the amount reserved from the monitor beyond used bytes.
	reserved int64
	mon      *BytesMonitor
}

// MakeBoundAccount creates a BoundAccount connected to the given monitor.
func (mm *BytesMonitor) MakeBoundAccount() BoundAccount {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.mu.numAccounts++
	return BoundAccount{mon: mm}
}

// Monitor returns the monitor the account draws from, or nil for an
// unmonitored account.
func (b *BoundAccount) Monitor() *BytesMonitor {
	return b.mon
}

// Used returns the number of bytes the client has charged to the account.
func (b *BoundAccount) Used() int64 {
	return b.used
}

// Allocated returns the total number of bytes drawn from the monitor,
// including reservation slack not yet charged by the client.
func (b *BoundAccount) Allocated() int64 {
	return b.used + b.reserved
}

// Grow charges x bytes to the account, reserving more from the monitor if
// the slack is insufficient. On failure the account is unchanged and the
// returned error is marked with ErrBudgetExceeded.
func (b *BoundAccount) Grow(ctx context.Context, x int64) error {
	if b.mon == nil {
		// An unmonitored account is used in tests and never errors out.
		b.used += x
		return nil
	}
	if b.reserved < x {
		minExtra := b.mon.roundSize(x - b.reserved)
		if err := b.mon.reserveBytes(ctx, minExtra); err != nil {
			return err
		}
		b.reserved += minExtra
	}
	b.reserved -= x
	b.used += x
	return nil
}

// Shrink releases x bytes previously charged via Grow. Slack beyond one pool
// allocation chunk is returned to the monitor eagerly.
func (b *BoundAccount) Shrink(ctx context.Context, x int64) {
	if b.mon == nil {
		b.used -= x
		return
	}
	if b.used < x {
		panic(errors.AssertionFailedf(
			"%s: shrinking %d bytes, only %d allocated", b.mon.name, x, b.used))
	}
	b.used -= x
	b.reserved += x
	if b.reserved > b.mon.poolAllocationSize {
		b.mon.releaseBytes(ctx, b.reserved-b.mon.poolAllocationSize)
		b.reserved = b.mon.poolAllocationSize
	}
}

// Empty shrinks the account to zero usage but keeps one allocation chunk
// reserved for the next Grow.
func (b *BoundAccount) Empty(ctx context.Context) {
	if b.used > 0 {
		b.Shrink(ctx, b.used)
	}
}

// Clear releases all bytes held by the account, including reservation slack.
// The account remains usable.
func (b *BoundAccount) Clear(ctx context.Context) {
	if b.mon == nil {
		b.used = 0
		return
	}
	if total := b.used + b.reserved; total > 0 {
		b.mon.releaseBytes(ctx, total)
	}
	b.used = 0
	b.reserved = 0
}

// Close releases all bytes held by the account and unregisters it from its
// monitor. The account must not be used afterwards. Close on a zero-value
// account is a no-op.
func (b *BoundAccount) Close(ctx context.Context) {
	if b.mon == nil {
		return
	}
	b.Clear(ctx)
	b.mon.mu.Lock()
	b.mon.mu.numAccounts--
	b.mon.mu.Unlock()
	b.mon = nil
}
