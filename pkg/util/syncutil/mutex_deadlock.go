// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

//go:build deadlock

package syncutil

import deadlock "github.com/sasha-s/go-deadlock"

// DeadlockEnabled is true if the deadlock detector is enabled.
const DeadlockEnabled = true

// A Mutex is a mutual exclusion lock.
type Mutex struct {
	deadlock.Mutex
}

// AssertHeld is a no-op under the deadlock detector; lock ordering violations
// are reported by the detector itself.
func (m *Mutex) AssertHeld() {
}

// An RWMutex is a reader/writer mutual exclusion lock.
type RWMutex struct {
	deadlock.RWMutex
}

// AssertHeld is a no-op under the deadlock detector.
func (rw *RWMutex) AssertHeld() {
}

// AssertRHeld is a no-op under the deadlock detector.
func (rw *RWMutex) AssertRHeld() {
}
