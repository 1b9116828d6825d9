// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package timeutil

import "time"

// Now returns the current UTC time.
//
// All non-display time in the codebase flows through here so that it stays in
// UTC and so that tests can reason about a single clock source.
func Now() time.Time {
	return time.Now().UTC()
}

// Since returns the time elapsed since t.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}
