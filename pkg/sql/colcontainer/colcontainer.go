// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package colcontainer provides the temporary disk storage used by vectorized
// operators that spill.
package colcontainer

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/marusama/semaphore"
)

// ErrSpillIO is the reference error marking all I/O failures of the spill
// storage layer. Test with errors.Is.
var ErrSpillIO = errors.New("spill storage I/O error")

// MarkSpillIOError marks err as a spill storage I/O error. A nil err returns
// nil.
func MarkSpillIOError(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrSpillIO)
}

// Config describes the spill storage available to an operator.
type Config struct {
	// FS is the filesystem the spill files live on. Tests use an in-memory
	// implementation.
	FS vfs.FS

	// Path is the directory under which each RunStore creates its own
	// subdirectory.
	Path string

	// FDSemaphore limits the number of spill files open at any point in time
	// across the whole process. It may be nil, in which case no limit is
	// enforced.
	FDSemaphore semaphore.Semaphore
}
