// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package colexecerror provides the error discipline of the vectorized
// engine: deep inside an operator there is no error return path, so
// operators panic with classified errors and the boundary that drives them
// converts the panics back into plain errors.
package colexecerror

import (
	"runtime"

	"github.com/cockroachdb/errors"
)

// CatchVectorizedRuntimeError executes operation, catches a runtime error if
// it is coming from the vectorized engine, and returns it. If an error not
// related to the vectorized engine occurs, it is not recovered from.
func CatchVectorizedRuntimeError(operation func()) (retErr error) {
	defer func() {
		panicObj := recover()
		if panicObj == nil {
			return
		}

		err, ok := panicObj.(error)
		if !ok {
			// Not an error object. Definitely unexpected.
			retErr = errors.AssertionFailedf("unexpected error from the vectorized runtime: %v", panicObj)
			return
		}

		if expected := (*notInternalError)(nil); errors.As(err, &expected) {
			// This is an error thrown via ExpectedError: strip the marker
			// wrapper and surface the cause as a regular error.
			retErr = expected.cause
			return
		}

		if _, isRuntime := err.(runtime.Error); isRuntime {
			// A Go runtime error (index out of range, nil dereference) inside
			// the engine indicates a bug; annotate it as such.
			retErr = errors.HandleAsAssertionFailure(err)
			return
		}

		// Errors thrown via InternalError arrive here unwrapped.
		retErr = err
	}()
	operation()
	return retErr
}

// InternalError simply panics with the provided error. It should only be used
// for internal invariant violations; the error is expected to be an assertion
// failure constructed via errors.AssertionFailedf.
func InternalError(err error) {
	panic(err)
}

// ExpectedError panics with the error that is wrapped so that it can be
// recognized by CatchVectorizedRuntimeError as an error expected to occur
// during normal operation (memory budget exhaustion, spill I/O failures).
func ExpectedError(err error) {
	panic(newNotInternalError(err))
}

// notInternalError is an error wrapper marking errors that are expected to
// occur and must not be converted into assertion failures by the catcher.
type notInternalError struct {
	cause error
}

func newNotInternalError(err error) *notInternalError {
	return &notInternalError{cause: err}
}

var _ error = &notInternalError{}

func (e *notInternalError) Error() string { return e.cause.Error() }

func (e *notInternalError) Cause() error { return e.cause }

func (e *notInternalError) Unwrap() error { return e.cause }
