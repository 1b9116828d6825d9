// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package colexecerror

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestCatchVectorizedRuntimeError(t *testing.T) {
	require.NoError(t, CatchVectorizedRuntimeError(func() {}))

	expected := errors.New("out of budget")
	err := CatchVectorizedRuntimeError(func() { ExpectedError(expected) })
	require.Error(t, err)
	require.True(t, errors.Is(err, expected))
	require.False(t, errors.HasAssertionFailure(err))

	err = CatchVectorizedRuntimeError(func() {
		InternalError(errors.AssertionFailedf("bad state"))
	})
	require.Error(t, err)
	require.True(t, errors.HasAssertionFailure(err))

	// A Go runtime error inside the engine is annotated as an assertion
	// failure rather than swallowed.
	err = CatchVectorizedRuntimeError(func() {
		var s []int
		_ = s[3]
	})
	require.Error(t, err)
	require.True(t, errors.HasAssertionFailure(err))

	err = CatchVectorizedRuntimeError(func() { panic("not an error") })
	require.Error(t, err)
	require.True(t, errors.HasAssertionFailure(err))
}
