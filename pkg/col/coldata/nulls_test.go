// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package coldata

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// nulls3 is a nulls vector with every third value set to null.
var nulls3 Nulls

// nulls5 is a nulls vector with every fifth value set to null.
var nulls5 Nulls

// pos is a collection of interesting boundary indices to use in tests.
var pos = []int{0, 1, 63, 64, 65, BatchSize() - 1}

func init() {
	nulls3 = NewNulls(BatchSize())
	nulls5 = NewNulls(BatchSize())
	for i := 0; i < BatchSize(); i++ {
		if i%3 == 0 {
			nulls3.SetNull(i)
		}
		if i%5 == 0 {
			nulls5.SetNull(i)
		}
	}
}

func TestNullAt(t *testing.T) {
	for i := 0; i < BatchSize(); i++ {
		if i%3 == 0 {
			require.True(t, nulls3.NullAt(i))
		} else {
			require.False(t, nulls3.NullAt(i))
		}
	}
}

func TestSetAndUnsetNulls(t *testing.T) {
	n := NewNulls(BatchSize())
	require.False(t, n.MaybeHasNulls())
	for _, i := range pos {
		n.SetNull(i)
	}
	require.True(t, n.MaybeHasNulls())
	for _, i := range pos {
		require.True(t, n.NullAt(i))
		n.UnsetNull(i)
		require.False(t, n.NullAt(i))
	}

	n.SetNulls()
	for i := 0; i < BatchSize(); i++ {
		require.True(t, n.NullAt(i))
	}
	n.UnsetNulls()
	require.False(t, n.MaybeHasNulls())
	for i := 0; i < BatchSize(); i++ {
		require.False(t, n.NullAt(i))
	}
}

func TestSetNullBitmap(t *testing.T) {
	n := NewNulls(8)
	// A bitmap with the third bit cleared marks index 2 as null.
	n.SetNullBitmap([]byte{0xFB}, 8)
	require.True(t, n.MaybeHasNulls())
	for i := 0; i < 8; i++ {
		require.Equal(t, i == 2, n.NullAt(i))
	}

	// A nil bitmap means all values are valid.
	n.SetNullBitmap(nil, 8)
	require.False(t, n.MaybeHasNulls())
	for i := 0; i < 8; i++ {
		require.False(t, n.NullAt(i))
	}
}

func TestNullsCopy(t *testing.T) {
	n := NewNulls(BatchSize())
	n.Copy(&nulls5)
	require.True(t, n.MaybeHasNulls())
	for i := 0; i < BatchSize(); i++ {
		require.Equal(t, i%5 == 0, n.NullAt(i))
	}
}
