// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package coltypes lists the physical types supported by the columnar
// execution engine.
package coltypes

import "github.com/cockroachdb/errors"

// T represents a physical column type.
type T int

const (
	// Bool is a column of type bool.
	Bool T = iota
	// Int64 is a column of type int64.
	Int64
	// Float64 is a column of type float64.
	Float64
	// Bytes is a column of variable-length byte slices, also used for
	// strings.
	Bytes
)

// String implements fmt.Stringer.
func (t T) String() string {
	switch t {
	case Bool:
		return "bool"
	case Int64:
		return "int"
	case Float64:
		return "float"
	case Bytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// FromString parses a physical type name as produced by String. "string" is
// accepted as an alias for Bytes.
func FromString(s string) (T, error) {
	switch s {
	case "bool":
		return Bool, nil
	case "int":
		return Int64, nil
	case "float":
		return Float64, nil
	case "bytes", "string":
		return Bytes, nil
	default:
		return 0, errors.Newf("unknown column type %q", s)
	}
}
