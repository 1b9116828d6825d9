// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package execinfra holds the configuration and planning types shared by the
// vectorized execution operators.
package execinfra

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Direction is the direction of an ordering column.
type Direction int8

const (
	// Ascending orders smallest values first.
	Ascending Direction = iota
	// Descending orders largest values first.
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "DESC"
	}
	return "ASC"
}

// NullsOrder is the position of nulls relative to non-null values in an
// ordering column. It is independent of the direction.
type NullsOrder int8

const (
	// NullsFirst places nulls before all non-null values.
	NullsFirst NullsOrder = iota
	// NullsLast places nulls after all non-null values.
	NullsLast
)

func (n NullsOrder) String() string {
	if n == NullsLast {
		return "NULLS LAST"
	}
	return "NULLS FIRST"
}

// ConstColIdx is the column index the planner substitutes for a sort key it
// has proven constant. Operators reject orderings that still carry it.
const ConstColIdx = -1

// OrderingColumn describes one column of an ordering.
type OrderingColumn struct {
	// ColIdx is the index of the column in the input schema.
	ColIdx     int
	Direction  Direction
	NullsOrder NullsOrder
}

func (c OrderingColumn) String() string {
	return fmt.Sprintf("@%d %s %s", c.ColIdx, c.Direction, c.NullsOrder)
}

// ErrInvalidConfiguration is the reference error marking all operator
// misconfigurations detected at construction time. Test with errors.Is.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// NewInvalidConfigurationError returns a construction-time configuration
// error marked with ErrInvalidConfiguration.
func NewInvalidConfigurationError(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidConfiguration)
}
