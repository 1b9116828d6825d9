// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// vexecsort sorts CSV files under a fixed memory budget.
//
//	vexecsort --types int,bytes,float --key 2:desc --key 0 --memory-limit 256MiB in.csv
//
// The input is read from the given file, or from stdin when no file is given,
// sorted on the requested columns and written back as CSV on stdout. Once the
// buffered rows exceed the memory budget the sorter spills sorted runs to
// temp storage and merges them at the end, so inputs far larger than the
// budget still sort.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vexecdb/vexec/pkg/sql/execinfra"
	"github.com/vexecdb/vexec/pkg/util/humanizeutil"
)

func makeVexecsortCommand() *cobra.Command {
	cfg := defaultConfig()
	cmd := &cobra.Command{
		Use:           "vexecsort [flags] [input.csv]",
		Short:         "vexecsort sorts CSV files under a fixed memory budget, spilling to disk when needed.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				cfg.input = args[0]
			}
			return run(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.StringArrayVarP(&cfg.keys, "key", "k", nil,
		"sort key `column[:asc|:desc][:nulls-first|:nulls-last]`; column is an index or, "+
			"with --header, a column name; repeatable; default: all columns ascending")
	f.StringVarP(&cfg.types, "types", "t", "",
		"comma-separated column types (bool, int, float, bytes); "+
			"a single type applies to every column; default bytes")
	f.BoolVar(&cfg.header, "header", false,
		"treat the first row as a header and copy it through unsorted")
	f.StringVar(&cfg.nullMarker, "null", cfg.nullMarker,
		"the input and output representation of NULL")
	f.Var(humanizeutil.NewBytesValue(&cfg.memoryLimit), "memory-limit",
		"memory budget for buffered rows")
	f.Var(humanizeutil.NewBytesValue(&cfg.spillThreshold), "spill-threshold",
		"move buffered rows to disk above this usage; 0 spills only at the memory limit")
	f.BoolVar(&cfg.noSpill, "no-spill", false,
		"fail instead of spilling when the memory budget is exceeded")
	f.StringVar(&cfg.tempDir, "temp-dir", cfg.tempDir, "directory for spill files")
	f.IntVar(&cfg.fdLimit, "fd-limit", cfg.fdLimit,
		"maximum file descriptors held open for spill files")
	f.IntVar(&cfg.mergeFanIn, "merge-fan-in", 0,
		fmt.Sprintf("maximum spill runs merged per pass; 0 means %d", execinfra.DefaultMaxSpillRunsToMerge))
	f.StringVarP(&cfg.output, "output", "o", "",
		"write the sorted rows to this file instead of stdout")
	f.StringVar(&cfg.logLevel, "log-level", cfg.logLevel,
		"minimum log level (debug, info, warn, error)")
	f.StringVar(&cfg.logFile, "log-file", "",
		"append logs to this rotating file instead of stderr")
	f.Int32VarP(&cfg.verbosity, "verbosity", "v", 0,
		"verbosity for per-spill event logging")
	return cmd
}

func main() {
	cmd := makeVexecsortCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
