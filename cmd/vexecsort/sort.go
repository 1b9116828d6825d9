// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package main

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/marusama/semaphore"
	"github.com/vexecdb/vexec/pkg/col/coldata"
	"github.com/vexecdb/vexec/pkg/col/coltypes"
	"github.com/vexecdb/vexec/pkg/sql/colexec"
	"github.com/vexecdb/vexec/pkg/sql/colexecerror"
	"github.com/vexecdb/vexec/pkg/sql/execinfra"
	"github.com/vexecdb/vexec/pkg/util/humanizeutil"
	"github.com/vexecdb/vexec/pkg/util/log"
	"github.com/vexecdb/vexec/pkg/util/timeutil"
	"golang.org/x/sync/errgroup"
)

type config struct {
	input  string
	output string

	keys       []string
	types      string
	header     bool
	nullMarker string

	memoryLimit    int64
	spillThreshold int64
	noSpill        bool
	tempDir        string
	spillPath      string
	fdLimit        int
	mergeFanIn     int

	logLevel  string
	logFile   string
	verbosity int32
}

func defaultConfig() *config {
	return &config{
		nullMarker:  "NULL",
		memoryLimit: execinfra.DefaultMemoryLimit,
		tempDir:     os.TempDir(),
		fdLimit:     256,
		logLevel:    "info",
	}
}

// run resolves the input, output and temp storage of the command and hands
// off to runSort.
func run(ctx context.Context, cfg *config) error {
	if err := log.Setup(log.Config{
		Level:     cfg.logLevel,
		Verbosity: cfg.verbosity,
		File:      cfg.logFile,
	}); err != nil {
		return err
	}
	defer log.Flush()

	in := io.Reader(os.Stdin)
	if cfg.input != "" {
		f, err := os.Open(cfg.input)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	var tempFS vfs.FS
	if !cfg.noSpill {
		dir, err := os.MkdirTemp(cfg.tempDir, "vexecsort-")
		if err != nil {
			return err
		}
		defer func() {
			if err := os.RemoveAll(dir); err != nil {
				log.Warningf(ctx, "could not remove temp directory %s: %v", dir, err)
			}
		}()
		tempFS = vfs.Default
		cfg.spillPath = dir
	}

	if cfg.output == "" {
		return runSort(ctx, cfg, tempFS, in, os.Stdout)
	}
	outFile, err := os.Create(cfg.output)
	if err != nil {
		return err
	}
	err = runSort(ctx, cfg, tempFS, in, outFile)
	if closeErr := outFile.Close(); err == nil {
		err = closeErr
	}
	return err
}

// runSort drives the sort pipeline: a reader goroutine parses CSV records
// into columnar batches while a second goroutine feeds them to the operator
// and streams the merged output back out as CSV.
func runSort(ctx context.Context, cfg *config, tempFS vfs.FS, in io.Reader, out io.Writer) error {
	cr := csv.NewReader(in)

	var header []string
	if cfg.header {
		h, err := cr.Read()
		if err == io.EOF {
			return errors.New("--header is set but the input is empty")
		}
		if err != nil {
			return err
		}
		header = h
	}
	first, err := cr.Read()
	if err == io.EOF {
		// Nothing to sort. Still emit the header.
		if header == nil {
			return nil
		}
		cw := csv.NewWriter(out)
		if err := cw.Write(header); err != nil {
			return err
		}
		cw.Flush()
		return cw.Error()
	}
	if err != nil {
		return err
	}
	numCols := len(first)

	typs, err := parseColumnTypes(cfg.types, numCols)
	if err != nil {
		return err
	}
	ordering, err := parseSortKeys(cfg.keys, header, numCols)
	if err != nil {
		return err
	}

	serverCfg := &execinfra.ServerConfig{
		TempFS:          tempFS,
		TempStoragePath: cfg.spillPath,
		FDSemaphore:     semaphore.New(cfg.fdLimit),
	}
	queryCfg := execinfra.DefaultQueryConfig()
	queryCfg.MemoryLimit = cfg.memoryLimit
	queryCfg.SpillEnabled = tempFS != nil
	queryCfg.SpillMemoryThreshold = cfg.spillThreshold
	if cfg.mergeFanIn > 0 {
		queryCfg.MaxSpillRunsToMerge = cfg.mergeFanIn
	}
	flowCtx := execinfra.NewFlowCtx(ctx, serverCfg, queryCfg)
	defer flowCtx.Close(ctx)

	op, err := colexec.NewOrderBy(ctx, flowCtx, typs, ordering)
	if err != nil {
		return err
	}
	defer op.Abort()
	op.Init(ctx)

	start := timeutil.Now()
	var rows int64
	batches := make(chan *coldata.Batch, 4)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(batches)
		builder := newBatchBuilder(typs, cfg.nullMarker)
		record := first
		for {
			if err := builder.add(record); err != nil {
				return err
			}
			if builder.full() {
				select {
				case batches <- builder.finish():
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			var err error
			record, err = cr.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
		}
		if last := builder.finish(); last.Length() > 0 {
			select {
			case batches <- last:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	g.Go(func() error {
		return colexecerror.CatchVectorizedRuntimeError(func() {
			for {
				var b *coldata.Batch
				var ok bool
				select {
				case b, ok = <-batches:
				case <-gctx.Done():
					colexecerror.ExpectedError(gctx.Err())
				}
				if !ok {
					break
				}
				op.AddInput(b)
			}
			op.NoMoreInput()

			cw := csv.NewWriter(out)
			if header != nil {
				if err := cw.Write(header); err != nil {
					colexecerror.ExpectedError(err)
				}
			}
			record := make([]string, numCols)
			for b := op.GetOutput(); b != nil; b = op.GetOutput() {
				if err := writeBatch(cw, b, cfg.nullMarker, record); err != nil {
					colexecerror.ExpectedError(err)
				}
				rows += int64(b.Length())
			}
			cw.Flush()
			if err := cw.Error(); err != nil {
				colexecerror.ExpectedError(err)
			}
		})
	})
	if err := g.Wait(); err != nil {
		return err
	}

	log.Infof(ctx, "sorted %d rows in %s, peak memory %s",
		rows, humanizeutil.Duration(timeutil.Since(start)),
		humanizeutil.IBytes(op.MaxMemoryUsed()))
	return nil
}

// parseColumnTypes resolves --types against the input width. An empty spec
// types every column as bytes; a single name applies to every column.
func parseColumnTypes(s string, numCols int) ([]coltypes.T, error) {
	typs := make([]coltypes.T, numCols)
	if s == "" {
		for i := range typs {
			typs[i] = coltypes.Bytes
		}
		return typs, nil
	}
	names := strings.Split(s, ",")
	if len(names) == 1 && numCols > 1 {
		t, err := coltypes.FromString(strings.TrimSpace(names[0]))
		if err != nil {
			return nil, err
		}
		for i := range typs {
			typs[i] = t
		}
		return typs, nil
	}
	if len(names) != numCols {
		return nil, errors.Newf("--types lists %d columns, the input has %d", len(names), numCols)
	}
	for i, name := range names {
		t, err := coltypes.FromString(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		typs[i] = t
	}
	return typs, nil
}

// parseSortKeys resolves --key specs into an ordering. A spec names a column
// by index, or by header name when a header is present, optionally followed
// by :asc or :desc and by :nulls-first or :nulls-last. Without any keys all
// columns sort ascending, nulls last.
func parseSortKeys(
	specs []string, header []string, numCols int,
) ([]execinfra.OrderingColumn, error) {
	if len(specs) == 0 {
		ordering := make([]execinfra.OrderingColumn, numCols)
		for i := range ordering {
			ordering[i] = execinfra.OrderingColumn{ColIdx: i, NullsOrder: execinfra.NullsLast}
		}
		return ordering, nil
	}
	ordering := make([]execinfra.OrderingColumn, 0, len(specs))
	for _, spec := range specs {
		parts := strings.Split(spec, ":")
		col := execinfra.OrderingColumn{NullsOrder: execinfra.NullsLast}
		idx, err := strconv.Atoi(parts[0])
		if err != nil {
			idx = -1
			for i, name := range header {
				if name == parts[0] {
					idx = i
					break
				}
			}
			if idx < 0 {
				return nil, errors.Newf("unknown sort key column %q", parts[0])
			}
		}
		// Range checking is left to the operator, which owns the schema rules.
		col.ColIdx = idx
		for _, part := range parts[1:] {
			switch part {
			case "asc":
				col.Direction = execinfra.Ascending
			case "desc":
				col.Direction = execinfra.Descending
			case "nulls-first":
				col.NullsOrder = execinfra.NullsFirst
			case "nulls-last":
				col.NullsOrder = execinfra.NullsLast
			default:
				return nil, errors.Newf("bad sort key %q: unknown modifier %q", spec, part)
			}
		}
		ordering = append(ordering, col)
	}
	return ordering, nil
}

// batchBuilder accumulates parsed CSV records into columnar batches.
type batchBuilder struct {
	typs       []coltypes.T
	nullMarker string
	batch      *coldata.Batch
	n          int
	rows       int64
}

func newBatchBuilder(typs []coltypes.T, nullMarker string) *batchBuilder {
	return &batchBuilder{
		typs:       typs,
		nullMarker: nullMarker,
		batch:      coldata.NewMemBatchWithCapacity(typs, coldata.BatchSize()),
	}
}

func (b *batchBuilder) add(record []string) error {
	for j, field := range record {
		vec := b.batch.ColVec(j)
		if field == b.nullMarker {
			vec.Nulls().SetNull(b.n)
			if b.typs[j] == coltypes.Bytes {
				vec.Bytes().Set(b.n, nil)
			}
			continue
		}
		switch b.typs[j] {
		case coltypes.Bool:
			v, err := strconv.ParseBool(field)
			if err != nil {
				return errors.Wrapf(err, "row %d, column %d", b.rows+1, j)
			}
			vec.Bool()[b.n] = v
		case coltypes.Int64:
			v, err := strconv.ParseInt(field, 10, 64)
			if err != nil {
				return errors.Wrapf(err, "row %d, column %d", b.rows+1, j)
			}
			vec.Int64()[b.n] = v
		case coltypes.Float64:
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return errors.Wrapf(err, "row %d, column %d", b.rows+1, j)
			}
			vec.Float64()[b.n] = v
		case coltypes.Bytes:
			vec.Bytes().Set(b.n, []byte(field))
		}
	}
	b.n++
	b.rows++
	return nil
}

func (b *batchBuilder) full() bool {
	return b.n == coldata.BatchSize()
}

// finish seals the current batch and starts a fresh one.
func (b *batchBuilder) finish() *coldata.Batch {
	out := b.batch
	out.SetLength(b.n)
	b.batch = coldata.NewMemBatchWithCapacity(b.typs, coldata.BatchSize())
	b.n = 0
	return out
}

func writeBatch(cw *csv.Writer, b *coldata.Batch, nullMarker string, record []string) error {
	for i := 0; i < b.Length(); i++ {
		for j := 0; j < b.Width(); j++ {
			vec := b.ColVec(j)
			if vec.Nulls().MaybeHasNulls() && vec.Nulls().NullAt(i) {
				record[j] = nullMarker
				continue
			}
			switch vec.Type() {
			case coltypes.Bool:
				record[j] = strconv.FormatBool(vec.Bool()[i])
			case coltypes.Int64:
				record[j] = strconv.FormatInt(vec.Int64()[i], 10)
			case coltypes.Float64:
				record[j] = strconv.FormatFloat(vec.Float64()[i], 'g', -1, 64)
			case coltypes.Bytes:
				record[j] = string(vec.Bytes().Get(i))
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	return nil
}
