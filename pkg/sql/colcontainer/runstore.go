// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package colcontainer

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/golang/snappy"
	"github.com/vexecdb/vexec/pkg/col/coldata"
	"github.com/vexecdb/vexec/pkg/col/colserde"
	"github.com/vexecdb/vexec/pkg/col/coltypes"
	"github.com/vexecdb/vexec/pkg/util/mon"
)

// storeSeq distinguishes the directories of RunStores created within the same
// process.
var storeSeq uint64

// RunStore manages the sorted run files of a single spilling operator. Each
// run is a separate file holding an Arrow IPC stream wrapped in snappy
// framing. Files live in a store-private subdirectory of Config.Path and are
// charged to the disk account as they are written.
//
// A RunStore is not safe for concurrent use.
type RunStore struct {
	cfg  Config
	typs []coltypes.T

	dir        string
	dirCreated bool

	// runSizes[i] holds the on-disk size of run i, or -1 if the run has been
	// removed.
	runSizes []int64

	diskAcc *mon.BoundAccount
}

// NewRunStore creates a RunStore for batches of the given types. Disk usage
// is charged to diskAcc, which stays owned by the caller.
func NewRunStore(cfg Config, typs []coltypes.T, diskAcc *mon.BoundAccount) *RunStore {
	seq := atomic.AddUint64(&storeSeq, 1)
	return &RunStore{
		cfg:     cfg,
		typs:    append([]coltypes.T(nil), typs...),
		dir:     cfg.FS.PathJoin(cfg.Path, fmt.Sprintf("vexec-sort-%d-%04d", os.Getpid(), seq)),
		diskAcc: diskAcc,
	}
}

// NumRuns returns the number of runs ever written to the store, including
// runs that have since been removed.
func (s *RunStore) NumRuns() int {
	return len(s.runSizes)
}

// RunSize returns the on-disk size in bytes of run runIdx, or -1 if the run
// was removed.
func (s *RunStore) RunSize(runIdx int) int64 {
	return s.runSizes[runIdx]
}

func (s *RunStore) runFilename(runIdx int) string {
	return s.cfg.FS.PathJoin(s.dir, fmt.Sprintf("run.%06d", runIdx))
}

func (s *RunStore) acquireFD(ctx context.Context) error {
	if s.cfg.FDSemaphore == nil {
		return nil
	}
	return s.cfg.FDSemaphore.Acquire(ctx, 1)
}

func (s *RunStore) releaseFD() {
	if s.cfg.FDSemaphore != nil {
		s.cfg.FDSemaphore.Release(1)
	}
}

// NewRunWriter starts a new run. The returned writer holds an open file
// descriptor until Close.
func (s *RunStore) NewRunWriter(ctx context.Context) (*RunWriter, error) {
	if !s.dirCreated {
		if err := s.cfg.FS.MkdirAll(s.dir, 0755); err != nil {
			return nil, MarkSpillIOError(err)
		}
		s.dirCreated = true
	}
	if err := s.acquireFD(ctx); err != nil {
		return nil, err
	}
	runIdx := len(s.runSizes)
	f, err := s.cfg.FS.Create(s.runFilename(runIdx), vfs.WriteCategoryUnspecified)
	if err != nil {
		s.releaseFD()
		return nil, MarkSpillIOError(err)
	}
	s.runSizes = append(s.runSizes, 0)
	w := &RunWriter{store: s, runIdx: runIdx, file: f}
	w.counting.wrapped = f
	w.snappy = snappy.NewBufferedWriter(&w.counting)
	rw, err := colserde.NewRecordWriter(w.snappy, s.typs)
	if err != nil {
		w.cleanup()
		return nil, err
	}
	w.records = rw
	return w, nil
}

// NewRunReader opens run runIdx for sequential reading. The returned reader
// holds an open file descriptor until Close.
func (s *RunStore) NewRunReader(ctx context.Context, runIdx int) (*RunReader, error) {
	if err := s.acquireFD(ctx); err != nil {
		return nil, err
	}
	f, err := s.cfg.FS.Open(s.runFilename(runIdx))
	if err != nil {
		s.releaseFD()
		return nil, MarkSpillIOError(err)
	}
	rr, err := colserde.NewRecordReader(snappy.NewReader(f), s.typs)
	if err != nil {
		_ = f.Close()
		s.releaseFD()
		return nil, MarkSpillIOError(err)
	}
	return &RunReader{store: s, file: f, records: rr}, nil
}

// RemoveRun deletes the file of run runIdx and releases its disk
// reservation. The run must not have an open reader.
func (s *RunStore) RemoveRun(ctx context.Context, runIdx int) error {
	size := s.runSizes[runIdx]
	if size < 0 {
		return errors.AssertionFailedf("run %d was already removed", runIdx)
	}
	if err := s.cfg.FS.Remove(s.runFilename(runIdx)); err != nil {
		return MarkSpillIOError(err)
	}
	s.runSizes[runIdx] = -1
	s.diskAcc.Shrink(ctx, size)
	return nil
}

// CloseAndRemove deletes all run files and the store directory and releases
// the disk reservation. It is safe to call more than once and when nothing
// was ever spilled.
func (s *RunStore) CloseAndRemove(ctx context.Context) error {
	s.runSizes = nil
	s.diskAcc.Clear(ctx)
	if !s.dirCreated {
		return nil
	}
	s.dirCreated = false
	if err := s.cfg.FS.RemoveAll(s.dir); err != nil && !oserror.IsNotExist(err) {
		return MarkSpillIOError(err)
	}
	return nil
}

// countingWriter tracks the number of bytes written through it.
type countingWriter struct {
	wrapped io.Writer
	written int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.wrapped.Write(p)
	w.written += int64(n)
	return n, err
}

// RunWriter writes one sorted run. Batches must arrive in run order and hold
// at most coldata.BatchSize() rows each.
type RunWriter struct {
	store    *RunStore
	runIdx   int
	file     vfs.File
	counting countingWriter
	snappy   *snappy.Writer
	records  *colserde.RecordWriter
	closed   bool
}

// WriteBatch appends the batch to the run.
func (w *RunWriter) WriteBatch(b *coldata.Batch) error {
	if b.Length() > coldata.BatchSize() {
		return errors.AssertionFailedf(
			"run batch with %d rows exceeds the maximum of %d", b.Length(), coldata.BatchSize())
	}
	return MarkSpillIOError(w.records.WriteBatch(b))
}

// Close finalizes the run, closes the file and charges the run's size to the
// disk account. The writer must not be used afterwards.
func (w *RunWriter) Close(ctx context.Context) error {
	if w.closed {
		return nil
	}
	err := w.records.Close()
	if err == nil {
		err = w.snappy.Close()
	}
	if closeErr := w.file.Close(); err == nil {
		err = closeErr
	}
	w.closed = true
	w.store.releaseFD()
	if err != nil {
		return MarkSpillIOError(err)
	}
	w.store.runSizes[w.runIdx] = w.counting.written
	return w.store.diskAcc.Grow(ctx, w.counting.written)
}

// cleanup releases the writer's resources after a constructor failure.
func (w *RunWriter) cleanup() {
	_ = w.file.Close()
	w.store.releaseFD()
	w.closed = true
}

// RunReader reads one sorted run back in run order.
type RunReader struct {
	store   *RunStore
	file    vfs.File
	records *colserde.RecordReader
	closed  bool
}

// ReadBatch reads the next batch of the run into b. It returns false once the
// run is exhausted.
func (r *RunReader) ReadBatch(b *coldata.Batch) (bool, error) {
	ok, err := r.records.ReadBatch(b)
	return ok, MarkSpillIOError(err)
}

// Close closes the run file and releases its file descriptor. It is safe to
// call more than once.
func (r *RunReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.records.Close()
	err := r.file.Close()
	r.store.releaseFD()
	return MarkSpillIOError(err)
}
