// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package colserde

import (
	"io"

	"github.com/apache/arrow/go/v11/arrow/ipc"
	"github.com/apache/arrow/go/v11/arrow/memory"
	"github.com/cockroachdb/errors"
	"github.com/vexecdb/vexec/pkg/col/coldata"
	"github.com/vexecdb/vexec/pkg/col/coltypes"
)

// RecordWriter serializes batches of a fixed schema to w as an Arrow IPC
// stream. The caller is responsible for closing w itself; Close only
// finalizes the stream.
type RecordWriter struct {
	conv *ArrowBatchConverter
	w    *ipc.Writer
}

// NewRecordWriter creates a RecordWriter for the given types.
func NewRecordWriter(w io.Writer, typs []coltypes.T) (*RecordWriter, error) {
	conv, err := NewArrowBatchConverter(typs)
	if err != nil {
		return nil, err
	}
	return &RecordWriter{
		conv: conv,
		w: ipc.NewWriter(w,
			ipc.WithSchema(conv.Schema()),
			ipc.WithAllocator(memory.NewGoAllocator()),
		),
	}, nil
}

// WriteBatch appends the first b.Length() rows of the batch to the stream.
func (w *RecordWriter) WriteBatch(b *coldata.Batch) error {
	rec, err := w.conv.BatchToArrow(b)
	if err != nil {
		return err
	}
	defer rec.Release()
	return w.w.Write(rec)
}

// Close writes the end-of-stream marker. It does not close the underlying
// writer.
func (w *RecordWriter) Close() error {
	return w.w.Close()
}

// RecordReader deserializes batches from an Arrow IPC stream produced by a
// RecordWriter with the same schema.
type RecordReader struct {
	conv *ArrowBatchConverter
	r    *ipc.Reader
}

// NewRecordReader creates a RecordReader decoding batches of the given types
// from r. It fails if the stream's schema does not match the types.
func NewRecordReader(r io.Reader, typs []coltypes.T) (*RecordReader, error) {
	conv, err := NewArrowBatchConverter(typs)
	if err != nil {
		return nil, err
	}
	rr, err := ipc.NewReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, err
	}
	if !conv.Schema().Equal(rr.Schema()) {
		rr.Release()
		return nil, errors.Newf(
			"on-disk schema %s does not match expected schema %s", rr.Schema(), conv.Schema())
	}
	return &RecordReader{conv: conv, r: rr}, nil
}

// ReadBatch reads the next record of the stream into b. It returns false once
// the stream is exhausted.
func (r *RecordReader) ReadBatch(b *coldata.Batch) (bool, error) {
	if !r.r.Next() {
		if err := r.r.Err(); err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		return false, nil
	}
	if err := r.conv.ArrowToBatch(r.r.Record(), b); err != nil {
		return false, err
	}
	return true, nil
}

// Close releases the resources of the reader. It does not close the
// underlying reader.
func (r *RecordReader) Close() {
	r.r.Release()
}
