// Copyright 2025 The Vexec Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package colserde converts the in-memory columnar batch representation to
// and from the Arrow record format so that batches can be spilled to disk as
// Arrow IPC streams.
package colserde

import (
	"fmt"

	"github.com/apache/arrow/go/v11/arrow"
	"github.com/apache/arrow/go/v11/arrow/array"
	"github.com/apache/arrow/go/v11/arrow/bitutil"
	"github.com/apache/arrow/go/v11/arrow/memory"
	"github.com/cockroachdb/errors"
	"github.com/vexecdb/vexec/pkg/col/coldata"
	"github.com/vexecdb/vexec/pkg/col/coltypes"
)

// ArrowBatchConverter converts batches to and from Arrow records for a fixed
// column schema. All columns are nullable. The conversion to Arrow is
// zero-copy for every type except Bool, whose in-memory representation is one
// byte per value while Arrow packs it into a bitmap.
type ArrowBatchConverter struct {
	typs   []coltypes.T
	schema *arrow.Schema

	// scratch holds reusable per-column buffers for the Bool bitmaps built
	// during BatchToArrow.
	scratch struct {
		boolBitmaps [][]byte
	}
}

// NewArrowBatchConverter converts coldata.Batches of the given physical types
// to and from Arrow records.
func NewArrowBatchConverter(typs []coltypes.T) (*ArrowBatchConverter, error) {
	fields := make([]arrow.Field, len(typs))
	for i, t := range typs {
		dt, err := arrowDataType(t)
		if err != nil {
			return nil, err
		}
		fields[i] = arrow.Field{Name: fmt.Sprintf("f%d", i), Type: dt, Nullable: true}
	}
	c := &ArrowBatchConverter{
		typs:   append([]coltypes.T(nil), typs...),
		schema: arrow.NewSchema(fields, nil),
	}
	c.scratch.boolBitmaps = make([][]byte, len(typs))
	return c, nil
}

func arrowDataType(t coltypes.T) (arrow.DataType, error) {
	switch t {
	case coltypes.Bool:
		return arrow.FixedWidthTypes.Boolean, nil
	case coltypes.Int64:
		return arrow.PrimitiveTypes.Int64, nil
	case coltypes.Float64:
		return arrow.PrimitiveTypes.Float64, nil
	case coltypes.Bytes:
		return arrow.BinaryTypes.Binary, nil
	default:
		return nil, errors.AssertionFailedf("unhandled column type %s", t)
	}
}

// Schema returns the Arrow schema of the records the converter produces.
func (c *ArrowBatchConverter) Schema() *arrow.Schema {
	return c.schema
}

// BatchToArrow converts the first b.Length() values of the batch into an
// Arrow record. The record borrows the batch's memory where possible, so it
// must be released before the batch is mutated again.
func (c *ArrowBatchConverter) BatchToArrow(b *coldata.Batch) (arrow.Record, error) {
	if b.Width() != len(c.typs) {
		return nil, errors.AssertionFailedf(
			"wrong number of columns: expected %d, got %d", len(c.typs), b.Width())
	}
	n := b.Length()
	cols := make([]arrow.Array, len(c.typs))
	for i, t := range c.typs {
		vec := b.ColVec(i)
		var validity *memory.Buffer
		if vec.Nulls().MaybeHasNulls() {
			validity = memory.NewBufferBytes(vec.Nulls().NullBitmap())
		}

		var values *memory.Buffer
		var offsets *memory.Buffer
		switch t {
		case coltypes.Bool:
			bm := c.scratch.boolBitmaps[i]
			if nBytes := bitutil.CeilByte(n) / 8; cap(bm) < nBytes {
				bm = make([]byte, nBytes)
				c.scratch.boolBitmaps[i] = bm
			} else {
				bm = bm[:nBytes]
				for j := range bm {
					bm[j] = 0
				}
			}
			vals := vec.Bool()
			for j := 0; j < n; j++ {
				if vals[j] {
					bitutil.SetBit(bm, j)
				}
			}
			values = memory.NewBufferBytes(bm)
		case coltypes.Int64:
			values = memory.NewBufferBytes(arrow.Int64Traits.CastToBytes(vec.Int64()[:n]))
		case coltypes.Float64:
			values = memory.NewBufferBytes(arrow.Float64Traits.CastToBytes(vec.Float64()[:n]))
		case coltypes.Bytes:
			data, offs := vec.Bytes().ToArrowSerializationFormat(n)
			values = memory.NewBufferBytes(data)
			offsets = memory.NewBufferBytes(arrow.Int32Traits.CastToBytes(offs))
		default:
			return nil, errors.AssertionFailedf("unhandled column type %s", t)
		}

		var buffers []*memory.Buffer
		if offsets != nil {
			buffers = []*memory.Buffer{validity, offsets, values}
		} else {
			buffers = []*memory.Buffer{validity, values}
		}
		d := array.NewData(c.schema.Field(i).Type, n, buffers, nil, array.UnknownNullCount, 0)
		cols[i] = array.MakeFromData(d)
		d.Release()
	}
	rec := array.NewRecord(c.schema, cols, int64(n))
	for _, col := range cols {
		col.Release()
	}
	return rec, nil
}

// ArrowToBatch copies the contents of the Arrow record into b, overwriting
// whatever the batch held. The batch must have capacity for the record's
// rows. Nothing of the record is retained, so it may be released afterwards.
func (c *ArrowBatchConverter) ArrowToBatch(rec arrow.Record, b *coldata.Batch) error {
	if int(rec.NumCols()) != len(c.typs) {
		return errors.AssertionFailedf(
			"wrong number of columns: expected %d, got %d", len(c.typs), rec.NumCols())
	}
	n := int(rec.NumRows())
	if n > b.Capacity() {
		return errors.AssertionFailedf(
			"record with %d rows does not fit in batch of capacity %d", n, b.Capacity())
	}
	b.ResetInternalBatch()
	if n == 0 {
		b.SetLength(0)
		return nil
	}
	for i, t := range c.typs {
		vec := b.ColVec(i)
		data := rec.Column(i).Data()
		if data.Offset() != 0 {
			return errors.AssertionFailedf("unexpected non-zero record offset %d", data.Offset())
		}
		buffers := data.Buffers()

		switch t {
		case coltypes.Bool:
			bm := buffers[1].Bytes()
			vals := vec.Bool()
			for j := 0; j < n; j++ {
				vals[j] = bitutil.BitIsSet(bm, j)
			}
		case coltypes.Int64:
			copy(vec.Int64()[:n], arrow.Int64Traits.CastFromBytes(buffers[1].Bytes())[:n])
		case coltypes.Float64:
			copy(vec.Float64()[:n], arrow.Float64Traits.CastFromBytes(buffers[1].Bytes())[:n])
		case coltypes.Bytes:
			offs := arrow.Int32Traits.CastFromBytes(buffers[1].Bytes())[: n+1 : n+1]
			var values []byte
			if buffers[2] != nil {
				values = buffers[2].Bytes()
			}
			dataCopy := make([]byte, offs[n])
			copy(dataCopy, values[:offs[n]])
			offsCopy := make([]int32, n+1)
			copy(offsCopy, offs)
			coldata.BytesFromArrowSerializationFormat(vec.Bytes(), dataCopy, offsCopy)
		default:
			return errors.AssertionFailedf("unhandled column type %s", t)
		}

		// The validity buffer is absent when every value is valid.
		var validity []byte
		if buffers[0] != nil && len(buffers[0].Bytes()) > 0 {
			validity = make([]byte, bitutil.CeilByte(n)/8)
			copy(validity, buffers[0].Bytes())
		}
		vec.Nulls().SetNullBitmap(validity, n)
	}
	b.SetLength(n)
	return nil
}
