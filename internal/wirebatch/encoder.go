// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package wirebatch encodes aligned chunks into independently decodable
// Arrow IPC stream messages.
package wirebatch

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/cardinalhq/transformer/internal/chunker"
	"github.com/cardinalhq/transformer/internal/pipelineerr"
)

// Compression selects the IPC body compression codec.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionLZ4  Compression = "lz4"
	CompressionZstd Compression = "zstd"
)

// ParseCompression accepts "", "none", "lz4" and "zstd" in any case.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "lz4", "lz4_frame":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return "", pipelineerr.NewConfiguration("compression", fmt.Sprintf("unsupported compression %q", s))
	}
}

// WireBatch is one self-describing Arrow IPC stream holding Rows rows that
// start at entry Start of the file.
type WireBatch struct {
	Schema *arrow.Schema
	Start  int64
	Rows   int64
	Data   []byte
}

// Size is the encoded byte size.
func (b WireBatch) Size() int64 {
	return int64(len(b.Data))
}

// Options configures an Encoder.
type Options struct {
	// BatchRows is the maximum rows per WireBatch.
	BatchRows   int64
	Compression Compression
	Allocator   memory.Allocator
}

// Encoder turns the chunks of one file into WireBatches. The schema is
// fixed by the first chunk; create a new Encoder per file.
type Encoder struct {
	batchRows int64
	mem       memory.Allocator
	ipcOpts   []ipc.Option
	schema    *arrow.Schema
}

// NewEncoder validates opts and returns an Encoder.
func NewEncoder(opts Options) (*Encoder, error) {
	if opts.BatchRows <= 0 {
		return nil, pipelineerr.NewConfiguration("batch_rows", fmt.Sprintf("must be positive, got %d", opts.BatchRows))
	}
	mem := opts.Allocator
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	ipcOpts := []ipc.Option{ipc.WithAllocator(mem)}
	switch opts.Compression {
	case "", CompressionNone:
	case CompressionLZ4:
		ipcOpts = append(ipcOpts, ipc.WithLZ4())
	case CompressionZstd:
		ipcOpts = append(ipcOpts, ipc.WithZstd())
	default:
		return nil, pipelineerr.NewConfiguration("compression", fmt.Sprintf("unsupported compression %q", opts.Compression))
	}
	return &Encoder{batchRows: opts.BatchRows, mem: mem, ipcOpts: ipcOpts}, nil
}

// Schema returns the file schema, or nil before the first chunk.
func (e *Encoder) Schema() *arrow.Schema {
	return e.schema
}

// SchemaOf derives the schema of a chunk, one nullable field per column in
// chunk order.
func SchemaOf(c *chunker.Chunk) *arrow.Schema {
	fields := make([]arrow.Field, len(c.Columns))
	for i, col := range c.Columns {
		fields[i] = arrow.Field{Name: col.Name, Type: col.Values.DataType(), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// Encode slices the chunk into consecutive runs of at most BatchRows rows
// and encodes each as its own IPC stream. An empty chunk yields no batches.
func (e *Encoder) Encode(c *chunker.Chunk) ([]WireBatch, error) {
	schema := SchemaOf(c)
	if e.schema == nil {
		e.schema = schema
	} else if !e.schema.Equal(schema) {
		return nil, pipelineerr.NewEncoding(
			fmt.Sprintf("schema of entries [%d,%d) differs from file schema", c.Start, c.End),
			fmt.Errorf("want %s, got %s", e.schema, schema))
	}

	rows := c.Rows()
	if rows == 0 {
		return nil, nil
	}

	cols := make([]arrow.Array, len(c.Columns))
	for i, col := range c.Columns {
		cols[i] = col.Values
	}
	rec := array.NewRecord(e.schema, cols, rows)
	defer rec.Release()

	batches := make([]WireBatch, 0, (rows+e.batchRows-1)/e.batchRows)
	for off := int64(0); off < rows; off += e.batchRows {
		end := min(off+e.batchRows, rows)
		data, err := e.encodeRecord(rec, off, end)
		if err != nil {
			return nil, err
		}
		batches = append(batches, WireBatch{
			Schema: e.schema,
			Start:  c.Start + off,
			Rows:   end - off,
			Data:   data,
		})
	}
	return batches, nil
}

func (e *Encoder) encodeRecord(rec arrow.Record, off, end int64) ([]byte, error) {
	slice := rec.NewSlice(off, end)
	defer slice.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, append([]ipc.Option{ipc.WithSchema(e.schema)}, e.ipcOpts...)...)
	if err := w.Write(slice); err != nil {
		_ = w.Close()
		return nil, pipelineerr.NewEncoding("writing record batch", err)
	}
	if err := w.Close(); err != nil {
		return nil, pipelineerr.NewEncoding("closing ipc stream", err)
	}
	return buf.Bytes(), nil
}
