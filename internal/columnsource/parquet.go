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

package columnsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/cardinalhq/transformer/internal/pipelineerr"
)

// DefaultCollection names the only collection of a single-file input.
const DefaultCollection = "Events"

// ParquetSource reads Parquet inputs. A directory input holds one
// "<collection>.parquet" file per collection; a single file input is one
// collection named SingleFileCollection.
type ParquetSource struct {
	SingleFileCollection string
	// BatchSize is the number of rows the Parquet reader decodes at a time.
	BatchSize int64
	Allocator memory.Allocator
}

var _ Source = (*ParquetSource)(nil)

// NewParquetSource returns a source with default settings.
func NewParquetSource() *ParquetSource {
	return &ParquetSource{
		SingleFileCollection: DefaultCollection,
		BatchSize:            8192,
		Allocator:            memory.DefaultAllocator,
	}
}

// Open maps the collections of path. Files are opened lazily.
func (s *ParquetSource) Open(ctx context.Context, path string) (Handle, error) {
	path = strings.TrimPrefix(path, "file://")
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("opening input %s: %w", path, err)
	}

	h := &parquetHandle{
		src:   s,
		paths: map[string]string{},
		open:  map[string]*parquetCollection{},
	}
	if !fi.IsDir() {
		name := s.SingleFileCollection
		if name == "" {
			name = DefaultCollection
		}
		h.paths[name] = path
		return h, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("listing input directory %s: %w", path, err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".parquet" {
			continue
		}
		h.paths[strings.TrimSuffix(e.Name(), ".parquet")] = filepath.Join(path, e.Name())
	}
	if len(h.paths) == 0 {
		return nil, fmt.Errorf("input directory %s holds no .parquet collections", path)
	}
	return h, nil
}

type parquetHandle struct {
	src   *ParquetSource
	paths map[string]string
	open  map[string]*parquetCollection
}

type parquetCollection struct {
	pf     *file.Reader
	fr     *pqarrow.FileReader
	schema *arrow.Schema
	// cursors holds one forward reader per requested field set.
	cursors map[string]*rowCursor
}

func (h *parquetHandle) Collections(context.Context) ([]string, error) {
	names := make([]string, 0, len(h.paths))
	for n := range h.paths {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (h *parquetHandle) collection(collection string) (*parquetCollection, error) {
	if c, ok := h.open[collection]; ok {
		return c, nil
	}
	path, ok := h.paths[collection]
	if !ok {
		return nil, pipelineerr.NewAlignment(collection, "collection not found in input")
	}

	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("opening parquet file %s: %w", path, err)
	}
	props := pqarrow.ArrowReadProperties{BatchSize: h.src.BatchSize, Parallel: false}
	mem := h.src.Allocator
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	fr, err := pqarrow.NewFileReader(pf, props, mem)
	if err != nil {
		_ = pf.Close()
		return nil, fmt.Errorf("creating arrow reader for %s: %w", path, err)
	}
	schema, err := fr.Schema()
	if err != nil {
		_ = pf.Close()
		return nil, fmt.Errorf("reading arrow schema of %s: %w", path, err)
	}

	c := &parquetCollection{pf: pf, fr: fr, schema: schema}
	h.open[collection] = c
	return c, nil
}

func (h *parquetHandle) Fields(_ context.Context, collection string) ([]string, error) {
	c, err := h.collection(collection)
	if err != nil {
		return nil, err
	}
	names := make([]string, c.schema.NumFields())
	for i, f := range c.schema.Fields() {
		names[i] = f.Name
	}
	return names, nil
}

func (h *parquetHandle) EntryCount(_ context.Context, collection string) (int64, error) {
	c, err := h.collection(collection)
	if err != nil {
		return 0, err
	}
	return c.pf.NumRows(), nil
}

func (c *parquetCollection) fieldIndex(collection, field string) (int, error) {
	idx := c.schema.FieldIndices(field)
	if len(idx) == 0 {
		return 0, pipelineerr.NewAlignment(collection, fmt.Sprintf("no field named %q", field))
	}
	return idx[0], nil
}

// leafColumns returns the parquet leaf column indices under a top-level field.
func (c *parquetCollection) leafColumns(fieldIdx int) []int {
	var leaves []int
	var walk func(f pqarrow.SchemaField)
	walk = func(f pqarrow.SchemaField) {
		if len(f.Children) == 0 {
			leaves = append(leaves, f.ColIndex)
			return
		}
		for _, ch := range f.Children {
			walk(ch)
		}
	}
	walk(c.fr.Manifest.Fields[fieldIdx])
	return leaves
}

func (h *parquetHandle) ColumnBytes(_ context.Context, collection, field string) (int64, error) {
	c, err := h.collection(collection)
	if err != nil {
		return 0, err
	}
	idx, err := c.fieldIndex(collection, field)
	if err != nil {
		return 0, err
	}
	var total int64
	for rg := 0; rg < c.pf.NumRowGroups(); rg++ {
		md := c.pf.MetaData().RowGroup(rg)
		for _, leaf := range c.leafColumns(idx) {
			cc, err := md.ColumnChunk(leaf)
			if err != nil {
				return 0, fmt.Errorf("reading column chunk metadata: %w", err)
			}
			total += cc.TotalUncompressedSize()
		}
	}
	return total, nil
}

// rowCursor is a forward reader over one field set of a collection. The
// aligner reads each collection front to back, so consecutive slices are
// served from the same decoded batches instead of re-reading row groups.
type rowCursor struct {
	rr pqarrow.RecordReader
	// next is the entry index of the first unconsumed row.
	next int64
	// rec is the batch being consumed, retained across calls.
	rec   arrow.Record
	off   int64
	seeks int
}

func (cur *rowCursor) release() {
	if cur.rec != nil {
		cur.rec.Release()
		cur.rec = nil
	}
	cur.rr.Release()
}

func (cur *rowCursor) seek(row int64) error {
	if cur.rec != nil {
		cur.rec.Release()
		cur.rec = nil
	}
	cur.off = 0
	cur.seeks++
	if err := cur.rr.SeekToRow(row); err != nil {
		return err
	}
	cur.next = row
	return nil
}

// batch returns the current batch with at least one unconsumed row, or nil
// at the end of the collection.
func (cur *rowCursor) batch() (arrow.Record, error) {
	if cur.rec != nil && cur.off < cur.rec.NumRows() {
		return cur.rec, nil
	}
	if cur.rec != nil {
		cur.rec.Release()
		cur.rec = nil
	}
	rec, err := cur.rr.Read()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if rec == nil || rec.NumRows() == 0 {
		return nil, nil
	}
	rec.Retain()
	cur.rec = rec
	cur.off = 0
	return rec, nil
}

func cursorKey(fields []string) string {
	return strings.Join(fields, "\x00")
}

func (c *parquetCollection) cursor(ctx context.Context, collection string, fields []string) (*rowCursor, error) {
	key := cursorKey(fields)
	if cur, ok := c.cursors[key]; ok {
		return cur, nil
	}
	var leaves []int
	for _, f := range fields {
		idx, err := c.fieldIndex(collection, f)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, c.leafColumns(idx)...)
	}
	rr, err := c.fr.GetRecordReader(ctx, leaves, nil)
	if err != nil {
		return nil, fmt.Errorf("creating record reader: %w", err)
	}
	cur := &rowCursor{rr: rr}
	if c.cursors == nil {
		c.cursors = map[string]*rowCursor{}
	}
	c.cursors[key] = cur
	return cur, nil
}

func (c *parquetCollection) dropCursor(fields []string) {
	key := cursorKey(fields)
	if cur, ok := c.cursors[key]; ok {
		cur.release()
		delete(c.cursors, key)
	}
}

func (h *parquetHandle) ReadSlice(ctx context.Context, collection string, fields []string, start, count int64) (map[string]arrow.Array, error) {
	c, err := h.collection(collection)
	if err != nil {
		return nil, err
	}
	if start < 0 || count < 0 || start+count > c.pf.NumRows() {
		return nil, fmt.Errorf("entries [%d,%d) out of range for %s with %d entries", start, start+count, collection, c.pf.NumRows())
	}
	for _, f := range fields {
		if _, err := c.fieldIndex(collection, f); err != nil {
			return nil, err
		}
	}

	mem := h.src.Allocator
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	if count == 0 {
		out := make(map[string]arrow.Array, len(fields))
		for _, f := range fields {
			idx, _ := c.fieldIndex(collection, f)
			b := array.NewBuilder(mem, c.schema.Field(idx).Type)
			out[f] = b.NewArray()
			b.Release()
		}
		return out, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cur, err := c.cursor(ctx, collection, fields)
	if err != nil {
		return nil, err
	}
	if cur.next != start {
		if err := cur.seek(start); err != nil {
			c.dropCursor(fields)
			return nil, fmt.Errorf("seeking %s to entry %d: %w", collection, start, err)
		}
	}

	pieces := make([][]arrow.Array, len(fields))
	release := func() {
		for _, ps := range pieces {
			for _, p := range ps {
				p.Release()
			}
		}
	}
	// a failed read leaves the cursor position unknown
	fail := func(err error) (map[string]arrow.Array, error) {
		release()
		c.dropCursor(fields)
		return nil, err
	}

	end := start + count
	remaining := count
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		rec, err := cur.batch()
		if err != nil {
			return fail(fmt.Errorf("reading %s: %w", collection, err))
		}
		if rec == nil {
			break
		}
		take := min(rec.NumRows()-cur.off, remaining)
		for i, f := range fields {
			col := rec.Column(rec.Schema().FieldIndices(f)[0])
			pieces[i] = append(pieces[i], array.NewSlice(col, cur.off, cur.off+take))
		}
		cur.off += take
		cur.next += take
		remaining -= take
	}
	if remaining > 0 {
		return fail(fmt.Errorf("%s ended %d entries short of [%d,%d)", collection, remaining, start, end))
	}

	out := make(map[string]arrow.Array, len(fields))
	for i, f := range fields {
		if len(pieces[i]) == 1 {
			out[f] = pieces[i][0]
			pieces[i] = nil
			continue
		}
		merged, err := array.Concatenate(pieces[i], mem)
		if err != nil {
			release()
			for _, a := range out {
				a.Release()
			}
			return nil, fmt.Errorf("concatenating %s.%s: %w", collection, f, err)
		}
		for _, p := range pieces[i] {
			p.Release()
		}
		pieces[i] = nil
		out[f] = merged
	}
	return out, nil
}

func (h *parquetHandle) Close() error {
	var errs []error
	for name, c := range h.open {
		for key, cur := range c.cursors {
			cur.release()
			delete(c.cursors, key)
		}
		if err := c.pf.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
		delete(h.open, name)
	}
	return errors.Join(errs...)
}
