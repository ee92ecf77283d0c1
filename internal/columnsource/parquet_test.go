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
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/transformer/internal/pipelineerr"
)

// writeCollection writes n entries with fields "id" (int64 = entry index)
// and "pt" (float64 = index/10) in row groups of rowGroup entries.
func writeCollection(t *testing.T, path string, n, rowGroup int64) {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "pt", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}, nil)

	f, err := os.Create(path)
	require.NoError(t, err)

	props := parquet.NewWriterProperties(parquet.WithMaxRowGroupLength(rowGroup))
	w, err := pqarrow.NewFileWriter(schema, f, props, pqarrow.DefaultWriterProps())
	require.NoError(t, err)

	ib := array.NewInt64Builder(memory.DefaultAllocator)
	fb := array.NewFloat64Builder(memory.DefaultAllocator)
	for i := int64(0); i < n; i++ {
		ib.Append(i)
		fb.Append(float64(i) / 10)
	}
	ids := ib.NewArray()
	pts := fb.NewArray()
	rec := array.NewRecord(schema, []arrow.Array{ids, pts}, n)
	require.NoError(t, w.Write(rec))
	rec.Release()
	ids.Release()
	pts.Release()
	ib.Release()
	fb.Release()
	require.NoError(t, w.Close())
}

func TestParquetSingleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.parquet")
	writeCollection(t, path, 250, 64)

	src := NewParquetSource()
	src.BatchSize = 50

	h, err := src.Open(context.Background(), path)
	require.NoError(t, err)
	defer func() { require.NoError(t, h.Close()) }()

	cols, err := h.Collections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Events"}, cols)

	fields, err := h.Fields(context.Background(), "Events")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "pt"}, fields)

	n, err := h.EntryCount(context.Background(), "Events")
	require.NoError(t, err)
	assert.Equal(t, int64(250), n)

	// spans row groups 0..3 boundaries at 64, 128, 192
	out, err := h.ReadSlice(context.Background(), "Events", []string{"pt", "id"}, 60, 140)
	require.NoError(t, err)
	ids := out["id"].(*array.Int64)
	require.Equal(t, 140, ids.Len())
	for i := 0; i < ids.Len(); i++ {
		require.Equal(t, int64(60+i), ids.Value(i))
	}
	assert.InDelta(t, 6.0, out["pt"].(*array.Float64).Value(0), 1e-9)
	for _, a := range out {
		a.Release()
	}

	size, err := h.ColumnBytes(context.Background(), "Events", "id")
	require.NoError(t, err)
	assert.Positive(t, size)
}

func TestParquetDirectoryCollections(t *testing.T) {
	dir := t.TempDir()
	writeCollection(t, filepath.Join(dir, "A.parquet"), 250, 100)
	writeCollection(t, filepath.Join(dir, "B.parquet"), 240, 100)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0o644))

	h, err := NewParquetSource().Open(context.Background(), dir)
	require.NoError(t, err)
	defer func() { _ = h.Close() }()

	cols, err := h.Collections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, cols)

	n, err := h.EntryCount(context.Background(), "B")
	require.NoError(t, err)
	assert.Equal(t, int64(240), n)

	_, err = h.EntryCount(context.Background(), "C")
	assert.True(t, pipelineerr.IsAlignment(err))

	_, err = h.ReadSlice(context.Background(), "A", []string{"eta"}, 0, 10)
	assert.True(t, pipelineerr.IsAlignment(err))

	_, err = h.ReadSlice(context.Background(), "B", []string{"id"}, 200, 50)
	assert.Error(t, err)
}

func TestParquetOpenErrors(t *testing.T) {
	_, err := NewParquetSource().Open(context.Background(), filepath.Join(t.TempDir(), "missing.parquet"))
	assert.Error(t, err)

	_, err = NewParquetSource().Open(context.Background(), t.TempDir())
	assert.Error(t, err)
}

func TestParquetReadCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.parquet")
	writeCollection(t, path, 10, 10)
	h, err := NewParquetSource().Open(context.Background(), "file://"+path)
	require.NoError(t, err)
	defer func() { _ = h.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.ReadSlice(ctx, "Events", []string{"id"}, 0, 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParquetSequentialReadsKeepCursor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.parquet")
	writeCollection(t, path, 20000, 20000)

	src := NewParquetSource()
	src.BatchSize = 1000

	h, err := src.Open(context.Background(), path)
	require.NoError(t, err)

	var next int64
	for next < 20000 {
		count := min(int64(700), 20000-next)
		out, err := h.ReadSlice(context.Background(), "Events", []string{"id"}, next, count)
		require.NoError(t, err)
		ids := out["id"].(*array.Int64)
		require.Equal(t, int(count), ids.Len())
		assert.Equal(t, next, ids.Value(0))
		assert.Equal(t, next+count-1, ids.Value(ids.Len()-1))
		ids.Release()
		next += count
	}

	c := h.(*parquetHandle).open["Events"]
	require.Len(t, c.cursors, 1)
	cur := c.cursors[cursorKey([]string{"id"})]
	assert.Equal(t, int64(20000), cur.next)
	assert.Zero(t, cur.seeks)

	require.NoError(t, h.Close())
	assert.Empty(t, c.cursors)
}

func TestParquetOutOfOrderReadSeeks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.parquet")
	writeCollection(t, path, 500, 128)

	src := NewParquetSource()
	src.BatchSize = 64
	h, err := src.Open(context.Background(), path)
	require.NoError(t, err)
	defer func() { require.NoError(t, h.Close()) }()

	read := func(start, count int64) {
		t.Helper()
		out, err := h.ReadSlice(context.Background(), "Events", []string{"id", "pt"}, start, count)
		require.NoError(t, err)
		ids := out["id"].(*array.Int64)
		require.Equal(t, int(count), ids.Len())
		for i := 0; i < ids.Len(); i++ {
			require.Equal(t, start+int64(i), ids.Value(i))
		}
		assert.InDelta(t, float64(start)/10, out["pt"].(*array.Float64).Value(0), 1e-9)
		for _, a := range out {
			a.Release()
		}
	}

	read(300, 50)
	read(350, 100)
	read(10, 20)
	read(30, 5)

	cur := h.(*parquetHandle).open["Events"].cursors[cursorKey([]string{"id", "pt"})]
	assert.Equal(t, 2, cur.seeks)
	assert.Equal(t, int64(35), cur.next)
}
