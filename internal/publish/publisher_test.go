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

package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/transformer/internal/chunker"
	"github.com/cardinalhq/transformer/internal/cloudstorage"
	"github.com/cardinalhq/transformer/internal/fly"
	"github.com/cardinalhq/transformer/internal/pipelineerr"
	"github.com/cardinalhq/transformer/internal/wirebatch"
)

type sentMessage struct {
	topic string
	msg   fly.Message
}

type fakeBus struct {
	sent    []sentMessage
	failAt  int
	sendErr error
}

func (b *fakeBus) Send(_ context.Context, topic string, msg fly.Message) error {
	if b.sendErr != nil && len(b.sent) == b.failAt {
		return b.sendErr
	}
	b.sent = append(b.sent, sentMessage{topic: topic, msg: msg})
	return nil
}

type failingStore struct{}

func (failingStore) UploadObject(context.Context, string, string, string) error {
	return errors.New("bucket unavailable")
}

func testChunk(start, end int64) *chunker.Chunk {
	b := array.NewFloat64Builder(memory.DefaultAllocator)
	defer b.Release()
	for i := start; i < end; i++ {
		b.Append(float64(i))
	}
	return &chunker.Chunk{Start: start, End: end, Columns: []chunker.Column{{Name: "Events.pt", Values: b.NewArray()}}}
}

// publishFile runs 250 entries in chunks of 100 and batches of 40 through fp.
func publishFile(t *testing.T, fp *FilePublisher) []Record {
	t.Helper()
	enc, err := wirebatch.NewEncoder(wirebatch.Options{BatchRows: 40})
	require.NoError(t, err)

	var all []Record
	for start := int64(0); start < 250; start += 100 {
		chunk := testChunk(start, min(start+100, 250))
		batches, err := enc.Encode(chunk)
		require.NoError(t, err)
		recs, err := fp.Publish(context.Background(), chunk, batches)
		chunk.Release()
		require.NoError(t, err)
		all = append(all, recs...)
	}
	return all
}

func TestNewRequiresASink(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, pipelineerr.IsConfiguration(err))

	_, err = New(Config{Bus: &fakeBus{}, Format: "csv"})
	assert.True(t, pipelineerr.IsConfiguration(err))
}

func TestBusSinkSequence(t *testing.T) {
	bus := &fakeBus{}
	p, err := New(Config{Bus: bus})
	require.NoError(t, err)
	assert.True(t, p.BusEnabled())
	assert.False(t, p.StoreEnabled())

	fp := p.Begin("req-1", "/data/f.root")
	records := publishFile(t, fp)

	// 100 -> 40,40,20 ; 100 -> 40,40,20 ; 50 -> 40,10
	require.Len(t, records, 8)
	require.Len(t, bus.sent, 8)
	for i, r := range records {
		assert.Equal(t, int64(i), r.Sequence)
		assert.Equal(t, BusKey("/data/f.root", int64(i)), r.Key)
		assert.Equal(t, "req-1", bus.sent[i].topic)
		assert.Equal(t, r.Key, string(bus.sent[i].msg.Key))
		assert.Equal(t, r.ByteSize, int64(len(bus.sent[i].msg.Value)))
	}
	assert.Equal(t, "/data/f.root-0", records[0].Key)

	stats, err := fp.Finish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(250), stats.Rows)
	assert.Equal(t, int64(8), stats.Batches)
	assert.Equal(t, 1, stats.Columns)

	var total int64
	for _, r := range records {
		total += r.ByteSize
	}
	assert.Equal(t, total, stats.Bytes)
	assert.InDelta(t, float64(total)/250, stats.AvgBytesPerColumnPerRow(), 1e-9)
	assert.Empty(t, stats.ObjectKey)
}

func TestObjectSinkOnly(t *testing.T) {
	for _, format := range []Format{FormatArrow, FormatParquet} {
		t.Run(string(format), func(t *testing.T) {
			base := t.TempDir()
			scratchDir := t.TempDir()
			store := cloudstorage.NewFileClient(base)

			p, err := New(Config{Store: store, Format: format, TmpDir: scratchDir})
			require.NoError(t, err)

			fp := p.Begin("req-2", "root://eos/data/f.root")
			records := publishFile(t, fp)
			assert.Len(t, records, 8)

			stats, err := fp.Finish(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "req-2", stats.ObjectBucket)
			assert.Equal(t, "eos:data:f.root", stats.ObjectKey)

			// totals still count the encoded batches with no bus configured
			var encoded int64
			for _, rec := range records {
				encoded += rec.ByteSize
			}
			assert.Positive(t, encoded)
			assert.Equal(t, encoded, stats.Bytes)
			assert.Equal(t, int64(8), stats.Batches)

			entries, err := os.ReadDir(filepath.Join(base, "req-2"))
			require.NoError(t, err)
			require.Len(t, entries, 1)

			leftovers, err := os.ReadDir(scratchDir)
			require.NoError(t, err)
			assert.Empty(t, leftovers)

			data, err := os.ReadFile(filepath.Join(base, "req-2", "eos:data:f.root"))
			require.NoError(t, err)
			if format == FormatParquet {
				assert.Equal(t, "PAR1", string(data[:4]))
				return
			}
			f, err := os.Open(filepath.Join(base, "req-2", "eos:data:f.root"))
			require.NoError(t, err)
			defer func() { _ = f.Close() }()
			r, err := ipc.NewFileReader(f)
			require.NoError(t, err)
			defer func() { _ = r.Close() }()
			var rows int64
			for i := 0; i < r.NumRecords(); i++ {
				rec, err := r.Record(i)
				require.NoError(t, err)
				rows += rec.NumRows()
			}
			assert.Equal(t, int64(250), rows)
			assert.Equal(t, 3, r.NumRecords())
		})
	}
}

func TestObjectSinkUsesConfiguredBucket(t *testing.T) {
	base := t.TempDir()
	p, err := New(Config{Store: cloudstorage.NewFileClient(base), Bucket: "results", TmpDir: t.TempDir()})
	require.NoError(t, err)

	fp := p.Begin("req-3", "f.root")
	publishFile(t, fp)
	stats, err := fp.Finish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "results", stats.ObjectBucket)
	assert.Equal(t, "req-3/f.root", stats.ObjectKey)
	assert.FileExists(t, filepath.Join(base, "results", "req-3", "f.root"))
}

func TestUploadFailureRemovesScratch(t *testing.T) {
	scratchDir := t.TempDir()
	p, err := New(Config{Store: failingStore{}, TmpDir: scratchDir})
	require.NoError(t, err)

	fp := p.Begin("req-4", "f.root")
	publishFile(t, fp)
	_, err = fp.Finish(context.Background())
	require.Error(t, err)
	assert.True(t, pipelineerr.IsPublish(err))

	leftovers, err := os.ReadDir(scratchDir)
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestAbortRemovesScratch(t *testing.T) {
	scratchDir := t.TempDir()
	p, err := New(Config{Store: failingStore{}, TmpDir: scratchDir})
	require.NoError(t, err)

	fp := p.Begin("req-5", "f.root")
	publishFile(t, fp)
	fp.Abort()

	leftovers, err := os.ReadDir(scratchDir)
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	_, err = fp.Publish(context.Background(), testChunk(0, 1), nil)
	assert.Error(t, err)
}

func TestBusFailureIsPublishError(t *testing.T) {
	bus := &fakeBus{failAt: 2, sendErr: errors.New("leader not available")}
	p, err := New(Config{Bus: bus})
	require.NoError(t, err)

	enc, err := wirebatch.NewEncoder(wirebatch.Options{BatchRows: 40})
	require.NoError(t, err)
	chunk := testChunk(0, 100)
	defer chunk.Release()
	batches, err := enc.Encode(chunk)
	require.NoError(t, err)

	fp := p.Begin("req-6", "f.root")
	records, err := fp.Publish(context.Background(), chunk, batches)
	require.Error(t, err)
	assert.True(t, pipelineerr.IsPublish(err))
	assert.Len(t, records, 2)
	assert.Equal(t, int64(2), fp.Stats().Batches)
}

func TestNoEntriesSkipsUpload(t *testing.T) {
	base := t.TempDir()
	p, err := New(Config{Store: cloudstorage.NewFileClient(base)})
	require.NoError(t, err)

	stats, err := p.Begin("req-7", "empty.root").Finish(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Rows)
	assert.Zero(t, stats.AvgBytesPerColumnPerRow())
	assert.NoDirExists(t, filepath.Join(base, "req-7"))
}

func TestObjectLocation(t *testing.T) {
	tests := []struct {
		bucket, request, path string
		wantBucket, wantKey   string
	}{
		{"", "r1", "/data/f.root", "r1", ":data:f.root"},
		{"", "r1", "s3://bucket/dir/f.parquet", "r1", "bucket:dir:f.parquet"},
		{"out", "r1", "f.root", "out", "r1/f.root"},
	}
	for _, tt := range tests {
		b, k := ObjectLocation(tt.bucket, tt.request, tt.path)
		assert.Equal(t, tt.wantBucket, b)
		assert.Equal(t, tt.wantKey, k)
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatArrow, f)
	f, err = ParseFormat("Parquet")
	require.NoError(t, err)
	assert.Equal(t, FormatParquet, f)
}
