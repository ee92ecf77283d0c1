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

// Package publish delivers the encoded batches of one file to the message
// bus and, optionally, a single uploaded table in object storage.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/transformer/internal/chunker"
	"github.com/cardinalhq/transformer/internal/fly"
	"github.com/cardinalhq/transformer/internal/pipelineerr"
	"github.com/cardinalhq/transformer/internal/wirebatch"
)

const (
	SinkBus    = "bus"
	SinkObject = "object"
)

var (
	rowsPublished    metric.Int64Counter
	bytesPublished   metric.Int64Counter
	batchesPublished metric.Int64Counter
	objectsUploaded  metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/transformer/internal/publish")

	var err error
	rowsPublished, err = meter.Int64Counter(
		"transformer.rows.published",
		metric.WithDescription("Number of rows published"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rows.published counter: %w", err))
	}

	bytesPublished, err = meter.Int64Counter(
		"transformer.bytes.published",
		metric.WithDescription("Encoded bytes of published batches"),
		metric.WithUnit("By"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create bytes.published counter: %w", err))
	}

	batchesPublished, err = meter.Int64Counter(
		"transformer.batches.published",
		metric.WithDescription("Number of wire batches published"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create batches.published counter: %w", err))
	}

	objectsUploaded, err = meter.Int64Counter(
		"transformer.objects.uploaded",
		metric.WithDescription("Number of result tables uploaded to object storage"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create objects.uploaded counter: %w", err))
	}
}

// BusProducer is the part of fly.Producer used by the bus sink.
type BusProducer interface {
	Send(ctx context.Context, topic string, message fly.Message) error
}

// ObjectStore is the part of cloudstorage.Client used by the object sink.
type ObjectStore interface {
	UploadObject(ctx context.Context, bucket, key, sourceFilename string) error
}

// Config selects and configures the sinks. A nil Bus or Store disables
// that sink.
type Config struct {
	Bus   BusProducer
	Store ObjectStore
	// Bucket, when set, receives every upload under "<request id>/".
	// Otherwise the request id is used as the bucket name.
	Bucket    string
	Format    Format
	TmpDir    string
	Allocator memory.Allocator
}

// Publisher holds the validated sink configuration shared by every file a
// worker processes.
type Publisher struct {
	cfg Config
}

// New returns a ConfigurationError when no sink is enabled.
func New(cfg Config) (*Publisher, error) {
	if cfg.Bus == nil && cfg.Store == nil {
		return nil, pipelineerr.NewConfiguration("sinks", "at least one of the message bus or object store must be enabled")
	}
	if cfg.Format == "" {
		cfg.Format = FormatArrow
	}
	if _, err := ParseFormat(string(cfg.Format)); err != nil {
		return nil, err
	}
	if cfg.Allocator == nil {
		cfg.Allocator = memory.DefaultAllocator
	}
	return &Publisher{cfg: cfg}, nil
}

// BusEnabled reports whether batches are sent to the message bus.
func (p *Publisher) BusEnabled() bool { return p.cfg.Bus != nil }

// StoreEnabled reports whether a table is uploaded per file.
func (p *Publisher) StoreEnabled() bool { return p.cfg.Store != nil }

// Record describes one published batch.
type Record struct {
	Key      string
	ByteSize int64
	RowCount int64
	Sequence int64
}

// Stats are the running counters of one file.
type Stats struct {
	Rows    int64
	Bytes   int64
	Batches int64
	Columns int
	// ObjectBucket and ObjectKey are set once the table is uploaded.
	ObjectBucket string
	ObjectKey    string
}

// AvgBytesPerColumnPerRow is Bytes / (Rows * Columns), or 0 when empty.
func (s Stats) AvgBytesPerColumnPerRow() float64 {
	if s.Rows == 0 || s.Columns == 0 {
		return 0
	}
	return float64(s.Bytes) / float64(s.Rows) / float64(s.Columns)
}

// ObjectLocation derives the bucket and key for a file's uploaded table.
func ObjectLocation(bucket, requestID, filePath string) (string, string) {
	key := SanitizePath(filePath)
	if bucket == "" {
		return requestID, key
	}
	return bucket, requestID + "/" + key
}

// SanitizePath drops a URL scheme and replaces every "/" with ":" so a
// path becomes a single flat object name.
func SanitizePath(filePath string) string {
	if _, rest, ok := strings.Cut(filePath, "://"); ok {
		filePath = rest
	}
	return strings.ReplaceAll(filePath, "/", ":")
}

// BusKey is the message key of batch seq of a file.
func BusKey(filePath string, seq int64) string {
	return filePath + "-" + strconv.FormatInt(seq, 10)
}

// FilePublisher publishes the batches of exactly one file. Sequence numbers
// start at 0 and increase by one per batch.
type FilePublisher struct {
	cfg       *Config
	requestID string
	filePath  string
	attrs     metric.MeasurementOption

	seq     int64
	stats   Stats
	scratch *scratchFile
	done    bool
}

// Begin starts publishing a file of the given request.
func (p *Publisher) Begin(requestID, filePath string) *FilePublisher {
	return &FilePublisher{
		cfg:       &p.cfg,
		requestID: requestID,
		filePath:  filePath,
		attrs:     metric.WithAttributes(attribute.String("format", string(p.cfg.Format))),
	}
}

// Stats returns the counters accumulated so far.
func (f *FilePublisher) Stats() Stats {
	return f.stats
}

// Publish sends the batches of a chunk to the bus in order and appends the
// whole chunk to the scratch table. Batches must come from encoding chunk.
func (f *FilePublisher) Publish(ctx context.Context, chunk *chunker.Chunk, batches []wirebatch.WireBatch) ([]Record, error) {
	if f.done {
		return nil, fmt.Errorf("publisher for %s already finished", f.filePath)
	}

	records := make([]Record, 0, len(batches))
	for _, b := range batches {
		rec := Record{
			Key:      BusKey(f.filePath, f.seq),
			ByteSize: b.Size(),
			RowCount: b.Rows,
			Sequence: f.seq,
		}
		if f.cfg.Bus != nil {
			msg := fly.Message{
				Key:   []byte(rec.Key),
				Value: b.Data,
				Headers: map[string]string{
					"content-type": "application/vnd.apache.arrow.stream",
					"entry-start":  strconv.FormatInt(b.Start, 10),
				},
			}
			if err := f.cfg.Bus.Send(ctx, f.requestID, msg); err != nil {
				return records, pipelineerr.NewPublish(SinkBus, fmt.Errorf("sending %s: %w", rec.Key, err))
			}
		}
		f.seq++
		// Byte and batch totals count the encoded wire batches even when
		// only the object store is configured and nothing goes on the bus.
		f.stats.Bytes += rec.ByteSize
		f.stats.Batches++
		records = append(records, rec)

		bytesPublished.Add(ctx, rec.ByteSize, f.attrs)
		batchesPublished.Add(ctx, 1, f.attrs)
		slog.Debug("Published batch",
			slog.String("key", rec.Key),
			slog.Int64("rows", rec.RowCount),
			slog.Int64("bytes", rec.ByteSize))
	}

	if f.cfg.Store != nil && chunk.Rows() > 0 {
		if err := f.appendChunk(chunk); err != nil {
			return records, pipelineerr.NewPublish(SinkObject, err)
		}
	}

	f.stats.Rows += chunk.Rows()
	f.stats.Columns = len(chunk.Columns)
	rowsPublished.Add(ctx, chunk.Rows(), f.attrs)
	return records, nil
}

func (f *FilePublisher) appendChunk(chunk *chunker.Chunk) error {
	schema := wirebatch.SchemaOf(chunk)
	if f.scratch == nil {
		s, err := newScratchFile(f.cfg.TmpDir, f.cfg.Format, schema, f.cfg.Allocator)
		if err != nil {
			return err
		}
		f.scratch = s
	}

	cols := make([]arrow.Array, len(chunk.Columns))
	for i, c := range chunk.Columns {
		cols[i] = c.Values
	}
	rec := array.NewRecord(schema, cols, chunk.Rows())
	defer rec.Release()

	if err := f.scratch.write(rec); err != nil {
		return fmt.Errorf("writing entries [%d,%d) to scratch table: %w", chunk.Start, chunk.End, err)
	}
	return nil
}

// Finish uploads the scratch table, if any, and returns the final counters.
// The scratch file is removed whether or not the upload succeeds.
func (f *FilePublisher) Finish(ctx context.Context) (Stats, error) {
	if f.done {
		return f.stats, nil
	}
	f.done = true

	if f.scratch == nil {
		if f.cfg.Store != nil {
			slog.Info("No entries to upload", slog.String("file", f.filePath))
		}
		return f.stats, nil
	}
	scratch := f.scratch
	f.scratch = nil
	defer scratch.remove()

	if err := scratch.close(); err != nil {
		return f.stats, pipelineerr.NewPublish(SinkObject, fmt.Errorf("finishing scratch table: %w", err))
	}

	bucket, key := ObjectLocation(f.cfg.Bucket, f.requestID, f.filePath)
	if err := f.cfg.Store.UploadObject(ctx, bucket, key, scratch.path); err != nil {
		return f.stats, pipelineerr.NewPublish(SinkObject, fmt.Errorf("uploading %s/%s: %w", bucket, key, err))
	}
	if fi, err := os.Stat(scratch.path); err == nil {
		slog.Info("Uploaded result table",
			slog.String("bucket", bucket),
			slog.String("key", key),
			slog.Int64("rows", scratch.rows),
			slog.Int64("size", fi.Size()))
	}
	objectsUploaded.Add(ctx, 1, f.attrs)
	f.stats.ObjectBucket = bucket
	f.stats.ObjectKey = key
	return f.stats, nil
}

// Abort discards any scratch table without uploading it. It is safe to
// call after Finish.
func (f *FilePublisher) Abort() {
	f.done = true
	if f.scratch != nil {
		f.scratch.remove()
		f.scratch = nil
	}
}
