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

// Package transformer runs the per-file pipeline: read aligned chunks,
// encode them as Arrow IPC batches, publish them and report completion.
package transformer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/transformer/internal/chunker"
	"github.com/cardinalhq/transformer/internal/columns"
	"github.com/cardinalhq/transformer/internal/columnsource"
	"github.com/cardinalhq/transformer/internal/pipelineerr"
	"github.com/cardinalhq/transformer/internal/publish"
	"github.com/cardinalhq/transformer/internal/report"
	"github.com/cardinalhq/transformer/internal/wirebatch"
	"github.com/cardinalhq/transformer/internal/workitem"
)

var (
	filesProcessed metric.Int64Counter
	fileDuration   metric.Float64Histogram
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/transformer/internal/transformer")

	var err error
	filesProcessed, err = meter.Int64Counter(
		"transformer.files.processed",
		metric.WithDescription("Number of work items processed"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create files.processed counter: %w", err))
	}

	fileDuration, err = meter.Float64Histogram(
		"transformer.file.duration",
		metric.WithDescription("Time spent transforming one file"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create file.duration histogram: %w", err))
	}
}

// Destinations accepted in a work item's result-destination.
const (
	DestinationKafka       = "kafka"
	DestinationObjectStore = "object-store"
)

// Config is fixed for the life of a worker.
type Config struct {
	// Columns is the default request, used when a work item names none.
	Columns     *columns.Requested
	Chunk       chunker.Options
	BatchRows   int64
	Compression wirebatch.Compression

	Bus    publish.BusProducer
	Store  publish.ObjectStore
	Bucket string
	Format publish.Format
	TmpDir string

	Allocator memory.Allocator
}

// Worker processes work items one at a time.
type Worker struct {
	cfg      Config
	source   columnsource.Source
	inputs   Fetcher
	reporter *report.Reporter
}

// NewWorker fails with a ConfigurationError before any work is consumed
// when the sinks or encoder settings are unusable.
func NewWorker(cfg Config, source columnsource.Source, inputs Fetcher, reporter *report.Reporter) (*Worker, error) {
	if cfg.Allocator == nil {
		cfg.Allocator = memory.DefaultAllocator
	}
	if _, err := publish.New(publish.Config{Bus: cfg.Bus, Store: cfg.Store, Format: cfg.Format}); err != nil {
		return nil, err
	}
	if _, err := wirebatch.NewEncoder(wirebatch.Options{BatchRows: cfg.BatchRows, Compression: cfg.Compression}); err != nil {
		return nil, err
	}
	if cfg.Chunk.ChunkSize <= 0 {
		return nil, pipelineerr.NewConfiguration("chunk_size", "must be positive")
	}
	if reporter == nil {
		reporter = report.NewReporter(nil, nil)
	}
	return &Worker{cfg: cfg, source: source, inputs: inputs, reporter: reporter}, nil
}

// Handle decodes and processes one queued work item. It never fails: the
// outcome is reported through the completion channel and the delivery is
// acknowledged by the caller.
func (w *Worker) Handle(ctx context.Context, body []byte) {
	item, err := workitem.Parse(body)
	if err != nil {
		slog.Error("Discarding undecodable work item", slog.Any("error", err))
		filesProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "invalid")))
		return
	}
	w.Process(ctx, item)
}

// Process transforms the item's file and emits exactly one completion
// report. The input file is released before the report is sent.
func (w *Worker) Process(ctx context.Context, item *workitem.Item) report.Status {
	start := time.Now()
	fr := w.reporter.Begin(ctx, item)

	slog.Info("Processing file",
		slog.String("requestID", item.RequestID),
		slog.String("file", item.FilePath))

	counters, err := w.TransformFile(ctx, item)

	status := report.StatusSuccess
	if err != nil {
		status = report.StatusFailure
		fr.Fail(ctx, counters, err)
	} else {
		fr.Succeed(ctx, counters)
	}

	attrs := metric.WithAttributes(attribute.String("status", string(status)))
	filesProcessed.Add(ctx, 1, attrs)
	fileDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	return status
}

// TransformFile runs the pipeline for one item and returns what was
// published, also on failure.
func (w *Worker) TransformFile(ctx context.Context, item *workitem.Item) (report.Counters, error) {
	if err := item.RequireFile(); err != nil {
		return report.Counters{}, err
	}

	req, err := w.columnsFor(item)
	if err != nil {
		return report.Counters{}, err
	}
	pub, err := w.publisherFor(item)
	if err != nil {
		return report.Counters{}, err
	}

	local, cleanup, err := w.inputs.Fetch(ctx, item.FilePath)
	if err != nil {
		return report.Counters{}, err
	}
	defer cleanup()

	handle, err := w.source.Open(ctx, local)
	if err != nil {
		return report.Counters{}, fmt.Errorf("opening %s: %w", item.FilePath, err)
	}
	defer func() {
		if err := handle.Close(); err != nil {
			slog.Warn("Failed to close input", slog.String("file", item.FilePath), slog.Any("error", err))
		}
	}()

	fp := pub.Begin(item.RequestID, item.FilePath)
	stats, err := w.run(ctx, handle, req, fp)
	return report.Counters{Events: stats.Rows, Bytes: stats.Bytes, Batches: stats.Batches}, err
}

func (w *Worker) run(ctx context.Context, reader chunker.Reader, req *columns.Requested, fp *publish.FilePublisher) (publish.Stats, error) {
	aligner, err := chunker.New(ctx, reader, req, w.cfg.Chunk)
	if err != nil {
		fp.Abort()
		return fp.Stats(), err
	}
	enc, err := wirebatch.NewEncoder(wirebatch.Options{
		BatchRows:   w.cfg.BatchRows,
		Compression: w.cfg.Compression,
		Allocator:   w.cfg.Allocator,
	})
	if err != nil {
		fp.Abort()
		return fp.Stats(), err
	}

	for {
		chunk, err := aligner.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fp.Abort()
			return fp.Stats(), err
		}

		batches, err := enc.Encode(chunk)
		if err == nil {
			_, err = fp.Publish(ctx, chunk, batches)
		}
		chunk.Release()
		if err != nil {
			fp.Abort()
			return fp.Stats(), err
		}
	}

	return fp.Finish(ctx)
}

func (w *Worker) columnsFor(item *workitem.Item) (*columns.Requested, error) {
	if item.Columns != "" {
		return columns.ParseList(item.Columns)
	}
	if w.cfg.Columns == nil {
		return nil, pipelineerr.NewConfiguration("columns", "work item names no columns and no default is configured")
	}
	return w.cfg.Columns, nil
}

func (w *Worker) publisherFor(item *workitem.Item) (*publish.Publisher, error) {
	cfg := publish.Config{
		Bus:       w.cfg.Bus,
		Store:     w.cfg.Store,
		Bucket:    w.cfg.Bucket,
		Format:    w.cfg.Format,
		TmpDir:    w.cfg.TmpDir,
		Allocator: w.cfg.Allocator,
	}
	switch item.ResultDestination {
	case "":
	case DestinationKafka:
		cfg.Store = nil
	case DestinationObjectStore:
		cfg.Bus = nil
	default:
		return nil, pipelineerr.NewConfiguration("result-destination", fmt.Sprintf("unsupported destination %q", item.ResultDestination))
	}
	if item.ResultFormat != "" {
		f, err := publish.ParseFormat(item.ResultFormat)
		if err != nil {
			return nil, err
		}
		cfg.Format = f
	}
	return publish.New(cfg)
}
