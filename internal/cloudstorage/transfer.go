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

package cloudstorage

import (
	"context"
	"fmt"
	"os"
	"path"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	downloadErrors metric.Int64Counter
	downloadCount  metric.Int64Counter
	downloadBytes  metric.Int64Counter
	uploadErrors   metric.Int64Counter
	uploadCount    metric.Int64Counter
	uploadBytes    metric.Int64Counter

	fileTracer = otel.Tracer("github.com/cardinalhq/transformer/internal/cloudstorage")
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/transformer/internal/cloudstorage")

	counters := []struct {
		dst         *metric.Int64Counter
		name        string
		description string
		unit        string
	}{
		{&downloadErrors, "transformer.objectstore.download.errors", "Number of failed or missing input downloads", ""},
		{&downloadCount, "transformer.objectstore.download.count", "Number of input files downloaded", ""},
		{&downloadBytes, "transformer.objectstore.download.bytes", "Bytes downloaded from the object store", "By"},
		{&uploadErrors, "transformer.objectstore.upload.errors", "Number of failed result uploads", ""},
		{&uploadCount, "transformer.objectstore.upload.count", "Number of result tables uploaded", ""},
		{&uploadBytes, "transformer.objectstore.upload.bytes", "Bytes uploaded to the object store", "By"},
	}
	for _, c := range counters {
		opts := []metric.Int64CounterOption{metric.WithDescription(c.description)}
		if c.unit != "" {
			opts = append(opts, metric.WithUnit(c.unit))
		}
		counter, err := meter.Int64Counter(c.name, opts...)
		if err != nil {
			panic(fmt.Errorf("failed to create %s counter: %w", c.name, err))
		}
		*c.dst = counter
	}
}

// fillFunc writes an object into f. A missing object is reported through
// notFound rather than as an error.
type fillFunc func(ctx context.Context, f *os.File) (size int64, notFound bool, err error)

// putFunc stores the contents of f, which is size bytes long.
type putFunc func(ctx context.Context, f *os.File, size int64, contentType string) error

func spanFailed(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// download runs fill against a new temp file in tmpdir. The temp name ends
// with the key's base name so the input format can be told from it. The
// file is removed unless the download succeeds.
func download(ctx context.Context, tracer trace.Tracer, provider, tmpdir, bucket, key string, fill fillFunc) (string, int64, bool, error) {
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("bucket", bucket),
	}
	ctx, span := tracer.Start(ctx, "cloudstorage.download",
		trace.WithAttributes(append(attrs, attribute.String("key", key))...))
	defer span.End()

	f, err := os.CreateTemp(tmpdir, "*-"+path.Base(key))
	if err != nil {
		spanFailed(span, err)
		return "", 0, false, fmt.Errorf("create temp file: %w", err)
	}

	size, notFound, err := fill(ctx, f)
	if closeErr := f.Close(); err == nil && !notFound {
		err = closeErr
	}
	if notFound || err != nil {
		_ = os.Remove(f.Name())
		reason := "not_found"
		if !notFound {
			reason = "failed"
			spanFailed(span, err)
		}
		downloadErrors.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("reason", reason))...))
		if notFound {
			return "", 0, true, nil
		}
		return "", 0, false, fmt.Errorf("download %s/%s: %w", bucket, key, err)
	}

	downloadCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	downloadBytes.Add(ctx, size, metric.WithAttributes(attrs...))
	return f.Name(), size, false, nil
}

// upload opens sourceFilename and hands it to put.
func upload(ctx context.Context, tracer trace.Tracer, provider, bucket, key, sourceFilename string, put putFunc) error {
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("bucket", bucket),
	}
	ctx, span := tracer.Start(ctx, "cloudstorage.upload",
		trace.WithAttributes(append(attrs, attribute.String("key", key))...))
	defer span.End()

	f, err := os.Open(sourceFilename)
	if err != nil {
		spanFailed(span, err)
		return fmt.Errorf("failed to open source file %s: %w", sourceFilename, err)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		spanFailed(span, err)
		return fmt.Errorf("stat source file: %w", err)
	}

	if err := put(ctx, f, stat.Size(), contentTypeFor(sourceFilename)); err != nil {
		spanFailed(span, err)
		uploadErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
		return fmt.Errorf("upload %s/%s: %w", bucket, key, err)
	}

	uploadCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	uploadBytes.Add(ctx, stat.Size(), metric.WithAttributes(attrs...))
	return nil
}
