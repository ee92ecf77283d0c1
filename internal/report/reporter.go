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

// Package report emits exactly one completion record per processed file.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/transformer/internal/workitem"
)

// Status is the terminal state of a file.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailure    Status = "failure"
)

var filesCompleted metric.Int64Counter

func init() {
	meter := otel.Meter("github.com/cardinalhq/transformer/internal/report")

	var err error
	filesCompleted, err = meter.Int64Counter(
		"transformer.files.completed",
		metric.WithDescription("Number of files that reached a terminal state"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create files.completed counter: %w", err))
	}
}

// Counters are the publishing totals carried by a completion record.
type Counters struct {
	Events  int64
	Bytes   int64
	Batches int64
}

// Completion is the record emitted when a file finishes.
type Completion struct {
	FilePath     string
	FileID       int64
	Status       Status
	TotalEvents  int64
	TotalBytes   int64
	NumBatches   int64
	TotalTime    time.Duration
	ErrorMessage string
}

// AvgRate is events per second, or 0 when no time elapsed.
func (c Completion) AvgRate() float64 {
	secs := c.TotalTime.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(c.TotalEvents) / secs
}

// Reporter creates per-file trackers that share an HTTP client and an
// optional failure channel.
type Reporter struct {
	httpClient *http.Client
	failures   FailureNotifier
	now        func() time.Time
}

// NewReporter accepts a nil failures notifier to disable the failure channel.
func NewReporter(httpClient *http.Client, failures FailureNotifier) *Reporter {
	return &Reporter{httpClient: httpClient, failures: failures, now: time.Now}
}

// StatusClient returns a client for the item's service endpoint, or nil
// when the item has none.
func (r *Reporter) StatusClient(item *workitem.Item) *StatusClient {
	if item.ServiceEndpoint == "" {
		return nil
	}
	return NewStatusClient(item.ServiceEndpoint, r.httpClient)
}

// FileReport tracks one file from PROCESSING to a single terminal state.
type FileReport struct {
	r       *Reporter
	item    *workitem.Item
	status  *StatusClient
	started time.Time

	mu    sync.Mutex
	state Status
}

// Begin starts tracking item and posts a status line to the coordinator.
func (r *Reporter) Begin(ctx context.Context, item *workitem.Item) *FileReport {
	fr := &FileReport{
		r:       r,
		item:    item,
		status:  r.StatusClient(item),
		started: r.now(),
		state:   StatusProcessing,
	}
	if fr.status != nil {
		if err := fr.status.PostStatus(ctx, "Transformation request received", item.FilePath); err != nil {
			slog.Warn("Failed to post status update",
				slog.String("requestID", item.RequestID),
				slog.Any("error", err))
		}
	}
	return fr
}

// State returns the current state.
func (fr *FileReport) State() Status {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.state
}

// Succeed emits the SUCCESS record. It returns false if the file had
// already reached a terminal state.
func (fr *FileReport) Succeed(ctx context.Context, c Counters) bool {
	return fr.finish(ctx, StatusSuccess, c, nil)
}

// Fail emits the FAILURE record and forwards the work item to the failure
// channel. It returns false if the file had already reached a terminal state.
func (fr *FileReport) Fail(ctx context.Context, c Counters, cause error) bool {
	if cause == nil {
		cause = fmt.Errorf("unknown failure")
	}
	return fr.finish(ctx, StatusFailure, c, cause)
}

func (fr *FileReport) finish(ctx context.Context, status Status, c Counters, cause error) bool {
	fr.mu.Lock()
	if fr.state != StatusProcessing {
		prev := fr.state
		fr.mu.Unlock()
		slog.Debug("Ignoring second completion",
			slog.String("file", fr.item.FilePath),
			slog.String("state", string(prev)),
			slog.String("attempted", string(status)))
		return false
	}
	fr.state = status
	fr.mu.Unlock()

	comp := Completion{
		FilePath:    fr.item.FilePath,
		FileID:      fr.item.FileID,
		Status:      status,
		TotalEvents: c.Events,
		TotalBytes:  c.Bytes,
		NumBatches:  c.Batches,
		TotalTime:   fr.r.now().Sub(fr.started),
	}
	if cause != nil {
		comp.ErrorMessage = cause.Error()
	}

	logAttrs := []any{
		slog.String("requestID", fr.item.RequestID),
		slog.String("file", comp.FilePath),
		slog.Int64("events", comp.TotalEvents),
		slog.Int64("bytes", comp.TotalBytes),
		slog.Int64("batches", comp.NumBatches),
		slog.Duration("elapsed", comp.TotalTime),
	}
	if cause != nil {
		slog.Error("File transformation failed", append(logAttrs, slog.Any("error", cause))...)
	} else {
		slog.Info("File transformation complete", append(logAttrs, slog.Float64("eventsPerSecond", comp.AvgRate()))...)
	}
	filesCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))

	if cause != nil && fr.r.failures != nil {
		if err := fr.r.failures.NotifyFailure(ctx, fr.item, comp.ErrorMessage); err != nil {
			slog.Error("Failed to publish failure notification",
				slog.String("requestID", fr.item.RequestID),
				slog.Any("error", err))
		}
	}

	if fr.status != nil {
		status, info := "File "+comp.FilePath+" complete", ""
		if cause != nil {
			status, info = "File "+comp.FilePath+" failed", comp.ErrorMessage
		}
		if err := fr.status.PostStatus(ctx, status, info); err != nil {
			slog.Warn("Failed to post status update",
				slog.String("requestID", fr.item.RequestID),
				slog.Any("error", err))
		}
		if err := fr.status.PutFileComplete(ctx, fileComplete(comp)); err != nil {
			slog.Error("Failed to report file completion",
				slog.String("requestID", fr.item.RequestID),
				slog.String("file", comp.FilePath),
				slog.Any("error", err))
		}
	}
	return true
}

func fileComplete(c Completion) FileComplete {
	return FileComplete{
		FilePath:     c.FilePath,
		FileID:       c.FileID,
		Status:       c.Status,
		NumMessages:  c.NumBatches,
		TotalTime:    c.TotalTime.Seconds(),
		TotalEvents:  c.TotalEvents,
		TotalBytes:   c.TotalBytes,
		AvgRate:      c.AvgRate(),
		ErrorMessage: c.ErrorMessage,
	}
}
