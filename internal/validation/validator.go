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

// Package validation checks that a request's columns exist in a sample
// input file and estimates the largest event the transformers will send.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/transformer/internal/columns"
	"github.com/cardinalhq/transformer/internal/columnsource"
	"github.com/cardinalhq/transformer/internal/report"
	"github.com/cardinalhq/transformer/internal/workitem"
)

// DefaultAvgBytesPerColumn is used when the input gives no size hint.
const DefaultAvgBytesPerColumn = 40

var validationsCounter metric.Int64Counter

func init() {
	meter := otel.Meter("github.com/cardinalhq/transformer/internal/validation")

	var err error
	validationsCounter, err = meter.Int64Counter(
		"transformer.validations",
		metric.WithDescription("Number of validation requests handled"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create validations counter: %w", err))
	}
}

// Fetcher makes an input file available on local disk.
type Fetcher interface {
	Fetch(ctx context.Context, path string) (local string, cleanup func(), err error)
}

// TopicEnsurer creates message bus topics that do not exist yet.
type TopicEnsurer interface {
	EnsureTopics(ctx context.Context, names ...string) error
}

// Config controls the validator.
type Config struct {
	// Columns is used when a request names none.
	Columns           *columns.Requested
	AvgBytesPerColumn int64
	// MeasureColumns derives the per-column average from the file's column
	// sizes instead of AvgBytesPerColumn.
	MeasureColumns bool
	// Topics, when set, receives the request id of each valid request.
	Topics TopicEnsurer
}

// Result is the outcome of checking one file.
type Result struct {
	Valid        bool
	Reason       string
	MaxEventSize int64
}

// Info is the body of the start notification.
func (r Result) Info() map[string]any {
	return map[string]any{"max-event-size": r.MaxEventSize}
}

type Validator struct {
	cfg    Config
	source columnsource.Source
	inputs Fetcher
	client func(item *workitem.Item) *report.StatusClient
}

func NewValidator(cfg Config, source columnsource.Source, inputs Fetcher, reporter *report.Reporter) *Validator {
	if cfg.AvgBytesPerColumn <= 0 {
		cfg.AvgBytesPerColumn = DefaultAvgBytesPerColumn
	}
	if reporter == nil {
		reporter = report.NewReporter(nil, nil)
	}
	return &Validator{cfg: cfg, source: source, inputs: inputs, client: reporter.StatusClient}
}

// Validate opens path and checks every requested column. A missing
// collection or field gives an invalid Result, not an error.
func (v *Validator) Validate(ctx context.Context, path string, req *columns.Requested) (Result, error) {
	local, cleanup, err := v.inputs.Fetch(ctx, path)
	if err != nil {
		return Result{}, err
	}
	defer cleanup()

	h, err := v.source.Open(ctx, local)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = h.Close() }()

	present, err := h.Collections(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("listing collections: %w", err)
	}

	fieldsOf := map[string][]string{}
	for _, spec := range req.Specs() {
		if !slices.Contains(present, spec.Collection) {
			return Result{Reason: fmt.Sprintf("Could not find collection %s in file", spec.Collection)}, nil
		}
		fields, ok := fieldsOf[spec.Collection]
		if !ok {
			if fields, err = h.Fields(ctx, spec.Collection); err != nil {
				return Result{}, fmt.Errorf("listing fields of %s: %w", spec.Collection, err)
			}
			fieldsOf[spec.Collection] = fields
		}
		if !slices.Contains(fields, spec.Field) {
			return Result{Reason: fmt.Sprintf("No field with name: %s in %s collection", spec.Field, spec.Collection)}, nil
		}
	}

	avg := v.cfg.AvgBytesPerColumn
	if v.cfg.MeasureColumns {
		if measured, ok := measuredAverage(ctx, h, req); ok {
			avg = measured
		}
	}
	return Result{Valid: true, MaxEventSize: avg * int64(req.Len())}, nil
}

// measuredAverage is the mean uncompressed bytes per column per entry,
// rounded up. ok is false when any column gives no usable size.
func measuredAverage(ctx context.Context, h columnsource.Handle, req *columns.Requested) (int64, bool) {
	var perEntry float64
	for _, spec := range req.Specs() {
		n, err := h.EntryCount(ctx, spec.Collection)
		if err != nil || n <= 0 {
			return 0, false
		}
		size, err := h.ColumnBytes(ctx, spec.Collection, spec.Field)
		if err != nil || size <= 0 {
			return 0, false
		}
		perEntry += float64(size) / float64(n)
	}
	avg := perEntry / float64(req.Len())
	out := int64(avg)
	if float64(out) < avg {
		out++
	}
	return out, true
}

// Handle processes one queued validation request. Like the transformer it
// never fails; the outcome goes to the request's service endpoint.
func (v *Validator) Handle(ctx context.Context, body []byte) {
	item, err := workitem.Parse(body)
	if err != nil {
		slog.Error("Discarding undecodable validation request", slog.Any("error", err))
		validationsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "invalid")))
		return
	}
	v.Process(ctx, item)
}

// Process validates the item and posts the outcome.
func (v *Validator) Process(ctx context.Context, item *workitem.Item) Result {
	sc := v.client(item)
	post := func(status string) {
		if sc == nil {
			return
		}
		if err := sc.PostStatus(ctx, status, ""); err != nil {
			slog.Warn("Failed to post validation status",
				slog.String("requestID", item.RequestID),
				slog.Any("error", err))
		}
	}

	post("Validation Request received")

	res, err := v.check(ctx, item)
	if err != nil {
		res = Result{Reason: err.Error()}
	}

	logger := slog.With(slog.String("requestID", item.RequestID), slog.String("file", item.FilePath))
	if !res.Valid {
		logger.Info("Validation failed", slog.String("reason", res.Reason))
		validationsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "failed")))
		post("Validation Request failed " + res.Reason)
		return res
	}

	logger.Info("Request validated", slog.Int64("maxEventSize", res.MaxEventSize))
	validationsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "validated")))
	post("Request validated")
	if sc != nil {
		if err := sc.PostStart(ctx, res.Info()); err != nil {
			logger.Warn("Failed to post transform start", slog.Any("error", err))
		}
	}
	return res
}

func (v *Validator) check(ctx context.Context, item *workitem.Item) (Result, error) {
	if err := item.RequireFile(); err != nil {
		return Result{}, err
	}
	req := v.cfg.Columns
	if item.Columns != "" {
		parsed, err := columns.ParseList(item.Columns)
		if err != nil {
			return Result{}, err
		}
		req = parsed
	}
	if req == nil {
		return Result{}, fmt.Errorf("request %s names no columns", item.RequestID)
	}

	res, err := v.Validate(ctx, item.FilePath, req)
	if err != nil || !res.Valid {
		return res, err
	}
	if v.cfg.Topics != nil {
		if err := v.cfg.Topics.EnsureTopics(ctx, item.RequestID); err != nil {
			return Result{}, fmt.Errorf("creating topic %s: %w", item.RequestID, err)
		}
	}
	return res, nil
}
