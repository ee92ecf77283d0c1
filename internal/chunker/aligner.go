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

// Package chunker aligns columns that live in different collections of the
// same file into entry-aligned chunks of bounded size.
package chunker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/transformer/internal/columns"
	"github.com/cardinalhq/transformer/internal/pipelineerr"
)

var chunksRead metric.Int64Counter

func init() {
	meter := otel.Meter("github.com/cardinalhq/transformer/internal/chunker")

	var err error
	chunksRead, err = meter.Int64Counter(
		"transformer.chunks.read",
		metric.WithDescription("Number of aligned chunks read from column sources"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create chunks.read counter: %w", err))
	}
}

// Column is one named column of a chunk.
type Column struct {
	// Name is the dotted "collection.field" name.
	Name   string
	Values arrow.Array
}

// Chunk holds the entries [Start, End) of every requested column, in
// request order.
type Chunk struct {
	Start   int64
	End     int64
	Columns []Column
}

// Rows is End - Start.
func (c *Chunk) Rows() int64 {
	return c.End - c.Start
}

// Release drops the references held by the chunk's arrays.
func (c *Chunk) Release() {
	for _, col := range c.Columns {
		col.Values.Release()
	}
	c.Columns = nil
}

// Options controls chunk sizing.
type Options struct {
	// ChunkSize is the maximum number of entries per chunk.
	ChunkSize int64
	// EventLimit truncates every collection to at most this many entries.
	// Zero or negative means no limit.
	EventLimit int64
	// ReadTimeout bounds each chunk's reads. Zero means no deadline.
	ReadTimeout time.Duration
}

// Aligner drives one iterator per collection in lock-step. The first
// collection of the request drives the entry ranges.
type Aligner struct {
	specs       []columns.Spec
	iters       []CollectionIterator
	chunkSize   int64
	readTimeout time.Duration
}

// New opens one iterator per requested collection. Entry counts are looked
// up, and the event limit applied, once here.
func New(ctx context.Context, reader Reader, req *columns.Requested, opts Options) (*Aligner, error) {
	if opts.ChunkSize <= 0 {
		return nil, pipelineerr.NewConfiguration("chunk_size", fmt.Sprintf("must be positive, got %d", opts.ChunkSize))
	}

	groups := req.Groups()
	iters := make([]CollectionIterator, 0, len(groups))
	for _, g := range groups {
		total, err := reader.EntryCount(ctx, g.Collection)
		if err != nil {
			if pipelineerr.IsAlignment(err) {
				return nil, err
			}
			return nil, pipelineerr.AlignmentError{Collection: g.Collection, Reason: "entry count unavailable", Err: err}
		}
		if opts.EventLimit > 0 {
			total = min(total, opts.EventLimit)
		}
		iters = append(iters, NewCollectionIterator(reader, g.Collection, g.Fields, total))
	}

	return NewFromIterators(req, iters, opts)
}

// NewFromIterators builds an aligner over caller supplied iterators, which
// must be in the same order as req.Groups().
func NewFromIterators(req *columns.Requested, iters []CollectionIterator, opts Options) (*Aligner, error) {
	if opts.ChunkSize <= 0 {
		return nil, pipelineerr.NewConfiguration("chunk_size", fmt.Sprintf("must be positive, got %d", opts.ChunkSize))
	}
	groups := req.Groups()
	if len(groups) != len(iters) {
		return nil, fmt.Errorf("have %d iterators for %d collections", len(iters), len(groups))
	}
	for i, g := range groups {
		if iters[i].Collection() != g.Collection {
			return nil, fmt.Errorf("iterator %d is for %q, expected %q", i, iters[i].Collection(), g.Collection)
		}
	}

	// a mismatch is reported by Next once the shorter collection runs out
	for _, it := range iters[1:] {
		if it.Total() != iters[0].Total() {
			slog.Debug("Collection entry counts differ",
				slog.String("driving", iters[0].Collection()),
				slog.Int64("drivingEntries", iters[0].Total()),
				slog.String("collection", it.Collection()),
				slog.Int64("entries", it.Total()))
		}
	}

	return &Aligner{
		specs:       req.Specs(),
		iters:       iters,
		chunkSize:   opts.ChunkSize,
		readTimeout: opts.ReadTimeout,
	}, nil
}

// Total is the number of entries the driving collection will produce.
func (a *Aligner) Total() int64 {
	return a.iters[0].Total()
}

// Next returns the next chunk, or io.EOF once every collection is
// exhausted. A secondary collection with entries left after the driving
// collection ends is an AlignmentError. The caller owns the chunk and must
// Release it.
func (a *Aligner) Next(ctx context.Context) (*Chunk, error) {
	driver := a.iters[0]
	if !driver.HasNext() {
		for _, it := range a.iters[1:] {
			if it.HasNext() {
				return nil, pipelineerr.NewAlignment(it.Collection(), fmt.Sprintf(
					"has %d entries but %s ended after %d",
					it.Total(), driver.Collection(), driver.Total()))
			}
		}
		return nil, io.EOF
	}

	readCtx := ctx
	if a.readTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, a.readTimeout)
		defer cancel()
	}

	lead, err := driver.Next(readCtx, a.chunkSize)
	if err != nil {
		return nil, a.readError(ctx, driver.Collection(), err)
	}

	slices := map[string]*Slice{driver.Collection(): lead}
	release := func() {
		for _, s := range slices {
			s.Release()
		}
	}

	for _, it := range a.iters[1:] {
		if !it.HasNext() {
			release()
			return nil, pipelineerr.NewAlignment(it.Collection(), fmt.Sprintf(
				"exhausted after %d entries while %s continues at entry %d",
				it.Total(), driver.Collection(), lead.Start))
		}
		s, err := it.Next(readCtx, lead.Rows)
		if err != nil {
			release()
			return nil, a.readError(ctx, it.Collection(), err)
		}
		slices[it.Collection()] = s
		if s.Start != lead.Start || s.Rows != lead.Rows {
			release()
			return nil, pipelineerr.NewAlignment(it.Collection(), fmt.Sprintf(
				"returned entries [%d,%d) but %s returned [%d,%d)",
				s.Start, s.Start+s.Rows, driver.Collection(), lead.Start, lead.Start+lead.Rows))
		}
	}

	chunk := &Chunk{
		Start:   lead.Start,
		End:     lead.Start + lead.Rows,
		Columns: make([]Column, 0, len(a.specs)),
	}
	for _, spec := range a.specs {
		s := slices[spec.Collection]
		chunk.Columns = append(chunk.Columns, Column{Name: spec.Name(), Values: s.Columns[spec.Field]})
		delete(s.Columns, spec.Field)
	}
	// anything left over was read but not requested
	release()

	chunksRead.Add(ctx, 1)
	return chunk, nil
}

func (a *Aligner) readError(parent context.Context, collection string, err error) error {
	if pipelineerr.IsAlignment(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return pipelineerr.AlignmentError{Collection: collection, Reason: "chunk read timed out", Err: err}
	}
	return err
}
