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

package chunker

import (
	"context"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/cardinalhq/transformer/internal/pipelineerr"
)

// Reader is the subset of an open column source that the aligner needs.
type Reader interface {
	// EntryCount returns the number of entries in a collection.
	EntryCount(ctx context.Context, collection string) (int64, error)
	// ReadSlice reads count entries of the named fields starting at start.
	// The caller owns the returned arrays and must release them.
	ReadSlice(ctx context.Context, collection string, fields []string, start, count int64) (map[string]arrow.Array, error)
}

// Slice is one bounded read from a single collection.
type Slice struct {
	Collection string
	Start      int64
	Rows       int64
	Columns    map[string]arrow.Array
}

// Release drops the references held by the slice's arrays.
func (s *Slice) Release() {
	for _, a := range s.Columns {
		a.Release()
	}
	s.Columns = nil
}

// CollectionIterator walks one collection in bounded steps.
type CollectionIterator interface {
	Collection() string
	Total() int64
	HasNext() bool
	Next(ctx context.Context, count int64) (*Slice, error)
}

type sourceIterator struct {
	reader     Reader
	collection string
	fields     []string
	total      int64
	pos        int64
}

var _ CollectionIterator = (*sourceIterator)(nil)

// NewCollectionIterator creates an iterator over the first total entries of
// collection, reading only the given fields.
func NewCollectionIterator(reader Reader, collection string, fields []string, total int64) CollectionIterator {
	return &sourceIterator{
		reader:     reader,
		collection: collection,
		fields:     fields,
		total:      total,
	}
}

func (it *sourceIterator) Collection() string { return it.collection }

func (it *sourceIterator) Total() int64 { return it.total }

func (it *sourceIterator) HasNext() bool { return it.pos < it.total }

// Next reads up to count entries. The returned slice is shorter than count
// only when the iterator reaches its bound.
func (it *sourceIterator) Next(ctx context.Context, count int64) (*Slice, error) {
	if !it.HasNext() {
		return nil, pipelineerr.NewAlignment(it.collection, "iterator exhausted")
	}
	if count <= 0 {
		return nil, fmt.Errorf("invalid read count %d", count)
	}
	n := min(count, it.total-it.pos)

	cols, err := it.reader.ReadSlice(ctx, it.collection, it.fields, it.pos, n)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, pipelineerr.AlignmentError{
				Collection: it.collection,
				Reason:     fmt.Sprintf("read of entries [%d,%d) timed out", it.pos, it.pos+n),
				Err:        err,
			}
		}
		return nil, fmt.Errorf("reading %s entries [%d,%d): %w", it.collection, it.pos, it.pos+n, err)
	}

	s := &Slice{Collection: it.collection, Start: it.pos, Rows: n, Columns: cols}
	for _, f := range it.fields {
		a, ok := cols[f]
		if !ok {
			s.Release()
			return nil, pipelineerr.NewAlignment(it.collection, fmt.Sprintf("field %q missing from read", f))
		}
		if int64(a.Len()) != n {
			s.Release()
			return nil, pipelineerr.NewAlignment(it.collection,
				fmt.Sprintf("field %q returned %d rows, expected %d", f, a.Len(), n))
		}
	}
	it.pos += n
	return s, nil
}
