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

// Package columnsource opens input files as named collections of columns.
package columnsource

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
)

// Source opens input files.
type Source interface {
	Open(ctx context.Context, path string) (Handle, error)
}

// Handle is one open input file. A Handle is owned by a single goroutine.
type Handle interface {
	// Collections lists the collection names in the file, sorted.
	Collections(ctx context.Context) ([]string, error)
	// Fields lists the top-level field names of a collection in file order.
	Fields(ctx context.Context, collection string) ([]string, error)
	// EntryCount is the number of entries in a collection.
	EntryCount(ctx context.Context, collection string) (int64, error)
	// ReadSlice reads count entries of fields starting at entry start. The
	// caller owns the returned arrays.
	ReadSlice(ctx context.Context, collection string, fields []string, start, count int64) (map[string]arrow.Array, error)
	// ColumnBytes is the uncompressed on-disk size of a field across all
	// entries, used for sizing estimates.
	ColumnBytes(ctx context.Context, collection, field string) (int64, error)
	Close() error
}
