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
	"fmt"
	"os"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/cardinalhq/transformer/internal/pipelineerr"
)

// Format is the on-disk table format of objects written to the store.
type Format string

const (
	FormatArrow   Format = "arrow"
	FormatParquet Format = "parquet"
)

// ParseFormat accepts "arrow" (the default when empty) or "parquet".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "arrow":
		return FormatArrow, nil
	case "parquet":
		return FormatParquet, nil
	default:
		return "", pipelineerr.NewConfiguration("result_format", fmt.Sprintf("unsupported result format %q", s))
	}
}

// scratchFile accumulates whole chunks of one file into a temporary table
// that is uploaded once and then removed.
type scratchFile struct {
	path   string
	file   *os.File
	format Format
	rows   int64

	ipcWriter *ipc.FileWriter
	pqWriter  *pqarrow.FileWriter
}

func newScratchFile(tmpdir string, format Format, schema *arrow.Schema, mem memory.Allocator) (*scratchFile, error) {
	f, err := os.CreateTemp(tmpdir, "transform-*."+string(format))
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch file: %w", err)
	}
	s := &scratchFile{path: f.Name(), file: f, format: format}

	switch format {
	case FormatParquet:
		writerProps := parquet.NewWriterProperties(
			parquet.WithCompression(compress.Codecs.Zstd),
			parquet.WithDictionaryDefault(true),
			parquet.WithAllocator(mem),
		)
		arrowProps := pqarrow.NewArrowWriterProperties(
			pqarrow.WithStoreSchema(),
		)
		s.pqWriter, err = pqarrow.NewFileWriter(schema, f, writerProps, arrowProps)
	default:
		s.ipcWriter, err = ipc.NewFileWriter(f, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	}
	if err != nil {
		s.remove()
		return nil, fmt.Errorf("failed to create %s writer: %w", format, err)
	}
	return s, nil
}

func (s *scratchFile) write(rec arrow.Record) error {
	var err error
	if s.pqWriter != nil {
		err = s.pqWriter.Write(rec)
	} else {
		err = s.ipcWriter.Write(rec)
	}
	if err != nil {
		return err
	}
	s.rows += rec.NumRows()
	return nil
}

// close finishes the table. The file stays on disk until remove.
func (s *scratchFile) close() error {
	var err error
	if s.pqWriter != nil {
		// the parquet writer closes the underlying file
		err = s.pqWriter.Close()
		s.pqWriter = nil
		s.file = nil
	}
	if s.ipcWriter != nil {
		err = s.ipcWriter.Close()
		s.ipcWriter = nil
	}
	if s.file != nil {
		if cerr := s.file.Close(); err == nil {
			err = cerr
		}
		s.file = nil
	}
	return err
}

func (s *scratchFile) remove() {
	if s.pqWriter != nil {
		_ = s.pqWriter.Close()
		s.pqWriter = nil
		s.file = nil
	}
	if s.ipcWriter != nil {
		_ = s.ipcWriter.Close()
		s.ipcWriter = nil
	}
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	_ = os.Remove(s.path)
}
