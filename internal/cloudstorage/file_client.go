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
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// NewFileClient returns a Client that keeps objects under base, one
// subdirectory per bucket. It backs the "file" provider and tests.
func NewFileClient(base string) Client {
	return &fileClient{base: base}
}

type fileClient struct {
	base string
}

func (c *fileClient) path(bucket, key string) string {
	return filepath.Join(c.base, bucket, filepath.FromSlash(key))
}

func (c *fileClient) DownloadObject(ctx context.Context, tmpdir, bucket, key string) (string, int64, bool, error) {
	return download(ctx, fileTracer, "file", tmpdir, bucket, key,
		func(_ context.Context, dst *os.File) (int64, bool, error) {
			src, err := os.Open(c.path(bucket, key))
			if errors.Is(err, fs.ErrNotExist) {
				return 0, true, nil
			}
			if err != nil {
				return 0, false, err
			}
			defer func() { _ = src.Close() }()
			n, err := io.Copy(dst, src)
			return n, false, err
		})
}

// UploadObject writes through a hidden temp file and renames it into place,
// so readers never see a partial object.
func (c *fileClient) UploadObject(ctx context.Context, bucket, key, sourceFilename string) error {
	return upload(ctx, fileTracer, "file", bucket, key, sourceFilename,
		func(_ context.Context, src *os.File, _ int64, _ string) error {
			dst := c.path(bucket, key)
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return err
			}
			out, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
			if err != nil {
				return err
			}
			_, err = io.Copy(out, src)
			if closeErr := out.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				_ = os.Remove(out.Name())
				return err
			}
			return os.Rename(out.Name(), dst)
		})
}
