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
	"os"

	"cloud.google.com/go/storage"

	"github.com/cardinalhq/transformer/internal/gcpclient"
)

// gcsClient uses the native Google Cloud Storage API.
type gcsClient struct {
	storageClient *gcpclient.StorageClient
}

func (c *gcsClient) DownloadObject(ctx context.Context, tmpdir, bucket, key string) (string, int64, bool, error) {
	return download(ctx, c.storageClient.Tracer, "gcs", tmpdir, bucket, key,
		func(ctx context.Context, f *os.File) (int64, bool, error) {
			// keep gzip-encoded objects as stored
			obj := c.storageClient.Client.Bucket(bucket).Object(key).ReadCompressed(true)
			r, err := obj.NewReader(ctx)
			if errors.Is(err, storage.ErrObjectNotExist) {
				return 0, true, nil
			}
			if err != nil {
				return 0, false, err
			}
			defer func() { _ = r.Close() }()
			size, err := io.Copy(f, r)
			return size, false, err
		})
}

func (c *gcsClient) UploadObject(ctx context.Context, bucket, key, sourceFilename string) error {
	return upload(ctx, c.storageClient.Tracer, "gcs", bucket, key, sourceFilename,
		func(ctx context.Context, f *os.File, _ int64, contentType string) error {
			w := c.storageClient.Client.Bucket(bucket).Object(key).NewWriter(ctx)
			w.ContentType = contentType
			w.Metadata = map[string]string{"writer": writerMetadata}
			if _, err := io.Copy(w, f); err != nil {
				_ = w.Close()
				return err
			}
			return w.Close()
		})
}
