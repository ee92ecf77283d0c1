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
	"io"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/cardinalhq/transformer/internal/azureclient"
)

// azureClient maps buckets to blob containers.
type azureClient struct {
	blobClient *azureclient.BlobClient
}

func (c *azureClient) DownloadObject(ctx context.Context, tmpdir, container, blobName string) (string, int64, bool, error) {
	return download(ctx, c.blobClient.Tracer, "azure", tmpdir, container, blobName,
		func(ctx context.Context, f *os.File) (int64, bool, error) {
			resp, err := c.blobClient.Client.DownloadStream(ctx, container, blobName, nil)
			if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
				return 0, true, nil
			}
			if err != nil {
				return 0, false, err
			}
			defer func() { _ = resp.Body.Close() }()
			size, err := io.Copy(f, resp.Body)
			return size, false, err
		})
}

func (c *azureClient) UploadObject(ctx context.Context, container, blobName, sourceFilename string) error {
	return upload(ctx, c.blobClient.Tracer, "azure", container, blobName, sourceFilename,
		func(ctx context.Context, f *os.File, _ int64, contentType string) error {
			_, err := c.blobClient.Client.UploadStream(ctx, container, blobName, f, &azblob.UploadStreamOptions{
				Metadata:    map[string]*string{"writer": to.Ptr(writerMetadata)},
				HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)},
			})
			return err
		})
}
