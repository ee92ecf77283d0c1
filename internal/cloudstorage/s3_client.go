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
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cardinalhq/transformer/internal/awsclient"
)

// s3Client serves AWS S3 and S3-compatible stores, including GCS through
// its interoperability endpoint.
type s3Client struct {
	awsS3Client *awsclient.S3Client
}

func s3NotFound(err error) bool {
	var noKey *types.NoSuchKey
	return errors.As(err, &noKey)
}

// DownloadObject fetches the object with the multipart downloader.
func (c *s3Client) DownloadObject(ctx context.Context, tmpdir, bucket, key string) (string, int64, bool, error) {
	return download(ctx, c.awsS3Client.Tracer, "s3", tmpdir, bucket, key,
		func(ctx context.Context, f *os.File) (int64, bool, error) {
			size, err := manager.NewDownloader(c.awsS3Client.Client).Download(ctx, f, &s3.GetObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String(key),
			})
			if s3NotFound(err) {
				return 0, true, nil
			}
			return size, false, err
		})
}

func (c *s3Client) UploadObject(ctx context.Context, bucket, key, sourceFilename string) error {
	return upload(ctx, c.awsS3Client.Tracer, "s3", bucket, key, sourceFilename,
		func(ctx context.Context, f *os.File, _ int64, contentType string) error {
			_, err := manager.NewUploader(c.awsS3Client.Client).Upload(ctx, &s3.PutObjectInput{
				Bucket:      aws.String(bucket),
				Key:         aws.String(key),
				Body:        f,
				ContentType: aws.String(contentType),
				Metadata:    map[string]string{"writer": writerMetadata},
			})
			return err
		})
}
