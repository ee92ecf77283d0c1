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
	"fmt"
	"path/filepath"
	"strings"
)

// Client provides a unified interface for object storage operations across
// providers.
type Client interface {
	// DownloadObject downloads an object to a temp file in tmpdir.
	// Returns the temp filename, size, whether the object was not found, and error.
	DownloadObject(ctx context.Context, tmpdir, bucket, key string) (filename string, size int64, notFound bool, err error)

	// UploadObject uploads a local file.
	UploadObject(ctx context.Context, bucket, key, sourceFilename string) error
}

// ClientProvider creates clients for a profile.
type ClientProvider interface {
	NewClient(ctx context.Context, profile Profile) (Client, error)
}

// Profile describes how to reach one object store.
type Profile struct {
	// Provider is one of "aws" (default), "gcp" (GCS through its S3
	// interoperability API), "gcs", "azure" or "file".
	Provider       string `mapstructure:"provider"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Role           string `mapstructure:"role"`
	UsePathStyle   bool   `mapstructure:"use_path_style"`
	InsecureTLS    bool   `mapstructure:"insecure_tls"`
	StorageAccount string `mapstructure:"storage_account"`
	// Path is the root directory of the "file" provider.
	Path string `mapstructure:"path"`
}

// Location is a parsed object URL such as s3://bucket/key.
type Location struct {
	Scheme string
	Bucket string
	Key    string
}

// ParseURL splits scheme://bucket/key. ok is false for plain paths and for
// schemes that are not object stores.
func ParseURL(raw string) (loc Location, ok bool, err error) {
	scheme, rest, found := strings.Cut(raw, "://")
	if !found {
		return Location{}, false, nil
	}
	scheme = strings.ToLower(scheme)
	switch scheme {
	case "s3", "gs", "az":
	default:
		return Location{}, false, nil
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return Location{}, false, fmt.Errorf("object url %q needs both a bucket and a key", raw)
	}
	return Location{Scheme: scheme, Bucket: bucket, Key: key}, true, nil
}

func contentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return "application/vnd.apache.parquet"
	case ".arrow":
		return "application/vnd.apache.arrow.file"
	default:
		return "application/octet-stream"
	}
}

const writerMetadata = "transformer-go"
