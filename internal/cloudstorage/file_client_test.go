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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/transformer/internal/awsclient"
)

func TestFileClientRoundTrip(t *testing.T) {
	base := t.TempDir()
	client, err := NewCloudManagers().NewClient(context.Background(), Profile{Provider: "file", Path: base})
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "transform-1.arrow")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))
	require.NoError(t, client.UploadObject(context.Background(), "req-1", "data:f.parquet", src))

	// no leftover temp files next to the object
	entries, err := os.ReadDir(filepath.Join(base, "req-1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "data:f.parquet", entries[0].Name())

	tmp := t.TempDir()
	dst, size, notFound, err := client.DownloadObject(context.Background(), tmp, "req-1", "data:f.parquet")
	require.NoError(t, err)
	require.False(t, notFound)
	assert.Equal(t, int64(5), size)
	assert.True(t, strings.HasSuffix(dst, "-data:f.parquet"))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestFileClientDownloadNames(t *testing.T) {
	base := t.TempDir()
	client := NewFileClient(base)

	tests := []struct {
		key     string
		wantExt string
	}{
		{"data/nano/DAOD_PHYS.root", ".root"},
		{"events/part-0001.parquet", ".parquet"},
		{"req-1/eos:data:f.root", "eos:data:f.root"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			path := filepath.Join(base, "bucket", filepath.FromSlash(tt.key))
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
			require.NoError(t, os.WriteFile(path, []byte(tt.key), 0o644))

			dst, size, _, err := client.DownloadObject(context.Background(), t.TempDir(), "bucket", tt.key)
			require.NoError(t, err)
			assert.Equal(t, int64(len(tt.key)), size)
			assert.True(t, strings.HasSuffix(filepath.Base(dst), tt.wantExt), "got %q", dst)
		})
	}
}

func TestFileClientMissingObject(t *testing.T) {
	client := NewFileClient(t.TempDir())
	tmp := t.TempDir()

	name, size, notFound, err := client.DownloadObject(context.Background(), tmp, "bucket", "nope.parquet")
	require.NoError(t, err)
	assert.True(t, notFound)
	assert.Empty(t, name)
	assert.Zero(t, size)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileClientUploadMissingSource(t *testing.T) {
	client := NewFileClient(t.TempDir())
	err := client.UploadObject(context.Background(), "bucket", "k", filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open source file")
}

func TestNewClientUnsupportedProvider(t *testing.T) {
	_, err := NewCloudManagers().NewClient(context.Background(), Profile{Provider: "tape"})
	assert.Error(t, err)

	_, err = NewCloudManagers().NewClient(context.Background(), Profile{Provider: "file"})
	assert.Error(t, err)
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		in      string
		want    Location
		ok      bool
		wantErr bool
	}{
		{in: "s3://bucket/dir/f.parquet", want: Location{Scheme: "s3", Bucket: "bucket", Key: "dir/f.parquet"}, ok: true},
		{in: "GS://bucket/f.parquet", want: Location{Scheme: "gs", Bucket: "bucket", Key: "f.parquet"}, ok: true},
		{in: "az://container/a/b", want: Location{Scheme: "az", Bucket: "container", Key: "a/b"}, ok: true},
		{in: "/data/f.parquet"},
		{in: "root://eos.cern.ch//data/f.root"},
		{in: "s3://bucket", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			loc, ok, err := ParseURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, loc)
		})
	}
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/vnd.apache.parquet", contentTypeFor("/tmp/transform-1.parquet"))
	assert.Equal(t, "application/vnd.apache.arrow.file", contentTypeFor("/tmp/transform-1.arrow"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("/tmp/x"))
}

func TestS3TargetFromProfile(t *testing.T) {
	assert.Equal(t, awsclient.S3Target{}, s3Target(Profile{Provider: "aws"}))
	assert.Equal(t, awsclient.S3Target{
		Region:     "us",
		Endpoint:   "https://storage.googleapis.com",
		PathStyle:  true,
		GCPInterop: true,
	}, s3Target(Profile{Provider: "gcp", Region: "us", Endpoint: "https://storage.googleapis.com", UsePathStyle: true}))
}
