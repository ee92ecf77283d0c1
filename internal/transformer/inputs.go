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

package transformer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/cardinalhq/transformer/internal/cloudstorage"
)

// Fetcher makes an input file available on local disk.
type Fetcher interface {
	// Fetch returns a local path for path and a cleanup func that must be
	// called once the file is no longer needed.
	Fetch(ctx context.Context, path string) (local string, cleanup func(), err error)
}

// InputFetcher downloads object-store inputs (s3://, gs://, az://) into a
// temporary directory. Other paths are used as they are.
type InputFetcher struct {
	provider cloudstorage.ClientProvider
	base     cloudstorage.Profile
	tmpDir   string
	clients  map[string]cloudstorage.Client
}

var _ Fetcher = (*InputFetcher)(nil)

// NewInputFetcher uses base for region, endpoint and credentials settings.
// Its provider is replaced to match each URL's scheme.
func NewInputFetcher(provider cloudstorage.ClientProvider, base cloudstorage.Profile, tmpDir string) *InputFetcher {
	return &InputFetcher{
		provider: provider,
		base:     base,
		tmpDir:   tmpDir,
		clients:  map[string]cloudstorage.Client{},
	}
}

func (f *InputFetcher) profileFor(scheme string) cloudstorage.Profile {
	p := f.base
	switch scheme {
	case "s3":
		if p.Provider != "aws" && p.Provider != "gcp" {
			p = cloudstorage.Profile{Provider: "aws", Region: f.base.Region, Role: f.base.Role}
		}
	case "gs":
		if p.Provider != "gcs" {
			p = cloudstorage.Profile{Provider: "gcs"}
		}
	case "az":
		if p.Provider != "azure" {
			p = cloudstorage.Profile{Provider: "azure", StorageAccount: f.base.StorageAccount}
		}
	}
	return p
}

func (f *InputFetcher) client(ctx context.Context, scheme string) (cloudstorage.Client, error) {
	if c, ok := f.clients[scheme]; ok {
		return c, nil
	}
	c, err := f.provider.NewClient(ctx, f.profileFor(scheme))
	if err != nil {
		return nil, err
	}
	f.clients[scheme] = c
	return c, nil
}

func (f *InputFetcher) Fetch(ctx context.Context, path string) (string, func(), error) {
	noop := func() {}

	loc, remote, err := cloudstorage.ParseURL(path)
	if err != nil {
		return "", noop, err
	}
	if !remote {
		return strings.TrimPrefix(path, "file://"), noop, nil
	}

	client, err := f.client(ctx, loc.Scheme)
	if err != nil {
		return "", noop, fmt.Errorf("creating %s client: %w", loc.Scheme, err)
	}

	dir, err := os.MkdirTemp(f.tmpDir, "input-*")
	if err != nil {
		return "", noop, fmt.Errorf("creating download directory: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("Failed to remove downloaded input", slog.String("dir", dir), slog.Any("error", err))
		}
	}

	local, size, notFound, err := client.DownloadObject(ctx, dir, loc.Bucket, loc.Key)
	if err != nil {
		cleanup()
		if notFound {
			return "", noop, fmt.Errorf("input %s not found", path)
		}
		return "", noop, fmt.Errorf("downloading %s: %w", path, err)
	}
	if notFound {
		cleanup()
		return "", noop, fmt.Errorf("input %s not found", path)
	}

	slog.Debug("Downloaded input", slog.String("path", path), slog.Int64("size", size))
	return local, cleanup, nil
}
