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

package gcpclient

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"
)

// StorageClient wraps a GCP storage client with OpenTelemetry tracing.
type StorageClient struct {
	Client *storage.Client
	Tracer trace.Tracer
}

// StorageTarget selects the credentials and endpoint of a storage client.
// Clients are cached per target.
type StorageTarget struct {
	// ServiceAccount is impersonated when set.
	ServiceAccount string
	// Endpoint points at an emulator or private endpoint.
	Endpoint string
}

func (t StorageTarget) clientOptions(ctx context.Context) ([]option.ClientOption, error) {
	var opts []option.ClientOption
	if t.ServiceAccount != "" {
		ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
			TargetPrincipal: t.ServiceAccount,
			Scopes:          []string{storage.ScopeReadWrite},
		})
		if err != nil {
			return nil, fmt.Errorf("impersonate %s: %w", t.ServiceAccount, err)
		}
		opts = append(opts, option.WithTokenSource(ts))
	}
	if t.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(t.Endpoint))
	}
	return opts, nil
}

// GetStorage creates or reuses the storage client for target.
func (m *Manager) GetStorage(ctx context.Context, target StorageTarget) (*StorageClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cached(m.storageClients, target, func() (*StorageClient, error) {
		opts, err := target.clientOptions(ctx)
		if err != nil {
			return nil, err
		}
		c, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating GCP storage client: %w", err)
		}
		return &StorageClient{Client: c, Tracer: m.tracer}, nil
	})
}
