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
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Manager caches GCP clients built from Application Default Credentials.
type Manager struct {
	mu             sync.Mutex
	storageClients map[StorageTarget]*StorageClient
	pubsubClients  map[string]*PubSubClient
	tracer         trace.Tracer
}

// NewManager creates a new GCP client manager. No client is dialed until
// first use.
func NewManager(_ context.Context) (*Manager, error) {
	return &Manager{
		storageClients: make(map[StorageTarget]*StorageClient),
		pubsubClients:  make(map[string]*PubSubClient),
		tracer:         otel.Tracer("github.com/cardinalhq/transformer/internal/gcpclient"),
	}, nil
}

// cached returns clients[key], building and storing it on a miss. The
// caller must hold m.mu.
func cached[K comparable, V any](clients map[K]V, key K, build func() (V, error)) (V, error) {
	if c, ok := clients[key]; ok {
		return c, nil
	}
	c, err := build()
	if err != nil {
		return c, err
	}
	clients[key] = c
	return c, nil
}

// Close releases every cached client.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, c := range m.storageClients {
		errs = append(errs, c.Client.Close())
	}
	for _, c := range m.pubsubClients {
		errs = append(errs, c.Client.Close())
	}
	clear(m.storageClients)
	clear(m.pubsubClients)
	return errors.Join(errs...)
}
