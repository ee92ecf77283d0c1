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

package azureclient

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"go.opentelemetry.io/otel/trace"
)

type BlobClient struct {
	Client *azblob.Client
	Tracer trace.Tracer
}

// GetBlob returns the cached blob client for account.
func (m *Manager) GetBlob(_ context.Context, account Account) (*BlobClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.blobClients[account]; ok {
		return c, nil
	}

	url, err := account.serviceURL("blob")
	if err != nil {
		return nil, err
	}
	azClient, err := azblob.NewClient(url, m.cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}
	c := &BlobClient{Client: azClient, Tracer: m.tracer}
	m.blobClients[account] = c
	return c, nil
}
