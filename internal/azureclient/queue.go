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
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"go.opentelemetry.io/otel/trace"
)

type QueueClient struct {
	QueueClient *azqueue.QueueClient
	Tracer      trace.Tracer
}

type queueKey struct {
	Account
	Queue string
}

func (k queueKey) queueURL() (string, error) {
	base, err := k.serviceURL("queue")
	if err != nil {
		return "", err
	}
	return base + k.Queue, nil
}

// GetQueue returns the cached client for one queue of account.
func (m *Manager) GetQueue(_ context.Context, account Account, queue string) (*QueueClient, error) {
	if queue == "" {
		return nil, errors.New("queue name is required")
	}
	key := queueKey{Account: account, Queue: queue}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.queueClients[key]; ok {
		return c, nil
	}

	url, err := key.queueURL()
	if err != nil {
		return nil, err
	}
	azClient, err := azqueue.NewQueueClient(url, m.cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue client: %w", err)
	}
	c := &QueueClient{QueueClient: azClient, Tracer: m.tracer}
	m.queueClients[key] = c
	return c, nil
}
