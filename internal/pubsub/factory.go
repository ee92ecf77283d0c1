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

package pubsub

import (
	"context"
	"fmt"

	"github.com/cardinalhq/transformer/internal/awsclient"
	"github.com/cardinalhq/transformer/internal/azureclient"
	"github.com/cardinalhq/transformer/internal/fly"
	"github.com/cardinalhq/transformer/internal/gcpclient"
)

// Clients carries the already-configured client sources. Only the one the
// selected backend needs must be set.
type Clients struct {
	Kafka *fly.Factory
	AWS   *awsclient.Manager
	GCP   *gcpclient.Manager
	Azure *azureclient.Manager
}

// NewBackend creates the backend for cfg reading the named queue. service
// distinguishes consumer groups on Kafka.
func NewBackend(ctx context.Context, cfg Config, queueName, service string, clients Clients) (Backend, error) {
	if queueName == "" {
		return nil, fmt.Errorf("no queue name configured for %s", service)
	}
	switch cfg.Backend {
	case BackendTypeKafka, "":
		if clients.Kafka == nil {
			return nil, fmt.Errorf("kafka backend requires a Kafka configuration")
		}
		return NewKafkaService(clients.Kafka, queueName, service)
	case BackendTypeSQS:
		if clients.AWS == nil {
			return nil, fmt.Errorf("sqs backend requires an AWS manager")
		}
		return NewSQSService(ctx, clients.AWS, cfg, queueName)
	case BackendTypeGCPPubSub:
		if clients.GCP == nil {
			return nil, fmt.Errorf("gcp backend requires a GCP manager")
		}
		return NewGCPPubSubService(ctx, clients.GCP, cfg, queueName)
	case BackendTypeAzure:
		if clients.Azure == nil {
			return nil, fmt.Errorf("azure backend requires an Azure manager")
		}
		return NewAzureQueueService(ctx, clients.Azure, cfg, queueName)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.Backend)
	}
}
