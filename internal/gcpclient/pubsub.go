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

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel/trace"
)

// PubSubClient wraps a Pub/Sub client with OpenTelemetry tracing.
type PubSubClient struct {
	Client *pubsub.Client
	Tracer trace.Tracer
}

var errNoProject = errors.New("gcp project id is required for pubsub")

// GetPubSub creates or reuses the Pub/Sub client for a project.
func (m *Manager) GetPubSub(ctx context.Context, projectID string) (*PubSubClient, error) {
	if projectID == "" {
		return nil, errNoProject
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return cached(m.pubsubClients, projectID, func() (*PubSubClient, error) {
		c, err := pubsub.NewClient(ctx, projectID)
		if err != nil {
			return nil, err
		}
		return &PubSubClient{Client: c, Tracer: m.tracer}, nil
	})
}
