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
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/transformer/internal/gcpclient"
)

type GCPPubSubService struct {
	tracer trace.Tracer
	sub    *pubsub.Subscription
}

var _ Backend = (*GCPPubSubService)(nil)

func NewGCPPubSubService(ctx context.Context, mgr *gcpclient.Manager, cfg Config, subscriptionID string) (*GCPPubSubService, error) {
	client, err := mgr.GetPubSub(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return newGCPPubSubService(client.Client.Subscription(subscriptionID), client.Tracer), nil
}

func newGCPPubSubService(sub *pubsub.Subscription, tracer trace.Tracer) *GCPPubSubService {
	if tracer == nil {
		tracer = otel.Tracer("github.com/cardinalhq/transformer/internal/pubsub")
	}
	// One outstanding message and no parallel callbacks.
	sub.ReceiveSettings.MaxOutstandingMessages = 1
	sub.ReceiveSettings.NumGoroutines = 1
	return &GCPPubSubService{tracer: tracer, sub: sub}
}

func (ps *GCPPubSubService) GetName() string {
	return "gcp"
}

func (ps *GCPPubSubService) Run(ctx context.Context, handler Handler) error {
	slog.Info("Starting GCP Pub/Sub work queue", slog.String("subscription", ps.sub.ID()))

	err := ps.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		ctx, span := ps.tracer.Start(ctx, "gcp_pubsub.work_item",
			trace.WithAttributes(
				attribute.String("message_id", msg.ID),
				attribute.String("publish_time", msg.PublishTime.String()),
			))
		defer span.End()

		handler(ctx, msg.Data)
		msg.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("GCP Pub/Sub receive error: %w", err)
	}
	return nil
}

// Close is a no-op; the client belongs to the gcpclient manager.
func (ps *GCPPubSubService) Close() error {
	return nil
}
