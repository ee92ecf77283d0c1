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
	"log/slog"

	"github.com/cardinalhq/transformer/internal/fly"
)

// KafkaService reads work items from a topic. The consumer commits each
// message after the handler returns, so at most one item is in flight.
type KafkaService struct {
	topic    string
	consumer fly.Consumer
}

var _ Backend = (*KafkaService)(nil)

func NewKafkaService(factory *fly.Factory, topic, service string) (*KafkaService, error) {
	consumer, err := factory.CreateConsumerWithService(topic, service)
	if err != nil {
		return nil, err
	}
	return &KafkaService{topic: topic, consumer: consumer}, nil
}

func (ks *KafkaService) Run(ctx context.Context, handler Handler) error {
	slog.Info("Starting Kafka work queue", slog.String("topic", ks.topic))
	err := ks.consumer.Consume(ctx, func(ctx context.Context, msg fly.ConsumedMessage) error {
		handler(ctx, msg.Value)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (ks *KafkaService) GetName() string {
	return "kafka"
}

func (ks *KafkaService) Close() error {
	return ks.consumer.Close()
}
