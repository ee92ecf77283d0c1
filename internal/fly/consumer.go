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

package fly

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
)

// MessageHandler processes one consumed message. A nil return commits it.
type MessageHandler func(ctx context.Context, message ConsumedMessage) error

// Consumer reads a topic as part of a consumer group.
type Consumer interface {
	// Consume blocks, handing messages to handler one at a time, until ctx
	// is cancelled or the handler fails.
	Consume(ctx context.Context, handler MessageHandler) error
	CommitMessages(ctx context.Context, messages ...ConsumedMessage) error
	Close() error
}

// ConsumerConfig contains configuration for the Kafka consumer
type ConsumerConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	MinBytes    int
	MaxBytes    int
	MaxWait     time.Duration
	StartOffset int64

	SASLMechanism sasl.Mechanism
	TLSConfig     *tls.Config

	ConnectionTimeout time.Duration
}

type kafkaConsumer struct {
	config ConsumerConfig
	reader *kafka.Reader
}

var _ Consumer = (*kafkaConsumer)(nil)

// NewConsumer creates a new Kafka consumer
func NewConsumer(config ConsumerConfig) Consumer {
	timeout := config.ConnectionTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	dialer := &kafka.Dialer{
		Timeout:       timeout,
		SASLMechanism: config.SASLMechanism,
		TLS:           config.TLSConfig,
	}

	return &kafkaConsumer{
		config: config,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     config.Brokers,
			Topic:       config.Topic,
			GroupID:     config.GroupID,
			MinBytes:    config.MinBytes,
			MaxBytes:    config.MaxBytes,
			MaxWait:     config.MaxWait,
			StartOffset: config.StartOffset,
			Dialer:      dialer,
			// Commits happen only when CommitMessages is called.
			CommitInterval: 0,
		}),
	}
}

func (c *kafkaConsumer) Consume(ctx context.Context, handler MessageHandler) error {
	slog.Debug("Starting Kafka consumer",
		slog.String("topic", c.config.Topic),
		slog.String("consumerGroup", c.config.GroupID))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		cm := consumed(msg)
		if err := handler(ctx, cm); err != nil {
			return fmt.Errorf("handler failed: %w", err)
		}
		if err := c.CommitMessages(ctx, cm); err != nil {
			return fmt.Errorf("failed to commit message: %w", err)
		}
	}
}

func (c *kafkaConsumer) CommitMessages(ctx context.Context, messages ...ConsumedMessage) error {
	if len(messages) == 0 {
		return nil
	}
	kmsgs := make([]kafka.Message, len(messages))
	for i, msg := range messages {
		kmsgs[i] = kafka.Message{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
		}
	}
	return c.reader.CommitMessages(ctx, kmsgs...)
}

func (c *kafkaConsumer) Close() error {
	return c.reader.Close()
}
