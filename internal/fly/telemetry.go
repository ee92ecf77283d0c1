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
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Result topics are named after request ids, so producer metrics are not
// split by topic.
var (
	producedMessages otelmetric.Int64Counter
	producedBytes    otelmetric.Int64Counter
	inflightMessages otelmetric.Int64UpDownCounter

	sendOK     = otelmetric.WithAttributes(attribute.String("result", "ok"))
	sendFailed = otelmetric.WithAttributes(attribute.String("result", "error"))
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/transformer/internal/fly")

	var err error
	if producedMessages, err = meter.Int64Counter("transformer.kafka.producer.messages",
		otelmetric.WithDescription("Kafka messages produced, by result"),
	); err != nil {
		panic(fmt.Errorf("failed to create producer messages counter: %w", err))
	}
	if producedBytes, err = meter.Int64Counter("transformer.kafka.producer.bytes",
		otelmetric.WithDescription("Payload bytes written to Kafka"),
		otelmetric.WithUnit("By"),
	); err != nil {
		panic(fmt.Errorf("failed to create producer bytes counter: %w", err))
	}
	if inflightMessages, err = meter.Int64UpDownCounter("transformer.kafka.producer.inflight",
		otelmetric.WithDescription("Kafka messages handed to a writer and not yet acknowledged"),
	); err != nil {
		panic(fmt.Errorf("failed to create producer inflight counter: %w", err))
	}
}

// observeSend marks msgs as in flight. The returned func records the
// outcome once the write returns.
func observeSend(ctx context.Context, msgs []Message) func(error) {
	n := int64(len(msgs))
	inflightMessages.Add(ctx, n)
	return func(err error) {
		inflightMessages.Add(ctx, -n)
		if err != nil {
			producedMessages.Add(ctx, n, sendFailed)
			return
		}
		producedMessages.Add(ctx, n, sendOK)
		var size int64
		for _, m := range msgs {
			size += int64(len(m.Value))
		}
		producedBytes.Add(ctx, size)
	}
}
