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

package report

import (
	"context"
	"fmt"

	"github.com/cardinalhq/transformer/internal/fly"
	"github.com/cardinalhq/transformer/internal/workitem"
)

// DefaultFailureTopic receives failed work items.
const DefaultFailureTopic = "transformation_failures"

// FailureNotifier forwards failed work items to a failure channel.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, item *workitem.Item, errMsg string) error
}

// Sender is the part of fly.Producer used for failure notifications.
type Sender interface {
	Send(ctx context.Context, topic string, message fly.Message) error
}

// BusFailureNotifier publishes the original work item, plus an "error"
// field, keyed "<request id>_errors".
type BusFailureNotifier struct {
	producer Sender
	topic    string
}

var _ FailureNotifier = (*BusFailureNotifier)(nil)

// NewBusFailureNotifier uses DefaultFailureTopic when topic is empty.
func NewBusFailureNotifier(producer Sender, topic string) *BusFailureNotifier {
	if topic == "" {
		topic = DefaultFailureTopic
	}
	return &BusFailureNotifier{producer: producer, topic: topic}
}

func (n *BusFailureNotifier) NotifyFailure(ctx context.Context, item *workitem.Item, errMsg string) error {
	body, err := item.WithError(errMsg)
	if err != nil {
		return fmt.Errorf("encoding failed work item: %w", err)
	}
	msg := fly.Message{
		Key:   []byte(item.RequestID + "_errors"),
		Value: body,
		Headers: map[string]string{
			"content-type": "application/json",
		},
	}
	if err := n.producer.Send(ctx, n.topic, msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", n.topic, err)
	}
	return nil
}
