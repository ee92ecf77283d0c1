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
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/transformer/internal/azureclient"
)

type queueMessage struct {
	ID         string
	PopReceipt string
	Text       string
}

type azureQueueAPI interface {
	dequeue(ctx context.Context, visibility time.Duration) ([]queueMessage, error)
	delete(ctx context.Context, id, popReceipt string) error
}

type azqueueAdapter struct {
	client *azqueue.QueueClient
}

func (a azqueueAdapter) dequeue(ctx context.Context, visibility time.Duration) ([]queueMessage, error) {
	n := int32(1)
	vis := int32(visibility / time.Second)
	resp, err := a.client.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  &n,
		VisibilityTimeout: &vis,
	})
	if err != nil {
		return nil, err
	}
	msgs := make([]queueMessage, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m == nil || m.MessageID == nil || m.PopReceipt == nil {
			continue
		}
		qm := queueMessage{ID: *m.MessageID, PopReceipt: *m.PopReceipt}
		if m.MessageText != nil {
			qm.Text = *m.MessageText
		}
		msgs = append(msgs, qm)
	}
	return msgs, nil
}

func (a azqueueAdapter) delete(ctx context.Context, id, popReceipt string) error {
	_, err := a.client.DeleteMessage(ctx, id, popReceipt, nil)
	return err
}

type AzureQueueService struct {
	tracer            trace.Tracer
	queue             azureQueueAPI
	queueName         string
	visibilityTimeout time.Duration
	idleDelay         time.Duration
	retryDelay        time.Duration
}

var _ Backend = (*AzureQueueService)(nil)

func NewAzureQueueService(ctx context.Context, mgr *azureclient.Manager, cfg Config, queueName string) (*AzureQueueService, error) {
	account := azureclient.Account{StorageAccount: cfg.StorageAccount, Endpoint: cfg.Endpoint}
	client, err := mgr.GetQueue(ctx, account, queueName)
	if err != nil {
		return nil, err
	}
	return &AzureQueueService{
		tracer:            client.Tracer,
		queue:             azqueueAdapter{client: client.QueueClient},
		queueName:         queueName,
		visibilityTimeout: cfg.VisibilityTimeout,
		idleDelay:         time.Second,
		retryDelay:        5 * time.Second,
	}, nil
}

func (ps *AzureQueueService) Run(ctx context.Context, handler Handler) error {
	slog.Info("Starting Azure Queue work queue", slog.String("queue", ps.queueName))

	for {
		if ctx.Err() != nil {
			return nil
		}

		dequeueCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		msgs, err := ps.queue.dequeue(dequeueCtx, ps.visibilityTimeout)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("Failed to receive messages from Azure Queue", slog.Any("error", err))
			sleepCtx(ctx, ps.retryDelay)
			continue
		}
		if len(msgs) == 0 {
			sleepCtx(ctx, ps.idleDelay)
			continue
		}

		for _, msg := range msgs {
			msgCtx, span := ps.tracer.Start(ctx, "azure_queue.work_item",
				trace.WithAttributes(attribute.String("message_id", msg.ID)))
			handler(msgCtx, decodeIfBase64(msg.Text))
			span.End()

			deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			if err := ps.queue.delete(deleteCtx, msg.ID, msg.PopReceipt); err != nil {
				slog.Error("Failed to delete Azure Queue message",
					slog.Any("error", err),
					slog.String("messageId", msg.ID))
			}
			cancel()
		}
	}
}

func (ps *AzureQueueService) GetName() string {
	return "azure"
}

func (ps *AzureQueueService) Close() error {
	return nil
}

// decodeIfBase64 undoes the base64 wrapping some Azure producers apply.
// Work items are JSON objects, so anything that already looks like one is
// returned unchanged.
func decodeIfBase64(s string) []byte {
	if len(s) == 0 || s[0] == '{' || len(s)%4 != 0 {
		return []byte(s)
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return []byte(s)
	}
	return decoded
}
