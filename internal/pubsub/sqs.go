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
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/transformer/internal/awsclient"
)

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type SQSService struct {
	tracer            trace.Tracer
	client            sqsAPI
	queueURL          string
	waitTime          time.Duration
	visibilityTimeout time.Duration
	retryDelay        time.Duration
}

var _ Backend = (*SQSService)(nil)

func NewSQSService(ctx context.Context, mgr *awsclient.Manager, cfg Config, queueURL string) (*SQSService, error) {
	client, err := mgr.GetSQS(ctx, awsclient.SQSTarget{
		Region:   cfg.Region,
		RoleARN:  cfg.Role,
		Endpoint: cfg.Endpoint,
	})
	if err != nil {
		return nil, err
	}
	return &SQSService{
		tracer:            client.Tracer,
		client:            client.Client,
		queueURL:          queueURL,
		waitTime:          cfg.WaitTime,
		visibilityTimeout: cfg.VisibilityTimeout,
		retryDelay:        5 * time.Second,
	}, nil
}

func (ps *SQSService) Run(ctx context.Context, handler Handler) error {
	slog.Info("Starting SQS work queue", slog.String("queueURL", ps.queueURL))

	for {
		if ctx.Err() != nil {
			return nil
		}

		result, err := ps.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(ps.queueURL),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     int32(ps.waitTime / time.Second),
			VisibilityTimeout:   int32(ps.visibilityTimeout / time.Second),
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("Failed to receive messages from SQS", slog.Any("error", err))
			sleepCtx(ctx, ps.retryDelay)
			continue
		}

		for _, msg := range result.Messages {
			ps.handle(ctx, handler, aws.ToString(msg.MessageId), aws.ToString(msg.Body))

			// Delete even when ctx is cancelled; the item has been handled.
			deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			_, err := ps.client.DeleteMessage(deleteCtx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(ps.queueURL),
				ReceiptHandle: msg.ReceiptHandle,
			})
			cancel()
			if err != nil {
				slog.Error("Failed to delete SQS message",
					slog.Any("error", err),
					slog.String("messageId", aws.ToString(msg.MessageId)))
			}
		}
	}
}

func (ps *SQSService) handle(ctx context.Context, handler Handler, id, body string) {
	ctx, span := ps.tracer.Start(ctx, "sqs.work_item",
		trace.WithAttributes(attribute.String("message_id", id)))
	defer span.End()
	handler(ctx, []byte(body))
}

func (ps *SQSService) GetName() string {
	return "sqs"
}

func (ps *SQSService) Close() error {
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
