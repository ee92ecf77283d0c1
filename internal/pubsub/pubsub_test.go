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
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cardinalhq/transformer/internal/fly"
)

var testTracer = otel.Tracer("pubsub-test")

type fakeSQS struct {
	mu       sync.Mutex
	pending  []sqstypes.Message
	inputs   []*sqs.ReceiveMessageInput
	deleted  []string
	failOnce bool
	cancel   context.CancelFunc
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if f.failOnce {
		f.failOnce = false
		return nil, errors.New("throttled")
	}
	if len(f.pending) == 0 {
		f.cancel()
		return &sqs.ReceiveMessageOutput{}, nil
	}
	n := min(int(in.MaxNumberOfMessages), len(f.pending))
	out := f.pending[:n]
	f.pending = f.pending[n:]
	return &sqs.ReceiveMessageOutput{Messages: out}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSService_OneAtATimeAndAlwaysDeletes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fake := &fakeSQS{
		cancel:   cancel,
		failOnce: true,
		pending: []sqstypes.Message{
			{MessageId: aws.String("m1"), ReceiptHandle: aws.String("r1"), Body: aws.String(`{"request-id":"a"}`)},
			{MessageId: aws.String("m2"), ReceiptHandle: aws.String("r2"), Body: aws.String(`{"request-id":"b"}`)},
		},
	}
	svc := &SQSService{
		tracer:            testTracer,
		client:            fake,
		queueURL:          "https://sqs.local/q",
		waitTime:          20 * time.Second,
		visibilityTimeout: time.Minute,
		retryDelay:        time.Millisecond,
	}

	var bodies []string
	err := svc.Run(ctx, func(_ context.Context, body []byte) {
		// Deletion happens after the handler, so nothing is deleted yet.
		fake.mu.Lock()
		assert.Len(t, fake.deleted, len(bodies))
		fake.mu.Unlock()
		bodies = append(bodies, string(body))
	})
	require.NoError(t, err)

	assert.Equal(t, []string{`{"request-id":"a"}`, `{"request-id":"b"}`}, bodies)
	assert.Equal(t, []string{"r1", "r2"}, fake.deleted)
	for _, in := range fake.inputs {
		assert.Equal(t, int32(1), in.MaxNumberOfMessages)
		assert.Equal(t, int32(20), in.WaitTimeSeconds)
		assert.Equal(t, int32(60), in.VisibilityTimeout)
	}
}

type fakeAzureQueue struct {
	pending []queueMessage
	deleted []string
	cancel  context.CancelFunc
}

func (f *fakeAzureQueue) dequeue(context.Context, time.Duration) ([]queueMessage, error) {
	if len(f.pending) == 0 {
		f.cancel()
		return nil, nil
	}
	m := f.pending[0]
	f.pending = f.pending[1:]
	return []queueMessage{m}, nil
}

func (f *fakeAzureQueue) delete(_ context.Context, id, pop string) error {
	f.deleted = append(f.deleted, id+"/"+pop)
	return nil
}

func TestAzureQueueService_DecodesAndDeletes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fake := &fakeAzureQueue{
		cancel: cancel,
		pending: []queueMessage{
			{ID: "1", PopReceipt: "p1", Text: `{"request-id":"plain"}`},
			// {"request-id":"enc"}
			{ID: "2", PopReceipt: "p2", Text: "eyJyZXF1ZXN0LWlkIjoiZW5jIn0="},
		},
	}
	svc := &AzureQueueService{
		tracer:     testTracer,
		queue:      fake,
		queueName:  "work",
		idleDelay:  time.Millisecond,
		retryDelay: time.Millisecond,
	}

	var bodies []string
	require.NoError(t, svc.Run(ctx, func(_ context.Context, body []byte) {
		bodies = append(bodies, string(body))
	}))
	assert.Equal(t, []string{`{"request-id":"plain"}`, `{"request-id":"enc"}`}, bodies)
	assert.Equal(t, []string{"1/p1", "2/p2"}, fake.deleted)
}

func TestDecodeIfBase64(t *testing.T) {
	assert.Equal(t, "abc", string(decodeIfBase64("abc")))
	assert.Equal(t, `{"a":1}`, string(decodeIfBase64(`{"a":1}`)))
	assert.Equal(t, "hello", string(decodeIfBase64("aGVsbG8=")))
	assert.Equal(t, "!!!!", string(decodeIfBase64("!!!!")))
	assert.Empty(t, decodeIfBase64(""))
}

type fakeConsumer struct {
	messages []fly.ConsumedMessage
	handled  int
	closed   bool
}

func (f *fakeConsumer) Consume(ctx context.Context, handler fly.MessageHandler) error {
	for _, m := range f.messages {
		if err := handler(ctx, m); err != nil {
			return err
		}
		f.handled++
	}
	return context.Canceled
}

func (f *fakeConsumer) CommitMessages(context.Context, ...fly.ConsumedMessage) error { return nil }

func (f *fakeConsumer) Close() error {
	f.closed = true
	return nil
}

func TestKafkaService_Run(t *testing.T) {
	consumer := &fakeConsumer{messages: []fly.ConsumedMessage{
		{Message: fly.Message{Value: []byte("one")}},
		{Message: fly.Message{Value: []byte("two")}},
	}}
	svc := &KafkaService{topic: "transform_requests", consumer: consumer}

	var bodies []string
	require.NoError(t, svc.Run(context.Background(), func(_ context.Context, body []byte) {
		bodies = append(bodies, string(body))
	}))
	assert.Equal(t, []string{"one", "two"}, bodies)
	assert.Equal(t, 2, consumer.handled)
	assert.Equal(t, "kafka", svc.GetName())
	require.NoError(t, svc.Close())
	assert.True(t, consumer.closed)
}

func TestGCPPubSubService_Run(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	srv := pstest.NewServer()
	defer func() { _ = srv.Close() }()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	topic, err := client.CreateTopic(ctx, "transform_requests")
	require.NoError(t, err)
	defer topic.Stop()
	sub, err := client.CreateSubscription(ctx, "transform_requests-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	for _, body := range []string{"a", "b"} {
		_, err := topic.Publish(ctx, &pubsub.Message{Data: []byte(body)}).Get(ctx)
		require.NoError(t, err)
	}

	svc := newGCPPubSubService(sub, nil)
	assert.Equal(t, 1, sub.ReceiveSettings.MaxOutstandingMessages)

	runCtx, stop := context.WithCancel(ctx)
	var mu sync.Mutex
	got := map[string]bool{}
	err = svc.Run(runCtx, func(_ context.Context, body []byte) {
		mu.Lock()
		defer mu.Unlock()
		got[string(body)] = true
		if len(got) == 2 {
			stop()
		}
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true, "b": true}, got)
}

func TestNewBackend_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewBackend(ctx, Config{Backend: BackendTypeKafka}, "", "transform", Clients{})
	assert.ErrorContains(t, err, "no queue name")

	for _, bt := range []BackendType{BackendTypeKafka, BackendTypeSQS, BackendTypeGCPPubSub, BackendTypeAzure} {
		_, err := NewBackend(ctx, Config{Backend: bt}, "q", "transform", Clients{})
		assert.Error(t, err, bt)
	}

	_, err = NewBackend(ctx, Config{Backend: "rabbit"}, "q", "transform", Clients{})
	assert.ErrorContains(t, err, "unsupported backend type")

	b, err := NewBackend(ctx, Config{}, "q", "transform", Clients{Kafka: fly.NewFactory(fly.DefaultConfig())})
	require.NoError(t, err)
	assert.Equal(t, "kafka", b.GetName())
	assert.NoError(t, b.Close())
}
