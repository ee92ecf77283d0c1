//go:build kafkatest

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
	"os"
	"testing"
	"time"

	"github.com/orlangure/gnomock"
	kafkapreset "github.com/orlangure/gnomock/preset/kafka"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sharedBroker string

func TestMain(m *testing.M) {
	container, err := gnomock.Start(kafkapreset.Preset())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start Kafka container: %v\n", err)
		os.Exit(1)
	}
	sharedBroker = container.Address(kafkapreset.BrokerPort)

	if !waitForKafkaReady(sharedBroker, 30*time.Second) {
		_ = gnomock.Stop(container)
		fmt.Fprintf(os.Stderr, "Kafka container did not become ready\n")
		os.Exit(1)
	}

	code := m.Run()
	if err := gnomock.Stop(container); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to stop Kafka container: %v\n", err)
	}
	os.Exit(code)
}

func waitForKafkaReady(broker string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := kafka.Dial("tcp", broker)
		if err == nil {
			_, err = conn.ApiVersions()
			_ = conn.Close()
			if err == nil {
				return true
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Brokers = []string{sharedBroker}
	cfg.ConsumerMaxWait = 100 * time.Millisecond
	cfg.ConsumerGroupPrefix = "transformer-test"
	return cfg
}

func TestEnsureTopicsCreatesRequestTopic(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	factory := NewFactory(testConfig())
	admin := factory.CreateAdminClient()

	exists, err := admin.TopicExists(ctx, "req-ensure")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, factory.CreateTopicSyncer().EnsureTopics(ctx, "req-ensure"))
	// A second call finds nothing to do.
	require.NoError(t, factory.CreateTopicSyncer().EnsureTopics(ctx, "req-ensure"))

	info, err := admin.GetTopicInfo(ctx, "req-ensure")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, 1, info.Partitions)
}

func TestProduceConsumeCommit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	factory := NewFactory(testConfig())
	require.NoError(t, factory.CreateTopicSyncer().EnsureTopics(ctx, "work-items"))

	producer, err := factory.CreateProducer()
	require.NoError(t, err)
	defer func() { _ = producer.Close() }()

	for i := range 3 {
		require.NoError(t, producer.Send(ctx, "work-items", Message{
			Key:     []byte(fmt.Sprintf("k%d", i)),
			Value:   []byte(fmt.Sprintf(`{"request-id":"r%d"}`, i)),
			Headers: map[string]string{"n": fmt.Sprint(i)},
		}))
	}

	consumer, err := factory.CreateConsumerWithService("work-items", "transform")
	require.NoError(t, err)
	defer func() { _ = consumer.Close() }()

	var got []ConsumedMessage
	consumeCtx, stop := context.WithCancel(ctx)
	err = consumer.Consume(consumeCtx, func(_ context.Context, m ConsumedMessage) error {
		got = append(got, m)
		if len(got) == 3 {
			stop()
		}
		return nil
	})
	assert.Error(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "k0", string(got[0].Key))
	assert.Equal(t, "0", got[0].Headers["n"])
}
