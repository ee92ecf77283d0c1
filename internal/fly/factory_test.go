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
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFactory(t *testing.T) {
	config := &Config{Brokers: []string{"broker1:9092", "broker2:9092"}}

	factory := NewFactory(config)
	assert.NotNil(t, factory)
	assert.Equal(t, config, factory.GetConfig())
}

func TestFactory_CreateProducer(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "basic producer",
			config: &Config{
				Brokers:              []string{"localhost:9092"},
				ProducerBatchSize:    1,
				ProducerBatchTimeout: time.Second,
				ProducerCompression:  "snappy",
			},
		},
		{
			name: "SASL SCRAM-SHA-256",
			config: &Config{
				Brokers:       []string{"localhost:9092"},
				SASLEnabled:   true,
				SASLMechanism: "SCRAM-SHA-256",
				SASLUsername:  "user",
				SASLPassword:  "pass",
			},
		},
		{
			name: "SASL SCRAM-SHA-512 with TLS",
			config: &Config{
				Brokers:       []string{"localhost:9092"},
				SASLEnabled:   true,
				SASLMechanism: "SCRAM-SHA-512",
				SASLUsername:  "user",
				SASLPassword:  "pass",
				TLSEnabled:    true,
				TLSSkipVerify: true,
			},
		},
		{
			name: "SASL PLAIN",
			config: &Config{
				Brokers:       []string{"localhost:9092"},
				SASLEnabled:   true,
				SASLMechanism: "PLAIN",
				SASLUsername:  "user",
				SASLPassword:  "pass",
			},
		},
		{
			name: "unsupported SASL mechanism",
			config: &Config{
				Brokers:       []string{"localhost:9092"},
				SASLEnabled:   true,
				SASLMechanism: "GSSAPI",
			},
			wantErr: true,
		},
		{
			name: "unsupported compression",
			config: &Config{
				Brokers:             []string{"localhost:9092"},
				ProducerCompression: "brotli",
			},
			wantErr: true,
		},
		{
			name: "unsupported acks",
			config: &Config{
				Brokers:              []string{"localhost:9092"},
				ProducerRequiredAcks: 2,
			},
			wantErr: true,
		},
		{
			name:    "no brokers",
			config:  &Config{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			producer, err := NewFactory(tt.config).CreateProducer()
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, producer)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, producer)
			assert.NoError(t, producer.Close())
		})
	}
}

func TestFactory_CreateConsumerWithService(t *testing.T) {
	factory := NewFactory(&Config{
		Brokers:             []string{"localhost:9092"},
		ConsumerGroupPrefix: "transformer",
		ConsumerMaxWait:     100 * time.Millisecond,
	})

	consumer, err := factory.CreateConsumerWithService("work", "transform")
	require.NoError(t, err)
	kc, ok := consumer.(*kafkaConsumer)
	require.True(t, ok)
	assert.Equal(t, "transformer.transform", kc.config.GroupID)
	assert.Equal(t, "work", kc.config.Topic)
	assert.Equal(t, kafka.FirstOffset, kc.config.StartOffset)
	assert.NoError(t, consumer.Close())

	_, err = NewFactory(&Config{}).CreateConsumer("work", "g")
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	cases := map[string]kafka.Compression{
		"":       0,
		"none":   0,
		"gzip":   kafka.Gzip,
		"snappy": kafka.Snappy,
		"LZ4":    kafka.Lz4,
		"zstd":   kafka.Zstd,
	}
	for in, want := range cases {
		got, err := parseCompression(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestFactory_CreateKafkaClient(t *testing.T) {
	client, err := NewFactory(&Config{
		Brokers:       []string{"a:9092", "b:9092"},
		TLSEnabled:    true,
		SASLEnabled:   true,
		SASLMechanism: "PLAIN",
	}).CreateKafkaClient()
	require.NoError(t, err)

	transport, ok := client.Transport.(*kafka.Transport)
	require.True(t, ok)
	assert.NotNil(t, transport.TLS)
	assert.NotNil(t, transport.SASL)
	assert.Equal(t, 10*time.Second, client.Timeout)
}

func TestMessageConversion(t *testing.T) {
	m := Message{
		Key:   []byte("f.parquet-3"),
		Value: []byte("payload"),
		Headers: map[string]string{
			"rows":         "40",
			"content-type": "application/vnd.apache.arrow.stream",
		},
	}
	assert.Equal(t, len("f.parquet-3")+len("payload"), m.Size())

	km := m.record()
	require.Len(t, km.Headers, 2)
	assert.Equal(t, "content-type", km.Headers[0].Key)
	assert.Equal(t, "rows", km.Headers[1].Key)

	km.Topic = "req-1"
	km.Partition = 2
	km.Offset = 17
	cm := consumed(km)
	assert.Equal(t, m.Key, cm.Key)
	assert.Equal(t, m.Value, cm.Value)
	assert.Equal(t, m.Headers, cm.Headers)
	assert.Equal(t, "req-1", cm.Topic)
	assert.Equal(t, 2, cm.Partition)
	assert.Equal(t, int64(17), cm.Offset)

	assert.Nil(t, consumed(kafka.Message{}).Headers)
	assert.Nil(t, (&Message{Key: []byte("k")}).record().Headers)
}
