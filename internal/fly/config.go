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

// Package fly wraps segmentio/kafka-go with the producer, consumer and topic
// management used by the transformer workers.
package fly

import "time"

// Config holds the Kafka connection and client settings.
type Config struct {
	Brokers []string `mapstructure:"brokers"`

	SASLEnabled   bool   `mapstructure:"sasl_enabled"`
	SASLMechanism string `mapstructure:"sasl_mechanism"` // SCRAM-SHA-256, SCRAM-SHA-512 or PLAIN
	SASLUsername  string `mapstructure:"sasl_username"`
	SASLPassword  string `mapstructure:"sasl_password"`

	TLSEnabled    bool `mapstructure:"tls_enabled"`
	TLSSkipVerify bool `mapstructure:"tls_skip_verify"`

	ProducerBatchSize    int           `mapstructure:"producer_batch_size"`
	ProducerBatchTimeout time.Duration `mapstructure:"producer_batch_timeout"`
	ProducerCompression  string        `mapstructure:"producer_compression"`
	ProducerRequiredAcks int           `mapstructure:"producer_required_acks"`

	ConsumerGroupPrefix string        `mapstructure:"consumer_group_prefix"`
	ConsumerMaxWait     time.Duration `mapstructure:"consumer_max_wait"`
	ConsumerMinBytes    int           `mapstructure:"consumer_min_bytes"`
	ConsumerMaxBytes    int           `mapstructure:"consumer_max_bytes"`

	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`

	// Topic defaults used when the validator creates a request topic.
	TopicPartitions        int   `mapstructure:"topic_partitions"`
	TopicReplicationFactor int   `mapstructure:"topic_replication_factor"`
	TopicRetentionMs       int64 `mapstructure:"topic_retention_ms"`
	TopicMaxMessageBytes   int   `mapstructure:"topic_max_message_bytes"`
}

// DefaultConfig returns a configuration for a local single broker.
func DefaultConfig() *Config {
	return &Config{
		Brokers: []string{"localhost:9092"},

		SASLMechanism: "SCRAM-SHA-256",

		// Batches are large Arrow payloads; send each as soon as it is written.
		ProducerBatchSize:    1,
		ProducerBatchTimeout: 10 * time.Millisecond,
		ProducerCompression:  "none",
		ProducerRequiredAcks: 1,

		ConsumerGroupPrefix: "transformer",
		ConsumerMaxWait:     500 * time.Millisecond,
		ConsumerMinBytes:    1,
		ConsumerMaxBytes:    10 * 1024 * 1024,

		ConnectionTimeout: 10 * time.Second,

		TopicPartitions:        1,
		TopicReplicationFactor: 1,
		TopicRetentionMs:       2 * 60 * 60 * 1000,
		TopicMaxMessageBytes:   14*1024*1024 + 512*1024,
	}
}

// GetConsumerGroup returns the consumer group name for the given service.
func (c *Config) GetConsumerGroup(service string) string {
	return c.ConsumerGroupPrefix + "." + service
}
