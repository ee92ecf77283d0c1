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
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

// Factory creates Kafka producers, consumers and admin clients that share
// one set of connection settings.
type Factory struct {
	config *Config
}

// NewFactory creates a new factory with the given configuration
func NewFactory(cfg *Config) *Factory {
	return &Factory{config: cfg}
}

// GetConfig returns the underlying configuration
func (f *Factory) GetConfig() *Config {
	return f.config
}

func parseCompression(name string) (kafka.Compression, error) {
	switch strings.ToLower(name) {
	case "", "none", "uncompressed":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("unsupported compression: %s", name)
	}
}

func parseRequiredAcks(n int) (kafka.RequiredAcks, error) {
	switch n {
	case 0:
		return kafka.RequireNone, nil
	case 1:
		return kafka.RequireOne, nil
	case -1:
		return kafka.RequireAll, nil
	default:
		return 0, fmt.Errorf("unsupported required acks: %d", n)
	}
}

// CreateProducer creates a new Kafka producer
func (f *Factory) CreateProducer() (Producer, error) {
	if len(f.config.Brokers) == 0 {
		return nil, fmt.Errorf("no Kafka brokers configured")
	}
	compression, err := parseCompression(f.config.ProducerCompression)
	if err != nil {
		return nil, err
	}
	acks, err := parseRequiredAcks(f.config.ProducerRequiredAcks)
	if err != nil {
		return nil, err
	}

	cfg := ProducerConfig{
		Brokers:           f.config.Brokers,
		BatchSize:         f.config.ProducerBatchSize,
		BatchTimeout:      f.config.ProducerBatchTimeout,
		RequiredAcks:      acks,
		Compression:       compression,
		MaxMessageBytes:   f.config.TopicMaxMessageBytes,
		ConnectionTimeout: f.config.ConnectionTimeout,
	}
	if cfg.SASLMechanism, cfg.TLSConfig, err = f.security(); err != nil {
		return nil, err
	}
	return NewProducer(cfg), nil
}

// CreateConsumer creates a consumer that hands over one message at a time
// and commits only after the handler returns.
func (f *Factory) CreateConsumer(topic string, groupID string) (Consumer, error) {
	if len(f.config.Brokers) == 0 {
		return nil, fmt.Errorf("no Kafka brokers configured")
	}
	cfg := ConsumerConfig{
		Brokers:           f.config.Brokers,
		Topic:             topic,
		GroupID:           groupID,
		MinBytes:          f.config.ConsumerMinBytes,
		MaxBytes:          f.config.ConsumerMaxBytes,
		MaxWait:           f.config.ConsumerMaxWait,
		StartOffset:       kafka.FirstOffset,
		ConnectionTimeout: f.config.ConnectionTimeout,
	}
	var err error
	if cfg.SASLMechanism, cfg.TLSConfig, err = f.security(); err != nil {
		return nil, err
	}
	return NewConsumer(cfg), nil
}

// CreateConsumerWithService creates a consumer with a service-based group ID
func (f *Factory) CreateConsumerWithService(topic string, service string) (Consumer, error) {
	return f.CreateConsumer(topic, f.config.GetConsumerGroup(service))
}

func (f *Factory) security() (sasl.Mechanism, *tls.Config, error) {
	var mechanism sasl.Mechanism
	if f.config.SASLEnabled {
		m, err := f.createSASLMechanism()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create SASL mechanism: %w", err)
		}
		mechanism = m
	}
	var tlsConfig *tls.Config
	if f.config.TLSEnabled {
		tlsConfig = &tls.Config{
			InsecureSkipVerify: f.config.TLSSkipVerify,
		}
	}
	return mechanism, tlsConfig, nil
}

func (f *Factory) createSASLMechanism() (sasl.Mechanism, error) {
	switch f.config.SASLMechanism {
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, f.config.SASLUsername, f.config.SASLPassword)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, f.config.SASLUsername, f.config.SASLPassword)
	case "PLAIN":
		// GCP Managed Kafka and other SASL/PLAIN systems
		return plain.Mechanism{
			Username: f.config.SASLUsername,
			Password: f.config.SASLPassword,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", f.config.SASLMechanism)
	}
}

// CreateKafkaClient creates a kafka.Client for metadata requests.
func (f *Factory) CreateKafkaClient() (*kafka.Client, error) {
	if len(f.config.Brokers) == 0 {
		return nil, fmt.Errorf("no Kafka brokers configured")
	}
	mechanism, tlsConfig, err := f.security()
	if err != nil {
		return nil, err
	}
	timeout := f.config.ConnectionTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &kafka.Client{
		Addr: kafka.TCP(f.config.Brokers...),
		Transport: &kafka.Transport{
			SASL:        mechanism,
			TLS:         tlsConfig,
			DialTimeout: timeout,
		},
		Timeout: timeout,
	}, nil
}

// CreateAdminClient creates an admin client sharing this factory's settings.
func (f *Factory) CreateAdminClient() *AdminClient {
	return &AdminClient{factory: f}
}

// CreateTopicSyncer creates a topic syncer for managing Kafka topics
func (f *Factory) CreateTopicSyncer() *TopicSyncer {
	return NewTopicSyncer(f)
}
