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
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cardinalhq/kafka-sync/kafkasync"
)

// TopicSyncer creates and reconciles topics using kafka-sync.
type TopicSyncer struct {
	factory *Factory
}

// NewTopicSyncer creates a new topic syncer
func NewTopicSyncer(factory *Factory) *TopicSyncer {
	return &TopicSyncer{factory: factory}
}

// SyncTopics brings the cluster in line with topicsConfig. With fix false
// differences are only reported.
func (ts *TopicSyncer) SyncTopics(ctx context.Context, topicsConfig *kafkasync.Config, fix bool) error {
	connConfig, err := ts.createConnectionConfig()
	if err != nil {
		return fmt.Errorf("failed to create connection config: %w", err)
	}

	syncer, err := kafkasync.NewSyncer(connConfig, topicsConfig)
	if err != nil {
		return fmt.Errorf("failed to create syncer: %w", err)
	}

	mode := kafkasync.SyncModeInfo
	modeStr := "info"
	if fix {
		mode = kafkasync.SyncModeFix
		modeStr = "fix"
	}

	slog.Debug("Starting Kafka topic synchronization",
		slog.String("mode", modeStr),
		slog.Int("topicCount", len(topicsConfig.Topics)))

	if err := syncer.Sync(ctx, mode); err != nil {
		return fmt.Errorf("failed to sync topics: %w", err)
	}
	return nil
}

// EnsureTopics creates any of the named topics that are missing, using the
// topic defaults from the factory configuration.
func (ts *TopicSyncer) EnsureTopics(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	topics := make([]kafkasync.Topic, 0, len(names))
	for _, name := range names {
		topics = append(topics, kafkasync.Topic{Name: name})
	}
	return ts.SyncTopics(ctx, ts.topicsConfig(topics), true)
}

func (ts *TopicSyncer) topicsConfig(topics []kafkasync.Topic) *kafkasync.Config {
	cfg := ts.factory.GetConfig()

	partitions := cfg.TopicPartitions
	if partitions <= 0 {
		partitions = 1
	}
	replication := cfg.TopicReplicationFactor
	if replication <= 0 {
		replication = 1
	}

	topicConfig := map[string]string{}
	if cfg.TopicRetentionMs > 0 {
		topicConfig["retention.ms"] = strconv.FormatInt(cfg.TopicRetentionMs, 10)
	}
	if cfg.TopicMaxMessageBytes > 0 {
		topicConfig["max.message.bytes"] = strconv.Itoa(cfg.TopicMaxMessageBytes)
	}

	return &kafkasync.Config{
		Defaults: kafkasync.Defaults{
			PartitionCount:    partitions,
			ReplicationFactor: replication,
			TopicConfig:       topicConfig,
		},
		Topics:           topics,
		OperationTimeout: time.Minute,
	}
}

func (ts *TopicSyncer) createConnectionConfig() (kafkasync.ConnectionConfig, error) {
	config := ts.factory.GetConfig()
	connConfig := kafkasync.ConnectionConfig{
		BootstrapServers: config.Brokers,
	}

	if config.SASLEnabled {
		mechanism, err := ts.factory.createSASLMechanism()
		if err != nil {
			return connConfig, fmt.Errorf("failed to create SASL mechanism: %w", err)
		}
		connConfig.SASLMechanism = mechanism
	}

	if config.TLSEnabled {
		connConfig.TLS = &tls.Config{
			InsecureSkipVerify: config.TLSSkipVerify,
		}
	}

	return connConfig, nil
}

// LoadTopicsConfig loads a kafka-sync configuration file.
func LoadTopicsConfig(filename string) (*kafkasync.Config, error) {
	return kafkasync.LoadConfigFromFile(filename)
}
