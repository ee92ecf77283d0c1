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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cardinalhq/kafka-sync/kafkasync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicSyncerConnection(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantSASL bool
		wantTLS  bool
	}{
		{"plaintext", Config{Brokers: []string{"b1:9092", "b2:9092"}}, false, false},
		{"scram", Config{Brokers: []string{"b:9092"}, SASLEnabled: true, SASLMechanism: "SCRAM-SHA-256", SASLUsername: "u", SASLPassword: "p"}, true, false},
		{"tls", Config{Brokers: []string{"b:9093"}, TLSEnabled: true, TLSSkipVerify: true}, false, true},
		{"plain over tls", Config{Brokers: []string{"b:9093"}, SASLEnabled: true, SASLMechanism: "PLAIN", SASLUsername: "u", SASLPassword: "p", TLSEnabled: true}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			conn, err := NewFactory(&cfg).CreateTopicSyncer().createConnectionConfig()
			require.NoError(t, err)

			assert.Equal(t, cfg.Brokers, conn.BootstrapServers)
			assert.Equal(t, tt.wantSASL, conn.SASLMechanism != nil)
			if tt.wantTLS {
				require.NotNil(t, conn.TLS)
				assert.Equal(t, cfg.TLSSkipVerify, conn.TLS.InsecureSkipVerify)
			} else {
				assert.Nil(t, conn.TLS)
			}
		})
	}
}

func TestTopicSyncerRejectsUnknownMechanism(t *testing.T) {
	cfg := &Config{Brokers: []string{"b:9092"}, SASLEnabled: true, SASLMechanism: "GSSAPI"}
	_, err := NewFactory(cfg).CreateTopicSyncer().createConnectionConfig()
	assert.Error(t, err)
}

func TestLoadTopicsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topics.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
defaults:
  partitionCount: 4
  replicationFactor: 3
  topicConfig:
    retention.ms: "86400000"
topics:
  - name: transformer-work
    partitionCount: 16
  - name: transformer-failures
    config:
      retention.ms: "604800000"
operationTimeout: 30s
`), 0o644))

	cfg, err := LoadTopicsConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Defaults.PartitionCount)
	assert.Equal(t, 3, cfg.Defaults.ReplicationFactor)
	assert.Equal(t, "86400000", cfg.Defaults.TopicConfig["retention.ms"])
	require.Len(t, cfg.Topics, 2)
	assert.Equal(t, 16, cfg.Topics[0].PartitionCount)
	assert.Zero(t, cfg.Topics[1].PartitionCount)
	assert.Equal(t, "604800000", cfg.Topics[1].Config["retention.ms"])
	assert.Equal(t, 30*time.Second, cfg.OperationTimeout)
}

func TestLoadTopicsConfigErrors(t *testing.T) {
	_, err := LoadTopicsConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("defaults:\n  partitionCount: many\n"), 0o644))
	_, err = LoadTopicsConfig(bad)
	assert.Error(t, err)
}

func TestRequestTopicDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopicPartitions = 3
	cfg.TopicReplicationFactor = 2
	cfg.TopicRetentionMs = 60000
	cfg.TopicMaxMessageBytes = 2048

	tc := NewFactory(cfg).CreateTopicSyncer().topicsConfig([]kafkasync.Topic{{Name: "req-1"}, {Name: "req-2"}})

	assert.Equal(t, 3, tc.Defaults.PartitionCount)
	assert.Equal(t, 2, tc.Defaults.ReplicationFactor)
	assert.Equal(t, map[string]string{"retention.ms": "60000", "max.message.bytes": "2048"}, tc.Defaults.TopicConfig)
	require.Len(t, tc.Topics, 2)
	assert.Equal(t, "req-1", tc.Topics[0].Name)
	assert.Zero(t, tc.Topics[0].PartitionCount)
	assert.Equal(t, time.Minute, tc.OperationTimeout)
}

func TestRequestTopicDefaultsFloor(t *testing.T) {
	tc := NewFactory(&Config{Brokers: []string{"b:9092"}}).CreateTopicSyncer().topicsConfig(nil)
	assert.Equal(t, 1, tc.Defaults.PartitionCount)
	assert.Equal(t, 1, tc.Defaults.ReplicationFactor)
	assert.Empty(t, tc.Defaults.TopicConfig)
}

func TestEnsureTopicsWithoutNames(t *testing.T) {
	syncer := NewFactory(DefaultConfig()).CreateTopicSyncer()
	assert.NoError(t, syncer.EnsureTopics(context.Background()))
}
