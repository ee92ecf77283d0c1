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

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigSendsBatchesImmediately(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
	assert.False(t, cfg.SASLEnabled)
	assert.False(t, cfg.TLSEnabled)
	assert.Equal(t, 1, cfg.ProducerBatchSize)
	assert.Equal(t, 10*time.Millisecond, cfg.ProducerBatchTimeout)
	assert.Equal(t, "none", cfg.ProducerCompression)
}

func TestDefaultConfigRequestTopics(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 1, cfg.TopicPartitions)
	assert.Equal(t, int64(2*time.Hour/time.Millisecond), cfg.TopicRetentionMs)
	// room for one 14.5MiB arrow batch per message
	assert.Equal(t, 15204352, cfg.TopicMaxMessageBytes)
}

func TestConsumerGroupPerService(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "transformer.transform", cfg.GetConsumerGroup("transform"))
	assert.Equal(t, "transformer.validate", cfg.GetConsumerGroup("validate"))

	cfg.ConsumerGroupPrefix = "servicex"
	assert.Equal(t, "servicex.transform", cfg.GetConsumerGroup("transform"))
}
