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

	"github.com/segmentio/kafka-go"
)

// TopicInfo describes an existing topic.
type TopicInfo struct {
	Name       string
	Partitions int
}

// AdminClient answers metadata questions about the cluster.
type AdminClient struct {
	factory *Factory
}

// NewAdminClient creates a new Kafka admin client
func NewAdminClient(config *Config) *AdminClient {
	return NewFactory(config).CreateAdminClient()
}

// GetTopicInfo returns nil and no error when the topic does not exist.
func (a *AdminClient) GetTopicInfo(ctx context.Context, topic string) (*TopicInfo, error) {
	client, err := a.factory.CreateKafkaClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}

	resp, err := client.Metadata(ctx, &kafka.MetadataRequest{Topics: []string{topic}})
	if err != nil {
		return nil, fmt.Errorf("failed to get Kafka metadata: %w", err)
	}
	for _, t := range resp.Topics {
		if t.Name == topic && t.Error == nil && !t.Internal {
			return &TopicInfo{Name: t.Name, Partitions: len(t.Partitions)}, nil
		}
	}
	return nil, nil
}

// TopicExists checks if a topic exists
func (a *AdminClient) TopicExists(ctx context.Context, topic string) (bool, error) {
	info, err := a.GetTopicInfo(ctx, topic)
	if err != nil {
		return false, err
	}
	return info != nil, nil
}
