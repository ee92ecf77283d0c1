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

// Package pubsub delivers work items from a queue backend to a worker, one
// at a time.
package pubsub

import (
	"context"
	"time"
)

// Handler processes one work item body. The delivery is acknowledged after
// the handler returns, whatever the outcome; failures are reported through
// other channels, never by redelivery.
type Handler func(ctx context.Context, body []byte)

// Backend receives work items from one queue.
type Backend interface {
	// Run blocks, calling handler for each delivery in turn, until ctx is
	// cancelled or the backend fails.
	Run(ctx context.Context, handler Handler) error
	GetName() string
	Close() error
}

// BackendType represents supported queue backends.
type BackendType string

const (
	BackendTypeKafka     BackendType = "kafka"
	BackendTypeSQS       BackendType = "sqs"
	BackendTypeGCPPubSub BackendType = "gcp"
	BackendTypeAzure     BackendType = "azure"
)

// Config selects and addresses the work queues.
type Config struct {
	Backend BackendType `mapstructure:"backend"`

	// TransformName and ValidationName name the queue for each worker: a
	// Kafka topic, an SQS queue URL, a Pub/Sub subscription or an Azure
	// queue.
	TransformName  string `mapstructure:"transform_name"`
	ValidationName string `mapstructure:"validation_name"`

	Region   string `mapstructure:"region"`
	Role     string `mapstructure:"role"`
	Endpoint string `mapstructure:"endpoint"`

	ProjectID string `mapstructure:"project_id"`

	StorageAccount string `mapstructure:"storage_account"`

	WaitTime          time.Duration `mapstructure:"wait_time"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
}

// DefaultConfig reads from Kafka topics named after the original queues.
func DefaultConfig() Config {
	return Config{
		Backend:           BackendTypeKafka,
		TransformName:     "transform_requests",
		ValidationName:    "validation_requests",
		WaitTime:          20 * time.Second,
		VisibilityTimeout: 15 * time.Minute,
	}
}
