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

package awsclient

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.opentelemetry.io/otel/trace"
)

type SQSClient struct {
	Client *sqs.Client
	Tracer trace.Tracer
}

// SQSTarget selects the region, role and optional local endpoint (for
// example LocalStack) of an SQS client.
type SQSTarget struct {
	Region   string
	RoleARN  string
	Endpoint string
}

func (t SQSTarget) clientOptions(o *sqs.Options) {
	if t.Endpoint != "" {
		o.BaseEndpoint = aws.String(t.Endpoint)
	}
}

func (m *Manager) GetSQS(_ context.Context, target SQSTarget) (*SQSClient, error) {
	cfg := m.configFor(target.Region, target.RoleARN)
	return &SQSClient{Client: sqs.NewFromConfig(cfg, target.clientOptions), Tracer: m.tracer}, nil
}
