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

package cloudstorage

import (
	"context"
	"fmt"

	"github.com/cardinalhq/transformer/internal/awsclient"
	"github.com/cardinalhq/transformer/internal/azureclient"
	"github.com/cardinalhq/transformer/internal/gcpclient"
)

// CloudManagers holds the per-provider client managers. Each is created
// lazily on first use so that a worker only needs credentials for the
// providers it actually touches. Not safe for concurrent use.
type CloudManagers struct {
	AWS   *awsclient.Manager
	Azure *azureclient.Manager
	GCP   *gcpclient.Manager
}

var _ ClientProvider = (*CloudManagers)(nil)

// NewCloudManagers returns an empty set of managers.
func NewCloudManagers() *CloudManagers {
	return &CloudManagers{}
}

// NewClient creates a storage Client for the given profile.
func (m *CloudManagers) NewClient(ctx context.Context, profile Profile) (Client, error) {
	switch profile.Provider {
	case "aws", "gcp", "":
		if m.AWS == nil {
			mgr, err := awsclient.NewManager(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to create AWS manager: %w", err)
			}
			m.AWS = mgr
		}
		awsS3Client, err := m.AWS.GetS3(ctx, s3Target(profile))
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		return &s3Client{awsS3Client: awsS3Client}, nil
	case "gcs":
		if m.GCP == nil {
			mgr, err := gcpclient.NewManager(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to create GCP manager: %w", err)
			}
			m.GCP = mgr
		}
		storageClient, err := m.GCP.GetStorage(ctx, gcpclient.StorageTarget{
			ServiceAccount: profile.Role,
			Endpoint:       profile.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS client: %w", err)
		}
		return &gcsClient{storageClient: storageClient}, nil
	case "azure":
		if m.Azure == nil {
			mgr, err := azureclient.NewManager(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to create Azure manager: %w", err)
			}
			m.Azure = mgr
		}
		blobClient, err := m.Azure.GetBlob(ctx, azureclient.Account{
			StorageAccount: profile.StorageAccount,
			Endpoint:       profile.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
		}
		return &azureClient{blobClient: blobClient}, nil
	case "file":
		if profile.Path == "" {
			return nil, fmt.Errorf("file provider requires a path")
		}
		return NewFileClient(profile.Path), nil
	default:
		return nil, fmt.Errorf("unsupported cloud provider: %s", profile.Provider)
	}
}

func s3Target(p Profile) awsclient.S3Target {
	return awsclient.S3Target{
		Region:      p.Region,
		RoleARN:     p.Role,
		Endpoint:    p.Endpoint,
		PathStyle:   p.UsePathStyle,
		InsecureTLS: p.InsecureTLS,
		GCPInterop:  p.Provider == "gcp",
	}
}
