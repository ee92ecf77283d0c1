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

package azureclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Manager owns the Azure credential and caches blob and queue clients.
type Manager struct {
	cred   azcore.TokenCredential
	tracer trace.Tracer

	mu           sync.Mutex
	blobClients  map[Account]*BlobClient
	queueClients map[queueKey]*QueueClient
}

// Account names a storage account. Endpoint, when set, replaces the public
// https://<account>.<service>.core.windows.net/ URL, as with Azurite.
type Account struct {
	StorageAccount string
	Endpoint       string
}

var errNoAccount = errors.New("storage account or endpoint is required")

// serviceURL returns the base URL of service ("blob" or "queue") with a
// trailing slash.
func (a Account) serviceURL(service string) (string, error) {
	switch {
	case a.Endpoint != "":
		return strings.TrimSuffix(a.Endpoint, "/") + "/", nil
	case a.StorageAccount != "":
		return fmt.Sprintf("https://%s.%s.core.windows.net/", a.StorageAccount, service), nil
	default:
		return "", errNoAccount
	}
}

// NewManager loads the default Azure credential chain.
func NewManager(_ context.Context) (*Manager, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("loading Azure credentials: %w", err)
	}
	return newManagerWithCredential(cred), nil
}

func newManagerWithCredential(cred azcore.TokenCredential) *Manager {
	return &Manager{
		cred:         cred,
		tracer:       otel.Tracer("github.com/cardinalhq/transformer/internal/azureclient"),
		blobClients:  make(map[Account]*BlobClient),
		queueClients: make(map[queueKey]*QueueClient),
	}
}
