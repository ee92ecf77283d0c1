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

package gcpclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageTargetOptions(t *testing.T) {
	opts, err := StorageTarget{}.clientOptions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, opts)

	opts, err = StorageTarget{Endpoint: "http://localhost:4443/storage/v1/"}.clientOptions(context.Background())
	require.NoError(t, err)
	assert.Len(t, opts, 1)
}

func TestCachedBuildsOnce(t *testing.T) {
	clients := map[StorageTarget]int{}
	builds := 0
	build := func() (int, error) {
		builds++
		return builds, nil
	}

	a := StorageTarget{Endpoint: "a"}
	v, err := cached(clients, a, build)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	v, err = cached(clients, a, build)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = cached(clients, StorageTarget{Endpoint: "b"}, build)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Len(t, clients, 2)
}

func TestCachedDoesNotStoreFailures(t *testing.T) {
	clients := map[string]int{}
	_, err := cached(clients, "p", func() (int, error) { return 0, errors.New("no credentials") })
	require.Error(t, err)
	assert.Empty(t, clients)
}

func TestGetPubSubRequiresProject(t *testing.T) {
	m, err := NewManager(context.Background())
	require.NoError(t, err)
	_, err = m.GetPubSub(context.Background(), "")
	assert.ErrorIs(t, err, errNoProject)
	assert.NoError(t, m.Close())
}
