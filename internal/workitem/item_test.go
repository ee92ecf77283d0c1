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

package workitem

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	raw := []byte(`{"request-id":"r1","file-path":"/data/f.root","file-id":42,"service-endpoint":"http://servicex/r1","columns":"Events.pt,Events.eta","extra":true}`)
	it, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "r1", it.RequestID)
	assert.Equal(t, "/data/f.root", it.FilePath)
	assert.Equal(t, int64(42), it.FileID)
	assert.Equal(t, "http://servicex/r1", it.ServiceEndpoint)
	assert.Equal(t, "Events.pt,Events.eta", it.Columns)
	assert.Equal(t, raw, it.Raw)
	assert.NoError(t, it.RequireFile())
}

func TestParseRejects(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"file-path":"f"}`))
	assert.Error(t, err)

	it, err := Parse([]byte(`{"request-id":"r"}`))
	require.NoError(t, err)
	assert.Error(t, it.RequireFile())
}

func TestParseFileIDEncodings(t *testing.T) {
	for _, tc := range []struct {
		raw  string
		want int64
	}{
		{`{"request-id":"r","file-id":42}`, 42},
		{`{"request-id":"r","file-id":"42"}`, 42},
		{`{"request-id":"r","file-id":""}`, 0},
		{`{"request-id":"r","file-id":null}`, 0},
		{`{"request-id":"r"}`, 0},
	} {
		it, err := Parse([]byte(tc.raw))
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, it.FileID, tc.raw)
		assert.Equal(t, "r", it.RequestID)
	}

	_, err := Parse([]byte(`{"request-id":"r","file-id":"abc"}`))
	assert.Error(t, err)
	_, err = Parse([]byte(`{"request-id":"r","file-id":4.5}`))
	assert.Error(t, err)
}

func TestWithErrorKeepsUnknownFields(t *testing.T) {
	it, err := Parse([]byte(`{"request-id":"r1","file-path":"f","file-id":7,"extra":"kept"}`))
	require.NoError(t, err)

	out, err := it.WithError("boom")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "boom", got["error"])
	assert.Equal(t, "kept", got["extra"])
	assert.Equal(t, float64(7), got["file-id"])
}

func TestWithErrorWithoutRaw(t *testing.T) {
	it := &Item{RequestID: "r2", FilePath: "f", FileID: 3}
	out, err := it.WithError("bad")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "r2", got["request-id"])
	assert.Equal(t, "bad", got["error"])
}
