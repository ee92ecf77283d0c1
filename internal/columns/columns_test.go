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

package columns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/transformer/internal/pipelineerr"
)

func TestParseSpec(t *testing.T) {
	tests := []struct {
		in         string
		collection string
		field      string
		wantErr    bool
	}{
		{"Events.pt", "Events", "pt", false},
		{"Events.Muon.pt", "Events", "Muon.pt", false},
		{"  A.x  ", "A", "x", false},
		{"nodot", "", "", true},
		{".pt", "", "", true},
		{"Events.", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			s, err := ParseSpec(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, pipelineerr.IsConfiguration(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.collection, s.Collection)
			assert.Equal(t, tt.field, s.Field)
		})
	}
}

func TestParseListGroupsInFirstSeenOrder(t *testing.T) {
	req, err := ParseList("B.y, A.x, B.z.w, C.q, A.v")
	require.NoError(t, err)

	assert.Equal(t, []string{"B.y", "A.x", "B.z.w", "C.q", "A.v"}, req.Names())
	assert.Equal(t, []Group{
		{Collection: "B", Fields: []string{"y", "z.w"}},
		{Collection: "A", Fields: []string{"x", "v"}},
		{Collection: "C", Fields: []string{"q"}},
	}, req.Groups())
}

func TestParseListSkipsEmptyEntries(t *testing.T) {
	req, err := ParseList("Events.pt,, Events.eta,")
	require.NoError(t, err)
	assert.Equal(t, 2, req.Len())
}

func TestParseListRejects(t *testing.T) {
	_, err := ParseList("")
	assert.True(t, pipelineerr.IsConfiguration(err))

	_, err = ParseList("A.x,A.x")
	assert.True(t, pipelineerr.IsConfiguration(err))

	_, err = ParseList("A.x,bogus")
	assert.True(t, pipelineerr.IsConfiguration(err))
}

func TestSpecsReturnsCopy(t *testing.T) {
	req, err := ParseNames([]string{"A.x"})
	require.NoError(t, err)
	specs := req.Specs()
	specs[0].Field = "changed"
	assert.Equal(t, "A.x", req.Names()[0])
}
