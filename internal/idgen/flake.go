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

// Package idgen generates process and request identifiers.
package idgen

import (
	"errors"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/sony/sonyflake"
)

// Epoch is the start of the generator's clock. Ids fit 39 bits of 10ms
// ticks from here, which lasts until 2194.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Generator hands out time-ordered ids.
type Generator struct {
	sf *sonyflake.Sonyflake
}

var process = mustNew()

func mustNew() *Generator {
	g, err := New(Epoch)
	if err != nil {
		panic(err)
	}
	return g
}

// New returns a generator whose ids count from start. The machine id is
// taken from the host's private IPv4 address.
func New(start time.Time) (*Generator, error) {
	sf, err := sonyflake.New(sonyflake.Settings{StartTime: start})
	if err != nil {
		return nil, err
	}
	if sf == nil {
		return nil, errors.New("sonyflake: no usable machine id")
	}
	return &Generator{sf: sf}, nil
}

// Next returns a positive id. If the clock has run past the generator's
// range a random id is returned instead.
func (g *Generator) Next() int64 {
	v, err := g.sf.NextID()
	if err != nil {
		return rand.Int64N(1 << 62)
	}
	return int64(v)
}

// InstanceID identifies this process in logs and metrics.
func InstanceID() int64 {
	return process.Next()
}

// RequestID names work that did not arrive with a request id, such as a
// one-shot transformation run from the command line.
func RequestID(prefix string) string {
	return prefix + "-" + strconv.FormatInt(process.Next(), 36)
}
