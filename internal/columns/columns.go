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
	"strings"

	"github.com/cardinalhq/transformer/internal/pipelineerr"
)

// Spec identifies one requested column. Collection is everything before the
// first dot of the dotted name; Field is the remainder and may contain dots.
type Spec struct {
	Collection string
	Field      string
}

// Name returns the dotted "collection.field" form.
func (s Spec) Name() string {
	return s.Collection + "." + s.Field
}

func (s Spec) String() string {
	return s.Name()
}

// ParseSpec splits a dotted column name on its first dot.
func ParseSpec(name string) (Spec, error) {
	name = strings.TrimSpace(name)
	collection, field, ok := strings.Cut(name, ".")
	if !ok {
		return Spec{}, pipelineerr.NewConfiguration("columns", "column "+quote(name)+" is not of the form collection.field")
	}
	if collection == "" || field == "" {
		return Spec{}, pipelineerr.NewConfiguration("columns", "column "+quote(name)+" has an empty collection or field")
	}
	return Spec{Collection: collection, Field: field}, nil
}

func quote(s string) string {
	return `"` + s + `"`
}

// Requested is an ordered, non-empty, duplicate-free list of column specs.
// Order determines output column order.
type Requested struct {
	specs []Spec
}

// NewRequested builds a Requested from already parsed specs.
func NewRequested(specs []Spec) (*Requested, error) {
	if len(specs) == 0 {
		return nil, pipelineerr.NewConfiguration("columns", "no columns requested")
	}
	seen := make(map[Spec]struct{}, len(specs))
	out := make([]Spec, 0, len(specs))
	for _, s := range specs {
		if _, dup := seen[s]; dup {
			return nil, pipelineerr.NewConfiguration("columns", "column "+quote(s.Name())+" requested more than once")
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return &Requested{specs: out}, nil
}

// ParseList parses a comma separated column list such as
// "Events.pt, Events.eta, Muons.pt". Empty entries are ignored.
func ParseList(list string) (*Requested, error) {
	return ParseNames(strings.Split(list, ","))
}

// ParseNames parses each dotted name in order.
func ParseNames(names []string) (*Requested, error) {
	specs := make([]Spec, 0, len(names))
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		s, err := ParseSpec(n)
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return NewRequested(specs)
}

// Specs returns a copy of the specs in request order.
func (r *Requested) Specs() []Spec {
	return append([]Spec(nil), r.specs...)
}

// Len is the number of requested columns.
func (r *Requested) Len() int {
	return len(r.specs)
}

// Names returns the dotted names in request order.
func (r *Requested) Names() []string {
	names := make([]string, len(r.specs))
	for i, s := range r.specs {
		names[i] = s.Name()
	}
	return names
}

// Group is the set of fields requested from one collection.
type Group struct {
	Collection string
	Fields     []string
}

// Groups returns one Group per distinct collection, in the order each
// collection was first seen. Fields within a group keep request order.
func (r *Requested) Groups() []Group {
	index := make(map[string]int)
	var groups []Group
	for _, s := range r.specs {
		i, ok := index[s.Collection]
		if !ok {
			i = len(groups)
			index[s.Collection] = i
			groups = append(groups, Group{Collection: s.Collection})
		}
		groups[i].Fields = append(groups[i].Fields, s.Field)
	}
	return groups
}
