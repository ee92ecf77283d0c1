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

// Package workitem decodes the JSON work items handed to transformer and
// validation workers.
package workitem

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Item is one file to process. Raw keeps the original message so it can be
// forwarded unchanged on failure.
type Item struct {
	RequestID         string `json:"request-id"`
	FilePath          string `json:"file-path"`
	FileID            int64  `json:"file-id"`
	ServiceEndpoint   string `json:"service-endpoint"`
	Columns           string `json:"columns,omitempty"`
	ResultDestination string `json:"result-destination,omitempty"`
	ResultFormat      string `json:"result-format,omitempty"`

	Raw []byte `json:"-"`
}

// UnmarshalJSON accepts file-id as either a JSON number or a string holding
// an integer, since coordinators differ in how they encode it.
func (it *Item) UnmarshalJSON(data []byte) error {
	type fields Item
	aux := struct {
		*fields
		FileID json.RawMessage `json:"file-id"`
	}{fields: (*fields)(it)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	id, err := parseFileID(aux.FileID)
	if err != nil {
		return err
	}
	it.FileID = id
	return nil
}

func parseFileID(raw json.RawMessage) (int64, error) {
	text := string(raw)
	if text == "" || text == "null" {
		return 0, nil
	}
	if strings.HasPrefix(text, `"`) {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, err
		}
		if strings.TrimSpace(text) == "" {
			return 0, nil
		}
	}
	id, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("file-id %s is not an integer", raw)
	}
	return id, nil
}

// Parse decodes a work item. Only request-id is required here; callers
// that need an input file check RequireFile.
func Parse(data []byte) (*Item, error) {
	var it Item
	if err := json.Unmarshal(data, &it); err != nil {
		return nil, fmt.Errorf("decoding work item: %w", err)
	}
	if strings.TrimSpace(it.RequestID) == "" {
		return nil, fmt.Errorf("work item has no request-id")
	}
	it.Raw = append([]byte(nil), data...)
	return &it, nil
}

// RequireFile returns an error when the item names no input file.
func (it *Item) RequireFile() error {
	if strings.TrimSpace(it.FilePath) == "" {
		return fmt.Errorf("work item for request %s has no file-path", it.RequestID)
	}
	return nil
}

// WithError returns the original message with an added "error" field. When
// the original cannot be decoded as an object, the known fields are used.
func (it *Item) WithError(msg string) ([]byte, error) {
	fields := map[string]any{}
	if len(it.Raw) == 0 || json.Unmarshal(it.Raw, &fields) != nil {
		fields = map[string]any{
			"request-id":       it.RequestID,
			"file-path":        it.FilePath,
			"file-id":          it.FileID,
			"service-endpoint": it.ServiceEndpoint,
		}
		if it.Columns != "" {
			fields["columns"] = it.Columns
		}
	}
	fields["error"] = msg
	return json.Marshal(fields)
}
