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

package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StatusClient talks to the coordinating service of one request.
type StatusClient struct {
	endpoint string
	client   *http.Client
	now      func() time.Time
}

// NewStatusClient returns a client for endpoint. A nil client uses a client
// with a 30 second timeout.
func NewStatusClient(endpoint string, client *http.Client) *StatusClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &StatusClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
		now:      time.Now,
	}
}

// FileComplete is the body of PUT /file-complete.
type FileComplete struct {
	FilePath     string  `json:"file-path"`
	FileID       int64   `json:"file-id"`
	Status       Status  `json:"status"`
	NumMessages  int64   `json:"num-messages"`
	TotalTime    float64 `json:"total-time"`
	TotalEvents  int64   `json:"total-events"`
	TotalBytes   int64   `json:"total-bytes"`
	AvgRate      float64 `json:"avg-rate"`
	ErrorMessage string  `json:"error-message,omitempty"`
}

func (c *StatusClient) timestamp() string {
	return c.now().UTC().Format(time.RFC3339Nano)
}

// PostStatus sends a free-form status line.
func (c *StatusClient) PostStatus(ctx context.Context, status, info string) error {
	form := url.Values{}
	form.Set("timestamp", c.timestamp())
	form.Set("status", status)
	if info != "" {
		form.Set("info", info)
	}
	return c.do(ctx, http.MethodPost, "/status", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
}

// PostStart tells the coordinator that a validated request may start.
// info is sent as a JSON object alongside the timestamp.
func (c *StatusClient) PostStart(ctx context.Context, info any) error {
	body, err := json.Marshal(struct {
		Timestamp string `json:"timestamp"`
		Info      any    `json:"info"`
	}{c.timestamp(), info})
	if err != nil {
		return fmt.Errorf("encoding start: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/start", "application/json", bytes.NewReader(body))
}

// PutFileComplete reports the final counters of one file.
func (c *StatusClient) PutFileComplete(ctx context.Context, fc FileComplete) error {
	body, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("encoding file-complete: %w", err)
	}
	return c.do(ctx, http.MethodPut, "/file-complete", "application/json", bytes.NewReader(body))
}

func (c *StatusClient) do(ctx context.Context, method, path, contentType string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("building %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: unexpected status %s", method, path, resp.Status)
	}
	return nil
}
