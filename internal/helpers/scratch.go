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

package helpers

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// PrepareScratchDir creates <base>/<name> and empties it. Work that a
// previous process left behind after a crash is removed. An empty base
// means os.TempDir().
func PrepareScratchDir(base, name string) (string, error) {
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating scratch dir %s: %w", dir, err)
	}
	CleanDir(dir)
	return dir, nil
}

// CleanDir removes everything inside dir, logging what cannot be removed.
func CleanDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Info("Failed to read scratch dir (ignoring)", slog.String("path", dir), slog.Any("error", err))
		return
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("Failed to remove stale scratch file", slog.String("path", path), slog.Any("error", err))
		}
	}
	if len(entries) > 0 {
		slog.Info("Removed stale scratch files", slog.String("path", dir), slog.Int("count", len(entries)))
	}
}
