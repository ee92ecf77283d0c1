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

package cmd

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/transformer/internal/helpers"
)

func diskUsageLoop(ctx context.Context, dir string) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	diskUsage(ctx, dir)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			diskUsage(ctx, dir)
		}
	}
}

func diskUsage(ctx context.Context, dir string) {
	stats, err := helpers.DiskUsage(dir)
	if err != nil {
		slog.Error("Failed to get disk usage stats", slog.String("path", dir), slog.Any("error", err))
		return
	}
	scratchFreeBytes.Record(ctx, int64(stats.FreeBytes), metric.WithAttributeSet(commonAttributes))
	slog.Info("Disk usage stats",
		slog.String("path", dir),
		slog.Uint64("totalBytes", stats.TotalBytes),
		slog.Uint64("freeBytes", stats.FreeBytes),
		slog.Float64("freePercent", stats.FreePercent()),
		slog.Uint64("freeInodes", stats.FreeInodes),
		slog.Float64("freeInodesPercent", stats.FreeInodesPercent()),
	)
}
