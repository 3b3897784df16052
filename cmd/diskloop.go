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

	"github.com/cardinalhq/boundedsort/internal/helpers"
	"github.com/cardinalhq/boundedsort/internal/logctx"
	"github.com/cardinalhq/boundedsort/internal/spillers"
)

// logDiskUsage reports free space where runs will be written.
func logDiskUsage(ctx context.Context, dir string) {
	diskstats, err := helpers.DiskUsage(dir)
	if err != nil {
		logctx.FromContext(ctx).Warn("Failed to get disk usage stats", slog.String("dir", dir), slog.Any("error", err))
		return
	}
	logctx.FromContext(ctx).Debug("Disk usage stats",
		slog.String("dir", dir),
		slog.Uint64("totalBytes", diskstats.TotalBytes),
		slog.Uint64("freeBytes", diskstats.FreeBytes),
		slog.Float64("freePercent", float64(diskstats.FreeBytes)/float64(diskstats.TotalBytes)*100),
		slog.Uint64("freeInodes", diskstats.FreeInodes),
	)
}

// cleanStaleRunDirs removes run directories left behind by processes that
// died mid-sort.
func cleanStaleRunDirs(ctx context.Context, dir string, olderThan time.Duration) {
	if olderThan <= 0 {
		return
	}
	removed, err := helpers.CleanStaleTempDirs(dir, spillers.NamespacePrefix, olderThan, time.Now())
	for _, path := range removed {
		logctx.FromContext(ctx).Info("Removed stale run directory", slog.String("path", path))
	}
	if err != nil {
		logctx.FromContext(ctx).Warn("Failed to clean stale run directories", slog.String("dir", dir), slog.Any("error", err))
	}
}
