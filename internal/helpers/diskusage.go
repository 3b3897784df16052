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
	"golang.org/x/sys/unix"
)

// FSUsage holds the on-disk usage stats for a given filesystem.
type FSUsage struct {
	TotalBytes uint64 // total capacity (in bytes)
	FreeBytes  uint64 // bytes available to non-root users
	UsedBytes  uint64 // bytes currently in use  (TotalBytes - FreeBytes)

	TotalInodes uint64
	FreeInodes  uint64
	UsedInodes  uint64
}

// DiskUsage returns FSUsage for the filesystem that contains 'path'.
func DiskUsage(path string) (FSUsage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return FSUsage{}, err
	}

	totalBytes := st.Blocks * uint64(st.Bsize)
	freeBytes := st.Bavail * uint64(st.Bsize)

	return FSUsage{
		TotalBytes:  totalBytes,
		FreeBytes:   freeBytes,
		UsedBytes:   totalBytes - freeBytes,
		TotalInodes: st.Files,
		FreeInodes:  st.Ffree,
		UsedInodes:  st.Files - st.Ffree,
	}, nil
}

// FreeSpaceFunc reports free bytes for the filesystem holding path.
// DiskFreeBytes is the production implementation; tests substitute their own.
type FreeSpaceFunc func(path string) (uint64, error)

// DiskFreeBytes returns the bytes available to non-root users on the
// filesystem that contains path.
func DiskFreeBytes(path string) (uint64, error) {
	usage, err := DiskUsage(path)
	if err != nil {
		return 0, err
	}
	return usage.FreeBytes, nil
}
