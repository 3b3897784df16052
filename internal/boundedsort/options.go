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

package boundedsort

import (
	"os"

	"github.com/cardinalhq/boundedsort/internal/helpers"
	"github.com/cardinalhq/boundedsort/internal/spillers"
	"github.com/cardinalhq/boundedsort/pipeline"
)

// SizeFunc estimates the in-memory size of a row in bytes.
type SizeFunc func(row pipeline.Row) int64

// Options configures a Sorter.
type Options struct {
	// MemoryLimitBytes caps the estimated bytes held in the reorder buffer.
	// Required.
	MemoryLimitBytes int64

	// AllowDiskUse lets the Sorter spill to TempDir instead of failing with
	// ErrResourceExceededNoSpill.
	AllowDiskUse bool

	// OutputLimit stops output after that many records. Zero means no limit.
	OutputLimit int64

	// KeyFunc extracts the sort key. Required.
	KeyFunc KeyFunc

	// SizeFunc defaults to EstimateRowSize.
	SizeFunc SizeFunc

	Direction Direction

	// TempDir is the shared parent of every Sorter's run directory.
	// Defaults to os.TempDir().
	TempDir string

	// Codec and Compression select the run file format.
	// They default to spillers.CodecBinary and spillers.CompressionNone.
	Codec       spillers.Codec
	Compression spillers.Compression

	// MinFreeDiskBytes, when non-zero, fails a spill if the temp filesystem
	// has less free space than this.
	MinFreeDiskBytes uint64

	// FreeSpace and CreateRunFile override filesystem access for runs.
	// Tests use them to simulate a full or failing disk.
	FreeSpace     helpers.FreeSpaceFunc
	CreateRunFile spillers.FileCreator
}

// Validate checks the options and returns a *ConfigError for the first
// problem found.
func (o *Options) Validate() error {
	if o.MemoryLimitBytes <= 0 {
		return &ConfigError{Field: "MemoryLimitBytes", Message: "must be greater than zero"}
	}
	if o.OutputLimit < 0 {
		return &ConfigError{Field: "OutputLimit", Message: "cannot be negative"}
	}
	if o.KeyFunc == nil {
		return &ConfigError{Field: "KeyFunc", Message: "is required"}
	}
	if o.Direction != Ascending && o.Direction != Descending {
		return &ConfigError{Field: "Direction", Message: "must be Ascending or Descending"}
	}
	switch o.Codec {
	case "", spillers.CodecBinary, spillers.CodecCBOR:
	default:
		return &ConfigError{Field: "Codec", Message: "must be binary or cbor, got " + string(o.Codec)}
	}
	switch o.Compression {
	case "", spillers.CompressionNone, spillers.CompressionZstd:
	default:
		return &ConfigError{Field: "Compression", Message: "must be none or zstd, got " + string(o.Compression)}
	}
	if o.TempDir != "" {
		info, err := os.Stat(o.TempDir)
		if err != nil {
			return &ConfigError{Field: "TempDir", Message: "is not accessible: " + err.Error()}
		}
		if !info.IsDir() {
			return &ConfigError{Field: "TempDir", Message: "is not a directory"}
		}
	}
	return nil
}

func (o Options) withDefaults() Options {
	if o.SizeFunc == nil {
		o.SizeFunc = EstimateRowSize
	}
	if o.TempDir == "" {
		o.TempDir = os.TempDir()
	}
	if o.Codec == "" {
		o.Codec = spillers.CodecBinary
	}
	if o.Compression == "" {
		o.Compression = spillers.CompressionNone
	}
	return o
}
