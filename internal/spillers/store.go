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

package spillers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/boundedsort/internal/helpers"
	"github.com/cardinalhq/boundedsort/internal/idgen"
)

// NamespacePrefix prefixes every Store directory name.
const NamespacePrefix = "boundedsort-"

var (
	// ErrInsufficientDisk is returned when free space on the run filesystem
	// is below the configured minimum.
	ErrInsufficientDisk = errors.New("spillers: insufficient free disk space")

	// ErrStoreClosed is returned by operations on a closed Store.
	ErrStoreClosed = errors.New("spillers: store closed")
)

// Options configures a Store.
type Options struct {
	// TempDir is the shared parent directory. Defaults to os.TempDir().
	TempDir string

	Codec       Codec
	Compression Compression

	// MinFreeBytes, when non-zero, makes WriteRun fail with
	// ErrInsufficientDisk if the filesystem has less free space.
	MinFreeBytes uint64

	// FreeSpace defaults to helpers.DiskFreeBytes.
	FreeSpace helpers.FreeSpaceFunc

	// Create defaults to exclusive creation of a 0600 file.
	Create FileCreator
}

// Store is one sort operator's private run storage. It is not safe for
// concurrent use; each operator owns exactly one.
type Store struct {
	opts Options
	id   string
	dir  string

	nextRun      int
	dirCreated   bool
	live         mapset.Set[string]
	bytesWritten int64
	closed       bool
}

// NewStore validates opts and returns a Store. The namespace directory is
// created lazily by the first WriteRun, so an operator that never spills
// never touches the filesystem.
func NewStore(opts Options) (*Store, error) {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.Codec == "" {
		opts.Codec = CodecBinary
	}
	if opts.Compression == "" {
		opts.Compression = CompressionNone
	}
	if _, err := codecByte(opts.Codec); err != nil {
		return nil, err
	}
	if _, err := compressionByte(opts.Compression); err != nil {
		return nil, err
	}
	if opts.FreeSpace == nil {
		opts.FreeSpace = helpers.DiskFreeBytes
	}
	if opts.Create == nil {
		opts.Create = createExclusive
	}

	id := idgen.NewOperatorID()
	return &Store{
		opts: opts,
		id:   id,
		dir:  filepath.Join(opts.TempDir, NamespacePrefix+id),
		live: mapset.NewThreadUnsafeSet[string](),
	}, nil
}

func createExclusive(path string) (io.WriteCloser, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
}

// ID returns the operator id naming this Store's directory.
func (s *Store) ID() string { return s.id }

// Dir returns the namespace directory. It may not exist yet.
func (s *Store) Dir() string { return s.dir }

// LiveRuns returns the number of runs written and not yet removed.
func (s *Store) LiveRuns() int { return s.live.Cardinality() }

// BytesWritten returns the total size of all runs this Store has written.
func (s *Store) BytesWritten() int64 { return s.bytesWritten }

// ensureDir creates the namespace directory exactly once. An existing
// directory is an error: two operators must never share one.
func (s *Store) ensureDir() error {
	if s.dirCreated {
		return nil
	}
	if err := os.Mkdir(s.dir, 0o700); err != nil {
		return err
	}
	s.dirCreated = true
	return nil
}

// WriteRun writes entries, already in output order, to a new run file.
// On any failure the partial file is removed and no Run is returned.
func (s *Store) WriteRun(ctx context.Context, entries []Entry) (*Run, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	if err := s.ensureDir(); err != nil {
		return nil, fmt.Errorf("failed to create run directory %s: %w", s.dir, err)
	}
	if s.opts.MinFreeBytes > 0 {
		free, err := s.opts.FreeSpace(s.dir)
		if err != nil {
			return nil, fmt.Errorf("failed to check free space in %s: %w", s.dir, err)
		}
		if free < s.opts.MinFreeBytes {
			return nil, fmt.Errorf("%w: %d bytes free in %s, need %d", ErrInsufficientDisk, free, s.dir, s.opts.MinFreeBytes)
		}
	}

	s.nextRun++
	run := &Run{
		ID:          s.nextRun,
		Path:        filepath.Join(s.dir, fmt.Sprintf("run-%06d.bsr", s.nextRun)),
		Codec:       s.opts.Codec,
		Compression: s.opts.Compression,
	}

	file, err := s.opts.Create(run.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create run file: %w", err)
	}

	if err := s.writeEntries(ctx, file, run, entries); err != nil {
		_ = file.Close()
		_ = os.Remove(run.Path)
		return nil, err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(run.Path)
		return nil, fmt.Errorf("failed to close run file %s: %w", run.Path, err)
	}

	s.live.Add(run.Path)
	s.bytesWritten += run.Bytes
	return run, nil
}

func (s *Store) writeEntries(ctx context.Context, file io.WriteCloser, run *Run, entries []Entry) error {
	w, err := newRunWriter(file, s.opts.Codec, s.opts.Compression)
	if err != nil {
		return fmt.Errorf("failed to start run %s: %w", run.Path, err)
	}
	for i, e := range entries {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := w.Write(e); err != nil {
			return fmt.Errorf("failed to write run %s: %w", run.Path, err)
		}
	}
	if err := w.Finish(); err != nil {
		return fmt.Errorf("failed to flush run %s: %w", run.Path, err)
	}
	run.Count = int64(w.count)
	run.Bytes = w.written
	return nil
}

// OpenRun opens a run for sequential reading.
func (s *Store) OpenRun(run *Run) (*RunReader, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	if !s.live.Contains(run.Path) {
		return nil, fmt.Errorf("run %s does not belong to store %s", run.Path, s.id)
	}
	r, err := openRunReader(run)
	if err != nil {
		return nil, fmt.Errorf("failed to open run %s: %w", run.Path, err)
	}
	return r, nil
}

// RemoveRun deletes a run file. Removing an already removed run is a no-op.
func (s *Store) RemoveRun(run *Run) error {
	if !s.live.Contains(run.Path) {
		return nil
	}
	s.live.Remove(run.Path)
	if err := os.Remove(run.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove run %s: %w", run.Path, err)
	}
	return nil
}

// Close removes every live run and the namespace directory. It is safe
// to call more than once.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var result *multierror.Error
	for _, path := range s.live.ToSlice() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			result = multierror.Append(result, fmt.Errorf("failed to remove run %s: %w", path, err))
		}
	}
	s.live.Clear()

	if s.dirCreated {
		if err := os.RemoveAll(s.dir); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to remove run directory %s: %w", s.dir, err))
		}
	}
	return result.ErrorOrNil()
}
