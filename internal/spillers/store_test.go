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
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/boundedsort/pipeline"
	"github.com/cardinalhq/boundedsort/pipeline/wkk"
)

func testEntries(n int) []Entry {
	entries := make([]Entry, n)
	for i := range entries {
		entries[i] = Entry{
			Seq: uint64(i * 3),
			Row: pipeline.Row{
				wkk.RowKeyTime:       int64(1000 + i),
				wkk.NewRowKey("msg"): strings.Repeat("x", i%7),
				wkk.NewRowKey("val"): float64(i) / 4,
			},
		}
	}
	return entries
}

func readAll(t *testing.T, s *Store, run *Run) []Entry {
	t.Helper()
	r, err := s.OpenRun(run)
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	var out []Entry
	for {
		e, err := r.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, e)
	}
}

func TestStore_RoundTrip(t *testing.T) {
	tests := []struct {
		name        string
		codec       Codec
		compression Compression
	}{
		{"binary", CodecBinary, CompressionNone},
		{"binary zstd", CodecBinary, CompressionZstd},
		{"cbor", CodecCBOR, CompressionNone},
		{"cbor zstd", CodecCBOR, CompressionZstd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStore(Options{TempDir: t.TempDir(), Codec: tt.codec, Compression: tt.compression})
			require.NoError(t, err)
			defer s.Close()

			entries := testEntries(500)
			run, err := s.WriteRun(context.Background(), entries)
			require.NoError(t, err)
			assert.Equal(t, int64(500), run.Count)
			assert.Equal(t, 1, run.ID)
			assert.Equal(t, tt.codec, run.Codec)
			assert.Equal(t, tt.compression, run.Compression)

			info, err := os.Stat(run.Path)
			require.NoError(t, err)
			assert.Equal(t, info.Size(), run.Bytes)
			assert.Equal(t, run.Bytes, s.BytesWritten())

			got := readAll(t, s, run)
			require.Len(t, got, len(entries))
			for i := range entries {
				assert.Equal(t, entries[i].Seq, got[i].Seq)
				assert.Equal(t, entries[i].Row, got[i].Row)
			}
		})
	}
}

func TestStore_EmptyRun(t *testing.T) {
	s, err := NewStore(Options{TempDir: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()

	run, err := s.WriteRun(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), run.Count)
	assert.Empty(t, readAll(t, s, run))
}

func TestStore_NamespaceLifecycle(t *testing.T) {
	tmp := t.TempDir()

	a, err := NewStore(Options{TempDir: tmp})
	require.NoError(t, err)
	b, err := NewStore(Options{TempDir: tmp})
	require.NoError(t, err)

	assert.NotEqual(t, a.Dir(), b.Dir())
	assert.True(t, strings.HasPrefix(filepath.Base(a.Dir()), NamespacePrefix))

	// Nothing is created until the first spill.
	_, err = os.Stat(a.Dir())
	assert.True(t, os.IsNotExist(err))

	ctx := context.Background()
	run1, err := a.WriteRun(ctx, testEntries(10))
	require.NoError(t, err)
	run2, err := a.WriteRun(ctx, testEntries(10))
	require.NoError(t, err)
	_, err = b.WriteRun(ctx, testEntries(10))
	require.NoError(t, err)

	assert.Equal(t, "run-000001.bsr", filepath.Base(run1.Path))
	assert.Equal(t, "run-000002.bsr", filepath.Base(run2.Path))
	assert.Equal(t, 2, a.LiveRuns())
	assert.Equal(t, 1, b.LiveRuns())

	// A store refuses runs it does not own.
	_, err = b.OpenRun(run1)
	assert.Error(t, err)

	require.NoError(t, a.RemoveRun(run1))
	require.NoError(t, a.RemoveRun(run1))
	assert.Equal(t, 1, a.LiveRuns())
	_, err = os.Stat(run1.Path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	_, err = os.Stat(a.Dir())
	assert.True(t, os.IsNotExist(err))

	_, err = a.WriteRun(ctx, testEntries(1))
	assert.ErrorIs(t, err, ErrStoreClosed)

	require.NoError(t, b.Close())
	left, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestStore_CloseWithoutSpillLeavesNothing(t *testing.T) {
	tmp := t.TempDir()
	s, err := NewStore(Options{TempDir: tmp})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	left, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, left)
}

// failingFile writes through to a real file until its budget is spent.
type failingFile struct {
	f      *os.File
	budget int
}

var errDiskFull = errors.New("no space left on device")

func (ff *failingFile) Write(p []byte) (int, error) {
	if len(p) > ff.budget {
		n, _ := ff.f.Write(p[:ff.budget])
		ff.budget = 0
		return n, errDiskFull
	}
	ff.budget -= len(p)
	return ff.f.Write(p)
}

func (ff *failingFile) Close() error { return ff.f.Close() }

func TestStore_WriteFailureRemovesPartialRun(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionZstd} {
		t.Run(string(compression), func(t *testing.T) {
			var created string
			s, err := NewStore(Options{
				TempDir:     t.TempDir(),
				Compression: compression,
				Create: func(path string) (io.WriteCloser, error) {
					created = path
					f, err := createExclusive(path)
					if err != nil {
						return nil, err
					}
					return &failingFile{f: f.(*os.File), budget: 100}, nil
				},
			})
			require.NoError(t, err)
			defer s.Close()

			_, err = s.WriteRun(context.Background(), testEntries(5000))
			require.Error(t, err)
			assert.ErrorIs(t, err, errDiskFull)

			require.NotEmpty(t, created)
			_, statErr := os.Stat(created)
			assert.True(t, os.IsNotExist(statErr))
			assert.Equal(t, 0, s.LiveRuns())
		})
	}
}

// closeCountingFile records how often the store closes a run file.
type closeCountingFile struct {
	io.Writer
	f      *os.File
	closes int
}

func (c *closeCountingFile) Close() error {
	c.closes++
	return c.f.Close()
}

func TestStore_WriteRunClosesFileOnce(t *testing.T) {
	var files []*closeCountingFile
	s, err := NewStore(Options{
		TempDir:     t.TempDir(),
		Compression: CompressionZstd,
		Create: func(path string) (io.WriteCloser, error) {
			f, err := createExclusive(path)
			if err != nil {
				return nil, err
			}
			cf := &closeCountingFile{Writer: f, f: f.(*os.File)}
			files = append(files, cf)
			return cf, nil
		},
	})
	require.NoError(t, err)
	defer s.Close()

	run, err := s.WriteRun(context.Background(), testEntries(100))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, 1, files[0].closes)

	r, err := s.OpenRun(run)
	require.NoError(t, err)
	defer r.Close()
	var n int
	for {
		_, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 100, n)
}

func TestStore_MinFreeBytes(t *testing.T) {
	s, err := NewStore(Options{
		TempDir:      t.TempDir(),
		MinFreeBytes: 1 << 20,
		FreeSpace:    func(string) (uint64, error) { return 4096, nil },
	})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.WriteRun(context.Background(), testEntries(3))
	assert.ErrorIs(t, err, ErrInsufficientDisk)
	assert.Equal(t, 0, s.LiveRuns())

	// The directory survives a refused spill and later spills reuse it.
	s.opts.FreeSpace = func(string) (uint64, error) { return 1 << 30, nil }
	run, err := s.WriteRun(context.Background(), testEntries(3))
	require.NoError(t, err)
	assert.Equal(t, int64(3), run.Count)
}

func TestStore_WriteHonorsCancellation(t *testing.T) {
	s, err := NewStore(Options{TempDir: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.WriteRun(ctx, testEntries(10))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.LiveRuns())
}

func TestRunReader_DetectsCorruption(t *testing.T) {
	entries := []Entry{
		{Seq: 1, Row: pipeline.Row{wkk.NewRowKey("s"): "aaaaaaaaaaaaaaaa"}},
		{Seq: 2, Row: pipeline.Row{wkk.NewRowKey("s"): "cccccccccccccccc"}},
	}

	t.Run("flipped byte", func(t *testing.T) {
		s, err := NewStore(Options{TempDir: t.TempDir()})
		require.NoError(t, err)
		defer s.Close()
		run, err := s.WriteRun(context.Background(), entries)
		require.NoError(t, err)

		data, err := os.ReadFile(run.Path)
		require.NoError(t, err)
		idx := bytes.Index(data, []byte("aaaa"))
		require.Positive(t, idx)
		data[idx] = 'b'
		require.NoError(t, os.WriteFile(run.Path, data, 0o600))

		r, err := s.OpenRun(run)
		require.NoError(t, err)
		defer r.Close()
		for {
			_, err = r.Next()
			if err != nil {
				break
			}
		}
		assert.ErrorIs(t, err, ErrCorruptRun)
	})

	t.Run("truncated", func(t *testing.T) {
		s, err := NewStore(Options{TempDir: t.TempDir()})
		require.NoError(t, err)
		defer s.Close()
		run, err := s.WriteRun(context.Background(), entries)
		require.NoError(t, err)
		require.NoError(t, os.Truncate(run.Path, run.Bytes-5))

		r, err := s.OpenRun(run)
		require.NoError(t, err)
		defer r.Close()
		for {
			_, err = r.Next()
			if err != nil {
				break
			}
		}
		assert.ErrorIs(t, err, ErrCorruptRun)
	})

	t.Run("bad magic", func(t *testing.T) {
		s, err := NewStore(Options{TempDir: t.TempDir()})
		require.NoError(t, err)
		defer s.Close()
		run, err := s.WriteRun(context.Background(), entries)
		require.NoError(t, err)

		data, err := os.ReadFile(run.Path)
		require.NoError(t, err)
		copy(data, "XXXX")
		require.NoError(t, os.WriteFile(run.Path, data, 0o600))

		_, err = s.OpenRun(run)
		assert.ErrorIs(t, err, ErrCorruptRun)
	})
}

func TestNewStore_RejectsUnknownFormats(t *testing.T) {
	_, err := NewStore(Options{TempDir: t.TempDir(), Codec: "gob"})
	assert.Error(t, err)
	_, err = NewStore(Options{TempDir: t.TempDir(), Compression: "lz4"})
	assert.Error(t, err)
}
