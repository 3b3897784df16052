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
	"context"
	"errors"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/boundedsort/internal/logctx"
	"github.com/cardinalhq/boundedsort/internal/spillers"
)

// spillManager turns sorted buffer contents into runs and runs back into
// record cursors.
type spillManager struct {
	store    *spillers.Store
	keyFunc  KeyFunc
	sizeFunc SizeFunc
}

func newSpillManager(opts Options) (*spillManager, error) {
	store, err := spillers.NewStore(spillers.Options{
		TempDir:      opts.TempDir,
		Codec:        opts.Codec,
		Compression:  opts.Compression,
		MinFreeBytes: opts.MinFreeDiskBytes,
		FreeSpace:    opts.FreeSpace,
		Create:       opts.CreateRunFile,
	})
	if err != nil {
		return nil, &ConfigError{Field: "Codec", Message: err.Error()}
	}
	return &spillManager{
		store:    store,
		keyFunc:  opts.KeyFunc,
		sizeFunc: opts.SizeFunc,
	}, nil
}

// spill writes records, already in output order, to a new run.
func (m *spillManager) spill(ctx context.Context, records []Record) (*spillers.Run, error) {
	ctx, span := tracer.Start(ctx, "boundedsort.spill", trace.WithAttributes(
		attribute.Int("records", len(records)),
		attribute.String("dir", m.store.Dir()),
	))
	defer span.End()

	entries := make([]spillers.Entry, len(records))
	for i, rec := range records {
		entries[i] = spillers.Entry{Seq: rec.Seq, Row: rec.Row}
	}

	run, err := m.store.WriteRun(ctx, entries)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "spill failed")
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &SpillIOError{Op: "write", Path: m.store.Dir(), Err: err}
	}

	span.SetAttributes(attribute.Int64("bytes", run.Bytes))
	spillsCounter.Add(ctx, 1)
	spillBytesCounter.Add(ctx, run.Bytes)
	logctx.FromContext(ctx).Debug("Spilled sorted run",
		slog.String("path", run.Path),
		slog.Int64("records", run.Count),
		slog.Int64("bytes", run.Bytes))
	return run, nil
}

func (m *spillManager) open(run *spillers.Run) (*runCursor, error) {
	reader, err := m.store.OpenRun(run)
	if err != nil {
		return nil, &SpillIOError{Op: "open", Path: run.Path, Err: err}
	}
	return &runCursor{run: run, reader: reader, keyFunc: m.keyFunc, sizeFunc: m.sizeFunc}, nil
}

func (m *spillManager) remove(run *spillers.Run) error {
	if err := m.store.RemoveRun(run); err != nil {
		return &SpillIOError{Op: "remove", Path: run.Path, Err: err}
	}
	return nil
}

func (m *spillManager) liveRuns() int {
	return m.store.LiveRuns()
}

func (m *spillManager) close() error {
	if err := m.store.Close(); err != nil {
		return &SpillIOError{Op: "cleanup", Path: m.store.Dir(), Err: err}
	}
	return nil
}

// runCursor exposes the head record of a run being merged.
type runCursor struct {
	run      *spillers.Run
	reader   *spillers.RunReader
	keyFunc  KeyFunc
	sizeFunc SizeFunc
	head     Record
}

// advance loads the next record into head. It returns false once the
// run is exhausted and its trailer verified.
func (c *runCursor) advance() (bool, error) {
	e, err := c.reader.Next()
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, &SpillIOError{Op: "read", Path: c.run.Path, Err: err}
	}
	key, err := c.keyFunc(e.Row)
	if err != nil {
		return false, &SpillIOError{Op: "read", Path: c.run.Path, Err: err}
	}
	c.head = Record{Row: e.Row, Key: key, Seq: e.Seq, Size: c.sizeFunc(e.Row)}
	return true, nil
}

func (c *runCursor) close() error {
	return c.reader.Close()
}
