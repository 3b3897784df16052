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

// Package source provides BatchSource implementations that feed a
// boundedsort.Sorter: fixed slices, JSON lines streams, sources that derive
// their bound from batch contents, and a synthetic time series workload.
package source

import (
	"context"
	"io"

	"github.com/cardinalhq/boundedsort/internal/boundedsort"
)

// SliceSource replays a fixed list of batches.
type SliceSource struct {
	batches []*boundedsort.Batch
	pos     int
	closed  bool
}

func NewSliceSource(batches ...*boundedsort.Batch) *SliceSource {
	return &SliceSource{batches: batches}
}

func (s *SliceSource) Next(ctx context.Context) (*boundedsort.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed || s.pos >= len(s.batches) {
		return nil, io.EOF
	}
	b := s.batches[s.pos]
	s.pos++
	return b, nil
}

// Reset rewinds the source so it can be replayed.
func (s *SliceSource) Reset() {
	s.pos = 0
	s.closed = false
}

func (s *SliceSource) Close() error {
	s.closed = true
	return nil
}

// ErrorSource returns batches from src and then err instead of io.EOF.
type ErrorSource struct {
	src boundedsort.BatchSource
	err error
}

func NewErrorSource(src boundedsort.BatchSource, err error) *ErrorSource {
	return &ErrorSource{src: src, err: err}
}

func (s *ErrorSource) Next(ctx context.Context) (*boundedsort.Batch, error) {
	b, err := s.src.Next(ctx)
	if err == io.EOF {
		return nil, s.err
	}
	return b, err
}

func (s *ErrorSource) Close() error {
	return s.src.Close()
}
