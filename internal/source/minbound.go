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

package source

import (
	"context"
	"fmt"
	"time"

	"github.com/cardinalhq/boundedsort/internal/boundedsort"
)

// MinBoundSource replaces each upstream batch's bound with the first key
// of the batch in output order, moved back by Offset. This models input
// ordered by the minimum of each bucket, which is the common shape of
// time-bucketed storage. Upstream must deliver batches so that no later
// row sorts before that bound.
//
// Offset moves time keys by the duration and numeric keys by
// Offset.Seconds(). Other keys are used as is. Empty batches carry no bound.
type MinBoundSource struct {
	src     boundedsort.BatchSource
	keyFunc boundedsort.KeyFunc
	dir     boundedsort.Direction
	offset  time.Duration
}

func NewMinBoundSource(src boundedsort.BatchSource, keyFunc boundedsort.KeyFunc, dir boundedsort.Direction, offset time.Duration) *MinBoundSource {
	return &MinBoundSource{src: src, keyFunc: keyFunc, dir: dir, offset: offset}
}

func (s *MinBoundSource) Next(ctx context.Context) (*boundedsort.Batch, error) {
	batch, err := s.src.Next(ctx)
	if err != nil {
		return nil, err
	}

	var first boundedsort.SortKey
	for _, row := range batch.Rows {
		key, err := s.keyFunc(row)
		if err != nil {
			return nil, fmt.Errorf("extract sort key: %w", err)
		}
		if first == nil || s.dir.Compare(key, first) < 0 {
			first = key
		}
	}

	out := &boundedsort.Batch{Rows: batch.Rows}
	if first != nil {
		out.Bound = shiftBack(first, s.offset, s.dir)
	}
	return out, nil
}

func (s *MinBoundSource) Close() error {
	return s.src.Close()
}

// shiftBack moves key earlier in output order by offset.
func shiftBack(key boundedsort.SortKey, offset time.Duration, dir boundedsort.Direction) boundedsort.SortKey {
	if offset == 0 {
		return key
	}
	if dir == boundedsort.Descending {
		offset = -offset
	}
	switch k := key.(type) {
	case boundedsort.TimeKey:
		return boundedsort.TimeKey(time.Time(k).Add(-offset))
	case boundedsort.Int64Key:
		return k - boundedsort.Int64Key(offset/time.Second)
	case boundedsort.Float64Key:
		return k - boundedsort.Float64Key(offset.Seconds())
	default:
		return key
	}
}
