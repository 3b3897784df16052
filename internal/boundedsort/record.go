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

	"github.com/cardinalhq/boundedsort/pipeline"
)

// Record is one buffered input row.
type Record struct {
	Row pipeline.Row
	Key SortKey

	// Seq is the arrival order within one Sorter, starting at 0.
	// Records with equal keys are emitted in Seq order.
	Seq uint64

	// Size is the estimated in-memory footprint charged against the memory cap.
	Size int64
}

// Batch is a group of rows delivered together with the bound that holds
// after them. A nil Bound leaves the watermark unchanged.
type Batch struct {
	Rows  []pipeline.Row
	Bound SortKey
}

// BatchSource supplies batches. Next returns io.EOF after the last batch.
type BatchSource interface {
	Next(ctx context.Context) (*Batch, error)
	Close() error
}

// EmitFunc receives records in output order.
type EmitFunc func(ctx context.Context, rec Record) error

// ErrStop may be returned by an EmitFunc to end Run early without error.
var ErrStop = errors.New("boundedsort: stop")

// before reports whether a sorts before b in output order.
func before(dir Direction, a, b Record) bool {
	if c := dir.Compare(a.Key, b.Key); c != 0 {
		return c < 0
	}
	return a.Seq < b.Seq
}
