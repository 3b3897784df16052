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
	"fmt"
	"io"
	"slices"
)

// SortAll buffers every row from src in memory and sorts them stably.
// It has no memory cap and ignores bounds; tests and the bench command use
// it as the ground truth a Sorter's output must match.
func SortAll(ctx context.Context, src BatchSource, keyFunc KeyFunc, dir Direction) ([]Record, error) {
	var all []Record
	var seq uint64
	for {
		batch, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		for _, row := range batch.Rows {
			key, err := keyFunc(row)
			if err != nil {
				return nil, fmt.Errorf("extract sort key: %w", err)
			}
			all = append(all, Record{Row: row, Key: key, Seq: seq})
			seq++
		}
	}

	slices.SortStableFunc(all, func(a, b Record) int {
		return dir.Compare(a.Key, b.Key)
	})
	return all, nil
}

// IsSorted reports whether records are in output order, ties by Seq.
func IsSorted(records []Record, dir Direction) bool {
	for i := 1; i < len(records); i++ {
		if before(dir, records[i], records[i-1]) {
			return false
		}
	}
	return true
}
