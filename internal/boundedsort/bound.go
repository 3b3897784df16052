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

// BoundTracker holds the watermark: the highest bound seen so far, in
// output order. Every record at or before the watermark is final.
type BoundTracker struct {
	dir     Direction
	current SortKey
}

func NewBoundTracker(dir Direction) *BoundTracker {
	return &BoundTracker{dir: dir}
}

// Advance moves the watermark to bound. A nil bound is a no-op, an equal
// bound is accepted, and a bound before the watermark is rejected with a
// *BoundViolationError leaving the watermark unchanged.
func (b *BoundTracker) Advance(bound SortKey) error {
	if bound == nil {
		return nil
	}
	if b.current != nil && b.dir.Compare(bound, b.current) < 0 {
		return &BoundViolationError{Watermark: b.current, Bound: bound}
	}
	b.current = bound
	return nil
}

// Current returns the watermark, or nil before the first bound.
func (b *BoundTracker) Current() SortKey {
	return b.current
}

func (b *BoundTracker) Set() bool {
	return b.current != nil
}

// Covers reports whether key is at or before the watermark.
func (b *BoundTracker) Covers(key SortKey) bool {
	return b.current != nil && b.dir.Compare(key, b.current) <= 0
}
