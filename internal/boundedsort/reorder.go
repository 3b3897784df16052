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
	"container/heap"
)

// ReorderBuffer is a min-heap of records in output order, ties broken by
// arrival sequence.
type ReorderBuffer struct {
	h recordHeap
}

func NewReorderBuffer(dir Direction) *ReorderBuffer {
	return &ReorderBuffer{h: recordHeap{dir: dir}}
}

func (b *ReorderBuffer) Push(rec Record) {
	heap.Push(&b.h, rec)
}

// PeekMin returns the first record in output order without removing it.
func (b *ReorderBuffer) PeekMin() (Record, bool) {
	if len(b.h.items) == 0 {
		return Record{}, false
	}
	return b.h.items[0], true
}

func (b *ReorderBuffer) PopMin() (Record, bool) {
	if len(b.h.items) == 0 {
		return Record{}, false
	}
	return heap.Pop(&b.h).(Record), true
}

// DrainUpTo removes and returns, in output order, every record whose key
// is at or before bound.
func (b *ReorderBuffer) DrainUpTo(bound SortKey) []Record {
	var out []Record
	for len(b.h.items) > 0 {
		if b.h.dir.Compare(b.h.items[0].Key, bound) > 0 {
			break
		}
		out = append(out, heap.Pop(&b.h).(Record))
	}
	return out
}

// DrainAll removes and returns every record in output order.
func (b *ReorderBuffer) DrainAll() []Record {
	out := make([]Record, 0, len(b.h.items))
	for len(b.h.items) > 0 {
		out = append(out, heap.Pop(&b.h).(Record))
	}
	b.h.items = nil
	return out
}

func (b *ReorderBuffer) Len() int {
	return len(b.h.items)
}

type recordHeap struct {
	dir   Direction
	items []Record
}

func (h *recordHeap) Len() int           { return len(h.items) }
func (h *recordHeap) Less(i, j int) bool { return before(h.dir, h.items[i], h.items[j]) }
func (h *recordHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *recordHeap) Push(x any) {
	h.items = append(h.items, x.(Record))
}

func (h *recordHeap) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	old[n-1] = Record{}
	h.items = old[:n-1]
	return x
}
