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

	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/boundedsort/internal/spillers"
)

// MergeReader performs a k-way merge over every unconsumed run plus the
// live reorder buffer. Run heads sit in a heap; the live buffer's minimum
// is compared against the heap top on every step, so records pushed into
// the buffer between steps are always seen.
type MergeReader struct {
	dir     Direction
	live    *ReorderBuffer
	mem     *MemoryAccountant
	spill   *spillManager
	cursors cursorHeap

	maxSources int
}

func newMergeReader(dir Direction, live *ReorderBuffer, mem *MemoryAccountant, spill *spillManager) *MergeReader {
	return &MergeReader{
		dir:     dir,
		live:    live,
		mem:     mem,
		spill:   spill,
		cursors: cursorHeap{dir: dir},
	}
}

// AddRun opens a newly spilled run and adds it to the merge.
// An empty run is removed immediately.
func (m *MergeReader) AddRun(run *spillers.Run) error {
	c, err := m.spill.open(run)
	if err != nil {
		return err
	}
	ok, err := c.advance()
	if err != nil {
		_ = c.close()
		return err
	}
	if !ok {
		return m.retire(c)
	}
	heap.Push(&m.cursors, c)
	m.observe()
	return nil
}

// observe records the current source count for Stats.
func (m *MergeReader) observe() {
	m.maxSources = max(m.maxSources, m.Len())
}

// Peek returns the next record in output order without consuming it.
func (m *MergeReader) Peek() (Record, bool) {
	liveRec, liveOK := m.live.PeekMin()
	if len(m.cursors.items) == 0 {
		return liveRec, liveOK
	}
	runRec := m.cursors.items[0].head
	if liveOK && before(m.dir, liveRec, runRec) {
		return liveRec, true
	}
	return runRec, true
}

// Next consumes and returns the next record in output order.
func (m *MergeReader) Next() (Record, bool, error) {
	liveRec, liveOK := m.live.PeekMin()
	if len(m.cursors.items) == 0 || liveOK && before(m.dir, liveRec, m.cursors.items[0].head) {
		if !liveOK {
			return Record{}, false, nil
		}
		m.live.PopMin()
		m.mem.Remove(liveRec.Size)
		return liveRec, true, nil
	}

	c := m.cursors.items[0]
	rec := c.head
	ok, err := c.advance()
	if err != nil {
		return Record{}, false, err
	}
	if ok {
		heap.Fix(&m.cursors, 0)
	} else {
		heap.Pop(&m.cursors)
		if err := m.retire(c); err != nil {
			return Record{}, false, err
		}
	}
	return rec, true, nil
}

// retire closes an exhausted cursor and deletes its run.
func (m *MergeReader) retire(c *runCursor) error {
	var result *multierror.Error
	if err := c.close(); err != nil {
		result = multierror.Append(result, &SpillIOError{Op: "close", Path: c.run.Path, Err: err})
	}
	if err := m.spill.remove(c.run); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Len returns the number of sources still holding records.
func (m *MergeReader) Len() int {
	n := len(m.cursors.items)
	if m.live.Len() > 0 {
		n++
	}
	return n
}

// Runs returns the number of runs still being merged.
func (m *MergeReader) Runs() int {
	return len(m.cursors.items)
}

func (m *MergeReader) MaxSources() int {
	return m.maxSources
}

// Close releases every open cursor. Run files are left for the store to remove.
func (m *MergeReader) Close() error {
	var result *multierror.Error
	for _, c := range m.cursors.items {
		if err := c.close(); err != nil {
			result = multierror.Append(result, &SpillIOError{Op: "close", Path: c.run.Path, Err: err})
		}
	}
	m.cursors.items = nil
	return result.ErrorOrNil()
}

type cursorHeap struct {
	dir   Direction
	items []*runCursor
}

func (h *cursorHeap) Len() int { return len(h.items) }
func (h *cursorHeap) Less(i, j int) bool {
	return before(h.dir, h.items[i].head, h.items[j].head)
}
func (h *cursorHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *cursorHeap) Push(x any) {
	h.items = append(h.items, x.(*runCursor))
}

func (h *cursorHeap) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return x
}
