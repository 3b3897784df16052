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

// Package boundedsort implements a streaming sort operator for input that is
// only approximately ordered.
//
// Upstream delivers rows in batches, each carrying a lower bound: a promise
// that no row arriving later has a smaller sort key. The operator buffers
// rows in a reorder heap and emits a row as soon as its key is at or below
// the bound, so output starts flowing long before input ends. Memory use is
// capped by Options.MemoryLimitBytes. When the cap would be exceeded the
// buffer is spilled to a sorted run on disk if Options.AllowDiskUse is set,
// and the operator fails with ErrResourceExceededNoSpill otherwise. Spilled
// runs are merged back with the live buffer by a k-way merge.
//
// A Sorter is driven from a single goroutine. Independent Sorters may run
// concurrently and share a temp directory; each keeps its runs in a private
// subdirectory.
package boundedsort
