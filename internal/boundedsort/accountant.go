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

// MemoryAccountant tracks the estimated bytes held by the reorder buffer.
type MemoryAccountant struct {
	used int64
	peak int64
}

func (m *MemoryAccountant) Add(n int64) {
	m.used += n
	if m.used > m.peak {
		m.peak = m.used
	}
}

// Remove subtracts n, clamping at zero.
func (m *MemoryAccountant) Remove(n int64) {
	m.used -= n
	if m.used < 0 {
		m.used = 0
	}
}

// Reset zeroes usage after the buffer has been spilled. Peak is kept.
func (m *MemoryAccountant) Reset() {
	m.used = 0
}

// Exceeds reports whether usage is strictly greater than limit.
func (m *MemoryAccountant) Exceeds(limit int64) bool {
	return m.used > limit
}

// WouldExceed reports whether adding n would put usage over limit.
func (m *MemoryAccountant) WouldExceed(n, limit int64) bool {
	return m.used+n > limit
}

func (m *MemoryAccountant) Used() int64 { return m.used }

func (m *MemoryAccountant) Peak() int64 { return m.peak }
