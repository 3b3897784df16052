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

// OutputEmitter counts emitted records against the output limit.
type OutputEmitter struct {
	limit   int64
	emitted int64
}

// NewOutputEmitter returns an emitter for limit records; zero means unlimited.
func NewOutputEmitter(limit int64) *OutputEmitter {
	return &OutputEmitter{limit: limit}
}

// Done reports whether the limit has been reached.
func (e *OutputEmitter) Done() bool {
	return e.limit > 0 && e.emitted >= e.limit
}

// Admit counts one record. It returns false, without counting, once the
// limit has been reached.
func (e *OutputEmitter) Admit() bool {
	if e.Done() {
		return false
	}
	e.emitted++
	return true
}

func (e *OutputEmitter) Emitted() int64 {
	return e.emitted
}

// Remaining returns how many more records may be emitted, or -1 when unlimited.
func (e *OutputEmitter) Remaining() int64 {
	if e.limit == 0 {
		return -1
	}
	return max(e.limit-e.emitted, 0)
}
