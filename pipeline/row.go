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

// Package pipeline holds the row representation shared by sources, the sort
// operator and the run codecs.
package pipeline

import (
	"maps"
	"time"

	"github.com/cardinalhq/boundedsort/pipeline/wkk"
)

// Row represents a single record payload as a map of RowKey to any value.
// The sort operator treats a Row as opaque apart from the key extracted from it.
type Row map[wkk.RowKey]any

// CopyRow creates a shallow copy of a row. Slice and map values are shared.
func CopyRow(in Row) Row {
	out := make(Row, len(in))
	maps.Copy(out, in)
	return out
}

// ToStringMap converts a Row to map[string]any for encoders that need plain keys.
func ToStringMap(row Row) map[string]any {
	result := make(map[string]any, len(row))
	for key, value := range row {
		result[wkk.RowKeyValue(key)] = value
	}
	return result
}

// FromStringMap builds a Row from a plain map, interning every key.
func FromStringMap(m map[string]any) Row {
	row := make(Row, len(m))
	for k, v := range m {
		row[wkk.NewRowKey(k)] = v
	}
	return row
}

// GetString retrieves a string value from the Row.
// Returns empty string if the key is not found or the value is not a string.
func (r Row) GetString(key wkk.RowKey) string {
	if val, ok := r[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetInt64 retrieves an integer value from the Row.
// Floats are truncated; JSON decoding produces float64 for every number.
func (r Row) GetInt64(key wkk.RowKey) (int64, bool) {
	if val, ok := r[key]; ok {
		switch v := val.(type) {
		case int64:
			return v, true
		case int:
			return int64(v), true
		case int32:
			return int64(v), true
		case float64:
			return int64(v), true
		}
	}
	return 0, false
}

// GetTime retrieves a time value from the Row. Integer values are read as
// Unix milliseconds, which is how timestamps arrive from JSON input.
func (r Row) GetTime(key wkk.RowKey) (time.Time, bool) {
	val, ok := r[key]
	if !ok {
		return time.Time{}, false
	}
	switch v := val.(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	if ms, ok := r.GetInt64(key); ok {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}
