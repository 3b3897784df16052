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

// Package wkk interns row field names ("well known keys") so that rows can use
// cheap comparable handles as map keys.
package wkk

import (
	"unique"
	"unsafe"
)

type rowkey string

type RowKey = unique.Handle[rowkey]

func NewRowKey(s string) RowKey {
	return unique.Make(rowkey(s))
}

func RowKeyValue(rk RowKey) string {
	return string(rk.Value())
}

var (
	// RowKeyTime: "t", the time field of the time-series workloads.
	RowKeyTime = NewRowKey("t")

	// RowKeyMeta: "m", the meta field of the time-series workloads.
	RowKeyMeta = NewRowKey("m")

	// RowKeyID: "_id"
	RowKeyID = NewRowKey("_id")

	// RowKeyTimestamp: "timestamp"
	RowKeyTimestamp = NewRowKey("timestamp")

	// RowKeyVal: "value"
	RowKeyVal = NewRowKey("value")
)

var commonKeys = map[string]RowKey{
	"t":         RowKeyTime,
	"m":         RowKeyMeta,
	"_id":       RowKeyID,
	"timestamp": RowKeyTimestamp,
	"value":     RowKeyVal,
}

// NewRowKeyFromBytes creates a RowKey from bytes without string allocation for common keys.
func NewRowKeyFromBytes(keyBytes []byte) RowKey {
	keyStr := unsafe.String(unsafe.SliceData(keyBytes), len(keyBytes))
	if key, exists := commonKeys[keyStr]; exists {
		return key
	}
	return unique.Make(rowkey(string(keyBytes)))
}
