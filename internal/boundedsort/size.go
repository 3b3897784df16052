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
	"encoding/json"
	"time"

	"github.com/cardinalhq/boundedsort/pipeline"
	"github.com/cardinalhq/boundedsort/pipeline/wkk"
)

// RecordOverhead is charged per buffered record on top of its content:
// the Record struct, its heap slot and the row map header.
const RecordOverhead = 96

// EstimateRowSize does a rough calculation of a row's in-memory size
// based on its content.
func EstimateRowSize(row pipeline.Row) int64 {
	size := int64(RecordOverhead)
	for key, value := range row {
		// Key overhead (map entry + interned name)
		size += int64(len(wkk.RowKeyValue(key))) + 16
		size += estimateValueSize(value)
	}
	return size
}

func estimateValueSize(value any) int64 {
	switch v := value.(type) {
	case nil:
		return 1
	case bool:
		return 1
	case int, int32, int64:
		return 8
	case float32:
		return 4
	case float64:
		return 8
	case string:
		return int64(len(v)) + 16
	case []byte:
		return int64(len(v)) + 24
	case time.Time:
		return 24
	case []string:
		size := int64(24)
		for _, s := range v {
			size += int64(len(s)) + 16
		}
		return size
	case []int64:
		return int64(len(v))*8 + 24
	case []float64:
		return int64(len(v))*8 + 24
	case []any:
		size := int64(24)
		for _, elem := range v {
			size += estimateValueSize(elem) + 16
		}
		return size
	case map[string]any:
		size := int64(48)
		for k, elem := range v {
			size += int64(len(k)) + 16 + estimateValueSize(elem)
		}
		return size
	default:
		// For anything else, use JSON marshaling as a rough estimate
		if data, err := json.Marshal(v); err == nil {
			return int64(len(data)) + 16
		}
		return 20
	}
}
