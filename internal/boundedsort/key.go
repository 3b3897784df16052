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
	"cmp"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cardinalhq/boundedsort/pipeline"
	"github.com/cardinalhq/boundedsort/pipeline/wkk"
)

// SortKey is a value with a total order. Compare returns a negative number,
// zero, or a positive number when the receiver sorts before, equal to, or
// after other. Keys of different kinds order by kind: numbers, then strings,
// then times.
type SortKey interface {
	Compare(other SortKey) int
	String() string
}

type Int64Key int64

type Float64Key float64

type StringKey string

// TimeKey orders at nanosecond precision.
type TimeKey time.Time

const (
	rankNumber = iota
	rankString
	rankTime
)

func rank(k SortKey) int {
	switch k.(type) {
	case Int64Key, Float64Key:
		return rankNumber
	case StringKey:
		return rankString
	case TimeKey:
		return rankTime
	default:
		return math.MaxInt
	}
}

func compareRanks(a, b SortKey) int {
	return cmp.Compare(rank(a), rank(b))
}

func (k Int64Key) Compare(other SortKey) int {
	switch o := other.(type) {
	case Int64Key:
		return cmp.Compare(k, o)
	case Float64Key:
		return compareIntFloat(int64(k), float64(o))
	default:
		return compareRanks(k, other)
	}
}

// compareIntFloat compares exactly, without rounding i to a float64.
// NaN sorts before every int, matching cmp.Compare for floats.
func compareIntFloat(i int64, f float64) int {
	switch {
	case math.IsNaN(f):
		return 1
	case f >= 1<<63:
		return -1
	case f < -(1 << 63):
		return 1
	}
	whole := math.Trunc(f)
	if c := cmp.Compare(i, int64(whole)); c != 0 {
		return c
	}
	// Same integer part; the fraction decides.
	return cmp.Compare(whole, f)
}

func (k Int64Key) String() string { return fmt.Sprintf("%d", int64(k)) }

func (k Float64Key) Compare(other SortKey) int {
	switch o := other.(type) {
	case Float64Key:
		return cmp.Compare(k, o)
	case Int64Key:
		return -compareIntFloat(int64(o), float64(k))
	default:
		return compareRanks(k, other)
	}
}

func (k Float64Key) String() string { return fmt.Sprintf("%g", float64(k)) }

func (k StringKey) Compare(other SortKey) int {
	if o, ok := other.(StringKey); ok {
		return strings.Compare(string(k), string(o))
	}
	return compareRanks(k, other)
}

func (k StringKey) String() string { return string(k) }

func (k TimeKey) Compare(other SortKey) int {
	if o, ok := other.(TimeKey); ok {
		return time.Time(k).Compare(time.Time(o))
	}
	return compareRanks(k, other)
}

func (k TimeKey) String() string { return time.Time(k).UTC().Format(time.RFC3339Nano) }

// KeyOf converts a row value into a SortKey.
func KeyOf(v any) (SortKey, error) {
	switch t := v.(type) {
	case int64:
		return Int64Key(t), nil
	case int:
		return Int64Key(t), nil
	case int32:
		return Int64Key(t), nil
	case float64:
		return Float64Key(t), nil
	case float32:
		return Float64Key(t), nil
	case string:
		return StringKey(t), nil
	case time.Time:
		return TimeKey(t), nil
	case SortKey:
		return t, nil
	case nil:
		return nil, fmt.Errorf("nil sort key value")
	default:
		return nil, fmt.Errorf("unsupported sort key type %T", v)
	}
}

// KeyFunc extracts the sort key from a row.
type KeyFunc func(row pipeline.Row) (SortKey, error)

// FieldKey returns a KeyFunc reading the named top-level field.
func FieldKey(field string) KeyFunc {
	rk := wkk.NewRowKey(field)
	return func(row pipeline.Row) (SortKey, error) {
		v, ok := row[rk]
		if !ok {
			return nil, fmt.Errorf("row has no field %q", field)
		}
		key, err := KeyOf(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		return key, nil
	}
}

// Direction is the output order.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "descending"
	}
	return "ascending"
}

// Compare orders two keys in output order.
func (d Direction) Compare(a, b SortKey) int {
	c := a.Compare(b)
	if d == Descending {
		return -c
	}
	return c
}
