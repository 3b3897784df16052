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
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/boundedsort/internal/spillers"
	"github.com/cardinalhq/boundedsort/pipeline"
	"github.com/cardinalhq/boundedsort/pipeline/wkk"
)

func TestSortKey_Compare(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		a, b SortKey
		want int
	}{
		{"int less", Int64Key(1), Int64Key(2), -1},
		{"int equal", Int64Key(5), Int64Key(5), 0},
		{"int vs float", Int64Key(2), Float64Key(1.5), 1},
		{"float vs int equal", Float64Key(3), Int64Key(3), 0},
		{"nan sorts first", Float64Key(math.NaN()), Float64Key(-1), -1},
		{"nan before int", Float64Key(math.NaN()), Int64Key(math.MinInt64), -1},
		{"int above 2^53 vs float", Int64Key(1<<53 + 1), Float64Key(1 << 53), 1},
		{"int 2^53 vs float", Int64Key(1 << 53), Float64Key(1 << 53), 0},
		{"negative fraction", Int64Key(-1), Float64Key(-1.5), 1},
		{"float above int range", Float64Key(1e19), Int64Key(math.MaxInt64), 1},
		{"float below int range", Float64Key(-1e19), Int64Key(math.MinInt64), -1},
		{"min int equals float", Int64Key(math.MinInt64), Float64Key(-(1 << 63)), 0},
		{"string", StringKey("a"), StringKey("b"), -1},
		{"time nanos", TimeKey(t0), TimeKey(t0.Add(time.Nanosecond)), -1},
		{"number before string", Int64Key(100), StringKey("0"), -1},
		{"string before time", StringKey("z"), TimeKey(t0), -1},
		{"time after number", TimeKey(t0), Float64Key(1e18), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))
			assert.Equal(t, -tt.want, tt.b.Compare(tt.a))
		})
	}
}

func TestReorderBuffer_MixedNumericKeysAbove2p53(t *testing.T) {
	keys := []SortKey{
		Int64Key(1<<53 + 1),
		Float64Key(1 << 53),
		Int64Key(1 << 53),
		Float64Key(1 << 53),
		Int64Key(1<<53 - 1),
		Int64Key(1<<53 + 1),
	}
	b := NewReorderBuffer(Ascending)
	for i, k := range keys {
		b.Push(Record{Key: k, Seq: uint64(i)})
	}

	var got []uint64
	for _, rec := range b.DrainAll() {
		got = append(got, rec.Seq)
	}
	assert.Equal(t, []uint64{4, 1, 2, 3, 0, 5}, got)
}

func TestDirection_Compare(t *testing.T) {
	assert.Equal(t, -1, Ascending.Compare(Int64Key(1), Int64Key(2)))
	assert.Equal(t, 1, Descending.Compare(Int64Key(1), Int64Key(2)))
	assert.Equal(t, 0, Descending.Compare(Int64Key(2), Int64Key(2)))
	assert.Equal(t, "descending", Descending.String())
}

func TestKeyOf(t *testing.T) {
	t0 := time.Unix(10, 5).UTC()
	for _, tc := range []struct {
		in   any
		want SortKey
	}{
		{int64(3), Int64Key(3)},
		{int(4), Int64Key(4)},
		{int32(5), Int64Key(5)},
		{float32(1.5), Float64Key(1.5)},
		{2.25, Float64Key(2.25)},
		{"s", StringKey("s")},
		{t0, TimeKey(t0)},
		{StringKey("k"), StringKey("k")},
	} {
		got, err := KeyOf(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := KeyOf(nil)
	assert.Error(t, err)
	_, err = KeyOf([]int{1})
	assert.Error(t, err)
}

func TestFieldKey(t *testing.T) {
	kf := FieldKey("t")
	key, err := kf(pipeline.Row{wkk.RowKeyTime: int64(7)})
	require.NoError(t, err)
	assert.Equal(t, Int64Key(7), key)

	_, err = kf(pipeline.Row{})
	assert.ErrorContains(t, err, `no field "t"`)

	_, err = kf(pipeline.Row{wkk.RowKeyTime: true})
	assert.ErrorContains(t, err, "unsupported sort key type bool")
}

func TestBoundTracker(t *testing.T) {
	b := NewBoundTracker(Ascending)
	assert.False(t, b.Set())
	assert.False(t, b.Covers(Int64Key(-1000)))

	require.NoError(t, b.Advance(nil))
	require.NoError(t, b.Advance(Int64Key(5)))
	require.NoError(t, b.Advance(Int64Key(5)))
	require.NoError(t, b.Advance(nil))
	assert.Equal(t, Int64Key(5), b.Current())
	assert.True(t, b.Covers(Int64Key(5)))
	assert.False(t, b.Covers(Int64Key(6)))

	err := b.Advance(Int64Key(4))
	require.ErrorIs(t, err, ErrBoundMonotonicity)
	var bv *BoundViolationError
	require.True(t, errors.As(err, &bv))
	assert.Equal(t, Int64Key(5), bv.Watermark)
	assert.Equal(t, Int64Key(4), bv.Bound)
	assert.Equal(t, Int64Key(5), b.Current())

	require.NoError(t, b.Advance(Int64Key(9)))
	assert.Equal(t, Int64Key(9), b.Current())
}

func TestBoundTracker_Descending(t *testing.T) {
	b := NewBoundTracker(Descending)
	require.NoError(t, b.Advance(Int64Key(10)))
	require.NoError(t, b.Advance(Int64Key(8)))
	assert.True(t, b.Covers(Int64Key(9)))
	assert.False(t, b.Covers(Int64Key(7)))
	assert.ErrorIs(t, b.Advance(Int64Key(9)), ErrBoundMonotonicity)
}

func TestMemoryAccountant(t *testing.T) {
	var m MemoryAccountant
	m.Add(60)
	m.Add(40)
	assert.Equal(t, int64(100), m.Used())
	assert.False(t, m.Exceeds(100))
	assert.True(t, m.Exceeds(99))
	assert.False(t, m.WouldExceed(0, 100))
	assert.True(t, m.WouldExceed(1, 100))

	m.Remove(30)
	assert.Equal(t, int64(70), m.Used())
	m.Remove(500)
	assert.Equal(t, int64(0), m.Used())

	m.Add(10)
	m.Reset()
	assert.Equal(t, int64(0), m.Used())
	assert.Equal(t, int64(100), m.Peak())
}

func TestReorderBuffer(t *testing.T) {
	b := NewReorderBuffer(Ascending)
	_, ok := b.PeekMin()
	assert.False(t, ok)

	for i, k := range []int64{5, 1, 3, 3, 9, 1} {
		b.Push(Record{Key: Int64Key(k), Seq: uint64(i)})
	}
	assert.Equal(t, 6, b.Len())

	head, ok := b.PeekMin()
	require.True(t, ok)
	assert.Equal(t, Int64Key(1), head.Key)
	assert.Equal(t, uint64(1), head.Seq)

	got := b.DrainUpTo(Int64Key(3))
	require.Len(t, got, 4)
	assert.Equal(t, []uint64{1, 5, 2, 3}, seqs(got))
	assert.Equal(t, 2, b.Len())

	assert.Empty(t, b.DrainUpTo(Int64Key(4)))

	rec, ok := b.PopMin()
	require.True(t, ok)
	assert.Equal(t, Int64Key(5), rec.Key)

	rest := b.DrainAll()
	require.Len(t, rest, 1)
	assert.Equal(t, Int64Key(9), rest[0].Key)
	assert.Equal(t, 0, b.Len())
	_, ok = b.PopMin()
	assert.False(t, ok)
}

func TestReorderBuffer_DescendingKeepsArrivalOrderForTies(t *testing.T) {
	b := NewReorderBuffer(Descending)
	for i, k := range []int64{1, 7, 7, 4} {
		b.Push(Record{Key: Int64Key(k), Seq: uint64(i)})
	}
	got := b.DrainAll()
	assert.Equal(t, []uint64{1, 2, 3, 0}, seqs(got))
}

func TestOutputEmitter(t *testing.T) {
	e := NewOutputEmitter(2)
	assert.Equal(t, int64(2), e.Remaining())
	assert.True(t, e.Admit())
	assert.True(t, e.Admit())
	assert.True(t, e.Done())
	assert.False(t, e.Admit())
	assert.Equal(t, int64(2), e.Emitted())
	assert.Equal(t, int64(0), e.Remaining())

	unlimited := NewOutputEmitter(0)
	for range 1000 {
		require.True(t, unlimited.Admit())
	}
	assert.False(t, unlimited.Done())
	assert.Equal(t, int64(-1), unlimited.Remaining())
}

func TestEstimateRowSize(t *testing.T) {
	empty := EstimateRowSize(pipeline.Row{})
	assert.Equal(t, int64(RecordOverhead), empty)

	small := EstimateRowSize(pipeline.Row{wkk.NewRowKey("a"): int64(1)})
	big := EstimateRowSize(pipeline.Row{wkk.NewRowKey("a"): string(make([]byte, 1000))})
	assert.Greater(t, small, empty)
	assert.Greater(t, big-small, int64(900))

	nested := EstimateRowSize(pipeline.Row{
		wkk.NewRowKey("m"): map[string]any{"k": []any{"abc", 1.5}},
		wkk.NewRowKey("o"): struct{ A int }{A: 1},
	})
	assert.Greater(t, nested, empty)
}

func TestOptions_Validate(t *testing.T) {
	kf := FieldKey("t")
	file := t.TempDir() + "/file"
	require.NoError(t, writeEmptyFile(file))

	tests := []struct {
		name  string
		opts  Options
		field string
	}{
		{"zero limit", Options{KeyFunc: kf}, "MemoryLimitBytes"},
		{"negative limit", Options{MemoryLimitBytes: -1, KeyFunc: kf}, "MemoryLimitBytes"},
		{"negative output limit", Options{MemoryLimitBytes: 1, OutputLimit: -1, KeyFunc: kf}, "OutputLimit"},
		{"no key func", Options{MemoryLimitBytes: 1}, "KeyFunc"},
		{"bad direction", Options{MemoryLimitBytes: 1, KeyFunc: kf, Direction: 7}, "Direction"},
		{"bad codec", Options{MemoryLimitBytes: 1, KeyFunc: kf, Codec: "gob"}, "Codec"},
		{"bad compression", Options{MemoryLimitBytes: 1, KeyFunc: kf, Compression: "lz4"}, "Compression"},
		{"missing temp dir", Options{MemoryLimitBytes: 1, KeyFunc: kf, TempDir: "/nonexistent/boundedsort"}, "TempDir"},
		{"temp dir is a file", Options{MemoryLimitBytes: 1, KeyFunc: kf, TempDir: file}, "TempDir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			require.ErrorIs(t, err, ErrConfiguration)
			var ce *ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.field, ce.Field)
		})
	}

	ok := Options{MemoryLimitBytes: 1, KeyFunc: kf, Codec: spillers.CodecCBOR, Compression: spillers.CompressionZstd}
	assert.NoError(t, ok.Validate())
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "resource_exceeded_no_spill", failureReason(&ResourceExceededError{}))
	assert.Equal(t, "spill_io", failureReason(&SpillIOError{Op: "write", Err: errors.New("x")}))
	assert.Equal(t, "bound_monotonicity", failureReason(&BoundViolationError{Watermark: Int64Key(1), Bound: Int64Key(0)}))
	assert.Equal(t, "configuration", failureReason(&ConfigError{Field: "f"}))
	assert.Equal(t, "other", failureReason(errors.New("upstream")))
}

func TestSpillIOError_Unwrap(t *testing.T) {
	inner := errors.New("disk on fire")
	err := &SpillIOError{Op: "write", Path: "/tmp/x", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.ErrorIs(t, err, ErrSpillIO)
	assert.NotErrorIs(t, err, ErrResourceExceededNoSpill)
	assert.Contains(t, err.Error(), "/tmp/x")
}
