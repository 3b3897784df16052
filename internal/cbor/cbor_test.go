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

package cbor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/boundedsort/pipeline"
	"github.com/cardinalhq/boundedsort/pipeline/wkk"
)

func TestConfig_RowRoundTrip(t *testing.T) {
	config, err := NewConfig()
	require.NoError(t, err)

	row := pipeline.Row{
		wkk.NewRowKey("s"):      "value",
		wkk.NewRowKey("i32"):    int32(7),
		wkk.NewRowKey("f32"):    float32(1.5),
		wkk.NewRowKey("floats"): []float64{1, 2.5},
		wkk.NewRowKey("mixed"):  []any{"a", int64(1)},
		wkk.NewRowKey("nested"): map[string]any{"k": []any{1.5, 2.5}},
		wkk.NewRowKey("nil"):    nil,
		wkk.NewRowKey("bytes"):  []byte{9, 8},
		wkk.RowKeyTime:          time.UnixMicro(1_700_000_000_000_000).UTC(),
	}

	data, err := config.EncodeRow(row)
	require.NoError(t, err)

	decoded := pipeline.Row{wkk.NewRowKey("stale"): true}
	require.NoError(t, config.DecodeRow(data, decoded))

	assert.NotContains(t, decoded, wkk.NewRowKey("stale"))
	assert.Equal(t, "value", decoded[wkk.NewRowKey("s")])
	assert.Equal(t, int64(7), decoded[wkk.NewRowKey("i32")])
	assert.Equal(t, float64(1.5), decoded[wkk.NewRowKey("f32")])
	assert.Equal(t, []float64{1, 2.5}, decoded[wkk.NewRowKey("floats")])
	assert.Equal(t, []any{"a", int64(1)}, decoded[wkk.NewRowKey("mixed")])
	assert.Equal(t, map[string]any{"k": []float64{1.5, 2.5}}, decoded[wkk.NewRowKey("nested")])
	assert.Nil(t, decoded[wkk.NewRowKey("nil")])
	assert.Equal(t, []byte{9, 8}, decoded[wkk.NewRowKey("bytes")])
	assert.Equal(t, time.UnixMicro(1_700_000_000_000_000).UTC(), decoded[wkk.RowKeyTime])
}

func TestConvertCBORTypes_EmptySlice(t *testing.T) {
	assert.Equal(t, []any{}, convertCBORTypes([]any{}))
}
