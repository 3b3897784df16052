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

// Package cbor provides the CBOR encoding used by the cbor run codec.
//
// CBOR Type Behavior:
//   - All integers (int, int32, int64) decode as int64
//   - float32 decodes as float64
//   - time.Time is written as a tagged RFC 3339 string and decodes as a UTC time.Time
//   - []T slices decode as []any, except pure []float64 which is restored
//   - Maps decode directly as map[string]any (configured via DefaultMapType)
//   - string, bool, []byte, nil are preserved exactly
//
// Runs written with this codec therefore do not preserve Go types exactly;
// the binary codec in pipeline/rowcodec does.
package cbor

import (
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/cardinalhq/boundedsort/pipeline"
)

// Config holds CBOR encoder and decoder modes tuned for row data.
type Config struct {
	encMode cbor.EncMode
	decMode cbor.DecMode
}

// NewConfig creates a CBOR configuration for row data.
func NewConfig() (*Config, error) {
	encMode, err := cbor.EncOptions{
		Sort:          cbor.SortNone,
		ShortestFloat: cbor.ShortestFloatNone,
		BigIntConvert: cbor.BigIntConvertNone,
		Time:          cbor.TimeRFC3339Nano,
		TimeTag:       cbor.EncTagRequired,
	}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR encoder: %w", err)
	}

	decMode, err := cbor.DecOptions{
		BigIntDec:      cbor.BigIntDecodeValue,
		IntDec:         cbor.IntDecConvertSigned,
		DefaultMapType: reflect.TypeOf(map[string]any{}),
		UTF8:           cbor.UTF8DecodeInvalid,
		TimeTagToAny:   cbor.TimeTagToTime,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR decoder: %w", err)
	}

	return &Config{
		encMode: encMode,
		decMode: decMode,
	}, nil
}

// NewEncoder creates a streaming CBOR encoder.
func (c *Config) NewEncoder(w io.Writer) *cbor.Encoder {
	return c.encMode.NewEncoder(w)
}

// NewDecoder creates a streaming CBOR decoder.
func (c *Config) NewDecoder(r io.Reader) *cbor.Decoder {
	return c.decMode.NewDecoder(r)
}

// EncodeRow encodes a Row to CBOR bytes using plain string keys.
func (c *Config) EncodeRow(row pipeline.Row) ([]byte, error) {
	return c.encMode.Marshal(pipeline.ToStringMap(row))
}

// DecodeRow decodes CBOR bytes into dst, clearing it first.
func (c *Config) DecodeRow(data []byte, dst pipeline.Row) error {
	var raw map[string]any
	if err := c.decMode.Unmarshal(data, &raw); err != nil {
		return err
	}
	clear(dst)
	for k, v := range pipeline.FromStringMap(raw) {
		dst[k] = convertCBORTypes(v)
	}
	return nil
}

// convertCBORTypes restores []float64 from the []any CBOR produces.
func convertCBORTypes(value any) any {
	switch v := value.(type) {
	case []any:
		if len(v) == 0 {
			return []any{}
		}
		allFloat64 := true
		for _, elem := range v {
			if _, ok := elem.(float64); !ok {
				allFloat64 = false
				break
			}
		}
		if allFloat64 {
			result := make([]float64, len(v))
			for i, elem := range v {
				result[i] = elem.(float64)
			}
			return result
		}
		result := make([]any, len(v))
		for i, elem := range v {
			result[i] = convertCBORTypes(elem)
		}
		return result

	case map[string]any:
		result := make(map[string]any, len(v))
		for k, elem := range v {
			result[k] = convertCBORTypes(elem)
		}
		return result

	default:
		return v
	}
}
