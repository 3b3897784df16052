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

package rowcodec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/cardinalhq/boundedsort/pipeline"
	"github.com/cardinalhq/boundedsort/pipeline/wkk"
)

// SpillCodec provides a compact binary encoding for rows written to sort
// runs. The format is process-local: field names are replaced by ids from a
// process-level RowKey dictionary, so a run can only be read back by the
// process that wrote it. Runs never outlive their operator, which makes this
// acceptable.
//
// SpillCodec is NOT safe for concurrent use. Each operator owns its own
// instance; the key dictionary is shared and guarded by a mutex.
type SpillCodec struct {
	varintBuf [binary.MaxVarintLen64]byte
	scalarBuf [9]byte
	cw        countingWriter
	br        byteReader
}

// Type tags. Values outside this set are rejected by EncodeRowTo.
const (
	tagNil byte = iota + 1
	tagFalse
	tagTrue
	tagInt
	tagInt32
	tagInt64
	tagFloat32
	tagFloat64
	tagString
	tagBytes
	tagTime
	tagStringSlice
	tagInt64Slice
	tagFloat64Slice
	tagAnySlice
	tagMap
)

// maxNesting bounds recursion through []any and map[string]any values.
const maxNesting = 32

var (
	keyMu   sync.RWMutex
	keyToID = make(map[wkk.RowKey]uint32)
	idToKey = make([]wkk.RowKey, 0, 256)
)

// ErrUnsupportedType is returned when a row holds a value the codec cannot encode.
var ErrUnsupportedType = errors.New("rowcodec: unsupported value type")

// NewSpillCodec returns a SpillCodec instance.
func NewSpillCodec() *SpillCodec {
	return &SpillCodec{}
}

// EncodeRowTo writes row to w and returns the number of bytes written.
func (c *SpillCodec) EncodeRowTo(w io.Writer, row pipeline.Row) (int, error) {
	c.cw.w = w
	c.cw.n = 0
	defer func() { c.cw.w = nil }()

	if err := c.writeUvarint(uint64(len(row))); err != nil {
		return c.cw.n, err
	}
	for key, value := range row {
		binary.LittleEndian.PutUint32(c.scalarBuf[:4], ensureKeyID(key))
		if err := c.write(c.scalarBuf[:4]); err != nil {
			return c.cw.n, err
		}
		if err := c.writeValue(value, 0); err != nil {
			return c.cw.n, fmt.Errorf("field %q: %w", wkk.RowKeyValue(key), err)
		}
	}
	return c.cw.n, nil
}

// DecodeRowFrom reads one encoded row from r into dst, clearing dst first.
func (c *SpillCodec) DecodeRowFrom(r io.Reader, dst pipeline.Row) error {
	clear(dst)
	c.br.r = r
	defer func() { c.br.r = nil }()

	fieldCount, err := binary.ReadUvarint(&c.br)
	if err != nil {
		return fmt.Errorf("read field count: %w", err)
	}

	var zeroKey wkk.RowKey
	for i := uint64(0); i < fieldCount; i++ {
		if _, err := io.ReadFull(r, c.scalarBuf[:4]); err != nil {
			return fmt.Errorf("read key id: %w", err)
		}
		keyID := binary.LittleEndian.Uint32(c.scalarBuf[:4])
		key := lookupKey(keyID)
		if key == zeroKey {
			return fmt.Errorf("unknown key id %d", keyID)
		}
		v, err := c.readValue(r, 0)
		if err != nil {
			return fmt.Errorf("field %q: %w", wkk.RowKeyValue(key), err)
		}
		dst[key] = v
	}
	return nil
}

func (c *SpillCodec) writeValue(value any, depth int) error {
	if depth > maxNesting {
		return fmt.Errorf("value nested deeper than %d levels", maxNesting)
	}
	switch v := value.(type) {
	case nil:
		return c.writeTag(tagNil)
	case bool:
		if v {
			return c.writeTag(tagTrue)
		}
		return c.writeTag(tagFalse)
	case int:
		return c.writeFixed(tagInt, uint64(v), 8)
	case int32:
		return c.writeFixed(tagInt32, uint64(uint32(v)), 4)
	case int64:
		return c.writeFixed(tagInt64, uint64(v), 8)
	case float32:
		return c.writeFixed(tagFloat32, uint64(math.Float32bits(v)), 4)
	case float64:
		return c.writeFixed(tagFloat64, math.Float64bits(v), 8)
	case string:
		return c.writeString(tagString, v)
	case []byte:
		if err := c.writeTag(tagBytes); err != nil {
			return err
		}
		return c.writeLenPrefixed(v)
	case time.Time:
		return c.writeFixed(tagTime, uint64(v.UnixNano()), 8)
	case []string:
		if err := c.writeTag(tagStringSlice); err != nil {
			return err
		}
		if err := c.writeUvarint(uint64(len(v))); err != nil {
			return err
		}
		for _, s := range v {
			if err := c.writeLenPrefixed([]byte(s)); err != nil {
				return err
			}
		}
		return nil
	case []int64:
		if err := c.writeTag(tagInt64Slice); err != nil {
			return err
		}
		if err := c.writeUvarint(uint64(len(v))); err != nil {
			return err
		}
		for _, n := range v {
			binary.LittleEndian.PutUint64(c.scalarBuf[:8], uint64(n))
			if err := c.write(c.scalarBuf[:8]); err != nil {
				return err
			}
		}
		return nil
	case []float64:
		if err := c.writeTag(tagFloat64Slice); err != nil {
			return err
		}
		if err := c.writeUvarint(uint64(len(v))); err != nil {
			return err
		}
		for _, f := range v {
			binary.LittleEndian.PutUint64(c.scalarBuf[:8], math.Float64bits(f))
			if err := c.write(c.scalarBuf[:8]); err != nil {
				return err
			}
		}
		return nil
	case []any:
		if err := c.writeTag(tagAnySlice); err != nil {
			return err
		}
		if err := c.writeUvarint(uint64(len(v))); err != nil {
			return err
		}
		for _, elem := range v {
			if err := c.writeValue(elem, depth+1); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		if err := c.writeTag(tagMap); err != nil {
			return err
		}
		if err := c.writeUvarint(uint64(len(v))); err != nil {
			return err
		}
		for k, elem := range v {
			if err := c.writeLenPrefixed([]byte(k)); err != nil {
				return err
			}
			if err := c.writeValue(elem, depth+1); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

func (c *SpillCodec) readValue(r io.Reader, depth int) (any, error) {
	if depth > maxNesting {
		return nil, fmt.Errorf("value nested deeper than %d levels", maxNesting)
	}
	tag, err := c.br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read type tag: %w", err)
	}

	switch tag {
	case tagNil:
		return nil, nil
	case tagFalse:
		return false, nil
	case tagTrue:
		return true, nil
	case tagInt:
		v, err := c.readFixed(r, 8)
		return int(int64(v)), err
	case tagInt32:
		v, err := c.readFixed(r, 4)
		return int32(uint32(v)), err
	case tagInt64:
		v, err := c.readFixed(r, 8)
		return int64(v), err
	case tagFloat32:
		v, err := c.readFixed(r, 4)
		return math.Float32frombits(uint32(v)), err
	case tagFloat64:
		v, err := c.readFixed(r, 8)
		return math.Float64frombits(v), err
	case tagString:
		b, err := c.readLenPrefixed(r)
		return string(b), err
	case tagBytes:
		return c.readLenPrefixed(r)
	case tagTime:
		v, err := c.readFixed(r, 8)
		return time.Unix(0, int64(v)).UTC(), err
	case tagStringSlice:
		n, err := binary.ReadUvarint(&c.br)
		if err != nil {
			return nil, err
		}
		out := make([]string, n)
		for i := range out {
			b, err := c.readLenPrefixed(r)
			if err != nil {
				return nil, err
			}
			out[i] = string(b)
		}
		return out, nil
	case tagInt64Slice:
		n, err := binary.ReadUvarint(&c.br)
		if err != nil {
			return nil, err
		}
		out := make([]int64, n)
		for i := range out {
			v, err := c.readFixed(r, 8)
			if err != nil {
				return nil, err
			}
			out[i] = int64(v)
		}
		return out, nil
	case tagFloat64Slice:
		n, err := binary.ReadUvarint(&c.br)
		if err != nil {
			return nil, err
		}
		out := make([]float64, n)
		for i := range out {
			v, err := c.readFixed(r, 8)
			if err != nil {
				return nil, err
			}
			out[i] = math.Float64frombits(v)
		}
		return out, nil
	case tagAnySlice:
		n, err := binary.ReadUvarint(&c.br)
		if err != nil {
			return nil, err
		}
		out := make([]any, n)
		for i := range out {
			if out[i], err = c.readValue(r, depth+1); err != nil {
				return nil, err
			}
		}
		return out, nil
	case tagMap:
		n, err := binary.ReadUvarint(&c.br)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, n)
		for range n {
			k, err := c.readLenPrefixed(r)
			if err != nil {
				return nil, err
			}
			if out[string(k)], err = c.readValue(r, depth+1); err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown type tag %d", tag)
	}
}

func (c *SpillCodec) write(p []byte) error {
	_, err := c.cw.Write(p)
	return err
}

func (c *SpillCodec) writeTag(tag byte) error {
	c.scalarBuf[0] = tag
	return c.write(c.scalarBuf[:1])
}

func (c *SpillCodec) writeUvarint(v uint64) error {
	n := binary.PutUvarint(c.varintBuf[:], v)
	return c.write(c.varintBuf[:n])
}

func (c *SpillCodec) writeFixed(tag byte, v uint64, width int) error {
	c.scalarBuf[0] = tag
	switch width {
	case 4:
		binary.LittleEndian.PutUint32(c.scalarBuf[1:5], uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(c.scalarBuf[1:9], v)
	default:
		return fmt.Errorf("invalid scalar width %d", width)
	}
	return c.write(c.scalarBuf[:1+width])
}

func (c *SpillCodec) writeString(tag byte, s string) error {
	if err := c.writeTag(tag); err != nil {
		return err
	}
	if err := c.writeUvarint(uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(&c.cw, s)
	return err
}

func (c *SpillCodec) writeLenPrefixed(b []byte) error {
	if err := c.writeUvarint(uint64(len(b))); err != nil {
		return err
	}
	return c.write(b)
}

func (c *SpillCodec) readFixed(r io.Reader, width int) (uint64, error) {
	if _, err := io.ReadFull(r, c.scalarBuf[:width]); err != nil {
		return 0, err
	}
	if width == 4 {
		return uint64(binary.LittleEndian.Uint32(c.scalarBuf[:4])), nil
	}
	return binary.LittleEndian.Uint64(c.scalarBuf[:8]), nil
}

func (c *SpillCodec) readLenPrefixed(r io.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(&c.br)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func ensureKeyID(key wkk.RowKey) uint32 {
	keyMu.RLock()
	id, ok := keyToID[key]
	keyMu.RUnlock()
	if ok {
		return id
	}

	keyMu.Lock()
	defer keyMu.Unlock()
	if id, ok := keyToID[key]; ok {
		return id
	}
	if len(idToKey) >= math.MaxUint32 {
		panic("spill key dictionary overflow: too many unique keys")
	}
	id = uint32(len(idToKey))
	keyToID[key] = id
	idToKey = append(idToKey, key)
	return id
}

func lookupKey(id uint32) wkk.RowKey {
	keyMu.RLock()
	defer keyMu.RUnlock()
	if int(id) >= len(idToKey) {
		var zero wkk.RowKey
		return zero
	}
	return idToKey[id]
}

type countingWriter struct {
	w io.Writer
	n int
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += n
	return n, err
}

// byteReader wraps an io.Reader to satisfy io.ByteReader without allocations.
type byteReader struct {
	r   io.Reader
	buf [1]byte
}

func (br *byteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(br.r, br.buf[:]); err != nil {
		return 0, err
	}
	return br.buf[0], nil
}
