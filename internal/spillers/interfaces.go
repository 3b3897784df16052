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

// Package spillers stores the sorted runs a sort operator spills to disk.
//
// A Store owns one directory under a shared temp dir, named after a fresh
// operator id, so concurrent operators never see each other's runs. Runs are
// written once, read once front to back, and deleted after they have been
// consumed or when the Store is closed.
package spillers

import (
	"bytes"
	"fmt"
	"io"

	"github.com/cardinalhq/boundedsort/internal/cbor"
	"github.com/cardinalhq/boundedsort/pipeline"
	"github.com/cardinalhq/boundedsort/pipeline/rowcodec"
)

// Entry is one spilled record: its arrival sequence and its payload.
// The sort key is not stored; it is re-extracted from the row on read.
type Entry struct {
	Seq uint64
	Row pipeline.Row
}

// Codec selects the row encoding inside a run file.
type Codec string

const (
	// CodecBinary is the compact process-local encoding from pipeline/rowcodec.
	// It preserves Go value types exactly.
	CodecBinary Codec = "binary"
	// CodecCBOR encodes rows as CBOR maps. Integer and float widths are not preserved.
	CodecCBOR Codec = "cbor"
)

// Compression selects how a run body is compressed.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// Run describes one immutable spilled run.
type Run struct {
	// ID is the run's ordinal within its Store, starting at 1.
	ID int

	// Path is the filesystem path of the run file.
	Path string

	// Count is the number of entries in the run.
	Count int64

	// Bytes is the size of the run file on disk.
	Bytes int64

	Codec       Codec
	Compression Compression
}

// RowCodec encodes rows into frame payloads and back.
type RowCodec interface {
	AppendRow(buf *bytes.Buffer, row pipeline.Row) error
	DecodeRow(data []byte, dst pipeline.Row) error
}

// NewRowCodec returns the RowCodec for c.
func NewRowCodec(c Codec) (RowCodec, error) {
	switch c {
	case CodecBinary, "":
		return &binaryRowCodec{codec: rowcodec.NewSpillCodec()}, nil
	case CodecCBOR:
		config, err := cbor.NewConfig()
		if err != nil {
			return nil, err
		}
		return &cborRowCodec{config: config}, nil
	default:
		return nil, fmt.Errorf("unknown run codec %q", c)
	}
}

type binaryRowCodec struct {
	codec *rowcodec.SpillCodec
	rd    bytes.Reader
}

func (b *binaryRowCodec) AppendRow(buf *bytes.Buffer, row pipeline.Row) error {
	_, err := b.codec.EncodeRowTo(buf, row)
	return err
}

func (b *binaryRowCodec) DecodeRow(data []byte, dst pipeline.Row) error {
	b.rd.Reset(data)
	if err := b.codec.DecodeRowFrom(&b.rd, dst); err != nil {
		return err
	}
	if b.rd.Len() != 0 {
		return fmt.Errorf("%d trailing bytes after row", b.rd.Len())
	}
	return nil
}

type cborRowCodec struct {
	config *cbor.Config
}

func (c *cborRowCodec) AppendRow(buf *bytes.Buffer, row pipeline.Row) error {
	data, err := c.config.EncodeRow(row)
	if err != nil {
		return err
	}
	_, err = buf.Write(data)
	return err
}

func (c *cborRowCodec) DecodeRow(data []byte, dst pipeline.Row) error {
	return c.config.DecodeRow(data, dst)
}

// FileCreator opens a new run file for writing. Store uses exclusive creation
// by default; tests substitute failing writers.
type FileCreator func(path string) (io.WriteCloser, error)
