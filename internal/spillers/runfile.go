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

package spillers

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/cardinalhq/boundedsort/pipeline"
)

const (
	runMagic   = "BSRT"
	runVersion = 1

	headerLen = len(runMagic) + 3

	// Frames larger than this are treated as corruption.
	maxFrameLen = 1 << 30

	fileBufferSize = 64 * 1024
)

var (
	// ErrCorruptRun is returned when a run file does not match its trailer
	// or is otherwise malformed.
	ErrCorruptRun = errors.New("spillers: corrupt run file")
)

func codecByte(c Codec) (byte, error) {
	switch c {
	case CodecBinary, "":
		return 1, nil
	case CodecCBOR:
		return 2, nil
	default:
		return 0, fmt.Errorf("unknown run codec %q", c)
	}
}

func codecFromByte(b byte) (Codec, error) {
	switch b {
	case 1:
		return CodecBinary, nil
	case 2:
		return CodecCBOR, nil
	default:
		return "", fmt.Errorf("%w: unknown codec id %d", ErrCorruptRun, b)
	}
}

func compressionByte(c Compression) (byte, error) {
	switch c {
	case CompressionNone, "":
		return 0, nil
	case CompressionZstd:
		return 1, nil
	default:
		return 0, fmt.Errorf("unknown run compression %q", c)
	}
}

func compressionFromByte(b byte) (Compression, error) {
	switch b {
	case 0:
		return CompressionNone, nil
	case 1:
		return CompressionZstd, nil
	default:
		return "", fmt.Errorf("%w: unknown compression id %d", ErrCorruptRun, b)
	}
}

// runWriter writes one run file front to back.
type runWriter struct {
	buf   *bufio.Writer
	zw    *zstd.Encoder
	body  io.Writer
	codec RowCodec

	frame   bytes.Buffer
	scratch [binary.MaxVarintLen64]byte
	digest  *xxhash.Digest
	count   uint64
	written int64
}

func newRunWriter(file io.Writer, codec Codec, compression Compression) (*runWriter, error) {
	cb, err := codecByte(codec)
	if err != nil {
		return nil, err
	}
	zb, err := compressionByte(compression)
	if err != nil {
		return nil, err
	}
	rowCodec, err := NewRowCodec(codec)
	if err != nil {
		return nil, err
	}

	w := &runWriter{
		codec:  rowCodec,
		digest: xxhash.New(),
	}
	w.buf = bufio.NewWriterSize(&countWriter{w: file, n: &w.written}, fileBufferSize)

	header := make([]byte, 0, headerLen)
	header = append(header, runMagic...)
	header = append(header, runVersion, cb, zb)
	if _, err := w.buf.Write(header); err != nil {
		return nil, err
	}

	w.body = w.buf
	if compression == CompressionZstd {
		zw, err := zstd.NewWriter(w.buf, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		w.zw = zw
		w.body = zw
	}
	return w, nil
}

// Write appends one entry as a frame.
func (w *runWriter) Write(e Entry) error {
	w.frame.Reset()
	n := binary.PutUvarint(w.scratch[:], e.Seq)
	w.frame.Write(w.scratch[:n])
	if err := w.codec.AppendRow(&w.frame, e.Row); err != nil {
		return fmt.Errorf("failed to encode row seq %d: %w", e.Seq, err)
	}

	payload := w.frame.Bytes()
	n = binary.PutUvarint(w.scratch[:], uint64(len(payload)))
	if _, err := w.body.Write(w.scratch[:n]); err != nil {
		return err
	}
	if _, err := w.body.Write(payload); err != nil {
		return err
	}
	_, _ = w.digest.Write(payload)
	w.count++
	return nil
}

// Finish writes the trailer and flushes everything to the file.
// The file itself is left open; Close closes it.
func (w *runWriter) Finish() error {
	var trailer [1 + 16]byte
	trailer[0] = 0
	binary.LittleEndian.PutUint64(trailer[1:9], w.count)
	binary.LittleEndian.PutUint64(trailer[9:17], w.digest.Sum64())
	if _, err := w.body.Write(trailer[:]); err != nil {
		return err
	}
	if w.zw != nil {
		if err := w.zw.Close(); err != nil {
			return fmt.Errorf("failed to close zstd stream: %w", err)
		}
	}
	return w.buf.Flush()
}

type countWriter struct {
	w io.Writer
	n *int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	*c.n += int64(n)
	return n, err
}

// RunReader reads a run file's entries in the order they were written.
// It verifies the trailer's count and checksum when the last entry has been read.
type RunReader struct {
	run   *Run
	file  *os.File
	zr    *zstd.Decoder
	body  *bufio.Reader
	codec RowCodec

	payload []byte
	digest  *xxhash.Digest
	count   uint64
	done    bool
}

func openRunReader(run *Run) (*RunReader, error) {
	file, err := os.Open(run.Path)
	if err != nil {
		return nil, err
	}

	r, err := newRunReader(run, file)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return r, nil
}

func newRunReader(run *Run, file *os.File) (*RunReader, error) {
	br := bufio.NewReaderSize(file, fileBufferSize)

	var header [headerLen]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrCorruptRun, err)
	}
	if string(header[:len(runMagic)]) != runMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorruptRun, header[:len(runMagic)])
	}
	if v := header[len(runMagic)]; v != runVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptRun, v)
	}
	codec, err := codecFromByte(header[len(runMagic)+1])
	if err != nil {
		return nil, err
	}
	compression, err := compressionFromByte(header[len(runMagic)+2])
	if err != nil {
		return nil, err
	}
	rowCodec, err := NewRowCodec(codec)
	if err != nil {
		return nil, err
	}

	r := &RunReader{
		run:    run,
		file:   file,
		body:   br,
		codec:  rowCodec,
		digest: xxhash.New(),
	}
	if compression == CompressionZstd {
		zr, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		r.zr = zr
		r.body = bufio.NewReaderSize(zr, fileBufferSize)
	}
	return r, nil
}

// Run returns the run being read.
func (r *RunReader) Run() *Run {
	return r.run
}

// Next returns the next entry, or io.EOF after the last one once the
// trailer has been verified.
func (r *RunReader) Next() (Entry, error) {
	if r.done {
		return Entry{}, io.EOF
	}

	frameLen, err := binary.ReadUvarint(r.body)
	if err != nil {
		return Entry{}, r.truncated(err)
	}
	if frameLen == 0 {
		if err := r.verifyTrailer(); err != nil {
			return Entry{}, err
		}
		r.done = true
		return Entry{}, io.EOF
	}
	if frameLen > maxFrameLen {
		return Entry{}, fmt.Errorf("%w: frame length %d", ErrCorruptRun, frameLen)
	}

	if cap(r.payload) < int(frameLen) {
		r.payload = make([]byte, frameLen)
	}
	payload := r.payload[:frameLen]
	if _, err := io.ReadFull(r.body, payload); err != nil {
		return Entry{}, r.truncated(err)
	}
	_, _ = r.digest.Write(payload)

	seq, n := binary.Uvarint(payload)
	if n <= 0 {
		return Entry{}, fmt.Errorf("%w: bad sequence number", ErrCorruptRun)
	}
	row := make(pipeline.Row)
	if err := r.codec.DecodeRow(payload[n:], row); err != nil {
		return Entry{}, fmt.Errorf("%w: decode row seq %d: %v", ErrCorruptRun, seq, err)
	}
	r.count++
	return Entry{Seq: seq, Row: row}, nil
}

func (r *RunReader) verifyTrailer() error {
	var trailer [16]byte
	if _, err := io.ReadFull(r.body, trailer[:]); err != nil {
		return r.truncated(err)
	}
	count := binary.LittleEndian.Uint64(trailer[0:8])
	sum := binary.LittleEndian.Uint64(trailer[8:16])
	if count != r.count {
		return fmt.Errorf("%w: trailer count %d, read %d", ErrCorruptRun, count, r.count)
	}
	if sum != r.digest.Sum64() {
		return fmt.Errorf("%w: checksum mismatch", ErrCorruptRun)
	}
	return nil
}

func (r *RunReader) truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated after %d entries", ErrCorruptRun, r.count)
	}
	return err
}

// Close releases the reader's file handle. It does not remove the run.
func (r *RunReader) Close() error {
	if r.zr != nil {
		r.zr.Close()
		r.zr = nil
	}
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
