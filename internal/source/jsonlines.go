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

package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/cardinalhq/boundedsort/internal/boundedsort"
	"github.com/cardinalhq/boundedsort/pipeline"
)

// MaxLineSizeBytes caps one JSON line, and therefore one batch.
const MaxLineSizeBytes = 64 * 1024 * 1024

// JSONLinesSource reads one batch per line:
//
//	{"bound": 1700000000, "rows": [{"t": 1700000001, "msg": "a"}, ...]}
//
// A missing or null bound leaves the watermark unchanged.
type JSONLinesSource struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
	closed  bool
}

type jsonBatch struct {
	Bound any            `json:"bound"`
	Rows  []pipeline.Row `json:"rows"`
}

// NewJSONLinesSource reads batches from reader and takes ownership of it.
func NewJSONLinesSource(reader io.ReadCloser) *JSONLinesSource {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSizeBytes)
	return &JSONLinesSource{scanner: scanner, closer: reader}
}

func (s *JSONLinesSource) Next(ctx context.Context) (*boundedsort.Batch, error) {
	if s.closed {
		return nil, io.EOF
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("scanner error reading at line %d: %w", s.line+1, err)
			}
			return nil, io.EOF
		}
		s.line++

		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}

		var jb jsonBatch
		if err := json.Unmarshal([]byte(line), &jb); err != nil {
			return nil, fmt.Errorf("failed to parse batch at line %d: %w", s.line, err)
		}
		batch := &boundedsort.Batch{Rows: jb.Rows}
		if jb.Bound != nil {
			bound, err := boundedsort.KeyOf(jb.Bound)
			if err != nil {
				return nil, fmt.Errorf("bad bound at line %d: %w", s.line, err)
			}
			batch.Bound = bound
		}
		return batch, nil
	}
}

// Line returns the number of lines consumed so far.
func (s *JSONLinesSource) Line() int {
	return s.line
}

func (s *JSONLinesSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
