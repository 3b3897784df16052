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
	"fmt"

	"github.com/DataDog/sketches-go/ddsketch"
)

const sizeSketchAccuracy = 0.01

// Stats summarizes one Sorter's work.
type Stats struct {
	BatchesIn  int64
	RecordsIn  int64
	RecordsOut int64

	Spills         int64
	SpilledRecords int64
	SpilledBytes   int64
	RunsRemoved    int64

	BufferedBytes     int64
	PeakBufferedBytes int64

	// MaxSources is the largest number of sources merged at once,
	// counting the live buffer as one.
	MaxSources int

	sizes *ddsketch.DDSketch
}

func newStats() Stats {
	sizes, err := ddsketch.NewDefaultDDSketch(sizeSketchAccuracy)
	if err != nil {
		panic(fmt.Errorf("failed to create record size sketch: %w", err))
	}
	return Stats{sizes: sizes}
}

func (s *Stats) observeSize(size int64) {
	if size > 0 {
		_ = s.sizes.Add(float64(size))
	}
}

// RecordSizeQuantile returns the estimated record size at quantile q of
// every record accepted so far.
func (s Stats) RecordSizeQuantile(q float64) (float64, error) {
	if s.sizes == nil || s.sizes.IsEmpty() {
		return 0, fmt.Errorf("no records observed")
	}
	return s.sizes.GetValueAtQuantile(q)
}

func (s Stats) clone() Stats {
	out := s
	if s.sizes != nil {
		out.sizes = s.sizes.Copy()
	}
	return out
}
