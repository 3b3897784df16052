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
	"context"
	"io"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/cardinalhq/boundedsort/internal/boundedsort"
	"github.com/cardinalhq/boundedsort/pipeline"
	"github.com/cardinalhq/boundedsort/pipeline/wkk"
)

// TimeSeriesConfig describes a synthetic time series workload.
type TimeSeriesConfig struct {
	Batches      int
	DocsPerBatch int

	// Start is the timestamp of the first document. Defaults to 2024-01-01 UTC.
	Start time.Time

	// Interval separates consecutive documents. Defaults to one second.
	Interval time.Duration

	// PayloadBytes pads each document with a string of that length.
	PayloadBytes int

	// Descending generates time running backwards, each bound being the
	// batch maximum.
	Descending bool

	Seed uint64
}

// TimeSeriesGenerator yields Batches batches of DocsPerBatch documents
// with a "t" timestamp and an "_id" counter. Timestamps increase across
// batches but are shuffled within each batch, and every batch carries its
// minimum timestamp as the bound.
type TimeSeriesGenerator struct {
	cfg   TimeSeriesConfig
	rng   *rand.Rand
	batch int
}

func NewTimeSeriesGenerator(cfg TimeSeriesConfig) *TimeSeriesGenerator {
	if cfg.Start.IsZero() {
		cfg.Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Second
	}
	return &TimeSeriesGenerator{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
}

// Total returns the number of documents the generator produces.
func (g *TimeSeriesGenerator) Total() int {
	return g.cfg.Batches * g.cfg.DocsPerBatch
}

func (g *TimeSeriesGenerator) Next(ctx context.Context) (*boundedsort.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.batch >= g.cfg.Batches {
		return nil, io.EOF
	}

	step := g.cfg.Interval
	if g.cfg.Descending {
		step = -step
	}
	var payload string
	if g.cfg.PayloadBytes > 0 {
		payload = strings.Repeat("x", g.cfg.PayloadBytes)
	}

	base := g.batch * g.cfg.DocsPerBatch
	rows := make([]pipeline.Row, g.cfg.DocsPerBatch)
	for i := range rows {
		id := base + i
		row := pipeline.Row{
			wkk.RowKeyTime: g.cfg.Start.Add(time.Duration(id) * step),
			wkk.RowKeyID:   int64(id),
		}
		if payload != "" {
			row[wkk.RowKeyMeta] = payload
		}
		rows[i] = row
	}
	g.rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })

	g.batch++
	return &boundedsort.Batch{
		Rows:  rows,
		Bound: boundedsort.TimeKey(g.cfg.Start.Add(time.Duration(base) * step)),
	}, nil
}

func (g *TimeSeriesGenerator) Close() error {
	return nil
}
