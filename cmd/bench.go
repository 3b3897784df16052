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

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/boundedsort/config"
	"github.com/cardinalhq/boundedsort/internal/boundedsort"
	"github.com/cardinalhq/boundedsort/internal/logctx"
	"github.com/cardinalhq/boundedsort/internal/source"
	"github.com/cardinalhq/boundedsort/pipeline/wkk"
)

// benchResult is one instance's outcome.
type benchResult struct {
	Instance int
	Records  int64
	Elapsed  time.Duration
	Stats    boundedsort.Stats
}

func init() {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run concurrent sorts over a synthetic time series and verify the output",
		RunE: func(c *cobra.Command, _ []string) error {
			ctx, doneFx, err := setupTelemetry(serviceName)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			applySortFlags(c.Flags(), &cfg.Sort)
			applyBenchFlags(c, &cfg.Bench)

			start := time.Now()
			results, err := runBench(ctx, cfg.Sort, cfg.Bench)
			recordCommandDuration(ctx, "bench", start, err)
			if err != nil {
				return err
			}
			printBenchResults(results)
			return nil
		},
	}

	def := config.DefaultBenchConfig()
	cmd.Flags().Int("instances", def.Instances, "Number of concurrent sorts")
	cmd.Flags().Int("batches", def.Batches, "Batches per sort")
	cmd.Flags().Int("docs-per-batch", def.DocsPerBatch, "Documents per batch")
	cmd.Flags().Int("payload-bytes", def.PayloadBytes, "Padding added to each document")
	addSortConfigFlags(cmd.Flags())

	rootCmd.AddCommand(cmd)
}

func applyBenchFlags(c *cobra.Command, cfg *config.BenchConfig) {
	flags := c.Flags()
	if flags.Changed("instances") {
		cfg.Instances, _ = flags.GetInt("instances")
	}
	if flags.Changed("batches") {
		cfg.Batches, _ = flags.GetInt("batches")
	}
	if flags.Changed("docs-per-batch") {
		cfg.DocsPerBatch, _ = flags.GetInt("docs-per-batch")
	}
	if flags.Changed("payload-bytes") {
		cfg.PayloadBytes, _ = flags.GetInt("payload-bytes")
	}
}

// runBench sorts one generated series per instance, all sharing the same
// temp directory, and checks each output against a full in-memory sort.
func runBench(ctx context.Context, sortCfg config.SortConfig, benchCfg config.BenchConfig) ([]benchResult, error) {
	if benchCfg.Instances < 1 {
		return nil, &boundedsort.ConfigError{Field: "Instances", Message: "must be at least 1"}
	}
	sortCfg.KeyField = wkk.RowKeyValue(wkk.RowKeyTime)

	results := make([]benchResult, benchCfg.Instances)
	g, gctx := errgroup.WithContext(ctx)
	for i := range benchCfg.Instances {
		g.Go(func() error {
			res, err := benchInstance(logctx.With(gctx, slog.Int("instance", i)), i, sortCfg, benchCfg)
			if err != nil {
				return fmt.Errorf("instance %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func benchInstance(ctx context.Context, instance int, sortCfg config.SortConfig, benchCfg config.BenchConfig) (benchResult, error) {
	genCfg := source.TimeSeriesConfig{
		Batches:      benchCfg.Batches,
		DocsPerBatch: benchCfg.DocsPerBatch,
		PayloadBytes: benchCfg.PayloadBytes,
		Descending:   sortCfg.Descending,
		Seed:         uint64(instance + 1),
	}
	opts := sortCfg.Options(nil)

	want, err := boundedsort.SortAll(ctx, source.NewTimeSeriesGenerator(genCfg), opts.KeyFunc, opts.Direction)
	if err != nil {
		return benchResult{}, fmt.Errorf("reference sort: %w", err)
	}
	if opts.OutputLimit > 0 && int64(len(want)) > opts.OutputLimit {
		want = want[:opts.OutputLimit]
	}

	sorter, err := boundedsort.New(opts)
	if err != nil {
		return benchResult{}, err
	}
	start := time.Now()
	var n int64
	err = sorter.Run(ctx, source.NewTimeSeriesGenerator(genCfg), func(_ context.Context, rec boundedsort.Record) error {
		if n >= int64(len(want)) {
			return fmt.Errorf("unexpected record %d beyond %d expected", n, len(want))
		}
		gotID, _ := rec.Row.GetInt64(wkk.RowKeyID)
		wantID, _ := want[n].Row.GetInt64(wkk.RowKeyID)
		if gotID != wantID {
			return fmt.Errorf("record %d: got _id %d, want %d", n, gotID, wantID)
		}
		n++
		return nil
	})
	if err != nil {
		return benchResult{}, err
	}
	if n != int64(len(want)) {
		return benchResult{}, fmt.Errorf("emitted %d records, want %d", n, len(want))
	}

	return benchResult{
		Instance: instance,
		Records:  n,
		Elapsed:  time.Since(start),
		Stats:    sorter.Stats(),
	}, nil
}

func printBenchResults(results []benchResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "INSTANCE\tRECORDS\tSPILLS\tSPILLED BYTES\tPEAK BUFFERED\tMAX SOURCES\tELAPSED\tRECORDS/S")
	for _, r := range results {
		rate := float64(r.Records) / r.Elapsed.Seconds()
		_, _ = fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\t%s\t%.0f\n",
			r.Instance, r.Records, r.Stats.Spills, r.Stats.SpilledBytes,
			r.Stats.PeakBufferedBytes, r.Stats.MaxSources, r.Elapsed.Round(time.Millisecond), rate)
	}
	_ = w.Flush()
}
