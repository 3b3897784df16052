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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cardinalhq/boundedsort/config"
	"github.com/cardinalhq/boundedsort/internal/boundedsort"
	"github.com/cardinalhq/boundedsort/internal/logctx"
	"github.com/cardinalhq/boundedsort/internal/source"
)

// streamOptions are the per-invocation settings that are not part of the
// operator configuration.
type streamOptions struct {
	// MinBound derives each batch's bound from its first row, shifted back
	// by MinBoundOffset, instead of reading it from the input.
	MinBound       bool
	MinBoundOffset time.Duration
}

type sortArgs struct {
	input            string
	output           string
	retryWithDiskUse bool
	stream           streamOptions
}

func init() {
	var args sortArgs

	cmd := &cobra.Command{
		Use:   "sort",
		Short: "Sort a JSON lines batch stream",
		Long: `Read batches from --input (default stdin), one JSON object per line of the
form {"bound": <key>, "rows": [<row>, ...]}, and write the sorted rows as JSON
lines to --output (default stdout). Nothing is written when the sort fails.`,
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

			start := time.Now()
			err = runSort(ctx, cfg.Sort, args)
			recordCommandDuration(ctx, "sort", start, err)
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&args.input, "input", "i", "-", "Input file, - for stdin")
	flags.StringVarP(&args.output, "output", "o", "-", "Output file, - for stdout")
	flags.BoolVar(&args.retryWithDiskUse, "retry-with-disk-use", false, "Retry once with disk use allowed if memory runs out (file input only)")
	flags.BoolVar(&args.stream.MinBound, "min-bound", false, "Use each batch's first key as its bound")
	flags.DurationVar(&args.stream.MinBoundOffset, "min-bound-offset", 0, "Shift the derived bound back by this much")
	addSortConfigFlags(flags)

	rootCmd.AddCommand(cmd)
}

// addSortConfigFlags registers flags that override config.SortConfig.
// Only flags set on the command line take effect.
func addSortConfigFlags(flags *pflag.FlagSet) {
	def := config.DefaultSortConfig()
	flags.Int64("memory-limit", def.MemoryLimitBytes, "Memory cap in bytes for buffered rows")
	flags.Bool("allow-disk-use", def.AllowDiskUse, "Spill sorted runs to disk instead of failing when memory runs out")
	flags.Int64("output-limit", def.OutputLimit, "Stop after this many rows, 0 for no limit")
	flags.String("temp-dir", def.TempDir, "Parent directory for run files")
	flags.String("codec", def.Codec, "Run file codec: binary or cbor")
	flags.String("compression", def.Compression, "Run file compression: none or zstd")
	flags.Uint64("min-free-disk", def.MinFreeDiskBytes, "Refuse to spill when fewer bytes are free")
	flags.String("key-field", def.KeyField, "Row field holding the sort key")
	flags.Bool("descending", def.Descending, "Sort in descending order")
}

func applySortFlags(flags *pflag.FlagSet, cfg *config.SortConfig) {
	if flags.Changed("memory-limit") {
		cfg.MemoryLimitBytes, _ = flags.GetInt64("memory-limit")
	}
	if flags.Changed("allow-disk-use") {
		cfg.AllowDiskUse, _ = flags.GetBool("allow-disk-use")
	}
	if flags.Changed("output-limit") {
		cfg.OutputLimit, _ = flags.GetInt64("output-limit")
	}
	if flags.Changed("temp-dir") {
		cfg.TempDir, _ = flags.GetString("temp-dir")
	}
	if flags.Changed("codec") {
		cfg.Codec, _ = flags.GetString("codec")
	}
	if flags.Changed("compression") {
		cfg.Compression, _ = flags.GetString("compression")
	}
	if flags.Changed("min-free-disk") {
		cfg.MinFreeDiskBytes, _ = flags.GetUint64("min-free-disk")
	}
	if flags.Changed("key-field") {
		cfg.KeyField, _ = flags.GetString("key-field")
	}
	if flags.Changed("descending") {
		cfg.Descending, _ = flags.GetBool("descending")
	}
}

func runSort(ctx context.Context, cfg config.SortConfig, args sortArgs) error {
	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	cleanStaleRunDirs(ctx, tempDir, cfg.StaleRunDirAge)
	logDiskUsage(ctx, tempDir)

	staged, err := os.CreateTemp("", "boundedsort-out-*.jsonl")
	if err != nil {
		return fmt.Errorf("failed to create staging file: %w", err)
	}
	defer func() {
		_ = staged.Close()
		_ = os.Remove(staged.Name())
	}()

	stats, err := sortInput(ctx, cfg, args.input, staged, args.stream)
	if errors.Is(err, boundedsort.ErrResourceExceededNoSpill) && args.retryWithDiskUse && args.input != "-" {
		logctx.FromContext(ctx).Warn("Memory limit exceeded, retrying with disk use", slog.Any("error", err))
		if err := resetFile(staged); err != nil {
			return err
		}
		cfg.AllowDiskUse = true
		stats, err = sortInput(ctx, cfg, args.input, staged, args.stream)
	}
	logStats(ctx, stats)
	if err != nil {
		return err
	}

	if _, err := staged.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind staging file: %w", err)
	}
	return publish(staged, args.output)
}

func sortInput(ctx context.Context, cfg config.SortConfig, input string, out io.Writer, opts streamOptions) (boundedsort.Stats, error) {
	in, err := openInput(input)
	if err != nil {
		return boundedsort.Stats{}, err
	}
	return sortStream(ctx, cfg, in, out, opts)
}

// sortStream sorts JSON lines batches from in and writes JSON lines rows
// to out. in is closed before returning.
func sortStream(ctx context.Context, cfg config.SortConfig, in io.ReadCloser, out io.Writer, opts streamOptions) (boundedsort.Stats, error) {
	sortOpts := cfg.Options(nil)

	var src boundedsort.BatchSource = source.NewJSONLinesSource(in)
	if opts.MinBound {
		src = source.NewMinBoundSource(src, sortOpts.KeyFunc, sortOpts.Direction, opts.MinBoundOffset)
	}
	defer func() {
		_ = src.Close()
	}()

	sorter, err := boundedsort.New(sortOpts)
	if err != nil {
		return boundedsort.Stats{}, err
	}

	w := bufio.NewWriter(out)
	err = sorter.Run(ctx, src, func(_ context.Context, rec boundedsort.Record) error {
		b, err := rec.Row.MarshalJSON()
		if err != nil {
			return fmt.Errorf("failed to encode row %d: %w", rec.Seq, err)
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
		return w.WriteByte('\n')
	})
	if err != nil {
		return sorter.Stats(), err
	}
	if err := w.Flush(); err != nil {
		return sorter.Stats(), fmt.Errorf("failed to write output: %w", err)
	}
	return sorter.Stats(), nil
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, nil
}

func resetFile(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate staging file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind staging file: %w", err)
	}
	return nil
}

// publish copies the staged output to its destination.
func publish(staged io.Reader, path string) error {
	if path == "" || path == "-" {
		_, err := io.Copy(os.Stdout, staged)
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if _, err := io.Copy(f, staged); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write output: %w", err)
	}
	return f.Close()
}

func logStats(ctx context.Context, stats boundedsort.Stats) {
	attrs := []any{
		slog.Int64("batchesIn", stats.BatchesIn),
		slog.Int64("recordsIn", stats.RecordsIn),
		slog.Int64("recordsOut", stats.RecordsOut),
		slog.Int64("spills", stats.Spills),
		slog.Int64("spilledBytes", stats.SpilledBytes),
		slog.Int64("peakBufferedBytes", stats.PeakBufferedBytes),
		slog.Int("maxSources", stats.MaxSources),
	}
	if p50, err := stats.RecordSizeQuantile(0.5); err == nil {
		attrs = append(attrs, slog.Float64("recordSizeP50", p50))
	}
	if p99, err := stats.RecordSizeQuantile(0.99); err == nil {
		attrs = append(attrs, slog.Float64("recordSizeP99", p99))
	}
	logctx.FromContext(ctx).Info("Sort finished", attrs...)
}
