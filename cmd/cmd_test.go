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
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/boundedsort/config"
	"github.com/cardinalhq/boundedsort/internal/boundedsort"
)

const sortInputJSONL = `{"bound": 0, "rows": [{"t": 3, "id": "c"}, {"t": 1, "id": "a"}]}
{"bound": 3, "rows": [{"t": 2, "id": "b"}, {"t": 5, "id": "e"}]}
{"rows": [{"t": 4, "id": "d"}]}
`

const sortedOutputJSONL = `{"id":"a","t":1}
{"id":"b","t":2}
{"id":"c","t":3}
{"id":"d","t":4}
{"id":"e","t":5}
`

func testSortConfig(t *testing.T) config.SortConfig {
	cfg := config.DefaultSortConfig()
	cfg.TempDir = t.TempDir()
	return cfg
}

func TestSortStream(t *testing.T) {
	var out bytes.Buffer
	stats, err := sortStream(context.Background(), testSortConfig(t),
		io.NopCloser(strings.NewReader(sortInputJSONL)), &out, streamOptions{})
	require.NoError(t, err)
	assert.Equal(t, sortedOutputJSONL, out.String())
	assert.Equal(t, int64(5), stats.RecordsIn)
	assert.Equal(t, int64(5), stats.RecordsOut)
	assert.Equal(t, int64(3), stats.BatchesIn)
}

func TestSortStream_DescendingWithLimit(t *testing.T) {
	cfg := testSortConfig(t)
	cfg.Descending = true
	cfg.OutputLimit = 2
	input := `{"bound": 9, "rows": [{"t": 9}, {"t": 10}]}
{"bound": 5, "rows": [{"t": 7}, {"t": 5}]}
`
	var out bytes.Buffer
	_, err := sortStream(context.Background(), cfg, io.NopCloser(strings.NewReader(input)), &out, streamOptions{})
	require.NoError(t, err)
	assert.Equal(t, "{\"t\":10}\n{\"t\":9}\n", out.String())
}

func TestSortStream_MinBound(t *testing.T) {
	// No bounds in the input; each batch's first key stands in.
	input := `{"rows": [{"t": 2}, {"t": 1}]}
{"rows": [{"t": 4}, {"t": 3}]}
`
	var out bytes.Buffer
	_, err := sortStream(context.Background(), testSortConfig(t),
		io.NopCloser(strings.NewReader(input)), &out, streamOptions{MinBound: true})
	require.NoError(t, err)
	assert.Equal(t, "{\"t\":1}\n{\"t\":2}\n{\"t\":3}\n{\"t\":4}\n", out.String())
}

func TestSortStream_NoSpill(t *testing.T) {
	cfg := testSortConfig(t)
	cfg.MemoryLimitBytes = 150

	var out bytes.Buffer
	_, err := sortStream(context.Background(), cfg, io.NopCloser(strings.NewReader(sortInputJSONL)), &out, streamOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boundedsort.ErrResourceExceededNoSpill)
	assert.Equal(t, config.ExitResourceExceededNoSpill, exitCode(err))
}

func TestSortStream_SpillsToDisk(t *testing.T) {
	cfg := testSortConfig(t)
	cfg.MemoryLimitBytes = 150
	cfg.AllowDiskUse = true
	cfg.Compression = "zstd"

	var out bytes.Buffer
	stats, err := sortStream(context.Background(), cfg, io.NopCloser(strings.NewReader(sortInputJSONL)), &out, streamOptions{})
	require.NoError(t, err)
	assert.Equal(t, sortedOutputJSONL, out.String())
	assert.Positive(t, stats.Spills)

	entries, err := os.ReadDir(cfg.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunSort_RetryWithDiskUse(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.jsonl")
	output := filepath.Join(dir, "out.jsonl")
	require.NoError(t, os.WriteFile(input, []byte(sortInputJSONL), 0o600))

	cfg := testSortConfig(t)
	cfg.MemoryLimitBytes = 150

	err := runSort(context.Background(), cfg, sortArgs{input: input, output: output, retryWithDiskUse: true})
	require.NoError(t, err)
	got, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, sortedOutputJSONL, string(got))
}

func TestRunSort_FailureWritesNothing(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.jsonl")
	output := filepath.Join(dir, "out.jsonl")
	// The last batch goes behind the watermark after some rows were final.
	bad := sortInputJSONL + `{"bound": 10, "rows": [{"t": 1}]}` + "\n"
	require.NoError(t, os.WriteFile(input, []byte(bad), 0o600))

	err := runSort(context.Background(), testSortConfig(t), sortArgs{input: input, output: output})
	require.Error(t, err)
	assert.ErrorIs(t, err, boundedsort.ErrBoundMonotonicity)
	assert.NoFileExists(t, output)
}

func TestApplySortFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addSortConfigFlags(flags)
	require.NoError(t, flags.Parse([]string{"--memory-limit=1024", "--allow-disk-use", "--codec=cbor", "--descending"}))

	cfg := config.DefaultSortConfig()
	cfg.KeyField = "timestamp"
	applySortFlags(flags, &cfg)

	assert.Equal(t, int64(1024), cfg.MemoryLimitBytes)
	assert.True(t, cfg.AllowDiskUse)
	assert.Equal(t, "cbor", cfg.Codec)
	assert.True(t, cfg.Descending)
	// Flags left unset keep the configured value.
	assert.Equal(t, "timestamp", cfg.KeyField)
	assert.Equal(t, "none", cfg.Compression)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, config.ExitOK, exitCode(nil))
	assert.Equal(t, config.ExitError, exitCode(errors.New("boom")))
	assert.Equal(t, config.ExitUsage, exitCode(&boundedsort.ConfigError{Field: "KeyFunc", Message: "is required"}))
	assert.Equal(t, config.ExitResourceExceededNoSpill,
		exitCode(&boundedsort.ResourceExceededError{Limit: 10, Buffered: 5, Incoming: 6}))
}

func TestRunBench(t *testing.T) {
	sortCfg := testSortConfig(t)
	sortCfg.MemoryLimitBytes = 8 << 10
	sortCfg.AllowDiskUse = true

	results, err := runBench(context.Background(), sortCfg, config.BenchConfig{
		Instances:    3,
		Batches:      4,
		DocsPerBatch: 50,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i, r.Instance)
		assert.Equal(t, int64(200), r.Records)
	}

	entries, err := os.ReadDir(sortCfg.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunBench_NoInstances(t *testing.T) {
	_, err := runBench(context.Background(), testSortConfig(t), config.BenchConfig{})
	assert.ErrorIs(t, err, boundedsort.ErrConfiguration)
}

func TestPrintVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printVersion(&buf))
	assert.True(t, strings.HasPrefix(buf.String(), "boundedsort "))
}
