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

package helpers

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBoolEnv(t *testing.T) {
	const envVar = "BOUNDEDSORT_TEST_BOOL_ENV"

	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		expected     bool
	}{
		{"true lowercase", "true", false, true},
		{"one", "1", false, true},
		{"yes uppercase", "YES", false, true},
		{"enabled", "enabled", false, true},
		{"false", "false", true, false},
		{"zero", "0", true, false},
		{"off", "off", true, false},
		{"empty uses default true", "", true, true},
		{"empty uses default false", "", false, false},
		{"whitespace uses default", "   ", true, true},
		{"unknown is true", "sure", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(envVar, tt.envValue)
			assert.Equal(t, tt.expected, GetBoolEnv(envVar, tt.defaultValue))
		})
	}
}

func TestDiskUsage(t *testing.T) {
	usage, err := DiskUsage(t.TempDir())
	require.NoError(t, err)
	assert.Positive(t, usage.TotalBytes)
	assert.LessOrEqual(t, usage.FreeBytes, usage.TotalBytes)

	free, err := DiskFreeBytes(t.TempDir())
	require.NoError(t, err)
	assert.LessOrEqual(t, free, usage.TotalBytes)

	_, err = DiskUsage(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestCleanStaleTempDirs(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	stale := filepath.Join(dir, "boundedsort-old")
	fresh := filepath.Join(dir, "boundedsort-new")
	other := filepath.Join(dir, "unrelated-old")
	for _, p := range []string{stale, fresh, other} {
		require.NoError(t, os.Mkdir(p, 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(stale, "run-000001.bsr"), []byte("x"), 0o644))
	old := now.Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.Chtimes(other, old, old))

	removed, err := CleanStaleTempDirs(dir, "boundedsort-", time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, []string{stale}, removed)

	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)
	assert.DirExists(t, other)
}

func TestCleanStaleTempDirs_MissingDir(t *testing.T) {
	removed, err := CleanStaleTempDirs(filepath.Join(t.TempDir(), "nope"), "boundedsort-", time.Hour, time.Now())
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestAnyEnvSet(t *testing.T) {
	t.Setenv("BOUNDEDSORT_TEST_A", "")
	t.Setenv("BOUNDEDSORT_TEST_B", "1")
	assert.True(t, AnyEnvSet("BOUNDEDSORT_TEST_A", "BOUNDEDSORT_TEST_B"))
	assert.False(t, AnyEnvSet("BOUNDEDSORT_TEST_A"))
}
