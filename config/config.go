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

package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cardinalhq/boundedsort/internal/boundedsort"
	"github.com/cardinalhq/boundedsort/internal/spillers"
)

// Config aggregates configuration for the application.
type Config struct {
	Sort  SortConfig  `mapstructure:"sort"`
	Bench BenchConfig `mapstructure:"bench"`
}

// SortConfig holds the operator settings shared by every command.
type SortConfig struct {
	MemoryLimitBytes int64  `mapstructure:"memory_limit_bytes"`
	AllowDiskUse     bool   `mapstructure:"allow_disk_use"`
	OutputLimit      int64  `mapstructure:"output_limit"`
	TempDir          string `mapstructure:"temp_dir"`
	Codec            string `mapstructure:"codec"`
	Compression      string `mapstructure:"compression"`
	MinFreeDiskBytes uint64 `mapstructure:"min_free_disk_bytes"`
	KeyField         string `mapstructure:"key_field"`
	Descending       bool   `mapstructure:"descending"`

	// StaleRunDirAge is how old an abandoned run directory must be before
	// startup removes it. Zero disables the sweep.
	StaleRunDirAge time.Duration `mapstructure:"stale_run_dir_age"`
}

// BenchConfig describes the synthetic workload for the bench command.
type BenchConfig struct {
	Instances    int `mapstructure:"instances"`
	Batches      int `mapstructure:"batches"`
	DocsPerBatch int `mapstructure:"docs_per_batch"`
	PayloadBytes int `mapstructure:"payload_bytes"`
}

func DefaultSortConfig() SortConfig {
	return SortConfig{
		MemoryLimitBytes: DefaultMemoryLimitBytes,
		Codec:            string(spillers.CodecBinary),
		Compression:      string(spillers.CompressionNone),
		KeyField:         DefaultKeyField,
		StaleRunDirAge:   DefaultStaleRunDirAge,
	}
}

func DefaultBenchConfig() BenchConfig {
	return BenchConfig{
		Instances:    4,
		Batches:      10,
		DocsPerBatch: 1000,
	}
}

// Options converts the config into operator options. A nil keyFunc reads
// KeyField from each row.
func (c SortConfig) Options(keyFunc boundedsort.KeyFunc) boundedsort.Options {
	if keyFunc == nil {
		keyFunc = boundedsort.FieldKey(c.KeyField)
	}
	dir := boundedsort.Ascending
	if c.Descending {
		dir = boundedsort.Descending
	}
	return boundedsort.Options{
		MemoryLimitBytes: c.MemoryLimitBytes,
		AllowDiskUse:     c.AllowDiskUse,
		OutputLimit:      c.OutputLimit,
		KeyFunc:          keyFunc,
		Direction:        dir,
		TempDir:          c.TempDir,
		Codec:            spillers.Codec(c.Codec),
		Compression:      spillers.Compression(c.Compression),
		MinFreeDiskBytes: c.MinFreeDiskBytes,
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "BOUNDEDSORT" and the dot character
// in keys is replaced by an underscore. For example, "sort.allow_disk_use"
// becomes "BOUNDEDSORT_SORT_ALLOW_DISK_USE".
func Load() (*Config, error) {
	cfg := &Config{
		Sort:  DefaultSortConfig(),
		Bench: DefaultBenchConfig(),
	}

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if cfg.Sort.KeyField == "" {
		return nil, fmt.Errorf("sort.key_field cannot be empty")
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
