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

import "time"

const (
	// EnvPrefix prefixes every environment variable read by Load.
	EnvPrefix = "BOUNDEDSORT"

	DefaultMemoryLimitBytes = int64(100 * 1024 * 1024) // 100MB
	DefaultKeyField         = "t"
	DefaultStaleRunDirAge   = time.Hour

	// ProcessTempDirName is created under the system temp dir at startup
	// and used as TMPDIR for the rest of the process.
	ProcessTempDirName = "boundedsort"
)

// Exit codes used by the CLI.
const (
	ExitOK                      = 0
	ExitError                   = 1
	ExitUsage                   = 2
	ExitResourceExceededNoSpill = 3
)
