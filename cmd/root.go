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
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/boundedsort/config"
	"github.com/cardinalhq/boundedsort/internal/boundedsort"
)

const serviceName = "boundedsort"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "boundedsort",
	Short: "Sort approximately ordered streams in bounded memory",
	Long: `Sort batches of rows that arrive approximately ordered, each batch carrying a
lower bound for every row still to come. Output streams as soon as rows are
final; memory is capped and overflow spills to sorted runs on local disk.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps a command error onto the process exit status. Memory
// exhaustion without disk use gets its own code so scripts can retry with
// --allow-disk-use.
func exitCode(err error) int {
	switch {
	case err == nil:
		return config.ExitOK
	case errors.Is(err, boundedsort.ErrResourceExceededNoSpill):
		return config.ExitResourceExceededNoSpill
	case errors.Is(err, boundedsort.ErrConfiguration):
		return config.ExitUsage
	default:
		return config.ExitError
	}
}
