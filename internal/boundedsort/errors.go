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
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConfiguration matches any *ConfigError.
	ErrConfiguration = errors.New("boundedsort: invalid configuration")

	// ErrResourceExceededNoSpill is returned when buffering a batch would
	// exceed the memory cap and disk use is not allowed. Callers that can
	// replay their input typically retry with AllowDiskUse.
	ErrResourceExceededNoSpill = errors.New("boundedsort: memory limit exceeded and disk use not allowed")

	// ErrSpillIO matches any *SpillIOError.
	ErrSpillIO = errors.New("boundedsort: spill storage failure")

	// ErrBoundMonotonicity matches any *BoundViolationError.
	ErrBoundMonotonicity = errors.New("boundedsort: bound moved backwards")

	// ErrClosed is returned by calls on a Sorter that was closed by its owner.
	ErrClosed = errors.New("boundedsort: sorter closed")

	// ErrNeedInput is returned by Next when no buffered record is final yet.
	ErrNeedInput = errors.New("boundedsort: need more input")
)

// ConfigError represents an options validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "boundedsort config: " + e.Field + " " + e.Message
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfiguration }

// ResourceExceededError carries the numbers behind ErrResourceExceededNoSpill.
type ResourceExceededError struct {
	Limit    int64
	Buffered int64
	Incoming int64
}

func (e *ResourceExceededError) Error() string {
	return fmt.Sprintf("%s: limit %d bytes, buffered %d, incoming batch %d",
		ErrResourceExceededNoSpill.Error(), e.Limit, e.Buffered, e.Incoming)
}

func (e *ResourceExceededError) Is(target error) bool { return target == ErrResourceExceededNoSpill }

// SpillIOError wraps a failure writing, reading or removing run storage.
type SpillIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *SpillIOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("boundedsort: spill %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("boundedsort: spill %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SpillIOError) Unwrap() error { return e.Err }

func (e *SpillIOError) Is(target error) bool { return target == ErrSpillIO }

// BoundViolationError is returned when a batch's bound is below the
// watermark, or when a row arrives with a key the watermark already passed.
type BoundViolationError struct {
	Watermark SortKey
	Bound     SortKey

	// LateRow is set when Bound is the key of a row rather than a batch bound.
	LateRow bool
}

func (e *BoundViolationError) Error() string {
	if e.LateRow {
		return fmt.Sprintf("%s: row key %s arrived behind watermark %s", ErrBoundMonotonicity.Error(), e.Bound, e.Watermark)
	}
	return fmt.Sprintf("%s: watermark %s, new bound %s", ErrBoundMonotonicity.Error(), e.Watermark, e.Bound)
}

func (e *BoundViolationError) Is(target error) bool { return target == ErrBoundMonotonicity }

// failureReason names an error for metrics and logs.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrResourceExceededNoSpill):
		return "resource_exceeded_no_spill"
	case errors.Is(err, ErrSpillIO):
		return "spill_io"
	case errors.Is(err, ErrBoundMonotonicity):
		return "bound_monotonicity"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
