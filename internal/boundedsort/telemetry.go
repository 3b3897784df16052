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

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	recordsInCounter  otelmetric.Int64Counter
	recordsOutCounter otelmetric.Int64Counter
	spillsCounter     otelmetric.Int64Counter
	spillBytesCounter otelmetric.Int64Counter
	failuresCounter   otelmetric.Int64Counter

	tracer trace.Tracer
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/boundedsort/internal/boundedsort")
	tracer = otel.Tracer("github.com/cardinalhq/boundedsort/internal/boundedsort")

	var err error
	recordsInCounter, err = meter.Int64Counter(
		"boundedsort.records.in",
		otelmetric.WithDescription("Number of records accepted into the reorder buffer"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create records.in counter: %w", err))
	}

	recordsOutCounter, err = meter.Int64Counter(
		"boundedsort.records.out",
		otelmetric.WithDescription("Number of records emitted in sorted order"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create records.out counter: %w", err))
	}

	spillsCounter, err = meter.Int64Counter(
		"boundedsort.spills",
		otelmetric.WithDescription("Number of sorted runs spilled to disk"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create spills counter: %w", err))
	}

	spillBytesCounter, err = meter.Int64Counter(
		"boundedsort.spill.bytes",
		otelmetric.WithDescription("Bytes written to spilled runs"),
		otelmetric.WithUnit("By"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create spill.bytes counter: %w", err))
	}

	failuresCounter, err = meter.Int64Counter(
		"boundedsort.failures",
		otelmetric.WithDescription("Number of sorts that ended in an error"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create failures counter: %w", err))
	}
}
