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
	"io"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/boundedsort/internal/logctx"
)

// State is a Sorter's lifecycle state.
type State int

const (
	Buffering State = iota
	Spilling
	Draining
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Buffering:
		return "buffering"
	case Spilling:
		return "spilling"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Sorter is the bounded sort operator. Feed it with Add, pull final
// records with Next, call Finish at end of input and Close when done.
// Run wraps that loop around a BatchSource.
//
// A Sorter is not safe for concurrent use.
type Sorter struct {
	opts   Options
	logger *slog.Logger

	state State
	err   error

	bound   *BoundTracker
	buffer  *ReorderBuffer
	mem     MemoryAccountant
	spill   *spillManager
	merge   *MergeReader
	emitter *OutputEmitter

	stats   Stats
	nextSeq uint64
}

// New validates opts and returns a Sorter in the Buffering state.
// No storage is touched until the first spill.
func New(opts Options) (*Sorter, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	spill, err := newSpillManager(opts)
	if err != nil {
		return nil, err
	}

	s := &Sorter{
		opts:    opts,
		logger:  slog.Default(),
		bound:   NewBoundTracker(opts.Direction),
		buffer:  NewReorderBuffer(opts.Direction),
		spill:   spill,
		emitter: NewOutputEmitter(opts.OutputLimit),
		stats:   newStats(),
	}
	s.merge = newMergeReader(opts.Direction, s.buffer, &s.mem, spill)
	return s, nil
}

func (s *Sorter) State() State { return s.state }

// Err returns the error that moved the Sorter to Failed, or nil.
func (s *Sorter) Err() error { return s.err }

// Watermark returns the current bound, or nil before the first one.
func (s *Sorter) Watermark() SortKey { return s.bound.Current() }

// Stats returns a snapshot of the Sorter's counters.
func (s *Sorter) Stats() Stats {
	st := s.stats.clone()
	st.BufferedBytes = s.mem.Used()
	st.PeakBufferedBytes = s.mem.Peak()
	st.MaxSources = s.merge.MaxSources()
	st.RunsRemoved = st.Spills - int64(s.spill.liveRuns())
	return st
}

func (s *Sorter) usable() error {
	switch s.state {
	case Failed:
		return s.err
	case Closed:
		return ErrClosed
	}
	return nil
}

// Add accepts one batch. Its bound is applied first, then its rows are
// buffered. If buffering them would exceed MemoryLimitBytes the whole
// buffer is spilled to a new run, or, without AllowDiskUse, the Sorter
// fails with ErrResourceExceededNoSpill and the batch is not buffered.
func (s *Sorter) Add(ctx context.Context, batch *Batch) error {
	if err := s.usable(); err != nil {
		return err
	}
	if s.state == Draining {
		return errors.New("boundedsort: Add called after Finish")
	}
	if err := ctx.Err(); err != nil {
		return s.fail(ctx, err)
	}
	if batch == nil {
		return nil
	}
	s.stats.BatchesIn++

	watermark := s.bound.Current()
	records := make([]Record, 0, len(batch.Rows))
	var incoming int64
	for _, row := range batch.Rows {
		key, err := s.opts.KeyFunc(row)
		if err != nil {
			return s.fail(ctx, fmt.Errorf("extract sort key: %w", err))
		}
		if watermark != nil && s.opts.Direction.Compare(key, watermark) < 0 {
			return s.fail(ctx, &BoundViolationError{Watermark: watermark, Bound: key, LateRow: true})
		}
		size := s.opts.SizeFunc(row)
		records = append(records, Record{Row: row, Key: key, Size: size})
		incoming += size
	}

	if err := s.bound.Advance(batch.Bound); err != nil {
		return s.fail(ctx, err)
	}

	overflow := s.mem.WouldExceed(incoming, s.opts.MemoryLimitBytes)
	if overflow && !s.opts.AllowDiskUse {
		return s.fail(ctx, &ResourceExceededError{
			Limit:    s.opts.MemoryLimitBytes,
			Buffered: s.mem.Used(),
			Incoming: incoming,
		})
	}

	for i := range records {
		records[i].Seq = s.nextSeq
		s.nextSeq++
		s.buffer.Push(records[i])
		s.stats.observeSize(records[i].Size)
	}
	s.mem.Add(incoming)
	s.stats.RecordsIn += int64(len(records))
	recordsInCounter.Add(ctx, int64(len(records)))

	if overflow {
		s.state = Spilling
		if err := s.spillBuffer(ctx); err != nil {
			return s.fail(ctx, err)
		}
		s.state = Buffering
	}
	s.merge.observe()
	return nil
}

func (s *Sorter) spillBuffer(ctx context.Context) error {
	records := s.buffer.DrainAll()
	run, err := s.spill.spill(ctx, records)
	if err != nil {
		return err
	}
	s.mem.Reset()
	s.stats.Spills++
	s.stats.SpilledRecords += run.Count
	s.stats.SpilledBytes += run.Bytes
	return s.merge.AddRun(run)
}

// Next returns the next record in sorted order. While input is still
// arriving it returns ErrNeedInput when no buffered record is at or
// before the watermark. After Finish it drains everything and then
// returns io.EOF. Once OutputLimit records have been returned it
// returns io.EOF.
func (s *Sorter) Next(ctx context.Context) (Record, error) {
	if err := s.usable(); err != nil {
		return Record{}, err
	}
	if s.emitter.Done() {
		return Record{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return Record{}, s.fail(ctx, err)
	}

	if s.state != Draining {
		head, ok := s.merge.Peek()
		if !ok || !s.bound.Covers(head.Key) {
			return Record{}, ErrNeedInput
		}
	}

	rec, ok, err := s.merge.Next()
	if err != nil {
		return Record{}, s.fail(ctx, err)
	}
	if !ok {
		return Record{}, io.EOF
	}
	s.emitter.Admit()
	s.stats.RecordsOut++
	recordsOutCounter.Add(ctx, 1)
	return rec, nil
}

// Finish marks the end of input. Every remaining record becomes final.
func (s *Sorter) Finish(ctx context.Context) error {
	if err := s.usable(); err != nil {
		return err
	}
	s.state = Draining
	return nil
}

// Close releases the buffer and deletes every run along with the Sorter's
// run directory. It is safe to call more than once and after a failure.
func (s *Sorter) Close() error {
	if s.state == Closed || s.state == Failed {
		return nil
	}
	abandoned := s.buffer.Len() > 0 || s.merge.Runs() > 0
	err := s.release()
	s.state = Closed

	st := s.Stats()
	s.logger.Debug("Bounded sort closed",
		slog.Int64("recordsIn", st.RecordsIn),
		slog.Int64("recordsOut", st.RecordsOut),
		slog.Int64("spills", st.Spills),
		slog.Int64("spilledBytes", st.SpilledBytes),
		slog.Int64("peakBufferedBytes", st.PeakBufferedBytes),
		slog.Bool("abandoned", abandoned))
	return err
}

func (s *Sorter) release() error {
	var result *multierror.Error
	if err := s.merge.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.spill.close(); err != nil {
		result = multierror.Append(result, err)
	}
	s.buffer.DrainAll()
	s.mem.Reset()
	return result.ErrorOrNil()
}

// fail moves the Sorter to Failed, removes its runs and returns err unchanged.
func (s *Sorter) fail(ctx context.Context, err error) error {
	if s.state == Failed {
		return s.err
	}
	s.state = Failed
	s.err = err

	reason := failureReason(err)
	failuresCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("reason", reason)))
	s.logger.Warn("Bounded sort failed",
		slog.String("reason", reason),
		slog.Any("error", err))

	if cerr := s.release(); cerr != nil {
		s.logger.Warn("Failed to clean up spilled runs", slog.Any("error", cerr))
	}
	return err
}

// Run drives the Sorter from src until input ends, the output limit is
// reached, emit returns ErrStop, or an error occurs.
//
// Run is not all-or-nothing. Records are passed to emit as soon as they are
// final, so a later failure, ErrResourceExceededNoSpill included, can arrive
// after part of the output was delivered. Callers that must see either the
// whole result or none of it use Collect, or stage emit's output and discard
// it when Run returns an error.
//
// The Sorter is closed before Run returns, so no run files outlive it; src
// is not closed.
func (s *Sorter) Run(ctx context.Context, src BatchSource, emit EmitFunc) (err error) {
	s.logger = logctx.FromContext(ctx)
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()

	for !s.emitter.Done() {
		batch, nerr := src.Next(ctx)
		if errors.Is(nerr, io.EOF) {
			break
		}
		if nerr != nil {
			return s.fail(ctx, nerr)
		}
		if err := s.Add(ctx, batch); err != nil {
			return err
		}
		stop, err := s.drain(ctx, emit)
		if err != nil || stop {
			return err
		}
	}
	if s.emitter.Done() {
		return nil
	}

	if err := s.Finish(ctx); err != nil {
		return err
	}
	_, err = s.drain(ctx, emit)
	return err
}

// drain emits every record that is final right now. It reports true when
// emit asked to stop or the output limit was reached.
func (s *Sorter) drain(ctx context.Context, emit EmitFunc) (bool, error) {
	for {
		rec, err := s.Next(ctx)
		switch {
		case errors.Is(err, ErrNeedInput):
			return false, nil
		case errors.Is(err, io.EOF):
			return s.emitter.Done(), nil
		case err != nil:
			return false, err
		}
		if err := emit(ctx, rec); err != nil {
			if errors.Is(err, ErrStop) {
				return true, nil
			}
			return false, s.fail(ctx, err)
		}
	}
}

// Collect runs a new Sorter over src and returns every output record, or
// no records and the error if the sort failed at any point.
func Collect(ctx context.Context, opts Options, src BatchSource) ([]Record, Stats, error) {
	s, err := New(opts)
	if err != nil {
		return nil, Stats{}, err
	}
	var out []Record
	err = s.Run(ctx, src, func(_ context.Context, rec Record) error {
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, s.Stats(), err
	}
	return out, s.Stats(), nil
}
