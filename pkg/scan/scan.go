// Package scan drives one foreign table scan: it owns a dedicated remote
// session, plans the result set against the declared columns and decodes
// rows one at a time.
package scan

import (
	"context"
	"errors"
	"io"

	"github.com/nnnkkk7/tds-bridge/pkg/decoder"
	"github.com/nnnkkk7/tds-bridge/pkg/diag"
	"github.com/nnnkkk7/tds-bridge/pkg/fdwerr"
	"github.com/nnnkkk7/tds-bridge/pkg/logging"
	"github.com/nnnkkk7/tds-bridge/pkg/metrics"
	"github.com/nnnkkk7/tds-bridge/pkg/planner"
	"github.com/nnnkkk7/tds-bridge/pkg/remote"
	"github.com/nnnkkk7/tds-bridge/pkg/types"
)

// ErrScanClosed is returned by Next and Rescan after Close.
var ErrScanClosed = errors.New("scan closed")

// Options configures a scan.
type Options struct {
	// Table names the foreign table in logs.
	Table            string
	Connect          remote.ConnectOptions
	Query            string
	Target           types.TargetSchema
	MatchColumnNames bool
	Sink             diag.Sink
	Stats            StatsOptions
}

// Scan is a forward only iterator over the rows of a remote query. A Scan
// is not safe for concurrent use.
type Scan struct {
	opts    Options
	session remote.Session
	planner *planner.Planner
	decoder *decoder.Decoder

	plan      *planner.Plan
	buf       *decoder.RowBuffer
	started   bool
	exhausted bool
	rows      int64
	err       error
	closed    bool
}

// Open validates opts and opens the scan's session. The query is sent on
// the first call to Next.
func Open(ctx context.Context, opener remote.Opener, opts Options) (*Scan, error) {
	if opts.Query == "" {
		return nil, fdwerr.NewConfigError("scan of %q has no remote query", opts.Table)
	}
	if opts.Sink == nil {
		opts.Sink = diag.Discard
	}

	session, err := opener.Open(ctx, opts.Connect)
	if err != nil {
		return nil, fdwerr.NewProtocolError("connect to "+opts.Connect.ServerName, err)
	}

	logging.Debug().
		Str("table", opts.Table).
		Str("server", opts.Connect.ServerName).
		Str("query", opts.Query).
		Msg("opened scan")

	return &Scan{
		opts:    opts,
		session: session,
		planner: planner.New(opts.Sink),
		decoder: decoder.New(opts.Sink),
	}, nil
}

// Next returns the next row, or io.EOF after the last one. Once Next
// fails every later call returns the same error.
func (s *Scan) Next(ctx context.Context) (decoder.Row, error) {
	switch {
	case s.closed:
		return decoder.Row{}, ErrScanClosed
	case s.err != nil:
		return decoder.Row{}, s.err
	case s.exhausted:
		return decoder.Row{}, io.EOF
	}

	if !s.started {
		if err := s.begin(ctx); err != nil {
			return decoder.Row{}, s.fail(err)
		}
	}

	if s.opts.Stats.BeforeRow {
		logMemoryStats(s.opts.Table, "before row", s.rows)
	}

	status, err := s.session.NextRow(ctx)
	if err != nil {
		return decoder.Row{}, s.fail(fdwerr.NewProtocolError("fetch row", err))
	}
	switch status {
	case remote.RowsDone:
		s.exhausted = true
		logging.Debug().Str("table", s.opts.Table).Int64("rows", s.rows).Msg("scan reached end of results")
		return decoder.Row{}, io.EOF
	case remote.RowBufferFull:
		return decoder.Row{}, s.fail(fdwerr.Protocolf("fetch row", "buffer filled up"))
	}

	if err := s.decoder.Decode(s.session.Row(), s.plan, s.buf); err != nil {
		return decoder.Row{}, s.fail(err)
	}
	s.rows++
	metrics.ScanRowsTotal.Inc()

	if s.opts.Stats.AfterRow {
		logMemoryStats(s.opts.Table, "after row", s.rows)
	}
	return s.buf.Row(), nil
}

// begin runs the query and prepares decoding of its first result set.
func (s *Scan) begin(ctx context.Context) error {
	if err := s.session.SetStatement(s.opts.Query); err != nil {
		return fdwerr.NewProtocolError("set statement", err)
	}
	if err := s.session.Execute(ctx); err != nil {
		return fdwerr.NewProtocolError("execute", err)
	}
	status, err := s.session.Results(ctx)
	if err != nil {
		return fdwerr.NewProtocolError("get results", err)
	}
	if status == remote.ResultEmpty {
		return fdwerr.Protocolf("get results", "query returned no results")
	}

	plan, err := s.planner.Plan(s.session.Columns(), s.opts.Target, s.opts.MatchColumnNames)
	if err != nil {
		return err
	}
	for i := range plan.Bindings {
		b := &plan.Bindings[i]
		logging.Debug().
			Str("table", s.opts.Table).
			Str("column", b.Name).
			Stringer("wireType", b.WireType).
			Str("targetType", string(b.TargetType)).
			Stringer("strategy", b.Strategy).
			Int("targetIndex", b.TargetIndex).
			Msg("planned column")

		kind, ok := b.Strategy.BindKind()
		if !ok || !b.Bound() {
			continue
		}
		if err := s.session.Bind(b.SourceOrdinal, kind, &b.Slot); err != nil {
			return fdwerr.NewProtocolError("bind column "+b.Name, err)
		}
	}

	s.plan = plan
	if s.buf == nil || s.buf.Len() != len(s.opts.Target) {
		s.buf = decoder.NewRowBuffer(len(s.opts.Target))
	}
	s.started = true
	return nil
}

func (s *Scan) fail(err error) error {
	s.err = err
	logging.Debug().Err(err).Str("table", s.opts.Table).Int64("rows", s.rows).Msg("scan failed")
	return err
}

// Rescan discards pending results. The next call to Next runs the query
// again and plans its result set afresh.
func (s *Scan) Rescan(ctx context.Context) error {
	if s.closed {
		return ErrScanClosed
	}
	if err := s.session.Cancel(ctx); err != nil {
		return s.fail(fdwerr.NewProtocolError("cancel results", err))
	}
	s.started, s.exhausted = false, false
	s.plan = nil
	s.rows = 0
	s.err = nil
	return nil
}

// Close releases the session. It is safe to call more than once.
func (s *Scan) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	outcome := metrics.OutcomeClosed
	switch {
	case s.err != nil:
		outcome = metrics.OutcomeFailed
	case s.exhausted:
		outcome = metrics.OutcomeCompleted
	}
	metrics.ScansTotal.WithLabelValues(outcome).Inc()

	if s.opts.Stats.Finished {
		logMemoryStats(s.opts.Table, "finished", s.rows)
	}

	if err := s.session.Close(); err != nil {
		return fdwerr.NewProtocolError("close session", err)
	}
	return nil
}

// RowCount returns the number of rows returned since the last (re)start.
func (s *Scan) RowCount() int64 {
	return s.rows
}

// Err returns the error that failed the scan, if any.
func (s *Scan) Err() error {
	return s.err
}

// Columns returns the names of the declared columns in output order.
func (s *Scan) Columns() []string {
	return s.opts.Target.Names()
}
