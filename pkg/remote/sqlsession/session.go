// Package sqlsession implements remote.Session on top of database/sql. Each
// session pins one connection so that session state such as SHOWPLAN_ALL
// stays with the statements that depend on it.
package sqlsession

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nnnkkk7/tds-bridge/pkg/diag"
	"github.com/nnnkkk7/tds-bridge/pkg/query"
	"github.com/nnnkkk7/tds-bridge/pkg/remote"
	"github.com/nnnkkk7/tds-bridge/pkg/types"
)

// Session is a remote.Session backed by a dedicated *sql.Conn.
type Session struct {
	conn       *sql.Conn
	release    func() error
	mapper     *types.TypeMapper
	translate  func(string) (string, error)
	classifier *query.Classifier
	handler    diag.MessageHandler
	showPlan   bool

	stmt      string
	executed  bool
	delivered bool
	rows      *sql.Rows
	cols      []types.ColumnDescriptor
	values    []any
	ptrs      []any
	enc       remote.RowEncoder
	bindings  remote.Bindings
	affected  int64
	isCount   bool
	closed    bool
}

var (
	_ remote.Session           = (*Session)(nil)
	_ remote.ShowPlanSupporter = (*Session)(nil)
)

func newSession(conn *sql.Conn, release func() error, d Dialect, handler diag.MessageHandler) *Session {
	if handler == nil {
		handler = diag.Blackhole
	}
	return &Session{
		conn:       conn,
		release:    release,
		mapper:     d.Mapper,
		translate:  d.Translate,
		classifier: query.DefaultClassifier,
		handler:    handler,
		showPlan:   d.SupportsShowPlan,
		bindings:   remote.Bindings{},
	}
}

// SetStatement implements remote.Session.
func (s *Session) SetStatement(text string) error {
	if s.closed {
		return remote.ErrSessionClosed
	}
	s.stmt = text
	return nil
}

// Execute implements remote.Session. Row returning statements are sent as
// queries; everything else is executed and its affected row count kept.
func (s *Session) Execute(ctx context.Context) error {
	if s.closed {
		return remote.ErrSessionClosed
	}
	if s.stmt == "" {
		return remote.ErrStatementNotSet
	}
	if err := s.closeRows(); err != nil {
		return err
	}
	s.executed, s.delivered = false, false
	s.affected, s.isCount = 0, false
	s.cols = nil
	s.bindings = remote.Bindings{}

	text := s.stmt
	if s.translate != nil {
		translated, err := s.translate(text)
		if err != nil {
			return err
		}
		text = translated
	}

	class := s.classifier.Classify(text)
	if class.ReturnsRows {
		rows, err := s.conn.QueryContext(ctx, text)
		if err != nil {
			return err
		}
		s.rows = rows
	} else {
		res, err := s.conn.ExecContext(ctx, text)
		if err != nil {
			return err
		}
		if class.IsCount {
			if n, err := res.RowsAffected(); err == nil {
				s.affected, s.isCount = n, true
			}
		}
	}
	s.executed = true
	return nil
}

// Results implements remote.Session. The first call after Execute always
// succeeds; later calls advance through additional result sets.
func (s *Session) Results(_ context.Context) (remote.ResultStatus, error) {
	if s.closed {
		return remote.ResultEmpty, remote.ErrSessionClosed
	}
	if !s.executed {
		return remote.ResultEmpty, remote.ErrStatementNotSet
	}

	if s.delivered {
		if s.rows == nil || !s.rows.NextResultSet() {
			if s.rows != nil {
				if err := s.rows.Err(); err != nil {
					return remote.ResultEmpty, err
				}
			}
			s.cols = nil
			return remote.ResultEmpty, nil
		}
	}
	s.delivered = true
	s.bindings = remote.Bindings{}

	if s.rows == nil {
		s.cols = nil
		s.enc.Reset(nil)
		return remote.ResultSuccess, nil
	}

	colTypes, err := s.rows.ColumnTypes()
	if err != nil {
		return remote.ResultEmpty, err
	}
	s.cols = make([]types.ColumnDescriptor, len(colTypes))
	for i, ct := range colTypes {
		s.cols[i] = types.ColumnDescriptor{
			Name:     ct.Name(),
			WireType: s.mapper.MapDatabaseType(ct.DatabaseTypeName()),
			Ordinal:  i + 1,
		}
		if w := s.cols[i].WireType; w == types.WireDecimal || w == types.WireNumeric {
			s.cols[i].Scale = s.declaredScale(ct)
		}
	}
	s.values = make([]any, len(s.cols))
	s.ptrs = make([]any, len(s.cols))
	for i := range s.values {
		s.ptrs[i] = &s.values[i]
	}
	s.enc.Reset(s.cols)
	return remote.ResultSuccess, nil
}

// declaredScale reads the scale of a DECIMAL column from the driver, or
// from the type name for drivers that only report it there.
func (s *Session) declaredScale(ct *sql.ColumnType) int {
	if _, scale, ok := ct.DecimalSize(); ok {
		return int(scale)
	}
	return s.mapper.DecimalScale(ct.DatabaseTypeName())
}

// SupportsShowPlan implements remote.ShowPlanSupporter.
func (s *Session) SupportsShowPlan() bool { return s.showPlan }

// Columns implements remote.Session.
func (s *Session) Columns() []types.ColumnDescriptor {
	return s.cols
}

// Bind implements remote.Session.
func (s *Session) Bind(ordinal int, kind types.BindKind, slot *types.Scalar) error {
	if !s.delivered {
		return remote.ErrNoResults
	}
	return s.bindings.Add(s.cols, ordinal, kind, slot)
}

// NextRow implements remote.Session.
func (s *Session) NextRow(ctx context.Context) (remote.RowStatus, error) {
	if s.closed {
		return remote.RowsDone, remote.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return remote.RowsDone, err
	}
	if !s.delivered {
		return remote.RowsDone, remote.ErrNoResults
	}
	if s.rows == nil {
		return remote.RowsDone, nil
	}

	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return remote.RowsDone, err
		}
		return remote.RowsDone, nil
	}
	for i := range s.values {
		s.values[i] = nil
	}
	if err := s.rows.Scan(s.ptrs...); err != nil {
		return remote.RowsDone, err
	}
	if err := s.enc.Encode(s.values, nil); err != nil {
		return remote.RowsDone, err
	}
	if err := s.bindings.Fill(s.cols, &s.enc); err != nil {
		return remote.RowsDone, err
	}
	return remote.RowRegular, nil
}

// Row implements remote.Session.
func (s *Session) Row() remote.RowView {
	return &s.enc
}

// RowsAffected implements remote.Session.
func (s *Session) RowsAffected() int64 { return s.affected }

// IsCount implements remote.Session.
func (s *Session) IsCount() bool { return s.isCount }

// Cancel implements remote.Session.
func (s *Session) Cancel(_ context.Context) error {
	if s.closed {
		return remote.ErrSessionClosed
	}
	s.executed, s.delivered = false, false
	s.cols = nil
	return s.closeRows()
}

// Close implements remote.Session. The pinned connection goes back to its
// pool and, for sessions that own their pool, the pool is closed too.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.closeRows()
	if cerr := s.conn.Close(); cerr != nil && !errors.Is(cerr, sql.ErrConnDone) {
		err = errors.Join(err, fmt.Errorf("close connection: %w", cerr))
	}
	if s.release != nil {
		if rerr := s.release(); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}
	return err
}

func (s *Session) closeRows() error {
	if s.rows == nil {
		return nil
	}
	err := s.rows.Close()
	s.rows = nil
	return err
}
