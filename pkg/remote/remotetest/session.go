// Package remotetest provides a scripted in-memory remote.Session for tests.
package remotetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nnnkkk7/tds-bridge/pkg/remote"
	"github.com/nnnkkk7/tds-bridge/pkg/types"
)

// Raw marks a row value that is stored as-is instead of being encoded.
type Raw []byte

// ResultSet is one scripted result set.
type ResultSet struct {
	Columns      []types.ColumnDescriptor
	Rows         [][]any
	RowsAffected int64
	IsCount      bool
}

// Columns builds column descriptors with ordinals assigned in order.
func Columns(specs ...any) []types.ColumnDescriptor {
	if len(specs)%2 != 0 {
		panic("remotetest: Columns takes name, wire type pairs")
	}
	cols := make([]types.ColumnDescriptor, 0, len(specs)/2)
	for i := 0; i < len(specs); i += 2 {
		cols = append(cols, types.ColumnDescriptor{
			Name:     specs[i].(string),
			WireType: specs[i+1].(types.WireType),
			Ordinal:  i/2 + 1,
		})
	}
	return cols
}

// Failures injects errors at individual session operations.
type Failures struct {
	SetStatement error
	Execute      error
	Results      error
	Bind         error
	NextRow      error
	// NextRowAt fails the Nth fetch (1-based) with NextRow.
	NextRowAt int
	// BufferFullAt reports a full row buffer on the Nth fetch (1-based).
	BufferFullAt int
}

// Session is a scripted remote.Session. Statements are matched against
// Responses by exact text after trimming. While plan mode is on (after
// "SET SHOWPLAN_ALL ON"), PlanResponses is consulted instead.
type Session struct {
	Responses     map[string][]ResultSet
	PlanResponses map[string][]ResultSet
	Fail          Failures
	// NoShowPlan makes the session report a server without plan mode.
	NoShowPlan bool

	mu        sync.Mutex
	log       []string
	stmt      string
	planMode  bool
	pending   []ResultSet
	current   *ResultSet
	rowIdx    int
	fetches   int
	bindings  remote.Bindings
	enc       remote.RowEncoder
	affected  int64
	isCount   bool
	cancelled int
	closed    bool
}

var (
	_ remote.Session           = (*Session)(nil)
	_ remote.ShowPlanSupporter = (*Session)(nil)
)

// NewSession creates a session answering the given statements.
func NewSession(responses map[string][]ResultSet) *Session {
	return &Session{Responses: responses, PlanResponses: map[string][]ResultSet{}}
}

// SupportsShowPlan implements remote.ShowPlanSupporter.
func (s *Session) SupportsShowPlan() bool { return !s.NoShowPlan }

// SetStatement implements remote.Session.
func (s *Session) SetStatement(text string) error {
	if s.closed {
		return remote.ErrSessionClosed
	}
	if s.Fail.SetStatement != nil {
		return s.Fail.SetStatement
	}
	s.stmt = strings.TrimSpace(text)
	return nil
}

// Execute implements remote.Session.
func (s *Session) Execute(_ context.Context) error {
	if s.closed {
		return remote.ErrSessionClosed
	}
	if s.stmt == "" {
		return remote.ErrStatementNotSet
	}
	s.mu.Lock()
	s.log = append(s.log, s.stmt)
	s.mu.Unlock()
	if s.Fail.Execute != nil {
		return s.Fail.Execute
	}

	s.current = nil
	s.bindings = remote.Bindings{}
	s.affected, s.isCount = 0, false

	switch strings.ToUpper(s.stmt) {
	case "SET SHOWPLAN_ALL ON":
		s.planMode = true
		s.pending = []ResultSet{{}}
		return nil
	case "SET SHOWPLAN_ALL OFF":
		s.planMode = false
		s.pending = []ResultSet{{}}
		return nil
	}

	responses := s.Responses
	if s.planMode {
		responses = s.PlanResponses
	}
	sets, ok := responses[s.stmt]
	if !ok {
		return fmt.Errorf("remotetest: no response scripted for %q", s.stmt)
	}
	s.pending = append([]ResultSet(nil), sets...)
	return nil
}

// Results implements remote.Session.
func (s *Session) Results(_ context.Context) (remote.ResultStatus, error) {
	if s.closed {
		return remote.ResultEmpty, remote.ErrSessionClosed
	}
	if s.Fail.Results != nil {
		return remote.ResultEmpty, s.Fail.Results
	}
	if len(s.pending) == 0 {
		s.current = nil
		return remote.ResultEmpty, nil
	}
	rs := s.pending[0]
	s.pending = s.pending[1:]
	s.current = &rs
	s.rowIdx = 0
	s.bindings = remote.Bindings{}
	s.enc.Reset(rs.Columns)
	s.affected, s.isCount = rs.RowsAffected, rs.IsCount
	return remote.ResultSuccess, nil
}

// Columns implements remote.Session.
func (s *Session) Columns() []types.ColumnDescriptor {
	if s.current == nil {
		return nil
	}
	return s.current.Columns
}

// Bind implements remote.Session.
func (s *Session) Bind(ordinal int, kind types.BindKind, slot *types.Scalar) error {
	if s.Fail.Bind != nil {
		return s.Fail.Bind
	}
	if s.current == nil {
		return remote.ErrNoResults
	}
	return s.bindings.Add(s.current.Columns, ordinal, kind, slot)
}

// NextRow implements remote.Session.
func (s *Session) NextRow(ctx context.Context) (remote.RowStatus, error) {
	if s.closed {
		return remote.RowsDone, remote.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return remote.RowsDone, err
	}
	if s.current == nil {
		return remote.RowsDone, remote.ErrNoResults
	}

	s.fetches++
	if s.Fail.NextRow != nil && (s.Fail.NextRowAt == 0 || s.Fail.NextRowAt == s.fetches) {
		return remote.RowsDone, s.Fail.NextRow
	}
	if s.Fail.BufferFullAt != 0 && s.Fail.BufferFullAt == s.fetches {
		return remote.RowBufferFull, nil
	}
	if s.rowIdx >= len(s.current.Rows) {
		return remote.RowsDone, nil
	}

	row := s.current.Rows[s.rowIdx]
	s.rowIdx++

	values := make([]any, len(row))
	raw := map[int]bool{}
	for i, v := range row {
		if r, ok := v.(Raw); ok {
			values[i] = []byte(r)
			raw[i] = true
			continue
		}
		values[i] = v
	}
	if err := s.enc.Encode(values, raw); err != nil {
		return remote.RowsDone, err
	}
	if err := s.bindings.Fill(s.current.Columns, &s.enc); err != nil {
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
	s.pending = nil
	s.current = nil
	s.cancelled++
	return nil
}

// Close implements remote.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("remotetest: session closed twice")
	}
	s.closed = true
	return nil
}

// Statements returns every executed statement in order.
func (s *Session) Statements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

// Closed reports whether Close was called. It is safe to call while
// another goroutine closes the session.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Cancelled returns how many times Cancel was called.
func (s *Session) Cancelled() int { return s.cancelled }

// Opener hands out sessions built by New and remembers them.
type Opener struct {
	New func() *Session
	Err error

	mu       sync.Mutex
	opened   []*Session
	lastOpts remote.ConnectOptions
}

var _ remote.Opener = (*Opener)(nil)

// Open implements remote.Opener.
func (o *Opener) Open(_ context.Context, opts remote.ConnectOptions) (remote.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastOpts = opts
	if o.Err != nil {
		return nil, o.Err
	}
	s := o.New()
	o.opened = append(o.opened, s)
	return s, nil
}

// Opened returns every session handed out so far.
func (o *Opener) Opened() []*Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Session(nil), o.opened...)
}

// LastOptions returns the options passed to the latest Open.
func (o *Opener) LastOptions() remote.ConnectOptions {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastOpts
}
