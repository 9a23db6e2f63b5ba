// Package remote defines the client side of a TDS session as consumed by
// the scan and estimation paths. Implementations live in subpackages.
package remote

import (
	"context"
	"errors"

	"github.com/nnnkkk7/tds-bridge/pkg/diag"
	"github.com/nnnkkk7/tds-bridge/pkg/types"
)

// ResultStatus is the outcome of asking for the next result set.
type ResultStatus int

// Result statuses. Failures are reported as errors.
const (
	ResultSuccess ResultStatus = iota
	ResultEmpty
)

func (s ResultStatus) String() string {
	if s == ResultEmpty {
		return "NO_MORE_RESULTS"
	}
	return "SUCCEED"
}

// RowStatus is the outcome of fetching the next row.
type RowStatus int

// Row statuses. Failures are reported as errors.
const (
	RowRegular RowStatus = iota
	RowsDone
	RowBufferFull
)

func (s RowStatus) String() string {
	switch s {
	case RowRegular:
		return "REG_ROW"
	case RowsDone:
		return "NO_MORE_ROWS"
	default:
		return "BUF_FULL"
	}
}

var (
	// ErrStatementNotSet is returned by Execute before SetStatement.
	ErrStatementNotSet = errors.New("no statement set")

	// ErrNoResults is returned when rows are requested outside a result set.
	ErrNoResults = errors.New("no active result set")

	// ErrSessionClosed is returned by every operation after Close.
	ErrSessionClosed = errors.New("session closed")
)

// RowView is a borrowed view of the current row. The view and every slice
// it returns are valid only until the next NextRow, Cancel or Close call on
// the session that produced it. Consumers copy out what they keep.
type RowView interface {
	// RawLength returns the byte length of the column value, 0 for NULL.
	RawLength(ordinal int) int
	// RawBytes returns the column value, or nil for NULL.
	RawBytes(ordinal int) []byte
}

// Session is one dedicated connection to a remote server. A session is
// used by a single goroutine at a time.
type Session interface {
	// SetStatement replaces the statement text to run on Execute.
	SetStatement(text string) error
	// Execute sends the current statement.
	Execute(ctx context.Context) error
	// Results advances to the next result set.
	Results(ctx context.Context) (ResultStatus, error)
	// Columns describes the current result set.
	Columns() []types.ColumnDescriptor
	// Bind captures the column at ordinal into slot on every NextRow.
	Bind(ordinal int, kind types.BindKind, slot *types.Scalar) error
	// NextRow fetches the next row of the current result set.
	NextRow(ctx context.Context) (RowStatus, error)
	// Row returns the current row.
	Row() RowView
	// RowsAffected returns the row count reported for the last statement.
	RowsAffected() int64
	// IsCount reports whether RowsAffected holds a real count.
	IsCount() bool
	// Cancel discards pending results of the current statement.
	Cancel(ctx context.Context) error
	// Close releases the session.
	Close() error
}

// ShowPlanSupporter is implemented by sessions that know whether their
// server accepts SET SHOWPLAN_ALL. Sessions that do not implement it are
// assumed to.
type ShowPlanSupporter interface {
	SupportsShowPlan() bool
}

// ConnectOptions carries everything needed to log in to a remote server.
type ConnectOptions struct {
	ServerName   string
	Port         int
	Username     string
	Password     string
	Database     string
	DBUse        bool
	CharacterSet string
	Language     string
	TDSVersion   string

	// MessageHandler receives informational server messages.
	MessageHandler diag.MessageHandler
}

// Opener opens new sessions.
type Opener interface {
	Open(ctx context.Context, opts ConnectOptions) (Session, error)
}

// OpenerFunc adapts a function to an Opener.
type OpenerFunc func(ctx context.Context, opts ConnectOptions) (Session, error)

// Open calls f(ctx, opts).
func (f OpenerFunc) Open(ctx context.Context, opts ConnectOptions) (Session, error) {
	return f(ctx, opts)
}
