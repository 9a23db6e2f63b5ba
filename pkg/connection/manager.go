// Package connection owns the DuckDB pool that holds the catalog and, in
// loopback mode, also plays the remote server.
package connection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Manager shares one *sql.DB between catalog access and leased sessions.
//
// Catalog reads run concurrently. Catalog writes and transactions hold
// writeMu, so a drop and the dependency check before it cannot interleave
// with a create. Leased connections never take writeMu: a lease belongs to
// one remote session and the statements it runs are the remote query's.
type Manager struct {
	db      *sql.DB
	writeMu sync.Mutex
	leased  atomic.Int64
}

// NewManager creates a manager over db.
func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// Query runs a catalog read.
func (m *Manager) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return m.db.QueryContext(ctx, query, args...)
}

// QueryRow runs a catalog read returning at most one row.
func (m *Manager) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return m.db.QueryRowContext(ctx, query, args...)
}

// Exec runs a catalog write.
func (m *Manager) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.db.ExecContext(ctx, query, args...)
}

// ExecTx runs fn in a transaction under the write lock. The transaction is
// rolled back when fn fails and committed otherwise.
func (m *Manager) ExecTx(ctx context.Context, fn func(*sql.Tx) error) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return errors.Join(err, fmt.Errorf("failed to roll back: %w", rerr))
		}
		return err
	}
	return tx.Commit()
}

// Lease is a dedicated pool connection. Session state set on it, such as
// SET options or temporary tables, stays visible to later statements on
// the same lease and to nothing else.
type Lease struct {
	Conn *sql.Conn

	mgr  *Manager
	once sync.Once
}

// Lease takes a dedicated connection out of the pool. The caller must
// Release it.
func (m *Manager) Lease(ctx context.Context) (*Lease, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	m.leased.Add(1)
	return &Lease{Conn: conn, mgr: m}, nil
}

// Release returns the connection to the pool. Only the first call has an
// effect, and a connection already closed by its user is not an error.
func (l *Lease) Release() error {
	var err error
	l.once.Do(func() {
		l.mgr.leased.Add(-1)
		if cerr := l.Conn.Close(); cerr != nil && !errors.Is(cerr, sql.ErrConnDone) {
			err = cerr
		}
	})
	return err
}

// Leased returns the number of leases not yet released.
func (m *Manager) Leased() int64 {
	return m.leased.Load()
}
