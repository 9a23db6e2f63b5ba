package sqlsession

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"github.com/nnnkkk7/tds-bridge/pkg/connection"
	"github.com/nnnkkk7/tds-bridge/pkg/diag"
	"github.com/nnnkkk7/tds-bridge/pkg/logging"
	"github.com/nnnkkk7/tds-bridge/pkg/query"
	"github.com/nnnkkk7/tds-bridge/pkg/remote"
	"github.com/nnnkkk7/tds-bridge/pkg/types"
)

// DefaultAppName is reported to the server as the client application name.
const DefaultAppName = "tds-bridge"

// Dialect captures the per driver differences a session needs.
type Dialect struct {
	Name             string
	Mapper           *types.TypeMapper
	QuoteIdent       func(string) string
	SupportsLanguage bool
	SupportsShowPlan bool
	// Translate rewrites statement text before it is sent. Nil sends it
	// unchanged.
	Translate func(string) (string, error)
}

// SQLServerDialect is used for Microsoft SQL Server and Sybase servers.
var SQLServerDialect = Dialect{
	Name:             "sqlserver",
	Mapper:           types.NewSQLServerTypeMapper(),
	QuoteIdent:       func(s string) string { return "[" + strings.ReplaceAll(s, "]", "]]") + "]" },
	SupportsLanguage: true,
	SupportsShowPlan: true,
}

// DuckDBDialect is used when a DuckDB database stands in for a remote server.
var DuckDBDialect = Dialect{
	Name:       "duckdb",
	Mapper:     types.NewDuckDBTypeMapper(),
	QuoteIdent: func(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` },
	Translate:  query.NewTranslator().Translate,
}

// SQLServerOpener opens one connection pool per session through the
// SQL Server driver.
type SQLServerOpener struct {
	AppName string
}

var _ remote.Opener = (*SQLServerOpener)(nil)

// NewSQLServerOpener creates an opener for SQL Server sessions.
func NewSQLServerOpener() *SQLServerOpener {
	return &SQLServerOpener{AppName: DefaultAppName}
}

// Open implements remote.Opener.
func (o *SQLServerOpener) Open(ctx context.Context, opts remote.ConnectOptions) (remote.Session, error) {
	dsn := BuildDSN(opts, o.AppName)
	connector, err := mssql.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connector: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.ServerName, err)
	}

	logging.Debug().
		Str("server", opts.ServerName).
		Int("port", opts.Port).
		Str("tdsVersion", opts.TDSVersion).
		Str("characterSet", opts.CharacterSet).
		Msg("connected to remote server")

	if err := prepareSession(ctx, conn, opts, SQLServerDialect); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, err
	}
	return newSession(conn, db.Close, SQLServerDialect, opts.MessageHandler), nil
}

// BuildDSN renders connection options as a sqlserver:// URL. When DBUse is
// set the database is selected after login instead of in the DSN.
func BuildDSN(opts remote.ConnectOptions, appName string) string {
	host := opts.ServerName
	instance := ""
	if i := strings.IndexByte(host, '\\'); i >= 0 {
		host, instance = host[:i], host[i+1:]
	}
	if opts.Port != 0 {
		host = net.JoinHostPort(host, strconv.Itoa(opts.Port))
	}

	u := &url.URL{Scheme: "sqlserver", Host: host}
	if instance != "" {
		u.Path = instance
	}
	if opts.Username != "" {
		u.User = url.UserPassword(opts.Username, opts.Password)
	}

	q := url.Values{}
	if opts.Database != "" && !opts.DBUse {
		q.Set("database", opts.Database)
	}
	if appName != "" {
		q.Set("app name", appName)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// PoolOpener hands out dedicated connections from a shared pool. It is
// used with DuckDB as a local stand-in for a remote server.
type PoolOpener struct {
	mgr     *connection.Manager
	dialect Dialect
}

var _ remote.Opener = (*PoolOpener)(nil)

// NewPoolOpener creates an opener over mgr's pool.
func NewPoolOpener(mgr *connection.Manager, dialect Dialect) *PoolOpener {
	return &PoolOpener{mgr: mgr, dialect: dialect}
}

// Open implements remote.Opener.
func (o *PoolOpener) Open(ctx context.Context, opts remote.ConnectOptions) (remote.Session, error) {
	lease, err := o.mgr.Lease(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	if err := prepareSession(ctx, lease.Conn, opts, o.dialect); err != nil {
		return nil, errors.Join(err, lease.Release())
	}
	return newSession(lease.Conn, lease.Release, o.dialect, opts.MessageHandler), nil
}

// prepareSession applies the login time settings that the driver does not
// take as connection parameters.
func prepareSession(ctx context.Context, conn *sql.Conn, opts remote.ConnectOptions, d Dialect) error {
	handler := opts.MessageHandler
	if handler == nil {
		handler = diag.Blackhole
	}

	if opts.Language != "" && d.SupportsLanguage {
		if _, err := conn.ExecContext(ctx, "SET LANGUAGE "+d.QuoteIdent(opts.Language)); err != nil {
			return fmt.Errorf("failed to set language %s: %w", opts.Language, err)
		}
		handler.HandleMessage(diag.Message{
			Number: 5703,
			Server: opts.ServerName,
			Text:   fmt.Sprintf("Changed language setting to %s.", opts.Language),
		})
	}

	if opts.DBUse && opts.Database != "" {
		if _, err := conn.ExecContext(ctx, "USE "+d.QuoteIdent(opts.Database)); err != nil {
			return fmt.Errorf("failed to select database %s: %w", opts.Database, err)
		}
		handler.HandleMessage(diag.Message{
			Number: 5701,
			Server: opts.ServerName,
			Text:   fmt.Sprintf("Changed database context to '%s'.", opts.Database),
		})
	}
	return nil
}
