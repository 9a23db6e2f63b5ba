// Package metadata provides the local catalog of foreign servers, user
// mappings and foreign tables.
package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nnnkkk7/tds-bridge/pkg/config"
	"github.com/nnnkkk7/tds-bridge/pkg/connection"
	"github.com/nnnkkk7/tds-bridge/pkg/fdwerr"
	"github.com/nnnkkk7/tds-bridge/pkg/types"
)

// PublicUser is the user mapping that applies to every local user.
const PublicUser = "public"

var (
	// ErrNotFound is returned when a catalog object does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a catalog object name is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInUse is returned when dropping an object that others depend on.
	ErrInUse = errors.New("still in use")
)

// Repository manages catalog objects in DuckDB.
// Metadata is stored in special tables prefixed with _metadata_.
type Repository struct {
	mgr *connection.Manager
}

// ForeignServer is a remote server definition.
type ForeignServer struct {
	ID        string
	Name      string
	Options   []config.Option
	Comment   string
	CreatedAt time.Time
}

// UserMapping holds the login options a local user uses on a server.
type UserMapping struct {
	ID        string
	ServerID  string
	User      string
	Options   []config.Option
	CreatedAt time.Time
}

// ForeignTable is a locally declared table backed by a remote query.
type ForeignTable struct {
	ID        string
	ServerID  string
	Name      string
	Options   []config.Option
	Columns   []ColumnDef
	Comment   string
	CreatedAt time.Time
}

// ColumnDef is one declared column of a foreign table.
type ColumnDef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// NewRepository creates a new metadata repository.
// It initializes metadata tables if they don't exist.
func NewRepository(mgr *connection.Manager) (*Repository, error) {
	repo := &Repository{mgr: mgr}

	if err := repo.initMetadataTables(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize metadata tables: %w", err)
	}

	return repo, nil
}

// initMetadataTables creates metadata tables if they don't exist.
func (r *Repository) initMetadataTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS _metadata_servers (
			id VARCHAR PRIMARY KEY,
			name VARCHAR NOT NULL,
			options VARCHAR,
			comment VARCHAR,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(name)
		)`,
		`CREATE TABLE IF NOT EXISTS _metadata_user_mappings (
			id VARCHAR PRIMARY KEY,
			server_id VARCHAR NOT NULL,
			user_name VARCHAR NOT NULL,
			options VARCHAR,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(server_id, user_name)
		)`,
		`CREATE TABLE IF NOT EXISTS _metadata_foreign_tables (
			id VARCHAR PRIMARY KEY,
			server_id VARCHAR NOT NULL,
			name VARCHAR NOT NULL,
			options VARCHAR,
			column_definitions VARCHAR,
			comment VARCHAR,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(name)
		)`,
	}

	for _, query := range queries {
		if _, err := r.mgr.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to create metadata table: %w", err)
		}
	}

	return nil
}

// isDuplicate reports whether err is a DuckDB uniqueness violation.
func isDuplicate(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "Constraint Error")
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Server CRUD Operations

// CreateServer creates a new foreign server.
func (r *Repository) CreateServer(ctx context.Context, name string, opts []config.Option, comment string) (*ForeignServer, error) {
	if name == "" {
		return nil, fmt.Errorf("server name cannot be empty")
	}
	if err := config.ValidateOptions(config.ContextServer, opts); err != nil {
		return nil, err
	}

	optionsJSON, err := encodeOptions(opts)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	query := `INSERT INTO _metadata_servers (id, name, options, comment, created_at)
	          VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`
	if _, err := r.mgr.Exec(ctx, query, id, name, optionsJSON, comment); err != nil {
		if isDuplicate(err) {
			return nil, fmt.Errorf("server %s: %w", name, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to insert server metadata: %w", err)
	}

	return r.GetServer(ctx, id)
}

const serverColumns = `id, name, options, comment, created_at`

// GetServer retrieves a server by ID.
func (r *Repository) GetServer(ctx context.Context, id string) (*ForeignServer, error) {
	row := r.mgr.QueryRow(ctx, `SELECT `+serverColumns+` FROM _metadata_servers WHERE id = ?`, id)
	srv, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("server with ID %s: %w", id, ErrNotFound)
	}
	return srv, err
}

// GetServerByName retrieves a server by name.
func (r *Repository) GetServerByName(ctx context.Context, name string) (*ForeignServer, error) {
	row := r.mgr.QueryRow(ctx, `SELECT `+serverColumns+` FROM _metadata_servers WHERE name = ?`, name)
	srv, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("server %s: %w", name, ErrNotFound)
	}
	return srv, err
}

// ListServers retrieves all servers.
func (r *Repository) ListServers(ctx context.Context) ([]*ForeignServer, error) {
	rows, err := r.mgr.Query(ctx, `SELECT `+serverColumns+` FROM _metadata_servers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var servers []*ForeignServer
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, srv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating servers: %w", err)
	}

	return servers, nil
}

// DropServer deletes a server and its user mappings. A server that still
// has foreign tables is not dropped.
func (r *Repository) DropServer(ctx context.Context, id string) error {
	srv, err := r.GetServer(ctx, id)
	if err != nil {
		return err
	}

	var tables int
	if err := r.mgr.QueryRow(ctx, `SELECT COUNT(*) FROM _metadata_foreign_tables WHERE server_id = ?`, id).Scan(&tables); err != nil {
		return fmt.Errorf("failed to count foreign tables: %w", err)
	}
	if tables > 0 {
		return fmt.Errorf("server %s has %d foreign tables: %w", srv.Name, tables, ErrInUse)
	}

	return r.mgr.ExecTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM _metadata_user_mappings WHERE server_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete user mappings: %w", err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM _metadata_servers WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete server metadata: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return fmt.Errorf("server with ID %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

func scanServer(row rowScanner) (*ForeignServer, error) {
	var srv ForeignServer
	var options, comment sql.NullString
	var createdAt sql.NullTime

	if err := row.Scan(&srv.ID, &srv.Name, &options, &comment, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan server: %w", err)
	}

	opts, err := decodeOptions(options)
	if err != nil {
		return nil, err
	}
	srv.Options = opts
	if comment.Valid {
		srv.Comment = comment.String
	}
	if createdAt.Valid {
		srv.CreatedAt = createdAt.Time
	}
	return &srv, nil
}

// User Mapping Operations

// CreateUserMapping attaches login options for user to a server. An empty
// user creates the public mapping.
func (r *Repository) CreateUserMapping(ctx context.Context, serverID, user string, opts []config.Option) (*UserMapping, error) {
	if user == "" {
		user = PublicUser
	}
	if _, err := r.GetServer(ctx, serverID); err != nil {
		return nil, err
	}
	if err := config.ValidateOptions(config.ContextUserMapping, opts); err != nil {
		return nil, err
	}

	optionsJSON, err := encodeOptions(opts)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	query := `INSERT INTO _metadata_user_mappings (id, server_id, user_name, options, created_at)
	          VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`
	if _, err := r.mgr.Exec(ctx, query, id, serverID, user, optionsJSON); err != nil {
		if isDuplicate(err) {
			return nil, fmt.Errorf("user mapping for %s: %w", user, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to insert user mapping: %w", err)
	}

	return r.GetUserMapping(ctx, serverID, user)
}

// GetUserMapping returns the mapping of user on a server, falling back to
// the public mapping.
func (r *Repository) GetUserMapping(ctx context.Context, serverID, user string) (*UserMapping, error) {
	if user == "" {
		user = PublicUser
	}
	query := `SELECT id, server_id, user_name, options, created_at
	          FROM _metadata_user_mappings
	          WHERE server_id = ? AND user_name IN (?, ?)
	          ORDER BY CASE WHEN user_name = ? THEN 0 ELSE 1 END
	          LIMIT 1`

	var um UserMapping
	var options sql.NullString
	var createdAt sql.NullTime

	err := r.mgr.QueryRow(ctx, query, serverID, user, PublicUser, user).
		Scan(&um.ID, &um.ServerID, &um.User, &options, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user mapping for %s: %w", user, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user mapping: %w", err)
	}

	if um.Options, err = decodeOptions(options); err != nil {
		return nil, err
	}
	if createdAt.Valid {
		um.CreatedAt = createdAt.Time
	}
	return &um, nil
}

// DropUserMapping deletes the mapping of user on a server.
func (r *Repository) DropUserMapping(ctx context.Context, serverID, user string) error {
	if user == "" {
		user = PublicUser
	}
	result, err := r.mgr.Exec(ctx, `DELETE FROM _metadata_user_mappings WHERE server_id = ? AND user_name = ?`, serverID, user)
	if err != nil {
		return fmt.Errorf("failed to delete user mapping: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user mapping for %s: %w", user, ErrNotFound)
	}
	return nil
}

// Foreign Table CRUD Operations

// CreateForeignTable declares a foreign table on a server.
func (r *Repository) CreateForeignTable(ctx context.Context, serverID, name string, columns []ColumnDef, opts []config.Option, comment string) (*ForeignTable, error) {
	if name == "" {
		return nil, fmt.Errorf("table name cannot be empty")
	}
	if len(columns) == 0 {
		return nil, fdwerr.NewConfigError("table must have at least one column")
	}
	if _, err := targetSchema(columns); err != nil {
		return nil, err
	}
	if err := config.ValidateOptions(config.ContextTable, opts); err != nil {
		return nil, err
	}
	if _, err := r.GetServer(ctx, serverID); err != nil {
		return nil, err
	}

	optionsJSON, err := encodeOptions(opts)
	if err != nil {
		return nil, err
	}
	columnsJSON, err := json.Marshal(columns)
	if err != nil {
		return nil, fmt.Errorf("failed to encode column definitions: %w", err)
	}

	id := uuid.New().String()
	query := `INSERT INTO _metadata_foreign_tables (id, server_id, name, options, column_definitions, comment, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`
	if _, err := r.mgr.Exec(ctx, query, id, serverID, name, optionsJSON, string(columnsJSON), comment); err != nil {
		if isDuplicate(err) {
			return nil, fmt.Errorf("foreign table %s: %w", name, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to insert foreign table metadata: %w", err)
	}

	return r.GetForeignTable(ctx, id)
}

const foreignTableColumns = `id, server_id, name, options, column_definitions, comment, created_at`

// GetForeignTable retrieves a foreign table by ID.
func (r *Repository) GetForeignTable(ctx context.Context, id string) (*ForeignTable, error) {
	row := r.mgr.QueryRow(ctx, `SELECT `+foreignTableColumns+` FROM _metadata_foreign_tables WHERE id = ?`, id)
	tbl, err := scanForeignTable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("foreign table with ID %s: %w", id, ErrNotFound)
	}
	return tbl, err
}

// GetForeignTableByName retrieves a foreign table by name.
func (r *Repository) GetForeignTableByName(ctx context.Context, name string) (*ForeignTable, error) {
	row := r.mgr.QueryRow(ctx, `SELECT `+foreignTableColumns+` FROM _metadata_foreign_tables WHERE name = ?`, name)
	tbl, err := scanForeignTable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("foreign table %s: %w", name, ErrNotFound)
	}
	return tbl, err
}

// ListForeignTables retrieves all foreign tables. A non-empty serverID
// limits the list to that server.
func (r *Repository) ListForeignTables(ctx context.Context, serverID string) ([]*ForeignTable, error) {
	query := `SELECT ` + foreignTableColumns + ` FROM _metadata_foreign_tables`
	var args []any
	if serverID != "" {
		query += ` WHERE server_id = ?`
		args = append(args, serverID)
	}
	query += ` ORDER BY name`

	rows, err := r.mgr.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list foreign tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []*ForeignTable
	for rows.Next() {
		tbl, err := scanForeignTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, tbl)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating foreign tables: %w", err)
	}

	return tables, nil
}

// DropForeignTable deletes a foreign table.
func (r *Repository) DropForeignTable(ctx context.Context, id string) error {
	result, err := r.mgr.Exec(ctx, `DELETE FROM _metadata_foreign_tables WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete foreign table metadata: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("foreign table with ID %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanForeignTable(row rowScanner) (*ForeignTable, error) {
	var tbl ForeignTable
	var options, columns, comment sql.NullString
	var createdAt sql.NullTime

	if err := row.Scan(&tbl.ID, &tbl.ServerID, &tbl.Name, &options, &columns, &comment, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan foreign table: %w", err)
	}

	opts, err := decodeOptions(options)
	if err != nil {
		return nil, err
	}
	tbl.Options = opts
	if columns.Valid && columns.String != "" {
		if err := json.Unmarshal([]byte(columns.String), &tbl.Columns); err != nil {
			return nil, fmt.Errorf("failed to decode column definitions of %s: %w", tbl.Name, err)
		}
	}
	if comment.Valid {
		tbl.Comment = comment.String
	}
	if createdAt.Valid {
		tbl.CreatedAt = createdAt.Time
	}
	return &tbl, nil
}

// ResolveForeignTable looks a foreign table up by ID or name and merges
// its options with those of its server and the public user mapping.
func (r *Repository) ResolveForeignTable(ctx context.Context, ref string) (*config.ResolvedTable, error) {
	tbl, err := r.GetForeignTable(ctx, ref)
	if errors.Is(err, ErrNotFound) {
		tbl, err = r.GetForeignTableByName(ctx, ref)
	}
	if err != nil {
		return nil, err
	}

	srv, err := r.GetServer(ctx, tbl.ServerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get server of %s: %w", tbl.Name, err)
	}

	var userOpts []config.Option
	mapping, err := r.GetUserMapping(ctx, srv.ID, PublicUser)
	switch {
	case err == nil:
		userOpts = mapping.Options
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	set, err := config.Resolve(srv.Options, userOpts, tbl.Options)
	if err != nil {
		return nil, err
	}
	target, err := targetSchema(tbl.Columns)
	if err != nil {
		return nil, err
	}

	return &config.ResolvedTable{
		ID:      tbl.ID,
		Name:    tbl.Name,
		Server:  srv.Name,
		Options: set,
		Target:  target,
	}, nil
}

// targetSchema converts column definitions to a target schema.
func targetSchema(columns []ColumnDef) (types.TargetSchema, error) {
	schema := make(types.TargetSchema, 0, len(columns))
	seen := make(map[string]bool, len(columns))
	for _, col := range columns {
		if col.Name == "" {
			return nil, fdwerr.NewConfigError("column name cannot be empty")
		}
		if seen[col.Name] {
			return nil, fdwerr.NewConfigError("column %q specified more than once", col.Name)
		}
		seen[col.Name] = true

		t, err := types.ParseTargetType(col.Type)
		if err != nil {
			return nil, err
		}
		schema = append(schema, types.TargetColumn{Name: col.Name, Type: t})
	}
	return schema, nil
}

func encodeOptions(opts []config.Option) (string, error) {
	if opts == nil {
		opts = []config.Option{}
	}
	b, err := json.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("failed to encode options: %w", err)
	}
	return string(b), nil
}

func decodeOptions(s sql.NullString) ([]config.Option, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var opts []config.Option
	if err := json.Unmarshal([]byte(s.String), &opts); err != nil {
		return nil, fmt.Errorf("failed to decode options: %w", err)
	}
	return opts, nil
}
