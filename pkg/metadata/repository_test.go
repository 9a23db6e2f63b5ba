package metadata

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/nnnkkk7/tds-bridge/pkg/config"
	"github.com/nnnkkk7/tds-bridge/pkg/connection"
	"github.com/nnnkkk7/tds-bridge/pkg/estimate"
	"github.com/nnnkkk7/tds-bridge/pkg/fdwerr"
	"github.com/nnnkkk7/tds-bridge/pkg/types"
)

// setupTestRepository creates a test repository with an in-memory DuckDB.
func setupTestRepository(t *testing.T) *Repository {
	t.Helper()

	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("failed to open DuckDB: %v", err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close DB: %v", err)
		}
	})

	mgr := connection.NewManager(db)
	repo, err := NewRepository(mgr)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	return repo
}

// createTestServer creates a server with the given options.
func createTestServer(t *testing.T, repo *Repository, name string, opts ...config.Option) *ForeignServer {
	t.Helper()

	srv, err := repo.CreateServer(context.Background(), name, opts, "")
	if err != nil {
		t.Fatalf("CreateServer(%s) error = %v", name, err)
	}
	return srv
}

var ordersColumns = []ColumnDef{
	{Name: "id", Type: "integer"},
	{Name: "customer", Type: "text"},
	{Name: "total", Type: "numeric(10,2)"},
}

// TestRepository_CreateServer tests server creation and validation.
func TestRepository_CreateServer(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		serverName string
		opts       []config.Option
		wantErr    error
	}{
		{name: "Valid", serverName: "mssql", opts: []config.Option{{Name: "servername", Value: "db.internal"}, {Name: "port", Value: "1433"}}},
		{name: "NoOptions", serverName: "local"},
		{name: "Duplicate", serverName: "mssql", wantErr: ErrAlreadyExists},
		{name: "InvalidOption", serverName: "bad", opts: []config.Option{{Name: "table", Value: "t"}}, wantErr: fdwerr.ErrConfig},
		{name: "BadTDSVersion", serverName: "old", opts: []config.Option{{Name: "tds_version", Value: "9.9"}}, wantErr: fdwerr.ErrConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, err := repo.CreateServer(ctx, tt.serverName, tt.opts, "comment")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("CreateServer() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateServer() error = %v", err)
			}

			if srv.ID == "" || srv.CreatedAt.IsZero() {
				t.Errorf("server missing ID or creation time: %+v", srv)
			}
			if diff := cmp.Diff(tt.opts, srv.Options, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("options mismatch (-want +got):\n%s", diff)
			}
			if srv.Comment != "comment" {
				t.Errorf("Comment = %q", srv.Comment)
			}
		})
	}

	if _, err := repo.CreateServer(ctx, "", nil, ""); err == nil {
		t.Error("empty server name should fail")
	}
}

// TestRepository_ServerLookup tests get, list and drop.
func TestRepository_ServerLookup(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	b := createTestServer(t, repo, "b")
	a := createTestServer(t, repo, "a")

	got, err := repo.GetServerByName(ctx, "b")
	if err != nil {
		t.Fatalf("GetServerByName() error = %v", err)
	}
	if got.ID != b.ID {
		t.Errorf("GetServerByName() ID = %s, want %s", got.ID, b.ID)
	}

	servers, err := repo.ListServers(ctx)
	if err != nil {
		t.Fatalf("ListServers() error = %v", err)
	}
	var names []string
	for _, s := range servers {
		names = append(names, s.Name)
	}
	if diff := cmp.Diff([]string{"a", "b"}, names); diff != "" {
		t.Errorf("server names mismatch (-want +got):\n%s", diff)
	}

	if err := repo.DropServer(ctx, a.ID); err != nil {
		t.Fatalf("DropServer() error = %v", err)
	}
	if _, err := repo.GetServer(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetServer() after drop error = %v, want ErrNotFound", err)
	}
	if err := repo.DropServer(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DropServer() error = %v, want ErrNotFound", err)
	}
	if _, err := repo.GetServerByName(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetServerByName(missing) error = %v, want ErrNotFound", err)
	}
}

// TestRepository_DropServerInUse tests that servers with tables are kept.
func TestRepository_DropServerInUse(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	srv := createTestServer(t, repo, "mssql")
	if _, err := repo.CreateUserMapping(ctx, srv.ID, "", nil); err != nil {
		t.Fatalf("CreateUserMapping() error = %v", err)
	}
	tbl, err := repo.CreateForeignTable(ctx, srv.ID, "orders", ordersColumns, []config.Option{{Name: "table", Value: "dbo.orders"}}, "")
	if err != nil {
		t.Fatalf("CreateForeignTable() error = %v", err)
	}

	if err := repo.DropServer(ctx, srv.ID); !errors.Is(err, ErrInUse) {
		t.Fatalf("DropServer() error = %v, want ErrInUse", err)
	}

	if err := repo.DropForeignTable(ctx, tbl.ID); err != nil {
		t.Fatalf("DropForeignTable() error = %v", err)
	}
	if err := repo.DropServer(ctx, srv.ID); err != nil {
		t.Fatalf("DropServer() error = %v", err)
	}
	if _, err := repo.GetUserMapping(ctx, srv.ID, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("user mapping should be dropped with its server, got %v", err)
	}
}

// TestRepository_UserMapping tests user mapping lookup and the public fallback.
func TestRepository_UserMapping(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	srv := createTestServer(t, repo, "mssql")

	public := []config.Option{{Name: "username", Value: "reader"}, {Name: "password", Value: "pw"}}
	if _, err := repo.CreateUserMapping(ctx, srv.ID, "", public); err != nil {
		t.Fatalf("CreateUserMapping(public) error = %v", err)
	}
	alice := []config.Option{{Name: "username", Value: "alice"}}
	if _, err := repo.CreateUserMapping(ctx, srv.ID, "alice", alice); err != nil {
		t.Fatalf("CreateUserMapping(alice) error = %v", err)
	}

	tests := []struct {
		name     string
		user     string
		wantUser string
		want     []config.Option
	}{
		{name: "Own", user: "alice", wantUser: "alice", want: alice},
		{name: "Fallback", user: "bob", wantUser: PublicUser, want: public},
		{name: "Public", user: "", wantUser: PublicUser, want: public},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.GetUserMapping(ctx, srv.ID, tt.user)
			if err != nil {
				t.Fatalf("GetUserMapping() error = %v", err)
			}
			if got.User != tt.wantUser {
				t.Errorf("User = %q, want %q", got.User, tt.wantUser)
			}
			if diff := cmp.Diff(tt.want, got.Options); diff != "" {
				t.Errorf("options mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := repo.CreateUserMapping(ctx, srv.ID, "alice", nil); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate CreateUserMapping() error = %v, want ErrAlreadyExists", err)
	}
	if _, err := repo.CreateUserMapping(ctx, srv.ID, "carol", []config.Option{{Name: "port", Value: "1"}}); !errors.Is(err, fdwerr.ErrConfig) {
		t.Errorf("CreateUserMapping() with server option error = %v, want config error", err)
	}
	if _, err := repo.CreateUserMapping(ctx, "no-such-server", "", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("CreateUserMapping() on missing server error = %v, want ErrNotFound", err)
	}

	if err := repo.DropUserMapping(ctx, srv.ID, "alice"); err != nil {
		t.Fatalf("DropUserMapping() error = %v", err)
	}
	if err := repo.DropUserMapping(ctx, srv.ID, "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DropUserMapping() error = %v, want ErrNotFound", err)
	}
}

// TestRepository_CreateForeignTable tests foreign table validation.
func TestRepository_CreateForeignTable(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	srv := createTestServer(t, repo, "mssql")

	tableOpt := []config.Option{{Name: "table", Value: "dbo.orders"}}

	tests := []struct {
		name      string
		serverID  string
		tableName string
		columns   []ColumnDef
		opts      []config.Option
		wantErr   error
	}{
		{name: "Valid", serverID: srv.ID, tableName: "orders", columns: ordersColumns, opts: tableOpt},
		{name: "Duplicate", serverID: srv.ID, tableName: "orders", columns: ordersColumns, opts: tableOpt, wantErr: ErrAlreadyExists},
		{name: "UnknownType", serverID: srv.ID, tableName: "t1", columns: []ColumnDef{{Name: "x", Type: "geometry"}}, opts: tableOpt, wantErr: fdwerr.ErrConfig},
		{name: "DuplicateColumn", serverID: srv.ID, tableName: "t2", columns: []ColumnDef{{Name: "x", Type: "int"}, {Name: "x", Type: "text"}}, opts: tableOpt, wantErr: fdwerr.ErrConfig},
		{name: "NoTableOrQuery", serverID: srv.ID, tableName: "t3", columns: ordersColumns, wantErr: fdwerr.ErrConfig},
		{name: "NoColumns", serverID: srv.ID, tableName: "t5", opts: tableOpt, wantErr: fdwerr.ErrConfig},
		{name: "MissingServer", serverID: "nope", tableName: "t4", columns: ordersColumns, opts: tableOpt, wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl, err := repo.CreateForeignTable(ctx, tt.serverID, tt.tableName, tt.columns, tt.opts, "")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("CreateForeignTable() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateForeignTable() error = %v", err)
			}
			if diff := cmp.Diff(tt.columns, tbl.Columns); diff != "" {
				t.Errorf("columns mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.opts, tbl.Options); diff != "" {
				t.Errorf("options mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := repo.CreateForeignTable(ctx, srv.ID, "empty", nil, tableOpt, ""); err == nil {
		t.Error("a table without columns should fail")
	}
}

// TestRepository_ListForeignTables tests listing with and without a server filter.
func TestRepository_ListForeignTables(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	first := createTestServer(t, repo, "first")
	second := createTestServer(t, repo, "second")

	for _, def := range []struct{ server, name string }{
		{first.ID, "zeta"}, {first.ID, "alpha"}, {second.ID, "mid"},
	} {
		if _, err := repo.CreateForeignTable(ctx, def.server, def.name, ordersColumns, []config.Option{{Name: "query", Value: "SELECT 1"}}, ""); err != nil {
			t.Fatalf("CreateForeignTable(%s) error = %v", def.name, err)
		}
	}

	tests := []struct {
		name     string
		serverID string
		want     []string
	}{
		{name: "All", want: []string{"alpha", "mid", "zeta"}},
		{name: "First", serverID: first.ID, want: []string{"alpha", "zeta"}},
		{name: "Second", serverID: second.ID, want: []string{"mid"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tables, err := repo.ListForeignTables(ctx, tt.serverID)
			if err != nil {
				t.Fatalf("ListForeignTables() error = %v", err)
			}
			var names []string
			for _, tbl := range tables {
				names = append(names, tbl.Name)
			}
			if diff := cmp.Diff(tt.want, names); diff != "" {
				t.Errorf("table names mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestRepository_ResolveForeignTable tests option merging across the catalog.
func TestRepository_ResolveForeignTable(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	srv := createTestServer(t, repo, "mssql",
		config.Option{Name: "servername", Value: "db.internal"},
		config.Option{Name: "row_estimate_method", Value: "showplan_all"},
	)
	if _, err := repo.CreateUserMapping(ctx, srv.ID, "", []config.Option{{Name: "username", Value: "reader"}}); err != nil {
		t.Fatalf("CreateUserMapping() error = %v", err)
	}
	tbl, err := repo.CreateForeignTable(ctx, srv.ID, "orders", ordersColumns, []config.Option{
		{Name: "table", Value: "dbo.orders"},
		{Name: "match_column_names", Value: "1"},
	}, "")
	if err != nil {
		t.Fatalf("CreateForeignTable() error = %v", err)
	}

	expected := &config.ResolvedTable{
		ID:     tbl.ID,
		Name:   "orders",
		Server: "mssql",
		Options: &config.OptionSet{
			ServerName:        "db.internal",
			MsgHandler:        config.DefaultMsgHandler,
			RowEstimateMethod: estimate.MethodShowPlanAll,
			Username:          "reader",
			Table:             "dbo.orders",
			Query:             "SELECT * FROM dbo.orders",
			MatchColumnNames:  true,
		},
		Target: types.TargetSchema{
			{Name: "id", Type: types.TargetInteger},
			{Name: "customer", Type: types.TargetText},
			{Name: "total", Type: types.TargetNumeric},
		},
	}

	for _, ref := range []string{tbl.ID, "orders"} {
		got, err := repo.ResolveForeignTable(ctx, ref)
		if err != nil {
			t.Fatalf("ResolveForeignTable(%s) error = %v", ref, err)
		}
		if diff := cmp.Diff(expected, got); diff != "" {
			t.Errorf("ResolveForeignTable(%s) mismatch (-want +got):\n%s", ref, diff)
		}
	}

	if _, err := repo.ResolveForeignTable(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ResolveForeignTable(missing) error = %v, want ErrNotFound", err)
	}
}

// TestRepository_ResolveWithoutUserMapping tests that a missing mapping
// means no credentials.
func TestRepository_ResolveWithoutUserMapping(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	srv := createTestServer(t, repo, "local")

	if _, err := repo.CreateForeignTable(ctx, srv.ID, "nums", []ColumnDef{{Name: "n", Type: "bigint"}}, []config.Option{{Name: "query", Value: "SELECT 1 AS n"}}, ""); err != nil {
		t.Fatalf("CreateForeignTable() error = %v", err)
	}

	got, err := repo.ResolveForeignTable(ctx, "nums")
	if err != nil {
		t.Fatalf("ResolveForeignTable() error = %v", err)
	}
	if got.Options.Username != "" || got.Options.Query != "SELECT 1 AS n" {
		t.Errorf("unexpected options: %+v", got.Options)
	}
}
