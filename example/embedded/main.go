// Example: Using the TDS bridge as an Embedded Library
//
// This example registers a foreign table whose remote server is an
// in-memory DuckDB database, then estimates and scans it in process.
// Conversion warnings are collected instead of logged.
//
// Run this example:
//
//	go run ./example/embedded
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/shopspring/decimal"

	"github.com/nnnkkk7/tds-bridge/pkg/config"
	"github.com/nnnkkk7/tds-bridge/pkg/connection"
	"github.com/nnnkkk7/tds-bridge/pkg/diag"
	"github.com/nnnkkk7/tds-bridge/pkg/metadata"
	"github.com/nnnkkk7/tds-bridge/pkg/query"
	"github.com/nnnkkk7/tds-bridge/pkg/remote/sqlsession"
)

func main() {
	fmt.Println("=== TDS Bridge Embedded Example ===")

	db, err := sql.Open("duckdb", "")
	if err != nil {
		log.Fatalf("Failed to open DuckDB: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	connMgr := connection.NewManager(db)

	fmt.Println("\n1. Creating remote table 'employees'...")
	for _, stmt := range []string{
		`CREATE TABLE employees (id INTEGER, name VARCHAR, salary DECIMAL(10,2), hire_date DATE)`,
		`INSERT INTO employees VALUES
			(1, 'Alice Johnson', 95000.00, '2022-01-15'),
			(2, 'Bob Smith', 85000.00, '2022-03-20'),
			(3, 'Charlie Brown', NULL, '2021-06-10')`,
	} {
		if _, err := connMgr.Exec(ctx, stmt); err != nil {
			log.Fatalf("Failed to prepare remote table: %v", err)
		}
	}

	repo, err := metadata.NewRepository(connMgr)
	if err != nil {
		log.Fatalf("Failed to create repository: %v", err)
	}

	fmt.Println("\n2. Registering server and foreign table...")
	srv, err := repo.CreateServer(ctx, "loopback", []config.Option{
		{Name: "servername", Value: "localhost"},
		{Name: "msg_handler", Value: "notice"},
	}, "")
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	// The remote query also returns "department", which no declared column
	// matches, and "bonus" is declared but never returned.
	_, err = repo.CreateForeignTable(ctx, srv.ID, "staff", []metadata.ColumnDef{
		{Name: "id", Type: "bigint"},
		{Name: "name", Type: "varchar"},
		{Name: "salary", Type: "numeric"},
		{Name: "hire_date", Type: "date"},
		{Name: "bonus", Type: "numeric"},
	}, []config.Option{
		{Name: "query", Value: "SELECT TOP 10 [id], [name], [salary], [hire_date], 'Engineering' AS [department] FROM employees ORDER BY id"},
		{Name: "match_column_names", Value: "1"},
	}, "")
	if err != nil {
		log.Fatalf("Failed to create foreign table: %v", err)
	}

	rec := diag.NewRecorder()
	opener := sqlsession.NewPoolOpener(connMgr, sqlsession.DuckDBDialect)
	executor := query.NewExecutor(opener, repo, query.WithSink(rec))

	fmt.Println("\n3. Estimating...")
	costs, method, err := executor.Estimate(ctx, "staff")
	if err != nil {
		log.Fatalf("Failed to estimate: %v", err)
	}
	fmt.Printf("   rows=%.0f method=%s startup=%.0f total=%.0f\n", costs.Rows, method, costs.StartupCost, costs.TotalCost)

	fmt.Println("\n4. Scanning...")
	s, err := executor.BeginScan(ctx, "staff")
	if err != nil {
		log.Fatalf("Failed to begin scan: %v", err)
	}
	defer s.Close()

	fmt.Printf("   %v\n", s.Columns())
	for {
		row, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Fatalf("Failed to fetch row: %v", err)
		}
		fmt.Printf("   %s\n", formatRow(row.Values))
	}

	fmt.Println("\n5. Diagnostics:")
	for _, d := range rec.Diagnostics() {
		fmt.Printf("   [%s] %s\n", d.Kind, d.Message)
	}

	fmt.Println("\n=== Example Complete ===")
}

// formatRow prints decimals with their scale and everything else with %v.
func formatRow(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		if d, ok := v.(decimal.Decimal); ok {
			parts[i] = d.StringFixed(max(-d.Exponent(), 0))
			continue
		}
		parts[i] = fmt.Sprintf("%v", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
