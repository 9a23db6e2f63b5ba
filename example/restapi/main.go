// Example: Using the TDS bridge REST API
//
// This example registers a foreign table over HTTP and reads it both in one
// request and through a scan handle.
//
// Start the bridge with the DuckDB loopback as its remote server:
//
//	go run ./cmd/server --loopback
//
// Then run this example:
//
//	go run ./example/restapi
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
)

var baseURL = getBaseURL()

func getBaseURL() string {
	host := os.Getenv("TDS_BRIDGE_HOST")
	if host == "" {
		host = "localhost:8080"
	}
	return fmt.Sprintf("http://%s/api/v1", host)
}

// Option is a generic option name/value pair.
type Option struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Column is a declared foreign table column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// RowsResponse is a batch of rows.
type RowsResponse struct {
	Columns []string `json:"columns"`
	Data    [][]any  `json:"data"`
	NumRows int      `json:"numRows"`
	Done    bool     `json:"done"`
}

// ScanResponse describes a scan handle.
type ScanResponse struct {
	Handle  string `json:"handle"`
	NextURL string `json:"nextUrl"`
}

func main() {
	fmt.Println("=== TDS Bridge REST API Example ===")
	fmt.Printf("Using endpoint: %s\n", baseURL)

	fmt.Println("\n1. Creating server 'loopback'...")
	mustCall(http.MethodPost, "/servers", map[string]any{
		"name":    "loopback",
		"options": []Option{{Name: "servername", Value: "localhost"}},
	}, nil)

	fmt.Println("\n2. Creating foreign table 'fruits'...")
	mustCall(http.MethodPost, "/foreign-tables", map[string]any{
		"name":   "fruits",
		"server": "loopback",
		"columns": []Column{
			{Name: "id", Type: "integer"},
			{Name: "name", Type: "text"},
			{Name: "price", Type: "numeric(6,2)"},
		},
		"options": []Option{{
			Name:  "query",
			Value: "SELECT * FROM (VALUES (1, 'apple', 1.25), (2, 'banana', 0.5), (3, 'cherry', 4)) t(id, name, price)",
		}},
	}, nil)

	fmt.Println("\n3. Estimating...")
	var est map[string]any
	mustCall(http.MethodGet, "/foreign-tables/fruits/estimate", nil, &est)
	fmt.Printf("   %v\n", est)

	fmt.Println("\n4. Reading all rows...")
	var rows RowsResponse
	mustCall(http.MethodGet, "/foreign-tables/fruits/rows", nil, &rows)
	printRows(rows)

	fmt.Println("\n5. Reading through a scan handle, two rows at a time...")
	var sc ScanResponse
	mustCall(http.MethodPost, "/foreign-tables/fruits/scans", nil, &sc)
	for {
		var batch RowsResponse
		mustCall(http.MethodGet, "/scans/"+sc.Handle+"?limit=2", nil, &batch)
		printRows(batch)
		if batch.Done {
			break
		}
	}
	mustCall(http.MethodDelete, "/scans/"+sc.Handle, nil, nil)

	fmt.Println("\n6. Cleaning up...")
	mustCall(http.MethodDelete, "/foreign-tables/fruits", nil, nil)
	mustCall(http.MethodDelete, "/servers/loopback", nil, nil)

	fmt.Println("\n=== Example Complete ===")
}

func printRows(rows RowsResponse) {
	for _, row := range rows.Data {
		fmt.Printf("   %v\n", row)
	}
}

// mustCall sends a JSON request and decodes the response into out.
func mustCall(method, path string, body, out any) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("Failed to marshal request: %v", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, baseURL+path, reqBody)
	if err != nil {
		log.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Failed to read response: %v", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		log.Fatalf("%s %s failed with %d: %s", method, path, resp.StatusCode, data)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			log.Fatalf("Failed to decode response: %v", err)
		}
	}
}
