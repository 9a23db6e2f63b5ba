package types

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/nnnkkk7/tds-bridge/pkg/decoder"
	"github.com/nnnkkk7/tds-bridge/pkg/estimate"
	"github.com/nnnkkk7/tds-bridge/pkg/query"
	"github.com/nnnkkk7/tds-bridge/pkg/scan"
)

// Scan API Types

// EstimateResponse represents GET /api/v1/foreign-tables/{table}/estimate response.
type EstimateResponse struct {
	Rows        float64 `json:"rows"`
	Method      string  `json:"method"`
	StartupCost float64 `json:"startupCost"`
	TotalCost   float64 `json:"totalCost"`
}

// NewEstimateResponse combines costs with the method that produced them.
func NewEstimateResponse(costs estimate.Costs, method estimate.Method) EstimateResponse {
	return EstimateResponse{
		Rows:        costs.Rows,
		Method:      string(method),
		StartupCost: costs.StartupCost,
		TotalCost:   costs.TotalCost,
	}
}

// ExplainResponse represents GET /api/v1/foreign-tables/{table}/explain response.
type ExplainResponse struct {
	Table      string                  `json:"table"`
	Properties []query.ExplainProperty `json:"properties"`
}

// RowsResponse carries a batch of decoded rows. NULL columns are JSON null.
type RowsResponse struct {
	Handle  string   `json:"handle,omitempty"`
	Columns []string `json:"columns"`
	Data    [][]any  `json:"data"`
	NumRows int      `json:"numRows"`
	Done    bool     `json:"done"`
}

// AppendRow adds a decoded row.
func (r *RowsResponse) AppendRow(row decoder.Row) {
	values := make([]any, len(row.Values))
	for i, v := range row.Values {
		if i < len(row.Nulls) && row.Nulls[i] {
			continue
		}
		if d, ok := v.(decimal.Decimal); ok && d.Exponent() < 0 {
			// Keep trailing zeros of the declared scale.
			v = d.StringFixed(-d.Exponent())
		}
		values[i] = v
	}
	r.Data = append(r.Data, values)
	r.NumRows++
}

// ScanResponse represents POST /api/v1/foreign-tables/{table}/scans response.
type ScanResponse struct {
	Handle    string   `json:"handle"`
	Table     string   `json:"table"`
	Columns   []string `json:"columns"`
	CreatedOn string   `json:"createdOn"`
	NextURL   string   `json:"nextUrl"`
}

// NewScanResponse describes a registered scan.
func NewScanResponse(e *scan.Entry, columns []string) ScanResponse {
	return ScanResponse{
		Handle:    e.Handle,
		Table:     e.Table,
		Columns:   columns,
		CreatedOn: e.CreatedOn.Format(time.RFC3339),
		NextURL:   "/api/v1/scans/" + e.Handle,
	}
}
