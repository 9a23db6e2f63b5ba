package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nnnkkk7/tds-bridge/pkg/config"
	"github.com/nnnkkk7/tds-bridge/pkg/diag"
	"github.com/nnnkkk7/tds-bridge/pkg/estimate"
	"github.com/nnnkkk7/tds-bridge/pkg/fdwerr"
	"github.com/nnnkkk7/tds-bridge/pkg/logging"
	"github.com/nnnkkk7/tds-bridge/pkg/metrics"
	"github.com/nnnkkk7/tds-bridge/pkg/remote"
	"github.com/nnnkkk7/tds-bridge/pkg/scan"
)

// Catalog resolves foreign tables to their merged options and columns.
type Catalog interface {
	ResolveForeignTable(ctx context.Context, ref string) (*config.ResolvedTable, error)
}

// ExplainProperty is one line of EXPLAIN output for a foreign scan.
type ExplainProperty struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Executor plans, estimates and scans foreign tables.
type Executor struct {
	opener  remote.Opener
	catalog Catalog
	sink    diag.Sink
	stats   scan.StatsOptions
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithSink sends conversion warnings and server messages to sink.
func WithSink(sink diag.Sink) ExecutorOption {
	return func(e *Executor) { e.sink = sink }
}

// WithStats enables memory statistics logging for scans.
func WithStats(stats scan.StatsOptions) ExecutorOption {
	return func(e *Executor) { e.stats = stats }
}

// NewExecutor creates a new executor. Diagnostics are logged unless a
// sink is given.
func NewExecutor(opener remote.Opener, catalog Catalog, opts ...ExecutorOption) *Executor {
	e := &Executor{
		opener:  opener,
		catalog: catalog,
		sink:    diag.NewLogSink(logging.Logger),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sink = metrics.NewCountingSink(e.sink)
	return e
}

// connectOptions builds the login parameters of a resolved table.
func (e *Executor) connectOptions(tbl *config.ResolvedTable) (remote.ConnectOptions, error) {
	handler, err := tbl.Options.MessageHandler(e.sink)
	if err != nil {
		return remote.ConnectOptions{}, err
	}
	return tbl.Options.ConnectOptions(handler), nil
}

// GetRelSize estimates the number of rows of a foreign table. The estimate
// runs on its own session, which is closed before returning.
func (e *Executor) GetRelSize(ctx context.Context, ref string) (estimate.RowCountEstimate, error) {
	tbl, err := e.catalog.ResolveForeignTable(ctx, ref)
	if err != nil {
		return estimate.RowCountEstimate{}, err
	}
	return e.estimateRows(ctx, tbl)
}

func (e *Executor) estimateRows(ctx context.Context, tbl *config.ResolvedTable) (est estimate.RowCountEstimate, err error) {
	method := tbl.Options.RowEstimateMethod
	estimator, err := estimate.ForMethod(method, e.sink)
	if err != nil {
		return estimate.RowCountEstimate{}, err
	}

	connect, err := e.connectOptions(tbl)
	if err != nil {
		return estimate.RowCountEstimate{}, err
	}
	session, err := e.opener.Open(ctx, connect)
	if err != nil {
		return estimate.RowCountEstimate{}, fdwerr.NewProtocolError("connect to "+connect.ServerName, err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			err = errors.Join(err, fdwerr.NewProtocolError("close session", cerr))
		}
	}()

	start := time.Now()
	est, err = estimator.Estimate(ctx, session, tbl.Options.Query)
	metrics.RowEstimateDuration.WithLabelValues(string(method)).Observe(time.Since(start).Seconds())
	if err != nil {
		return estimate.RowCountEstimate{}, fmt.Errorf("failed to estimate rows of %s: %w", tbl.Name, err)
	}

	logging.Debug().
		Str("table", tbl.Name).
		Str("method", string(method)).
		Float64("rows", est.Rows).
		Dur("elapsed", time.Since(start)).
		Msg("estimated row count")
	return est, nil
}

// EstimateCosts returns the startup and total cost of scanning rows rows
// of a foreign table.
func (e *Executor) EstimateCosts(ctx context.Context, ref string, rows float64) (estimate.Costs, error) {
	tbl, err := e.catalog.ResolveForeignTable(ctx, ref)
	if err != nil {
		return estimate.Costs{}, err
	}
	return estimate.CostsFor(tbl.Options.ServerName, estimate.RowCountEstimate{
		Rows:   rows,
		Method: tbl.Options.RowEstimateMethod,
	}), nil
}

// Estimate estimates the row count of a foreign table and derives its costs.
func (e *Executor) Estimate(ctx context.Context, ref string) (estimate.Costs, estimate.Method, error) {
	tbl, err := e.catalog.ResolveForeignTable(ctx, ref)
	if err != nil {
		return estimate.Costs{}, "", err
	}
	est, err := e.estimateRows(ctx, tbl)
	if err != nil {
		return estimate.Costs{}, "", err
	}
	return estimate.CostsFor(tbl.Options.ServerName, est), est.Method, nil
}

// BeginScan opens a scan of a foreign table. The caller must Close it.
func (e *Executor) BeginScan(ctx context.Context, ref string) (*scan.Scan, error) {
	tbl, err := e.catalog.ResolveForeignTable(ctx, ref)
	if err != nil {
		return nil, err
	}
	connect, err := e.connectOptions(tbl)
	if err != nil {
		return nil, err
	}

	return scan.Open(ctx, e.opener, scan.Options{
		Table:            tbl.Name,
		Connect:          connect,
		Query:            tbl.Options.Query,
		Target:           tbl.Target,
		MatchColumnNames: tbl.Options.MatchColumnNames,
		Sink:             e.sink,
		Stats:            e.stats,
	})
}

// Explain returns the properties shown for a foreign scan. Nothing is sent
// to the remote server.
func (e *Executor) Explain(ctx context.Context, ref string) ([]ExplainProperty, error) {
	tbl, err := e.catalog.ResolveForeignTable(ctx, ref)
	if err != nil {
		return nil, err
	}
	return []ExplainProperty{
		{Name: "Remote query", Value: tbl.Options.Query},
		{Name: "Row estimate method", Value: string(tbl.Options.RowEstimateMethod)},
	}, nil
}
