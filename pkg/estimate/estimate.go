// Package estimate computes row count and cost estimates for a remote
// query, either by running it or by asking the server for its plan.
package estimate

import (
	"context"
	"fmt"
	"strings"

	"github.com/nnnkkk7/tds-bridge/pkg/diag"
	"github.com/nnnkkk7/tds-bridge/pkg/fdwerr"
	"github.com/nnnkkk7/tds-bridge/pkg/remote"
	"github.com/nnnkkk7/tds-bridge/pkg/types"
)

// Method selects how rows are estimated.
type Method string

// Estimation methods.
const (
	MethodExecute     Method = "execute"
	MethodShowPlanAll Method = "showplan_all"
)

// Statements that switch a session in and out of plan only mode.
const (
	ShowPlanOn  = "SET SHOWPLAN_ALL ON"
	ShowPlanOff = "SET SHOWPLAN_ALL OFF"
)

// Plan row columns read by the showplan estimator.
const (
	planParentColumn   = "Parent"
	planEstimateColumn = "EstimateRows"
)

// ParseMethod parses a row_estimate_method option value.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodExecute, MethodShowPlanAll:
		return m, nil
	default:
		return "", fdwerr.NewConfigError("invalid row_estimate_method %q", s).
			WithHint("valid methods are %q and %q", MethodExecute, MethodShowPlanAll)
	}
}

// RowCountEstimate is the estimated number of rows a query returns.
type RowCountEstimate struct {
	Rows   float64
	Method Method
}

// Estimator estimates the row count of a query on a session it does not
// own. Callers open a session for the estimate and close it afterwards.
type Estimator interface {
	Estimate(ctx context.Context, session remote.Session, query string) (RowCountEstimate, error)
}

// ForMethod returns the estimator for m.
func ForMethod(m Method, sink diag.Sink) (Estimator, error) {
	switch m {
	case MethodExecute:
		return &ExecuteEstimator{}, nil
	case MethodShowPlanAll:
		return NewShowPlanEstimator(sink), nil
	default:
		return nil, fdwerr.NewConfigError("invalid row_estimate_method %q", m)
	}
}

// ExecuteEstimator runs the query and counts what comes back.
type ExecuteEstimator struct{}

// Estimate implements Estimator. A count statement reports its own row
// count, which is preferred over the number of rows fetched.
func (e *ExecuteEstimator) Estimate(ctx context.Context, s remote.Session, query string) (RowCountEstimate, error) {
	est := RowCountEstimate{Method: MethodExecute}

	status, err := run(ctx, s, query)
	if err != nil {
		return est, err
	}
	if status == remote.ResultEmpty {
		return est, nil
	}

	var fetched int64
	for {
		rs, err := s.NextRow(ctx)
		if err != nil {
			return est, fdwerr.NewProtocolError("fetch row", err)
		}
		if rs == remote.RowsDone {
			break
		}
		if rs == remote.RowBufferFull {
			return est, fdwerr.Protocolf("fetch row", "buffer filled up while counting rows")
		}
		fetched++
	}

	if s.IsCount() {
		est.Rows = float64(s.RowsAffected())
	} else {
		est.Rows = float64(fetched)
	}
	return est, nil
}

// ShowPlanEstimator asks the server for the query plan and sums the
// estimated rows of the top level operators.
type ShowPlanEstimator struct {
	sink diag.Sink
}

// NewShowPlanEstimator creates a ShowPlanEstimator reporting to sink.
func NewShowPlanEstimator(sink diag.Sink) *ShowPlanEstimator {
	if sink == nil {
		sink = diag.Discard
	}
	return &ShowPlanEstimator{sink: sink}
}

// Estimate implements Estimator. Plan mode is switched off again before
// returning, including when reading the plan fails.
func (e *ShowPlanEstimator) Estimate(ctx context.Context, s remote.Session, query string) (est RowCountEstimate, err error) {
	est = RowCountEstimate{Method: MethodShowPlanAll}

	if sp, ok := s.(remote.ShowPlanSupporter); ok && !sp.SupportsShowPlan() {
		return est, fdwerr.NewConfigError("row_estimate_method %q is not supported by this server", MethodShowPlanAll).
			WithHint("use row_estimate_method %q", MethodExecute)
	}

	if err := runAndDrain(ctx, s, ShowPlanOn); err != nil {
		return est, err
	}
	defer func() {
		if offErr := runAndDrain(ctx, s, ShowPlanOff); offErr != nil && err == nil {
			err = offErr
		}
	}()

	status, err := run(ctx, s, query)
	if err != nil {
		return est, err
	}
	if status == remote.ResultEmpty {
		return est, nil
	}

	rows, err := e.sumRootEstimates(ctx, s)
	if err != nil {
		return est, err
	}
	est.Rows = rows
	return est, nil
}

func (e *ShowPlanEstimator) sumRootEstimates(ctx context.Context, s remote.Session) (float64, error) {
	parentOrdinal, estimateOrdinal := 0, 0
	for _, c := range s.Columns() {
		switch c.Name {
		case planParentColumn:
			parentOrdinal = c.Ordinal
		case planEstimateColumn:
			estimateOrdinal = c.Ordinal
		}
	}
	if parentOrdinal == 0 || estimateOrdinal == 0 {
		diag.Warn(e.sink, diag.KindPlanColumns, "",
			fmt.Sprintf("plan has no %s or %s column; estimating 0 rows", planParentColumn, planEstimateColumn))
		if err := s.Cancel(ctx); err != nil {
			return 0, fdwerr.NewProtocolError("cancel results", err)
		}
		return 0, nil
	}

	var parent, estimate types.Scalar
	if err := s.Bind(parentOrdinal, types.BindInt, &parent); err != nil {
		return 0, fdwerr.NewProtocolError("bind "+planParentColumn, err)
	}
	if err := s.Bind(estimateOrdinal, types.BindFloat8, &estimate); err != nil {
		return 0, fdwerr.NewProtocolError("bind "+planEstimateColumn, err)
	}

	var total float64
	for {
		rs, err := s.NextRow(ctx)
		if err != nil {
			return 0, fdwerr.NewProtocolError("fetch plan row", err)
		}
		if rs == remote.RowsDone {
			return total, nil
		}
		if rs == remote.RowBufferFull {
			return 0, fdwerr.Protocolf("fetch plan row", "buffer filled up while reading plan")
		}
		if parent.Int32 == 0 {
			total += estimate.Float64
		}
	}
}

// run sends query and advances to its first result set.
func run(ctx context.Context, s remote.Session, query string) (remote.ResultStatus, error) {
	if err := s.SetStatement(query); err != nil {
		return remote.ResultEmpty, fdwerr.NewProtocolError("set statement", err)
	}
	if err := s.Execute(ctx); err != nil {
		return remote.ResultEmpty, fdwerr.NewProtocolError("execute", err)
	}
	status, err := s.Results(ctx)
	if err != nil {
		return remote.ResultEmpty, fdwerr.NewProtocolError("get results", err)
	}
	return status, nil
}

// runAndDrain runs a statement whose results are not needed.
func runAndDrain(ctx context.Context, s remote.Session, stmt string) error {
	if _, err := run(ctx, s, stmt); err != nil {
		return err
	}
	if err := s.Cancel(ctx); err != nil {
		return fdwerr.NewProtocolError("cancel results", err)
	}
	return nil
}
