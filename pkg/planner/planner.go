// Package planner reconciles the columns of a remote result set with the
// declared local schema, producing one binding per remote column.
package planner

import (
	"fmt"

	"github.com/nnnkkk7/tds-bridge/pkg/coerce"
	"github.com/nnnkkk7/tds-bridge/pkg/diag"
	"github.com/nnnkkk7/tds-bridge/pkg/fdwerr"
	"github.com/nnnkkk7/tds-bridge/pkg/types"
)

// MaxIdentifierLen is the number of leading bytes compared when matching
// column names. Longer names are truncated, as local identifiers are.
const MaxIdentifierLen = 63

// Absent is the TargetIndex of a remote column with no local counterpart.
const Absent = -1

// ColumnBinding maps one remote column onto a local column.
type ColumnBinding struct {
	SourceOrdinal int
	TargetIndex   int
	Name          string
	Mode          coerce.Mode
	Strategy      coerce.Strategy
	WireType      types.WireType
	TargetType    types.TargetType
	// Slot receives the column's value on every fetch when the strategy
	// binds a scalar.
	Slot types.Scalar
}

// Bound reports whether the remote column feeds a local column.
func (b *ColumnBinding) Bound() bool {
	return b.TargetIndex != Absent
}

// Plan is the reconciliation result for one result set.
type Plan struct {
	Bindings []ColumnBinding
	// ForcedNull marks local columns that no remote column feeds.
	ForcedNull []bool
}

// SchemaMismatchError reports a positional plan whose column counts differ.
type SchemaMismatchError struct {
	SourceColumns int
	TargetColumns int
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("foreign source has %d columns, but target table has %d columns",
		e.SourceColumns, e.TargetColumns)
}

func (e *SchemaMismatchError) Unwrap() error {
	return fdwerr.ErrConfig
}

// Planner builds column plans and reports unmatched columns to a sink.
type Planner struct {
	sink diag.Sink
}

// New creates a Planner reporting to sink.
func New(sink diag.Sink) *Planner {
	if sink == nil {
		sink = diag.Discard
	}
	return &Planner{sink: sink}
}

// Plan reconciles source with target, positionally or by column name.
func (p *Planner) Plan(source []types.ColumnDescriptor, target types.TargetSchema, matchByName bool) (*Plan, error) {
	plan := &Plan{
		Bindings:   make([]ColumnBinding, len(source)),
		ForcedNull: make([]bool, len(target)),
	}

	if !matchByName {
		if len(source) != len(target) {
			return nil, &SchemaMismatchError{SourceColumns: len(source), TargetColumns: len(target)}
		}
		for i, col := range source {
			plan.Bindings[i] = newBinding(col, i, target[i].Type)
		}
		return plan, nil
	}

	claimed := make([]bool, len(target))
	for i, col := range source {
		idx := matchTarget(col.Name, target, claimed)
		if idx == Absent {
			plan.Bindings[i] = ColumnBinding{
				SourceOrdinal: col.Ordinal,
				TargetIndex:   Absent,
				Name:          col.Name,
				WireType:      col.WireType,
			}
			diag.Warn(p.sink, diag.KindUnmatchedSource, col.Name,
				fmt.Sprintf("table definition mismatch: foreign source has column named %q, but target table does not. Column will be ignored.", col.Name))
			continue
		}
		claimed[idx] = true
		plan.Bindings[i] = newBinding(col, idx, target[idx].Type)
	}

	for i, c := range target {
		if claimed[i] {
			continue
		}
		plan.ForcedNull[i] = true
		diag.Warn(p.sink, diag.KindForcedNull, c.Name,
			fmt.Sprintf("table definition mismatch: could not match local column %q with column from foreign table. Column will be NULL.", c.Name))
	}
	return plan, nil
}

func newBinding(col types.ColumnDescriptor, targetIndex int, t types.TargetType) ColumnBinding {
	strategy := coerce.Lookup(col.WireType, t)
	return ColumnBinding{
		SourceOrdinal: col.Ordinal,
		TargetIndex:   targetIndex,
		Name:          col.Name,
		Mode:          strategy.Mode(),
		Strategy:      strategy,
		WireType:      col.WireType,
		TargetType:    t,
	}
}

// matchTarget returns the first unclaimed target column whose name matches.
func matchTarget(name string, target types.TargetSchema, claimed []bool) int {
	for i, c := range target {
		if !claimed[i] && NamesMatch(name, c.Name) {
			return i
		}
	}
	return Absent
}

// NamesMatch compares two column names case-sensitively over their first
// MaxIdentifierLen bytes.
func NamesMatch(a, b string) bool {
	return truncate(a) == truncate(b)
}

func truncate(s string) string {
	if len(s) > MaxIdentifierLen {
		return s[:MaxIdentifierLen]
	}
	return s
}
