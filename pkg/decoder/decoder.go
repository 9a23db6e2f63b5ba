// Package decoder materializes remote rows into values of the declared
// local column types, following a column plan.
package decoder

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/nnnkkk7/tds-bridge/pkg/coerce"
	"github.com/nnnkkk7/tds-bridge/pkg/diag"
	"github.com/nnnkkk7/tds-bridge/pkg/fdwerr"
	"github.com/nnnkkk7/tds-bridge/pkg/planner"
	"github.com/nnnkkk7/tds-bridge/pkg/remote"
	"github.com/nnnkkk7/tds-bridge/pkg/types"
)

// Row is an owned, decoded row. Nulls[i] is true when column i is NULL, in
// which case Values[i] is nil.
type Row struct {
	Values []any
	Nulls  []bool
}

// RowBuffer is the reusable output of Decode, sized to the target schema.
type RowBuffer struct {
	Values []any
	Nulls  []bool
}

// NewRowBuffer creates a buffer for n target columns.
func NewRowBuffer(n int) *RowBuffer {
	return &RowBuffer{
		Values: make([]any, n),
		Nulls:  make([]bool, n),
	}
}

// Reset marks every column NULL. Columns no remote column feeds stay NULL
// for the whole row.
func (b *RowBuffer) Reset() {
	for i := range b.Values {
		b.Values[i] = nil
		b.Nulls[i] = true
	}
}

// Row copies the buffer out. The result stays valid after the next Decode.
func (b *RowBuffer) Row() Row {
	return Row{
		Values: append([]any(nil), b.Values...),
		Nulls:  append([]bool(nil), b.Nulls...),
	}
}

// Len returns the number of target columns.
func (b *RowBuffer) Len() int {
	return len(b.Values)
}

// DecodeError is a value whose text could not be parsed as its target type.
// It aborts the scan.
type DecodeError struct {
	Column     string
	TargetType types.TargetType
	Text       string
	Err        error
}

func (e *DecodeError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("column %q (%s): %v", e.Column, e.TargetType, e.Err)
	}
	return fmt.Sprintf("column %q (%s): value %q: %v", e.Column, e.TargetType, e.Text, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{fdwerr.ErrDecode, e.Err}
}

// Decoder converts rows according to a plan. Per value conversion failures
// are reported to the sink and leave the column NULL.
type Decoder struct {
	sink diag.Sink
}

// New creates a Decoder reporting to sink.
func New(sink diag.Sink) *Decoder {
	if sink == nil {
		sink = diag.Discard
	}
	return &Decoder{sink: sink}
}

// Decode fills out from the current row. row is borrowed: everything
// written to out is copied from it. out is reset first, so columns the
// plan forces to NULL are NULL without a lookup.
func (d *Decoder) Decode(row remote.RowView, plan *planner.Plan, out *RowBuffer) error {
	if out.Len() != len(plan.ForcedNull) {
		return fdwerr.NewInternalError("row buffer has %d columns, plan has %d", out.Len(), len(plan.ForcedNull))
	}
	out.Reset()

	for i := range plan.Bindings {
		b := &plan.Bindings[i]
		if !b.Bound() {
			continue
		}

		raw := row.RawBytes(b.SourceOrdinal)
		if row.RawLength(b.SourceOrdinal) == 0 && raw == nil {
			continue
		}

		var (
			v   any
			ok  bool
			err error
		)
		if b.Mode == coerce.ModeFastBind {
			v, err = fastBind(b, raw)
			ok = err == nil
		} else {
			v, ok, err = d.generic(b, raw)
		}
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		out.Values[b.TargetIndex] = v
		out.Nulls[b.TargetIndex] = false
	}
	return nil
}

// fastBind produces the target value of a FastBind column. Scalar targets
// come from the slot filled by the session on fetch.
func fastBind(b *planner.ColumnBinding, raw []byte) (any, error) {
	switch b.TargetType {
	case types.TargetSmallInt:
		if err := checkSlot(b, types.BindSmallInt); err != nil {
			return nil, err
		}
		return b.Slot.Int16, nil
	case types.TargetInteger:
		if err := checkSlot(b, types.BindInt); err != nil {
			return nil, err
		}
		return b.Slot.Int32, nil
	case types.TargetBigInt:
		if err := checkSlot(b, types.BindBigInt); err != nil {
			return nil, err
		}
		return b.Slot.Int64, nil
	case types.TargetReal:
		if err := checkSlot(b, types.BindReal); err != nil {
			return nil, err
		}
		return b.Slot.Float32, nil
	case types.TargetDouble:
		if err := checkSlot(b, types.BindFloat8); err != nil {
			return nil, err
		}
		return b.Slot.Float64, nil
	case types.TargetText:
		return string(raw), nil
	case types.TargetBytea:
		if raw == nil {
			return []byte{}, nil
		}
		return bytes.Clone(raw), nil
	case types.TargetTimestamp:
		rec, err := coerce.CrackDatetime(raw)
		if err == nil {
			ts, terr := rec.Timestamp()
			if terr == nil {
				return ts, nil
			}
			err = terr
		}
		return nil, &DecodeError{
			Column:     b.Name,
			TargetType: b.TargetType,
			Err:        fmt.Errorf("possibly invalid date value: %w", err),
		}
	default:
		return nil, fdwerr.NewInternalError("column %q: no fast conversion from %v to %s", b.Name, b.WireType, b.TargetType)
	}
}

func checkSlot(b *planner.ColumnBinding, want types.BindKind) error {
	if b.Slot.Kind != want {
		return fdwerr.NewInternalError("column %q: bound as %v, decoding as %v", b.Name, b.Slot.Kind, want)
	}
	return nil
}

// generic converts the wire value to text and parses it as the target type.
// ok is false when the conversion failed and the column stays NULL.
func (d *Decoder) generic(b *planner.ColumnBinding, raw []byte) (v any, ok bool, err error) {
	conv, err := coerce.ToText(b.WireType, raw)
	if err != nil {
		kind := diag.KindConversionFailed
		if errors.Is(err, coerce.ErrNotConvertible) {
			kind = diag.KindNotConvertible
		}
		diag.Warn(d.sink, kind, b.Name, fmt.Sprintf("column %q: %v; value will be NULL", b.Name, err))
		return nil, false, nil
	}

	text := conv.String()
	v, err = types.ParseText(b.TargetType, text)
	if err != nil {
		return nil, false, &DecodeError{Column: b.Name, TargetType: b.TargetType, Text: text, Err: err}
	}
	return v, true, nil
}
