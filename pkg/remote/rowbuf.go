package remote

import (
	"fmt"

	"github.com/nnnkkk7/tds-bridge/pkg/coerce"
	"github.com/nnnkkk7/tds-bridge/pkg/types"
)

// RowEncoder turns driver values into wire encoded column bytes. All
// columns of a row share one scratch buffer that is reused by the next
// Encode, which is what makes the returned RowView a borrowed view.
type RowEncoder struct {
	buf     []byte
	offsets []int
	nulls   []bool
	cols    []types.ColumnDescriptor
}

// Reset prepares the encoder for a new result set.
func (e *RowEncoder) Reset(cols []types.ColumnDescriptor) {
	e.cols = cols
	e.offsets = make([]int, len(cols)+1)
	e.nulls = make([]bool, len(cols))
	if e.buf == nil {
		e.buf = make([]byte, 0, 256)
	}
}

// Encode replaces the current row with values, one per column. A nil value
// is NULL. A value of type []byte for a column listed in raw is stored
// unchanged, bypassing encoding.
func (e *RowEncoder) Encode(values []any, raw map[int]bool) error {
	if len(values) != len(e.cols) {
		return fmt.Errorf("row has %d values, result set has %d columns", len(values), len(e.cols))
	}
	e.buf = e.buf[:0]
	for i, v := range values {
		e.offsets[i] = len(e.buf)
		e.nulls[i] = v == nil
		if v == nil {
			continue
		}
		if b, ok := v.([]byte); ok && raw[i] {
			e.buf = append(e.buf, b...)
			continue
		}
		out, err := coerce.EncodeColumn(e.cols[i], v, e.buf)
		if err != nil {
			return fmt.Errorf("column %q: %w", e.cols[i].Name, err)
		}
		e.buf = out
	}
	e.offsets[len(values)] = len(e.buf)
	return nil
}

// RawLength implements RowView.
func (e *RowEncoder) RawLength(ordinal int) int {
	i := ordinal - 1
	if i < 0 || i >= len(e.nulls) || e.nulls[i] {
		return 0
	}
	return e.offsets[i+1] - e.offsets[i]
}

// RawBytes implements RowView.
func (e *RowEncoder) RawBytes(ordinal int) []byte {
	i := ordinal - 1
	if i < 0 || i >= len(e.nulls) || e.nulls[i] {
		return nil
	}
	return e.buf[e.offsets[i]:e.offsets[i+1]:e.offsets[i+1]]
}

// Binding is a scalar slot registered through Session.Bind.
type Binding struct {
	Kind types.BindKind
	Slot *types.Scalar
}

// Bindings maps 1-based ordinals to bound slots.
type Bindings map[int]Binding

// Add validates and registers a binding for a column.
func (b Bindings) Add(cols []types.ColumnDescriptor, ordinal int, kind types.BindKind, slot *types.Scalar) error {
	if ordinal < 1 || ordinal > len(cols) {
		return fmt.Errorf("bind: column %d out of range 1..%d", ordinal, len(cols))
	}
	if slot == nil {
		return fmt.Errorf("bind: nil slot for column %d", ordinal)
	}
	w := cols[ordinal-1].WireType
	if !coerce.CanBind(w, kind) {
		return fmt.Errorf("bind: column %d (%v) cannot be bound as %v", ordinal, w, kind)
	}
	b[ordinal] = Binding{Kind: kind, Slot: slot}
	return nil
}

// Fill copies the current row's bound columns into their slots. NULL
// columns leave their slot zeroed.
func (b Bindings) Fill(cols []types.ColumnDescriptor, row RowView) error {
	for ordinal, bnd := range b {
		raw := row.RawBytes(ordinal)
		if raw == nil {
			*bnd.Slot = types.Scalar{Kind: bnd.Kind}
			continue
		}
		s, err := coerce.Bind(cols[ordinal-1].WireType, raw, bnd.Kind)
		if err != nil {
			return fmt.Errorf("column %d: %w", ordinal, err)
		}
		*bnd.Slot = s
	}
	return nil
}
