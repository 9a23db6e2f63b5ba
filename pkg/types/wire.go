// Package types provides the TDS wire type and local target type vocabularies
// shared by the coercion, planning and decoding packages.
package types

import "fmt"

// WireType represents a TDS column type as reported by the remote server.
// Values carry the DB-Library type codes.
type WireType int

// TDS wire type constants.
const (
	WireUnknown   WireType = 0
	WireImage     WireType = 34
	WireText      WireType = 35
	WireUnique    WireType = 36
	WireVarBinary WireType = 37
	WireVarChar   WireType = 39
	WireBinary    WireType = 45
	WireChar      WireType = 47
	WireInt1      WireType = 48
	WireBit       WireType = 50
	WireInt2      WireType = 52
	WireInt4      WireType = 56
	WireDatetime4 WireType = 58
	WireReal      WireType = 59
	WireMoney     WireType = 60
	WireDatetime  WireType = 61
	WireFlt8      WireType = 62
	WireDecimal   WireType = 106
	WireNumeric   WireType = 108
	WireMoney4    WireType = 122
	WireInt8      WireType = 127
)

var wireTypeNames = map[WireType]string{
	WireImage:     "IMAGE",
	WireText:      "TEXT",
	WireUnique:    "UNIQUE",
	WireVarBinary: "VARBINARY",
	WireVarChar:   "VARCHAR",
	WireBinary:    "BINARY",
	WireChar:      "CHAR",
	WireInt1:      "INT1",
	WireBit:       "BIT",
	WireInt2:      "INT2",
	WireInt4:      "INT4",
	WireDatetime4: "DATETIME4",
	WireReal:      "REAL",
	WireMoney:     "MONEY",
	WireDatetime:  "DATETIME",
	WireFlt8:      "FLT8",
	WireDecimal:   "DECIMAL",
	WireNumeric:   "NUMERIC",
	WireMoney4:    "MONEY4",
	WireInt8:      "INT8",
}

// String returns the DB-Library name of the wire type.
func (w WireType) String() string {
	if name, ok := wireTypeNames[w]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(w))
}

// WireTypeFromCode returns the wire type for a DB-Library type code.
// Unrecognized codes map to WireUnknown.
func WireTypeFromCode(code int) WireType {
	w := WireType(code)
	if _, ok := wireTypeNames[w]; ok {
		return w
	}
	return WireUnknown
}

// IsCharacter reports whether values of this type travel as character data.
func (w WireType) IsCharacter() bool {
	switch w {
	case WireChar, WireVarChar, WireText:
		return true
	default:
		return false
	}
}

// IsBinary reports whether values of this type travel as uninterpreted bytes.
func (w WireType) IsBinary() bool {
	switch w {
	case WireBinary, WireVarBinary, WireImage:
		return true
	default:
		return false
	}
}

// FixedWidth returns the on-wire width of fixed size types.
func (w WireType) FixedWidth() (int, bool) {
	switch w {
	case WireInt1, WireBit:
		return 1, true
	case WireInt2:
		return 2, true
	case WireInt4, WireReal, WireMoney4, WireDatetime4:
		return 4, true
	case WireInt8, WireFlt8, WireMoney, WireDatetime:
		return 8, true
	case WireUnique:
		return 16, true
	default:
		return 0, false
	}
}

// ColumnDescriptor describes one column of a remote result set.
// Ordinal is 1-based, matching DB-Library column numbering.
type ColumnDescriptor struct {
	Name     string
	WireType WireType
	Ordinal  int
	// Scale is the declared scale of DECIMAL and NUMERIC columns, 0 when
	// the driver does not report one.
	Scale int
}

// BindKind identifies the scalar representation a column is bound to
// when values are captured directly by the remote client.
type BindKind int

// Bind kinds.
const (
	BindNone BindKind = iota
	BindSmallInt
	BindInt
	BindBigInt
	BindReal
	BindFloat8
)

func (k BindKind) String() string {
	switch k {
	case BindSmallInt:
		return "SMALLBIND"
	case BindInt:
		return "INTBIND"
	case BindBigInt:
		return "BIGINTBIND"
	case BindReal:
		return "REALBIND"
	case BindFloat8:
		return "FLT8BIND"
	default:
		return "NOBIND"
	}
}

// Scalar is a bound value slot. Only the field matching Kind is meaningful.
type Scalar struct {
	Kind    BindKind
	Int16   int16
	Int32   int32
	Int64   int64
	Float32 float32
	Float64 float64
}

// Value returns the slot contents as a Go value of the bound width.
func (s Scalar) Value() any {
	switch s.Kind {
	case BindSmallInt:
		return s.Int16
	case BindInt:
		return s.Int32
	case BindBigInt:
		return s.Int64
	case BindReal:
		return s.Float32
	case BindFloat8:
		return s.Float64
	default:
		return nil
	}
}
