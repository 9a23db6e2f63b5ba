package coerce

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nnnkkk7/tds-bridge/pkg/types"
)

// CanBind reports whether values of wire type w can be captured into a
// scalar of the given kind. Numeric and character wire types can; binary,
// temporal and GUID types cannot.
func CanBind(w types.WireType, kind types.BindKind) bool {
	if kind == types.BindNone {
		return false
	}
	switch w {
	case types.WireInt1, types.WireBit, types.WireInt2, types.WireInt4, types.WireInt8,
		types.WireReal, types.WireFlt8, types.WireMoney, types.WireMoney4,
		types.WireDecimal, types.WireNumeric:
		return true
	default:
		return w.IsCharacter()
	}
}

// Bind captures a non-NULL raw wire value into a scalar of the given kind,
// converting between numeric widths where the value fits.
func Bind(w types.WireType, raw []byte, kind types.BindKind) (types.Scalar, error) {
	if !CanBind(w, kind) {
		return types.Scalar{}, fmt.Errorf("cannot bind %v as %v", w, kind)
	}

	isInt, i, f, err := readNumber(w, raw)
	if err != nil {
		return types.Scalar{}, fmt.Errorf("bind %v as %v: %w", w, kind, err)
	}

	s := types.Scalar{Kind: kind}
	switch kind {
	case types.BindReal:
		if isInt {
			f = float64(i)
		}
		s.Float32 = float32(f)
		return s, nil
	case types.BindFloat8:
		if isInt {
			f = float64(i)
		}
		s.Float64 = f
		return s, nil
	}

	if !isInt {
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return types.Scalar{}, fmt.Errorf("bind %v as %v: %v is not an integer", w, kind, f)
		}
		i = int64(f)
	}
	switch kind {
	case types.BindSmallInt:
		if i < math.MinInt16 || i > math.MaxInt16 {
			return types.Scalar{}, fmt.Errorf("bind %v as %v: %d out of range", w, kind, i)
		}
		s.Int16 = int16(i)
	case types.BindInt:
		if i < math.MinInt32 || i > math.MaxInt32 {
			return types.Scalar{}, fmt.Errorf("bind %v as %v: %d out of range", w, kind, i)
		}
		s.Int32 = int32(i)
	case types.BindBigInt:
		s.Int64 = i
	}
	return s, nil
}

// readNumber decodes a numeric or character wire value. It returns either
// an integer (isInt true) or a float.
func readNumber(w types.WireType, raw []byte) (isInt bool, i int64, f float64, err error) {
	if w.IsCharacter() {
		text := strings.TrimSpace(string(raw))
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return true, i, 0, nil
		}
		f, err := strconv.ParseFloat(text, 64)
		return false, 0, f, err
	}
	if err := checkWidth(w, raw); err != nil {
		return false, 0, 0, err
	}

	switch w {
	case types.WireInt1, types.WireBit:
		return true, int64(raw[0]), 0, nil
	case types.WireInt2:
		return true, int64(int16(binary.LittleEndian.Uint16(raw))), 0, nil
	case types.WireInt4:
		return true, int64(int32(binary.LittleEndian.Uint32(raw))), 0, nil
	case types.WireInt8:
		return true, int64(binary.LittleEndian.Uint64(raw)), 0, nil
	case types.WireReal:
		return false, 0, float64(math.Float32frombits(binary.LittleEndian.Uint32(raw))), nil
	case types.WireFlt8:
		return false, 0, math.Float64frombits(binary.LittleEndian.Uint64(raw)), nil
	case types.WireMoney, types.WireMoney4:
		d, err := readMoney(w, raw)
		if err != nil {
			return false, 0, 0, err
		}
		if d.IsInteger() {
			return true, d.IntPart(), 0, nil
		}
		return false, 0, d.InexactFloat64(), nil
	case types.WireDecimal, types.WireNumeric:
		d, _, err := readDecimal(raw)
		if err != nil {
			return false, 0, 0, err
		}
		if d.IsInteger() && d.BigInt().IsInt64() {
			return true, d.IntPart(), 0, nil
		}
		return false, 0, d.InexactFloat64(), nil
	default:
		return false, 0, 0, fmt.Errorf("no numeric value for %v", w)
	}
}
