package coerce

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nnnkkk7/tds-bridge/pkg/types"
)

// EncodeValue appends the wire representation of a non-NULL driver value to
// dst. It accepts the Go values database/sql drivers produce (integers,
// floats, bool, string, []byte, time.Time) plus decimal.Decimal, *big.Int
// and uuid.UUID.
func EncodeValue(w types.WireType, v any, dst []byte) ([]byte, error) {
	switch {
	case w.IsCharacter():
		return append(dst, valueText(v)...), nil
	case w.IsBinary():
		switch b := v.(type) {
		case []byte:
			return append(dst, b...), nil
		case string:
			return append(dst, b...), nil
		default:
			return nil, fmt.Errorf("cannot encode %T as %v", v, w)
		}
	}

	switch w {
	case types.WireInt1, types.WireInt2, types.WireInt4, types.WireInt8, types.WireBit:
		n, err := toInt64(v)
		if err != nil {
			return nil, fmt.Errorf("cannot encode %T as %v: %w", v, w, err)
		}
		return appendInt(w, n, dst)
	case types.WireReal:
		f, err := toFloat64(v)
		if err != nil {
			return nil, fmt.Errorf("cannot encode %T as %v: %w", v, w, err)
		}
		return binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(f))), nil
	case types.WireFlt8:
		f, err := toFloat64(v)
		if err != nil {
			return nil, fmt.Errorf("cannot encode %T as %v: %w", v, w, err)
		}
		return binary.LittleEndian.AppendUint64(dst, math.Float64bits(f)), nil
	case types.WireMoney, types.WireMoney4:
		d, err := toDecimal(v)
		if err != nil {
			return nil, fmt.Errorf("cannot encode %T as %v: %w", v, w, err)
		}
		return appendMoney(w, d, dst)
	case types.WireDecimal, types.WireNumeric:
		d, err := toDecimal(v)
		if err != nil {
			return nil, fmt.Errorf("cannot encode %T as %v: %w", v, w, err)
		}
		return appendDecimal(d, 0, dst)
	case types.WireDatetime:
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("cannot encode %T as %v", v, w)
		}
		return appendDatetime(t, dst)
	case types.WireDatetime4:
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("cannot encode %T as %v", v, w)
		}
		days := daysSinceEpoch(t)
		if days < 0 || days > math.MaxUint16 {
			return nil, fmt.Errorf("%s out of DATETIME4 range", t)
		}
		dst = binary.LittleEndian.AppendUint16(dst, uint16(days))
		return binary.LittleEndian.AppendUint16(dst, uint16(t.Hour()*60+t.Minute())), nil
	case types.WireUnique:
		return appendGUID(v, dst)
	default:
		return nil, fmt.Errorf("%w: %v", ErrNotConvertible, w)
	}
}

// EncodeColumn is EncodeValue for a described column. DECIMAL and NUMERIC
// values are encoded with at least the column's declared scale, so that
// 95000.00 from a DECIMAL(10,2) column is not sent as 95000.
func EncodeColumn(col types.ColumnDescriptor, v any, dst []byte) ([]byte, error) {
	if col.WireType != types.WireDecimal && col.WireType != types.WireNumeric {
		return EncodeValue(col.WireType, v, dst)
	}
	d, err := toDecimal(v)
	if err != nil {
		return nil, fmt.Errorf("cannot encode %T as %v: %w", v, col.WireType, err)
	}
	return appendDecimal(d, int32(col.Scale), dst)
}

func appendInt(w types.WireType, n int64, dst []byte) ([]byte, error) {
	switch w {
	case types.WireBit:
		if n != 0 {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil
	case types.WireInt1:
		if n < 0 || n > math.MaxUint8 {
			return nil, fmt.Errorf("%d out of INT1 range", n)
		}
		return append(dst, byte(n)), nil
	case types.WireInt2:
		if n < math.MinInt16 || n > math.MaxInt16 {
			return nil, fmt.Errorf("%d out of INT2 range", n)
		}
		return binary.LittleEndian.AppendUint16(dst, uint16(int16(n))), nil
	case types.WireInt4:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("%d out of INT4 range", n)
		}
		return binary.LittleEndian.AppendUint32(dst, uint32(int32(n))), nil
	default:
		return binary.LittleEndian.AppendUint64(dst, uint64(n)), nil
	}
}

func appendMoney(w types.WireType, d decimal.Decimal, dst []byte) ([]byte, error) {
	scaled := d.Shift(4).Round(0)
	if !scaled.BigInt().IsInt64() {
		return nil, fmt.Errorf("%s out of %v range", d, w)
	}
	units := scaled.IntPart()
	if w == types.WireMoney4 {
		if units < math.MinInt32 || units > math.MaxInt32 {
			return nil, fmt.Errorf("%s out of MONEY4 range", d)
		}
		return binary.LittleEndian.AppendUint32(dst, uint32(int32(units))), nil
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(int32(units>>32)))
	return binary.LittleEndian.AppendUint32(dst, uint32(units)), nil
}

func appendDecimal(d decimal.Decimal, minScale int32, dst []byte) ([]byte, error) {
	scale := max(minScale, 0)
	if -d.Exponent() > scale {
		scale = -d.Exponent()
	}
	if scale > 77 {
		return nil, fmt.Errorf("decimal scale %d too large", scale)
	}
	coef := d.Shift(scale).BigInt()
	sign := byte(0)
	if coef.Sign() < 0 {
		sign = 1
	}
	mag := new(big.Int).Abs(coef)

	precision := len(mag.String())
	if precision < int(scale) {
		precision = int(scale)
	}
	if precision == 0 {
		precision = 1
	}
	if precision > 77 {
		return nil, fmt.Errorf("decimal precision %d too large", precision)
	}

	magBytes := mag.Bytes()
	if len(magBytes) == 0 {
		magBytes = []byte{0}
	}
	dst = append(dst, byte(precision), byte(scale), sign)
	return append(dst, magBytes...), nil
}

func appendDatetime(t time.Time, dst []byte) ([]byte, error) {
	days := daysSinceEpoch(t)
	seconds := int64(t.Hour()*3600 + t.Minute()*60 + t.Second())
	ticks := seconds*TicksPerSecond + (int64(t.Nanosecond())*TicksPerSecond+int64(time.Second)/2)/int64(time.Second)
	if ticks >= secondsPerDay*TicksPerSecond {
		days++
		ticks -= secondsPerDay * TicksPerSecond
	}
	if days < math.MinInt32 || days > math.MaxInt32 {
		return nil, fmt.Errorf("%s out of DATETIME range", t)
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(int32(days)))
	return binary.LittleEndian.AppendUint32(dst, uint32(ticks)), nil
}

func appendGUID(v any, dst []byte) ([]byte, error) {
	switch g := v.(type) {
	case []byte:
		// Drivers hand back GUID columns in wire order already.
		if len(g) != 16 {
			return nil, fmt.Errorf("GUID must be 16 bytes, got %d", len(g))
		}
		return append(dst, g...), nil
	case uuid.UUID:
		return append(dst, guidToWire(g)...), nil
	case [16]byte:
		return append(dst, guidToWire(uuid.UUID(g))...), nil
	case string:
		u, err := uuid.Parse(g)
		if err != nil {
			return nil, err
		}
		return append(dst, guidToWire(u)...), nil
	default:
		return nil, fmt.Errorf("cannot encode %T as UNIQUE", v)
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", n)
		}
		return int64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	default:
		return 0, fmt.Errorf("unsupported integer source %T", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	case []byte:
		return strconv.ParseFloat(string(n), 64)
	case decimal.Decimal:
		return n.InexactFloat64(), nil
	default:
		i, err := toInt64(v)
		if err != nil {
			return 0, fmt.Errorf("unsupported float source %T", v)
		}
		return float64(i), nil
	}
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case *big.Int:
		return decimal.NewFromBigInt(n, 0), nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case float32:
		return decimal.NewFromFloat32(n), nil
	case string:
		return decimal.NewFromString(n)
	case []byte:
		return decimal.NewFromString(string(n))
	case fmt.Stringer:
		return decimal.NewFromString(n.String())
	default:
		i, err := toInt64(v)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("unsupported decimal source %T", v)
		}
		return decimal.NewFromInt(i), nil
	}
}

// valueText renders a driver value as character data.
func valueText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		if x.Year() == 1 && x.Month() == time.January && x.Day() == 1 {
			return x.Format("15:04:05.999999999")
		}
		if x.Location() == time.UTC {
			return x.Format("2006-01-02 15:04:05.999999999")
		}
		return x.Format("2006-01-02 15:04:05.999999999-07:00")
	case bool:
		if x {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}
