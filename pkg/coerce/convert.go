package coerce

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nnnkkk7/tds-bridge/pkg/types"
)

// MaxGenericTextLen caps the text produced for wire types that are neither
// character, binary nor datetime.
const MaxGenericTextLen = 1000

// DatetimeTextLayout is the rendering of cracked datetime values.
const DatetimeTextLayout = "2006-01-02 15:04:05.000"

var (
	// ErrNotConvertible is returned for wire types with no text conversion.
	ErrNotConvertible = errors.New("wire type is not convertible")

	// ErrConversionFailed is returned when a wire value is malformed or
	// its text form exceeds the allowed size.
	ErrConversionFailed = errors.New("conversion failed")
)

// Converted is the outcome of a generic conversion. Binary wire types fill
// Bytes with exactly the raw length; every other type fills Text.
type Converted struct {
	Text  string
	Bytes []byte
}

// String returns the converted value as input text for a target parser.
func (c Converted) String() string {
	if c.Bytes != nil {
		return string(c.Bytes)
	}
	return c.Text
}

// WillConvert reports whether a wire type has a generic conversion.
func WillConvert(w types.WireType) bool {
	return types.WireTypeFromCode(int(w)) != types.WireUnknown
}

// ToText converts a raw wire value. raw must be non-NULL; callers resolve
// NULL before converting.
func ToText(w types.WireType, raw []byte) (Converted, error) {
	if !WillConvert(w) {
		return Converted{}, fmt.Errorf("%w: %v", ErrNotConvertible, w)
	}

	switch {
	case w.IsCharacter():
		return Converted{Text: string(raw)}, nil
	case w.IsBinary():
		out := make([]byte, len(raw))
		copy(out, raw)
		return Converted{Bytes: out}, nil
	case w == types.WireDatetime:
		rec, err := CrackDatetime(raw)
		if err != nil {
			return Converted{}, fmt.Errorf("%w: %v", ErrConversionFailed, err)
		}
		ts, err := rec.Timestamp()
		if err != nil {
			return Converted{}, fmt.Errorf("%w: %v", ErrConversionFailed, err)
		}
		return Converted{Text: ts.Format(DatetimeTextLayout)}, nil
	}

	text, err := genericText(w, raw)
	if err != nil {
		return Converted{}, fmt.Errorf("%w: %v: %v", ErrConversionFailed, w, err)
	}
	if len(text) > MaxGenericTextLen {
		return Converted{}, fmt.Errorf("%w: %v value exceeds %d bytes", ErrConversionFailed, w, MaxGenericTextLen)
	}
	return Converted{Text: text}, nil
}

func checkWidth(w types.WireType, raw []byte) error {
	if n, ok := w.FixedWidth(); ok && len(raw) != n {
		return fmt.Errorf("expected %d bytes, got %d", n, len(raw))
	}
	return nil
}

func genericText(w types.WireType, raw []byte) (string, error) {
	if err := checkWidth(w, raw); err != nil {
		return "", err
	}

	switch w {
	case types.WireInt1:
		return strconv.FormatUint(uint64(raw[0]), 10), nil
	case types.WireBit:
		if raw[0] != 0 {
			return "1", nil
		}
		return "0", nil
	case types.WireInt2:
		return strconv.FormatInt(int64(int16(binary.LittleEndian.Uint16(raw))), 10), nil
	case types.WireInt4:
		return strconv.FormatInt(int64(int32(binary.LittleEndian.Uint32(raw))), 10), nil
	case types.WireInt8:
		return strconv.FormatInt(int64(binary.LittleEndian.Uint64(raw)), 10), nil
	case types.WireReal:
		f := math.Float32frombits(binary.LittleEndian.Uint32(raw))
		return strconv.FormatFloat(float64(f), 'g', -1, 32), nil
	case types.WireFlt8:
		f := math.Float64frombits(binary.LittleEndian.Uint64(raw))
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	case types.WireMoney, types.WireMoney4:
		d, err := readMoney(w, raw)
		if err != nil {
			return "", err
		}
		return d.StringFixed(4), nil
	case types.WireDecimal, types.WireNumeric:
		d, scale, err := readDecimal(raw)
		if err != nil {
			return "", err
		}
		return d.StringFixed(scale), nil
	case types.WireDatetime4:
		rec, err := CrackDatetime4(raw)
		if err != nil {
			return "", err
		}
		ts, err := rec.Timestamp()
		if err != nil {
			return "", err
		}
		return ts.Format(DatetimeTextLayout), nil
	case types.WireUnique:
		return strings.ToUpper(guidFromWire(raw).String()), nil
	default:
		return "", fmt.Errorf("no conversion for %v", w)
	}
}

// readMoney decodes MONEY (high int32 then low uint32) and MONEY4 (int32),
// both counting ten-thousandths.
func readMoney(w types.WireType, raw []byte) (decimal.Decimal, error) {
	if err := checkWidth(w, raw); err != nil {
		return decimal.Decimal{}, err
	}
	var units int64
	if w == types.WireMoney4 {
		units = int64(int32(binary.LittleEndian.Uint32(raw)))
	} else {
		hi := int64(int32(binary.LittleEndian.Uint32(raw[0:4])))
		lo := int64(binary.LittleEndian.Uint32(raw[4:8]))
		units = hi<<32 | lo
	}
	return decimal.New(units, -4), nil
}

// readDecimal decodes a DECIMAL or NUMERIC value laid out as precision,
// scale, sign (0 positive, 1 negative) and a big-endian magnitude.
func readDecimal(raw []byte) (decimal.Decimal, int32, error) {
	if len(raw) < 4 {
		return decimal.Decimal{}, 0, fmt.Errorf("decimal value too short: %d bytes", len(raw))
	}
	precision, scale, sign := raw[0], raw[1], raw[2]
	if precision == 0 || precision > 77 || scale > precision {
		return decimal.Decimal{}, 0, fmt.Errorf("invalid decimal precision %d scale %d", precision, scale)
	}
	if sign > 1 {
		return decimal.Decimal{}, 0, fmt.Errorf("invalid decimal sign byte %d", sign)
	}
	mag := new(big.Int).SetBytes(raw[3:])
	if sign == 1 {
		mag.Neg(mag)
	}
	return decimal.NewFromBigInt(mag, -int32(scale)), int32(scale), nil
}

// guidFromWire reorders a SQL Server GUID, whose first three groups are
// little-endian, into RFC 4122 byte order.
func guidFromWire(raw []byte) uuid.UUID {
	var u uuid.UUID
	copy(u[:], raw)
	u[0], u[1], u[2], u[3] = raw[3], raw[2], raw[1], raw[0]
	u[4], u[5] = raw[5], raw[4]
	u[6], u[7] = raw[7], raw[6]
	return u
}

// guidToWire is the inverse of guidFromWire.
func guidToWire(u uuid.UUID) []byte {
	out := make([]byte, 16)
	copy(out, u[:])
	out[0], out[1], out[2], out[3] = u[3], u[2], u[1], u[0]
	out[4], out[5] = u[5], u[4]
	out[6], out[7] = u[7], u[6]
	return out
}
