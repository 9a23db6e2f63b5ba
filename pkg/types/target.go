package types

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nnnkkk7/tds-bridge/pkg/fdwerr"
)

// TargetType represents a local column type declared by the caller.
type TargetType string

// Target type constants.
const (
	TargetSmallInt    TargetType = "int2"
	TargetInteger     TargetType = "int4"
	TargetBigInt      TargetType = "int8"
	TargetReal        TargetType = "float4"
	TargetDouble      TargetType = "float8"
	TargetNumeric     TargetType = "numeric"
	TargetBoolean     TargetType = "bool"
	TargetText        TargetType = "text"
	TargetVarchar     TargetType = "varchar"
	TargetBytea       TargetType = "bytea"
	TargetDate        TargetType = "date"
	TargetTime        TargetType = "time"
	TargetTimestamp   TargetType = "timestamp"
	TargetTimestampTZ TargetType = "timestamptz"
	TargetUUID        TargetType = "uuid"
)

// ErrInvalidInput is returned when text cannot be parsed as a target type.
var ErrInvalidInput = errors.New("invalid input syntax")

var targetTypeAliases = map[string]TargetType{
	"int2":                        TargetSmallInt,
	"smallint":                    TargetSmallInt,
	"int4":                        TargetInteger,
	"int":                         TargetInteger,
	"integer":                     TargetInteger,
	"int8":                        TargetBigInt,
	"bigint":                      TargetBigInt,
	"float4":                      TargetReal,
	"real":                        TargetReal,
	"float8":                      TargetDouble,
	"double precision":            TargetDouble,
	"numeric":                     TargetNumeric,
	"decimal":                     TargetNumeric,
	"bool":                        TargetBoolean,
	"boolean":                     TargetBoolean,
	"text":                        TargetText,
	"varchar":                     TargetVarchar,
	"character varying":           TargetVarchar,
	"bytea":                       TargetBytea,
	"date":                        TargetDate,
	"time":                        TargetTime,
	"time without time zone":      TargetTime,
	"timestamp":                   TargetTimestamp,
	"timestamp without time zone": TargetTimestamp,
	"timestamptz":                 TargetTimestampTZ,
	"timestamp with time zone":    TargetTimestampTZ,
	"uuid":                        TargetUUID,
}

// ParseTargetType resolves a declared column type name. Names are matched
// case-insensitively and a trailing type modifier such as "(10,2)" is ignored.
func ParseTargetType(name string) (TargetType, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if i := strings.IndexByte(normalized, '('); i >= 0 {
		normalized = strings.TrimSpace(normalized[:i])
	}
	normalized = strings.Join(strings.Fields(normalized), " ")

	if t, ok := targetTypeAliases[normalized]; ok {
		return t, nil
	}
	return "", fdwerr.NewConfigError("unknown target type %q", name)
}

// IsNumeric returns true if the target type holds numbers.
func (t TargetType) IsNumeric() bool {
	switch t {
	case TargetSmallInt, TargetInteger, TargetBigInt, TargetReal, TargetDouble, TargetNumeric:
		return true
	default:
		return false
	}
}

// TargetColumn is one column of a locally declared table.
type TargetColumn struct {
	Name string
	Type TargetType
}

// TargetSchema is the ordered column list of a locally declared table.
type TargetSchema []TargetColumn

// Names returns the column names in declaration order.
func (s TargetSchema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

var timestampTZLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999 -0700",
}

// ParseText converts text into the Go representation of a target type:
// int16, int32, int64, float32, float64, decimal.Decimal, bool, string,
// []byte, time.Time (date and timestamps), time.Duration (time of day)
// or uuid.UUID.
func ParseText(t TargetType, text string) (any, error) {
	v, err := parseText(t, text)
	if err != nil {
		return nil, fmt.Errorf("%w for type %s: %q", ErrInvalidInput, t, text)
	}
	return v, nil
}

func parseText(t TargetType, text string) (any, error) {
	switch t {
	case TargetSmallInt:
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 16)
		return int16(n), err
	case TargetInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 32)
		return int32(n), err
	case TargetBigInt:
		return strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	case TargetReal:
		f, err := parseFloat(text, 32)
		return float32(f), err
	case TargetDouble:
		return parseFloat(text, 64)
	case TargetNumeric:
		return decimal.NewFromString(strings.TrimSpace(text))
	case TargetBoolean:
		return parseBool(text)
	case TargetText, TargetVarchar:
		return text, nil
	case TargetBytea:
		return parseBytea(text)
	case TargetDate:
		ts, err := parseTimestamp(text)
		if err != nil {
			return nil, err
		}
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC), nil
	case TargetTime:
		return parseTimeOfDay(text)
	case TargetTimestamp:
		return parseTimestamp(text)
	case TargetTimestampTZ:
		s := strings.TrimSpace(text)
		for _, layout := range timestampTZLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, nil
			}
		}
		return parseTimestamp(s)
	case TargetUUID:
		return uuid.Parse(strings.TrimSpace(text))
	default:
		return nil, fmt.Errorf("unsupported target type %q", t)
	}
}

func parseFloat(text string, bitSize int) (float64, error) {
	s := strings.TrimSpace(text)
	switch strings.ToLower(s) {
	case "nan":
		return math.NaN(), nil
	case "infinity", "inf", "+infinity":
		return math.Inf(1), nil
	case "-infinity", "-inf":
		return math.Inf(-1), nil
	}
	return strconv.ParseFloat(s, bitSize)
}

func parseBool(text string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "t", "true", "y", "yes", "on", "1":
		return true, nil
	case "f", "false", "n", "no", "off", "0":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean: %q", text)
	}
}

func parseBytea(text string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(text, `\x`); ok {
		out := make([]byte, len(rest)/2)
		if len(rest)%2 != 0 {
			return nil, fmt.Errorf("odd number of hex digits")
		}
		for i := range out {
			b, err := strconv.ParseUint(rest[2*i:2*i+2], 16, 8)
			if err != nil {
				return nil, err
			}
			out[i] = byte(b)
		}
		return out, nil
	}
	return []byte(text), nil
}

// parseTimestamp parses a timestamp without time zone. A trailing zone
// offset is accepted and ignored.
func parseTimestamp(text string) (time.Time, error) {
	s := strings.TrimSpace(text)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampTZLayouts[1:] {
		if ts, err := time.Parse(layout, s); err == nil {
			return wallClock(ts), nil
		}
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return wallClock(ts), nil
}

// wallClock keeps the local date and time of ts and drops its zone.
func wallClock(ts time.Time) time.Time {
	return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(), ts.Nanosecond(), time.UTC)
}

func parseTimeOfDay(text string) (time.Duration, error) {
	s := strings.TrimSpace(text)
	for _, layout := range []string{"15:04:05.999999999", "15:04"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return time.Duration(ts.Hour())*time.Hour +
				time.Duration(ts.Minute())*time.Minute +
				time.Duration(ts.Second())*time.Second +
				time.Duration(ts.Nanosecond()), nil
		}
	}
	return 0, fmt.Errorf("not a time of day: %q", text)
}
