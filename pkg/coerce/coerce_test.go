package coerce

import (
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/nnnkkk7/tds-bridge/pkg/types"
)

// TestLookup tests the FastBind pair set and the generic default.
func TestLookup(t *testing.T) {
	tests := []struct {
		name     string
		wire     types.WireType
		target   types.TargetType
		expected Strategy
	}{
		{name: "Int2ToSmallInt", wire: types.WireInt2, target: types.TargetSmallInt, expected: StrategyBindSmallInt},
		{name: "Int4ToInteger", wire: types.WireInt4, target: types.TargetInteger, expected: StrategyBindInt},
		{name: "Int8ToBigInt", wire: types.WireInt8, target: types.TargetBigInt, expected: StrategyBindBigInt},
		{name: "RealToReal", wire: types.WireReal, target: types.TargetReal, expected: StrategyBindReal},
		{name: "Flt8ToDouble", wire: types.WireFlt8, target: types.TargetDouble, expected: StrategyBindFloat8},
		{name: "VarCharToText", wire: types.WireVarChar, target: types.TargetText, expected: StrategyRawText},
		{name: "ImageToBytea", wire: types.WireImage, target: types.TargetBytea, expected: StrategyRawBytes},
		{name: "DatetimeToTimestamp", wire: types.WireDatetime, target: types.TargetTimestamp, expected: StrategyDatetime},
		{name: "Int4ToBigInt", wire: types.WireInt4, target: types.TargetBigInt, expected: StrategyGeneric},
		{name: "VarCharToVarchar", wire: types.WireVarChar, target: types.TargetVarchar, expected: StrategyGeneric},
		{name: "DatetimeToTimestampTZ", wire: types.WireDatetime, target: types.TargetTimestampTZ, expected: StrategyGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Lookup(tt.wire, tt.target)
			if got != tt.expected {
				t.Errorf("Lookup(%v, %s) = %v, want %v", tt.wire, tt.target, got, tt.expected)
			}
			wantMode := ModeFastBind
			if tt.expected == StrategyGeneric {
				wantMode = ModeGenericConvert
			}
			if got.Mode() != wantMode {
				t.Errorf("Mode() = %v, want %v", got.Mode(), wantMode)
			}
		})
	}
}

// TestBuildTable_Panics tests the construction time table checks.
func TestBuildTable_Panics(t *testing.T) {
	tests := []struct {
		name    string
		entries []tableEntry
	}{
		{
			name: "Duplicate",
			entries: []tableEntry{
				{Pair{types.WireInt4, types.TargetInteger}, StrategyBindInt},
				{Pair{types.WireInt4, types.TargetInteger}, StrategyBindInt},
			},
		},
		{
			name:    "WrongTarget",
			entries: []tableEntry{{Pair{types.WireInt4, types.TargetBigInt}, StrategyBindInt}},
		},
		{
			name:    "RawTextFromInteger",
			entries: []tableEntry{{Pair{types.WireInt4, types.TargetText}, StrategyRawText}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("buildTable() did not panic")
				}
			}()
			buildTable(tt.entries)
		})
	}
}

func mustEncode(t *testing.T, w types.WireType, v any) []byte {
	t.Helper()
	raw, err := EncodeValue(w, v, nil)
	if err != nil {
		t.Fatalf("EncodeValue(%v, %v) error = %v", w, v, err)
	}
	return raw
}

// TestToText tests the generic conversion of each wire type family.
func TestToText(t *testing.T) {
	guid := uuid.MustParse("6F9619FF-8B86-D011-B42D-00C04FC964FF")

	tests := []struct {
		name     string
		wire     types.WireType
		raw      []byte
		expected Converted
	}{
		{name: "Char", wire: types.WireChar, raw: []byte("abc "), expected: Converted{Text: "abc "}},
		{name: "VarBinary", wire: types.WireVarBinary, raw: []byte{0, 1, 2}, expected: Converted{Bytes: []byte{0, 1, 2}}},
		{name: "Int1", wire: types.WireInt1, raw: []byte{200}, expected: Converted{Text: "200"}},
		{name: "Bit", wire: types.WireBit, raw: []byte{1}, expected: Converted{Text: "1"}},
		{name: "Int2", wire: types.WireInt2, raw: mustEncode(t, types.WireInt2, -300), expected: Converted{Text: "-300"}},
		{name: "Int8", wire: types.WireInt8, raw: mustEncode(t, types.WireInt8, int64(math.MaxInt64)), expected: Converted{Text: "9223372036854775807"}},
		{name: "Real", wire: types.WireReal, raw: mustEncode(t, types.WireReal, float32(0.1)), expected: Converted{Text: "0.1"}},
		{name: "Flt8", wire: types.WireFlt8, raw: mustEncode(t, types.WireFlt8, 2.5e-10), expected: Converted{Text: "2.5e-10"}},
		{name: "Money", wire: types.WireMoney, raw: mustEncode(t, types.WireMoney, "-922337203685477.5808"), expected: Converted{Text: "-922337203685477.5808"}},
		{name: "Money4", wire: types.WireMoney4, raw: mustEncode(t, types.WireMoney4, "12.5"), expected: Converted{Text: "12.5000"}},
		{name: "Numeric", wire: types.WireNumeric, raw: []byte{5, 2, 1, 0x30, 0x39}, expected: Converted{Text: "-123.45"}},
		{name: "Decimal", wire: types.WireDecimal, raw: mustEncode(t, types.WireDecimal, "0.001"), expected: Converted{Text: "0.001"}},
		{name: "Datetime", wire: types.WireDatetime, raw: mustEncode(t, types.WireDatetime, time.Date(2024, 2, 29, 23, 59, 59, 997000000, time.UTC)), expected: Converted{Text: "2024-02-29 23:59:59.997"}},
		{name: "Datetime4", wire: types.WireDatetime4, raw: mustEncode(t, types.WireDatetime4, time.Date(2001, 9, 9, 1, 46, 0, 0, time.UTC)), expected: Converted{Text: "2001-09-09 01:46:00.000"}},
		{name: "Unique", wire: types.WireUnique, raw: mustEncode(t, types.WireUnique, guid), expected: Converted{Text: "6F9619FF-8B86-D011-B42D-00C04FC964FF"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToText(tt.wire, tt.raw)
			if err != nil {
				t.Fatalf("ToText() error = %v", err)
			}
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("ToText() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestToText_Failures tests the non-fatal conversion failures.
func TestToText_Failures(t *testing.T) {
	tests := []struct {
		name    string
		wire    types.WireType
		raw     []byte
		wantErr error
	}{
		{name: "UnknownWireType", wire: types.WireType(31), raw: []byte{1}, wantErr: ErrNotConvertible},
		{name: "ShortInt4", wire: types.WireInt4, raw: []byte{1, 2, 3}, wantErr: ErrConversionFailed},
		{name: "BadDecimalSign", wire: types.WireDecimal, raw: []byte{5, 0, 7, 1}, wantErr: ErrConversionFailed},
		{name: "DatetimeTicksOutOfRange", wire: types.WireDatetime, raw: []byte{0, 0, 0, 0, 0xff, 0xff, 0xff, 0xff}, wantErr: ErrConversionFailed},
		{name: "OversizeNumeric", wire: types.WireNumeric, raw: oversizeNumeric(), wantErr: ErrConversionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToText(tt.wire, tt.raw)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ToText() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// oversizeNumeric builds a NUMERIC whose text form exceeds the generic cap.
func oversizeNumeric() []byte {
	raw := []byte{77, 77, 0}
	return append(raw, []byte(strings.Repeat("\xff", 500))...)
}

// TestCrackDatetime tests cracking of the DATETIME layout.
func TestCrackDatetime(t *testing.T) {
	days := int32(-1)
	raw := make([]byte, 8)
	binary.LittleEndian.PutUint32(raw[0:4], uint32(days))
	binary.LittleEndian.PutUint32(raw[4:8], (13*3600+5*60+7)*TicksPerSecond+150)

	rec, err := CrackDatetime(raw)
	if err != nil {
		t.Fatalf("CrackDatetime() error = %v", err)
	}

	expected := DateRec{
		Year: 1899, Month: 12, Day: 31, DayOfYear: 365, Weekday: time.Sunday,
		Hour: 13, Minute: 5, Second: 7, Millisecond: 500,
	}
	if diff := cmp.Diff(expected, rec); diff != "" {
		t.Errorf("CrackDatetime() mismatch (-want +got):\n%s", diff)
	}

	if _, err := CrackDatetime(raw[:4]); err == nil {
		t.Error("CrackDatetime() with 4 bytes should fail")
	}
}

// TestCrackDatetime_TickRounding tests that ticks round to the nearest millisecond.
func TestCrackDatetime_TickRounding(t *testing.T) {
	tests := []struct {
		ticks  uint32
		wantMS int
	}{
		{ticks: 0, wantMS: 0},
		{ticks: 1, wantMS: 3},
		{ticks: 2, wantMS: 7},
		{ticks: 150, wantMS: 500},
		{ticks: 298, wantMS: 993},
		{ticks: 299, wantMS: 997},
		{ticks: 12*3600*TicksPerSecond + 2, wantMS: 7},
	}

	for _, tt := range tests {
		raw := make([]byte, 8)
		binary.LittleEndian.PutUint32(raw[4:8], tt.ticks)
		rec, err := CrackDatetime(raw)
		if err != nil {
			t.Fatalf("CrackDatetime(ticks=%d) error = %v", tt.ticks, err)
		}
		if rec.Millisecond != tt.wantMS {
			t.Errorf("CrackDatetime(ticks=%d) Millisecond = %d, want %d", tt.ticks, rec.Millisecond, tt.wantMS)
		}
	}
}

// TestDateRecFromZeroBasedMonth tests that zero-based months are normalized.
func TestDateRecFromZeroBasedMonth(t *testing.T) {
	rec := DateRecFromZeroBasedMonth(2023, 0, 31, 8, 30, 15, 250)
	if rec.Month != 1 {
		t.Fatalf("Month = %d, want 1", rec.Month)
	}
	ts, err := rec.Timestamp()
	if err != nil {
		t.Fatalf("Timestamp() error = %v", err)
	}
	want := time.Date(2023, 1, 31, 8, 30, 15, 250000000, time.UTC)
	if !ts.Equal(want) {
		t.Errorf("Timestamp() = %v, want %v", ts, want)
	}

	invalid := DateRecFromZeroBasedMonth(2023, 12, 1, 0, 0, 0, 0)
	if _, err := invalid.Timestamp(); err == nil {
		t.Error("Timestamp() with month 13 should fail")
	}
}

// TestBind tests scalar binding across numeric widths.
func TestBind(t *testing.T) {
	tests := []struct {
		name     string
		wire     types.WireType
		raw      []byte
		kind     types.BindKind
		expected any
		wantErr  bool
	}{
		{name: "Int4AsInt", wire: types.WireInt4, raw: mustEncode(t, types.WireInt4, -7), kind: types.BindInt, expected: int32(-7)},
		{name: "Int2AsBigInt", wire: types.WireInt2, raw: mustEncode(t, types.WireInt2, 12), kind: types.BindBigInt, expected: int64(12)},
		{name: "RealAsFloat8", wire: types.WireReal, raw: mustEncode(t, types.WireReal, float32(2.5)), kind: types.BindFloat8, expected: float64(2.5)},
		{name: "CharAsInt", wire: types.WireVarChar, raw: []byte(" 42 "), kind: types.BindInt, expected: int32(42)},
		{name: "NumericAsFloat8", wire: types.WireNumeric, raw: mustEncode(t, types.WireNumeric, "1.25"), kind: types.BindFloat8, expected: float64(1.25)},
		{name: "Int8Overflow", wire: types.WireInt8, raw: mustEncode(t, types.WireInt8, int64(1)<<40), kind: types.BindInt, wantErr: true},
		{name: "FractionAsInt", wire: types.WireFlt8, raw: mustEncode(t, types.WireFlt8, 1.5), kind: types.BindInt, wantErr: true},
		{name: "BinaryAsInt", wire: types.WireBinary, raw: []byte{1}, kind: types.BindInt, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Bind(tt.wire, tt.raw, tt.kind)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Bind() = %v, want error", got.Value())
				}
				return
			}
			if err != nil {
				t.Fatalf("Bind() error = %v", err)
			}
			if diff := cmp.Diff(tt.expected, got.Value()); diff != "" {
				t.Errorf("Bind() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestEncodeValue_Decimal tests that decimals survive encoding exactly.
func TestEncodeValue_Decimal(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		units := rapid.Int64().Draw(t, "units")
		scale := rapid.Int32Range(0, 18).Draw(t, "scale")
		d := decimal.New(units, -scale)

		raw, err := EncodeValue(types.WireNumeric, d, nil)
		if err != nil {
			t.Fatalf("EncodeValue() error = %v", err)
		}
		got, _, err := readDecimal(raw)
		if err != nil {
			t.Fatalf("readDecimal() error = %v", err)
		}
		if !got.Equal(d) {
			t.Fatalf("decimal %s decoded as %s", d, got)
		}
	})
}

// TestEncodeValue_Datetime tests datetime encoding against cracking.
func TestEncodeValue_Datetime(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		days := rapid.IntRange(-53690, 2958463).Draw(t, "days")
		ticks := rapid.IntRange(0, secondsPerDay*TicksPerSecond-1).Draw(t, "ticks")

		raw := make([]byte, 8)
		binary.LittleEndian.PutUint32(raw[0:4], uint32(int32(days)))
		binary.LittleEndian.PutUint32(raw[4:8], uint32(ticks))

		rec, err := CrackDatetime(raw)
		if err != nil {
			t.Fatalf("CrackDatetime() error = %v", err)
		}
		ts, err := rec.Timestamp()
		if err != nil {
			t.Fatalf("Timestamp() error = %v", err)
		}
		again, err := EncodeValue(types.WireDatetime, ts, nil)
		if err != nil {
			t.Fatalf("EncodeValue() error = %v", err)
		}
		rec2, err := CrackDatetime(again)
		if err != nil {
			t.Fatalf("CrackDatetime() error = %v", err)
		}
		if rec != rec2 {
			t.Fatalf("re-encoded datetime cracked as %+v, want %+v", rec2, rec)
		}
	})
}

// TestEncodeColumn_DeclaredScale tests that decimals are padded to the
// scale declared by their column.
func TestEncodeColumn_DeclaredScale(t *testing.T) {
	tests := []struct {
		name     string
		scale    int
		value    any
		expected string
	}{
		{name: "Padded", scale: 2, value: decimal.RequireFromString("95000"), expected: "95000.00"},
		{name: "FromString", scale: 3, value: "1.5", expected: "1.500"},
		{name: "WiderValueScale", scale: 1, value: decimal.RequireFromString("0.125"), expected: "0.125"},
		{name: "Undeclared", scale: 0, value: decimal.RequireFromString("95000.00"), expected: "95000.00"},
		{name: "Zero", scale: 2, value: int64(0), expected: "0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			col := types.ColumnDescriptor{Name: "total", WireType: types.WireDecimal, Ordinal: 1, Scale: tt.scale}
			raw, err := EncodeColumn(col, tt.value, nil)
			if err != nil {
				t.Fatalf("EncodeColumn() error = %v", err)
			}
			got, err := ToText(col.WireType, raw)
			if err != nil {
				t.Fatalf("ToText() error = %v", err)
			}
			if got.Text != tt.expected {
				t.Errorf("ToText() = %q, want %q", got.Text, tt.expected)
			}
		})
	}

	raw, err := EncodeColumn(types.ColumnDescriptor{WireType: types.WireInt4, Scale: 2}, int32(7), nil)
	if err != nil {
		t.Fatalf("EncodeColumn(INT4) error = %v", err)
	}
	if diff := cmp.Diff(mustEncode(t, types.WireInt4, int32(7)), raw); diff != "" {
		t.Errorf("EncodeColumn(INT4) mismatch (-want +got):\n%s", diff)
	}
}
