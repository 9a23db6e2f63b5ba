// Package coerce holds the closed set of coercions from TDS wire types to
// local target types, together with the generic text conversion, datetime
// cracking and scalar binding routines those coercions rely on.
package coerce

import (
	"fmt"

	"github.com/nnnkkk7/tds-bridge/pkg/types"
)

// Mode selects how a column value reaches its target representation.
type Mode int

// Coercion modes.
const (
	// ModeGenericConvert converts the wire value to text and parses the
	// text with the target type's input rule.
	ModeGenericConvert Mode = iota
	// ModeFastBind moves the value directly, either through a bound
	// scalar or by copying the raw bytes.
	ModeFastBind
)

func (m Mode) String() string {
	if m == ModeFastBind {
		return "FastBind"
	}
	return "GenericConvert"
}

// Strategy is the per pair coercion recipe.
type Strategy int

// Coercion strategies. Every strategy other than StrategyGeneric is a
// FastBind strategy.
const (
	StrategyGeneric Strategy = iota
	StrategyBindSmallInt
	StrategyBindInt
	StrategyBindBigInt
	StrategyBindReal
	StrategyBindFloat8
	StrategyRawText
	StrategyRawBytes
	StrategyDatetime
)

var strategyNames = map[Strategy]string{
	StrategyGeneric:      "generic",
	StrategyBindSmallInt: "bind-smallint",
	StrategyBindInt:      "bind-int",
	StrategyBindBigInt:   "bind-bigint",
	StrategyBindReal:     "bind-real",
	StrategyBindFloat8:   "bind-float8",
	StrategyRawText:      "raw-text",
	StrategyRawBytes:     "raw-bytes",
	StrategyDatetime:     "datetime",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// Mode returns the coercion mode implied by the strategy.
func (s Strategy) Mode() Mode {
	if s == StrategyGeneric {
		return ModeGenericConvert
	}
	return ModeFastBind
}

// BindKind returns the scalar bind kind for strategies whose values are
// captured by the remote client before decoding.
func (s Strategy) BindKind() (types.BindKind, bool) {
	switch s {
	case StrategyBindSmallInt:
		return types.BindSmallInt, true
	case StrategyBindInt:
		return types.BindInt, true
	case StrategyBindBigInt:
		return types.BindBigInt, true
	case StrategyBindReal:
		return types.BindReal, true
	case StrategyBindFloat8:
		return types.BindFloat8, true
	default:
		return types.BindNone, false
	}
}

// target returns the only target type a FastBind strategy may produce.
func (s Strategy) target() (types.TargetType, bool) {
	switch s {
	case StrategyBindSmallInt:
		return types.TargetSmallInt, true
	case StrategyBindInt:
		return types.TargetInteger, true
	case StrategyBindBigInt:
		return types.TargetBigInt, true
	case StrategyBindReal:
		return types.TargetReal, true
	case StrategyBindFloat8:
		return types.TargetDouble, true
	case StrategyRawText:
		return types.TargetText, true
	case StrategyRawBytes:
		return types.TargetBytea, true
	case StrategyDatetime:
		return types.TargetTimestamp, true
	default:
		return "", false
	}
}

// Pair is a (wire type, target type) key of the coercion table.
type Pair struct {
	Wire   types.WireType
	Target types.TargetType
}

type tableEntry struct {
	Pair
	strategy Strategy
}

var fastBindEntries = []tableEntry{
	{Pair{types.WireInt2, types.TargetSmallInt}, StrategyBindSmallInt},
	{Pair{types.WireInt4, types.TargetInteger}, StrategyBindInt},
	{Pair{types.WireInt8, types.TargetBigInt}, StrategyBindBigInt},
	{Pair{types.WireReal, types.TargetReal}, StrategyBindReal},
	{Pair{types.WireFlt8, types.TargetDouble}, StrategyBindFloat8},
	{Pair{types.WireChar, types.TargetText}, StrategyRawText},
	{Pair{types.WireVarChar, types.TargetText}, StrategyRawText},
	{Pair{types.WireText, types.TargetText}, StrategyRawText},
	{Pair{types.WireBinary, types.TargetBytea}, StrategyRawBytes},
	{Pair{types.WireVarBinary, types.TargetBytea}, StrategyRawBytes},
	{Pair{types.WireImage, types.TargetBytea}, StrategyRawBytes},
	{Pair{types.WireDatetime, types.TargetTimestamp}, StrategyDatetime},
}

var table = buildTable(fastBindEntries)

// buildTable indexes the entries and panics on duplicate pairs or on a
// strategy whose output type disagrees with the pair's target type.
func buildTable(entries []tableEntry) map[Pair]Strategy {
	t := make(map[Pair]Strategy, len(entries))
	for _, e := range entries {
		if _, dup := t[e.Pair]; dup {
			panic(fmt.Sprintf("coerce: duplicate coercion for %v -> %s", e.Wire, e.Target))
		}
		want, ok := e.strategy.target()
		if !ok || want != e.Target {
			panic(fmt.Sprintf("coerce: strategy %s cannot produce %s", e.strategy, e.Target))
		}
		if e.strategy == StrategyRawText && !e.Wire.IsCharacter() {
			panic(fmt.Sprintf("coerce: raw text from non-character wire type %v", e.Wire))
		}
		if e.strategy == StrategyRawBytes && !e.Wire.IsBinary() {
			panic(fmt.Sprintf("coerce: raw bytes from non-binary wire type %v", e.Wire))
		}
		t[e.Pair] = e.strategy
	}
	return t
}

// Lookup returns the strategy for a pair. Pairs outside the FastBind set
// use StrategyGeneric.
func Lookup(w types.WireType, t types.TargetType) Strategy {
	if s, ok := table[Pair{Wire: w, Target: t}]; ok {
		return s
	}
	return StrategyGeneric
}

// FastBindPairs returns every pair that uses a FastBind strategy.
func FastBindPairs() []Pair {
	pairs := make([]Pair, len(fastBindEntries))
	for i, e := range fastBindEntries {
		pairs[i] = e.Pair
	}
	return pairs
}
