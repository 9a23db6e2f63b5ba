package types

import (
	"strconv"
	"strings"
)

// TypeMapper maps driver reported column type names to TDS wire types.
// database/sql drivers report names through ColumnType.DatabaseTypeName,
// and each driver has its own spelling, so a mapper is chosen per driver.
type TypeMapper struct {
	typeMapping map[string]WireType
}

// NewSQLServerTypeMapper creates a mapper for the names reported by the
// SQL Server driver.
func NewSQLServerTypeMapper() *TypeMapper {
	return &TypeMapper{
		typeMapping: map[string]WireType{
			"TINYINT":       WireInt1,
			"BIT":           WireBit,
			"SMALLINT":      WireInt2,
			"INT":           WireInt4,
			"BIGINT":        WireInt8,
			"REAL":          WireReal,
			"FLOAT":         WireFlt8,
			"SMALLMONEY":    WireMoney4,
			"MONEY":         WireMoney,
			"DECIMAL":       WireDecimal,
			"NUMERIC":       WireNumeric,
			"SMALLDATETIME": WireDatetime4,
			"DATETIME":      WireDatetime,
			"DATE":          WireDatetime,
			// Types finer than 1/300 s arrive as character data, as
			// DB-Library hands them over below TDS 7.3.
			"DATETIME2":        WireVarChar,
			"DATETIMEOFFSET":   WireVarChar,
			"TIME":             WireVarChar,
			"CHAR":             WireChar,
			"NCHAR":            WireChar,
			"VARCHAR":          WireVarChar,
			"NVARCHAR":         WireVarChar,
			"TEXT":             WireText,
			"NTEXT":            WireText,
			"XML":              WireText,
			"BINARY":           WireBinary,
			"VARBINARY":        WireVarBinary,
			"IMAGE":            WireImage,
			"UNIQUEIDENTIFIER": WireUnique,
			"SQL_VARIANT":      WireVarChar,
		},
	}
}

// NewDuckDBTypeMapper creates a mapper for the names reported by the DuckDB
// driver. DuckDB serves as a loopback remote for local testing.
func NewDuckDBTypeMapper() *TypeMapper {
	return &TypeMapper{
		typeMapping: map[string]WireType{
			"BOOLEAN":  WireBit,
			"UTINYINT": WireInt1,
			"TINYINT":  WireInt2,
			"SMALLINT": WireInt2,
			"INTEGER":  WireInt4,
			"BIGINT":   WireInt8,
			"HUGEINT":  WireNumeric,
			"FLOAT":    WireReal,
			"DOUBLE":   WireFlt8,
			"DECIMAL":  WireDecimal,
			"DATE":     WireDatetime,
			// Microsecond timestamps would lose precision as DATETIME.
			"TIMESTAMP":   WireVarChar,
			"TIMESTAMPTZ": WireVarChar,
			"TIME":        WireVarChar,
			"VARCHAR":     WireVarChar,
			"BLOB":        WireVarBinary,
			"UUID":        WireVarChar,
			"INTERVAL":    WireVarChar,
			"JSON":        WireText,
		},
	}
}

// MapDatabaseType converts a driver type name to its wire type.
// Length and precision modifiers are ignored, and unknown names fall back
// to VARCHAR so that values still reach the generic conversion path.
func (m *TypeMapper) MapDatabaseType(name string) WireType {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	if i := strings.IndexByte(normalized, '('); i >= 0 {
		normalized = normalized[:i]
	}
	if w, ok := m.typeMapping[normalized]; ok {
		return w
	}
	return WireVarChar
}

// DecimalScale returns the scale modifier of a type name such as
// "DECIMAL(10,2)", or 0 when the name carries none.
func (m *TypeMapper) DecimalScale(name string) int {
	open := strings.IndexByte(name, '(')
	end := strings.LastIndexByte(name, ')')
	if open < 0 || end < open {
		return 0
	}
	_, scale, ok := strings.Cut(name[open+1:end], ",")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(scale))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
