package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/blastrain/vitess-sqlparser/sqlparser"
)

// Translator rewrites T-SQL into SQL that DuckDB accepts, so a DuckDB
// database can stand in for a remote server.
type Translator struct {
	functionMap map[string]string
}

// NewTranslator creates a new SQL translator with registered function mappings.
func NewTranslator() *Translator {
	t := &Translator{
		functionMap: make(map[string]string),
	}
	t.registerFunctions()
	return t
}

// registerFunctions registers T-SQL to DuckDB function renames.
func (t *Translator) registerFunctions() {
	t.functionMap["ISNULL"] = "COALESCE"
	t.functionMap["GETDATE"] = "NOW"
	t.functionMap["GETUTCDATE"] = "NOW"
	t.functionMap["SYSDATETIME"] = "NOW"
	t.functionMap["LEN"] = "LENGTH"
	t.functionMap["NEWID"] = "UUID"
}

var (
	topPattern     = regexp.MustCompile(`(?is)^select\s+top\s*\(?\s*(\d+)\s*\)?\s+(.*)$`)
	bracketPattern = regexp.MustCompile(`\[([^\]]+)\]`)
	dualPattern    = regexp.MustCompile(`(?i)\bdual\b`)
)

// Translate converts a T-SQL statement to DuckDB SQL. Statements the
// parser does not understand are returned after the textual rewrites only.
func (t *Translator) Translate(sql string) (string, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return "", fmt.Errorf("empty SQL statement")
	}
	original := sql

	sql = strings.TrimRight(sql, "; \t\n")
	sql = bracketPattern.ReplaceAllString(sql, "`$1`")
	if m := topPattern.FindStringSubmatch(sql); m != nil {
		sql = "SELECT " + m[2] + " LIMIT " + m[1]
	}

	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return quoteIdents(sql), nil
	}

	modified := false
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if fn, ok := node.(*sqlparser.FuncExpr); ok {
			if name, ok := t.functionMap[strings.ToUpper(fn.Name.String())]; ok {
				fn.Name = sqlparser.NewColIdent(name)
				modified = true
			}
		}
		return true, nil
	}, stmt)

	if !modified {
		return quoteIdents(sql), nil
	}

	result := sqlparser.String(stmt)
	if !dualPattern.MatchString(original) {
		result = strings.Replace(result, " from dual", "", 1)
	}
	return quoteIdents(result), nil
}

// quoteIdents turns backtick quoted identifiers into standard quoting.
func quoteIdents(sql string) string {
	return strings.ReplaceAll(sql, "`", `"`)
}
