// Package query is the executor facing surface of the bridge: row count
// estimation, cost estimation, scans and EXPLAIN properties for foreign
// tables, plus the statement classifier used by remote sessions.
package query

import (
	"strings"

	"github.com/blastrain/vitess-sqlparser/sqlparser"
)

// StatementType represents the category of a SQL statement.
type StatementType int

// Statement types.
const (
	StatementTypeQuery       StatementType = iota // SELECT, WITH, EXEC, SHOW
	StatementTypeDML                              // INSERT, UPDATE, DELETE, MERGE
	StatementTypeDDL                              // CREATE, DROP, ALTER, TRUNCATE
	StatementTypeSession                          // SET, USE, DECLARE, PRINT
	StatementTypeTransaction                      // BEGIN, COMMIT, ROLLBACK
	StatementTypeOther                            // Unknown or unsupported
)

func (t StatementType) String() string {
	switch t {
	case StatementTypeQuery:
		return "query"
	case StatementTypeDML:
		return "dml"
	case StatementTypeDDL:
		return "ddl"
	case StatementTypeSession:
		return "session"
	case StatementTypeTransaction:
		return "transaction"
	default:
		return "other"
	}
}

// Classifier provides SQL statement classification functionality.
// Statements are parsed first; T-SQL the parser does not understand is
// classified by its leading keyword.
type Classifier struct{}

// NewClassifier creates a new SQL classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// ClassifyResult contains the classification result of a SQL statement.
type ClassifyResult struct {
	Type StatementType
	// ReturnsRows is true for statements whose results are read as rows.
	ReturnsRows bool
	// IsCount is true for statements that report an affected row count.
	IsCount bool
	// Parsed is true when the statement was classified from its syntax tree.
	Parsed bool
}

// Classify analyzes a SQL statement and returns its classification.
func (c *Classifier) Classify(sql string) ClassifyResult {
	if stmt, err := sqlparser.Parse(sql); err == nil {
		if t, ok := classifyStatement(stmt); ok {
			return resultFor(t, true)
		}
	}
	return resultFor(c.classifyPrefix(strings.ToUpper(strings.TrimSpace(sql))), false)
}

func classifyStatement(stmt sqlparser.Statement) (StatementType, bool) {
	switch stmt.(type) {
	case *sqlparser.Select, *sqlparser.Union, *sqlparser.ParenSelect:
		return StatementTypeQuery, true
	case *sqlparser.Insert, *sqlparser.Update, *sqlparser.Delete:
		return StatementTypeDML, true
	case *sqlparser.DDL:
		return StatementTypeDDL, true
	case *sqlparser.Set:
		return StatementTypeSession, true
	default:
		return StatementTypeOther, false
	}
}

func resultFor(t StatementType, parsed bool) ClassifyResult {
	return ClassifyResult{
		Type:        t,
		ReturnsRows: t == StatementTypeQuery || t == StatementTypeOther,
		IsCount:     t == StatementTypeDML,
		Parsed:      parsed,
	}
}

// classifyPrefix classifies a statement by its leading keyword.
func (c *Classifier) classifyPrefix(upperSQL string) StatementType {
	switch {
	case c.isQueryStatement(upperSQL):
		return StatementTypeQuery
	case hasAnyPrefix(upperSQL, "INSERT", "UPDATE", "DELETE", "MERGE"):
		return StatementTypeDML
	case hasAnyPrefix(upperSQL, "CREATE", "DROP", "ALTER", "TRUNCATE"):
		return StatementTypeDDL
	case hasAnyPrefix(upperSQL, "SET ", "USE ", "DECLARE", "PRINT"):
		return StatementTypeSession
	case c.isTransactionStatement(upperSQL):
		return StatementTypeTransaction
	default:
		return StatementTypeOther
	}
}

// isQueryStatement checks if the SQL is a row returning statement.
func (c *Classifier) isQueryStatement(upperSQL string) bool {
	return hasAnyPrefix(upperSQL, "SELECT", "WITH", "EXEC", "SHOW", "SP_", "(")
}

// isTransactionStatement checks if the SQL is a transaction control statement.
func (c *Classifier) isTransactionStatement(upperSQL string) bool {
	return hasAnyPrefix(upperSQL, "BEGIN", "COMMIT", "ROLLBACK", "SAVE TRAN")
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// DefaultClassifier is the default SQL classifier instance.
var DefaultClassifier = NewClassifier()

// ClassifySQL is a convenience function using the default classifier.
func ClassifySQL(sql string) ClassifyResult {
	return DefaultClassifier.Classify(sql)
}

// ReturnsRows is a convenience function to check if SQL produces rows.
func ReturnsRows(sql string) bool {
	return DefaultClassifier.Classify(sql).ReturnsRows
}
