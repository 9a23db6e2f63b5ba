package query

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestTranslator_Translate tests T-SQL to DuckDB rewrites.
func TestTranslator_Translate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{
			name:     "Unchanged",
			input:    "SELECT id, total FROM orders WHERE total > 10",
			expected: "SELECT id, total FROM orders WHERE total > 10",
		},
		{
			name:     "IsNull",
			input:    "SELECT ISNULL(name, 'Unknown') FROM users",
			expected: "select COALESCE(name, 'Unknown') from users",
		},
		{
			name:     "Len",
			input:    "SELECT LEN(name) FROM users",
			expected: "select LENGTH(name) from users",
		},
		{
			name:     "GetDateWithoutFrom",
			input:    "SELECT GETDATE()",
			expected: "select NOW()",
		},
		{
			name:     "Top",
			input:    "SELECT TOP 5 id FROM orders ORDER BY id",
			expected: "SELECT id FROM orders ORDER BY id LIMIT 5",
		},
		{
			name:     "TopParenthesized",
			input:    "select top (10) * from orders;",
			expected: "SELECT * from orders LIMIT 10",
		},
		{
			name:     "BracketIdentifiers",
			input:    "SELECT [order id] FROM [dbo].[orders]",
			expected: `SELECT "order id" FROM "dbo"."orders"`,
		},
		{
			name:     "Unparsable",
			input:    "EXEC sp_who",
			expected: "EXEC sp_who",
		},
		{
			name:    "Empty",
			input:   "   ",
			wantErr: true,
		},
	}

	translator := NewTranslator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := translator.Translate(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Translate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("Translate() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
