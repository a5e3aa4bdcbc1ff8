package sqltext

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	fgerrors "github.com/randalmurphal/askdata/pkg/flowgraph/errors"
	"vitess.io/vitess/go/vt/sqlparser"
)

// writeKeywords are rejected anywhere outside literals and comments.
// REPLACE is left out because it is also a string function; a REPLACE
// statement is caught by its statement type.
var writeKeywords = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|MERGE|UPSERT|DROP|CREATE|ALTER|TRUNCATE|RENAME|GRANT|REVOKE|ATTACH|DETACH|PRAGMA|VACUUM|COPY|CALL|EXEC|EXECUTE|LOCK|INTO|LOAD|INSTALL|CHECKPOINT)\b`)

var parser = sync.OnceValues(func() (*sqlparser.Parser, error) {
	return sqlparser.New(sqlparser.Options{})
})

// UnsafeError is returned by CheckReadOnly for a statement that must not
// be executed.
type UnsafeError struct {
	Statement string
	Reason    string
}

// Error implements the error interface.
func (e *UnsafeError) Error() string {
	return "unsafe sql: " + e.Reason
}

// ErrorCategory marks unsafe statements as repairable: the model may write
// an acceptable query when told why this one was refused.
func (e *UnsafeError) ErrorCategory() fgerrors.Category {
	return fgerrors.CategoryRepairable
}

// CheckReadOnly returns nil if stmt is a single SELECT (or WITH ... SELECT)
// statement that modifies nothing, and *UnsafeError otherwise.
func CheckReadOnly(stmt string) error {
	unsafe := func(format string, args ...any) error {
		return &UnsafeError{Statement: stmt, Reason: fmt.Sprintf(format, args...)}
	}

	if strings.TrimSpace(strings.Trim(stmt, "; \t\r\n")) == "" {
		return unsafe("empty statement")
	}

	p, err := parser()
	if err != nil {
		return fmt.Errorf("sql parser: %w", err)
	}

	pieces, err := p.SplitStatementToPieces(stmt)
	if err != nil {
		return unsafe("cannot split statement: %v", err)
	}
	var statements []string
	for _, piece := range pieces {
		if strings.TrimSpace(sqlparser.StripLeadingComments(piece)) != "" {
			statements = append(statements, piece)
		}
	}
	if len(statements) != 1 {
		return unsafe("expected one statement, got %d", len(statements))
	}

	body := strings.TrimSpace(sqlparser.StripLeadingComments(statements[0]))
	if kw := leadingKeyword(body); kw != "WITH" {
		if typ := sqlparser.Preview(body); typ != sqlparser.StmtSelect {
			return unsafe("%s statements are not allowed", strings.ToUpper(kw))
		}
	}

	if kw := writeKeywords.FindString(maskLiterals(body)); kw != "" {
		return unsafe("keyword %s is not allowed", strings.ToUpper(kw))
	}
	return nil
}

// IsReadOnly reports whether CheckReadOnly accepts stmt.
func IsReadOnly(stmt string) bool {
	return CheckReadOnly(stmt) == nil
}

// leadingKeyword returns the first word of s, ignoring opening parentheses.
func leadingKeyword(s string) string {
	s = strings.TrimLeft(s, "( \t\r\n")
	end := strings.IndexFunc(s, func(r rune) bool {
		return !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	if end >= 0 {
		s = s[:end]
	}
	return strings.ToUpper(s)
}

// maskLiterals blanks out string literals, quoted identifiers and comments
// so keyword checks only see SQL text.
func maskLiterals(s string) string {
	masked := []byte(strings.Repeat(" ", len(s)))
	scan(s, func(i int, b byte) bool {
		masked[i] = b
		return true
	})
	return string(masked)
}
