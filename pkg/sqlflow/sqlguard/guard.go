// Package sqlguard classifies SQL as read-only-safe and cleans up model output.
//
// All functions are pure and safe for concurrent use. The guard is a
// syntactic gate in front of the database; it does not replace database
// permissions and makes no claim about the semantic correctness of a query.
package sqlguard

import (
	"fmt"
	"strings"
	"unicode"
)

// forbidden lists statement keywords that mutate data, schema or privileges.
var forbidden = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true,
	"ALTER": true, "TRUNCATE": true, "CREATE": true, "GRANT": true,
	"REVOKE": true, "MERGE": true, "REPLACE": true, "UPSERT": true,
	"ATTACH": true, "DETACH": true, "VACUUM": true, "COPY": true,
	"CALL": true, "EXEC": true, "EXECUTE": true,
}

// mutating lists the keywords that make a WITH query data-modifying.
// REPLACE is absent because it is also a string function.
var mutating = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true,
	"DROP": true, "ALTER": true, "TRUNCATE": true, "CREATE": true,
	"GRANT": true, "REVOKE": true,
}

// allowed lists the statement keywords a read-only query may start with.
var allowed = map[string]bool{
	"SELECT": true,
	"WITH":   true,
}

// CheckReadOnly returns the reasons sql is not a single read-only statement.
// A nil result means the query may be executed.
func CheckReadOnly(sql string) []string {
	stmts := splitStatements(sql)
	if len(stmts) == 0 {
		return []string{"Empty SQL query"}
	}
	if len(stmts) > 1 {
		return []string{fmt.Sprintf("Multiple SQL statements are not allowed (found %d)", len(stmts))}
	}

	words := keywords(stmts[0])
	if len(words) == 0 {
		return []string{"Empty SQL query"}
	}

	first := words[0]
	if forbidden[first] {
		return []string{fmt.Sprintf("Forbidden SQL operation: %s. Only SELECT/WITH queries are allowed.", first)}
	}
	if !allowed[first] {
		return []string{fmt.Sprintf("Unsupported SQL statement: %s. Only SELECT/WITH queries are allowed.", first)}
	}

	// Data-modifying CTEs (WITH x AS (DELETE ...)) hide the operation past the
	// first keyword.
	if first == "WITH" {
		for _, w := range words[1:] {
			if mutating[w] {
				return []string{fmt.Sprintf("Forbidden SQL operation in WITH query: %s. Only SELECT/WITH queries are allowed.", w)}
			}
		}
	}
	return nil
}

// IsReadOnly reports whether sql passes CheckReadOnly.
func IsReadOnly(sql string) bool {
	return len(CheckReadOnly(sql)) == 0
}

// splitStatements splits sql on semicolons outside of string literals,
// quoted identifiers and comments. Empty statements are dropped.
func splitStatements(sql string) []string {
	var stmts []string
	var cur strings.Builder

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}

	scan(sql, func(r rune, code bool) {
		if code && r == ';' {
			flush()
			return
		}
		cur.WriteRune(r)
	})
	flush()
	return stmts
}

// keywords returns the upper-cased bare words of stmt that appear outside
// literals and comments, in order.
func keywords(stmt string) []string {
	var words []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			words = append(words, strings.ToUpper(cur.String()))
			cur.Reset()
		}
	}

	scan(stmt, func(r rune, code bool) {
		if code && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			cur.WriteRune(r)
			return
		}
		flush()
	})
	flush()
	return words
}

// scan walks sql rune by rune, reporting whether each rune is SQL code
// (true) or part of a literal, quoted identifier or comment (false).
// Comment runes are reported as spaces so they still separate words.
func scan(sql string, emit func(r rune, code bool)) {
	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			emit(' ', false)
			if i < len(runes) {
				emit('\n', true)
			}
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i < len(runes) && !(runes[i] == '*' && i+1 < len(runes) && runes[i+1] == '/') {
				i++
			}
			i++
			emit(' ', false)
		case r == '\'' || r == '"' || r == '`':
			quote := r
			emit(r, false)
			for i++; i < len(runes); i++ {
				emit(runes[i], false)
				if runes[i] == quote {
					// Doubled quotes are an escaped quote, not a terminator.
					if i+1 < len(runes) && runes[i+1] == quote {
						i++
						emit(runes[i], false)
						continue
					}
					break
				}
			}
		default:
			emit(r, true)
		}
	}
}
