package sqlguard

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// wholeFence matches output that is exactly one fenced block.
	wholeFence = regexp.MustCompile("(?is)^```(?:[a-z]*[ \\t]*\\n)?(.*?)\\n?```$")

	// innerFence matches the first fenced block embedded in prose.
	innerFence = regexp.MustCompile("(?is)```[a-z]*[ \\t]*\\n(.*?)```")

	// identifierRegex validates a single unquoted SQL identifier.
	identifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// StripFences removes markdown code fences and surrounding whitespace that
// models wrap around SQL. Text without fences is returned trimmed.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if m := wholeFence.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := innerFence.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// reservedWords may not be used as bare identifiers.
var reservedWords = map[string]bool{
	"SELECT": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"DROP": true, "CREATE": true, "ALTER": true, "TRUNCATE": true,
	"EXEC": true, "EXECUTE": true, "UNION": true, "INTO": true,
	"FROM": true, "WHERE": true, "TABLE": true, "DATABASE": true,
	"GRANT": true, "REVOKE": true, "INDEX": true, "VIEW": true,
}

// ValidateIdentifier ensures a bare SQL identifier (table or column name)
// is safe to use in configuration and generated statements.
func ValidateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 128 {
		return fmt.Errorf("identifier too long (max 128 chars): %q", name)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("invalid identifier %q: must match [a-zA-Z_][a-zA-Z0-9_]*", name)
	}
	if reservedWords[strings.ToUpper(name)] {
		return fmt.Errorf("identifier %q is a SQL reserved word", name)
	}
	return nil
}

// ValidateQualifiedName validates a bare or dotted (schema.table) name.
func ValidateQualifiedName(name string) error {
	parts := strings.Split(name, ".")
	if len(parts) > 3 {
		return fmt.Errorf("invalid qualified name %q: too many parts", name)
	}
	for _, p := range parts {
		if err := ValidateIdentifier(p); err != nil {
			return err
		}
	}
	return nil
}

// QuoteIdentifier quotes name for the given dialect, escaping embedded
// quote characters. Dotted names are quoted part by part.
func QuoteIdentifier(name, dialect string) string {
	quote := `"`
	switch strings.ToLower(dialect) {
	case "mysql", "bigquery":
		quote = "`"
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = quote + strings.ReplaceAll(p, quote, quote+quote) + quote
	}
	return strings.Join(parts, ".")
}
