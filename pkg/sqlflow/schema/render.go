package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
)

// EstimateTokens approximates the token count of text at four characters
// per token. It never returns less than one.
func EstimateTokens(text string) int {
	return max(1, len(text)/4)
}

// Render formats the snapshot as CREATE TABLE statements, adding tables
// until budget tokens are used. Described tables come first, then the rest
// alphabetically. Tables that do not fit are listed in a trailing comment.
func Render(schema *sqlflow.SchemaInfo, budget int, dialect string) string {
	if schema == nil {
		return ""
	}
	tables := append([]sqlflow.TableInfo(nil), schema.Tables...)
	sort.SliceStable(tables, func(i, j int) bool {
		di, dj := tables[i].Description != "", tables[j].Description != ""
		if di != dj {
			return di
		}
		return tables[i].Name < tables[j].Name
	})

	var included, omitted []string
	used := 0
	for _, t := range tables {
		ddl := RenderTable(t, dialect)
		cost := EstimateTokens(ddl)
		if used+cost <= budget {
			included = append(included, ddl)
			used += cost
			continue
		}
		omitted = append(omitted, t.Name)
	}

	out := strings.Join(included, "\n\n")
	if len(omitted) > 0 {
		note := "-- Tables omitted: " + strings.Join(omitted, ", ")
		if out == "" {
			return note
		}
		out += "\n\n" + note
	}
	return out
}

// RenderTable formats one table as a CREATE TABLE statement with its
// descriptions as comments.
func RenderTable(t sqlflow.TableInfo, dialect string) string {
	var b strings.Builder
	if t.Description != "" {
		fmt.Fprintf(&b, "-- %s\n", t.Description)
	}
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", qualify(t, dialect))
	for i, c := range t.Columns {
		b.WriteString("  ")
		b.WriteString(c.Name)
		b.WriteString(" ")
		b.WriteString(c.DataType)
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
		if i < len(t.Columns)-1 {
			b.WriteString(",")
		}
		if c.Description != "" {
			b.WriteString("  -- ")
			b.WriteString(c.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString(");")
	return b.String()
}

func qualify(t sqlflow.TableInfo, dialect string) string {
	if dialect == "bigquery" {
		prefix := ""
		if t.Catalog != "" {
			prefix = fmt.Sprintf("`%s.%s`.", t.Catalog, t.Schema)
		}
		return prefix + "`" + t.Name + "`"
	}
	return t.QualifiedName()
}
