package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/schema"
)

var (
	topNPattern  = regexp.MustCompile(`top\s+(\d+)`)
	limitPattern = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)`)
	aggregates   = []string{"COUNT(", "SUM(", "AVG(", "MIN(", "MAX("}

	// Column name tokens whose values should never be negative.
	nonNegativeTokens = map[string]bool{
		"count": true, "total": true, "amount": true, "price": true,
		"age": true, "quantity": true, "sum": true, "avg": true,
	}
)

// ValidateResult returns heuristic warnings suggesting rows do not answer
// question. A nil result has nothing to check.
func ValidateResult(question, sql string, rows []sqlflow.Row) []string {
	if rows == nil {
		return nil
	}
	var warnings []string

	upper := strings.ToUpper(sql)
	for _, fn := range aggregates {
		if strings.Contains(upper, fn) && len(rows) == 0 {
			warnings = append(warnings, "Aggregate query returned no results. The table may be empty or the filter too restrictive")
			break
		}
	}

	if col, ok := negativeColumn(rows); ok {
		warnings = append(warnings, fmt.Sprintf("Unexpected negative value in column '%s'", col))
	}

	if m := topNPattern.FindStringSubmatch(strings.ToLower(question)); m != nil {
		requested, _ := strconv.Atoi(m[1])
		limited := false
		if lm := limitPattern.FindStringSubmatch(sql); lm != nil {
			limit, _ := strconv.Atoi(lm[1])
			limited = limit == requested
		}
		if !limited && len(rows) > requested {
			warnings = append(warnings, fmt.Sprintf("User asked for top %d but query returned %d rows", requested, len(rows)))
		}
	}
	return warnings
}

// negativeColumn finds the first amount-like column holding a negative number.
func negativeColumn(rows []sqlflow.Row) (string, bool) {
	if len(rows) == 0 {
		return "", false
	}
	cols := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		if !isAmountColumn(col) {
			continue
		}
		for _, row := range rows {
			if n, ok := toFloat(row[col]); ok && n < 0 {
				return col, true
			}
		}
	}
	return "", false
}

func isAmountColumn(name string) bool {
	for tok := range schema.Tokenize(name) {
		if nonNegativeTokens[tok] {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// ValidateAnalysis returns warnings about a synthesized answer: too few
// steps succeeded, the answer is short for the data behind it, or it misses
// the question's key terms.
func ValidateAnalysis(question, answer string, results []sqlflow.StepResult) []string {
	var warnings []string

	successful := 0
	for _, r := range results {
		if r.Succeeded() {
			successful++
		}
	}
	if total := len(results); total > 0 && float64(successful)/float64(total) < 0.5 {
		warnings = append(warnings, fmt.Sprintf("Only %d/%d analysis steps succeeded", successful, total))
	}

	if successful > 0 && len(answer) < successful*50 {
		warnings = append(warnings, "Answer seems too brief for the amount of data analyzed")
	}

	terms := keyTerms(question)
	if len(terms) > 0 {
		lower := strings.ToLower(answer)
		covered := 0
		for _, t := range terms {
			if strings.Contains(lower, t) {
				covered++
			}
		}
		if float64(covered)/float64(len(terms)) < 0.3 {
			warnings = append(warnings, "Answer may not address key terms from the question")
		}
	}
	return warnings
}

// keyTerms returns the distinct lower-cased words of question longer than
// three characters, without surrounding punctuation.
func keyTerms(question string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(question)) {
		w = strings.Trim(w, `.,;:!?"'()[]`)
		if len(w) > 3 && !seen[w] {
			seen[w] = true
			terms = append(terms, w)
		}
	}
	return terms
}
