package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/llm"
)

// Selection is a table-narrowing strategy.
type Selection string

// Table selection modes.
const (
	SelectNone    Selection = "none"
	SelectKeyword Selection = "keyword"
	SelectLLM     Selection = "llm"
)

// ParseSelection validates a selection mode name.
func ParseSelection(s string) (Selection, error) {
	switch Selection(strings.ToLower(s)) {
	case SelectNone, "":
		return SelectNone, nil
	case SelectKeyword:
		return SelectKeyword, nil
	case SelectLLM:
		return SelectLLM, nil
	default:
		return "", fmt.Errorf("unknown table selection %q (want none, keyword or llm)", s)
	}
}

// Selector narrows a table list to the ones relevant to a question.
type Selector struct {
	client llm.Client
	logger *slog.Logger
}

// NewSelector creates a selector. client is only needed for SelectLLM.
func NewSelector(client llm.Client, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Selector{client: client, logger: logger}
}

// Select returns at most maxTables tables chosen by mode. A non-positive
// maxTables means no cap. LLM selection falls back to keyword scoring on
// any failure.
func (s *Selector) Select(ctx context.Context, question string, tables []sqlflow.TableInfo, maxTables int, mode Selection) []sqlflow.TableInfo {
	if maxTables <= 0 {
		maxTables = len(tables)
	}
	switch mode {
	case SelectKeyword:
		return SelectByKeywords(question, tables, maxTables)
	case SelectLLM:
		if s.client == nil {
			return SelectByKeywords(question, tables, maxTables)
		}
		selected, err := s.selectByLLM(ctx, question, tables, maxTables)
		if err != nil {
			s.logger.Warn("llm table selection failed, using keywords", "error", err)
			return SelectByKeywords(question, tables, maxTables)
		}
		s.logger.Info("llm table selection", "selected", len(selected), "total", len(tables))
		return selected
	default:
		return tables
	}
}

// SelectByKeywords ranks tables by how many question tokens appear in their
// names, columns and descriptions. Ties keep discovery order. When nothing
// overlaps the first maxTables tables are returned.
func SelectByKeywords(question string, tables []sqlflow.TableInfo, maxTables int) []sqlflow.TableInfo {
	if maxTables <= 0 || maxTables > len(tables) {
		maxTables = len(tables)
	}
	q := Tokenize(question)
	if len(q) == 0 {
		return tables[:maxTables]
	}

	type scored struct {
		table sqlflow.TableInfo
		score int
	}
	var hits []scored
	for _, t := range tables {
		tokens := tableTokens(t)
		overlap := 0
		for tok := range q {
			if tokens[tok] {
				overlap++
			}
		}
		if overlap > 0 {
			hits = append(hits, scored{table: t, score: overlap})
		}
	}
	if len(hits) == 0 {
		return tables[:maxTables]
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > maxTables {
		hits = hits[:maxTables]
	}
	out := make([]sqlflow.TableInfo, len(hits))
	for i, h := range hits {
		out[i] = h.table
	}
	return out
}

func tableTokens(t sqlflow.TableInfo) map[string]bool {
	tokens := Tokenize(t.Name)
	merge := func(text string) {
		for tok := range Tokenize(text) {
			tokens[tok] = true
		}
	}
	merge(t.Description)
	for _, c := range t.Columns {
		merge(c.Name)
		merge(c.Description)
	}
	return tokens
}

var (
	camelBoundary = regexp.MustCompile(`([a-z])([A-Z])`)
	nonAlnum      = regexp.MustCompile(`[^a-zA-Z0-9]+`)
)

// Tokenize splits text into lower-cased words, breaking on camelCase
// boundaries and any non-alphanumeric character.
func Tokenize(text string) map[string]bool {
	text = camelBoundary.ReplaceAllString(text, "$1 $2")
	tokens := make(map[string]bool)
	for _, p := range nonAlnum.Split(text, -1) {
		if p != "" {
			tokens[strings.ToLower(p)] = true
		}
	}
	return tokens
}

const selectorSystemPrompt = "You select relevant database tables. Return only a JSON array of table names."

func (s *Selector) selectByLLM(ctx context.Context, question string, tables []sqlflow.TableInfo, maxTables int) ([]sqlflow.TableInfo, error) {
	var summary strings.Builder
	for _, t := range tables {
		desc := ""
		if t.Description != "" {
			desc = " -- " + t.Description
		}
		fmt.Fprintf(&summary, "- %s%s: [%s]\n", t.Name, desc, strings.Join(t.ColumnNames(), ", "))
	}
	prompt := fmt.Sprintf(
		"Given this user question: %q\n\nWhich of these database tables are relevant? "+
			"Return ONLY a JSON array of table names (max %d).\n\n%s",
		question, maxTables, summary.String(),
	)

	resp, err := s.client.Invoke(ctx, llm.Request{
		System:   selectorSystemPrompt,
		Messages: []llm.Message{llm.UserMessage(prompt)},
	})
	if err != nil {
		return nil, err
	}
	raw, err := llm.ExtractJSON(resp.Text())
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, fmt.Errorf("decode table names: %w", err)
	}

	wanted := nameSet(names)
	var selected []sqlflow.TableInfo
	for _, t := range tables {
		if matches(t, wanted) {
			selected = append(selected, t)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("model selected no known tables from %v", names)
	}
	if len(selected) > maxTables {
		selected = selected[:maxTables]
	}
	return selected, nil
}
