package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/llm"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/prompt"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/schema"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/sqlguard"
)

// RunQueryTool is the single tool offered to the model in simple mode.
var RunQueryTool = llm.Tool{
	Name:        "run_query",
	Description: "Execute a read-only SQL query against the database and return the result rows as JSON.",
	Properties: map[string]any{
		"query": map[string]any{
			"type":        "string",
			"description": "A single SELECT statement.",
		},
	},
	Required: []string{"query"},
}

// Row limits for text handed back to the model.
const (
	toolResultRows = 50
	digestRows     = 5
	synthesisRows  = 20
)

// runner executes steps against one thread's state.
type runner struct {
	engine *Engine
	state  *State
	logger *slog.Logger
	emit   func(ctx context.Context, name string, data map[string]any)
}

// exec dispatches step and returns the step to run next.
func (r *runner) exec(ctx context.Context, step Step) (Step, error) {
	switch step {
	case StepDiscoverSchema:
		return r.discoverSchema(ctx)
	case StepClassify:
		return r.classify(ctx)
	case StepGenerateQuery:
		return r.generateQuery(ctx)
	case StepCheckQuery:
		return r.checkQuery(ctx)
	case StepHumanApproval:
		return r.humanApproval(ctx)
	case StepRunQuery:
		return r.runQuery(ctx)
	case StepValidateResult:
		return r.validateResult(ctx)
	case StepPlanAnalysis:
		return r.planAnalysis(ctx)
	case StepExecutePlanStep:
		return r.executePlanStep(ctx)
	case StepSynthesizeAnalysis:
		return r.synthesizeAnalysis(ctx)
	case StepValidateAnalysis:
		return r.validateAnalysis(ctx)
	}
	return End, fmt.Errorf("unknown step %q", step)
}

func (r *runner) cfg() Config { return r.engine.cfg }

func (r *runner) request(messages ...llm.Message) llm.Request {
	return llm.Request{
		Messages:    messages,
		MaxTokens:   r.cfg().MaxTokens,
		Temperature: r.cfg().Temperature,
	}
}

func (r *runner) discoverSchema(ctx context.Context) (Step, error) {
	snap, err := r.engine.schemas.GetSchema(ctx, false)
	if err != nil {
		return End, err
	}
	cfg := r.cfg()
	tables := r.engine.selector.Select(ctx, r.state.Question, snap.Tables, cfg.MaxTables, cfg.Selection)

	r.state.Dialect = r.engine.db.Dialect()
	r.state.SchemaContext = schema.Render(
		&sqlflow.SchemaInfo{Tables: tables, DiscoveredAt: snap.DiscoveredAt},
		cfg.TokenBudget, r.state.Dialect,
	)
	r.emit(ctx, EventSchemaDiscovered, map[string]any{
		"table_count":    len(snap.Tables),
		"selected_count": len(tables),
	})
	return StepClassify, nil
}

// classification is the structured reply of the classifier.
type classification struct {
	QueryType string `json:"query_type"`
	Reasoning string `json:"reasoning"`
}

// Validate implements llm.Validator.
func (c *classification) Validate() error {
	c.QueryType = strings.ToLower(strings.TrimSpace(c.QueryType))
	switch sqlflow.QueryType(c.QueryType) {
	case sqlflow.QuerySimple, sqlflow.QueryAnalytical:
		return nil
	}
	return fmt.Errorf("unknown query_type %q", c.QueryType)
}

func (r *runner) classify(ctx context.Context) (Step, error) {
	r.emit(ctx, EventClassifyingQuery, nil)

	text := classifyPrompt.MustRender(prompt.Vars{"question": r.state.Question})
	c, err := llm.InvokeStructured[classification](ctx, r.engine.client, r.request(llm.UserMessage(text)))
	if err != nil {
		r.logger.Warn("classification failed, using simple mode", "error", err)
		c = classification{QueryType: string(sqlflow.QuerySimple)}
	}
	r.state.QueryType = sqlflow.QueryType(c.QueryType)
	r.emit(ctx, EventQueryClassified, map[string]any{
		"query_type": c.QueryType,
		"reasoning":  c.Reasoning,
	})

	if r.state.QueryType == sqlflow.QueryAnalytical {
		return StepPlanAnalysis, nil
	}
	return StepGenerateQuery, nil
}

func (r *runner) systemPrompt() string {
	return systemPrompt.MustRender(prompt.Vars{
		"dialect":           r.state.Dialect,
		"top_k":             strconv.Itoa(r.cfg().TopK),
		"schema_context":    r.state.SchemaContext,
		"few_shot_examples": fewShotExamples,
	})
}

func (r *runner) generateQuery(ctx context.Context) (Step, error) {
	req := r.request(TruncateHistory(r.state.Messages, r.cfg().MaxHistoryMessages)...)
	req.System = r.systemPrompt()
	toolsOffered := r.state.ToolCalls < r.cfg().MaxToolCalls
	if toolsOffered {
		req.Tools = []llm.Tool{RunQueryTool}
	}

	resp, err := r.engine.client.Invoke(ctx, req)
	if err != nil {
		return End, err
	}
	msg := llm.AssistantMessage(resp.Message.Content, resp.Message.ToolCalls...)
	if !toolsOffered {
		msg.ToolCalls = nil
	}
	r.state.Messages = append(r.state.Messages, msg)

	if len(msg.ToolCalls) == 0 {
		r.state.Answer = strings.TrimSpace(msg.Content)
		return End, nil
	}

	// The first usable run_query call proceeds; every other call is
	// answered with an error so the conversation stays well formed.
	var pending *llm.ToolCall
	for i := range msg.ToolCalls {
		call := msg.ToolCalls[i]
		r.state.ToolCalls++
		query := sqlguard.StripFences(call.StringArg("query"))
		switch {
		case call.Name != RunQueryTool.Name:
			r.state.Messages = append(r.state.Messages,
				llm.ToolMessage(call.ID, fmt.Sprintf("Unknown tool %q. Use run_query.", call.Name), true))
		case query == "":
			r.state.Messages = append(r.state.Messages,
				llm.ToolMessage(call.ID, "run_query requires a non-empty query argument.", true))
		case pending != nil:
			r.state.Messages = append(r.state.Messages,
				llm.ToolMessage(call.ID, "Only one query runs at a time. Call run_query again after reading the first result.", true))
		default:
			pending = &call
			r.state.GeneratedSQL = query
			r.state.ValidationErrors = []string{}
		}
	}
	if pending == nil {
		return StepGenerateQuery, nil
	}

	r.state.PendingCallID = pending.ID
	r.emit(ctx, EventSQLGenerated, map[string]any{"sql": r.state.GeneratedSQL})
	return StepCheckQuery, nil
}

// checkSQL runs the read-only guard and the dialect check. A returned
// error means the check itself could not run.
func (r *runner) checkSQL(ctx context.Context, query string) ([]string, error) {
	if errs := sqlguard.CheckReadOnly(query); len(errs) > 0 {
		return errs, nil
	}
	errs, err := r.engine.db.ValidateSQL(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("validate sql: %w", err)
	}
	return errs, nil
}

func (r *runner) checkQuery(ctx context.Context) (Step, error) {
	errs, err := r.checkSQL(ctx, r.state.GeneratedSQL)
	if err != nil {
		return End, err
	}
	r.state.ValidationErrors = append([]string{}, errs...)
	r.emit(ctx, EventQueryChecked, map[string]any{
		"sql":    r.state.GeneratedSQL,
		"valid":  len(errs) == 0,
		"errors": r.state.ValidationErrors,
	})
	if len(errs) > 0 {
		r.logger.Warn("sql validation errors", "sql", r.state.GeneratedSQL, "errors", errs)
		if r.state.Approved {
			// The reviewer approved a different query; this one stays unreviewed.
			msg := "query regenerated after approval failed validation: " + strings.Join(errs, "; ")
			r.state.answerPending(NotExecutedMessage, true)
			r.state.Result = nil
			r.state.Error = msg
			return End, nil
		}
		return StepHumanApproval, nil
	}
	return StepRunQuery, nil
}

func (r *runner) humanApproval(_ context.Context) (Step, error) {
	decision := r.state.Decision
	r.state.Decision = nil
	if decision == nil {
		return End, errors.New("no approval decision")
	}

	if !decision.Approved {
		r.state.answerPending(RejectedMessage, true)
		r.state.Error = RejectedMessage
		r.logger.Info("query rejected by reviewer", "sql", r.state.GeneratedSQL)
		return End, nil
	}
	if modified := sqlguard.StripFences(decision.ModifiedSQL); modified != "" {
		r.state.GeneratedSQL = modified
	}
	r.state.Approved = true
	return StepRunQuery, nil
}

func (r *runner) runQuery(ctx context.Context) (Step, error) {
	query := r.state.GeneratedSQL
	rows, err := r.execute(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return End, err
		}
		msg := err.Error()
		r.state.Result = nil
		r.state.Error = msg
		r.state.answerPending("Error: "+msg, true)
		r.emit(ctx, EventQueryFailed, map[string]any{"sql": query, "error": msg})
		return StepGenerateQuery, nil
	}

	r.state.Result = rows
	r.state.Error = ""
	r.state.answerPending(formatToolResult(rows), false)
	r.emit(ctx, EventQueryExecuted, map[string]any{"sql": query, "row_count": len(rows)})
	return StepValidateResult, nil
}

// execute runs query after re-checking it is read-only.
func (r *runner) execute(ctx context.Context, query string) ([]sqlflow.Row, error) {
	if errs := sqlguard.CheckReadOnly(query); len(errs) > 0 {
		return nil, &sqlflow.ExecutionError{SQL: query, Err: errors.New(errs[0])}
	}
	return r.engine.db.ExecuteSQL(ctx, query, r.cfg().QueryTimeout)
}

func (r *runner) validateResult(ctx context.Context) (Step, error) {
	if r.state.Corrections >= r.cfg().MaxCorrections {
		return StepGenerateQuery, nil
	}
	warnings := ValidateResult(r.state.Question, r.state.GeneratedSQL, r.state.Result)
	if len(warnings) == 0 {
		return StepGenerateQuery, nil
	}
	r.state.appendToLastToolResult("\n\nValidation warnings:\n- " + strings.Join(warnings, "\n- "))
	r.state.Corrections++
	r.emit(ctx, EventResultValidationWarning, map[string]any{
		"warnings": warnings,
		"attempt":  r.state.Corrections,
	})
	return StepGenerateQuery, nil
}

// analysisPlan is the structured reply of the planner.
type analysisPlan struct {
	Steps []sqlflow.PlanStep `json:"steps"`
}

// Validate implements llm.Validator.
func (p *analysisPlan) Validate() error {
	if len(p.Steps) == 0 {
		return errors.New("plan has no steps")
	}
	for i, s := range p.Steps {
		if strings.TrimSpace(s.Description) == "" {
			return fmt.Errorf("plan step %d has no description", i+1)
		}
	}
	return nil
}

func (r *runner) planAnalysis(ctx context.Context) (Step, error) {
	r.emit(ctx, EventPlanningAnalysis, nil)

	text := plannerPrompt.MustRender(prompt.Vars{
		"max_plan_steps": strconv.Itoa(r.cfg().MaxPlanSteps),
		"schema_context": r.state.SchemaContext,
		"question":       r.state.Question,
	})
	plan, err := llm.InvokeStructured[analysisPlan](ctx, r.engine.client, r.request(llm.UserMessage(text)))
	if err != nil {
		r.logger.Warn("analysis planning failed, using simple mode", "error", err)
		r.state.QueryType = sqlflow.QuerySimple
		r.emit(ctx, EventPlanFailed, map[string]any{"error": err.Error()})
		return StepGenerateQuery, nil
	}

	steps := plan.Steps
	if limit := r.cfg().MaxPlanSteps; len(steps) > limit {
		steps = steps[:limit]
	}
	r.state.Plan = steps
	r.state.StepResults = []sqlflow.StepResult{}
	r.state.CurrentStep = 0
	r.emit(ctx, EventAnalysisPlanCreated, map[string]any{"steps": steps})
	return StepExecutePlanStep, nil
}

func (r *runner) executePlanStep(ctx context.Context) (Step, error) {
	if r.state.CurrentStep >= len(r.state.Plan) {
		return StepSynthesizeAnalysis, nil
	}
	index := r.state.CurrentStep
	step := r.state.Plan[index]
	r.emit(ctx, EventPlanStepStarted, map[string]any{
		"step":        index + 1,
		"total":       len(r.state.Plan),
		"description": step.Description,
	})

	result := r.runPlanStep(ctx, index, step)
	r.state.StepResults = append(r.state.StepResults, result)
	r.state.CurrentStep++

	if result.Succeeded() {
		r.emit(ctx, EventPlanStepExecuted, map[string]any{"step": index + 1, "row_count": len(result.Result)})
	} else {
		r.logger.Warn("plan step failed", "index", index+1, "error", result.Error)
		r.emit(ctx, EventPlanStepFailed, map[string]any{"step": index + 1, "error": result.Error})
	}

	if r.state.CurrentStep < len(r.state.Plan) {
		return StepExecutePlanStep, nil
	}
	return StepSynthesizeAnalysis, nil
}

// runPlanStep generates, checks and executes the SQL for one plan step.
// Failures are recorded on the result and never returned.
func (r *runner) runPlanStep(ctx context.Context, index int, step sqlflow.PlanStep) sqlflow.StepResult {
	result := sqlflow.StepResult{Description: step.Description}

	text := stepSQLPrompt.MustRender(prompt.Vars{
		"dialect":          r.state.Dialect,
		"step_description": step.Description,
		"sql_hint":         step.SQLHint,
		"schema_context":   r.state.SchemaContext,
		"previous_results": stepDigest(r.state.StepResults),
	})
	resp, err := r.engine.client.Invoke(ctx, r.request(llm.UserMessage(text)))
	if err != nil {
		result.Error = "SQL generation failed: " + err.Error()
		return result
	}
	query := sqlguard.StripFences(resp.Text())
	if query == "" {
		result.Error = "SQL generation failed: empty reply"
		return result
	}
	result.SQL = query
	r.emit(ctx, EventPlanStepSQLGenerated, map[string]any{"step": index + 1, "sql": query})

	errs, err := r.checkSQL(ctx, query)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if len(errs) > 0 {
		result.Error = "Validation failed: " + strings.Join(errs, "; ")
		return result
	}

	rows, err := r.execute(ctx, query)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Result = rows
	return result
}

func (r *runner) synthesizeAnalysis(ctx context.Context) (Step, error) {
	if r.state.SynthesisAttempts == 0 {
		r.state.SynthesisStart = len(r.state.Messages)
	}
	r.emit(ctx, EventAnalysisSynthesisStarted, map[string]any{"attempt": r.state.SynthesisAttempts + 1})

	text := analystPrompt.MustRender(prompt.Vars{
		"question":        r.state.Question,
		"results_context": synthesisContext(r.state.StepResults),
	})
	messages := append([]llm.Message{llm.UserMessage(text)}, r.state.Messages[r.state.SynthesisStart:]...)
	resp, err := r.engine.client.Invoke(ctx, r.request(messages...))
	if err != nil {
		if ctx.Err() != nil {
			return End, err
		}
		r.logger.Error("analysis synthesis failed", "error", err)
		r.state.Error = "analysis synthesis failed: " + err.Error()
		return End, nil
	}

	answer := strings.TrimSpace(resp.Text())
	r.state.Answer = answer
	r.state.Messages = append(r.state.Messages, llm.AssistantMessage(answer))
	r.state.SynthesisAttempts++
	if last, ok := r.state.lastSuccessfulStep(); ok {
		r.state.GeneratedSQL = last.SQL
		r.state.Result = last.Result
	}
	r.emit(ctx, EventAnalysisComplete, map[string]any{
		"answer":  answer,
		"attempt": r.state.SynthesisAttempts,
	})
	return StepValidateAnalysis, nil
}

func (r *runner) validateAnalysis(ctx context.Context) (Step, error) {
	warnings := ValidateAnalysis(r.state.Question, r.state.Answer, r.state.StepResults)
	if len(warnings) == 0 {
		r.emit(ctx, EventAnalysisValidationPassed, nil)
		return End, nil
	}

	revise := r.state.SynthesisAttempts < r.cfg().MaxSynthesisAttempts
	r.emit(ctx, EventAnalysisValidationWarning, map[string]any{
		"warnings": warnings,
		"revising": revise,
	})
	if !revise {
		r.logger.Info("analysis accepted with warnings", "warnings", warnings)
		return End, nil
	}
	r.state.Messages = append(r.state.Messages,
		llm.UserMessage("Please revise the analysis. Issues found: "+strings.Join(warnings, "; ")))
	return StepSynthesizeAnalysis, nil
}

// formatToolResult renders rows for the model, capped at toolResultRows.
func formatToolResult(rows []sqlflow.Row) string {
	shown := rows
	if len(shown) > toolResultRows {
		shown = shown[:toolResultRows]
	}
	body := marshalRows(shown)
	if len(rows) > toolResultRows {
		return fmt.Sprintf("%s\n\n(showing first %d of %d rows)", body, toolResultRows, len(rows))
	}
	return fmt.Sprintf("%s\n\n(%d rows)", body, len(rows))
}

// stepDigest summarizes earlier plan steps for the next step's prompt.
func stepDigest(results []sqlflow.StepResult) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Previous step results:")
	for i, res := range results {
		status := "Success"
		if !res.Succeeded() {
			status = "Failed: " + res.Error
		}
		sql := res.SQL
		if sql == "" {
			sql = "N/A"
		}
		preview := ""
		if len(res.Result) > 0 {
			preview = marshalRows(head(res.Result, digestRows))
		}
		fmt.Fprintf(&b, "\nStep %d (%s): %s\n  SQL: %s\n  Result preview: %s", i+1, res.Description, status, sql, preview)
	}
	return b.String()
}

// synthesisContext renders every step result, failed ones included.
func synthesisContext(results []sqlflow.StepResult) string {
	parts := make([]string, 0, len(results))
	for i, res := range results {
		var b strings.Builder
		fmt.Fprintf(&b, "### Step %d: %s\n", i+1, res.Description)
		if res.Succeeded() {
			b.WriteString("Status: SUCCESS\n")
		} else {
			b.WriteString("Status: FAILED\n")
		}
		if res.SQL != "" {
			fmt.Fprintf(&b, "SQL: %s\n", res.SQL)
		}
		if res.Succeeded() {
			fmt.Fprintf(&b, "Data: %s", marshalRows(head(res.Result, synthesisRows)))
		} else {
			fmt.Fprintf(&b, "Error: %s", res.Error)
		}
		parts = append(parts, b.String())
	}
	if len(parts) == 0 {
		return "No analysis steps were executed."
	}
	return strings.Join(parts, "\n\n")
}

func head(rows []sqlflow.Row, n int) []sqlflow.Row {
	if len(rows) > n {
		return rows[:n]
	}
	return rows
}

func marshalRows(rows []sqlflow.Row) string {
	if rows == nil {
		rows = []sqlflow.Row{}
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return fmt.Sprintf("%v", rows)
	}
	return string(b)
}
