package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
)

// Tool names.
const (
	ToolGenerateSQL       = "generate_sql"
	ToolExecuteSQL        = "execute_sql"
	ToolCreateSession     = "create_session"
	ToolQueryInSession    = "query_in_session"
	ToolGetSessionHistory = "get_session_history"
)

func (s *Server) registerTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool(ToolGenerateSQL,
			mcp.WithDescription(
				"Generate SQL from a natural language question. Valid queries are "+
					"executed and their results returned immediately. Queries with "+
					"validation errors pause for human review and correction.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("question",
				mcp.Required(),
				mcp.Description("The natural language question to convert to SQL"),
			),
		),
		s.handleGenerateSQL,
	)

	srv.AddTool(
		mcp.NewTool(ToolExecuteSQL,
			mcp.WithDescription(
				"Execute a previously approved query. The query must have been "+
					"approved by a human reviewer first.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("query_id",
				mcp.Required(),
				mcp.Description("ID of the approved query to execute"),
			),
		),
		s.handleExecuteSQL,
	)

	srv.AddTool(
		mcp.NewTool(ToolCreateSession,
			mcp.WithDescription(
				"Create a conversation session for multi-turn queries. Questions "+
					"asked in a session see the earlier questions and answers, so "+
					"follow-ups like \"now only those over 30\" work.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
		),
		s.handleCreateSession,
	)

	srv.AddTool(
		mcp.NewTool(ToolQueryInSession,
			mcp.WithDescription("Ask a question within a conversation session."),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("question",
				mcp.Required(),
				mcp.Description("The natural language question to convert to SQL"),
			),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("Session ID returned by create_session"),
			),
		),
		s.handleQueryInSession,
	)

	srv.AddTool(
		mcp.NewTool(ToolGetSessionHistory,
			mcp.WithDescription("List every query asked in a conversation session, oldest first."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("Session ID returned by create_session"),
			),
		),
		s.handleGetSessionHistory,
	)
}

// recordView is the tool-facing shape of a QueryRecord.
type recordView struct {
	QueryID          string                 `json:"query_id"`
	GeneratedSQL     string                 `json:"generated_sql"`
	ValidationErrors []string               `json:"validation_errors"`
	Status           sqlflow.ApprovalStatus `json:"approval_status"`
	Message          string                 `json:"message"`
	Result           []sqlflow.Row          `json:"result"`
	Answer           string                 `json:"answer,omitempty"`
	Error            string                 `json:"error,omitempty"`
	QueryType        sqlflow.QueryType      `json:"query_type"`
	AnalysisPlan     []sqlflow.PlanStep     `json:"analysis_plan,omitempty"`
	AnalysisSteps    []sqlflow.StepResult   `json:"analysis_steps,omitempty"`
}

func viewOf(r *sqlflow.QueryRecord) recordView {
	return recordView{
		QueryID:          r.ID,
		GeneratedSQL:     r.GeneratedSQL,
		ValidationErrors: r.ValidationErrors,
		Status:           r.Status,
		Message:          r.Status.Message(),
		Result:           r.Result,
		Answer:           r.Answer,
		Error:            r.Error,
		QueryType:        r.QueryType,
		AnalysisPlan:     r.AnalysisPlan,
		AnalysisSteps:    r.AnalysisSteps,
	}
}

func (s *Server) handleGenerateSQL(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := requireString(request, "question")
	if err != nil {
		return toolError("%v", err)
	}
	record, err := s.svc.Submit(ctx, question)
	if err != nil {
		return s.serviceError(ToolGenerateSQL, err)
	}
	return successJSON(viewOf(record))
}

func (s *Server) handleExecuteSQL(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(request, "query_id")
	if err != nil {
		return toolError("%v", err)
	}
	record, err := s.svc.ExecuteApproved(ctx, id)
	if err != nil {
		return s.serviceError(ToolExecuteSQL, err)
	}
	return successJSON(viewOf(record))
}

func (s *Server) handleCreateSession(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.svc.CreateSession(ctx)
	if err != nil {
		return s.serviceError(ToolCreateSession, err)
	}
	return successJSON(map[string]string{"session_id": session.ID})
}

func (s *Server) handleQueryInSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := requireString(request, "question")
	if err != nil {
		return toolError("%v", err)
	}
	sessionID, err := requireString(request, "session_id")
	if err != nil {
		return toolError("%v", err)
	}
	record, err := s.svc.SubmitInSession(ctx, question, sessionID)
	if err != nil {
		return s.serviceError(ToolQueryInSession, err)
	}
	return successJSON(viewOf(record))
}

func (s *Server) handleGetSessionHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := requireString(request, "session_id")
	if err != nil {
		return toolError("%v", err)
	}
	records, err := s.svc.SessionHistory(ctx, sessionID)
	if err != nil {
		return s.serviceError(ToolGetSessionHistory, err)
	}
	queries := make([]recordView, len(records))
	for i, r := range records {
		queries[i] = viewOf(r)
	}
	return successJSON(map[string]any{
		"session_id": sessionID,
		"queries":    queries,
		"total":      len(queries),
	})
}

// serviceError reports expected failures as tool errors the agent can act
// on. Anything else is logged and surfaced without detail.
func (s *Server) serviceError(tool string, err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, sqlflow.ErrNotFound),
		errors.Is(err, sqlflow.ErrInvalidState),
		errors.Is(err, sqlflow.ErrRejectedInput):
		return toolError("%v", err)
	default:
		s.logger.Error("tool failed", "tool", tool, "error", err)
		return toolError("%s failed: internal error", tool)
	}
}

func requireString(request mcp.CallToolRequest, key string) (string, error) {
	val, err := request.RequireString(key)
	if err != nil {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return val, nil
}

// successJSON marshals data as the tool's text result.
func successJSON(data any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a result the agent sees as a failed call. It does not
// end the MCP session.
func toolError(format string, args ...any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}
