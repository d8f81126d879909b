// Package mcp exposes the orchestrator as Model Context Protocol tools so
// agents can ask questions, run approved queries and hold conversations.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/orchestrator"
)

// Service is the orchestrator surface the tools use.
type Service interface {
	Submit(ctx context.Context, question string) (*sqlflow.QueryRecord, error)
	SubmitInSession(ctx context.Context, question, sessionID string) (*sqlflow.QueryRecord, error)
	ExecuteApproved(ctx context.Context, id string) (*sqlflow.QueryRecord, error)
	CreateSession(ctx context.Context) (*sqlflow.SessionInfo, error)
	Session(ctx context.Context, id string) (*sqlflow.SessionInfo, error)
	SessionHistory(ctx context.Context, id string) ([]*sqlflow.QueryRecord, error)
}

var _ Service = (*orchestrator.Orchestrator)(nil)

// Server wraps an mcp-go server with the sqlflow tools registered.
type Server struct {
	svc    Service
	logger *slog.Logger
	server *server.MCPServer
}

// NewServer creates a Server. A nil logger discards.
func NewServer(svc Service, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{svc: svc, logger: logger}
	mcpServer := server.NewMCPServer(
		"sqlflow",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	s.registerTools(mcpServer)
	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go server.
func (s *Server) Server() *server.MCPServer {
	return s.server
}

// ServeStdio serves over in and out until ctx is cancelled or in closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("starting MCP server in stdio mode")
	err := server.NewStdioServer(s.server).Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp stdio: %w", err)
	}
	return nil
}

// ServeHTTP serves Streamable HTTP on addr until ctx is cancelled.
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("MCP HTTP server starting", "addr", addr)
		errCh <- httpServer.Start(addr)
	}()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("mcp http: %w", err)
		}
		return nil
	case <-ctx.Done():
		return httpServer.Shutdown(context.WithoutCancel(ctx))
	}
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{ReadOnlyHint: boolPtr(false)}
}

func boolPtr(b bool) *bool {
	return &b
}
