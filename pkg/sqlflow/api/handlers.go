package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/orchestrator"
)

// QueryRequest is the body of POST /query and POST /conversations/{id}/query.
type QueryRequest struct {
	Question string `json:"question"`
}

// ApproveRequest is the body of POST /approve/{id}.
type ApproveRequest struct {
	Approved    bool   `json:"approved"`
	ModifiedSQL string `json:"modified_sql,omitempty"`
}

// SessionHistoryResponse is the body of GET /conversations/{id}/history.
type SessionHistoryResponse struct {
	Session *sqlflow.SessionInfo   `json:"session"`
	Records []*sqlflow.QueryRecord `json:"records"`
}

// ErrorResponse is the error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	record, err := s.svc.Submit(r.Context(), req.Question)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	record, err := s.svc.Record(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	record, err := s.svc.Approve(r.Context(), chi.URLParam(r, "id"), req.Approved, req.ModifiedSQL)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.svc.History(r.Context(), limit, offset)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.svc.CreateSession(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.svc.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleSessionQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	record, err := s.svc.SubmitInSession(r.Context(), req.Question, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, err := s.svc.Session(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	records, err := s.svc.SessionHistory(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionHistoryResponse{Session: session, Records: records})
}

// handleStream runs a session question and relays its events as
// server-sent events, ending with "event: done".
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	question := strings.TrimSpace(r.URL.Query().Get("question"))
	if question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if _, err := s.svc.Session(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range s.svc.Stream(r.Context(), question, id) {
		payload := ev.Data
		if payload == nil {
			payload = map[string]any{}
		}
		data, err := json.Marshal(payload)
		if err != nil {
			s.logger.Warn("encode stream event", "event", ev.Name, "error", err)
			data = []byte("{}")
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data)
		flusher.Flush()
	}
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.svc.CacheStats()
	writeJSON(w, http.StatusOK, map[string]int{
		"entries": stats.Entries,
		"hits":    int(stats.Hits),
		"misses":  int(stats.Misses),
	})
}

func (s *Server) handleCacheFlush(w http.ResponseWriter, _ *http.Request) {
	s.svc.FlushCache()
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

// readJSON decodes the body into v, answering 400 on failure.
func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)
	defer body.Close()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// fail maps err onto a status code. Unexpected errors are logged and
// reported without detail.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sqlflow.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sqlflow.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, sqlflow.ErrRejectedInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

var _ Service = (*orchestrator.Orchestrator)(nil)
