package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/danshapiro/ai3/internal/engine"
	"github.com/danshapiro/ai3/internal/llm"
	"github.com/danshapiro/ai3/internal/planner"
	"github.com/danshapiro/ai3/internal/scheduler"
)

// statusClientClosedRequest is the nginx convention for a client that went
// away before the response was ready.
const statusClientClosedRequest = 499

// validRunID permits the engine's run id shape plus ULIDs and UUIDs.
var validRunID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,127}$`)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) decodeRunRequest(w http.ResponseWriter, r *http.Request, stream bool) (*engine.Engine, string, bool) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid request body: %v", err))
		return nil, "", false
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "prompt is required")
		return nil, "", false
	}

	cfg := s.config.EngineConfig
	cfg.Stream = stream
	if req.PlannerModel != "" {
		cfg.PlannerModel = req.PlannerModel
	}
	eng, err := engine.New(cfg)
	if err != nil {
		status, kind := statusForError(err)
		writeError(w, status, kind, err.Error())
		return nil, "", false
	}
	return eng, req.Prompt, true
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	eng, prompt, ok := s.decodeRunRequest(w, r, false)
	if !ok {
		return
	}

	res, err := eng.Run(r.Context(), prompt)
	if err != nil {
		status, kind := statusForError(err)
		s.logger.Printf("run failed: %v", err)
		writeError(w, status, kind, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, RunResponse{
		RunID:             res.RunID,
		Content:           res.Response.Content,
		Confidence:        res.Response.Confidence,
		Strategy:          res.Response.Strategy,
		Warnings:          res.Response.Warnings,
		SourceArtifactIDs: res.Response.SourceArtifactIDs,
		Stats:             res.Trace.Stats(),
	})
}

func (s *Server) handleStreamRun(w http.ResponseWriter, r *http.Request) {
	eng, prompt, ok := s.decodeRunRequest(w, r, true)
	if !ok {
		return
	}

	flusher, ok := beginSSE(w)
	if !ok {
		return
	}

	events := make(chan scheduler.Event, scheduler.EventBufferSize)
	type runOut struct {
		res *engine.Result
		err error
	}
	resCh := make(chan runOut, 1)
	go func() {
		res, err := eng.RunStream(r.Context(), prompt, events)
		resCh <- runOut{res, err}
	}()

	for ev := range events {
		writeSSEData(w, flusher, ev)
	}
	out := <-resCh
	if out.err != nil {
		s.logger.Printf("stream run failed: %v", out.err)
		_, kind := statusForError(out.err)
		writeSSEEvent(w, flusher, "error", ErrorDetail{Kind: kind, Message: out.err.Error()})
		return
	}
	writeSSEEvent(w, flusher, "done", map[string]string{"run_id": out.res.RunID})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	j := s.config.EngineConfig.Journal
	if j == nil {
		writeError(w, http.StatusNotFound, "not_found", "run persistence is not configured")
		return
	}
	runs, err := j.ListRuns()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if runs == nil {
		runs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	j := s.config.EngineConfig.Journal
	if j == nil {
		writeError(w, http.StatusNotFound, "not_found", "run persistence is not configured")
		return
	}
	runID := r.PathValue("id")
	if !validRunID.MatchString(runID) {
		writeError(w, http.StatusBadRequest, "bad_request", "run id must be alphanumeric with dashes/underscores, 1-128 chars")
		return
	}
	tr, err := j.GetTrace(runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("run %s not found", runID))
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

// statusForError maps the closed error types onto HTTP status codes.
func statusForError(err error) (int, string) {
	var pe *planner.PlanError
	if errors.As(err, &pe) {
		return http.StatusBadRequest, "plan_" + string(pe.Kind)
	}
	var re *engine.RunError
	if errors.As(err, &re) {
		switch re.Kind {
		case engine.ErrorAllCandidatesFailed:
			return http.StatusFailedDependency, string(re.Kind)
		case engine.ErrorTimeout:
			return http.StatusRequestTimeout, string(re.Kind)
		case engine.ErrorCancelled:
			return statusClientClosedRequest, string(re.Kind)
		default:
			return http.StatusInternalServerError, string(re.Kind)
		}
	}
	var ce *llm.ConfigurationError
	if errors.As(err, &ce) {
		return http.StatusInternalServerError, "configuration"
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Kind: kind, Message: msg}})
}
