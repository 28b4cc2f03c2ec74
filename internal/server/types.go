package server

import "github.com/danshapiro/ai3/internal/trace"

// RunRequest is the POST /run and POST /stream/run request body.
type RunRequest struct {
	Prompt string `json:"prompt"`

	// PlannerModel overrides the configured planner model for this run.
	PlannerModel string `json:"planner_model,omitempty"`
}

// RunResponse is returned by POST /run.
type RunResponse struct {
	RunID             string      `json:"run_id"`
	Content           string      `json:"content"`
	Confidence        float64     `json:"confidence"`
	Strategy          string      `json:"strategy"`
	Warnings          []string    `json:"warnings,omitempty"`
	SourceArtifactIDs []string    `json:"source_artifact_ids"`
	Stats             trace.Stats `json:"stats"`
}

// ErrorResponse is the error envelope for every non-2xx body.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
