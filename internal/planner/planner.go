// Package planner turns a user prompt into a validated TaskGraph by calling
// one designated LLM.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/danshapiro/ai3/internal/llm"
	"github.com/danshapiro/ai3/internal/taskgraph"
)

type ErrorKind string

const (
	ErrorSchema      ErrorKind = "schema"
	ErrorCycle       ErrorKind = "cycle"
	ErrorUpstreamLLM ErrorKind = "upstream_llm"
)

type PlanError struct {
	Kind       ErrorKind
	Message    string
	Violations []string
	Err        error
}

func (e *PlanError) Error() string {
	if len(e.Violations) > 0 {
		return fmt.Sprintf("plan error (%s): %s: %s", e.Kind, e.Message, strings.Join(e.Violations, "; "))
	}
	return fmt.Sprintf("plan error (%s): %s", e.Kind, e.Message)
}
func (e *PlanError) Unwrap() error { return e.Err }

const systemPrompt = `You decompose a user request into a JSON task graph for a multi-model orchestrator.

Respond with ONLY a JSON object of this shape, no prose and no markdown fences:

{"tasks": [{"id": "t1", "kind": "<kind>", "prompt": "<instruction for the model>",
  "inputs": ["<upstream task id>"], "criteria": ["<checkable success statement>"],
  "min_context": 0, "repair_budget": 1, "terminal": false}]}

Rules:
- kind is one of: coding, creative_writing, professional_writing, document_processing,
  automation, summarization, data_analysis, multimodal, integration,
  mathematical_reasoning, realtime_social, creative_insight, general.
- ids are unique; inputs reference earlier tasks only; the graph is acyclic.
- Each prompt must be self-contained; upstream outputs are appended as context.
- Mark the task(s) whose output answers the user with "terminal": true.
- A simple request is one task. Do not decompose needlessly.`

const maxAttempts = 2

type Options struct {
	Provider    string
	Model       string
	MaxTokens   int
	Temperature float64
}

type Planner struct {
	client *llm.Client
	opts   Options
}

func New(client *llm.Client, opts Options) *Planner {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	return &Planner{client: client, opts: opts}
}

// Plan runs up to two LLM attempts; the second attempt carries a corrective
// message listing the first attempt's violations.
func (p *Planner) Plan(ctx context.Context, prompt string) (*taskgraph.Graph, error) {
	userPrompt := "User request:\n" + prompt
	var lastErr *PlanError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 && lastErr != nil {
			userPrompt = fmt.Sprintf(
				"%s\n\nYour previous task graph was invalid:\n- %s\nReturn a corrected JSON object.",
				"User request:\n"+prompt, strings.Join(violationList(lastErr), "\n- "))
		}
		temp := p.opts.Temperature
		resp, err := p.client.Execute(ctx, p.opts.Provider, llm.Request{
			Model:       p.opts.Model,
			System:      systemPrompt,
			Prompt:      userPrompt,
			MaxTokens:   p.opts.MaxTokens,
			Temperature: &temp,
		})
		if err != nil {
			return nil, &PlanError{Kind: ErrorUpstreamLLM, Message: "planner model call failed", Err: err}
		}

		graph, planErr := decodeGraph(resp.Content)
		if planErr == nil {
			return graph, nil
		}
		lastErr = planErr
	}
	return nil, lastErr
}

func decodeGraph(raw string) (*taskgraph.Graph, *PlanError) {
	repaired := autoRepairJSON(raw)

	var doc any
	if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
		return nil, &PlanError{Kind: ErrorSchema, Message: "planner output is not JSON", Err: err,
			Violations: []string{err.Error()}}
	}
	schema, err := compiledTaskGraphSchema()
	if err != nil {
		return nil, &PlanError{Kind: ErrorSchema, Message: "schema compile failed", Err: err}
	}
	if err := schema.Validate(doc); err != nil {
		return nil, &PlanError{Kind: ErrorSchema, Message: "task graph violates schema", Err: err,
			Violations: []string{err.Error()}}
	}

	graph, err := taskgraph.Decode([]byte(repaired))
	if err != nil {
		kind := ErrorSchema
		if errors.Is(err, taskgraph.ErrCycle) {
			kind = ErrorCycle
		}
		return nil, &PlanError{Kind: kind, Message: "task graph rejected", Err: err,
			Violations: []string{err.Error()}}
	}
	return graph, nil
}

func violationList(e *PlanError) []string {
	if len(e.Violations) > 0 {
		return e.Violations
	}
	return []string{e.Message}
}
