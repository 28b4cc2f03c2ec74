// Package engine runs one prompt end to end: plan, execute, assemble,
// persist. It owns run identity and the event stream around the scheduler.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/danshapiro/ai3/internal/assembler"
	"github.com/danshapiro/ai3/internal/llm"
	"github.com/danshapiro/ai3/internal/planner"
	"github.com/danshapiro/ai3/internal/router"
	"github.com/danshapiro/ai3/internal/scheduler"
	"github.com/danshapiro/ai3/internal/trace"
	"github.com/danshapiro/ai3/internal/verifier"
)

const defaultPlannerModel = "claude-sonnet-4"

type Engine struct {
	cfg Config
}

func New(cfg Config) (*Engine, error) {
	if cfg.Client == nil {
		return nil, &llm.ConfigurationError{Message: "engine needs an LLM client"}
	}
	if cfg.Registry == nil {
		return nil, &llm.ConfigurationError{Message: "engine needs a model registry"}
	}
	cfg.applyDefaults()
	return &Engine{cfg: cfg}, nil
}

// Result is a completed run.
type Result struct {
	RunID    string
	Response *trace.Response
	Trace    *trace.RunTrace
}

// NewRunID returns a sortable run id: UTC timestamp plus a short random
// suffix to disambiguate runs started in the same second.
func NewRunID() string {
	u := uuid.New()
	return fmt.Sprintf("%s_%x", time.Now().UTC().Format("20060102_150405"), u[:3])
}

// Run executes a prompt and discards intermediate events.
func (e *Engine) Run(ctx context.Context, prompt string) (*Result, error) {
	events := make(chan scheduler.Event, scheduler.EventBufferSize)
	done := make(chan struct{})
	go func() {
		for range events {
		}
		close(done)
	}()
	res, err := e.run(ctx, prompt, events)
	close(events)
	<-done
	return res, err
}

// RunStream executes a prompt, delivering events to the caller's channel.
// The channel is closed when the run finishes; emitters block when the
// consumer falls behind, so the caller must keep draining.
func (e *Engine) RunStream(ctx context.Context, prompt string, events chan<- scheduler.Event) (*Result, error) {
	defer close(events)
	return e.run(ctx, prompt, events)
}

func (e *Engine) run(ctx context.Context, prompt string, events chan<- scheduler.Event) (*Result, error) {
	runID := NewRunID()
	tr := trace.NewRunTrace(runID, prompt)
	defer e.persist(tr)

	opts, err := e.plannerOptions()
	if err != nil {
		return nil, err
	}
	e.cfg.Logger.Printf("run %s: planning with %s", runID, opts.Model)
	graph, err := planner.New(e.cfg.Client, opts).Plan(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if e.cfg.RepairLimit >= 0 {
		for _, t := range graph.Tasks {
			if t.RepairBudget > e.cfg.RepairLimit {
				t.RepairBudget = e.cfg.RepairLimit
			}
		}
	}
	_ = tr.SetGraph(graph)

	// Terminal set is fixed before execution; repair nodes inserted later
	// must not widen it.
	terminals := graph.Terminals()
	taskIDs := make([]string, 0, len(graph.Tasks))
	for _, t := range graph.Tasks {
		taskIDs = append(taskIDs, t.ID)
	}
	terminalIDs := make([]string, 0, len(terminals))
	for _, t := range terminals {
		terminalIDs = append(terminalIDs, t.ID)
	}
	e.cfg.Logger.Printf("run %s: %d task(s), %d terminal(s)", runID, len(taskIDs), len(terminalIDs))
	e.emit(ctx, events, scheduler.Event{Type: scheduler.EventPlan, Payload: map[string]any{
		"run_id": runID, "task_ids": taskIDs, "terminal_ids": terminalIDs,
	}})

	ver, err := e.verifier()
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(scheduler.Config{
		Router:         router.New(e.cfg.Registry, e.cfg.Overrides),
		Registry:       e.cfg.Registry,
		Client:         e.cfg.Client,
		Verifier:       ver,
		Journal:        e.cfg.Journal,
		GlobalMax:      e.cfg.GlobalMax,
		PerProviderMax: e.cfg.PerProviderMax,
		AttemptTimeout: e.cfg.AttemptTimeout,
		Verify:         e.cfg.Verify,
		Stream:         e.cfg.Stream,
	})
	out, err := sched.Execute(ctx, graph, tr, events)
	if err != nil {
		return nil, e.classifyFatal(ctx, err)
	}

	var inputs []assembler.Input
	for _, id := range graph.PostOrder(terminals) {
		t := graph.Task(id)
		if t == nil || !isTerminal(terminalIDs, id) {
			continue
		}
		art := out.Artifacts[id]
		if art == nil {
			continue
		}
		score := 1.0
		if v, ok := tr.VerdictForArtifact(art.ID); ok {
			score = v.Score
		}
		inputs = append(inputs, assembler.Input{Task: t, Artifact: art, Score: score})
	}

	if len(inputs) < len(terminalIDs) && ctx.Err() != nil {
		return nil, &RunError{Kind: kindForContext(ctx), Message: "run interrupted before all terminal tasks completed", TaskFailures: out.Failures, Err: ctx.Err()}
	}
	if len(inputs) == 0 {
		return nil, &RunError{Kind: ErrorAllCandidatesFailed, Message: "no terminal task produced a verified artifact", TaskFailures: out.Failures}
	}

	e.emit(ctx, events, scheduler.Event{Type: scheduler.EventAssembleStart, Payload: map[string]any{
		"artifact_count": len(inputs),
	}})
	resp, err := e.assembler(opts).Assemble(ctx, inputs)
	if err != nil {
		return nil, &RunError{Kind: ErrorAllCandidatesFailed, Message: "assembly failed: " + err.Error(), Err: err}
	}

	// Partial result: surface what failed and discount confidence by the
	// share of terminals delivered.
	if missing := len(terminalIDs) - len(inputs); missing > 0 {
		for _, id := range terminalIDs {
			if reason, failed := out.Failures[id]; failed {
				resp.Warnings = append(resp.Warnings, fmt.Sprintf("task %s failed: %s", id, reason))
			}
		}
		resp.Confidence *= float64(len(inputs)) / float64(len(terminalIDs))
	}
	_ = tr.SetResponse(resp)

	e.emit(ctx, events, scheduler.Event{Type: scheduler.EventFinal, Payload: map[string]any{
		"content": resp.Content, "confidence": resp.Confidence, "strategy": resp.Strategy,
	}})
	tr.Seal()
	stats := tr.Stats()
	e.emit(ctx, events, scheduler.Event{Type: scheduler.EventStats, Payload: map[string]any{
		"wall_time_ms": stats.WallTimeMS, "tokens_in": stats.TokensIn, "tokens_out": stats.TokensOut,
		"cost": stats.Cost, "tasks_executed": stats.TasksExecuted,
		"tasks_repaired": stats.TasksRepaired, "tasks_failed": stats.TasksFailed,
	}})
	e.cfg.Logger.Printf("run %s: done, %d executed, %d repaired, %d failed",
		runID, stats.TasksExecuted, stats.TasksRepaired, stats.TasksFailed)
	return &Result{RunID: runID, Response: resp, Trace: tr}, nil
}

func (e *Engine) persist(tr *trace.RunTrace) {
	tr.Seal()
	if e.cfg.Journal == nil {
		return
	}
	if err := e.cfg.Journal.SaveTrace(tr); err != nil {
		e.cfg.Logger.Printf("run %s: saving trace: %v", tr.RunID(), err)
	}
}

func (e *Engine) plannerOptions() (planner.Options, error) {
	model := e.cfg.PlannerModel
	if model == "" {
		if _, ok := e.cfg.Registry.Descriptor(defaultPlannerModel); ok {
			model = defaultPlannerModel
		} else {
			model = e.cfg.Registry.Descriptors()[0].ModelID
		}
	}
	desc, ok := e.cfg.Registry.Descriptor(model)
	if !ok {
		return planner.Options{}, &llm.ConfigurationError{Message: fmt.Sprintf("planner model %q is not in the registry", model)}
	}
	return planner.Options{
		Provider:    desc.ProviderID,
		Model:       desc.ModelID,
		MaxTokens:   e.cfg.PlannerMaxTokens,
		Temperature: e.cfg.PlannerTemperature,
	}, nil
}

// verifier picks the judge: heuristic by default, rubric calls when a
// rubric model is configured.
func (e *Engine) verifier() (*verifier.Verifier, error) {
	if e.cfg.RubricModel == "" {
		return verifier.New(nil), nil
	}
	desc, ok := e.cfg.Registry.Descriptor(e.cfg.RubricModel)
	if !ok {
		return nil, &llm.ConfigurationError{Message: fmt.Sprintf("rubric model %q is not in the registry", e.cfg.RubricModel)}
	}
	return verifier.New(&verifier.RubricJudge{
		Client:   e.cfg.Client,
		Provider: desc.ProviderID,
		Model:    desc.ModelID,
	}), nil
}

func (e *Engine) assembler(opts planner.Options) *assembler.Assembler {
	return &assembler.Assembler{Client: e.cfg.Client, Provider: opts.Provider, Model: opts.Model}
}

func (e *Engine) classifyFatal(ctx context.Context, err error) error {
	var ce *llm.ConfigurationError
	if errors.As(err, &ce) || llm.IsAuthFailed(err) {
		return &RunError{Kind: ErrorConfiguration, Message: err.Error(), Err: err}
	}
	if ctx.Err() != nil {
		return &RunError{Kind: kindForContext(ctx), Message: err.Error(), Err: err}
	}
	return &RunError{Kind: ErrorConfiguration, Message: err.Error(), Err: err}
}

func kindForContext(ctx context.Context) RunErrorKind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrorTimeout
	}
	return ErrorCancelled
}

func (e *Engine) emit(ctx context.Context, events chan<- scheduler.Event, ev scheduler.Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func isTerminal(terminalIDs []string, id string) bool {
	for _, t := range terminalIDs {
		if t == id {
			return true
		}
	}
	return false
}
