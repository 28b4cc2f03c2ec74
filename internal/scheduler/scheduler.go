// Package scheduler executes a TaskGraph with dependency gating, global and
// per-provider admission caps, and per-node verify/repair/fallback.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danshapiro/ai3/internal/journal"
	"github.com/danshapiro/ai3/internal/llm"
	"github.com/danshapiro/ai3/internal/registry"
	"github.com/danshapiro/ai3/internal/router"
	"github.com/danshapiro/ai3/internal/taskgraph"
	"github.com/danshapiro/ai3/internal/trace"
	"github.com/danshapiro/ai3/internal/verifier"
)

const (
	DefaultGlobalMax      = 5
	DefaultPerProviderMax = 3
	DefaultAttemptTimeout = 120 * time.Second
)

// State is the per-task execution state.
type State string

const (
	StatePending   State = "pending"
	StateReady     State = "ready"
	StateRunning   State = "running"
	StateVerifying State = "verifying"
	StateRepairing State = "repairing"
	StateFallback  State = "fallback"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

type Config struct {
	Router         *router.Router
	Registry       *registry.Registry
	Client         *llm.Client
	Verifier       *verifier.Verifier
	Journal        *journal.Journal // optional
	GlobalMax      int
	PerProviderMax int
	AttemptTimeout time.Duration
	Verify         bool
	Stream         bool
}

func (c *Config) applyDefaults() {
	if c.GlobalMax <= 0 {
		c.GlobalMax = DefaultGlobalMax
	}
	if c.PerProviderMax <= 0 {
		c.PerProviderMax = DefaultPerProviderMax
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	if c.Verifier == nil {
		c.Verifier = verifier.New(nil)
	}
}

// Outcome is what the engine assembles from.
type Outcome struct {
	Artifacts map[string]*trace.Artifact // task id -> final verified artifact
	Failures  map[string]string          // task id -> reason
}

type taskResult struct {
	done     chan struct{}
	ok       bool
	artifact *trace.Artifact
	reason   string
}

// Scheduler executes exactly one run.
type Scheduler struct {
	cfg     Config
	limiter *limiter

	mu      sync.Mutex // run mutex: graph insertion, state table
	states  map[string]State
	results map[string]*taskResult

	graph  *taskgraph.Graph
	tr     *trace.RunTrace
	events chan<- Event

	fatalOnce sync.Once
	fatalErr  error
	cancelRun context.CancelFunc
}

func New(cfg Config) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		cfg:     cfg,
		limiter: newLimiter(cfg.GlobalMax, cfg.PerProviderMax),
		states:  map[string]State{},
		results: map[string]*taskResult{},
	}
}

// Execute runs the graph to completion. Per-task failures land in the
// Outcome; the returned error is reserved for run-fatal conditions
// (configuration or authentication failures) and caller cancellation.
func (s *Scheduler) Execute(ctx context.Context, g *taskgraph.Graph, tr *trace.RunTrace, events chan<- Event) (*Outcome, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancelRun = cancel
	s.graph = g
	s.tr = tr
	s.events = events

	var wg sync.WaitGroup
	s.mu.Lock()
	initial := make([]*taskgraph.Task, len(g.Tasks))
	copy(initial, g.Tasks)
	for _, t := range initial {
		s.states[t.ID] = StatePending
		s.results[t.ID] = &taskResult{done: make(chan struct{})}
	}
	s.mu.Unlock()

	for _, t := range initial {
		wg.Add(1)
		go func(t *taskgraph.Task) {
			defer wg.Done()
			s.runTask(runCtx, t)
		}(t)
	}
	wg.Wait()

	if s.fatalErr != nil {
		return nil, s.fatalErr
	}

	out := &Outcome{Artifacts: map[string]*trace.Artifact{}, Failures: map[string]string{}}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, res := range s.results {
		if res.ok {
			out.Artifacts[id] = res.artifact
		} else {
			out.Failures[id] = res.reason
		}
	}
	return out, nil
}

// States returns a snapshot of the per-task state table.
func (s *Scheduler) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State, len(s.states))
	for id, st := range s.states {
		out[id] = st
	}
	return out
}

func (s *Scheduler) setState(id string, st State) {
	s.mu.Lock()
	s.states[id] = st
	s.mu.Unlock()
}

func (s *Scheduler) setFatal(err error) {
	s.fatalOnce.Do(func() {
		s.fatalErr = err
		s.cancelRun()
	})
}

// emit blocks on a full channel; cancellation is the only escape.
func (s *Scheduler) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

func (s *Scheduler) runTask(ctx context.Context, t *taskgraph.Task) {
	res := s.results[t.ID]
	defer close(res.done)

	for _, dep := range t.Inputs {
		depRes := s.results[dep]
		select {
		case <-ctx.Done():
			s.failTask(ctx, t, res, "Cancelled")
			return
		case <-depRes.done:
			if !depRes.ok {
				s.failTask(ctx, t, res, fmt.Sprintf("upstream task %s failed", dep))
				return
			}
		}
	}

	s.setState(t.ID, StateReady)
	candidates, err := s.cfg.Router.Route(t)
	if err != nil {
		s.failTask(ctx, t, res, err.Error())
		return
	}

	maxAttempts := len(candidates) + t.RepairBudget
	attempts := 0
	repairBudget := t.RepairBudget
	lastReason := ""

	heldProvider := ""
	releaseAll := func() {
		if heldProvider != "" {
			s.limiter.releaseProvider(heldProvider)
			s.limiter.releaseGlobal()
			heldProvider = ""
		}
	}
	defer releaseAll()

	for rank, cand := range candidates {
		if attempts >= maxAttempts {
			lastReason = "attempt budget exhausted"
			break
		}
		provider := cand.Descriptor.ProviderID

		// Admission: global first, then provider. The global slot is kept
		// across fallback; only the provider slot is swapped when the next
		// candidate lives on a different provider. A task waiting on a
		// contended provider slot holds its global slot meanwhile, which
		// can delay ready tasks on other providers; both caps still hold.
		if heldProvider == "" {
			if err := s.limiter.acquireGlobal(ctx); err != nil {
				s.failTask(ctx, t, res, "Cancelled")
				return
			}
			if err := s.limiter.acquireProvider(ctx, provider); err != nil {
				s.limiter.releaseGlobal()
				s.failTask(ctx, t, res, "Cancelled")
				return
			}
			heldProvider = provider
		} else if heldProvider != provider {
			s.limiter.releaseProvider(heldProvider)
			heldProvider = ""
			if err := s.limiter.acquireProvider(ctx, provider); err != nil {
				s.limiter.releaseGlobal()
				s.failTask(ctx, t, res, "Cancelled")
				return
			}
			heldProvider = provider
		}

		outcome := s.runCandidate(ctx, t, cand, rank, len(candidates), &attempts, maxAttempts, &repairBudget, res)
		switch outcome.kind {
		case outcomeSuccess:
			return
		case outcomeFatal:
			s.setFatal(outcome.err)
			s.failTask(ctx, t, res, outcome.err.Error())
			return
		case outcomeCancelled:
			s.failTask(ctx, t, res, "Cancelled")
			return
		case outcomeNext:
			lastReason = outcome.reason
			s.setState(t.ID, StateFallback)
		}
	}

	if lastReason == "" {
		lastReason = "no candidate available"
	}
	s.failTask(ctx, t, res, "all candidates failed: "+lastReason)
}

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeNext
	outcomeFatal
	outcomeCancelled
)

type candidateOutcome struct {
	kind   outcomeKind
	reason string
	err    error
}

// runCandidate owns one candidate binding: initial execution plus the
// verify/repair loop, all under the slots the caller holds.
func (s *Scheduler) runCandidate(ctx context.Context, t *taskgraph.Task, cand router.Scored, rank, total int, attempts *int, maxAttempts int, repairBudget *int, res *taskResult) candidateOutcome {
	desc := cand.Descriptor

	s.emit(ctx, Event{Type: EventDecision, TaskID: t.ID, Payload: map[string]any{
		"model":    desc.ModelID,
		"provider": desc.ProviderID,
		"rank":     rank,
		"reason":   s.cfg.Router.Explain(t, cand, total),
	}})
	s.setState(t.ID, StateRunning)
	s.emit(ctx, Event{Type: EventTaskStart, TaskID: t.ID, Payload: map[string]any{"model": desc.ModelID}})

	binding := trace.Binding{TaskID: t.ID, ModelID: desc.ModelID, ProviderID: desc.ProviderID, AttemptIndex: *attempts}
	*attempts++
	artifact, elapsedMS, err := s.executeBinding(ctx, t.ID, t.Kind, desc, binding, s.composePrompt(t))
	if err != nil {
		return s.classifyExecError(ctx, desc, elapsedMS, err)
	}

	var prior *trace.Artifact
	current := artifact
	for {
		s.setState(t.ID, StateVerifying)
		var verdict trace.Verdict
		if s.cfg.Verify {
			allowRepair := *repairBudget > 0 && *attempts < maxAttempts
			verdict = s.cfg.Verifier.Verify(ctx, t, current, allowRepair)
		} else {
			verdict = verifier.PassingVerdict(current.ID)
		}
		_ = s.tr.AppendVerdict(verdict)
		s.cfg.Registry.Update(desc.ModelID, verdict.Passed, current.LatencyMS,
			current.InputTokens, current.OutputTokens, desc.EstimateCost(current.InputTokens, current.OutputTokens))

		if verdict.Passed {
			current.Status = trace.StatusVerified
			if prior != nil {
				prior.Status = trace.StatusRepaired
			}
			s.emit(ctx, Event{Type: EventTaskVerified, TaskID: t.ID, Payload: map[string]any{
				"score": verdict.Score, "passed": true, "artifact_id": current.ID,
			}})
			s.setState(t.ID, StateDone)
			_ = s.tr.AddStats(trace.Stats{TasksExecuted: 1})
			s.mu.Lock()
			res.ok = true
			res.artifact = current
			s.mu.Unlock()
			return candidateOutcome{kind: outcomeSuccess}
		}

		current.Status = trace.StatusRejected
		if verdict.Repair == nil || *repairBudget <= 0 || *attempts >= maxAttempts {
			return candidateOutcome{kind: outcomeNext,
				reason: "verification failed: " + strings.Join(verdict.FailureReasons, "; ")}
		}

		// Repair: the directive's node joins the graph and the trace, but
		// its prompt executes here under the held slots.
		*repairBudget--
		s.setState(t.ID, StateRepairing)
		node := &taskgraph.Task{
			ID:       verdict.Repair.NodeID,
			Kind:     verdict.Repair.Kind,
			Prompt:   verdict.Repair.Prompt,
			Inputs:   verdict.Repair.Inputs,
			Criteria: verdict.Repair.Criteria,
		}
		s.mu.Lock()
		insertErr := s.graph.Insert(node)
		s.mu.Unlock()
		if insertErr != nil {
			return candidateOutcome{kind: outcomeNext, reason: "repair node rejected: " + insertErr.Error()}
		}
		_ = s.tr.AddStats(trace.Stats{TasksRepaired: 1})
		s.emit(ctx, Event{Type: EventTaskRepaired, TaskID: t.ID, Payload: map[string]any{
			"new_node_ids": []string{node.ID},
		}})
		s.emit(ctx, Event{Type: EventDecision, TaskID: t.ID, Payload: map[string]any{
			"model":    desc.ModelID,
			"provider": desc.ProviderID,
			"rank":     rank,
			"reason":   fmt.Sprintf("repair attempt on %s via node %s", desc.ModelID, node.ID),
		}})
		s.setState(t.ID, StateRunning)
		s.emit(ctx, Event{Type: EventTaskStart, TaskID: t.ID, Payload: map[string]any{"model": desc.ModelID}})

		repairBinding := trace.Binding{TaskID: node.ID, ModelID: desc.ModelID, ProviderID: desc.ProviderID, AttemptIndex: *attempts}
		*attempts++
		repaired, elapsedMS, err := s.executeBinding(ctx, node.ID, node.Kind, desc, repairBinding, node.Prompt)
		if err != nil {
			out := s.classifyExecError(ctx, desc, elapsedMS, err)
			if out.kind == outcomeNext {
				out.reason = "repair execution failed: " + out.reason
			}
			return out
		}
		prior = current
		current = repaired
	}
}

// executeBinding performs one adapter call with the per-attempt deadline and
// records the binding, artifact, journal entry, and token stats.
func (s *Scheduler) executeBinding(ctx context.Context, taskID string, kind taskgraph.Kind, desc *registry.Descriptor, binding trace.Binding, prompt string) (*trace.Artifact, int64, error) {
	_ = s.tr.AppendBinding(binding)

	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	defer cancel()

	req := llm.Request{Model: desc.ModelID, Prompt: prompt}
	streaming := false
	if s.cfg.Stream {
		if a, ok := s.cfg.Client.Adapter(desc.ProviderID); ok && a.SupportsStreaming() {
			streaming = true
			req.OnFragment = func(text string) {
				s.emit(ctx, Event{Type: EventTaskArtifact, TaskID: taskID, Payload: map[string]any{"text": text}})
			}
		}
	}

	start := time.Now()
	resp, err := s.cfg.Client.Execute(attemptCtx, desc.ProviderID, req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return nil, elapsed, err
	}

	artifact := trace.NewArtifact(taskID, binding, resp.Content, resp.InputTokens, resp.OutputTokens, resp.LatencyMS)
	_ = s.tr.AppendArtifact(artifact)
	if s.cfg.Journal != nil {
		if _, jerr := s.cfg.Journal.SaveArtifact(kind, artifact); jerr != nil {
			// Journal trouble must not kill the run; the trace still holds
			// the content.
			_ = jerr
		}
	}
	_ = s.tr.AddStats(trace.Stats{
		TokensIn:  resp.InputTokens,
		TokensOut: resp.OutputTokens,
		Cost:      desc.EstimateCost(resp.InputTokens, resp.OutputTokens),
	})
	if !streaming {
		s.emit(ctx, Event{Type: EventTaskArtifact, TaskID: taskID, Payload: map[string]any{
			"artifact_id": artifact.ID, "text": resp.Content,
		}})
	}
	return artifact, elapsed, nil
}

// classifyExecError maps an adapter failure onto the task state machine.
// Auth and configuration problems are fatal to the run; the per-attempt
// deadline counts as a transient timeout; everything else falls back to the
// next candidate.
func (s *Scheduler) classifyExecError(ctx context.Context, desc *registry.Descriptor, elapsedMS int64, err error) candidateOutcome {
	if ctx.Err() != nil {
		return candidateOutcome{kind: outcomeCancelled}
	}

	var ce *llm.ConfigurationError
	if errors.As(err, &ce) || llm.IsAuthFailed(err) {
		return candidateOutcome{kind: outcomeFatal, err: err}
	}

	s.cfg.Registry.Update(desc.ModelID, false, elapsedMS, 0, 0, 0)
	if errors.Is(err, context.DeadlineExceeded) {
		return candidateOutcome{kind: outcomeNext, reason: "attempt deadline exceeded"}
	}
	return candidateOutcome{kind: outcomeNext, reason: err.Error()}
}

func (s *Scheduler) failTask(ctx context.Context, t *taskgraph.Task, res *taskResult, reason string) {
	s.setState(t.ID, StateFailed)
	s.mu.Lock()
	res.reason = reason
	s.mu.Unlock()
	_ = s.tr.AddStats(trace.Stats{TasksFailed: 1})
	s.emit(ctx, Event{Type: EventTaskFailed, TaskID: t.ID, Payload: map[string]any{"reason": reason}})
}

// composePrompt appends upstream artifacts, in input order, as context.
func (s *Scheduler) composePrompt(t *taskgraph.Task) string {
	if len(t.Inputs) == 0 {
		return t.Prompt
	}
	var b strings.Builder
	b.WriteString(t.Prompt)
	for _, dep := range t.Inputs {
		res := s.results[dep]
		if res == nil || res.artifact == nil {
			continue
		}
		fmt.Fprintf(&b, "\n\n--- Context from %s ---\n%s", dep, res.artifact.Content)
	}
	return b.String()
}
