package engine

import (
	"context"
	"errors"
	"log"
	"regexp"
	"strings"
	"testing"

	"github.com/danshapiro/ai3/internal/llm"
	"github.com/danshapiro/ai3/internal/planner"
	"github.com/danshapiro/ai3/internal/registry"
	"github.com/danshapiro/ai3/internal/scheduler"
	"github.com/danshapiro/ai3/internal/telemetry"
)

// planTaskAdapter serves the planner call with a canned graph and every
// other call with task content.
type planTaskAdapter struct {
	plan string
	task func(req llm.Request) string
}

func (a *planTaskAdapter) Provider() string        { return "p" }
func (a *planTaskAdapter) SupportsStreaming() bool { return false }
func (a *planTaskAdapter) Execute(_ context.Context, req llm.Request) (llm.Response, error) {
	content := a.plan
	if !strings.Contains(req.Prompt, "User request:") {
		content = "a plain task result long enough to pass"
		if a.task != nil {
			content = a.task(req)
		}
	}
	return llm.Response{Content: content, Model: req.Model, InputTokens: 10, OutputTokens: 10, LatencyMS: 5}, nil
}

func newEngine(t *testing.T, a llm.Adapter, mut func(*Config)) *Engine {
	t.Helper()
	client := llm.NewClient()
	if err := client.Register(a); err != nil {
		t.Fatalf("register: %v", err)
	}
	reg, err := registry.New([]*registry.Descriptor{{
		ModelID: "m1", ProviderID: "p", ContextWindow: 100000,
	}}, telemetry.NewRecorder())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	cfg := Config{
		Client:      client,
		Registry:    reg,
		Verify:      true,
		RepairLimit: DefaultRepairLimit,
		Logger:      log.New(discard{}, "", 0),
	}
	if mut != nil {
		mut(&cfg)
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

const singleTaskPlan = `{"tasks":[{"id":"t1","kind":"general","prompt":"answer the question","terminal":true}]}`

func TestRun_EndToEnd(t *testing.T) {
	e := newEngine(t, &planTaskAdapter{plan: singleTaskPlan}, nil)
	res, err := e.Run(context.Background(), "what is the answer")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Response.Content != "a plain task result long enough to pass" {
		t.Fatalf("content=%q", res.Response.Content)
	}
	if res.Response.Strategy != "best_single" {
		t.Fatalf("strategy=%q", res.Response.Strategy)
	}
	if !res.Trace.Sealed() {
		t.Fatalf("trace not sealed")
	}
	if stats := res.Trace.Stats(); stats.TasksExecuted != 1 || stats.WallTimeMS < 0 {
		t.Fatalf("stats=%+v", stats)
	}
}

func TestRun_PlanErrorPropagates(t *testing.T) {
	e := newEngine(t, &planTaskAdapter{plan: "this is not a task graph"}, nil)
	_, err := e.Run(context.Background(), "p")
	var pe *planner.PlanError
	if !errors.As(err, &pe) {
		t.Fatalf("err=%v", err)
	}
}

func TestRun_AllTerminalsFailed(t *testing.T) {
	e := newEngine(t, &planTaskAdapter{
		plan: singleTaskPlan,
		task: func(llm.Request) string { return "I cannot help with that" },
	}, nil)
	_, err := e.Run(context.Background(), "p")
	var re *RunError
	if !errors.As(err, &re) || re.Kind != ErrorAllCandidatesFailed {
		t.Fatalf("err=%v", err)
	}
	if re.TaskFailures["t1"] == "" {
		t.Fatalf("failures=%v", re.TaskFailures)
	}
}

func TestRun_RepairLimitCapsBudgets(t *testing.T) {
	plan := `{"tasks":[{"id":"t1","kind":"general","prompt":"p","repair_budget":5,"terminal":true}]}`
	e := newEngine(t, &planTaskAdapter{plan: plan}, func(c *Config) {
		c.RepairLimit = 0
	})
	res, err := e.Run(context.Background(), "p")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := res.Trace.Graph().Task("t1").RepairBudget; got != 0 {
		t.Fatalf("repair budget=%d want 0", got)
	}
}

func TestRun_UnknownRubricModelIsConfigurationError(t *testing.T) {
	e := newEngine(t, &planTaskAdapter{plan: singleTaskPlan}, func(c *Config) {
		c.RubricModel = "no-such-model"
	})
	_, err := e.Run(context.Background(), "p")
	var ce *llm.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("err=%v", err)
	}
}

func TestRunStream_EventSequence(t *testing.T) {
	e := newEngine(t, &planTaskAdapter{plan: singleTaskPlan}, nil)
	events := make(chan scheduler.Event, scheduler.EventBufferSize)
	var got []scheduler.Event
	done := make(chan struct{})
	go func() {
		for ev := range events {
			got = append(got, ev)
		}
		close(done)
	}()
	if _, err := e.RunStream(context.Background(), "p", events); err != nil {
		t.Fatalf("RunStream: %v", err)
	}
	<-done

	if len(got) == 0 || got[0].Type != scheduler.EventPlan {
		t.Fatalf("first event=%v", got)
	}
	if got[len(got)-1].Type != scheduler.EventStats {
		t.Fatalf("last event=%s", got[len(got)-1].Type)
	}
	idx := map[scheduler.EventType]int{}
	for i, ev := range got {
		if _, seen := idx[ev.Type]; !seen {
			idx[ev.Type] = i
		}
	}
	for _, typ := range []scheduler.EventType{
		scheduler.EventPlan, scheduler.EventDecision, scheduler.EventTaskStart,
		scheduler.EventTaskArtifact, scheduler.EventTaskVerified,
		scheduler.EventAssembleStart, scheduler.EventFinal, scheduler.EventStats,
	} {
		if _, ok := idx[typ]; !ok {
			t.Fatalf("missing event %s in %v", typ, got)
		}
	}
	if idx[scheduler.EventAssembleStart] < idx[scheduler.EventTaskVerified] {
		t.Fatalf("assemble_start before task_verified")
	}
	if ev := got[idx[scheduler.EventFinal]]; ev.Payload["content"] != "a plain task result long enough to pass" {
		t.Fatalf("final payload=%v", ev.Payload)
	}
}

func TestNewRunID_Format(t *testing.T) {
	re := regexp.MustCompile(`^\d{8}_\d{6}_[0-9a-f]{6}$`)
	a, b := NewRunID(), NewRunID()
	if !re.MatchString(a) {
		t.Fatalf("run id %q", a)
	}
	if a == b {
		t.Fatalf("run ids collide: %q", a)
	}
}
