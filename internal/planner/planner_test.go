package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/danshapiro/ai3/internal/llm"
)

type scriptAdapter struct {
	replies []string
	err     error
	prompts []string
}

func (a *scriptAdapter) Provider() string        { return "fake" }
func (a *scriptAdapter) SupportsStreaming() bool { return false }
func (a *scriptAdapter) Execute(_ context.Context, req llm.Request) (llm.Response, error) {
	a.prompts = append(a.prompts, req.Prompt)
	if a.err != nil {
		return llm.Response{}, a.err
	}
	i := len(a.prompts) - 1
	if i >= len(a.replies) {
		i = len(a.replies) - 1
	}
	return llm.Response{Content: a.replies[i], Provider: "fake", Model: req.Model}, nil
}

func newPlanner(t *testing.T, a *scriptAdapter) *Planner {
	t.Helper()
	c := llm.NewClient()
	if err := c.Register(a); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return New(c, Options{Provider: "fake", Model: "planner-model"})
}

func TestPlan_SingleNodeGraph(t *testing.T) {
	a := &scriptAdapter{replies: []string{
		`{"tasks":[{"id":"t1","kind":"general","prompt":"answer the question","terminal":true}]}`,
	}}
	g, err := newPlanner(t, a).Plan(context.Background(), "what is Go?")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(g.Tasks) != 1 || g.Tasks[0].ID != "t1" {
		t.Fatalf("graph=%+v", g.Tasks)
	}
	if len(a.prompts) != 1 {
		t.Fatalf("attempts=%d", len(a.prompts))
	}
}

func TestPlan_FencedOutputIsRepaired(t *testing.T) {
	a := &scriptAdapter{replies: []string{
		"Here is the plan:\n```json\n{\"tasks\":[{\"id\":\"t1\",\"kind\":\"coding\",\"prompt\":\"write it\",}]}\n```",
	}}
	g, err := newPlanner(t, a).Plan(context.Background(), "write code")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if g.Tasks[0].Kind != "coding" {
		t.Fatalf("kind=%s", g.Tasks[0].Kind)
	}
}

func TestPlan_SecondAttemptCarriesViolations(t *testing.T) {
	a := &scriptAdapter{replies: []string{
		`{"tasks":[{"id":"t1","kind":"alchemy","prompt":"x"}]}`,
		`{"tasks":[{"id":"t1","kind":"general","prompt":"x","terminal":true}]}`,
	}}
	g, err := newPlanner(t, a).Plan(context.Background(), "do something")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if g == nil || len(a.prompts) != 2 {
		t.Fatalf("attempts=%d", len(a.prompts))
	}
	if !strings.Contains(a.prompts[1], "previous task graph was invalid") {
		t.Fatalf("corrective prompt missing: %s", a.prompts[1])
	}
}

func TestPlan_TwoFailuresYieldPlanError(t *testing.T) {
	a := &scriptAdapter{replies: []string{`not json at all`, `still not json`}}
	_, err := newPlanner(t, a).Plan(context.Background(), "x")
	var pe *PlanError
	if !errors.As(err, &pe) || pe.Kind != ErrorSchema {
		t.Fatalf("err=%v", err)
	}
	if len(a.prompts) != 2 {
		t.Fatalf("attempts=%d", len(a.prompts))
	}
}

func TestPlan_CycleKind(t *testing.T) {
	cyclic := `{"tasks":[
		{"id":"a","kind":"general","prompt":"p","inputs":["b"]},
		{"id":"b","kind":"general","prompt":"p","inputs":["a"]}]}`
	a := &scriptAdapter{replies: []string{cyclic, cyclic}}
	_, err := newPlanner(t, a).Plan(context.Background(), "x")
	var pe *PlanError
	if !errors.As(err, &pe) || pe.Kind != ErrorCycle {
		t.Fatalf("err=%v", err)
	}
}

func TestPlan_UpstreamFailure(t *testing.T) {
	a := &scriptAdapter{err: &llm.ProviderError{Kind: llm.ErrorPermanent, ProviderID: "fake", StatusCode: 400}}
	_, err := newPlanner(t, a).Plan(context.Background(), "x")
	var pe *PlanError
	if !errors.As(err, &pe) || pe.Kind != ErrorUpstreamLLM {
		t.Fatalf("err=%v", err)
	}
}

func TestAutoRepairJSON(t *testing.T) {
	cases := []struct{ in, want string }{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{`prose before {"a": [1, 2,]} prose after`, `{"a": [1, 2]}`},
		{`{"a": {"b": 1`, `{"a": {"b": 1}}`},
		{`{"a": "unterminated`, `{"a": "unterminated"}`},
		{`{"a":1}`, `{"a":1}`},
	}
	for _, tc := range cases {
		if got := autoRepairJSON(tc.in); got != tc.want {
			t.Errorf("autoRepairJSON(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}
