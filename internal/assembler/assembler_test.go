package assembler

import (
	"context"
	"strings"
	"testing"

	"github.com/danshapiro/ai3/internal/llm"
	"github.com/danshapiro/ai3/internal/taskgraph"
	"github.com/danshapiro/ai3/internal/trace"
)

func input(taskID string, kind taskgraph.Kind, content string, score float64) Input {
	b := trace.Binding{TaskID: taskID, ModelID: "m", ProviderID: "p"}
	return Input{
		Task:     &taskgraph.Task{ID: taskID, Kind: kind},
		Artifact: trace.NewArtifact(taskID, b, content, 1, 1, 1),
		Score:    score,
	}
}

func TestAssemble_SingleUsesBestSingle(t *testing.T) {
	a := &Assembler{}
	resp, err := a.Assemble(context.Background(), []Input{
		input("t1", taskgraph.KindGeneral, "only answer", 0.9),
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if resp.Strategy != StrategyBestSingle || resp.Content != "only answer" {
		t.Fatalf("resp=%+v", resp)
	}
	if resp.Confidence != 0.9 {
		t.Fatalf("confidence=%v", resp.Confidence)
	}
	if len(resp.SourceArtifactIDs) != 1 {
		t.Fatalf("sources=%v", resp.SourceArtifactIDs)
	}
}

func TestAssemble_SameKindConcatenatesInOrder(t *testing.T) {
	a := &Assembler{}
	resp, err := a.Assemble(context.Background(), []Input{
		input("t1", taskgraph.KindSummarization, "part one", 1.0),
		input("t2", taskgraph.KindSummarization, "part two", 0.8),
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if resp.Strategy != StrategyConcatenate {
		t.Fatalf("strategy=%s", resp.Strategy)
	}
	if resp.Content != "part one\n\npart two" {
		t.Fatalf("content=%q", resp.Content)
	}
	if resp.Confidence != 0.9 {
		t.Fatalf("confidence=%v", resp.Confidence)
	}
}

type synthAdapter struct{ prompt string }

func (a *synthAdapter) Provider() string        { return "p" }
func (a *synthAdapter) SupportsStreaming() bool { return false }
func (a *synthAdapter) Execute(_ context.Context, req llm.Request) (llm.Response, error) {
	a.prompt = req.Prompt
	return llm.Response{Content: "merged result", Provider: "p"}, nil
}

func TestAssemble_MixedKindsSynthesize(t *testing.T) {
	adapter := &synthAdapter{}
	c := llm.NewClient()
	_ = c.Register(adapter)
	a := &Assembler{Client: c, Provider: "p", Model: "m"}
	resp, err := a.Assemble(context.Background(), []Input{
		input("t1", taskgraph.KindCoding, "some code", 1.0),
		input("t2", taskgraph.KindSummarization, "a summary", 1.0),
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if resp.Strategy != StrategySynthesize || resp.Content != "merged result" {
		t.Fatalf("resp=%+v", resp)
	}
	if !strings.Contains(adapter.prompt, "some code") || !strings.Contains(adapter.prompt, "a summary") {
		t.Fatalf("synthesis prompt missing parts: %s", adapter.prompt)
	}
}

func TestAssemble_SynthesisFailureDegradesToConcat(t *testing.T) {
	a := &Assembler{} // no client
	resp, err := a.Assemble(context.Background(), []Input{
		input("t1", taskgraph.KindCoding, "code", 1.0),
		input("t2", taskgraph.KindSummarization, "summary", 1.0),
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if resp.Strategy != StrategyConcatenate {
		t.Fatalf("strategy=%s", resp.Strategy)
	}
	if len(resp.Warnings) != 1 {
		t.Fatalf("warnings=%v", resp.Warnings)
	}
}

func TestBestSingle(t *testing.T) {
	best := BestSingle([]Input{
		input("t1", taskgraph.KindGeneral, "a", 0.7),
		input("t2", taskgraph.KindGeneral, "b", 0.95),
		input("t3", taskgraph.KindGeneral, "c", 0.8),
	})
	if best.Task.ID != "t2" {
		t.Fatalf("best=%s", best.Task.ID)
	}
}

func TestAssemble_Empty(t *testing.T) {
	a := &Assembler{}
	if _, err := a.Assemble(context.Background(), nil); err == nil {
		t.Fatalf("expected error")
	}
}
