package trace

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/danshapiro/ai3/internal/taskgraph"
)

func TestNewArtifact_DigestAndID(t *testing.T) {
	b := Binding{TaskID: "t1", ModelID: "m", ProviderID: "p", AttemptIndex: 0}
	a1 := NewArtifact("t1", b, "same content", 10, 5, 120)
	a2 := NewArtifact("t1", b, "same content", 10, 5, 120)
	if a1.ID == a2.ID {
		t.Fatalf("artifact ids must be unique")
	}
	if a1.Digest != a2.Digest {
		t.Fatalf("identical content must share a digest")
	}
	if a1.Status != StatusProduced {
		t.Fatalf("status=%s", a1.Status)
	}
}

func TestRunTrace_SealBlocksAppends(t *testing.T) {
	tr := NewRunTrace("20260824_120000_abc123", "prompt")
	b := Binding{TaskID: "t1", ModelID: "m", ProviderID: "p"}
	if err := tr.AppendBinding(b); err != nil {
		t.Fatalf("AppendBinding: %v", err)
	}
	tr.Seal()
	tr.Seal() // idempotent
	if err := tr.AppendBinding(b); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed, got %v", err)
	}
	if err := tr.AppendArtifact(NewArtifact("t1", b, "x", 1, 1, 1)); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed, got %v", err)
	}
	if !tr.Sealed() {
		t.Fatalf("trace should be sealed")
	}
}

func TestRunTrace_LatestArtifactForTask(t *testing.T) {
	tr := NewRunTrace("run", "p")
	b := Binding{TaskID: "t1", ModelID: "m", ProviderID: "p"}
	first := NewArtifact("t1", b, "first", 1, 1, 1)
	second := NewArtifact("t1", b, "second", 1, 1, 1)
	_ = tr.AppendArtifact(first)
	_ = tr.AppendArtifact(second)
	_ = tr.AppendArtifact(NewArtifact("t2", b, "other", 1, 1, 1))
	got := tr.LatestArtifactForTask("t1")
	if got == nil || got.ID != second.ID {
		t.Fatalf("latest=%v", got)
	}
	if tr.LatestArtifactForTask("ghost") != nil {
		t.Fatalf("unknown task should yield nil")
	}
}

func TestRunTrace_JSONRoundTrip(t *testing.T) {
	tr := NewRunTrace("20260824_120000_abc123", "write a poem")
	g := taskgraph.New(&taskgraph.Task{ID: "t1", Kind: taskgraph.KindCreativeWriting, Terminal: true})
	_ = tr.SetGraph(g)
	b := Binding{TaskID: "t1", ModelID: "claude-sonnet-4", ProviderID: "anthropic"}
	_ = tr.AppendBinding(b)
	a := NewArtifact("t1", b, "roses are red", 5, 4, 300)
	_ = tr.AppendArtifact(a)
	_ = tr.AppendVerdict(Verdict{ArtifactID: a.ID, Score: 1, Passed: true})
	_ = tr.SetResponse(&Response{Content: "roses are red", Confidence: 1, Strategy: "best_single", SourceArtifactIDs: []string{a.ID}})
	_ = tr.AddStats(Stats{TokensIn: 5, TokensOut: 4, TasksExecuted: 1})
	tr.Seal()

	raw, err := json.Marshal(tr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back RunTrace
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.RunID() != tr.RunID() || back.Prompt() != tr.Prompt() {
		t.Fatalf("identity lost: %s %s", back.RunID(), back.Prompt())
	}
	if !back.Sealed() {
		t.Fatalf("rehydrated trace must be sealed")
	}
	if back.Graph() == nil || back.Graph().Task("t1") == nil {
		t.Fatalf("graph lost")
	}
	got := back.Artifact(a.ID)
	if got == nil || got.Digest != a.Digest {
		t.Fatalf("artifact lost: %v", got)
	}
	if v, ok := back.VerdictForArtifact(a.ID); !ok || !v.Passed {
		t.Fatalf("verdict lost")
	}
	if back.Stats().TasksExecuted != 1 {
		t.Fatalf("stats lost: %+v", back.Stats())
	}
}
