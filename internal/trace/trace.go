// Package trace holds the run's durable record: bindings, artifacts,
// verdicts, and the final response. A RunTrace is owned by the engine for the
// run's duration; components append to their own sub-collections through the
// single-writer helpers and the trace is sealed read-only on exit.
package trace

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/zeebo/blake3"

	"github.com/danshapiro/ai3/internal/taskgraph"
)

var ErrSealed = errors.New("run trace is sealed")

// Binding pins one execution attempt of a task to a model. Immutable; a new
// attempt creates a new binding with the next attempt index.
type Binding struct {
	TaskID       string `json:"task_id"`
	ModelID      string `json:"model_id"`
	ProviderID   string `json:"provider_id"`
	AttemptIndex int    `json:"attempt_index"`
}

func (b Binding) String() string {
	return fmt.Sprintf("%s@%s/%s#%d", b.TaskID, b.ProviderID, b.ModelID, b.AttemptIndex)
}

type ArtifactStatus string

const (
	StatusProduced ArtifactStatus = "produced"
	StatusVerified ArtifactStatus = "verified"
	StatusRejected ArtifactStatus = "rejected"
	StatusRepaired ArtifactStatus = "repaired"
)

type Artifact struct {
	ID           string         `json:"artifact_id"`
	TaskID       string         `json:"task_id"`
	Binding      Binding        `json:"binding"`
	Content      string         `json:"content"`
	Digest       string         `json:"digest"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	LatencyMS    int64          `json:"latency_ms"`
	ProducedAt   time.Time      `json:"produced_at"`
	Status       ArtifactStatus `json:"status"`
}

// NewArtifact mints a produced artifact with a time-sortable id and a
// blake3 content digest.
func NewArtifact(taskID string, b Binding, content string, inTokens, outTokens int, latencyMS int64) *Artifact {
	sum := blake3.Sum256([]byte(content))
	return &Artifact{
		ID:           ulid.Make().String(),
		TaskID:       taskID,
		Binding:      b,
		Content:      content,
		Digest:       hex.EncodeToString(sum[:]),
		InputTokens:  inTokens,
		OutputTokens: outTokens,
		LatencyMS:    latencyMS,
		ProducedAt:   time.Now().UTC(),
		Status:       StatusProduced,
	}
}

// RepairDirective is a one-node subgraph fragment the verifier proposes when
// a failed artifact still has repair budget.
type RepairDirective struct {
	NodeID   string         `json:"node_id"`
	Kind     taskgraph.Kind `json:"kind"`
	Prompt   string         `json:"prompt"`
	Inputs   []string       `json:"inputs"`
	Criteria []string       `json:"criteria"`
}

type Verdict struct {
	ArtifactID     string           `json:"artifact_id"`
	Score          float64          `json:"score"`
	Passed         bool             `json:"passed"`
	FailureReasons []string         `json:"failure_reasons,omitempty"`
	Repair         *RepairDirective `json:"repair_directive,omitempty"`
}

type Stats struct {
	WallTimeMS    int64   `json:"wall_time_ms"`
	TokensIn      int     `json:"tokens_in"`
	TokensOut     int     `json:"tokens_out"`
	Cost          float64 `json:"cost"`
	TasksExecuted int     `json:"tasks_executed"`
	TasksRepaired int     `json:"tasks_repaired"`
	TasksFailed   int     `json:"tasks_failed"`
}

// Response is the assembled run output.
type Response struct {
	Content           string   `json:"content"`
	Confidence        float64  `json:"confidence"`
	Strategy          string   `json:"strategy"`
	SourceArtifactIDs []string `json:"source_artifact_ids"`
	Warnings          []string `json:"warnings,omitempty"`
}

// RunTrace accumulates everything a run produced. Mutations go through the
// append helpers, which fail once the trace is sealed.
type RunTrace struct {
	mu     sync.Mutex
	sealed bool

	runID     string
	prompt    string
	startedAt time.Time
	sealedAt  time.Time

	graph     *taskgraph.Graph
	bindings  []Binding
	artifacts []*Artifact
	verdicts  []Verdict
	response  *Response
	stats     Stats
}

func NewRunTrace(runID, prompt string) *RunTrace {
	return &RunTrace{
		runID:     runID,
		prompt:    prompt,
		startedAt: time.Now().UTC(),
	}
}

func (t *RunTrace) RunID() string  { return t.runID }
func (t *RunTrace) Prompt() string { return t.prompt }

func (t *RunTrace) SetGraph(g *taskgraph.Graph) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return ErrSealed
	}
	t.graph = g
	return nil
}

func (t *RunTrace) Graph() *taskgraph.Graph {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.graph
}

func (t *RunTrace) AppendBinding(b Binding) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return ErrSealed
	}
	t.bindings = append(t.bindings, b)
	return nil
}

func (t *RunTrace) AppendArtifact(a *Artifact) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return ErrSealed
	}
	t.artifacts = append(t.artifacts, a)
	return nil
}

func (t *RunTrace) AppendVerdict(v Verdict) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return ErrSealed
	}
	t.verdicts = append(t.verdicts, v)
	return nil
}

func (t *RunTrace) SetResponse(r *Response) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return ErrSealed
	}
	t.response = r
	return nil
}

func (t *RunTrace) Response() *Response {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.response
}

// AddStats merges a delta into the aggregate counters.
func (t *RunTrace) AddStats(delta Stats) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return ErrSealed
	}
	t.stats.TokensIn += delta.TokensIn
	t.stats.TokensOut += delta.TokensOut
	t.stats.Cost += delta.Cost
	t.stats.TasksExecuted += delta.TasksExecuted
	t.stats.TasksRepaired += delta.TasksRepaired
	t.stats.TasksFailed += delta.TasksFailed
	return nil
}

func (t *RunTrace) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Seal freezes the trace and stamps wall time. Idempotent.
func (t *RunTrace) Seal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return
	}
	t.sealed = true
	t.sealedAt = time.Now().UTC()
	t.stats.WallTimeMS = t.sealedAt.Sub(t.startedAt).Milliseconds()
}

func (t *RunTrace) Sealed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sealed
}

// Artifact returns the recorded artifact with the given id, or nil.
func (t *RunTrace) Artifact(id string) *Artifact {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range t.artifacts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// LatestArtifactForTask returns the most recently appended artifact for a
// task id, or nil.
func (t *RunTrace) LatestArtifactForTask(taskID string) *Artifact {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.artifacts) - 1; i >= 0; i-- {
		if t.artifacts[i].TaskID == taskID {
			return t.artifacts[i]
		}
	}
	return nil
}

// VerdictForArtifact returns the verdict recorded against an artifact id.
func (t *RunTrace) VerdictForArtifact(artifactID string) (Verdict, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, v := range t.verdicts {
		if v.ArtifactID == artifactID {
			return v, true
		}
	}
	return Verdict{}, false
}

func (t *RunTrace) Artifacts() []*Artifact {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Artifact, len(t.artifacts))
	copy(out, t.artifacts)
	return out
}

func (t *RunTrace) Bindings() []Binding {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Binding, len(t.bindings))
	copy(out, t.bindings)
	return out
}

func (t *RunTrace) Verdicts() []Verdict {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Verdict, len(t.verdicts))
	copy(out, t.verdicts)
	return out
}

type traceJSON struct {
	RunID     string           `json:"run_id"`
	Prompt    string           `json:"prompt"`
	StartedAt time.Time        `json:"started_at"`
	SealedAt  *time.Time       `json:"sealed_at,omitempty"`
	Graph     *taskgraph.Graph `json:"graph,omitempty"`
	Bindings  []Binding        `json:"bindings"`
	Artifacts []*Artifact      `json:"artifacts"`
	Verdicts  []Verdict        `json:"verdicts"`
	Response  *Response        `json:"response,omitempty"`
	Stats     Stats            `json:"stats"`
}

func (t *RunTrace) MarshalJSON() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := traceJSON{
		RunID:     t.runID,
		Prompt:    t.prompt,
		StartedAt: t.startedAt,
		Graph:     t.graph,
		Bindings:  t.bindings,
		Artifacts: t.artifacts,
		Verdicts:  t.verdicts,
		Response:  t.response,
		Stats:     t.stats,
	}
	if t.sealed {
		sealedAt := t.sealedAt
		out.SealedAt = &sealedAt
	}
	if out.Bindings == nil {
		out.Bindings = []Binding{}
	}
	if out.Artifacts == nil {
		out.Artifacts = []*Artifact{}
	}
	if out.Verdicts == nil {
		out.Verdicts = []Verdict{}
	}
	return json.Marshal(out)
}

// UnmarshalJSON rehydrates a persisted trace. Rehydrated traces are always
// sealed.
func (t *RunTrace) UnmarshalJSON(b []byte) error {
	var in traceJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runID = in.RunID
	t.prompt = in.Prompt
	t.startedAt = in.StartedAt
	t.graph = in.Graph
	t.bindings = in.Bindings
	t.artifacts = in.Artifacts
	t.verdicts = in.Verdicts
	t.response = in.Response
	t.stats = in.Stats
	t.sealed = true
	if in.SealedAt != nil {
		t.sealedAt = *in.SealedAt
	}
	return nil
}
