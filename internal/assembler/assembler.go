// Package assembler merges terminal artifacts into the final response.
package assembler

import (
	"context"
	"fmt"
	"strings"

	"github.com/danshapiro/ai3/internal/llm"
	"github.com/danshapiro/ai3/internal/taskgraph"
	"github.com/danshapiro/ai3/internal/trace"
)

const (
	StrategyConcatenate = "concatenate"
	StrategyBestSingle  = "best_single"
	StrategySynthesize  = "synthesize"
)

// Input is one terminal task's verified artifact with its verdict score.
// Callers supply inputs in topological post-order.
type Input struct {
	Task     *taskgraph.Task
	Artifact *trace.Artifact
	Score    float64
}

type Assembler struct {
	Client   *llm.Client
	Provider string
	Model    string
}

// Assemble picks the strategy from the input shape: one artifact is taken
// as-is, multiple of the same kind concatenate, mixed kinds synthesize via
// one LLM call.
func (a *Assembler) Assemble(ctx context.Context, inputs []Input) (*trace.Response, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("nothing to assemble")
	}

	resp := &trace.Response{Confidence: meanScore(inputs)}
	for _, in := range inputs {
		resp.SourceArtifactIDs = append(resp.SourceArtifactIDs, in.Artifact.ID)
	}

	switch {
	case len(inputs) == 1:
		resp.Strategy = StrategyBestSingle
		resp.Content = BestSingle(inputs).Artifact.Content
	case sameKind(inputs):
		resp.Strategy = StrategyConcatenate
		resp.Content = concatenate(inputs)
	default:
		resp.Strategy = StrategySynthesize
		content, err := a.synthesize(ctx, inputs)
		if err != nil {
			// Degrade to concatenation rather than losing the run.
			resp.Strategy = StrategyConcatenate
			resp.Content = concatenate(inputs)
			resp.Warnings = append(resp.Warnings, "synthesis call failed: "+err.Error())
			return resp, nil
		}
		resp.Content = content
	}
	return resp, nil
}

// BestSingle picks the highest-scoring input; ties keep post-order.
func BestSingle(inputs []Input) Input {
	best := inputs[0]
	for _, in := range inputs[1:] {
		if in.Score > best.Score {
			best = in
		}
	}
	return best
}

func meanScore(inputs []Input) float64 {
	var sum float64
	for _, in := range inputs {
		sum += in.Score
	}
	return sum / float64(len(inputs))
}

func sameKind(inputs []Input) bool {
	kind := inputs[0].Task.Kind
	for _, in := range inputs[1:] {
		if in.Task.Kind != kind {
			return false
		}
	}
	return true
}

func concatenate(inputs []Input) string {
	parts := make([]string, 0, len(inputs))
	for _, in := range inputs {
		parts = append(parts, strings.TrimSpace(in.Artifact.Content))
	}
	return strings.Join(parts, "\n\n")
}

const synthesizeSystemPrompt = `You merge several partial results into one coherent answer. Preserve all substantive content, remove duplication, and order the material logically. Respond with the merged answer only.`

func (a *Assembler) synthesize(ctx context.Context, inputs []Input) (string, error) {
	if a.Client == nil {
		return "", fmt.Errorf("no synthesis model configured")
	}
	var b strings.Builder
	for i, in := range inputs {
		fmt.Fprintf(&b, "## Part %d (%s)\n%s\n\n", i+1, in.Task.Kind, in.Artifact.Content)
	}
	temp := 0.0
	resp, err := a.Client.Execute(ctx, a.Provider, llm.Request{
		Model:       a.Model,
		System:      synthesizeSystemPrompt,
		Prompt:      b.String(),
		Temperature: &temp,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
