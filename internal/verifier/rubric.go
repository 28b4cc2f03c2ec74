package verifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/danshapiro/ai3/internal/llm"
	"github.com/danshapiro/ai3/internal/taskgraph"
)

const rubricSystemPrompt = `You are a strict verifier. You receive a success criterion and a candidate output. Answer with exactly one word: YES if the output satisfies the criterion, NO otherwise.`

// RubricJudge renders each criterion into one yes/no LLM call.
type RubricJudge struct {
	Client   *llm.Client
	Provider string
	Model    string
}

func (j *RubricJudge) Check(ctx context.Context, task *taskgraph.Task, criterion, content string) (bool, error) {
	temp := 0.0
	prompt := fmt.Sprintf("Criterion: %s\n\nTask kind: %s\n\nOutput:\n%s", criterion, task.Kind, content)
	resp, err := j.Client.Execute(ctx, j.Provider, llm.Request{
		Model:       j.Model,
		System:      rubricSystemPrompt,
		Prompt:      prompt,
		MaxTokens:   8,
		Temperature: &temp,
	})
	if err != nil {
		return false, err
	}
	answer := strings.ToUpper(strings.TrimSpace(resp.Content))
	switch {
	case strings.HasPrefix(answer, "YES"):
		return true, nil
	case strings.HasPrefix(answer, "NO"):
		return false, nil
	default:
		return false, fmt.Errorf("unparseable rubric answer %q", resp.Content)
	}
}
