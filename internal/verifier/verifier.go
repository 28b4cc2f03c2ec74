// Package verifier judges artifacts against task success criteria and
// synthesizes repair directives for failures that still have budget.
package verifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/danshapiro/ai3/internal/taskgraph"
	"github.com/danshapiro/ai3/internal/trace"
)

const (
	// PassThreshold is the minimum score for a passing verdict.
	PassThreshold = 0.7
	// DefectPenalty is subtracted from the score per detected defect.
	DefectPenalty = 0.25
)

// Judge answers one yes/no criterion check against artifact content.
// Implementations may be deterministic or call an LLM rubric.
type Judge interface {
	Check(ctx context.Context, task *taskgraph.Task, criterion, content string) (bool, error)
}

type InternalRubricError struct {
	Criterion string
	Err       error
}

func (e *InternalRubricError) Error() string {
	return fmt.Sprintf("rubric check %q: %v", e.Criterion, e.Err)
}
func (e *InternalRubricError) Unwrap() error { return e.Err }

type Verifier struct {
	judge Judge
}

// New builds a verifier. A nil judge falls back to the deterministic
// heuristic.
func New(judge Judge) *Verifier {
	if judge == nil {
		judge = HeuristicJudge{}
	}
	return &Verifier{judge: judge}
}

// Verify scores an artifact: fraction of criteria passed minus a penalty per
// defect, clamped to [0,1]. A judge failure is folded into the verdict as a
// VerifierError reason rather than propagated, so it consumes a repair
// attempt like any other failure.
func (v *Verifier) Verify(ctx context.Context, task *taskgraph.Task, a *trace.Artifact, allowRepair bool) trace.Verdict {
	verdict := trace.Verdict{ArtifactID: a.ID}

	passedCriteria := 0
	total := len(task.Criteria)
	for _, criterion := range task.Criteria {
		ok, err := v.judge.Check(ctx, task, criterion, a.Content)
		if err != nil {
			verdict.FailureReasons = append(verdict.FailureReasons,
				fmt.Sprintf("VerifierError: %v", &InternalRubricError{Criterion: criterion, Err: err}))
			continue
		}
		if ok {
			passedCriteria++
		} else {
			verdict.FailureReasons = append(verdict.FailureReasons,
				fmt.Sprintf("criterion not met: %s", criterion))
		}
	}

	defects, fatal := scanDefects(task.Kind, a.Content)
	for _, d := range defects {
		verdict.FailureReasons = append(verdict.FailureReasons, "defect: "+d)
	}

	score := 1.0
	if total > 0 {
		score = float64(passedCriteria) / float64(total)
	}
	score -= DefectPenalty * float64(len(defects))
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	verdict.Score = score
	verdict.Passed = score >= PassThreshold && !fatal

	if !verdict.Passed && allowRepair && task.RepairBudget > 0 {
		verdict.Repair = repairDirective(task, a, verdict.FailureReasons)
	}
	return verdict
}

// PassingVerdict is the synthetic verdict used when verification is
// disabled.
func PassingVerdict(artifactID string) trace.Verdict {
	return trace.Verdict{ArtifactID: artifactID, Score: 1, Passed: true}
}

func repairDirective(task *taskgraph.Task, a *trace.Artifact, reasons []string) *trace.RepairDirective {
	suffix := a.ID
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	prompt := fmt.Sprintf(
		"Given the prior attempt:\n\n%s\n\nAddress the following issues:\n%s\n\nProduce a corrected version.",
		a.Content, "- "+strings.Join(reasons, "\n- "))
	return &trace.RepairDirective{
		NodeID:   fmt.Sprintf("%s.repair.%s", task.ID, strings.ToLower(suffix)),
		Kind:     task.Kind,
		Prompt:   prompt,
		Inputs:   []string{task.ID},
		Criteria: task.Criteria,
	}
}
