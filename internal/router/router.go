// Package router ranks catalog models for a task by blending static skill
// ratings with the live telemetry window.
package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/danshapiro/ai3/internal/registry"
	"github.com/danshapiro/ai3/internal/taskgraph"
)

// Scoring weights. Skill dominates; the rest nudge.
const (
	weightSkill      = 0.50
	weightPerf       = 0.20
	weightCost       = 0.15
	weightContextFit = 0.10
	weightFeatures   = 0.05
)

type NoCandidateError struct {
	TaskID string
	Kind   taskgraph.Kind
}

func (e *NoCandidateError) Error() string {
	return fmt.Sprintf("no candidate model for task %q (kind %s)", e.TaskID, e.Kind)
}

// Scored is one ranked candidate with its score breakdown.
type Scored struct {
	Descriptor *registry.Descriptor
	Score      float64
	Skill      float64
	Perf       float64
	CostEff    float64
	ContextFit float64
	Feat       float64
	Overridden bool
}

type Router struct {
	registry  *registry.Registry
	overrides map[taskgraph.Kind]string
}

// New builds a router. overrides pins a model id to the top of the list for
// a task kind without removing other candidates.
func New(reg *registry.Registry, overrides map[taskgraph.Kind]string) *Router {
	return &Router{registry: reg, overrides: overrides}
}

// Route returns candidates best-first. The list is consumed in order across
// repair and fallback cycles.
func (r *Router) Route(task *taskgraph.Task) ([]Scored, error) {
	cands := r.registry.Candidates(task)
	if len(cands) == 0 {
		return nil, &NoCandidateError{TaskID: task.ID, Kind: task.Kind}
	}

	var maxCost, maxLatency float64
	for _, c := range cands {
		if cost := c.Descriptor.CostPer1K(); cost > maxCost {
			maxCost = cost
		}
		if c.Stats.MeanLatencyMS > maxLatency {
			maxLatency = c.Stats.MeanLatencyMS
		}
	}

	scored := make([]Scored, 0, len(cands))
	for _, c := range cands {
		s := Scored{
			Descriptor: c.Descriptor,
			Skill:      c.Descriptor.Skill(task.Kind),
		}

		latNorm := 0.0
		if maxLatency > 0 {
			latNorm = clamp01(c.Stats.MeanLatencyMS / maxLatency)
		}
		s.Perf = 0.7*c.Stats.SuccessRate + 0.3*(1-latNorm)

		s.CostEff = 1.0
		if maxCost > 0 {
			s.CostEff = 1 - clamp01(c.Descriptor.CostPer1K()/maxCost)
		}

		minCtx := task.MinContext
		if minCtx < 1 {
			minCtx = 1
		}
		s.ContextFit = float64(c.Descriptor.ContextWindow) / float64(minCtx)
		if s.ContextFit > 1 {
			s.ContextFit = 1
		}

		if len(task.Features) == 0 {
			s.Feat = 0
		} else {
			have := 0
			for _, f := range task.Features {
				if c.Descriptor.Supports(f) {
					have++
				}
			}
			s.Feat = float64(have) / float64(len(task.Features))
		}

		s.Score = weightSkill*s.Skill + weightPerf*s.Perf + weightCost*s.CostEff +
			weightContextFit*s.ContextFit + weightFeatures*s.Feat
		if c.Descriptor.WeightOverride != nil {
			s.Score = *c.Descriptor.WeightOverride
		}
		scored = append(scored, s)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ac, bc := a.Descriptor.CostPer1K(), b.Descriptor.CostPer1K()
		if ac != bc {
			return ac < bc
		}
		return a.Descriptor.ModelID < b.Descriptor.ModelID
	})

	if pinned, ok := r.overrides[task.Kind]; ok {
		for i := range scored {
			if scored[i].Descriptor.ModelID == pinned {
				s := scored[i]
				s.Overridden = true
				scored = append(scored[:i], scored[i+1:]...)
				scored = append([]Scored{s}, scored...)
				break
			}
		}
	}
	return scored, nil
}

// Explain renders the routing decision for the chosen candidate as a
// human-readable reason string.
func (r *Router) Explain(task *taskgraph.Task, chosen Scored, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "chose %s (%s) for %s task %s: score %.3f",
		chosen.Descriptor.ModelID, chosen.Descriptor.ProviderID, task.Kind, task.ID, chosen.Score)
	if chosen.Overridden {
		b.WriteString(" [pinned by override]")
	}
	fmt.Fprintf(&b, " (skill %.2f, perf %.2f, cost %.2f, context %.2f, features %.2f); %d candidate(s) considered",
		chosen.Skill, chosen.Perf, chosen.CostEff, chosen.ContextFit, chosen.Feat, total)
	return b.String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
