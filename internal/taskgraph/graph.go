package taskgraph

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrCycle reports a dependency cycle. Callers that need to distinguish a
// cycle from other validation failures test with errors.Is.
var ErrCycle = errors.New("task graph contains a cycle")

// DefaultRepairBudget applies when an inbound task omits repair_budget.
const DefaultRepairBudget = 1

// Task is one node of a TaskGraph. Inputs reference upstream task ids whose
// artifacts are concatenated as context, in order.
type Task struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	Prompt       string    `json:"prompt"`
	Inputs       []string  `json:"inputs,omitempty"`
	Criteria     []string  `json:"criteria,omitempty"`
	Features     []Feature `json:"features,omitempty"`
	MinContext   int       `json:"min_context,omitempty"`
	RepairBudget int       `json:"repair_budget"`
	Terminal     bool      `json:"terminal,omitempty"`
}

func (t *Task) RequiresFeature(f Feature) bool {
	for _, have := range t.Features {
		if have == f {
			return true
		}
	}
	return false
}

// Graph is a finite DAG of tasks. It is not safe for concurrent mutation;
// the scheduler serializes Insert calls under its run mutex.
type Graph struct {
	Tasks []*Task `json:"tasks"`

	byID map[string]*Task
}

func New(tasks ...*Task) *Graph {
	g := &Graph{Tasks: tasks}
	g.reindex()
	return g
}

// Decode parses the canonical TaskGraph JSON shape. Unknown fields are
// ignored; repair_budget defaults to DefaultRepairBudget when absent.
func Decode(b []byte) (*Graph, error) {
	var raw struct {
		Tasks []struct {
			ID           string   `json:"id"`
			Kind         string   `json:"kind"`
			Prompt       string   `json:"prompt"`
			Inputs       []string `json:"inputs"`
			Criteria     []string `json:"criteria"`
			Features     []string `json:"features"`
			MinContext   int      `json:"min_context"`
			RepairBudget *int     `json:"repair_budget"`
			Terminal     bool     `json:"terminal"`
		} `json:"tasks"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("task graph json: %w", err)
	}
	g := &Graph{}
	for _, rt := range raw.Tasks {
		kind, err := ParseKind(rt.Kind)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", rt.ID, err)
		}
		t := &Task{
			ID:           strings.TrimSpace(rt.ID),
			Kind:         kind,
			Prompt:       rt.Prompt,
			Inputs:       rt.Inputs,
			Criteria:     rt.Criteria,
			MinContext:   rt.MinContext,
			RepairBudget: DefaultRepairBudget,
			Terminal:     rt.Terminal,
		}
		if rt.RepairBudget != nil {
			if *rt.RepairBudget < 0 {
				return nil, fmt.Errorf("task %q: repair_budget must be >= 0", rt.ID)
			}
			t.RepairBudget = *rt.RepairBudget
		}
		for _, fs := range rt.Features {
			f, err := ParseFeature(fs)
			if err != nil {
				return nil, fmt.Errorf("task %q: %w", rt.ID, err)
			}
			t.Features = append(t.Features, f)
		}
		g.Tasks = append(g.Tasks, t)
	}
	g.reindex()
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) reindex() {
	g.byID = make(map[string]*Task, len(g.Tasks))
	for _, t := range g.Tasks {
		g.byID[t.ID] = t
	}
}

func (g *Graph) Task(id string) *Task {
	if g.byID == nil {
		g.reindex()
	}
	return g.byID[id]
}

// Validate checks id uniqueness, input references, edge acyclicity, and
// that an assembly set exists (an explicit terminal flag or a sink node).
func (g *Graph) Validate() error {
	if len(g.Tasks) == 0 {
		return errors.New("task graph has no tasks")
	}
	seen := map[string]bool{}
	for _, t := range g.Tasks {
		if strings.TrimSpace(t.ID) == "" {
			return errors.New("task with empty id")
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id: %q", t.ID)
		}
		seen[t.ID] = true
		if !t.Kind.Valid() {
			return fmt.Errorf("task %q: invalid kind %q", t.ID, t.Kind)
		}
		if t.RepairBudget < 0 {
			return fmt.Errorf("task %q: negative repair_budget", t.ID)
		}
	}
	for _, t := range g.Tasks {
		for _, in := range t.Inputs {
			if !seen[in] {
				return fmt.Errorf("task %q references unknown input %q", t.ID, in)
			}
			if in == t.ID {
				return fmt.Errorf("task %q: %w", t.ID, ErrCycle)
			}
		}
	}
	if _, err := g.TopoOrder(); err != nil {
		return err
	}
	if len(g.Terminals()) == 0 {
		return errors.New("task graph has no terminal task")
	}
	return nil
}

// TopoOrder returns task ids in dependency order via Kahn's algorithm with
// a sorted frontier for deterministic output.
func (g *Graph) TopoOrder() ([]string, error) {
	inDegree := make(map[string]int, len(g.Tasks))
	consumers := make(map[string][]string, len(g.Tasks))
	for _, t := range g.Tasks {
		inDegree[t.ID] += 0
		for _, in := range t.Inputs {
			inDegree[t.ID]++
			consumers[in] = append(consumers[in], t.ID)
		}
	}
	var frontier []string
	for id, deg := range inDegree {
		if deg == 0 {
			frontier = append(frontier, id)
		}
	}
	order := make([]string, 0, len(g.Tasks))
	for len(frontier) > 0 {
		sort.Strings(frontier)
		id := frontier[0]
		frontier = frontier[1:]
		order = append(order, id)
		for _, c := range consumers[id] {
			inDegree[c]--
			if inDegree[c] == 0 {
				frontier = append(frontier, c)
			}
		}
	}
	if len(order) != len(g.Tasks) {
		return nil, ErrCycle
	}
	return order, nil
}

// Terminals returns the assembly set: the explicitly flagged tasks if any
// are flagged, otherwise every task with no downstream consumer.
func (g *Graph) Terminals() []*Task {
	var flagged []*Task
	for _, t := range g.Tasks {
		if t.Terminal {
			flagged = append(flagged, t)
		}
	}
	if len(flagged) > 0 {
		return flagged
	}
	consumed := map[string]bool{}
	for _, t := range g.Tasks {
		for _, in := range t.Inputs {
			consumed[in] = true
		}
	}
	var sinks []*Task
	for _, t := range g.Tasks {
		if !consumed[t.ID] {
			sinks = append(sinks, t)
		}
	}
	return sinks
}

// Insert adds a task (a repair node) to the graph. The id must be fresh and
// every input must already exist.
func (g *Graph) Insert(t *Task) error {
	if g.byID == nil {
		g.reindex()
	}
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("insert: empty task id")
	}
	if _, exists := g.byID[t.ID]; exists {
		return fmt.Errorf("insert: duplicate task id %q", t.ID)
	}
	for _, in := range t.Inputs {
		if _, ok := g.byID[in]; !ok {
			return fmt.Errorf("insert: task %q references unknown input %q", t.ID, in)
		}
	}
	g.Tasks = append(g.Tasks, t)
	g.byID[t.ID] = t
	return nil
}

// PostOrder returns the terminal assembly set's ids in topological
// post-order (dependencies before dependents restricted to terminals).
func (g *Graph) PostOrder(terminals []*Task) []string {
	order, err := g.TopoOrder()
	if err != nil {
		return nil
	}
	want := map[string]bool{}
	for _, t := range terminals {
		want[t.ID] = true
	}
	var out []string
	for _, id := range order {
		if want[id] {
			out = append(out, id)
		}
	}
	return out
}
