// Package registry holds the static model capability table and merges it
// with live telemetry on every query.
package registry

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/danshapiro/ai3/internal/taskgraph"
	"github.com/danshapiro/ai3/internal/telemetry"
)

// Descriptor is one model's static capability record.
type Descriptor struct {
	ModelID         string              `yaml:"model_id" json:"model_id"`
	ProviderID      string              `yaml:"provider_id" json:"provider_id"`
	Skills          map[string]float64  `yaml:"skills" json:"skills"`
	ContextWindow   int                 `yaml:"context_window" json:"context_window"`
	CostPer1KInput  float64             `yaml:"cost_per_1k_input" json:"cost_per_1k_input"`
	CostPer1KOutput float64             `yaml:"cost_per_1k_output" json:"cost_per_1k_output"`
	Features        []taskgraph.Feature `yaml:"features" json:"features"`
	WeightOverride  *float64            `yaml:"weight_override,omitempty" json:"weight_override,omitempty"`
}

// Skill returns the descriptor's rating for a task kind, 0.5 when unknown.
func (d *Descriptor) Skill(kind taskgraph.Kind) float64 {
	if v, ok := d.Skills[string(kind)]; ok {
		return v
	}
	return 0.5
}

func (d *Descriptor) Supports(f taskgraph.Feature) bool {
	for _, have := range d.Features {
		if have == f {
			return true
		}
	}
	return false
}

// CostPer1K is the combined per-1k-token price used for cost scoring.
func (d *Descriptor) CostPer1K() float64 {
	return d.CostPer1KInput + d.CostPer1KOutput
}

// EstimateCost prices one execution from actual token counts.
func (d *Descriptor) EstimateCost(tokensIn, tokensOut int) float64 {
	return float64(tokensIn)/1000*d.CostPer1KInput + float64(tokensOut)/1000*d.CostPer1KOutput
}

func (d *Descriptor) validate() error {
	if strings.TrimSpace(d.ModelID) == "" {
		return fmt.Errorf("descriptor with empty model_id")
	}
	if strings.TrimSpace(d.ProviderID) == "" {
		return fmt.Errorf("descriptor %q: empty provider_id", d.ModelID)
	}
	if d.ContextWindow <= 0 {
		return fmt.Errorf("descriptor %q: context_window must be positive", d.ModelID)
	}
	for kind, v := range d.Skills {
		if _, err := taskgraph.ParseKind(kind); err != nil {
			return fmt.Errorf("descriptor %q: %w", d.ModelID, err)
		}
		if v < 0 || v > 1 {
			return fmt.Errorf("descriptor %q: skill %q out of [0,1]", d.ModelID, kind)
		}
	}
	return nil
}

// Stats is the live performance view attached to a candidate at query time.
type Stats struct {
	SuccessRate   float64
	MeanLatencyMS float64
	Sampled       bool
}

type Candidate struct {
	Descriptor *Descriptor
	Stats      Stats
}

type Registry struct {
	descriptors []*Descriptor
	byID        map[string]*Descriptor
	recorder    *telemetry.Recorder
}

func New(descriptors []*Descriptor, recorder *telemetry.Recorder) (*Registry, error) {
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("registry needs at least one model descriptor")
	}
	if recorder == nil {
		recorder = telemetry.NewRecorder()
	}
	byID := make(map[string]*Descriptor, len(descriptors))
	for _, d := range descriptors {
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, dup := byID[d.ModelID]; dup {
			return nil, fmt.Errorf("duplicate model_id %q", d.ModelID)
		}
		byID[d.ModelID] = d
	}
	return &Registry{descriptors: descriptors, byID: byID, recorder: recorder}, nil
}

// LoadFile reads descriptors from a YAML catalog:
//
//	models:
//	  - model_id: ...
//	    provider_id: ...
func LoadFile(path string) ([]*Descriptor, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Models []*Descriptor `yaml:"models"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("model catalog %s: %w", path, err)
	}
	if len(doc.Models) == 0 {
		return nil, fmt.Errorf("model catalog %s: no models", path)
	}
	return doc.Models, nil
}

func (r *Registry) Descriptor(modelID string) (*Descriptor, bool) {
	d, ok := r.byID[modelID]
	return d, ok
}

func (r *Registry) Descriptors() []*Descriptor {
	out := make([]*Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// ProvidersForModels restricts the registry to models whose provider has a
// configured adapter.
func (r *Registry) Restrict(providers []string) (*Registry, error) {
	allowed := map[string]bool{}
	for _, p := range providers {
		allowed[strings.ToLower(p)] = true
	}
	var kept []*Descriptor
	for _, d := range r.descriptors {
		if allowed[strings.ToLower(d.ProviderID)] {
			kept = append(kept, d)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("no catalog model matches a configured provider")
	}
	return New(kept, r.recorder)
}

// Candidates returns every descriptor that can serve the task, each merged
// with its windowed telemetry. Scores are never cached; unsampled models get
// a neutral prior (success 1.0, latency at the sampled median) so bring-up
// does not starve them.
func (r *Registry) Candidates(task *taskgraph.Task) []Candidate {
	medianLatency := r.sampledMedianLatency()
	var out []Candidate
	for _, d := range r.descriptors {
		if task.MinContext > 0 && d.ContextWindow < task.MinContext {
			continue
		}
		covered := true
		for _, f := range task.Features {
			if !d.Supports(f) {
				covered = false
				break
			}
		}
		if !covered {
			continue
		}
		snap := r.recorder.Snapshot(d.ModelID)
		st := Stats{Sampled: snap.Sampled()}
		if st.Sampled {
			st.SuccessRate = snap.SuccessRate
			st.MeanLatencyMS = snap.MeanLatencyMS
		} else {
			st.SuccessRate = 1.0
			st.MeanLatencyMS = medianLatency
		}
		out = append(out, Candidate{Descriptor: d, Stats: st})
	}
	return out
}

// Update forwards one execution outcome to telemetry.
func (r *Registry) Update(modelID string, success bool, latencyMS int64, tokensIn, tokensOut int, cost float64) {
	r.recorder.Record(modelID, success, latencyMS, tokensIn, tokensOut, cost)
}

func (r *Registry) Recorder() *telemetry.Recorder { return r.recorder }

// sampledMedianLatency is the median mean-latency across models that have
// window samples, or a fixed default when nothing has been sampled yet.
func (r *Registry) sampledMedianLatency() float64 {
	var latencies []float64
	for _, d := range r.descriptors {
		snap := r.recorder.Snapshot(d.ModelID)
		if snap.Sampled() {
			latencies = append(latencies, snap.MeanLatencyMS)
		}
	}
	if len(latencies) == 0 {
		return 2000
	}
	sort.Float64s(latencies)
	mid := len(latencies) / 2
	if len(latencies)%2 == 1 {
		return latencies[mid]
	}
	return (latencies[mid-1] + latencies[mid]) / 2
}
