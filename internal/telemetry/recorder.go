// Package telemetry maintains per-model execution statistics over a rolling
// window. The window is logical: samples age out when read, not on a timer.
package telemetry

import (
	"sync"
	"time"
)

const DefaultWindow = 24 * time.Hour

type sample struct {
	at        time.Time
	success   bool
	latencyMS int64
	tokensIn  int
	tokensOut int
	cost      float64
}

// Lifetime counters never decrease, independent of the window.
type Lifetime struct {
	Attempts  uint64
	Successes uint64
	Errors    uint64
}

// Snapshot is the windowed view of one model at read time.
type Snapshot struct {
	Attempts      int
	Successes     int
	Errors        int
	SuccessRate   float64 // Laplace-smoothed: (successes+1)/(attempts+2)
	MeanLatencyMS float64
	TokensIn      int
	TokensOut     int
	Cost          float64
}

func (s Snapshot) Sampled() bool { return s.Attempts > 0 }

type Recorder struct {
	mu       sync.Mutex
	window   time.Duration
	now      func() time.Time
	samples  map[string][]sample
	lifetime map[string]Lifetime
}

func NewRecorder() *Recorder {
	return NewRecorderWithClock(DefaultWindow, time.Now)
}

func NewRecorderWithClock(window time.Duration, now func() time.Time) *Recorder {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Recorder{
		window:   window,
		now:      now,
		samples:  map[string][]sample{},
		lifetime: map[string]Lifetime{},
	}
}

// Record accepts one execution outcome for a model.
func (r *Recorder) Record(modelID string, success bool, latencyMS int64, tokensIn, tokensOut int, cost float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[modelID] = append(r.samples[modelID], sample{
		at:        r.now(),
		success:   success,
		latencyMS: latencyMS,
		tokensIn:  tokensIn,
		tokensOut: tokensOut,
		cost:      cost,
	})
	lt := r.lifetime[modelID]
	lt.Attempts++
	if success {
		lt.Successes++
	} else {
		lt.Errors++
	}
	r.lifetime[modelID] = lt
}

// Snapshot computes the windowed view for a model, discarding aged samples.
func (r *Recorder) Snapshot(modelID string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.prune(modelID)

	snap := Snapshot{}
	var latencySum int64
	for _, s := range kept {
		snap.Attempts++
		if s.success {
			snap.Successes++
		} else {
			snap.Errors++
		}
		latencySum += s.latencyMS
		snap.TokensIn += s.tokensIn
		snap.TokensOut += s.tokensOut
		snap.Cost += s.cost
	}
	snap.SuccessRate = float64(snap.Successes+1) / float64(snap.Attempts+2)
	if snap.Attempts > 0 {
		snap.MeanLatencyMS = float64(latencySum) / float64(snap.Attempts)
	}
	return snap
}

// Lifetime returns the monotonic counters for a model.
func (r *Recorder) Lifetime(modelID string) Lifetime {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lifetime[modelID]
}

// prune drops samples older than the window. Caller holds the mutex.
func (r *Recorder) prune(modelID string) []sample {
	cutoff := r.now().Add(-r.window)
	all := r.samples[modelID]
	kept := all[:0]
	for _, s := range all {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(r.samples, modelID)
		return nil
	}
	r.samples[modelID] = kept
	return kept
}
