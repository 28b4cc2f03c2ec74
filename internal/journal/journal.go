// Package journal persists run traces and artifact files. Traces are
// append-only per run and written atomically; artifacts are indexed on disk
// by date, task kind, and model for offline inspection.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/danshapiro/ai3/internal/taskgraph"
	"github.com/danshapiro/ai3/internal/trace"
)

const (
	tracesDir    = "journal"
	artifactsDir = "artifacts"
)

type Journal struct {
	root string
}

// New opens (creating if needed) a journal rooted at dir.
func New(root string) (*Journal, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("journal root is required")
	}
	for _, sub := range []string{tracesDir, artifactsDir} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("journal init: %w", err)
		}
	}
	return &Journal{root: root}, nil
}

func (j *Journal) Root() string { return j.root }

func (j *Journal) tracePath(runID string) string {
	return filepath.Join(j.root, tracesDir, runID+".json")
}

// SaveTrace writes the trace snapshot atomically (temp file then rename).
func (j *Journal) SaveTrace(t *trace.RunTrace) error {
	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trace %s: %w", t.RunID(), err)
	}
	return writeFileAtomic(j.tracePath(t.RunID()), b)
}

// GetTrace rehydrates a persisted RunTrace. It never re-executes anything;
// the returned trace is sealed.
func (j *Journal) GetTrace(runID string) (*trace.RunTrace, error) {
	b, err := os.ReadFile(j.tracePath(runID))
	if err != nil {
		return nil, fmt.Errorf("trace %s: %w", runID, err)
	}
	var t trace.RunTrace
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("trace %s: %w", runID, err)
	}
	return &t, nil
}

// ListRuns returns persisted run ids, sorted by the glob's lexical order,
// which for the run id format is chronological.
func (j *Journal) ListRuns() ([]string, error) {
	matches, err := doublestar.FilepathGlob(filepath.Join(j.root, tracesDir, "*.json"))
	if err != nil {
		return nil, err
	}
	runs := make([]string, 0, len(matches))
	for _, m := range matches {
		runs = append(runs, strings.TrimSuffix(filepath.Base(m), ".json"))
	}
	return runs, nil
}

// SaveArtifact writes the artifact content file and returns its path.
func (j *Journal) SaveArtifact(kind taskgraph.Kind, a *trace.Artifact) (string, error) {
	date := a.ProducedAt.UTC().Format("2006-01-02")
	dir := filepath.Join(j.root, artifactsDir, date, string(kind), a.Binding.ModelID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("artifact dir: %w", err)
	}
	path := filepath.Join(dir, a.ID+".txt")
	if err := writeFileAtomic(path, []byte(a.Content)); err != nil {
		return "", err
	}
	return path, nil
}

// ListArtifacts queries the on-disk artifact index. Empty selectors match
// everything; a selector may itself be a glob fragment.
func (j *Journal) ListArtifacts(date, kind, model string) ([]string, error) {
	pattern := filepath.Join(j.root, artifactsDir,
		orAny(date), orAny(kind), orAny(model), "*.txt")
	return doublestar.FilepathGlob(pattern)
}

// Stats summarizes the journal's contents.
type Stats struct {
	Runs      int `json:"runs"`
	Artifacts int `json:"artifacts"`
}

func (j *Journal) Stats() (Stats, error) {
	runs, err := j.ListRuns()
	if err != nil {
		return Stats{}, err
	}
	arts, err := doublestar.FilepathGlob(filepath.Join(j.root, artifactsDir, "**", "*.txt"))
	if err != nil {
		return Stats{}, err
	}
	return Stats{Runs: len(runs), Artifacts: len(arts)}, nil
}

func orAny(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "*"
	}
	return s
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
