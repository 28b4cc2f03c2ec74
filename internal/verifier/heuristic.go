package verifier

import (
	"context"
	"regexp"
	"strings"

	"github.com/danshapiro/ai3/internal/taskgraph"
)

var (
	quotedTokenRe = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	allCapsRe     = regexp.MustCompile(`\b[A-Z][A-Z0-9_]{2,}\b`)
)

// HeuristicJudge is the deterministic criterion check: it extracts the
// concrete tokens a criterion names (quoted strings and ALL-CAPS
// identifiers) and requires each to appear in the output. A criterion with
// no extractable tokens passes on any non-empty output.
type HeuristicJudge struct{}

func (HeuristicJudge) Check(_ context.Context, _ *taskgraph.Task, criterion, content string) (bool, error) {
	tokens := extractTokens(criterion)
	if len(tokens) == 0 {
		return strings.TrimSpace(content) != "", nil
	}
	lower := strings.ToLower(content)
	for _, tok := range tokens {
		if !strings.Contains(lower, strings.ToLower(tok)) {
			return false, nil
		}
	}
	return true, nil
}

func extractTokens(criterion string) []string {
	var tokens []string
	for _, m := range quotedTokenRe.FindAllStringSubmatch(criterion, -1) {
		if m[1] != "" {
			tokens = append(tokens, m[1])
		} else if m[2] != "" {
			tokens = append(tokens, m[2])
		}
	}
	tokens = append(tokens, allCapsRe.FindAllString(criterion, -1)...)
	return tokens
}
