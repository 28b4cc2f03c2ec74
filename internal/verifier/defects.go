package verifier

import (
	"strings"

	"github.com/danshapiro/ai3/internal/taskgraph"
)

// refusalPhrases are scanned case-insensitively near the start of the
// output. A refusal is a fatal defect: no score can rescue it.
var refusalPhrases = []string{
	"i cannot",
	"i can't",
	"i am unable",
	"i'm unable",
	"unable to comply",
	"i won't",
	"i will not",
	"don't have access",
	"not possible for me",
	"as an ai",
}

// minOutputFloor is the kind-specific minimum length (runes) below which the
// output counts as defective.
var minOutputFloor = map[taskgraph.Kind]int{
	taskgraph.KindCoding:              40,
	taskgraph.KindCreativeWriting:     80,
	taskgraph.KindProfessionalWriting: 80,
	taskgraph.KindDocumentProcessing:  40,
	taskgraph.KindSummarization:       40,
	taskgraph.KindDataAnalysis:        40,
	taskgraph.KindMathematicalReasoning: 20,
}

const defaultOutputFloor = 10

// scanDefects returns the defect descriptions found in content and whether
// any of them is fatal. Empty output and refusals are fatal; truncation and
// short output only penalize the score.
func scanDefects(kind taskgraph.Kind, content string) (defects []string, fatal bool) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return []string{"empty output"}, true
	}

	lower := strings.ToLower(trimmed)
	head := lower
	if len(head) > 200 {
		head = head[:200]
	}
	for _, phrase := range refusalPhrases {
		if strings.Contains(head, phrase) {
			defects = append(defects, "refusal: "+phrase)
			fatal = true
			break
		}
	}

	if strings.HasSuffix(trimmed, "...") || strings.HasSuffix(trimmed, "…") {
		defects = append(defects, "truncation marker at end of output")
	}
	if strings.Count(trimmed, "```")%2 == 1 {
		defects = append(defects, "unclosed code fence")
	}

	floor, ok := minOutputFloor[kind]
	if !ok {
		floor = defaultOutputFloor
	}
	if len([]rune(trimmed)) < floor {
		defects = append(defects, "output below minimum length for kind")
	}
	return defects, fatal
}
