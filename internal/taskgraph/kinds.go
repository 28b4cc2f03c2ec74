package taskgraph

import (
	"fmt"
	"strings"
)

// Kind is a stable task category identifier used in graphs, routing
// overrides, and telemetry indices.
type Kind string

const (
	KindCoding               Kind = "coding"
	KindCreativeWriting      Kind = "creative_writing"
	KindProfessionalWriting  Kind = "professional_writing"
	KindDocumentProcessing   Kind = "document_processing"
	KindAutomation           Kind = "automation"
	KindSummarization        Kind = "summarization"
	KindDataAnalysis         Kind = "data_analysis"
	KindMultimodal           Kind = "multimodal"
	KindIntegration          Kind = "integration"
	KindMathematicalReasoning Kind = "mathematical_reasoning"
	KindRealtimeSocial       Kind = "realtime_social"
	KindCreativeInsight      Kind = "creative_insight"
	KindGeneral              Kind = "general"
)

// Kinds lists every valid task kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindCoding, KindCreativeWriting, KindProfessionalWriting,
		KindDocumentProcessing, KindAutomation, KindSummarization,
		KindDataAnalysis, KindMultimodal, KindIntegration,
		KindMathematicalReasoning, KindRealtimeSocial, KindCreativeInsight,
		KindGeneral,
	}
}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown task kind: %q", s)
}

func (k Kind) Valid() bool {
	_, err := ParseKind(string(k))
	return err == nil
}

// Feature is a model capability a task may require.
type Feature string

const (
	FeatureStreaming       Feature = "streaming"
	FeatureLongContext     Feature = "long_context"
	FeatureVision          Feature = "vision"
	FeatureFunctionCalling Feature = "function_calling"
)

func ParseFeature(s string) (Feature, error) {
	f := Feature(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FeatureStreaming, FeatureLongContext, FeatureVision, FeatureFunctionCalling:
		return f, nil
	default:
		return "", fmt.Errorf("unknown feature: %q", s)
	}
}
