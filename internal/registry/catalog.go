package registry

import "github.com/danshapiro/ai3/internal/taskgraph"

var allFeatures = []taskgraph.Feature{
	taskgraph.FeatureStreaming,
	taskgraph.FeatureLongContext,
	taskgraph.FeatureVision,
	taskgraph.FeatureFunctionCalling,
}

// DefaultCatalog is the built-in descriptor set covering the three provider
// families. A YAML catalog file replaces it entirely when configured.
func DefaultCatalog() []*Descriptor {
	return []*Descriptor{
		{
			ModelID:    "claude-opus-4-1",
			ProviderID: "anthropic",
			Skills: map[string]float64{
				"coding":                 0.95,
				"creative_writing":       0.92,
				"professional_writing":   0.90,
				"mathematical_reasoning": 0.90,
				"data_analysis":          0.90,
				"creative_insight":       0.92,
				"general":                0.90,
			},
			ContextWindow:   200000,
			CostPer1KInput:  0.015,
			CostPer1KOutput: 0.075,
			Features:        allFeatures,
		},
		{
			ModelID:    "claude-sonnet-4",
			ProviderID: "anthropic",
			Skills: map[string]float64{
				"coding":               0.90,
				"professional_writing": 0.88,
				"summarization":        0.87,
				"document_processing":  0.86,
				"integration":          0.82,
				"general":              0.85,
			},
			ContextWindow:   200000,
			CostPer1KInput:  0.003,
			CostPer1KOutput: 0.015,
			Features:        allFeatures,
		},
		{
			ModelID:    "gpt-5",
			ProviderID: "openai",
			Skills: map[string]float64{
				"coding":                 0.92,
				"mathematical_reasoning": 0.93,
				"data_analysis":          0.90,
				"multimodal":             0.90,
				"automation":             0.85,
				"general":                0.88,
			},
			ContextWindow:   272000,
			CostPer1KInput:  0.00125,
			CostPer1KOutput: 0.010,
			Features:        allFeatures,
		},
		{
			ModelID:    "gpt-5-mini",
			ProviderID: "openai",
			Skills: map[string]float64{
				"summarization":       0.80,
				"automation":          0.80,
				"document_processing": 0.78,
				"realtime_social":     0.75,
				"general":             0.75,
			},
			ContextWindow: 272000,
			// Cheap workhorse for bulk summarization.
			CostPer1KInput:  0.00025,
			CostPer1KOutput: 0.002,
			Features: []taskgraph.Feature{
				taskgraph.FeatureStreaming,
				taskgraph.FeatureLongContext,
				taskgraph.FeatureFunctionCalling,
			},
		},
		{
			ModelID:    "grok-4",
			ProviderID: "xai",
			Skills: map[string]float64{
				"realtime_social":        0.92,
				"creative_insight":       0.85,
				"mathematical_reasoning": 0.88,
				"coding":                 0.85,
				"general":                0.82,
			},
			ContextWindow:   256000,
			CostPer1KInput:  0.003,
			CostPer1KOutput: 0.015,
			Features:        allFeatures,
		},
		{
			ModelID:    "grok-3-mini",
			ProviderID: "xai",
			Skills: map[string]float64{
				"realtime_social": 0.80,
				"summarization":   0.72,
				"general":         0.70,
			},
			ContextWindow:   131072,
			CostPer1KInput:  0.0003,
			CostPer1KOutput: 0.0005,
			Features: []taskgraph.Feature{
				taskgraph.FeatureStreaming,
				taskgraph.FeatureFunctionCalling,
			},
		},
	}
}
