// Package xai wires the xAI API, which is chat-completions compatible, onto
// the openai adapter under its own provider name.
package xai

import (
	"os"
	"strings"

	"github.com/danshapiro/ai3/internal/llm"
	"github.com/danshapiro/ai3/internal/llm/providers/openai"
)

func init() {
	llm.RegisterEnvAdapterFactory(func() (llm.Adapter, bool, error) {
		if strings.TrimSpace(os.Getenv("XAI_API_KEY")) == "" {
			return nil, false, nil
		}
		a, err := NewFromEnv()
		if err != nil {
			return nil, true, err
		}
		return a, true, nil
	})
}

func NewFromEnv() (*openai.Adapter, error) {
	key := strings.TrimSpace(os.Getenv("XAI_API_KEY"))
	if key == "" {
		return nil, &llm.ConfigurationError{Message: "XAI_API_KEY is required"}
	}
	base := strings.TrimSpace(os.Getenv("XAI_BASE_URL"))
	if base == "" {
		base = "https://api.x.ai"
	}
	return openai.NewWithProvider("xai", key, base), nil
}
