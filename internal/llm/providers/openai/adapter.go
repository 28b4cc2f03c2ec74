package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danshapiro/ai3/internal/llm"
)

// Adapter speaks the chat-completions wire format. ProviderID is a field so
// compatible backends (xai) can reuse the adapter under their own name.
type Adapter struct {
	ProviderID string
	APIKey     string
	BaseURL    string
	Client     *http.Client
}

func init() {
	llm.RegisterEnvAdapterFactory(func() (llm.Adapter, bool, error) {
		if strings.TrimSpace(os.Getenv("OPENAI_API_KEY")) == "" {
			return nil, false, nil
		}
		a, err := NewFromEnv()
		if err != nil {
			return nil, true, err
		}
		return a, true, nil
	})
}

func NewFromEnv() (*Adapter, error) {
	key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if key == "" {
		return nil, &llm.ConfigurationError{Message: "OPENAI_API_KEY is required"}
	}
	return NewWithProvider("openai", key, os.Getenv("OPENAI_BASE_URL")), nil
}

func NewWithProvider(provider, apiKey, baseURL string) *Adapter {
	p := strings.ToLower(strings.TrimSpace(provider))
	if p == "" {
		p = "openai"
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = "https://api.openai.com"
	}
	return &Adapter{
		ProviderID: p,
		APIKey:     strings.TrimSpace(apiKey),
		BaseURL:    base,
		// Avoid short client-level timeouts; rely on request context deadlines instead.
		Client: &http.Client{Timeout: 0},
	}
}

func (a *Adapter) Provider() string        { return a.ProviderID }
func (a *Adapter) SupportsStreaming() bool { return true }

func (a *Adapter) Execute(ctx context.Context, req llm.Request) (llm.Response, error) {
	if a.Client == nil {
		a.Client = &http.Client{Timeout: 0}
	}
	if req.OnFragment != nil {
		return a.stream(ctx, req)
	}

	start := time.Now()
	resp, err := a.do(ctx, req, false)
	if err != nil {
		return llm.Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	rawBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ra := llm.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		msg := fmt.Sprintf("chat.completions failed: %s", strings.TrimSpace(string(rawBytes)))
		return llm.Response{}, llm.ErrorFromHTTPStatus(a.Provider(), resp.StatusCode, msg, ra)
	}

	var raw struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(rawBytes, &raw); err != nil {
		return llm.Response{}, &llm.ProviderError{
			Kind: llm.ErrorTransient, ProviderID: a.Provider(),
			Message: "malformed response body: " + err.Error(),
		}
	}
	var content string
	if len(raw.Choices) > 0 {
		content = raw.Choices[0].Message.Content
	}
	return a.finish(req, content, raw.Usage.PromptTokens, raw.Usage.CompletionTokens, start), nil
}

func (a *Adapter) stream(ctx context.Context, req llm.Request) (llm.Response, error) {
	start := time.Now()
	resp, err := a.do(ctx, req, true)
	if err != nil {
		return llm.Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rawBytes, _ := io.ReadAll(resp.Body)
		ra := llm.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		msg := fmt.Sprintf("chat.completions(stream) failed: %s", strings.TrimSpace(string(rawBytes)))
		return llm.Response{}, llm.ErrorFromHTTPStatus(a.Provider(), resp.StatusCode, msg, ra)
	}

	var content strings.Builder
	var inTokens, outTokens int

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Usage *struct {
				PromptTokens     int `json:"prompt_tokens"`
				CompletionTokens int `json:"completion_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			content.WriteString(chunk.Choices[0].Delta.Content)
			req.OnFragment(chunk.Choices[0].Delta.Content)
		}
		if chunk.Usage != nil {
			inTokens = chunk.Usage.PromptTokens
			outTokens = chunk.Usage.CompletionTokens
		}
	}
	if err := scanner.Err(); err != nil {
		return llm.Response{}, llm.WrapTransportError(a.Provider(), err)
	}
	return a.finish(req, content.String(), inTokens, outTokens, start), nil
}

func (a *Adapter) do(ctx context.Context, req llm.Request, stream bool) (*http.Response, error) {
	var messages []map[string]any
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]any{"role": "user", "content": req.Prompt})

	body := map[string]any{
		"model":    req.Model,
		"messages": messages,
	}
	if req.MaxTokens > 0 {
		body["max_completion_tokens"] = req.MaxTokens
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if stream {
		body["stream"] = true
		body["stream_options"] = map[string]any{"include_usage": true}
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/v1/chat/completions", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.APIKey)

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return nil, llm.WrapTransportError(a.Provider(), err)
	}
	return resp, nil
}

func (a *Adapter) finish(req llm.Request, content string, inTokens, outTokens int, start time.Time) llm.Response {
	if inTokens == 0 {
		inTokens = llm.EstimateTokens(req.System + req.Prompt)
	}
	if outTokens == 0 {
		outTokens = llm.EstimateTokens(content)
	}
	return llm.Response{
		Content:      content,
		Model:        req.Model,
		Provider:     a.Provider(),
		InputTokens:  inTokens,
		OutputTokens: outTokens,
		LatencyMS:    time.Since(start).Milliseconds(),
	}
}
