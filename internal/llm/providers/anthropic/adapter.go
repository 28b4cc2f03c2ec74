package anthropic

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

type Adapter struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func init() {
	llm.RegisterEnvAdapterFactory(func() (llm.Adapter, bool, error) {
		if strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")) == "" {
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
	key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if key == "" {
		return nil, &llm.ConfigurationError{Message: "ANTHROPIC_API_KEY is required"}
	}
	return New(key, os.Getenv("ANTHROPIC_BASE_URL")), nil
}

func New(apiKey, baseURL string) *Adapter {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = "https://api.anthropic.com"
	}
	return &Adapter{
		APIKey:  strings.TrimSpace(apiKey),
		BaseURL: base,
		// Avoid short client-level timeouts; rely on request context deadlines instead.
		Client: &http.Client{Timeout: 0},
	}
}

func (a *Adapter) Provider() string        { return "anthropic" }
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
		msg := fmt.Sprintf("messages.create failed: %s", strings.TrimSpace(string(rawBytes)))
		return llm.Response{}, llm.ErrorFromHTTPStatus(a.Provider(), resp.StatusCode, msg, ra)
	}

	var raw struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(rawBytes, &raw); err != nil {
		return llm.Response{}, &llm.ProviderError{
			Kind: llm.ErrorTransient, ProviderID: a.Provider(),
			Message: "malformed response body: " + err.Error(),
		}
	}
	var content strings.Builder
	for _, block := range raw.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	return a.finish(req, content.String(), raw.Usage.InputTokens, raw.Usage.OutputTokens, start), nil
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
		msg := fmt.Sprintf("messages.create(stream) failed: %s", strings.TrimSpace(string(rawBytes)))
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
		if payload == "" {
			continue
		}
		var ev struct {
			Type  string `json:"type"`
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
			Message struct {
				Usage struct {
					InputTokens int `json:"input_tokens"`
				} `json:"usage"`
			} `json:"message"`
			Usage struct {
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "message_start":
			inTokens = ev.Message.Usage.InputTokens
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				content.WriteString(ev.Delta.Text)
				req.OnFragment(ev.Delta.Text)
			}
		case "message_delta":
			if ev.Usage.OutputTokens > 0 {
				outTokens = ev.Usage.OutputTokens
			}
		case "error":
			return llm.Response{}, &llm.ProviderError{
				Kind: llm.ErrorTransient, ProviderID: a.Provider(),
				Message: fmt.Sprintf("stream error: %s: %s", ev.Error.Type, ev.Error.Message),
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return llm.Response{}, llm.WrapTransportError(a.Provider(), err)
	}
	return a.finish(req, content.String(), inTokens, outTokens, start), nil
}

func (a *Adapter) do(ctx context.Context, req llm.Request, stream bool) (*http.Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	body := map[string]any{
		"model":      req.Model,
		"max_tokens": maxTokens,
		"messages": []map[string]any{
			{"role": "user", "content": req.Prompt},
		},
	}
	if strings.TrimSpace(req.System) != "" {
		body["system"] = req.System
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if stream {
		body["stream"] = true
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/v1/messages", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

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
