package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danshapiro/ai3/internal/llm"
)

func TestExecute_NonStream(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("bad auth header")
		}
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"content":"answer"}}],
			"usage":{"prompt_tokens":9,"completion_tokens":3}
		}`))
	}))
	defer srv.Close()

	a := NewWithProvider("openai", "test-key", srv.URL)
	resp, err := a.Execute(context.Background(), llm.Request{
		Model: "gpt-5", System: "sys", Prompt: "q",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Content != "answer" {
		t.Fatalf("content=%q", resp.Content)
	}
	if resp.InputTokens != 9 || resp.OutputTokens != 3 {
		t.Fatalf("tokens=%d/%d", resp.InputTokens, resp.OutputTokens)
	}
	if !strings.Contains(gotBody, `"role":"system"`) {
		t.Fatalf("system message not sent: %s", gotBody)
	}
}

func TestExecute_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		lines := []string{
			`data: {"choices":[{"delta":{"content":"a"}}]}`,
			``,
			`data: {"choices":[{"delta":{"content":"b"}}]}`,
			``,
			`data: {"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2}}`,
			``,
			`data: [DONE]`,
			``,
		}
		_, _ = w.Write([]byte(strings.Join(lines, "\n")))
	}))
	defer srv.Close()

	a := NewWithProvider("openai", "test-key", srv.URL)
	var got strings.Builder
	resp, err := a.Execute(context.Background(), llm.Request{
		Model: "gpt-5", Prompt: "q",
		OnFragment: func(s string) { got.WriteString(s) },
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Content != "ab" || got.String() != "ab" {
		t.Fatalf("content=%q fragments=%q", resp.Content, got.String())
	}
	if resp.InputTokens != 5 || resp.OutputTokens != 2 {
		t.Fatalf("tokens=%d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestExecute_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(503)
	}))
	defer srv.Close()

	a := NewWithProvider("openai", "test-key", srv.URL)
	_, err := a.Execute(context.Background(), llm.Request{Model: "m", Prompt: "p"})
	var pe *llm.ProviderError
	if !errors.As(err, &pe) || pe.Kind != llm.ErrorTransient {
		t.Fatalf("err=%v", err)
	}
}

func TestNewWithProvider_CompatNaming(t *testing.T) {
	a := NewWithProvider("xai", "k", "https://api.x.ai")
	if a.Provider() != "xai" {
		t.Fatalf("provider=%q", a.Provider())
	}
	if a.BaseURL != "https://api.x.ai" {
		t.Fatalf("base=%q", a.BaseURL)
	}
}
