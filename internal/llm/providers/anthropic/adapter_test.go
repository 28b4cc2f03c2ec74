package anthropic

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
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"content":[{"type":"text","text":"hello "},{"type":"text","text":"world"}],
			"usage":{"input_tokens":12,"output_tokens":4}
		}`))
	}))
	defer srv.Close()

	a := New("test-key", srv.URL)
	resp, err := a.Execute(context.Background(), llm.Request{
		Model: "claude-sonnet-4", System: "be brief", Prompt: "greet",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Content != "hello world" {
		t.Fatalf("content=%q", resp.Content)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 4 {
		t.Fatalf("tokens=%d/%d", resp.InputTokens, resp.OutputTokens)
	}
	if resp.Provider != "anthropic" {
		t.Fatalf("provider=%q", resp.Provider)
	}
	if !strings.Contains(gotBody, `"system":"be brief"`) {
		t.Fatalf("system not sent: %s", gotBody)
	}
}

func TestExecute_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(429)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	a := New("test-key", srv.URL)
	_, err := a.Execute(context.Background(), llm.Request{Model: "m", Prompt: "p"})
	var pe *llm.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err=%v", err)
	}
	if pe.Kind != llm.ErrorRateLimited {
		t.Fatalf("kind=%s", pe.Kind)
	}
	if pe.RetryAfter == nil || pe.RetryAfter.Seconds() != 3 {
		t.Fatalf("retry-after=%v", pe.RetryAfter)
	}
}

func TestExecute_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		lines := []string{
			`event: message_start`,
			`data: {"type":"message_start","message":{"usage":{"input_tokens":7}}}`,
			``,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"foo"}}`,
			``,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"bar"}}`,
			``,
			`event: message_delta`,
			`data: {"type":"message_delta","usage":{"output_tokens":2}}`,
			``,
		}
		_, _ = w.Write([]byte(strings.Join(lines, "\n")))
	}))
	defer srv.Close()

	a := New("test-key", srv.URL)
	var fragments []string
	resp, err := a.Execute(context.Background(), llm.Request{
		Model: "m", Prompt: "p",
		OnFragment: func(s string) { fragments = append(fragments, s) },
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Content != "foobar" {
		t.Fatalf("content=%q", resp.Content)
	}
	if len(fragments) != 2 || fragments[0] != "foo" || fragments[1] != "bar" {
		t.Fatalf("fragments=%v", fragments)
	}
	if resp.InputTokens != 7 || resp.OutputTokens != 2 {
		t.Fatalf("tokens=%d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestExecute_AuthFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		_, _ = w.Write([]byte(`{"error":{"type":"authentication_error"}}`))
	}))
	defer srv.Close()

	a := New("bad-key", srv.URL)
	_, err := a.Execute(context.Background(), llm.Request{Model: "m", Prompt: "p"})
	if !llm.IsAuthFailed(err) {
		t.Fatalf("err=%v", err)
	}
}
