package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danshapiro/ai3/internal/engine"
	"github.com/danshapiro/ai3/internal/journal"
	"github.com/danshapiro/ai3/internal/llm"
	"github.com/danshapiro/ai3/internal/registry"
	"github.com/danshapiro/ai3/internal/telemetry"
)

const testPlan = `{"tasks":[{"id":"t1","kind":"general","prompt":"answer","terminal":true}]}`

// stubAdapter answers the planner call with a canned graph and task calls
// with canned content.
type stubAdapter struct {
	plan string
	task string
}

func (a *stubAdapter) Provider() string        { return "p" }
func (a *stubAdapter) SupportsStreaming() bool { return false }
func (a *stubAdapter) Execute(_ context.Context, req llm.Request) (llm.Response, error) {
	content := a.plan
	if !strings.Contains(req.Prompt, "User request:") {
		content = a.task
	}
	return llm.Response{Content: content, Model: req.Model, InputTokens: 5, OutputTokens: 5, LatencyMS: 5}, nil
}

type quiet struct{}

func (quiet) Write(p []byte) (int, error) { return len(p), nil }

func testServer(t *testing.T, a llm.Adapter, withJournal bool) *Server {
	t.Helper()
	client := llm.NewClient()
	if err := client.Register(a); err != nil {
		t.Fatalf("register: %v", err)
	}
	reg, err := registry.New([]*registry.Descriptor{{
		ModelID: "m1", ProviderID: "p", ContextWindow: 100000,
	}}, telemetry.NewRecorder())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	cfg := engine.Config{
		Client:      client,
		Registry:    reg,
		Verify:      true,
		RepairLimit: engine.DefaultRepairLimit,
		Logger:      log.New(quiet{}, "", 0),
	}
	if withJournal {
		j, jerr := journal.New(t.TempDir())
		if jerr != nil {
			t.Fatalf("journal: %v", jerr)
		}
		cfg.Journal = j
	}
	s := New(Config{Addr: ":0", EngineConfig: cfg})
	s.logger = log.New(quiet{}, "", 0)
	return s
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandleRun_Success(t *testing.T) {
	s := testServer(t, &stubAdapter{plan: testPlan, task: "a long enough answer for the floor"}, false)
	rr := postJSON(t, s.Handler(), "/run", `{"prompt":"hello"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp RunResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Content != "a long enough answer for the floor" {
		t.Fatalf("content=%q", resp.Content)
	}
	if resp.RunID == "" || resp.Stats.TasksExecuted != 1 {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestHandleRun_MissingPrompt(t *testing.T) {
	s := testServer(t, &stubAdapter{plan: testPlan, task: "x"}, false)
	rr := postJSON(t, s.Handler(), "/run", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestHandleRun_PlanErrorMapsTo400(t *testing.T) {
	s := testServer(t, &stubAdapter{plan: "not a graph", task: "x"}, false)
	rr := postJSON(t, s.Handler(), "/run", `{"prompt":"p"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var er ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(er.Error.Kind, "plan_") {
		t.Fatalf("kind=%q", er.Error.Kind)
	}
}

func TestHandleRun_AllCandidatesFailedMapsTo424(t *testing.T) {
	s := testServer(t, &stubAdapter{plan: testPlan, task: "I cannot help with that"}, false)
	rr := postJSON(t, s.Handler(), "/run", `{"prompt":"p"}`)
	if rr.Code != http.StatusFailedDependency {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var er ErrorResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &er)
	if er.Error.Kind != string(engine.ErrorAllCandidatesFailed) {
		t.Fatalf("kind=%q", er.Error.Kind)
	}
}

func TestHandleStreamRun_SSE(t *testing.T) {
	s := testServer(t, &stubAdapter{plan: testPlan, task: "a long enough answer for the floor"}, false)
	rr := postJSON(t, s.Handler(), "/stream/run", `{"prompt":"p"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%q", ct)
	}
	body := rr.Body.String()
	for _, want := range []string{`"type":"plan"`, `"type":"task_verified"`, `"type":"final"`, "event: done"} {
		if !strings.Contains(body, want) {
			t.Fatalf("stream missing %q:\n%s", want, body)
		}
	}
}

// streamingAdapter delivers fragments before the full response when the
// request asks for them.
type streamingAdapter struct {
	stub stubAdapter
}

func (a *streamingAdapter) Provider() string        { return "p" }
func (a *streamingAdapter) SupportsStreaming() bool { return true }
func (a *streamingAdapter) Execute(ctx context.Context, req llm.Request) (llm.Response, error) {
	if req.OnFragment != nil {
		req.OnFragment("chunk-one ")
		req.OnFragment("chunk-two")
	}
	return a.stub.Execute(ctx, req)
}

func TestHandleStreamRun_FragmentFrames(t *testing.T) {
	a := &streamingAdapter{stub: stubAdapter{plan: testPlan, task: "a long enough answer for the floor"}}
	s := testServer(t, a, false)
	rr := postJSON(t, s.Handler(), "/stream/run", `{"prompt":"p"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	for _, want := range []string{`"text":"chunk-one "`, `"text":"chunk-two"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("stream missing fragment frame %q:\n%s", want, body)
		}
	}
	// Fragment frames replace the single full-content frame.
	if strings.Contains(body, `"text":"a long enough answer for the floor"`) {
		t.Fatalf("unexpected full-content artifact frame:\n%s", body)
	}
}

func TestHandleRun_DoesNotStreamFragments(t *testing.T) {
	a := &streamingAdapter{stub: stubAdapter{plan: testPlan, task: "a long enough answer for the floor"}}
	s := testServer(t, a, false)
	rr := postJSON(t, s.Handler(), "/run", `{"prompt":"p"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp RunResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Content != "a long enough answer for the floor" {
		t.Fatalf("content=%q", resp.Content)
	}
}

func TestHandleStreamRun_ErrorFrame(t *testing.T) {
	s := testServer(t, &stubAdapter{plan: testPlan, task: "I cannot help with that"}, false)
	rr := postJSON(t, s.Handler(), "/stream/run", `{"prompt":"p"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "event: error") {
		t.Fatalf("missing error frame:\n%s", rr.Body.String())
	}
}

func TestCSRF_CrossOriginPostBlocked(t *testing.T) {
	s := testServer(t, &stubAdapter{plan: testPlan, task: "x"}, false)
	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{"prompt":"p"}`))
	req.Header.Set("Origin", "https://evil.example")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestRunsEndpoints(t *testing.T) {
	s := testServer(t, &stubAdapter{plan: testPlan, task: "a long enough answer for the floor"}, true)
	rr := postJSON(t, s.Handler(), "/run", `{"prompt":"p"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("run status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp RunResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	lr := httptest.NewRecorder()
	s.Handler().ServeHTTP(lr, req)
	if lr.Code != http.StatusOK || !strings.Contains(lr.Body.String(), resp.RunID) {
		t.Fatalf("list status=%d body=%s", lr.Code, lr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/runs/"+resp.RunID, nil)
	gr := httptest.NewRecorder()
	s.Handler().ServeHTTP(gr, req)
	if gr.Code != http.StatusOK || !strings.Contains(gr.Body.String(), resp.RunID) {
		t.Fatalf("get status=%d body=%s", gr.Code, gr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/runs/nonexistent-run", nil)
	nr := httptest.NewRecorder()
	s.Handler().ServeHTTP(nr, req)
	if nr.Code != http.StatusNotFound {
		t.Fatalf("missing run status=%d", nr.Code)
	}
}
