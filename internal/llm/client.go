package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Request is a single completion call. OnFragment, when non-nil and the
// adapter supports streaming, receives incremental text; the full content is
// still returned in the Response.
type Request struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature *float64
	OnFragment  func(text string)
}

type Response struct {
	Content      string
	Model        string
	Provider     string
	InputTokens  int
	OutputTokens int
	LatencyMS    int64
}

// Adapter is the uniform provider contract. Execute performs exactly one
// attempt; the Client owns the retry loop.
type Adapter interface {
	Provider() string
	SupportsStreaming() bool
	Execute(ctx context.Context, req Request) (Response, error)
}

// EstimateTokens approximates a token count when the provider response omits
// usage. Four characters per token is the usual rough cut for English text.
func EstimateTokens(s string) int {
	n := len(s) / 4
	if n == 0 && len(s) > 0 {
		n = 1
	}
	return n
}

// EnvAdapterFactory probes the environment for one provider family. It
// returns (nil, false, nil) when the provider is not configured.
type EnvAdapterFactory func() (Adapter, bool, error)

var (
	factoriesMu sync.Mutex
	factories   []EnvAdapterFactory
)

func RegisterEnvAdapterFactory(f EnvAdapterFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories = append(factories, f)
}

// NewClientFromEnv builds a Client with every provider family whose API key
// is present. At least one configured provider is required.
func NewClientFromEnv() (*Client, error) {
	factoriesMu.Lock()
	fs := make([]EnvAdapterFactory, len(factories))
	copy(fs, factories)
	factoriesMu.Unlock()

	c := NewClient()
	for _, f := range fs {
		a, configured, err := f()
		if err != nil {
			return nil, err
		}
		if !configured {
			continue
		}
		if err := c.Register(a); err != nil {
			return nil, err
		}
	}
	if len(c.Providers()) == 0 {
		return nil, &ConfigurationError{Message: "no provider API key found; set ANTHROPIC_API_KEY, OPENAI_API_KEY, or XAI_API_KEY"}
	}
	return c, nil
}

// Client holds registered adapters and wraps every call in the shared
// transient-retry policy.
type Client struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewClient() *Client {
	return &Client{adapters: map[string]Adapter{}}
}

func (c *Client) Register(a Adapter) error {
	name := strings.ToLower(strings.TrimSpace(a.Provider()))
	if name == "" {
		return fmt.Errorf("adapter has empty provider name")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.adapters[name]; exists {
		return fmt.Errorf("adapter already registered for provider %q", name)
	}
	c.adapters[name] = a
	return nil
}

func (c *Client) Adapter(provider string) (Adapter, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.adapters[strings.ToLower(strings.TrimSpace(provider))]
	return a, ok
}

// Providers lists registered provider names, sorted.
func (c *Client) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.adapters))
	for name := range c.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs one request against the named provider with retry on
// transient failures.
func (c *Client) Execute(ctx context.Context, provider string, req Request) (Response, error) {
	a, ok := c.Adapter(provider)
	if !ok {
		return Response{}, &ConfigurationError{Message: fmt.Sprintf("no adapter registered for provider %q", provider)}
	}
	return executeWithRetry(ctx, a, req)
}
