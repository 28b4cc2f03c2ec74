package engine

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/danshapiro/ai3/internal/journal"
	"github.com/danshapiro/ai3/internal/llm"
	"github.com/danshapiro/ai3/internal/registry"
	"github.com/danshapiro/ai3/internal/scheduler"
	"github.com/danshapiro/ai3/internal/taskgraph"
	"github.com/danshapiro/ai3/internal/telemetry"

	// Provider adapters register themselves for NewClientFromEnv.
	_ "github.com/danshapiro/ai3/internal/llm/providers/anthropic"
	_ "github.com/danshapiro/ai3/internal/llm/providers/openai"
	_ "github.com/danshapiro/ai3/internal/llm/providers/xai"
)

const (
	EnvPlannerModel       = "AI3_PLANNER_MODEL"
	EnvPlannerMaxTokens   = "AI3_PLANNER_MAXTOK"
	EnvPlannerTemperature = "AI3_PLANNER_TEMPERATURE"
	EnvMaxConcurrency     = "AI3_MAX_CONCURRENCY"
	EnvMaxPerProvider     = "AI3_MAX_CONCURRENCY_PER_PROVIDER"
	EnvVerify             = "AI3_VERIFY"
	EnvRubricModel        = "AI3_RUBRIC_MODEL"
	EnvRepairLimit        = "AI3_REPAIR_LIMIT"
	EnvModelsFile         = "AI3_MODELS"
	EnvJournalDir         = "AI3_JOURNAL_DIR"
)

const DefaultRepairLimit = 1

type Config struct {
	Client   *llm.Client
	Registry *registry.Registry
	Journal  *journal.Journal // optional; runs are not persisted without it

	// Overrides pins a model per task kind without removing other candidates.
	Overrides map[taskgraph.Kind]string

	PlannerModel       string // empty picks a default from the registry
	PlannerMaxTokens   int
	PlannerTemperature float64

	GlobalMax      int
	PerProviderMax int
	AttemptTimeout time.Duration
	Verify         bool
	Stream         bool

	// RubricModel switches verification from the heuristic judge to
	// per-criterion yes/no calls against this model.
	RubricModel string

	// RepairLimit caps every task's repair budget. Negative leaves the
	// planner's budgets untouched.
	RepairLimit int

	Logger *log.Logger
}

func (c *Config) applyDefaults() {
	if c.GlobalMax <= 0 {
		c.GlobalMax = scheduler.DefaultGlobalMax
	}
	if c.PerProviderMax <= 0 {
		c.PerProviderMax = scheduler.DefaultPerProviderMax
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = scheduler.DefaultAttemptTimeout
	}
	if c.Logger == nil {
		c.Logger = log.New(os.Stderr, "[ai3] ", log.LstdFlags)
	}
}

// FromEnv assembles a config from the process environment: adapters from the
// provider API keys, the model registry from AI3_MODELS or the built-in
// catalog restricted to configured providers, and the journal under
// AI3_JOURNAL_DIR or ~/.ai3.
func FromEnv() (*Config, error) {
	client, err := llm.NewClientFromEnv()
	if err != nil {
		return nil, err
	}

	descs := registry.DefaultCatalog()
	if path := os.Getenv(EnvModelsFile); path != "" {
		descs, err = registry.LoadFile(path)
		if err != nil {
			return nil, &llm.ConfigurationError{Message: "loading " + EnvModelsFile + ": " + err.Error()}
		}
	}
	reg, err := registry.New(descs, telemetry.NewRecorder())
	if err != nil {
		return nil, &llm.ConfigurationError{Message: err.Error()}
	}
	reg, err = reg.Restrict(client.Providers())
	if err != nil {
		return nil, &llm.ConfigurationError{Message: err.Error()}
	}

	cfg := &Config{
		Client:             client,
		Registry:           reg,
		PlannerModel:       os.Getenv(EnvPlannerModel),
		PlannerMaxTokens:   envInt(EnvPlannerMaxTokens, 0),
		PlannerTemperature: envFloat(EnvPlannerTemperature, 0),
		GlobalMax:          envInt(EnvMaxConcurrency, scheduler.DefaultGlobalMax),
		PerProviderMax:     envInt(EnvMaxPerProvider, scheduler.DefaultPerProviderMax),
		Verify:             envBool(EnvVerify, true),
		RubricModel:        os.Getenv(EnvRubricModel),
		RepairLimit:        envInt(EnvRepairLimit, DefaultRepairLimit),
	}

	dir := os.Getenv(EnvJournalDir)
	if dir == "" {
		if home, herr := os.UserHomeDir(); herr == nil {
			dir = filepath.Join(home, ".ai3")
		}
	}
	if dir != "" {
		j, jerr := journal.New(dir)
		if jerr != nil {
			return nil, &llm.ConfigurationError{Message: "journal: " + jerr.Error()}
		}
		cfg.Journal = j
	}
	return cfg, nil
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// envBool accepts the documented on/off spellings plus the usual
// strconv.ParseBool forms.
func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "on":
			return true
		case "off":
			return false
		}
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
