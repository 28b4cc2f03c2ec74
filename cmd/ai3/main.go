package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/danshapiro/ai3/internal/engine"
	"github.com/danshapiro/ai3/internal/planner"
	"github.com/danshapiro/ai3/internal/scheduler"
	"github.com/danshapiro/ai3/internal/taskgraph"
)

// Exit codes: 0 success, 1 planning failed, 2 all candidates failed,
// 3 cancelled or timed out, 4 configuration problem.
const (
	exitOK            = 0
	exitPlan          = 1
	exitAllFailed     = 2
	exitInterrupted   = 3
	exitConfiguration = 4
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(exitConfiguration)
	}

	switch os.Args[1] {
	case "serve":
		serve(os.Args[2:])
	case "runs":
		runs(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		os.Exit(exitOK)
	default:
		run(os.Args[1:])
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  ai3 [--stream] [--no-verify] [--planner-model <id>] [--pin <kind=model>]")
	fmt.Fprintln(os.Stderr, "      [--max-concurrency <n>] [--max-concurrency-per-provider <n>]")
	fmt.Fprintln(os.Stderr, "      [--repair-limit <n>] <prompt>")
	fmt.Fprintln(os.Stderr, "  ai3 serve [--addr <host:port>]")
	fmt.Fprintln(os.Stderr, "  ai3 runs list")
	fmt.Fprintln(os.Stderr, "  ai3 runs show <run-id>")
}

func run(args []string) {
	cfg, err := engine.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfiguration)
	}

	var stream bool
	var promptParts []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--stream":
			stream = true
		case "--no-verify":
			cfg.Verify = false
		case "--planner-model":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--planner-model requires a value")
				os.Exit(exitConfiguration)
			}
			cfg.PlannerModel = args[i]
		case "--pin":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--pin requires a value in the form kind=model")
				os.Exit(exitConfiguration)
			}
			if err := addPin(cfg, args[i]); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(exitConfiguration)
			}
		case "--max-concurrency":
			i++
			cfg.GlobalMax = intArg(args, i, "--max-concurrency")
		case "--max-concurrency-per-provider":
			i++
			cfg.PerProviderMax = intArg(args, i, "--max-concurrency-per-provider")
		case "--repair-limit":
			i++
			cfg.RepairLimit = intArg(args, i, "--repair-limit")
		default:
			if strings.HasPrefix(args[i], "--") {
				fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
				os.Exit(exitConfiguration)
			}
			promptParts = append(promptParts, args[i])
		}
	}

	prompt := strings.TrimSpace(strings.Join(promptParts, " "))
	if prompt == "" {
		usage()
		os.Exit(exitConfiguration)
	}
	cfg.Stream = stream

	eng, err := engine.New(*cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfiguration)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var res *engine.Result
	if stream {
		events := make(chan scheduler.Event, scheduler.EventBufferSize)
		done := make(chan struct{})
		go func() {
			for ev := range events {
				printEvent(ev)
			}
			close(done)
		}()
		res, err = eng.RunStream(ctx, prompt, events)
		<-done
	} else {
		res, err = eng.Run(ctx, prompt)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}

	fmt.Println(res.Response.Content)
	for _, w := range res.Response.Warnings {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", w)
	}
	stats := res.Trace.Stats()
	fmt.Fprintf(os.Stderr, "run_id=%s confidence=%.2f tasks=%d repaired=%d failed=%d tokens=%d/%d cost=$%.4f wall=%dms\n",
		res.RunID, res.Response.Confidence, stats.TasksExecuted, stats.TasksRepaired, stats.TasksFailed,
		stats.TokensIn, stats.TokensOut, stats.Cost, stats.WallTimeMS)
	os.Exit(exitOK)
}

// printEvent renders run progress on stderr; the final content goes to
// stdout when the run returns.
func printEvent(ev scheduler.Event) {
	switch ev.Type {
	case scheduler.EventPlan:
		if ids, ok := ev.Payload["task_ids"].([]string); ok {
			fmt.Fprintf(os.Stderr, "plan: %d task(s): %s\n", len(ids), strings.Join(ids, ", "))
		}
	case scheduler.EventDecision:
		fmt.Fprintf(os.Stderr, "%s: -> %v (%v)\n", ev.TaskID, ev.Payload["model"], ev.Payload["provider"])
	case scheduler.EventTaskArtifact:
		// Fragment frames carry text only; full-artifact frames also carry
		// the artifact id and are skipped to avoid duplicating the output.
		if _, full := ev.Payload["artifact_id"]; !full {
			if text, ok := ev.Payload["text"].(string); ok {
				fmt.Fprint(os.Stderr, text)
			}
		}
	case scheduler.EventTaskVerified:
		fmt.Fprintf(os.Stderr, "%s: verified (score %.2f)\n", ev.TaskID, floatPayload(ev.Payload["score"]))
	case scheduler.EventTaskRepaired:
		fmt.Fprintf(os.Stderr, "%s: repairing\n", ev.TaskID)
	case scheduler.EventTaskFailed:
		fmt.Fprintf(os.Stderr, "%s: FAILED: %v\n", ev.TaskID, ev.Payload["reason"])
	case scheduler.EventAssembleStart:
		fmt.Fprintln(os.Stderr, "assembling...")
	}
}

func floatPayload(v any) float64 {
	f, _ := v.(float64)
	return f
}

func addPin(cfg *engine.Config, spec string) error {
	parts := strings.SplitN(spec, "=", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		return fmt.Errorf("--pin %q is invalid; expected kind=model", spec)
	}
	kind, err := taskgraph.ParseKind(strings.TrimSpace(parts[0]))
	if err != nil {
		return fmt.Errorf("--pin %q: %w", spec, err)
	}
	if cfg.Overrides == nil {
		cfg.Overrides = map[taskgraph.Kind]string{}
	}
	if prev, exists := cfg.Overrides[kind]; exists {
		return fmt.Errorf("--pin kind %q specified multiple times (%q then %q)", kind, prev, parts[1])
	}
	cfg.Overrides[kind] = strings.TrimSpace(parts[1])
	return nil
}

func intArg(args []string, i int, flag string) int {
	if i >= len(args) {
		fmt.Fprintf(os.Stderr, "%s requires a value\n", flag)
		os.Exit(exitConfiguration)
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", flag, err)
		os.Exit(exitConfiguration)
	}
	return n
}

func exitCodeFor(err error) int {
	var pe *planner.PlanError
	if errors.As(err, &pe) {
		return exitPlan
	}
	var re *engine.RunError
	if errors.As(err, &re) {
		switch re.Kind {
		case engine.ErrorAllCandidatesFailed:
			return exitAllFailed
		case engine.ErrorCancelled, engine.ErrorTimeout:
			return exitInterrupted
		default:
			return exitConfiguration
		}
	}
	return exitConfiguration
}
