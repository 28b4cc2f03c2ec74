package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danshapiro/ai3/internal/engine"
)

func runs(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(exitConfiguration)
	}

	cfg, err := engine.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfiguration)
	}
	if cfg.Journal == nil {
		fmt.Fprintln(os.Stderr, "run persistence is not configured; set "+engine.EnvJournalDir)
		os.Exit(exitConfiguration)
	}

	switch args[0] {
	case "list":
		ids, err := cfg.Journal.ListRuns()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		for _, id := range ids {
			fmt.Println(id)
		}
	case "show":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "runs show requires a run id")
			os.Exit(exitConfiguration)
		}
		tr, err := cfg.Journal.GetTrace(args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		b, err := json.MarshalIndent(tr, "", "  ")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(b))
	default:
		usage()
		os.Exit(exitConfiguration)
	}
}
