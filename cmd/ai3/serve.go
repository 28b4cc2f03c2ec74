package main

import (
	"fmt"
	"os"

	"github.com/danshapiro/ai3/internal/engine"
	"github.com/danshapiro/ai3/internal/server"
)

func serve(args []string) {
	addr := "127.0.0.1:8080"

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--addr":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--addr requires a value")
				os.Exit(exitConfiguration)
			}
			addr = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(exitConfiguration)
		}
	}

	cfg, err := engine.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfiguration)
	}

	srv := server.New(server.Config{
		Addr:         addr,
		EngineConfig: *cfg,
	})

	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
