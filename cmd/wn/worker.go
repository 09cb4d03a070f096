package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/wnrun/wn-core/pkg/subagent"
)

// subagentWorkerCommand is the hidden re-exec target the Sub-Agent
// Runner launches as the child process: it reads a WorkerPayload from
// stdin and writes the NDJSON result/error/log lines on stdout
// (spec.md §4.6). It is never invoked directly by an operator.
const subagentWorkerCommand = "__subagent-worker"

func newSubagentWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:    subagentWorkerCommand,
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			code := subagent.RunWorker(context.Background(), os.Stdin, os.Stdout)
			os.Exit(code)
			return nil
		},
	}
}
