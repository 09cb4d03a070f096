// Command wn is the runtime core's process entrypoint: a long-lived
// agent loop driven over stdin/stdout JSON-RPC (spec.md §6).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	gitCommit string
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "wn",
		Short:         "wn runs the agent runtime core",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       formatVersion(),
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newSubagentWorkerCommand())

	return cmd
}

func formatVersion() string {
	if gitCommit != "" {
		return fmt.Sprintf("%s (git: %s)", version, gitCommit)
	}
	return version
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
