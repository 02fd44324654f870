package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/joshu-sajeev/docqueue/internal/worker"
	"github.com/spf13/cobra"
)

// execJobCmd is started by the process runner for every job. It reads the
// request on stdin and writes the response on stdout; stderr is relayed
// into the parent's log.
func execJobCmd() *cobra.Command {
	return &cobra.Command{
		Use:    execJobCommand,
		Short:  "Run a single job read from stdin",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// the parent decides when a job dies
			signal.Ignore(os.Interrupt, syscall.SIGTERM)
			return worker.Serve(cmd.Context(), worker.DefaultRegistry(), os.Stdin, os.Stdout)
		},
	}
}
