package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/aryankumar/fanout/internal/cli"
	"github.com/aryankumar/fanout/internal/executor"
	"github.com/aryankumar/fanout/internal/util"
)

func main() {
	// Setup signal handling for graceful shutdown
	ctx := util.SetupSignalHandler()

	// Execute the CLI
	if err := cli.Execute(ctx); err != nil {
		// Task failures have already been reported per host; fold the
		// aggregate status into the exit code without extra noise.
		var statusErr *executor.StatusError
		if errors.As(err, &statusErr) {
			os.Exit(statusErr.Status.ExitCode())
		}
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
