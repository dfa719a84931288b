package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"unimap-shuttle/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		if !cli.Reported(err) {
			fmt.Fprintln(os.Stderr, "shuttlectl:", err)
		}
		cancel()
		os.Exit(cli.GetExitCode(err))
	}
}
