package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/j-angnoe/flux-framework-bundle/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()

	if err != nil && !cli.IsExitStatus(err) {
		fmt.Fprintln(os.Stderr, "flux:", err)
	}
	os.Exit(cli.ExitCode(err))
}
