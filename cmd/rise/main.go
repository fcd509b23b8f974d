// rise — операторский CLI сервиса RISE.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ngwpc/rise/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cli.NewRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
