// Command chaoscrypt encrypts folders with a chaos-derived keystream.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/idelchi/chaoscrypt/internal/commands"
	"github.com/idelchi/chaoscrypt/internal/config"
)

// Global variable for CI stamping.
var version = "unknown - unofficial & generated by unknown"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	cfg := &config.Config{}
	root := commands.NewRootCommand(cfg, version)

	err := root.ExecuteContext(ctx)

	stop()

	if err != nil {
		os.Exit(1)
	}
}
