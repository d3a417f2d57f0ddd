// ./main.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/krellwave/pageproof/cmd"
)

// main is the entry point for the PageProof CLI.
func main() {
	// Interrupt signals cancel in-flight captures and let the pool shut
	// down its browsers.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.Execute(ctx)
}
