// Package main is the entrypoint for the Robust relay daemon.
// Robustd serves the TCP relay, the WebSocket bridge, and the auth
// callback endpoints.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bbqsrc/robust/internal/server"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	return server.Run(ctx, server.Params{
		Name:  "robustd",
		Setup: setup,
	}, server.Listeners{})
}
