// Command ragctx manages named document contexts, each with its own vector
// index. It provides a CLI (via Cobra) for indexing, searching and asking
// questions, and an HTTP server exposing the same operations.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/ragctx-go/cmd/ragctx/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
