// Anastrophex: tool-call loop detection MCP server
//
// Anastrophex watches the tool calls an AI coding agent makes, recognises
// known unproductive loops and hands back a corrective directive when an
// intervention has a track record of working.
//
// Usage:
//
//	anastrophex serve              # Start MCP server (stdio transport)
//	anastrophex patterns [file]    # Validate and list a pattern catalogue
//	anastrophex export             # Dump persisted outcomes and alerts as JSON
//	anastrophex version            # Print the version
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
