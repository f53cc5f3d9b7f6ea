// Command swimd runs a single SWIM membership node: a UDP gossip
// transport, an optional SQLite incarnation store, and a debug/admin HTTP
// surface, wired together from a TOML config file.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
