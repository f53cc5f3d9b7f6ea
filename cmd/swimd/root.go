package main

import (
	"github.com/spf13/cobra"
)

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "swimd.toml", "path to the swimd TOML config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(membersCmd)
}

var rootCmd = &cobra.Command{
	Use:   "swimd",
	Short: "A SWIM membership and failure-detection daemon",
	Long: `swimd runs one node of a SWIM gossip membership group: it probes peers
directly and indirectly, disseminates membership updates by piggybacking
them on probe traffic, and exposes the result over a small HTTP API.`,
}
