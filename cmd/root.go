// Package cmd contains the graphstudio CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "graphstudio",
	Short: "Panel-oriented studio with LLM tool orchestration",
	Long: `graphstudio runs a panel workspace (files, notes, kanban, flowchart)
whose panels expose tools to an LLM. The orchestrator aggregates panel
tools, streams model responses, and routes tool calls back to the panels.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
