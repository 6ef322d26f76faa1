package main

import (
	"os"

	"github.com/spf13/cobra"

	"aide/internal/commands"
	"aide/internal/output"
)

var rootCmd = &cobra.Command{
	Use:   "aide",
	Short: "A developer CLI with an embedded autonomous agent",
	Long:  "aide queues and executes development tasks autonomously: shell commands, AI analysis, file edits and system checks, driven by configurable triggers",
	Run: func(cmd *cobra.Command, args []string) {
		// Bare invocation starts the agent loop when autoStart is set.
		if commands.AutoStartEnabled() {
			commands.RunAgentRun("")
			return
		}
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&output.JSONMode, "json", false, "Output in JSON format")

	rootCmd.AddCommand(commands.AgentCmd)
	rootCmd.AddCommand(commands.TaskCmd)
	rootCmd.AddCommand(commands.PlanCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
