package commands

import (
	"github.com/spf13/cobra"
)

// AgentCmd is the parent command for the agent runtime.
var AgentCmd = &cobra.Command{
	Use:     "agent",
	Aliases: []string{"a"},
	Short:   "Run and inspect the autonomous agent",
	Long:    "Start the agent loop, check its last known status, and review the decisions it has taken",
}

var agentRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent in the foreground",
	Long:  "Start the task executor and trigger monitor and block until interrupted",
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		RunAgentRun(configPath)
	},
}

var agentStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the agent's last persisted status",
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		RunAgentStatus(configPath)
	},
}

var agentDecisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Show recent decisions",
	Long:  "List the decision records captured in the last state snapshot",
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		limit, _ := cmd.Flags().GetInt("limit")
		RunAgentDecisions(configPath, limit)
	},
}

func init() {
	AgentCmd.PersistentFlags().StringP("config", "c", "", "Path to the agent configuration file")
	agentDecisionsCmd.Flags().IntP("limit", "n", 10, "Number of decisions to show")

	AgentCmd.AddCommand(agentRunCmd)
	AgentCmd.AddCommand(agentStatusCmd)
	AgentCmd.AddCommand(agentDecisionsCmd)
}
