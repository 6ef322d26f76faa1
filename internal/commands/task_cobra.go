package commands

import (
	"github.com/spf13/cobra"
)

// TaskCmd is the parent command for task management.
var TaskCmd = &cobra.Command{
	Use:     "task",
	Aliases: []string{"t"},
	Short:   "Submit and inspect agent tasks",
	Long:    "Queue tasks for the agent and inspect their state through the persisted snapshot",
}

var taskSubmitCmd = &cobra.Command{
	Use:   "submit <name>",
	Short: "Queue a task for the agent",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		kind, _ := cmd.Flags().GetString("kind")
		priority, _ := cmd.Flags().GetString("priority")
		command, _ := cmd.Flags().GetString("command")
		prompt, _ := cmd.Flags().GetString("prompt")
		filePath, _ := cmd.Flags().GetString("file")
		content, _ := cmd.Flags().GetString("content")
		RunTaskSubmit(configPath, args[0], kind, priority, TaskInputs{
			Command:  command,
			Prompt:   prompt,
			FilePath: filePath,
			Content:  content,
		})
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks from the last snapshot",
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		status, _ := cmd.Flags().GetString("status")
		RunTaskList(configPath, status)
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show one task with its result",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		RunTaskShow(configPath, args[0])
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a queued task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		RunTaskCancel(configPath, args[0])
	},
}

func init() {
	TaskCmd.PersistentFlags().StringP("config", "c", "", "Path to the agent configuration file")
	taskSubmitCmd.Flags().StringP("kind", "k", "shell_command", "Task kind (shell_command, ai_analysis, file_operation, system)")
	taskSubmitCmd.Flags().StringP("priority", "p", "medium", "Task priority (low, medium, high, critical)")
	taskSubmitCmd.Flags().String("command", "", "Command for shell_command tasks, or action for system tasks")
	taskSubmitCmd.Flags().String("prompt", "", "Prompt for ai_analysis tasks")
	taskSubmitCmd.Flags().String("file", "", "Target file for file_operation tasks")
	taskSubmitCmd.Flags().String("content", "", "Content for file_operation tasks")
	taskListCmd.Flags().StringP("status", "s", "", "Filter by status")

	TaskCmd.AddCommand(taskSubmitCmd)
	TaskCmd.AddCommand(taskListCmd)
	TaskCmd.AddCommand(taskShowCmd)
	TaskCmd.AddCommand(taskCancelCmd)
}
