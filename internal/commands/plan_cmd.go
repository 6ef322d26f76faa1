package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"aide/internal/agent"
	"aide/internal/agent/planning"
	"aide/internal/ai"
	"aide/internal/output"
	"aide/internal/ui"
)

// PlanCmd asks the AI provider for an execution plan and queues it.
var PlanCmd = &cobra.Command{
	Use:   "plan <goal>",
	Short: "Plan file edits for a goal and queue them as tasks",
	Long:  "Ask the configured AI provider for an ordered edit plan, then queue one file_operation task per planned subtask",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		files, _ := cmd.Flags().GetStringSlice("file")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		RunPlan(configPath, args[0], files, dryRun)
	},
}

func init() {
	PlanCmd.Flags().StringP("config", "c", "", "Path to the agent configuration file")
	PlanCmd.Flags().StringSliceP("file", "f", nil, "Files the plan may touch (repeatable)")
	PlanCmd.Flags().Bool("dry-run", false, "Print the plan without queueing tasks")
}

// RunPlan requests a plan for the goal and queues its subtasks.
func RunPlan(configPath, goal string, files []string, dryRun bool) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		output.PrintError(err)
	}

	var provider ai.Provider
	switch cfg.Provider.Kind {
	case "anthropic":
		provider = ai.NewAnthropicProvider(cfg.Provider.APIKey, cfg.Provider.BaseURL, cfg.Provider.Model)
	case "ollama":
		provider = ai.NewOllamaProvider(cfg.Provider.BaseURL, cfg.Provider.Model)
	default:
		output.PrintError(fmt.Errorf("planning needs an AI provider, configure provider.kind"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	resp, err := provider.Ask(ctx, "", planning.Prompt(goal, files))
	if err != nil {
		output.PrintError(err)
	}
	strategy, err := planning.Parse(resp.Text)
	if err != nil {
		output.PrintError(err)
	}
	subtasks := strategy.ExecutionOrder()
	if len(subtasks) == 0 {
		output.PrintError(fmt.Errorf("the provider returned no subtasks for this goal"))
	}

	if dryRun {
		output.Print(subtasks, func() {
			ui.ShowHeader("Plan")
			for _, sub := range subtasks {
				fmt.Printf("  %-10s %-8s %s\n", sub.ID, sub.OperationMode, sub.FilePath)
				if note, ok := strategy.RiskMitigation(sub.ID); ok {
					ui.ShowWarning("%s: %s", sub.ID, note)
				}
			}
		})
		return
	}

	queue, store, err := openQueue(cfg)
	if err != nil {
		output.PrintError(err)
	}
	var queued []*agent.Task
	for _, sub := range subtasks {
		task := agent.NewTask("plan:"+sub.ID, agent.KindFileOperation, agent.PriorityMedium, map[string]any{
			"file_path":   sub.FilePath,
			"content":     sub.FileContent,
			"description": sub.Description,
			"mode":        string(sub.OperationMode),
		})
		if err := queue.Submit(task); err != nil {
			output.PrintError(err)
		}
		queued = append(queued, task)
	}
	if err := store.Save(); err != nil {
		output.PrintError(err)
	}

	output.Print(queued, func() {
		ui.ShowSuccess("queued %d tasks for goal %q", len(queued), goal)
	})
}
