package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"aide/internal/agent"
	"aide/internal/config"
	"aide/internal/fileops"
	"aide/internal/output"
	"aide/internal/ui"
)

// defaultConfigFile is used when no --config flag is given and the file
// exists in the working directory.
const defaultConfigFile = "aide.yaml"

// loadConfig resolves the effective configuration for a command.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if !fileops.Exists(defaultConfigFile) {
			return config.Default(), nil
		}
		path = defaultConfigFile
	}
	return config.Load(path)
}

// AutoStartEnabled reports whether the effective configuration asks for the
// agent loop to start on a bare invocation.
func AutoStartEnabled() bool {
	cfg, err := loadConfig("")
	if err != nil {
		return false
	}
	return cfg.Enabled && cfg.AutoStart
}

// RunAgentRun starts the agent and blocks until SIGINT or SIGTERM.
func RunAgentRun(configPath string) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		output.PrintError(err)
	}
	if !cfg.Enabled {
		output.PrintError(fmt.Errorf("agent is disabled, set enabled: true in %s", defaultConfigFile))
	}

	orch, err := agent.NewOrchestrator(cfg)
	if err != nil {
		output.PrintError(err)
	}
	if err := orch.Start(); err != nil {
		output.PrintError(err)
	}

	ui.ShowHeader("aide agent")
	ui.ShowInfo("running in %s mode, press Ctrl+C to stop", cfg.Mode)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	fmt.Println()
	ui.ShowInfo("stopping...")
	if err := orch.Stop(); err != nil {
		output.PrintError(err)
	}
	ui.ShowSuccess("agent stopped")

	status := orch.GetStatus()
	output.Print(status, func() {
		printStatistics(status.Statistics)
	})
}

// RunAgentStatus prints the statistics from the last state snapshot.
func RunAgentStatus(configPath string) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		output.PrintError(err)
	}
	if !cfg.State.Enabled || cfg.State.FilePath == "" {
		output.PrintError(fmt.Errorf("state persistence is disabled, no status to read"))
	}

	snap, err := agent.ReadSnapshot(cfg.State.FilePath)
	if err != nil {
		output.PrintError(err)
	}

	output.Print(snap, func() {
		ui.ShowHeader("Agent Status")
		ui.ShowInfo("last snapshot %s", snap.SavedAt.Format("2006-01-02 15:04:05"))
		fmt.Println()
		printStatistics(snap.Statistics)
	})
}

// RunAgentDecisions prints the newest decision records from the snapshot.
func RunAgentDecisions(configPath string, limit int) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		output.PrintError(err)
	}
	if !cfg.State.Enabled || cfg.State.FilePath == "" {
		output.PrintError(fmt.Errorf("state persistence is disabled, no decisions to read"))
	}

	snap, err := agent.ReadSnapshot(cfg.State.FilePath)
	if err != nil {
		output.PrintError(err)
	}

	decisions := snap.Decisions
	if limit > 0 && len(decisions) > limit {
		decisions = decisions[len(decisions)-limit:]
	}

	output.Print(decisions, func() {
		if len(decisions) == 0 {
			fmt.Println("No decisions recorded.")
			return
		}
		for _, rec := range decisions {
			source := "ai"
			if rec.Fallback {
				source = "fallback"
			}
			fmt.Printf("[%s] (%s) %s\n", rec.Timestamp.Format("15:04:05"), source, rec.Context)
			fmt.Printf("  Q: %s\n", rec.Question)
			fmt.Printf("  A: %s\n\n", rec.Answer)
		}
	})
}

func printStatistics(stats agent.Statistics) {
	fmt.Println("Tasks:")
	fmt.Printf("  pending    %d\n", stats.Pending)
	fmt.Printf("  running    %d\n", stats.Running)
	fmt.Printf("  completed  %d\n", stats.Completed)
	fmt.Printf("  failed     %d\n", stats.Failed)
	fmt.Printf("  cancelled  %d\n", stats.Cancelled)
	fmt.Println("Totals:")
	fmt.Printf("  submitted  %d\n", stats.TotalSubmitted)
	fmt.Printf("  retried    %d\n", stats.TotalRetried)
	fmt.Printf("  escalated  %d\n", stats.TotalEscalated)
}
