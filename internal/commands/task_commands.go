package commands

import (
	"fmt"

	"aide/internal/agent"
	"aide/internal/config"
	"aide/internal/output"
)

// TaskInputs carries the kind-specific parameters from the submit flags.
type TaskInputs struct {
	Command  string
	Prompt   string
	FilePath string
	Content  string
}

// openQueue restores the persisted queue so offline commands can mutate it
// and save it back.
func openQueue(cfg *config.Config) (*agent.TaskQueue, *agent.StateStore, error) {
	if !cfg.State.Enabled || cfg.State.FilePath == "" {
		return nil, nil, fmt.Errorf("state persistence is disabled, tasks cannot be queued offline")
	}
	queue := agent.NewTaskQueue(cfg.MaxConcurrentTasks)
	store := agent.NewStateStore(queue, cfg.State)
	if err := store.Restore(); err != nil {
		return nil, nil, err
	}
	return queue, store, nil
}

// RunTaskSubmit queues a task through the state file; a running agent
// picks it up on its next restore, a stopped one on its next start.
func RunTaskSubmit(configPath, name, kind, priority string, in TaskInputs) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		output.PrintError(err)
	}
	queue, store, err := openQueue(cfg)
	if err != nil {
		output.PrintError(err)
	}

	params := map[string]any{}
	if in.Command != "" {
		params["command"] = in.Command
		if agent.TaskKind(kind) == agent.KindSystem {
			params["action"] = in.Command
		}
	}
	if in.Prompt != "" {
		params["prompt"] = in.Prompt
	}
	if in.FilePath != "" {
		params["file_path"] = in.FilePath
	}
	if in.Content != "" {
		params["content"] = in.Content
	}

	task := agent.NewTask(name, agent.TaskKind(kind), agent.TaskPriority(priority), params)
	if err := queue.Submit(task); err != nil {
		output.PrintError(err)
	}
	if err := store.Save(); err != nil {
		output.PrintError(err)
	}

	output.Print(task, func() {
		fmt.Printf("Queued task %s (%s, %s priority)\n", task.ID, task.Kind, task.Priority)
	})
}

// RunTaskList prints the tasks in the last snapshot, optionally filtered
// by status.
func RunTaskList(configPath, status string) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		output.PrintError(err)
	}
	if !cfg.State.Enabled || cfg.State.FilePath == "" {
		output.PrintError(fmt.Errorf("state persistence is disabled, no tasks to list"))
	}
	snap, err := agent.ReadSnapshot(cfg.State.FilePath)
	if err != nil {
		output.PrintError(err)
	}

	var tasks []*agent.Task
	for _, t := range snap.Tasks {
		if status != "" && string(t.Status) != status {
			continue
		}
		tasks = append(tasks, t)
	}

	output.Print(tasks, func() {
		if len(tasks) == 0 {
			fmt.Println("No tasks.")
			return
		}
		for _, t := range tasks {
			marker := " "
			if t.Escalated {
				marker = "!"
			}
			fmt.Printf("%s %-36s %-14s %-9s %-8s %s\n", marker, t.ID, t.Kind, t.Status, t.Priority, t.Name)
		}
	})
}

// RunTaskShow prints one task with its result and error.
func RunTaskShow(configPath, id string) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		output.PrintError(err)
	}
	if !cfg.State.Enabled || cfg.State.FilePath == "" {
		output.PrintError(fmt.Errorf("state persistence is disabled, no tasks to show"))
	}
	snap, err := agent.ReadSnapshot(cfg.State.FilePath)
	if err != nil {
		output.PrintError(err)
	}

	for _, t := range snap.Tasks {
		if t.ID != id {
			continue
		}
		output.Print(t, func() {
			fmt.Printf("Task:     %s (%s)\n", t.Name, t.ID)
			fmt.Printf("Kind:     %s\n", t.Kind)
			fmt.Printf("Status:   %s\n", t.Status)
			fmt.Printf("Priority: %s\n", t.Priority)
			fmt.Printf("Retries:  %d\n", t.RetryCount)
			if t.Escalated {
				fmt.Println("Escalated for manual review.")
			}
			if t.Error != "" {
				fmt.Printf("Error:    %s\n", t.Error)
			}
			if t.Result != nil && t.Result.Output != "" {
				fmt.Printf("\n%s\n", t.Result.Output)
			}
		})
		return
	}
	output.PrintError(fmt.Errorf("task %s not found", id))
}

// RunTaskCancel cancels a queued task through the state file.
func RunTaskCancel(configPath, id string) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		output.PrintError(err)
	}
	queue, store, err := openQueue(cfg)
	if err != nil {
		output.PrintError(err)
	}
	if err := queue.Cancel(id); err != nil {
		output.PrintError(err)
	}
	if err := store.Save(); err != nil {
		output.PrintError(err)
	}
	output.Print(map[string]string{"cancelled": id}, func() {
		fmt.Printf("Cancelled task %s\n", id)
	})
}
