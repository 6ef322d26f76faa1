package agent

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"sync"
	"time"

	"aide/internal/agent/filectx"
	"aide/internal/ai"
	"aide/internal/config"
	"aide/internal/notify"
	"aide/internal/shell"
	"aide/internal/tools"
)

// State is the orchestrator's lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Status is the snapshot returned by GetStatus.
type Status struct {
	State      State       `json:"state"`
	Mode       config.Mode `json:"mode"`
	Provider   string      `json:"provider"`
	Uptime     string      `json:"uptime,omitempty"`
	Statistics Statistics  `json:"statistics"`
	Triggers   int         `json:"triggers"`
	Goroutines int         `json:"goroutines"`
}

// Orchestrator owns the agent's components and drives the lifecycle
// stopped -> starting -> running -> stopping -> stopped. Start and Stop
// are safe to call repeatedly.
type Orchestrator struct {
	mu    sync.Mutex
	state State

	cfg       *config.Config
	queue     *TaskQueue
	decisions *DecisionEngine
	executor  *Executor
	monitor   *TriggerMonitor
	store     *StateStore
	provider  ai.Provider
	catalog   *tools.MCPCatalog
	logger    *log.Logger

	cancel      context.CancelFunc
	done        chan struct{}
	monitorDone chan struct{}
	startedAt   time.Time
}

// NewOrchestrator assembles an agent from its configuration. An invalid
// configuration is the one startup error that is not recoverable.
func NewOrchestrator(cfg *config.Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := &Orchestrator{
		state:  StateStopped,
		cfg:    cfg,
		logger: log.New(os.Stderr, "[orchestrator] ", log.LstdFlags),
	}

	o.provider = buildProvider(cfg.Provider)
	o.queue = NewTaskQueue(cfg.MaxConcurrentTasks)
	o.decisions = NewDecisionEngine(o.provider, cfg.MaxRetries, cfg.MaxHistoryEntries)
	o.decisions.SetStateSnapshotFunc(func() string {
		stats := o.queue.Statistics()
		return fmt.Sprintf("state=%s pending=%d running=%d failed=%d", o.GetState(), stats.Pending, stats.Running, stats.Failed)
	})
	o.store = NewStateStore(o.queue, cfg.State)
	if o.store != nil {
		o.store.SetDecisionSource(func() []DecisionRecord {
			return o.decisions.RecentDecisions(50)
		})
	}

	if cfg.Capabilities.McpTools && cfg.Tools.Command != "" {
		o.catalog = tools.NewMCPCatalog(cfg.Tools.Command, cfg.Tools.Args...)
	}
	o.executor = o.buildExecutor()

	monitor, err := NewTriggerMonitor(o.queue, cfg, o.metric)
	if err != nil {
		return nil, err
	}
	o.monitor = monitor
	return o, nil
}

// buildExecutor wires a fresh executor from the current configuration.
func (o *Orchestrator) buildExecutor() *Executor {
	var runner *shell.Runner
	if o.cfg.Capabilities.CommandExecution {
		runner = shell.NewRunner(o.cfg.AllowedCommands, o.cfg.BlockedCommands)
	}
	var files *filectx.Engine
	if o.cfg.Capabilities.FileOperations {
		files = filectx.NewEngine()
	}
	var catalog tools.Catalog
	if o.catalog != nil {
		catalog = o.catalog
	}

	var notifiers []notify.Notifier
	if o.cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier())
	}
	if o.cfg.Notifications.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(o.cfg.Notifications.WebhookURL))
	}
	var notifier notify.Notifier
	if len(notifiers) > 0 {
		notifier = notify.NewMultiNotifier(notifiers...)
	}

	exec := NewExecutor(o.queue, o.decisions, ExecutorOptions{
		Workers:           o.cfg.MaxConcurrentTasks,
		MaxRetries:        o.cfg.MaxRetries,
		TaskTimeout:       o.cfg.TaskTimeout.Std(),
		Mode:              o.cfg.Mode,
		BackupBeforeWrite: o.cfg.BackupBeforeWrite,
		Runner:            runner,
		Files:             files,
		Provider:          o.provider,
		Catalog:           catalog,
		Notifier:          notifier,
	})
	exec.OnStop = func(abort bool) {
		if abort {
			o.logger.Printf("abort decision, cancelling in-flight work")
		} else {
			o.logger.Printf("stop decision, draining")
		}
		go o.Stop()
	}
	return exec
}

// buildProvider constructs the configured AI backend. An empty or "none"
// kind leaves the agent on deterministic fallbacks only.
func buildProvider(cfg config.Provider) ai.Provider {
	switch cfg.Kind {
	case "anthropic":
		return ai.NewAnthropicProvider(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case "ollama":
		return ai.NewOllamaProvider(cfg.BaseURL, cfg.Model)
	default:
		return nil
	}
}

// metric resolves threshold-trigger metrics from the queue and runtime.
func (o *Orchestrator) metric(name string) (float64, bool) {
	stats := o.queue.Statistics()
	switch name {
	case "tasks_pending":
		return float64(stats.Pending), true
	case "tasks_running":
		return float64(stats.Running), true
	case "tasks_failed":
		return float64(stats.TotalFailed), true
	case "goroutines":
		return float64(runtime.NumGoroutine()), true
	default:
		return 0, false
	}
}

// Start brings the agent to running. Calling Start on a running agent is
// a no-op.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.state != StateStopped {
		o.mu.Unlock()
		return nil
	}
	o.state = StateStarting
	o.mu.Unlock()

	if o.store != nil {
		if err := o.store.Restore(); err != nil {
			// Persistence failures degrade to a fresh in-memory run.
			o.logger.Printf("restore: %v", err)
		}
	}

	// The monitor owns a filesystem watcher that Run closes on shutdown,
	// so each start gets a fresh one. Rebuilding the executor alongside
	// it picks up limit and mode changes applied through Reconfigure.
	monitor, err := NewTriggerMonitor(o.queue, o.cfg, o.metric)
	if err != nil {
		o.mu.Lock()
		o.state = StateStopped
		o.mu.Unlock()
		return err
	}
	o.monitor = monitor
	o.executor = o.buildExecutor()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	monitorDone := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := o.executor.Run(ctx); err != nil && ctx.Err() == nil {
			o.logger.Printf("executor: %v", err)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(monitorDone)
		if err := o.monitor.Run(ctx); err != nil && ctx.Err() == nil {
			o.logger.Printf("monitor: %v", err)
		}
	}()
	if o.store != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := o.store.Run(ctx); err != nil && ctx.Err() == nil {
				o.logger.Printf("state store: %v", err)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	o.mu.Lock()
	o.cancel = cancel
	o.done = done
	o.monitorDone = monitorDone
	o.startedAt = time.Now()
	o.state = StateRunning
	o.mu.Unlock()

	o.logger.Printf("agent running: mode=%s workers=%d triggers=%d", o.cfg.Mode, o.cfg.MaxConcurrentTasks, len(o.cfg.Triggers))
	return nil
}

// Stop drains the agent within the shutdown timeout, then force-cancels
// whatever is still running. Calling Stop on a stopped agent is a no-op.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if o.state != StateRunning {
		o.mu.Unlock()
		return nil
	}
	o.state = StateStopping
	cancel := o.cancel
	done := o.done
	monitorDone := o.monitorDone
	o.mu.Unlock()

	cancel()
	select {
	case <-monitorDone:
	case <-time.After(o.cfg.MonitoringShutdownTimeout.Std()):
		o.logger.Printf("monitor did not stop within %s", o.cfg.MonitoringShutdownTimeout.Std())
	}
	select {
	case <-done:
	case <-time.After(o.cfg.ShutdownTimeout.Std()):
		o.logger.Printf("shutdown timeout after %s, force-cancelling running tasks", o.cfg.ShutdownTimeout.Std())
		o.executor.cancelInFlight()
		o.queue.CancelRunning()
	}

	if o.catalog != nil {
		if err := o.catalog.Close(); err != nil {
			o.logger.Printf("close tool catalog: %v", err)
		}
	}

	o.mu.Lock()
	o.state = StateStopped
	o.mu.Unlock()
	o.logger.Printf("agent stopped")
	return nil
}

// GetState returns the current lifecycle state.
func (o *Orchestrator) GetState() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// GetStatus reports the agent's state and task statistics.
func (o *Orchestrator) GetStatus() Status {
	o.mu.Lock()
	state := o.state
	startedAt := o.startedAt
	o.mu.Unlock()

	status := Status{
		State:      state,
		Mode:       o.cfg.Mode,
		Statistics: o.queue.Statistics(),
		Triggers:   len(o.cfg.Triggers),
		Goroutines: runtime.NumGoroutine(),
	}
	if o.provider != nil {
		status.Provider = o.provider.Name()
	}
	if state == StateRunning {
		status.Uptime = time.Since(startedAt).Round(time.Second).String()
	}
	return status
}

// Submit queues a task for execution.
func (o *Orchestrator) Submit(task *Task) error {
	return o.queue.Submit(task)
}

// CancelTask cancels a pending or running task by id.
func (o *Orchestrator) CancelTask(id string) error {
	return o.queue.Cancel(id)
}

// Tasks returns a snapshot of all tasks in submission order.
func (o *Orchestrator) Tasks() []*Task {
	return o.queue.Snapshot()
}

// RecentDecisions returns the newest n decision records.
func (o *Orchestrator) RecentDecisions(n int) []DecisionRecord {
	return o.decisions.RecentDecisions(n)
}

// FireTrigger signals an externally sourced trigger by name.
func (o *Orchestrator) FireTrigger(name string) {
	o.monitor.Fire(name)
}

// Reconfigure applies a new configuration. The concurrency cap takes
// effect immediately; mode, provider and trigger changes apply on the
// next Start.
func (o *Orchestrator) Reconfigure(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg = cfg
	o.queue.SetMaxConcurrent(cfg.MaxConcurrentTasks)
	return nil
}
