package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"aide/internal/agent/filectx"
	"aide/internal/ai"
	"aide/internal/config"
	"aide/internal/fileops"
	"aide/internal/notify"
	"aide/internal/shell"
	"aide/internal/tools"
)

// ExecutorOptions wires an Executor's capabilities and limits.
type ExecutorOptions struct {
	Workers           int
	MaxRetries        int
	TaskTimeout       time.Duration
	PollInterval      time.Duration
	Mode              config.Mode
	BackupBeforeWrite bool
	Runner            *shell.Runner
	Files             *filectx.Engine
	Provider          ai.Provider
	Catalog           tools.Catalog
	Notifier          notify.Notifier
}

// Executor runs tasks from the queue on a fixed worker pool. Each worker
// executes one task at a time, so the queue's concurrency cap holds as
// long as the pool is no larger than the cap. Failures are routed through
// the decision engine; stop and abort decisions are surfaced via the
// OnStop callback for the orchestrator to act on.
type Executor struct {
	queue     *TaskQueue
	decisions *DecisionEngine
	files     *filectx.Engine
	logger    *log.Logger
	opts      ExecutorOptions

	// OnStop is called once when a STOP or ABORT decision is taken.
	// The argument is true for ABORT.
	OnStop func(abort bool)

	stopped  sync.Once
	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

// NewExecutor creates an executor over the queue and decision engine.
func NewExecutor(queue *TaskQueue, decisions *DecisionEngine, opts ExecutorOptions) *Executor {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 2 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 200 * time.Millisecond
	}
	return &Executor{
		queue:     queue,
		decisions: decisions,
		files:     opts.Files,
		logger:    log.New(os.Stderr, "[executor] ", log.LstdFlags),
		opts:      opts,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Run blocks executing tasks until ctx is cancelled, then returns after
// the in-flight tasks finish.
func (e *Executor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < e.opts.Workers; i++ {
		g.Go(func() error {
			e.workerLoop(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (e *Executor) workerLoop(ctx context.Context) {
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task, ok := e.queue.DequeueReady()
			if !ok {
				continue
			}
			e.execute(ctx, task)
		}
	}
}

// execute runs one dequeued task to a terminal status or a requeue.
func (e *Executor) execute(ctx context.Context, task *Task) {
	if e.opts.Mode == config.ModeSupervised && riskyKind(task.Kind) {
		assessment := e.decisions.DecideAction(ctx, task, describeTask(task))
		if !assessment.ShouldProceed {
			e.logger.Printf("task %s blocked by risk assessment (%s): %s", task.ID, assessment.RiskLevel, assessment.Reasoning)
			if err := e.queue.MarkEscalated(task.ID, "blocked by risk assessment: "+assessment.Reasoning); err != nil {
				e.logger.Printf("escalate %s: %v", task.ID, err)
			}
			e.notifyEscalation(task, assessment.Reasoning)
			return
		}
	}

	// The task context is detached from the run context so that stopping
	// the run drains in-flight work instead of killing it. Abort decisions
	// and the shutdown-timeout path cancel through the registry.
	taskCtx, cancel := context.WithTimeout(context.Background(), e.opts.TaskTimeout)
	e.registerCancel(task.ID, cancel)
	result, err := e.dispatch(taskCtx, task)
	e.unregisterCancel(task.ID)
	cancel()

	if err == nil {
		if cerr := e.queue.Complete(task.ID, result, nil); cerr != nil {
			e.logger.Printf("complete %s: %v", task.ID, cerr)
		}
		return
	}
	e.handleFailure(ctx, task, result, err)
}

// handleFailure applies the decision engine's verdict on a failed task.
func (e *Executor) handleFailure(ctx context.Context, task *Task, result *TaskResult, taskErr error) {
	decision := e.decisions.HandleError(ctx, task, taskErr)
	e.logger.Printf("task %s failed (%v), decision: %s", task.ID, taskErr, decision.Action)

	switch decision.Action {
	case ActionRetry:
		if task.RetryCount >= e.opts.MaxRetries {
			err := fmt.Errorf("retry budget exhausted after %d attempts: %w", task.RetryCount+1, taskErr)
			if cerr := e.queue.Complete(task.ID, result, err); cerr != nil {
				e.logger.Printf("complete %s: %v", task.ID, cerr)
			}
			return
		}
		delay := time.Duration(decision.RetryDelayMs) * time.Millisecond
		if err := e.queue.Requeue(task.ID, delay, true); err != nil {
			e.logger.Printf("requeue %s: %v", task.ID, err)
		}
	case ActionSkip:
		if err := e.queue.Complete(task.ID, result, taskErr); err != nil {
			e.logger.Printf("complete %s: %v", task.ID, err)
		}
	case ActionStop:
		if err := e.queue.Complete(task.ID, result, taskErr); err != nil {
			e.logger.Printf("complete %s: %v", task.ID, err)
		}
		e.signalStop(false)
	case ActionAbort:
		if err := e.queue.Complete(task.ID, result, taskErr); err != nil {
			e.logger.Printf("complete %s: %v", task.ID, err)
		}
		e.cancelInFlight()
		e.queue.CancelRunning()
		e.signalStop(true)
	case ActionEscalate:
		if err := e.queue.MarkEscalated(task.ID, taskErr.Error()); err != nil {
			e.logger.Printf("escalate %s: %v", task.ID, err)
		}
		e.notifyEscalation(task, taskErr.Error())
	case ActionModify:
		if len(decision.Parameters) > 0 {
			if err := e.queue.SetParameters(task.ID, decision.Parameters); err != nil {
				e.logger.Printf("modify %s: %v", task.ID, err)
			}
		}
		if err := e.queue.Requeue(task.ID, 0, false); err != nil {
			e.logger.Printf("requeue %s: %v", task.ID, err)
		}
	default:
		if err := e.queue.Complete(task.ID, result, taskErr); err != nil {
			e.logger.Printf("complete %s: %v", task.ID, err)
		}
	}
}

// dispatch routes a task to the capability matching its kind.
func (e *Executor) dispatch(ctx context.Context, task *Task) (*TaskResult, error) {
	switch task.Kind {
	case KindShellCommand:
		return e.runShellCommand(ctx, task)
	case KindAIAnalysis:
		return e.runAnalysis(ctx, task)
	case KindFileOperation:
		return e.runFileOperation(task)
	case KindSystem:
		return e.runSystemAction(task)
	default:
		return nil, fmt.Errorf("no executor for task kind %q", task.Kind)
	}
}

func (e *Executor) runShellCommand(ctx context.Context, task *Task) (*TaskResult, error) {
	if e.opts.Runner == nil {
		return nil, fmt.Errorf("shell capability not configured")
	}
	res, err := e.opts.Runner.Run(ctx, task.stringParam("command"), e.opts.TaskTimeout)
	if err != nil {
		return nil, err
	}
	result := &TaskResult{
		Output:     res.Stdout,
		Stderr:     res.Stderr,
		ExitCode:   res.ExitCode,
		DurationMs: res.Duration.Milliseconds(),
	}
	if res.ExitCode != 0 {
		return result, fmt.Errorf("command exited with code %d", res.ExitCode)
	}
	return result, nil
}

func (e *Executor) runAnalysis(ctx context.Context, task *Task) (*TaskResult, error) {
	// A tool parameter routes the task to the tool catalog instead of a
	// free-form model prompt.
	if name := task.stringParam("tool"); name != "" {
		if e.opts.Catalog == nil {
			return nil, fmt.Errorf("tool catalog not configured")
		}
		args, _ := task.Parameters["tool_args"].(map[string]any)
		out, err := e.opts.Catalog.Call(ctx, name, args)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}
		return &TaskResult{Output: out}, nil
	}

	if e.opts.Provider == nil {
		return nil, fmt.Errorf("%w: no AI provider configured", ai.ErrUnavailable)
	}
	prompt := task.stringParam("prompt")
	if prompt == "" {
		prompt = task.stringParam("content")
	}
	start := time.Now()
	resp, err := e.opts.Provider.Ask(ctx, task.stringParam("system"), prompt)
	if err != nil {
		return nil, err
	}
	return &TaskResult{
		Output:     resp.Text,
		DurationMs: time.Since(start).Milliseconds(),
		Artifacts: map[string]any{
			"model":        resp.Model,
			"inputTokens":  resp.Usage.InputTokens,
			"outputTokens": resp.Usage.OutputTokens,
		},
	}, nil
}

func (e *Executor) runFileOperation(task *Task) (*TaskResult, error) {
	if e.files == nil {
		return nil, fmt.Errorf("file capability not configured")
	}
	sub := &filectx.SubTask{
		ID:            task.ID,
		FilePath:      task.stringParam("file_path"),
		FileContent:   task.stringParam("content"),
		Description:   task.stringParam("description"),
		OperationMode: filectx.OperationMode(task.stringParam("mode")),
	}
	if err := e.files.LoadFileContext(sub); err != nil {
		return nil, fmt.Errorf("load file context: %w", err)
	}

	artifacts := map[string]any{"operationMode": string(sub.OperationMode)}
	if e.opts.BackupBeforeWrite && sub.FileExists {
		backup, err := e.files.CreateBackup(sub.FilePath)
		if err != nil {
			return nil, fmt.Errorf("create backup: %w", err)
		}
		artifacts["backup"] = backup
	}

	merged := e.files.MergeContent(sub)
	if err := fileops.WriteText(sub.FilePath, merged); err != nil {
		return nil, fmt.Errorf("write %s: %w", sub.FilePath, err)
	}
	return &TaskResult{
		Output:    fmt.Sprintf("%s %s (%d bytes)", sub.OperationMode, sub.FilePath, len(merged)),
		Artifacts: artifacts,
	}, nil
}

// runSystemAction executes in-process introspection actions.
func (e *Executor) runSystemAction(task *Task) (*TaskResult, error) {
	action := task.stringParam("action")
	if action == "" {
		action = "status"
	}
	switch action {
	case "status":
		stats := e.queue.Statistics()
		buf, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return nil, err
		}
		return &TaskResult{Output: string(buf)}, nil
	case "monitor":
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		return &TaskResult{
			Output: "ok",
			Artifacts: map[string]any{
				"goroutines": runtime.NumGoroutine(),
				"heapBytes":  mem.HeapAlloc,
			},
		}, nil
	case "health":
		probes := map[string]any{
			"shell":    e.opts.Runner != nil,
			"provider": e.opts.Provider != nil,
			"tools":    e.opts.Catalog != nil,
			"files":    e.files != nil,
		}
		return &TaskResult{Output: "ok", Artifacts: probes}, nil
	case "cleanup":
		removed := e.queue.ClearCompleted(24 * time.Hour)
		return &TaskResult{Output: fmt.Sprintf("removed %d finished tasks", removed)}, nil
	default:
		return nil, fmt.Errorf("unknown system action %q", action)
	}
}

func (e *Executor) notifyEscalation(task *Task, reason string) {
	if e.opts.Notifier == nil {
		return
	}
	err := e.opts.Notifier.Send(notify.Notification{
		Title:   "Task escalated: " + task.Name,
		Message: reason,
	})
	if err != nil {
		e.logger.Printf("notify: %v", err)
	}
}

func (e *Executor) signalStop(abort bool) {
	e.stopped.Do(func() {
		if e.OnStop != nil {
			e.OnStop(abort)
		}
	})
}

func (e *Executor) registerCancel(id string, cancel context.CancelFunc) {
	e.cancelMu.Lock()
	e.cancels[id] = cancel
	e.cancelMu.Unlock()
}

func (e *Executor) unregisterCancel(id string) {
	e.cancelMu.Lock()
	delete(e.cancels, id)
	e.cancelMu.Unlock()
}

// cancelInFlight cancels the contexts of every running task.
func (e *Executor) cancelInFlight() {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	for id, cancel := range e.cancels {
		cancel()
		delete(e.cancels, id)
	}
}

func riskyKind(kind TaskKind) bool {
	return kind == KindShellCommand || kind == KindFileOperation
}

func describeTask(task *Task) string {
	switch task.Kind {
	case KindShellCommand:
		return "run shell command: " + task.stringParam("command")
	case KindFileOperation:
		return "write file: " + task.stringParam("file_path")
	default:
		return task.Name
	}
}
