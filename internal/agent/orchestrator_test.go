package agent

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"aide/internal/config"
)

func orchestratorConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Mode = config.ModeAutonomous
	cfg.Provider = config.Provider{}
	cfg.MaxConcurrentTasks = 2
	cfg.MonitoringInterval = config.Duration(20 * time.Millisecond)
	cfg.ShutdownTimeout = config.Duration(2 * time.Second)
	cfg.State = config.StatePersistence{
		Enabled:        true,
		FilePath:       filepath.Join(t.TempDir(), "agent-state.json"),
		BackupInterval: config.Duration(50 * time.Millisecond),
		Retention:      config.Duration(24 * time.Hour),
	}
	return cfg
}

func TestNewOrchestratorRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.MaxConcurrentTasks = 0
	if _, err := NewOrchestrator(cfg); err == nil {
		t.Fatal("NewOrchestrator() accepted maxConcurrentTasks=0")
	}

	cfg = config.Default()
	cfg.Triggers = []config.Trigger{{
		Name:     "bad",
		Type:     config.TriggerTimeBased,
		Enabled:  true,
		Schedule: "nope",
	}}
	if _, err := NewOrchestrator(cfg); err == nil {
		t.Fatal("NewOrchestrator() accepted an invalid trigger schedule")
	}
}

func TestLifecycle(t *testing.T) {
	o, err := NewOrchestrator(orchestratorConfig(t))
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	if o.GetState() != StateStopped {
		t.Fatalf("initial state = %s, want stopped", o.GetState())
	}

	if err := o.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if o.GetState() != StateRunning {
		t.Fatalf("state after Start = %s, want running", o.GetState())
	}
	// Idempotent.
	if err := o.Start(); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	task := NewTask("hello", KindShellCommand, PriorityMedium, map[string]any{"command": "echo hello"})
	if err := o.Submit(task); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		got, _ := o.queue.Get(task.ID)
		if got.Status.Terminal() {
			if got.Status != StatusCompleted {
				t.Fatalf("task finished as %s (error: %s)", got.Status, got.Error)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("task did not finish")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := o.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if o.GetState() != StateStopped {
		t.Fatalf("state after Stop = %s, want stopped", o.GetState())
	}
	if err := o.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestStopDrainsInFlightTask(t *testing.T) {
	cfg := orchestratorConfig(t)
	cfg.ShutdownTimeout = config.Duration(5 * time.Second)
	o, err := NewOrchestrator(cfg)
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	if err := o.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	task := NewTask("slow", KindShellCommand, PriorityMedium, map[string]any{"command": "sleep 0.3"})
	if err := o.Submit(task); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if got, _ := o.queue.Get(task.ID); got.Status == StatusRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("task never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := o.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	got, _ := o.queue.Get(task.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("in-flight task after Stop = %s (error: %s), want completed", got.Status, got.Error)
	}
	if got.RetryCount != 0 {
		t.Errorf("retryCount = %d, want 0 for a drained task", got.RetryCount)
	}
}

func TestStopWaitsForMonitorLoop(t *testing.T) {
	cfg := orchestratorConfig(t)
	cfg.MonitoringShutdownTimeout = config.Duration(time.Second)
	o, err := NewOrchestrator(cfg)
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	if err := o.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := o.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	select {
	case <-o.monitorDone:
	default:
		t.Fatal("monitor loop still running after Stop returned")
	}
}

func TestStopPersistsState(t *testing.T) {
	cfg := orchestratorConfig(t)
	o, err := NewOrchestrator(cfg)
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	if err := o.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	task := NewTask("note", KindSystem, PriorityLow, map[string]any{"action": "health"})
	if err := o.Submit(task); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := o.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	// A fresh orchestrator over the same state file sees the task again.
	o2, err := NewOrchestrator(cfg)
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	if err := o2.store.Restore(); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if _, ok := o2.queue.Get(task.ID); !ok {
		t.Error("task not found after restart")
	}
}

func TestGetStatus(t *testing.T) {
	cfg := orchestratorConfig(t)
	cfg.Provider = config.Provider{Kind: "ollama", BaseURL: "http://localhost:11434"}
	o, err := NewOrchestrator(cfg)
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}

	status := o.GetStatus()
	if status.State != StateStopped {
		t.Errorf("state = %s, want stopped", status.State)
	}
	if status.Provider != "ollama" {
		t.Errorf("provider = %q, want ollama", status.Provider)
	}
	if status.Mode != config.ModeAutonomous {
		t.Errorf("mode = %s", status.Mode)
	}
}

func TestMetricsForThresholdTriggers(t *testing.T) {
	o, err := NewOrchestrator(orchestratorConfig(t))
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	if err := o.Submit(NewTask("t", KindSystem, PriorityLow, nil)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	pending, ok := o.metric("tasks_pending")
	if !ok || pending != 1 {
		t.Errorf("tasks_pending = %v %v, want 1 true", pending, ok)
	}
	if _, ok := o.metric("no_such_metric"); ok {
		t.Error("unknown metric resolved")
	}
}

func TestReconfigureAdjustsConcurrencyCap(t *testing.T) {
	o, err := NewOrchestrator(orchestratorConfig(t))
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := o.Submit(NewTask("t", KindSystem, PriorityLow, nil)); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	o.queue.DequeueReady()
	o.queue.DequeueReady()
	if _, ok := o.queue.DequeueReady(); ok {
		t.Fatal("dequeue past cap of 2")
	}

	next := orchestratorConfig(t)
	next.MaxConcurrentTasks = 3
	if err := o.Reconfigure(next); err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}
	if _, ok := o.queue.DequeueReady(); !ok {
		t.Error("raised cap not applied")
	}

	bad := orchestratorConfig(t)
	bad.Mode = config.Mode("chaotic")
	if err := o.Reconfigure(bad); err == nil {
		t.Error("Reconfigure() accepted an invalid mode")
	}
}

func TestDecisionHistoryAccessibleFromOrchestrator(t *testing.T) {
	cfg := orchestratorConfig(t)
	cfg.MaxRetries = 0
	o, err := NewOrchestrator(cfg)
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	if err := o.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer o.Stop()

	task := NewTask("fails", KindShellCommand, PriorityMedium, map[string]any{"command": "exit 1"})
	if err := o.Submit(task); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	deadline := time.After(5 * time.Second)
	for len(o.RecentDecisions(1)) == 0 {
		select {
		case <-deadline:
			t.Fatal("no decision recorded for the failed task")
		case <-time.After(10 * time.Millisecond):
		}
	}
	records := o.RecentDecisions(1)
	if !records[0].Fallback {
		t.Error("decision without a provider not marked fallback")
	}
	if !strings.Contains(records[0].Context, task.ID) {
		t.Errorf("decision context = %q, want it to mention the task", records[0].Context)
	}
}
