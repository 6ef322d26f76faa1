package agent

import (
	"errors"
	"testing"
	"time"
)

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name    string
		task    *Task
		wantErr bool
	}{
		{
			name:    "shell command with command param",
			task:    NewTask("ls", KindShellCommand, PriorityMedium, map[string]any{"command": "ls -la"}),
			wantErr: false,
		},
		{
			name:    "shell command missing command param",
			task:    NewTask("bad", KindShellCommand, PriorityMedium, nil),
			wantErr: true,
		},
		{
			name:    "ai analysis with prompt",
			task:    NewTask("review", KindAIAnalysis, PriorityLow, map[string]any{"prompt": "review this"}),
			wantErr: false,
		},
		{
			name:    "ai analysis missing prompt",
			task:    NewTask("empty", KindAIAnalysis, PriorityLow, map[string]any{}),
			wantErr: true,
		},
		{
			name:    "file operation with file_path",
			task:    NewTask("write", KindFileOperation, PriorityHigh, map[string]any{"file_path": "/tmp/x.go"}),
			wantErr: false,
		},
		{
			name:    "file operation missing file_path",
			task:    NewTask("write", KindFileOperation, PriorityHigh, nil),
			wantErr: true,
		},
		{
			name:    "system task needs no params",
			task:    NewTask("status", KindSystem, PriorityLow, nil),
			wantErr: false,
		},
		{
			name:    "unknown kind",
			task:    NewTask("weird", TaskKind("teleport"), PriorityLow, nil),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewTaskQueue(2)
			err := q.Submit(tt.task)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected validation error, got nil")
				}
				if !errors.Is(err, ErrValidation) {
					t.Errorf("error = %v, want ErrValidation", err)
				}
				if q.Statistics().TotalSubmitted != 0 {
					t.Error("rejected task counted as submitted")
				}
				return
			}
			if err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
			got, ok := q.Get(tt.task.ID)
			if !ok {
				t.Fatal("submitted task not found")
			}
			if got.Status != StatusPending {
				t.Errorf("status = %s, want pending", got.Status)
			}
		})
	}
}

func TestSubmitDuplicateID(t *testing.T) {
	q := NewTaskQueue(1)
	task := NewTask("one", KindSystem, PriorityLow, nil)
	if err := q.Submit(task); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	dup := NewTask("two", KindSystem, PriorityLow, nil)
	dup.ID = task.ID
	if err := q.Submit(dup); !errors.Is(err, ErrValidation) {
		t.Errorf("duplicate submit error = %v, want ErrValidation", err)
	}
}

func TestDequeueOrdering(t *testing.T) {
	q := NewTaskQueue(10)

	low := NewTask("low", KindSystem, PriorityLow, nil)
	critical := NewTask("critical", KindSystem, PriorityCritical, nil)
	firstMedium := NewTask("first-medium", KindSystem, PriorityMedium, nil)
	secondMedium := NewTask("second-medium", KindSystem, PriorityMedium, nil)

	// Same creation instant forces the FIFO tie-break onto the
	// submission sequence.
	now := time.Now()
	for _, task := range []*Task{low, firstMedium, secondMedium, critical} {
		task.CreatedAt = now
		if err := q.Submit(task); err != nil {
			t.Fatalf("Submit(%s) error = %v", task.Name, err)
		}
	}

	wantOrder := []string{"critical", "first-medium", "second-medium", "low"}
	for _, want := range wantOrder {
		task, ok := q.DequeueReady()
		if !ok {
			t.Fatalf("DequeueReady() returned nothing, want %s", want)
		}
		if task.Name != want {
			t.Errorf("dequeued %s, want %s", task.Name, want)
		}
		if task.Status != StatusRunning {
			t.Errorf("dequeued task status = %s, want running", task.Status)
		}
	}
	if _, ok := q.DequeueReady(); ok {
		t.Error("DequeueReady() returned a task from an empty queue")
	}
}

func TestDequeueRespectsConcurrencyCap(t *testing.T) {
	q := NewTaskQueue(2)
	for i := 0; i < 4; i++ {
		if err := q.Submit(NewTask("t", KindSystem, PriorityMedium, nil)); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	first, ok := q.DequeueReady()
	if !ok {
		t.Fatal("first dequeue failed")
	}
	if _, ok := q.DequeueReady(); !ok {
		t.Fatal("second dequeue failed")
	}
	if _, ok := q.DequeueReady(); ok {
		t.Error("third dequeue succeeded past the cap")
	}

	if err := q.Complete(first.ID, &TaskResult{Output: "done"}, nil); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if _, ok := q.DequeueReady(); !ok {
		t.Error("dequeue blocked after a slot freed up")
	}
}

func TestCompleteTransitions(t *testing.T) {
	q := NewTaskQueue(1)
	task := NewTask("t", KindSystem, PriorityMedium, nil)
	if err := q.Submit(task); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// Completing a pending task is an invalid transition.
	if err := q.Complete(task.ID, nil, nil); err == nil {
		t.Error("Complete() on pending task succeeded")
	}

	if _, ok := q.DequeueReady(); !ok {
		t.Fatal("dequeue failed")
	}
	if err := q.Complete(task.ID, nil, errors.New("boom")); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	got, _ := q.Get(task.ID)
	if got.Status != StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.Error != "boom" {
		t.Errorf("error = %q, want boom", got.Error)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestRequeueForRetry(t *testing.T) {
	q := NewTaskQueue(1)
	task := NewTask("flaky", KindSystem, PriorityMedium, nil)
	if err := q.Submit(task); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, ok := q.DequeueReady(); !ok {
		t.Fatal("dequeue failed")
	}

	if err := q.Requeue(task.ID, 0, true); err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	got, _ := q.Get(task.ID)
	if got.Status != StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", got.RetryCount)
	}
	if got.StartedAt != nil {
		t.Error("StartedAt not cleared on requeue")
	}
	if q.Statistics().TotalRetried != 1 {
		t.Error("TotalRetried not incremented")
	}

	// A modify-style requeue does not consume a retry.
	if _, ok := q.DequeueReady(); !ok {
		t.Fatal("second dequeue failed")
	}
	if err := q.Requeue(task.ID, 0, false); err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	got, _ = q.Get(task.ID)
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d after modify requeue, want 1", got.RetryCount)
	}
}

func TestRequeueWithDelayNotDequeuedEarly(t *testing.T) {
	q := NewTaskQueue(1)
	task := NewTask("backoff", KindSystem, PriorityMedium, nil)
	if err := q.Submit(task); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, ok := q.DequeueReady(); !ok {
		t.Fatal("dequeue failed")
	}
	if err := q.Requeue(task.ID, time.Hour, true); err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	if _, ok := q.DequeueReady(); ok {
		t.Error("delayed task dequeued before its backoff elapsed")
	}
}

func TestCancel(t *testing.T) {
	q := NewTaskQueue(1)
	task := NewTask("t", KindSystem, PriorityMedium, nil)
	if err := q.Submit(task); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := q.Cancel(task.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	got, _ := q.Get(task.ID)
	if got.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if err := q.Cancel(task.ID); err == nil {
		t.Error("cancelling a terminal task succeeded")
	}
}

func TestCancelRunning(t *testing.T) {
	q := NewTaskQueue(3)
	for i := 0; i < 3; i++ {
		if err := q.Submit(NewTask("t", KindSystem, PriorityMedium, nil)); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	q.DequeueReady()
	q.DequeueReady()

	ids := q.CancelRunning()
	if len(ids) != 2 {
		t.Fatalf("CancelRunning() cancelled %d tasks, want 2", len(ids))
	}
	stats := q.Statistics()
	if stats.Cancelled != 2 || stats.Pending != 1 {
		t.Errorf("stats = %+v, want 2 cancelled and 1 pending", stats)
	}
}

func TestMarkEscalated(t *testing.T) {
	q := NewTaskQueue(1)
	task := NewTask("risky", KindSystem, PriorityHigh, nil)
	if err := q.Submit(task); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	q.DequeueReady()

	if err := q.MarkEscalated(task.ID, "needs human review"); err != nil {
		t.Fatalf("MarkEscalated() error = %v", err)
	}
	got, _ := q.Get(task.ID)
	if got.Status != StatusFailed || !got.Escalated {
		t.Errorf("status = %s escalated = %v, want failed and escalated", got.Status, got.Escalated)
	}
	if q.Statistics().TotalEscalated != 1 {
		t.Error("TotalEscalated not incremented")
	}
}

func TestClearCompleted(t *testing.T) {
	q := NewTaskQueue(2)
	old := NewTask("old", KindSystem, PriorityMedium, nil)
	fresh := NewTask("fresh", KindSystem, PriorityMedium, nil)
	for _, task := range []*Task{old, fresh} {
		if err := q.Submit(task); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		q.DequeueReady()
		if err := q.Complete(task.ID, nil, nil); err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
	}

	past := time.Now().Add(-48 * time.Hour)
	oldTask, _ := q.Get(old.ID)
	oldTask.CompletedAt = &past

	removed := q.ClearCompleted(24 * time.Hour)
	if removed != 1 {
		t.Fatalf("ClearCompleted() removed %d, want 1", removed)
	}
	if _, ok := q.Get(old.ID); ok {
		t.Error("old task still present")
	}
	if _, ok := q.Get(fresh.ID); !ok {
		t.Error("fresh task removed")
	}
}

func TestSnapshotRestore(t *testing.T) {
	q := NewTaskQueue(2)
	pending := NewTask("pending", KindSystem, PriorityMedium, nil)
	running := NewTask("running", KindSystem, PriorityHigh, nil)
	for _, task := range []*Task{pending, running} {
		if err := q.Submit(task); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	q.DequeueReady() // marks the high-priority task running

	snap := q.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d tasks, want 2", len(snap))
	}

	restored := NewTaskQueue(2)
	restored.Restore(snap)

	got, ok := restored.Get(running.ID)
	if !ok {
		t.Fatal("running task lost on restore")
	}
	if got.Status != StatusPending {
		t.Errorf("in-flight task restored as %s, want pending", got.Status)
	}
	if got.StartedAt != nil {
		t.Error("StartedAt survived restore")
	}
	if restored.Statistics().Pending != 2 {
		t.Errorf("restored pending = %d, want 2", restored.Statistics().Pending)
	}
}

func TestSnapshotIsolatedFromLaterParameterChanges(t *testing.T) {
	q := NewTaskQueue(1)
	task := NewTask("mutable", KindShellCommand, PriorityMedium, map[string]any{"command": "echo one"})
	if err := q.Submit(task); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	snap := q.Snapshot()
	if err := q.SetParameters(task.ID, map[string]any{"command": "echo two", "extra": "added"}); err != nil {
		t.Fatalf("SetParameters() error = %v", err)
	}

	if got := snap[0].Parameters["command"]; got != "echo one" {
		t.Errorf("snapshot parameter = %v, want the value at snapshot time", got)
	}
	if _, ok := snap[0].Parameters["extra"]; ok {
		t.Error("parameter added after Snapshot leaked into the clone")
	}
}
