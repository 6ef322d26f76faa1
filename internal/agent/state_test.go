package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"aide/internal/config"
)

func persistenceConfig(path string, compress bool) config.StatePersistence {
	return config.StatePersistence{
		Enabled:         true,
		FilePath:        path,
		BackupInterval:  config.Duration(time.Minute),
		CompressOldData: compress,
		Retention:       config.Duration(24 * time.Hour),
	}
}

func TestStateStoreDisabled(t *testing.T) {
	if s := NewStateStore(NewTaskQueue(1), config.StatePersistence{Enabled: false}); s != nil {
		t.Error("NewStateStore() returned a store for disabled persistence")
	}
}

func TestSaveAndRestoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "agent.json")

	q := NewTaskQueue(2)
	pending := NewTask("pending", KindSystem, PriorityMedium, nil)
	done := NewTask("done", KindShellCommand, PriorityHigh, map[string]any{"command": "echo"})
	for _, task := range []*Task{pending, done} {
		if err := q.Submit(task); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	q.DequeueReady()
	if err := q.Complete(done.ID, &TaskResult{Output: "echo"}, nil); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	store := NewStateStore(q, persistenceConfig(path, false))
	if err := store.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// The snapshot is plain JSON with tasks and statistics.
	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var state Snapshot
	if err := json.Unmarshal(buf, &state); err != nil {
		t.Fatalf("snapshot is not valid JSON: %v", err)
	}
	if len(state.Tasks) != 2 {
		t.Fatalf("snapshot has %d tasks, want 2", len(state.Tasks))
	}
	if state.Statistics.Completed != 1 {
		t.Errorf("snapshot statistics = %+v", state.Statistics)
	}

	fresh := NewTaskQueue(2)
	restoreStore := NewStateStore(fresh, persistenceConfig(path, false))
	if err := restoreStore.Restore(); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	got, ok := fresh.Get(done.ID)
	if !ok {
		t.Fatal("completed task lost in round trip")
	}
	if got.Status != StatusCompleted || got.Result == nil || got.Result.Output != "echo" {
		t.Errorf("restored task = %+v", got)
	}
	if _, ok := fresh.Get(pending.ID); !ok {
		t.Error("pending task lost in round trip")
	}
}

func TestSaveConcurrentWithParameterChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.json")
	q := NewTaskQueue(2)
	task := NewTask("busy", KindShellCommand, PriorityMedium, map[string]any{"command": "echo 0"})
	if err := q.Submit(task); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	store := NewStateStore(q, persistenceConfig(path, false))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			q.SetParameters(task.ID, map[string]any{"command": fmt.Sprintf("echo %d", i)})
		}
	}()
	for i := 0; i < 50; i++ {
		if err := store.Save(); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	<-done
}

func TestRestoreMissingFileIsCleanStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	store := NewStateStore(NewTaskQueue(1), persistenceConfig(path, false))
	if err := store.Restore(); err != nil {
		t.Fatalf("Restore() on missing file error = %v", err)
	}
}

func TestRestoreCorruptFileReturnsPersistenceError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := NewStateStore(NewTaskQueue(1), persistenceConfig(path, false))
	err := store.Restore()
	if err == nil {
		t.Fatal("Restore() accepted a corrupt snapshot")
	}
}

func TestRestoreDropsOldTerminalTasks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	q := NewTaskQueue(2)
	old := NewTask("old", KindSystem, PriorityLow, nil)
	fresh := NewTask("fresh", KindSystem, PriorityLow, nil)
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

	store := NewStateStore(q, persistenceConfig(path, true))
	if err := store.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	restored := NewTaskQueue(2)
	restoreStore := NewStateStore(restored, persistenceConfig(path, true))
	if err := restoreStore.Restore(); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if _, ok := restored.Get(old.ID); ok {
		t.Error("task past retention survived restore")
	}
	if _, ok := restored.Get(fresh.ID); !ok {
		t.Error("recent task dropped on restore")
	}
}
