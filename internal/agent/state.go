package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"aide/internal/config"
)

// ErrPersistence marks state file read/write failures. They are logged and
// the agent keeps running in memory.
var ErrPersistence = errors.New("state persistence failed")

// Snapshot is the on-disk state format. Besides the tasks it carries the
// statistics and recent decisions at save time so they can be inspected
// without a running agent.
type Snapshot struct {
	Tasks      []*Task          `json:"tasks"`
	Statistics Statistics       `json:"statistics"`
	Decisions  []DecisionRecord `json:"decisions,omitempty"`
	SavedAt    time.Time        `json:"savedAt"`
}

// ReadSnapshot loads a snapshot file without touching a queue.
func ReadSnapshot(path string) (*Snapshot, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrPersistence, path, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(buf, &snap); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrPersistence, path, err)
	}
	return &snap, nil
}

// StateStore snapshots the task queue to a JSON file on an interval and
// restores it on startup. Writes are serialized; a failed write never
// stops the agent.
type StateStore struct {
	queue     *TaskQueue
	logger    *log.Logger
	path      string
	interval  time.Duration
	compress  bool
	retention time.Duration

	// decisions, when set, supplies the decision records stored in each
	// snapshot.
	decisions func() []DecisionRecord

	mu sync.Mutex
}

// NewStateStore creates a store for the queue using the persistence
// settings. Returns nil when persistence is disabled.
func NewStateStore(queue *TaskQueue, cfg config.StatePersistence) *StateStore {
	if !cfg.Enabled || cfg.FilePath == "" {
		return nil
	}
	interval := cfg.BackupInterval.Std()
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	retention := cfg.Retention.Std()
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &StateStore{
		queue:     queue,
		logger:    log.New(os.Stderr, "[state] ", log.LstdFlags),
		path:      cfg.FilePath,
		interval:  interval,
		compress:  cfg.CompressOldData,
		retention: retention,
	}
}

// SetDecisionSource installs the callback that captures decision history
// into snapshots.
func (s *StateStore) SetDecisionSource(fn func() []DecisionRecord) {
	s.mu.Lock()
	s.decisions = fn
	s.mu.Unlock()
}

// Save writes the current queue snapshot to disk. The write goes through a
// temporary file so a crash mid-write cannot corrupt the previous
// snapshot.
func (s *StateStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := Snapshot{
		Tasks:      s.queue.Snapshot(),
		Statistics: s.queue.Statistics(),
		SavedAt:    time.Now(),
	}
	if s.decisions != nil {
		state.Decisions = s.decisions()
	}
	buf, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrPersistence, err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: mkdir %s: %v", ErrPersistence, dir, err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrPersistence, tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: rename %s: %v", ErrPersistence, s.path, err)
	}
	return nil
}

// Restore loads the last snapshot into the queue. A missing file is a
// clean first start. With compression enabled, terminal tasks that
// finished before the retention window are dropped instead of restored.
func (s *StateStore) Restore() error {
	buf, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrPersistence, s.path, err)
	}

	var state Snapshot
	if err := json.Unmarshal(buf, &state); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrPersistence, s.path, err)
	}

	tasks := state.Tasks
	if s.compress {
		cutoff := time.Now().Add(-s.retention)
		kept := tasks[:0]
		for _, t := range tasks {
			if t.Status.Terminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
				continue
			}
			kept = append(kept, t)
		}
		if dropped := len(tasks) - len(kept); dropped > 0 {
			s.logger.Printf("dropped %d finished tasks older than %s", dropped, s.retention)
		}
		tasks = kept
	}

	s.queue.Restore(tasks)
	s.logger.Printf("restored %d tasks from %s (saved %s)", len(tasks), s.path, state.SavedAt.Format(time.RFC3339))
	return nil
}

// Run snapshots on the configured interval until ctx is cancelled, then
// takes a final snapshot.
func (s *StateStore) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := s.Save(); err != nil {
				s.logger.Printf("final snapshot: %v", err)
			}
			return ctx.Err()
		case <-ticker.C:
			if err := s.Save(); err != nil {
				s.logger.Printf("snapshot: %v", err)
			}
		}
	}
}
