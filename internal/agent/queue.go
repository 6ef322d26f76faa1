package agent

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrValidation marks tasks rejected at submit time; they are never
// enqueued.
var ErrValidation = errors.New("task validation failed")

// ErrNotFound is returned for operations on unknown task ids.
var ErrNotFound = errors.New("task not found")

// TaskQueue is the thread-safe store of tasks, ordered by priority then
// submission time. Many producers submit; the executor's workers dequeue
// and complete. All task mutations go through the queue's methods.
type TaskQueue struct {
	mu            sync.Mutex
	tasks         map[string]*Task
	maxConcurrent int
	nextSeq       uint64

	totalSubmitted int
	totalCompleted int
	totalFailed    int
	totalCancelled int
	totalRetried   int
	totalEscalated int
}

// NewTaskQueue creates a queue that allows up to maxConcurrent tasks in
// running status at once.
func NewTaskQueue(maxConcurrent int) *TaskQueue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &TaskQueue{
		tasks:         make(map[string]*Task),
		maxConcurrent: maxConcurrent,
	}
}

// SetMaxConcurrent adjusts the running-task cap; it takes effect on the
// next dequeue.
func (q *TaskQueue) SetMaxConcurrent(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n >= 1 {
		q.maxConcurrent = n
	}
}

// Submit validates a task and inserts it as pending.
func (q *TaskQueue) Submit(t *Task) error {
	if err := validateTask(t); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.tasks[t.ID]; exists {
		return fmt.Errorf("%w: duplicate task id %s", ErrValidation, t.ID)
	}

	t.Status = StatusPending
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.seq = q.nextSeq
	q.nextSeq++

	q.tasks[t.ID] = t
	q.totalSubmitted++
	return nil
}

// validateTask applies per-kind parameter checks.
func validateTask(t *Task) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("%w: missing task id", ErrValidation)
	}
	switch t.Kind {
	case KindShellCommand:
		if t.stringParam("command") == "" {
			return fmt.Errorf("%w: shell_command task %s needs a command parameter", ErrValidation, t.ID)
		}
	case KindAIAnalysis:
		if t.stringParam("prompt") == "" && t.stringParam("content") == "" {
			return fmt.Errorf("%w: ai_analysis task %s needs a prompt or content parameter", ErrValidation, t.ID)
		}
	case KindFileOperation:
		if t.stringParam("file_path") == "" {
			return fmt.Errorf("%w: file_operation task %s needs a file_path parameter", ErrValidation, t.ID)
		}
	case KindSystem:
	default:
		return fmt.Errorf("%w: unknown task kind %q", ErrValidation, t.Kind)
	}
	return nil
}

// DequeueReady returns the highest-priority pending task (FIFO within a
// priority) and marks it running, but only while fewer than the cap are
// running. The second return is false when nothing is ready.
func (q *TaskQueue) DequeueReady() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	running := 0
	for _, t := range q.tasks {
		if t.Status == StatusRunning {
			running++
		}
	}
	if running >= q.maxConcurrent {
		return nil, false
	}

	now := time.Now()
	var best *Task
	for _, t := range q.tasks {
		if t.Status != StatusPending {
			continue
		}
		if !t.notBefore.IsZero() && now.Before(t.notBefore) {
			continue
		}
		if best == nil || dequeueBefore(t, best) {
			best = t
		}
	}
	if best == nil {
		return nil, false
	}

	best.Status = StatusRunning
	best.StartedAt = &now
	return best, true
}

// dequeueBefore reports whether a should be dequeued before b.
func dequeueBefore(a, b *Task) bool {
	ra, rb := a.Priority.rank(), b.Priority.rank()
	if ra != rb {
		return ra < rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.seq < b.seq
}

// Complete transitions a running task to completed or failed.
func (q *TaskQueue) Complete(id string, result *TaskResult, taskErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if t.Status != StatusRunning {
		return fmt.Errorf("complete %s: status is %s, not running", id, t.Status)
	}

	now := time.Now()
	t.CompletedAt = &now
	t.Result = result
	if taskErr != nil {
		t.Status = StatusFailed
		t.Error = taskErr.Error()
		q.totalFailed++
		return nil
	}
	t.Status = StatusCompleted
	t.Error = ""
	q.totalCompleted++
	return nil
}

// Requeue moves a running task back to pending for another attempt. A
// positive delay keeps it out of dequeue until the backoff elapses.
// incrementRetry distinguishes a retry decision from a parameter-modify
// decision, which re-enqueues without burning a retry.
func (q *TaskQueue) Requeue(id string, delay time.Duration, incrementRetry bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if t.Status != StatusRunning {
		return fmt.Errorf("requeue %s: status is %s, not running", id, t.Status)
	}

	t.Status = StatusPending
	t.StartedAt = nil
	t.notBefore = time.Time{}
	if delay > 0 {
		t.notBefore = time.Now().Add(delay)
	}
	if incrementRetry {
		t.RetryCount++
		q.totalRetried++
	}
	return nil
}

// Cancel moves a pending or running task to cancelled. Cancelled tasks are
// never retried.
func (q *TaskQueue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("cancel %s: already %s", id, t.Status)
	}

	now := time.Now()
	t.Status = StatusCancelled
	t.CompletedAt = &now
	q.totalCancelled++
	return nil
}

// CancelRunning cancels every running task and returns their ids. Used by
// abort decisions and forced shutdown.
func (q *TaskQueue) CancelRunning() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ids []string
	now := time.Now()
	for _, t := range q.tasks {
		if t.Status == StatusRunning {
			t.Status = StatusCancelled
			t.CompletedAt = &now
			q.totalCancelled++
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// MarkEscalated fails a running task with an escalation marker for manual
// review.
func (q *TaskQueue) MarkEscalated(id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	now := time.Now()
	t.Status = StatusFailed
	t.Escalated = true
	t.Error = reason
	t.CompletedAt = &now
	q.totalFailed++
	q.totalEscalated++
	return nil
}

// Get returns the task with the given id.
func (q *TaskQueue) Get(id string) (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	return t, ok
}

// SetParameters replaces a task's parameter map (modify decisions).
func (q *TaskQueue) SetParameters(id string, params map[string]any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if t.Parameters == nil {
		t.Parameters = make(map[string]any, len(params))
	}
	for k, v := range params {
		t.Parameters[k] = v
	}
	return nil
}

// Statistics returns current counts by status plus lifetime totals.
func (q *TaskQueue) Statistics() Statistics {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Statistics{
		TotalSubmitted: q.totalSubmitted,
		TotalCompleted: q.totalCompleted,
		TotalFailed:    q.totalFailed,
		TotalCancelled: q.totalCancelled,
		TotalRetried:   q.totalRetried,
		TotalEscalated: q.totalEscalated,
	}
	for _, t := range q.tasks {
		switch t.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

// ClearCompleted removes terminal tasks that finished before the retention
// window and returns how many were removed.
func (q *TaskQueue) ClearCompleted(retention time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	removed := 0
	for id, t := range q.tasks {
		if t.Status.Terminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(q.tasks, id)
			removed++
		}
	}
	return removed
}

// Snapshot returns a copy of all tasks in submission order, for
// persistence.
func (q *TaskQueue) Snapshot() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		// Maps are copied so later modify decisions cannot mutate a
		// snapshot while it is being marshalled.
		clone := *t
		clone.Parameters = cloneParams(t.Parameters)
		clone.Context = cloneParams(t.Context)
		if t.Result != nil {
			result := *t.Result
			result.Artifacts = cloneParams(t.Result.Artifacts)
			clone.Result = &result
		}
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func cloneParams(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Restore repopulates the queue from a persisted snapshot. Tasks that were
// running when the snapshot was taken come back as pending so they get
// re-executed rather than silently lost.
func (q *TaskQueue) Restore(tasks []*Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range tasks {
		if t == nil || t.ID == "" {
			continue
		}
		if _, exists := q.tasks[t.ID]; exists {
			continue
		}
		if t.Status == StatusRunning {
			t.Status = StatusPending
			t.StartedAt = nil
		}
		t.seq = q.nextSeq
		q.nextSeq++
		q.tasks[t.ID] = t
		q.totalSubmitted++
	}
}
