// Package agent implements the autonomous agent core: the task queue and
// executor, the AI-backed decision engine, the trigger-driven monitor loop,
// state persistence and the orchestrator that ties them together.
package agent

import (
	"time"

	"github.com/google/uuid"
)

// TaskKind dispatches a task to the capability that executes it.
type TaskKind string

const (
	KindShellCommand  TaskKind = "shell_command"
	KindAIAnalysis    TaskKind = "ai_analysis"
	KindSystem        TaskKind = "system"
	KindFileOperation TaskKind = "file_operation"
)

// TaskPriority orders tasks in the queue.
type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityMedium   TaskPriority = "medium"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

// rank returns a sort rank for a priority (lower = dequeued first).
func (p TaskPriority) rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// TaskStatus is the lifecycle state of a task. Transitions are monotonic:
// pending -> running -> {completed, failed, cancelled}; running may return
// to pending only through an explicit retry decision.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// TaskResult is the payload a completed task leaves behind.
type TaskResult struct {
	Output     string         `json:"output,omitempty"`
	ExitCode   int            `json:"exitCode,omitempty"`
	Stderr     string         `json:"stderr,omitempty"`
	Artifacts  map[string]any `json:"artifacts,omitempty"`
	DurationMs int64          `json:"durationMs,omitempty"`
}

// Task is one unit of work, owned by the TaskQueue from submission until
// removed by cleanup.
type Task struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Kind       TaskKind       `json:"kind"`
	Priority   TaskPriority   `json:"priority"`
	Status     TaskStatus     `json:"status"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Context    map[string]any `json:"context,omitempty"`

	Result     *TaskResult `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	RetryCount int         `json:"retryCount"`
	Escalated  bool        `json:"escalated,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// seq breaks createdAt ties so dequeue order stays FIFO within a
	// priority even when tasks share a timestamp.
	seq uint64
	// notBefore delays dequeue of a retry until its backoff elapses.
	notBefore time.Time
}

// NewTask creates a pending task with a fresh id. An empty priority
// defaults to medium.
func NewTask(name string, kind TaskKind, priority TaskPriority, params map[string]any) *Task {
	if priority == "" {
		priority = PriorityMedium
	}
	return &Task{
		ID:         uuid.NewString(),
		Name:       name,
		Kind:       kind,
		Priority:   priority,
		Status:     StatusPending,
		Parameters: params,
		CreatedAt:  time.Now(),
	}
}

// stringParam fetches a string parameter, "" when absent or mistyped.
func (t *Task) stringParam(key string) string {
	v, _ := t.Parameters[key].(string)
	return v
}

// Statistics aggregates current queue counts and lifetime totals.
type Statistics struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`

	TotalSubmitted int `json:"totalSubmitted"`
	TotalCompleted int `json:"totalCompleted"`
	TotalFailed    int `json:"totalFailed"`
	TotalCancelled int `json:"totalCancelled"`
	TotalRetried   int `json:"totalRetried"`
	TotalEscalated int `json:"totalEscalated"`
}
