package agent

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"aide/internal/ai"
)

// ErrorAction is the policy chosen after a task failure.
type ErrorAction string

const (
	ActionRetry    ErrorAction = "RETRY"
	ActionSkip     ErrorAction = "SKIP"
	ActionStop     ErrorAction = "STOP"
	ActionAbort    ErrorAction = "ABORT"
	ActionEscalate ErrorAction = "ESCALATE"
	ActionModify   ErrorAction = "MODIFY"
)

// ShouldRetry reports whether the task should be re-enqueued.
func (a ErrorAction) ShouldRetry() bool { return a == ActionRetry }

// ShouldStop reports whether the whole executor should stop taking work.
func (a ErrorAction) ShouldStop() bool { return a == ActionStop || a == ActionAbort }

// RiskLevel grades a proposed action before it runs.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// ErrorHandlingDecision is produced after a task failure.
type ErrorHandlingDecision struct {
	Action       ErrorAction    `json:"action"`
	Reason       string         `json:"reason"`
	RetryDelayMs int64          `json:"retryDelayMs"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// ActionDecision is produced before a risky action.
type ActionDecision struct {
	ShouldProceed bool      `json:"shouldProceed"`
	RiskLevel     RiskLevel `json:"riskLevel"`
	Reasoning     string    `json:"reasoning"`
	Timestamp     time.Time `json:"timestamp"`
}

// DecisionRecord is one audited request/response pair, whether answered by
// the AI capability or by the fallback policy.
type DecisionRecord struct {
	Context    string    `json:"context"`
	Question   string    `json:"question"`
	Options    []string  `json:"options,omitempty"`
	AgentState string    `json:"agentState,omitempty"`
	Answer     string    `json:"answer"`
	Fallback   bool      `json:"fallback"`
	Timestamp  time.Time `json:"timestamp"`
}

// DecisionEngine turns task failures and risky pending actions into policy
// decisions. It asks the AI provider first and falls back to a
// deterministic policy when the provider is unavailable or its answer does
// not parse. Both entry points always return a decision.
type DecisionEngine struct {
	provider   ai.Provider
	logger     *log.Logger
	maxRetries int

	mu         sync.Mutex
	history    []DecisionRecord
	maxHistory int
	stateFn    func() string
}

// NewDecisionEngine creates an engine backed by provider, which may be nil
// to run on the fallback policy alone.
func NewDecisionEngine(provider ai.Provider, maxRetries, maxHistoryEntries int) *DecisionEngine {
	if maxRetries < 0 {
		maxRetries = 3
	}
	if maxHistoryEntries < 1 {
		maxHistoryEntries = 100
	}
	return &DecisionEngine{
		provider:   provider,
		logger:     log.New(os.Stderr, "[decision] ", log.LstdFlags),
		maxRetries: maxRetries,
		maxHistory: maxHistoryEntries,
	}
}

// SetStateSnapshotFunc installs a callback used to capture the agent state
// recorded alongside each decision.
func (e *DecisionEngine) SetStateSnapshotFunc(fn func() string) {
	e.mu.Lock()
	e.stateFn = fn
	e.mu.Unlock()
}

const errorHandlingSystem = `You are the error-handling policy of an autonomous coding agent.
Answer with labeled lines only. The first line must be
ACTION: RETRY|SKIP|STOP|ABORT|ESCALATE|MODIFY
optionally followed by
REASON: <one line>
DELAY_MS: <integer milliseconds before a retry>`

const actionAssessmentSystem = `You are the risk-assessment policy of an autonomous coding agent.
Answer with labeled lines only:
DECISION: YES|NO
RISK: LOW|MEDIUM|HIGH
REASONING: <one line>`

// HandleError decides what to do about a failed task. It never returns an
// error; on any provider failure the deterministic fallback applies.
func (e *DecisionEngine) HandleError(ctx context.Context, task *Task, taskErr error) ErrorHandlingDecision {
	question := fmt.Sprintf(
		"Task %q (kind %s, priority %s, attempt %d of %d) failed with: %v. Which action should the agent take?",
		task.Name, task.Kind, task.Priority, task.RetryCount+1, e.maxRetries+1, taskErr,
	)
	taskCtx := fmt.Sprintf("task=%s kind=%s retryCount=%d error=%v", task.ID, task.Kind, task.RetryCount, taskErr)
	options := []string{"RETRY", "SKIP", "STOP", "ABORT", "ESCALATE", "MODIFY"}

	answer, err := e.ask(ctx, errorHandlingSystem, question)
	if err == nil {
		if decision, ok := parseErrorHandling(answer); ok {
			e.record(taskCtx, question, options, answer, false)
			return decision
		}
		e.logger.Printf("unparsable error-handling answer for task %s, using fallback", task.ID)
	} else {
		e.logger.Printf("provider unavailable for task %s (%v), using fallback", task.ID, err)
	}

	decision := e.fallbackErrorHandling(task.RetryCount)
	e.record(taskCtx, question, options, fmt.Sprintf("ACTION: %s (fallback)", decision.Action), true)
	return decision
}

// DecideAction assesses a proposed action before it runs. It never returns
// an error; the fallback fails closed.
func (e *DecisionEngine) DecideAction(ctx context.Context, task *Task, description string) ActionDecision {
	question := fmt.Sprintf(
		"The agent is about to run task %q (kind %s): %s. Should it proceed, and at what risk?",
		task.Name, task.Kind, description,
	)
	taskCtx := fmt.Sprintf("task=%s kind=%s action=%s", task.ID, task.Kind, description)
	options := []string{"YES", "NO"}

	answer, err := e.ask(ctx, actionAssessmentSystem, question)
	if err == nil {
		if decision, ok := parseActionDecision(answer); ok {
			e.record(taskCtx, question, options, answer, false)
			return decision
		}
		e.logger.Printf("unparsable risk answer for task %s, failing closed", task.ID)
	} else {
		e.logger.Printf("provider unavailable for task %s (%v), failing closed", task.ID, err)
	}

	decision := ActionDecision{
		ShouldProceed: false,
		RiskLevel:     RiskHigh,
		Reasoning:     "risk assessment unavailable, refusing to proceed",
		Timestamp:     time.Now(),
	}
	e.record(taskCtx, question, options, "DECISION: NO (fallback)", true)
	return decision
}

func (e *DecisionEngine) ask(ctx context.Context, system, question string) (string, error) {
	if e.provider == nil {
		return "", ai.ErrUnavailable
	}
	resp, err := e.provider.Ask(ctx, system, question)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// fallbackErrorHandling is the deterministic policy: retry with
// exponential backoff until the retry budget is spent, then stop.
func (e *DecisionEngine) fallbackErrorHandling(retryCount int) ErrorHandlingDecision {
	if retryCount < e.maxRetries {
		return ErrorHandlingDecision{
			Action:       ActionRetry,
			Reason:       "fallback policy: retry with backoff",
			RetryDelayMs: (1 << retryCount) * 1000,
			Timestamp:    time.Now(),
		}
	}
	return ErrorHandlingDecision{
		Action:    ActionStop,
		Reason:    "fallback policy: retry budget exhausted",
		Timestamp: time.Now(),
	}
}

func (e *DecisionEngine) record(taskCtx, question string, options []string, answer string, fallback bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := DecisionRecord{
		Context:   taskCtx,
		Question:  question,
		Options:   options,
		Answer:    answer,
		Fallback:  fallback,
		Timestamp: time.Now(),
	}
	if e.stateFn != nil {
		rec.AgentState = e.stateFn()
	}
	e.history = append(e.history, rec)
	if len(e.history) > e.maxHistory {
		e.history = e.history[len(e.history)-e.maxHistory:]
	}
}

// RecentDecisions returns up to n most recent records, newest last.
func (e *DecisionEngine) RecentDecisions(n int) []DecisionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	if n <= 0 || n > len(e.history) {
		n = len(e.history)
	}
	out := make([]DecisionRecord, n)
	copy(out, e.history[len(e.history)-n:])
	return out
}

// parseErrorHandling reads the labeled-line answer format. The ACTION line
// is required; REASON and DELAY_MS are optional.
func parseErrorHandling(answer string) (ErrorHandlingDecision, bool) {
	decision := ErrorHandlingDecision{Timestamp: time.Now()}
	found := false
	for _, line := range strings.Split(answer, "\n") {
		label, value, ok := splitDecisionLine(line)
		if !ok {
			continue
		}
		switch label {
		case "ACTION":
			switch ErrorAction(strings.ToUpper(value)) {
			case ActionRetry, ActionSkip, ActionStop, ActionAbort, ActionEscalate, ActionModify:
				decision.Action = ErrorAction(strings.ToUpper(value))
				found = true
			}
		case "REASON":
			decision.Reason = value
		case "DELAY_MS":
			if ms, err := strconv.ParseInt(value, 10, 64); err == nil && ms >= 0 {
				decision.RetryDelayMs = ms
			}
		}
	}
	if !found {
		return ErrorHandlingDecision{}, false
	}
	return decision, true
}

// parseActionDecision reads the DECISION/RISK/REASONING answer format. The
// DECISION line is required; RISK defaults to MEDIUM when absent.
func parseActionDecision(answer string) (ActionDecision, bool) {
	decision := ActionDecision{RiskLevel: RiskMedium, Timestamp: time.Now()}
	found := false
	for _, line := range strings.Split(answer, "\n") {
		label, value, ok := splitDecisionLine(line)
		if !ok {
			continue
		}
		switch label {
		case "DECISION":
			switch strings.ToUpper(value) {
			case "YES":
				decision.ShouldProceed = true
				found = true
			case "NO":
				decision.ShouldProceed = false
				found = true
			}
		case "RISK":
			switch RiskLevel(strings.ToUpper(value)) {
			case RiskLow, RiskMedium, RiskHigh:
				decision.RiskLevel = RiskLevel(strings.ToUpper(value))
			}
		case "REASONING":
			decision.Reasoning = value
		}
	}
	if !found {
		return ActionDecision{}, false
	}
	return decision, true
}

func splitDecisionLine(line string) (label, value string, ok bool) {
	line = strings.TrimSpace(line)
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", "", false
	}
	label = strings.TrimSpace(line[:idx])
	for _, r := range label {
		if (r < 'A' || r > 'Z') && r != '_' {
			return "", "", false
		}
	}
	return label, strings.TrimSpace(line[idx+1:]), true
}
