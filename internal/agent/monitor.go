package agent

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"aide/internal/config"
)

// MetricFunc resolves a named metric for threshold triggers. The second
// return is false when the metric is unknown.
type MetricFunc func(name string) (float64, bool)

// TriggerMonitor polls the configured triggers once per monitoring
// interval and submits a task for each trigger that fires. A trigger whose
// condition stays true across polls fires at most once per cooldown
// window.
type TriggerMonitor struct {
	queue    *TaskQueue
	logger   *log.Logger
	interval time.Duration
	triggers []config.Trigger
	metrics  MetricFunc

	schedules map[string]cron.Schedule
	watcher   *fsnotify.Watcher
	patterns  []string
	ignored   []string

	mu          sync.Mutex
	lastFired   map[string]time.Time
	lastPoll    time.Time
	changed     []string
	firedTotal  map[string]int
	lastFailed  int
	manualFires []string
}

// NewTriggerMonitor builds a monitor from the configuration. Invalid cron
// expressions are a configuration error; an unavailable filesystem watcher
// only degrades file_change triggers and is logged, not fatal.
func NewTriggerMonitor(queue *TaskQueue, cfg *config.Config, metrics MetricFunc) (*TriggerMonitor, error) {
	m := &TriggerMonitor{
		queue:      queue,
		logger:     log.New(os.Stderr, "[monitor] ", log.LstdFlags),
		interval:   cfg.MonitoringInterval.Std(),
		triggers:   cfg.Triggers,
		metrics:    metrics,
		schedules:  make(map[string]cron.Schedule),
		patterns:   cfg.WatchedFilePatterns,
		ignored:    cfg.IgnoredPatterns,
		lastFired:  make(map[string]time.Time),
		firedTotal: make(map[string]int),
		lastPoll:   time.Now(),
	}

	wantWatcher := false
	for _, trig := range cfg.Triggers {
		if !trig.Enabled {
			continue
		}
		switch trig.Type {
		case config.TriggerTimeBased:
			sched, err := cron.ParseStandard(trig.Schedule)
			if err != nil {
				return nil, fmt.Errorf("trigger %s: invalid schedule %q: %w", trig.Name, trig.Schedule, err)
			}
			m.schedules[trig.Name] = sched
		case config.TriggerFileChange:
			wantWatcher = true
		}
	}

	if wantWatcher {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			m.logger.Printf("filesystem watcher unavailable, file_change triggers disabled: %v", err)
		} else {
			m.watcher = watcher
			for _, dir := range cfg.WatchedDirectories {
				if err := watcher.Add(dir); err != nil {
					m.logger.Printf("watch %s: %v", dir, err)
				}
			}
			for _, trig := range cfg.Triggers {
				if trig.Enabled && trig.Type == config.TriggerFileChange && trig.Path != "" {
					if err := watcher.Add(trig.Path); err != nil {
						m.logger.Printf("watch %s: %v", trig.Path, err)
					}
				}
			}
		}
	}
	return m, nil
}

// Run polls until ctx is cancelled.
func (m *TriggerMonitor) Run(ctx context.Context) error {
	if m.watcher != nil {
		go m.collectEvents(ctx)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if m.watcher != nil {
				m.watcher.Close()
			}
			return ctx.Err()
		case now := <-ticker.C:
			m.poll(now)
		}
	}
}

// collectEvents buffers watcher events between polls.
func (m *TriggerMonitor) collectEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			m.mu.Lock()
			m.changed = append(m.changed, ev.Name)
			m.mu.Unlock()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Printf("watcher error: %v", err)
		}
	}
}

// Fire marks a trigger as externally signalled; the next poll submits its
// task, subject to the cooldown. This is the path for process_event,
// external_api and user_defined triggers, which have no built-in source.
func (m *TriggerMonitor) Fire(name string) {
	m.mu.Lock()
	m.manualFires = append(m.manualFires, name)
	m.mu.Unlock()
}

// poll evaluates every enabled trigger once at the given instant. It is a
// single step of Run's loop, separated for tests.
func (m *TriggerMonitor) poll(now time.Time) {
	m.mu.Lock()
	changed := m.changed
	m.changed = nil
	manual := m.manualFires
	m.manualFires = nil
	prevPoll := m.lastPoll
	m.lastPoll = now
	m.mu.Unlock()

	manualSet := make(map[string]bool, len(manual))
	for _, name := range manual {
		manualSet[name] = true
	}

	failed := m.queue.Statistics().Failed

	for _, trig := range m.triggers {
		if !trig.Enabled {
			continue
		}
		fired := false
		switch trig.Type {
		case config.TriggerTimeBased:
			sched, ok := m.schedules[trig.Name]
			fired = ok && !sched.Next(prevPoll).After(now)
		case config.TriggerFileChange:
			fired = m.matchChangedFile(trig, changed)
		case config.TriggerThresholdExceeded:
			if m.metrics != nil {
				if value, ok := m.metrics(trig.Metric); ok {
					fired = value >= trig.Threshold
				}
			}
		case config.TriggerErrorDetected:
			fired = failed > m.lastFailed
		default:
			fired = manualSet[trig.Name]
		}
		if manualSet[trig.Name] {
			fired = true
		}
		if fired {
			m.fire(trig, now)
		}
	}

	m.lastFailed = failed
}

// fire submits the trigger's task unless the cooldown window is still
// open.
func (m *TriggerMonitor) fire(trig config.Trigger, now time.Time) {
	m.mu.Lock()
	last, seen := m.lastFired[trig.Name]
	if seen && now.Sub(last) < trig.Cooldown() {
		m.mu.Unlock()
		return
	}
	m.lastFired[trig.Name] = now
	m.firedTotal[trig.Name]++
	m.mu.Unlock()

	task := taskFromTrigger(trig)
	if err := m.queue.Submit(task); err != nil {
		m.logger.Printf("trigger %s: submit failed: %v", trig.Name, err)
		return
	}
	m.logger.Printf("trigger %s fired, submitted task %s", trig.Name, task.ID)
}

func (m *TriggerMonitor) matchChangedFile(trig config.Trigger, changed []string) bool {
	for _, path := range changed {
		if m.isIgnored(path) {
			continue
		}
		if !m.matchesWatchedPatterns(path) {
			continue
		}
		if trig.Path != "" && !strings.HasPrefix(path, trig.Path) {
			continue
		}
		if trig.Pattern != "" {
			if ok, _ := filepath.Match(trig.Pattern, filepath.Base(path)); !ok {
				continue
			}
		}
		return true
	}
	return false
}

// matchesWatchedPatterns applies the global watchedFilePatterns filter.
// An empty list watches everything.
func (m *TriggerMonitor) matchesWatchedPatterns(path string) bool {
	if len(m.patterns) == 0 {
		return true
	}
	base := filepath.Base(path)
	for _, pattern := range m.patterns {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

func (m *TriggerMonitor) isIgnored(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range m.ignored {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		if strings.Contains(path, strings.TrimSuffix(pattern, "/")+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// FiredCount returns how many times the named trigger has fired.
func (m *TriggerMonitor) FiredCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.firedTotal[name]
}

// taskFromTrigger builds the task a firing trigger submits. The trigger's
// action selects the task kind; the command doubles as the prompt for
// analysis tasks.
func taskFromTrigger(trig config.Trigger) *Task {
	kind := TaskKind(trig.Action)
	if trig.Action == "" {
		kind = KindShellCommand
	}

	params := map[string]any{"trigger": trig.Name}
	switch kind {
	case KindShellCommand:
		params["command"] = trig.Command
	case KindAIAnalysis:
		params["prompt"] = trig.Command
	case KindSystem:
		params["action"] = trig.Command
	case KindFileOperation:
		params["file_path"] = trig.Path
		params["content"] = trig.Command
	}
	for k, v := range trig.Cond {
		params[k] = v
	}

	priority := PriorityMedium
	if trig.Type == config.TriggerErrorDetected {
		priority = PriorityHigh
	}
	return NewTask("trigger:"+trig.Name, kind, priority, params)
}
