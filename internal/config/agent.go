// Package config holds the agent runtime configuration: concurrency caps,
// timeouts, trigger definitions, capability toggles and provider settings.
// A Config value is loaded once and passed explicitly into each component;
// runtime changes go through AgentOrchestrator.Reconfigure.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode controls how much autonomy the agent has.
type Mode string

const (
	ModeInteractive Mode = "interactive"
	ModeAutonomous  Mode = "autonomous"
	ModeSupervised  Mode = "supervised"
	ModeManual      Mode = "manual"
)

// TriggerType classifies monitoring triggers.
type TriggerType string

const (
	TriggerFileChange        TriggerType = "file_change"
	TriggerProcessEvent      TriggerType = "process_event"
	TriggerTimeBased         TriggerType = "time_based"
	TriggerErrorDetected     TriggerType = "error_detected"
	TriggerThresholdExceeded TriggerType = "threshold_exceeded"
	TriggerExternalAPI       TriggerType = "external_api"
	TriggerUserDefined       TriggerType = "user_defined"
)

// Duration wraps time.Duration so YAML values like "30s" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Trigger defines one monitoring trigger. Name is the unique key for
// cooldown tracking.
type Trigger struct {
	Name    string      `yaml:"name"`
	Type    TriggerType `yaml:"type"`
	Enabled bool        `yaml:"enabled"`

	// Type-specific fields.
	Path      string  `yaml:"path,omitempty"`      // file_change: file or directory to watch
	Pattern   string  `yaml:"pattern,omitempty"`   // file_change: glob matched against changed file names
	Schedule  string  `yaml:"schedule,omitempty"`  // time_based: cron expression
	Metric    string  `yaml:"metric,omitempty"`    // threshold_exceeded: metric name
	Threshold float64 `yaml:"threshold,omitempty"` // threshold_exceeded: fire when metric >= threshold

	// What to do on fire.
	Action  string            `yaml:"action,omitempty"`  // task kind to create (defaults to shell_command)
	Command string            `yaml:"command,omitempty"` // command or prompt for the created task
	Cond    map[string]string `yaml:"condition,omitempty"`

	CooldownSeconds int `yaml:"cooldownSeconds"`
}

// Cooldown returns the trigger's cooldown as a duration.
func (t Trigger) Cooldown() time.Duration {
	return time.Duration(t.CooldownSeconds) * time.Second
}

// Capabilities toggles what the agent is allowed to do.
type Capabilities struct {
	FileOperations   bool `yaml:"file_operations"`
	CommandExecution bool `yaml:"command_execution"`
	McpTools         bool `yaml:"mcp_tools"`
	WebAccess        bool `yaml:"web_access"`
	CodeGeneration   bool `yaml:"code_generation"`
	SystemMonitoring bool `yaml:"system_monitoring"`
}

// StatePersistence configures snapshot-to-disk behavior.
type StatePersistence struct {
	Enabled         bool     `yaml:"enabled"`
	FilePath        string   `yaml:"filePath"`
	BackupInterval  Duration `yaml:"backupInterval"`
	CompressOldData bool     `yaml:"compressOldData"` // drop terminal tasks older than Retention on restore
	Retention       Duration `yaml:"retention"`
}

// Notifications configures how escalations and aborts are surfaced.
type Notifications struct {
	Desktop    bool   `yaml:"desktop"`
	WebhookURL string `yaml:"webhookUrl,omitempty"`
}

// Provider selects and configures the AI backend.
type Provider struct {
	Kind    string `yaml:"kind"` // "anthropic" or "ollama"
	APIKey  string `yaml:"apiKey,omitempty"`
	BaseURL string `yaml:"baseUrl,omitempty"`
	Model   string `yaml:"model,omitempty"`
}

// Tools configures the MCP tool server subprocess.
type Tools struct {
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
}

// Config is the full agent runtime configuration.
type Config struct {
	Enabled   bool `yaml:"enabled"`
	AutoStart bool `yaml:"autoStart"`
	Mode      Mode `yaml:"mode"`

	MaxConcurrentTasks        int      `yaml:"maxConcurrentTasks"`
	MaxRetries                int      `yaml:"maxRetries"`
	MaxHistoryEntries         int      `yaml:"maxHistoryEntries"`
	TaskTimeout               Duration `yaml:"taskTimeout"`
	MonitoringInterval        Duration `yaml:"monitoringInterval"`
	ShutdownTimeout           Duration `yaml:"shutdownTimeout"`
	MonitoringShutdownTimeout Duration `yaml:"monitoringShutdownTimeout"`

	AllowedCommands []string `yaml:"allowedCommands,omitempty"`
	BlockedCommands []string `yaml:"blockedCommands,omitempty"`

	WatchedDirectories  []string `yaml:"watchedDirectories,omitempty"`
	WatchedFilePatterns []string `yaml:"watchedFilePatterns,omitempty"`
	IgnoredPatterns     []string `yaml:"ignoredPatterns,omitempty"`

	Triggers      []Trigger        `yaml:"triggers,omitempty"`
	Capabilities  Capabilities     `yaml:"capabilities"`
	State         StatePersistence `yaml:"state"`
	Provider      Provider         `yaml:"provider"`
	Tools         Tools            `yaml:"tools"`
	Notifications Notifications    `yaml:"notifications"`

	BackupBeforeWrite bool `yaml:"backupBeforeWrite"`
}

// Default returns a Config with conservative defaults applied.
func Default() *Config {
	return &Config{
		Enabled:                   true,
		Mode:                      ModeSupervised,
		MaxConcurrentTasks:        3,
		MaxRetries:                3,
		MaxHistoryEntries:         100,
		TaskTimeout:               Duration(2 * time.Minute),
		MonitoringInterval:        Duration(10 * time.Second),
		ShutdownTimeout:           Duration(30 * time.Second),
		MonitoringShutdownTimeout: Duration(5 * time.Second),
		BlockedCommands:           []string{"rm", "shutdown", "reboot", "mkfs"},
		Capabilities: Capabilities{
			FileOperations:   true,
			CommandExecution: true,
			SystemMonitoring: true,
		},
		State: StatePersistence{
			Enabled:        true,
			FilePath:       "agent-state.json",
			BackupInterval: Duration(time.Minute),
			Retention:      Duration(24 * time.Hour),
		},
		Provider:          Provider{Kind: "anthropic"},
		Notifications:     Notifications{Desktop: true},
		BackupBeforeWrite: true,
	}
}

// Load reads a YAML config file, layering it over Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the runtime cannot start with.
func (c *Config) Validate() error {
	if c.MaxConcurrentTasks < 1 {
		return fmt.Errorf("maxConcurrentTasks must be >= 1, got %d", c.MaxConcurrentTasks)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must be >= 0, got %d", c.MaxRetries)
	}
	if c.MonitoringInterval.Std() <= 0 {
		return fmt.Errorf("monitoringInterval must be positive")
	}
	switch c.Mode {
	case ModeInteractive, ModeAutonomous, ModeSupervised, ModeManual:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	switch c.Provider.Kind {
	case "anthropic", "ollama", "":
	default:
		return fmt.Errorf("unknown provider kind %q", c.Provider.Kind)
	}
	seen := make(map[string]bool, len(c.Triggers))
	for _, tr := range c.Triggers {
		if tr.Name == "" {
			return fmt.Errorf("trigger with empty name")
		}
		if seen[tr.Name] {
			return fmt.Errorf("duplicate trigger name %q", tr.Name)
		}
		seen[tr.Name] = true
		if tr.CooldownSeconds < 0 {
			return fmt.Errorf("trigger %q: negative cooldown", tr.Name)
		}
		// Must stay in sync with the task kinds the executor dispatches.
		switch tr.Action {
		case "", "shell_command", "ai_analysis", "file_operation", "system":
		default:
			return fmt.Errorf("trigger %q: unknown action %q", tr.Name, tr.Action)
		}
	}
	return nil
}
