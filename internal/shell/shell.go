// Package shell provides the command-execution capability: running shell
// commands with a timeout, an allow list and a block list, capturing exit
// code and output streams.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

var (
	// ErrBlocked is returned when a command matches the block list or is
	// absent from a non-empty allow list.
	ErrBlocked = errors.New("command blocked by policy")

	// ErrTimeout is returned when a command exceeds its deadline.
	ErrTimeout = errors.New("command timed out")
)

// Result holds the outcome of a command execution.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes shell commands under a fixed policy.
type Runner struct {
	Shell     string   // interpreter, default "/bin/sh"
	WorkDir   string   // working directory, default inherited
	AllowList []string // if non-empty, the command's first word must match one entry
	BlockList []string // commands whose first word matches are always rejected
}

// NewRunner creates a Runner with the given allow and block lists.
func NewRunner(allowList, blockList []string) *Runner {
	return &Runner{
		Shell:     "/bin/sh",
		AllowList: allowList,
		BlockList: blockList,
	}
}

// Run executes command through the shell with the given timeout. A zero
// timeout means no deadline beyond ctx. The returned Result is non-nil
// whenever the command actually ran, including non-zero exits.
func (r *Runner) Run(ctx context.Context, command string, timeout time.Duration) (*Result, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("command is empty")
	}
	if err := r.checkPolicy(command); err != nil {
		return nil, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sh := r.Shell
	if sh == "" {
		sh = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, sh, "-c", command)
	if r.WorkDir != "" {
		cmd.Dir = r.WorkDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return res, fmt.Errorf("%w after %s: %s", ErrTimeout, res.Duration.Round(time.Millisecond), command)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, fmt.Errorf("run command: %w", err)
	}
	return res, nil
}

// checkPolicy enforces the allow and block lists against the command's
// first word (the program name).
func (r *Runner) checkPolicy(command string) error {
	program := firstWord(command)
	for _, blocked := range r.BlockList {
		if program == blocked {
			return fmt.Errorf("%w: %s", ErrBlocked, program)
		}
	}
	if len(r.AllowList) == 0 {
		return nil
	}
	for _, allowed := range r.AllowList {
		if program == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s not in allow list", ErrBlocked, program)
}

func firstWord(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
