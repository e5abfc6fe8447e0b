package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// LocalConfig configures a Local executor.
type LocalConfig struct {
	WorkingDir     string
	DeniedCmds     []string
	DefaultTimeout time.Duration
	MaxOutputBytes int
}

// DefaultLocalConfig returns conservative defaults.
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{
		DeniedCmds: []string{
			"rm -rf /",
			"rm -rf /*",
			"mkfs",
			"dd if=",
			"> /dev/sd",
			"chmod -R 777 /",
			":(){ :|:& };:",
		},
		DefaultTimeout: 30 * time.Second,
		MaxOutputBytes: 100 * 1024,
	}
}

// Local runs commands with sh -c on the host.
type Local struct {
	workingDir     string
	deniedCmds     []string
	defaultTimeout time.Duration
	maxOutputBytes int
}

// NewLocal creates a local executor.
func NewLocal(cfg LocalConfig) *Local {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxOutputBytes == 0 {
		cfg.MaxOutputBytes = 100 * 1024
	}
	return &Local{
		workingDir:     cfg.WorkingDir,
		deniedCmds:     cfg.DeniedCmds,
		defaultTimeout: cfg.DefaultTimeout,
		maxOutputBytes: cfg.MaxOutputBytes,
	}
}

// Result is the outcome of a local command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Output joins stdout and stderr.
func (r *Result) Output() string {
	switch {
	case r.Stderr == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Stderr
	default:
		return r.Stdout + "\n" + r.Stderr
	}
}

// Run executes command and reports its exit status. Only policy
// violations return an error; a failing command is a Result with a
// non-zero ExitCode.
func (l *Local) Run(ctx context.Context, command string) (*Result, error) {
	cmdLower := strings.ToLower(command)
	for _, denied := range l.deniedCmds {
		if strings.Contains(cmdLower, strings.ToLower(denied)) {
			return nil, fmt.Errorf("command blocked by security policy: matches denied pattern %q", denied)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, l.defaultTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	// Grandchildren can hold the output pipes open after sh is killed.
	cmd.WaitDelay = time.Second
	if l.workingDir != "" {
		cmd.Dir = l.workingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &Result{
		Stdout: truncateOutput(stdout.String(), l.maxOutputBytes),
		Stderr: truncateOutput(stderr.String(), l.maxOutputBytes),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.Stderr = err.Error()
			result.ExitCode = -1
		}
	}

	return result, nil
}

// Execute implements Executor.
func (l *Local) Execute(ctx context.Context, command string) string {
	res, err := l.Run(ctx, command)
	if err != nil {
		return "Error: " + err.Error()
	}
	out := res.Output()
	if res.TimedOut {
		out += fmt.Sprintf("\nError: command timed out after %s", l.defaultTimeout)
	}
	return out
}

// truncateOutput truncates output to maxBytes, adding a note if truncated.
func truncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "\n\n[... output truncated ...]"
}
