// Package sandbox runs the shell commands the agent proposes. The
// production executor is a jail container reached over TCP; a local
// executor runs gauntlet success checks and tests.
package sandbox

import "context"

// Executor runs one shell command and returns its combined output.
// Failures (dial errors, timeouts) are reported in the returned text
// rather than as errors so they can be fed back to the model.
type Executor interface {
	Execute(ctx context.Context, command string) string
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, command string) string

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, command string) string { return f(ctx, command) }
