// Package exec provides an interface for command execution.
package exec

import (
	"context"
)

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	// The working directory is set to workDir if non-empty.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// RunEnv executes a command with extra environment variables appended
	// to the current environment, in "KEY=value" form.
	RunEnv(ctx context.Context, workDir string, env []string, name string, args ...string) (output []byte, err error)

	// RunInput executes a command with stdin fed from input.
	// Used for commands like "patch -p1" that read the payload from stdin.
	RunInput(ctx context.Context, workDir string, input []byte, name string, args ...string) (output []byte, err error)

	// LookPath reports whether the named binary is available in PATH.
	LookPath(name string) bool
}
