package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// =============================================================================
// Process Runner
// =============================================================================

// Invocation is one external command.
type Invocation struct {
	Name    string
	Args    []string
	Streams Streams
}

// String renders the command line for logs, without stdin content.
func (i Invocation) String() string {
	return strings.TrimSpace(i.Name + " " + strings.Join(i.Args, " "))
}

// Runner executes engine binaries. ExecRunner is the production
// implementation; tests substitute their own.
type Runner interface {
	// LookPath resolves a binary on PATH.
	LookPath(name string) (string, error)

	// Output runs a command and returns its stdout. Stderr is folded into
	// the returned error.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)

	// Stream runs a command with the given streams attached.
	Stream(ctx context.Context, inv Invocation) error
}

// ExecRunner implements Runner using os/exec.
type ExecRunner struct{}

// NewExecRunner creates a Runner for real processes.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// LookPath resolves a binary on PATH.
func (r *ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Output runs a command synchronously and returns its stdout.
func (r *ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}

	return stdout.Bytes(), nil
}

// Stream runs a command with attached streams and waits for it to exit.
func (r *ExecRunner) Stream(ctx context.Context, inv Invocation) error {
	cmd := exec.CommandContext(ctx, inv.Name, inv.Args...)
	cmd.Stdin = inv.Streams.In
	cmd.Stdout = writerOrDiscard(inv.Streams.Out)
	cmd.Stderr = writerOrDiscard(inv.Streams.Err)
	return cmd.Run()
}

// ExitCode extracts the exit status of a failed process, or -1.
func ExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
