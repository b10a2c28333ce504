// Package confirm provides the confirmation source used by destructive
// commands. Every implementation defaults to "no".
package confirm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter asks the operator a yes/no question.
type Prompter interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// =============================================================================
// Interactive
// =============================================================================

// Interactive reads the answer from a line-oriented reader. Anything but
// an explicit "y" or "yes" is a no, including EOF.
type Interactive struct {
	in  *bufio.Reader
	out io.Writer
}

// NewInteractive creates a prompter reading from in and asking on out.
func NewInteractive(in io.Reader, out io.Writer) *Interactive {
	return &Interactive{in: bufio.NewReader(in), out: out}
}

// Confirm prints question with a [y/N] suffix and reads one line.
func (p *Interactive) Confirm(ctx context.Context, question string) (bool, error) {
	fmt.Fprintf(p.out, "%s [y/N]: ", question)

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && a.err != io.EOF {
			return false, fmt.Errorf("reading confirmation: %w", a.err)
		}
		if a.err == io.EOF && a.line == "" {
			fmt.Fprintln(p.out)
		}
		return isYes(a.line), nil
	}
}

func isYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// =============================================================================
// Fixed answers
// =============================================================================

// Answer always returns the same answer without asking.
type Answer bool

// Confirm returns the fixed answer.
func (a Answer) Confirm(ctx context.Context, question string) (bool, error) {
	return bool(a), nil
}

const (
	// AutoApprove answers yes, for --yes in automation.
	AutoApprove = Answer(true)
	// Deny answers no without explanation.
	Deny = Answer(false)
)

// NonInteractive denies every question and says how to approve it instead.
type NonInteractive struct {
	out io.Writer
}

// NewNonInteractive creates a prompter that explains its refusal on out.
func NewNonInteractive(out io.Writer) *NonInteractive {
	return &NonInteractive{out: out}
}

// Confirm prints the hint and returns false.
func (p *NonInteractive) Confirm(ctx context.Context, question string) (bool, error) {
	if p.out != nil {
		fmt.Fprintf(p.out, "%s\nNot confirmed: stdin is not a terminal, pass --yes to approve.\n", question)
	}
	return false, nil
}

// =============================================================================
// Selection
// =============================================================================

// ForTerminal picks the prompter for the current process: AutoApprove when
// assumeYes is set, Interactive when stdin is a terminal, NonInteractive
// otherwise.
func ForTerminal(in *os.File, out io.Writer, assumeYes bool) Prompter {
	if assumeYes {
		return AutoApprove
	}
	if in != nil && term.IsTerminal(int(in.Fd())) {
		return NewInteractive(in, out)
	}
	return NewNonInteractive(out)
}
