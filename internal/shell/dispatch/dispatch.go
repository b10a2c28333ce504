// Package dispatch maps command verbs to handlers.
//
// Every verb is one entry in a table of Commands sharing the Handler
// interface. The Dispatcher resolves the verb, checks the argument count,
// runs the preflight checks for mutating commands and turns the outcome
// into a process exit code.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/artpar/stackctl/internal/shell/console"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
)

var (
	ErrUnknownCommand   = errors.New("unknown command")
	ErrUsage            = errors.New("invalid arguments")
	ErrDuplicateCommand = errors.New("command registered twice")
)

// Handler runs one command with its positional arguments.
type Handler interface {
	Run(ctx context.Context, args []string) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, args []string) error

// Run calls f.
func (f HandlerFunc) Run(ctx context.Context, args []string) error {
	return f(ctx, args)
}

// Preflight verifies the host before a mutating command runs.
type Preflight interface {
	Check(ctx context.Context) error
}

// Command is one row of the dispatch table.
type Command struct {
	Name     string // verb as typed, e.g. "prod:deploy"
	Args     string // argument synopsis for help, e.g. "[version]"
	Summary  string
	Group    string // help section
	MaxArgs  int
	Mutating bool // runs preflight first
	Handler  Handler
}

// Dispatcher routes verbs to commands.
type Dispatcher struct {
	program   string
	commands  []Command
	index     map[string]int
	preflight Preflight
	console   *console.Console
}

// New builds a Dispatcher from a command table. Names must be unique.
func New(program string, cons *console.Console, preflight Preflight, commands []Command) (*Dispatcher, error) {
	d := &Dispatcher{
		program:   program,
		commands:  commands,
		index:     make(map[string]int, len(commands)),
		preflight: preflight,
		console:   cons,
	}
	for i, c := range commands {
		if _, ok := d.index[c.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCommand, c.Name)
		}
		d.index[c.Name] = i
	}
	return d, nil
}

// Lookup returns the command registered under name.
func (d *Dispatcher) Lookup(name string) (Command, bool) {
	i, ok := d.index[name]
	if !ok {
		return Command{}, false
	}
	return d.commands[i], true
}

// Run executes args[0] with the remaining arguments and returns the exit
// code. No arguments, "help", "-h" and "--help" print usage and succeed.
func (d *Dispatcher) Run(ctx context.Context, args []string) int {
	if len(args) == 0 || isHelp(args[0]) {
		d.Usage(d.console.Out())
		return ExitOK
	}

	if err := d.Dispatch(ctx, args[0], args[1:]); err != nil {
		d.console.Errorf("%v", err)
		if errors.Is(err, ErrUnknownCommand) || errors.Is(err, ErrUsage) {
			fmt.Fprintln(d.console.Err())
			d.Usage(d.console.Err())
		}
		return ExitFailure
	}
	return ExitOK
}

// Dispatch runs one command.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args []string) error {
	cmd, ok := d.Lookup(name)
	if !ok {
		if s := d.suggest(name); s != "" {
			return fmt.Errorf("%w %q (did you mean %q?)", ErrUnknownCommand, name, s)
		}
		return fmt.Errorf("%w %q", ErrUnknownCommand, name)
	}

	if len(args) > cmd.MaxArgs {
		return fmt.Errorf("%w: %s takes at most %d argument(s), got %d", ErrUsage, cmd.Name, cmd.MaxArgs, len(args))
	}

	if cmd.Mutating && d.preflight != nil {
		if err := d.preflight.Check(ctx); err != nil {
			return fmt.Errorf("preflight: %w", err)
		}
	}

	return cmd.Handler.Run(ctx, args)
}

// Usage writes the command listing grouped by section.
func (d *Dispatcher) Usage(w io.Writer) {
	fmt.Fprintf(w, "Usage:\n  %s [flags] <command> [args]\n", d.program)

	var groups []string
	byGroup := map[string][]Command{}
	for _, c := range d.commands {
		if _, ok := byGroup[c.Group]; !ok {
			groups = append(groups, c.Group)
		}
		byGroup[c.Group] = append(byGroup[c.Group], c)
	}

	for _, g := range groups {
		title := g
		if title == "" {
			title = "Commands"
		}
		fmt.Fprintf(w, "\n%s:\n", title)
		tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
		for _, c := range byGroup[g] {
			fmt.Fprintf(tw, "  %s\t%s\n", strings.TrimSpace(c.Name+" "+c.Args), c.Summary)
		}
		tw.Flush()
	}
}

func isHelp(arg string) bool {
	return arg == "help" || arg == "-h" || arg == "--help"
}

// suggest returns the closest registered name within edit distance 2.
func (d *Dispatcher) suggest(name string) string {
	best, bestDist := "", 3
	for _, c := range d.commands {
		if dist := levenshtein(name, c.Name); dist < bestDist {
			best, bestDist = c.Name, dist
		}
	}
	return best
}

func levenshtein(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
