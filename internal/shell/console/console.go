// Package console prints leveled, user-facing messages and tables.
//
// Diagnostics go through log/slog; the console is what an operator reads.
// Informational and success lines go to the output stream, warnings and
// errors to the error stream.
package console

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Palette
var (
	ColorInfo    = lipgloss.Color("#20B9B4")
	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#2C4A54")
)

// Level is the severity of a console message.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "OK"
	case LevelWarning:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Console writes leveled messages. The zero value is not usable; call New.
type Console struct {
	out   io.Writer
	err   io.Writer
	plain bool

	mu     sync.Mutex
	styles map[Level]lipgloss.Style
	header lipgloss.Style
	title  lipgloss.Style
}

// New creates a Console. With plain set, output carries level prefixes
// and no color, suitable for logs and pipes.
func New(out, errOut io.Writer, plain bool) *Console {
	return &Console{
		out:   out,
		err:   errOut,
		plain: plain,
		styles: map[Level]lipgloss.Style{
			LevelInfo:    lipgloss.NewStyle().Foreground(ColorInfo),
			LevelSuccess: lipgloss.NewStyle().Foreground(ColorSuccess),
			LevelWarning: lipgloss.NewStyle().Foreground(ColorWarning),
			LevelError:   lipgloss.NewStyle().Foreground(ColorError).Bold(true),
		},
		header: lipgloss.NewStyle().Bold(true).Foreground(ColorInfo).Padding(0, 1),
		title:  lipgloss.NewStyle().Bold(true).Foreground(ColorSuccess),
	}
}

// Out is the stream for regular output (command output, tables).
func (c *Console) Out() io.Writer { return c.out }

// Err is the stream for warnings and errors.
func (c *Console) Err() io.Writer { return c.err }

// Infof prints an informational message.
func (c *Console) Infof(format string, args ...any) {
	c.print(LevelInfo, fmt.Sprintf(format, args...))
}

// Successf prints a success message.
func (c *Console) Successf(format string, args ...any) {
	c.print(LevelSuccess, fmt.Sprintf(format, args...))
}

// Warnf prints a warning.
func (c *Console) Warnf(format string, args ...any) {
	c.print(LevelWarning, fmt.Sprintf(format, args...))
}

// Errorf prints an error.
func (c *Console) Errorf(format string, args ...any) {
	c.print(LevelError, fmt.Sprintf(format, args...))
}

// Title prints a section heading.
func (c *Console) Title(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.plain {
		fmt.Fprintf(c.out, "== %s ==\n", text)
		return
	}
	fmt.Fprintln(c.out, c.title.Render(text))
}

// Table prints rows under the given headers.
func (c *Console) Table(headers []string, rows [][]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := table.New().
		Headers(headers...).
		Rows(rows...)

	if c.plain {
		t = t.Border(lipgloss.HiddenBorder()).
			BorderTop(false).BorderBottom(false).BorderLeft(false).BorderRight(false).
			BorderHeader(false).BorderColumn(false).
			StyleFunc(func(row, col int) lipgloss.Style {
				return lipgloss.NewStyle().PaddingRight(2)
			})
	} else {
		t = t.Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(ColorMuted)).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return c.header
				}
				return lipgloss.NewStyle().Padding(0, 1)
			})
	}

	fmt.Fprintln(c.out, t.String())
}

func (c *Console) print(level Level, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.out
	if level >= LevelWarning {
		w = c.err
	}

	if c.plain {
		fmt.Fprintf(w, "%s: %s\n", level, msg)
		return
	}
	fmt.Fprintf(w, "%s %s\n", c.styles[level].Render(icon(level)), msg)
}

func icon(level Level) string {
	switch level {
	case LevelSuccess:
		return "✓"
	case LevelWarning:
		return "⚠"
	case LevelError:
		return "✗"
	default:
		return "•"
	}
}
