package confirm

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInteractive_Answers(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"yes\n", true},
		{"YES\n", true},
		{"  Y  \n", true},
		{"n\n", false},
		{"no\n", false},
		{"\n", false},
		{"maybe\n", false},
		{"", false},   // EOF
		{"y", true},   // no trailing newline
		{"sure\n", false},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			p := NewInteractive(strings.NewReader(tt.input), &out)

			got, err := p.Confirm(context.Background(), "Remove stack?")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Remove stack? [y/N]: ")
		})
	}
}

func TestInteractive_Cancelled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := NewInteractive(r, io.Discard).Confirm(ctx, "Remove stack?")
	assert.False(t, got)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnswer(t *testing.T) {
	yes, err := AutoApprove.Confirm(context.Background(), "q")
	require.NoError(t, err)
	assert.True(t, yes)

	no, err := Deny.Confirm(context.Background(), "q")
	require.NoError(t, err)
	assert.False(t, no)
}

func TestForTerminal(t *testing.T) {
	assert.Equal(t, AutoApprove, ForTerminal(nil, io.Discard, true))
	assert.IsType(t, &NonInteractive{}, ForTerminal(nil, io.Discard, false))

	f, err := os.CreateTemp(t.TempDir(), "stdin")
	require.NoError(t, err)
	defer f.Close()
	assert.IsType(t, &NonInteractive{}, ForTerminal(f, io.Discard, false), "regular files are not terminals")
}

func TestNonInteractive_HintsAtYesFlag(t *testing.T) {
	var out bytes.Buffer
	p := ForTerminal(nil, &out, false)

	ok, err := p.Confirm(context.Background(), "Remove stack nutrition-bot and all its services?")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, out.String(), "Remove stack nutrition-bot")
	assert.Contains(t, out.String(), "pass --yes to approve")
}
