package console

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsole_PlainLevels(t *testing.T) {
	var out, errOut bytes.Buffer
	c := New(&out, &errOut, true)

	c.Infof("deploying %s", "1.0.0")
	c.Successf("done")
	c.Warnf("swarm already active")
	c.Errorf("failed: %v", "boom")

	assert.Equal(t, "INFO: deploying 1.0.0\nOK: done\n", out.String())
	assert.Equal(t, "WARN: swarm already active\nERROR: failed: boom\n", errOut.String())
}

func TestConsole_StyledIncludesMessage(t *testing.T) {
	var out, errOut bytes.Buffer
	c := New(&out, &errOut, false)

	c.Successf("stack deployed")
	c.Warnf("nothing to do")

	assert.Contains(t, out.String(), "stack deployed")
	assert.Contains(t, errOut.String(), "nothing to do")
}

func TestConsole_Table(t *testing.T) {
	var out bytes.Buffer
	c := New(&out, &out, true)

	c.Table([]string{"SERVICE", "REPLICAS"}, [][]string{
		{"bot_bot", "3/3"},
		{"bot_redis", "1/1"},
	})

	s := out.String()
	assert.Contains(t, s, "SERVICE")
	assert.Contains(t, s, "bot_bot")
	assert.Contains(t, s, "3/3")
	assert.Contains(t, s, "bot_redis")
}

func TestConsole_Title(t *testing.T) {
	var out bytes.Buffer
	New(&out, &out, true).Title("Services")
	assert.Equal(t, "== Services ==\n", out.String())
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "OK", LevelSuccess.String())
	assert.Equal(t, "WARN", LevelWarning.String())
	assert.Equal(t, "ERROR", LevelError.String())
}
