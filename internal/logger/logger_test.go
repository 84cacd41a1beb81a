package logger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInfoGoesToOutErrorToErrOut(t *testing.T) {
	var out, errOut bytes.Buffer
	log := NewWithWriters("frida-reload", &out, &errOut, false)

	log.Info("Attached", "pid", 42)
	log.Error(errors.New("boom"), "Rebuild failed")
	log.Flush()

	assert.Contains(t, out.String(), "Attached")
	assert.Contains(t, out.String(), "frida-reload")
	assert.NotContains(t, out.String(), "Rebuild failed")

	assert.Contains(t, errOut.String(), "Rebuild failed")
	assert.Contains(t, errOut.String(), "boom")
}

func TestNamedLoggersCarryTag(t *testing.T) {
	var out bytes.Buffer
	log := NewWithWriters("frida-reload", &out, &bytes.Buffer{}, false)

	log.WithName("session").Info("Retrying")
	log.Flush()

	assert.Contains(t, out.String(), "frida-reload.session")
}

func TestDebugHiddenUntilLevelRaised(t *testing.T) {
	var out bytes.Buffer
	log := NewWithWriters("t", &out, &bytes.Buffer{}, false)

	log.V(1).Info("verbose detail")
	log.Flush()
	assert.NotContains(t, out.String(), "verbose detail")

	log.SetLevel(zapcore.DebugLevel)
	log.V(1).Info("verbose detail")
	log.Flush()
	assert.Contains(t, out.String(), "verbose detail")
}

func TestClearConsoleOnlyOnTerminal(t *testing.T) {
	var out bytes.Buffer
	NewWithWriters("t", &out, &bytes.Buffer{}, false).ClearConsole()
	assert.Empty(t, out.String())

	NewWithWriters("t", &out, &bytes.Buffer{}, true).ClearConsole()
	assert.Equal(t, clearScreen, out.String())
}

func TestStringToLevel(t *testing.T) {
	level, err := StringToLevel("debug", zapcore.InfoLevel)
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, level)

	level, err = StringToLevel("3", zapcore.InfoLevel)
	require.NoError(t, err)
	assert.Equal(t, zapcore.Level(-3), level)

	_, err = StringToLevel("loud", zapcore.InfoLevel)
	require.Error(t, err)

	_, err = StringToLevel("0", zapcore.InfoLevel)
	require.Error(t, err)
}

func TestAddLevelFlag(t *testing.T) {
	var out bytes.Buffer
	log := NewWithWriters("t", &out, &bytes.Buffer{}, false)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	log.AddLevelFlag(fs)
	require.NoError(t, fs.Parse([]string{"-v=debug"}))

	log.V(1).Info("now visible")
	log.Flush()
	assert.Contains(t, out.String(), "now visible")
}
