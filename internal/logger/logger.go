// Package logger builds the process-wide tagged console logger. Progress
// goes to stdout, errors to stderr; every component logs under its own
// name, which is rendered as the line's tag.
package logger

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	verbosityFlagName      = "verbosity"
	verbosityFlagShortName = "v"

	clearScreen = "\x1b[2J\x1b[3J\x1b[H"
)

var (
	tagStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	debugStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
)

type Logger struct {
	logr.Logger
	atomicLevel zap.AtomicLevel
	out         io.Writer
	terminal    bool
	flush       func()
}

// New returns a logger named name writing to the process stdout/stderr.
func New(name string) *Logger {
	return NewWithWriters(name, os.Stdout, os.Stderr, isatty.IsTerminal(os.Stdout.Fd()))
}

// NewWithWriters returns a logger writing progress to out and errors to
// errOut. terminal enables console clearing.
func NewWithWriters(name string, out, errOut io.Writer, terminal bool) *Logger {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	encoderConfig.EncodeLevel = levelEncoder
	encoderConfig.EncodeName = nameEncoder
	encoderConfig.CallerKey = ""
	encoderConfig.StacktraceKey = ""
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	atomicLevel := zap.NewAtomicLevelAt(zapcore.InfoLevel)

	below := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return atomicLevel.Enabled(l) && l < zapcore.ErrorLevel
	})
	above := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return atomicLevel.Enabled(l) && l >= zapcore.ErrorLevel
	})

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.AddSync(out), below),
		zapcore.NewCore(encoder, zapcore.AddSync(errOut), above),
	)
	zapLogger := zap.New(core)

	return &Logger{
		Logger:      zapr.NewLogger(zapLogger).WithName(name),
		atomicLevel: atomicLevel,
		out:         out,
		terminal:    terminal,
		flush: func() {
			_ = zapLogger.Sync()
		},
	}
}

func (l *Logger) SetLevel(level zapcore.Level) {
	l.atomicLevel.SetLevel(level)
}

func (l *Logger) Flush() {
	l.flush()
}

// ClearConsole wipes the terminal before a rebuild. It does nothing when
// stdout is not a terminal so redirected logs stay intact.
func (l *Logger) ClearConsole() {
	if !l.terminal {
		return
	}
	_, _ = io.WriteString(l.out, clearScreen)
}

// AddLevelFlag registers -v/--verbosity on fs.
func (l *Logger) AddLevelFlag(fs *pflag.FlagSet) {
	levelVal := NewLevelFlagValue(func(level zapcore.Level) {
		l.SetLevel(level)
	})
	fs.VarP(&levelVal, verbosityFlagName, verbosityFlagShortName, "Logging verbosity level (e.g. -v=debug). Can be one of 'debug', 'info', or 'error', or any positive integer for increasing debug verbosity.")
}

func levelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	var style lipgloss.Style
	switch {
	case level < zapcore.InfoLevel:
		style = debugStyle
	case level == zapcore.InfoLevel:
		style = infoStyle
	case level == zapcore.WarnLevel:
		style = warnStyle
	default:
		style = errorStyle
	}
	enc.AppendString(style.Render(level.CapitalString()))
}

func nameEncoder(name string, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(tagStyle.Render("[" + name + "]"))
}
