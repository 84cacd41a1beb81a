package messages

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Logger records script messages. Implementations must be safe for
// concurrent use.
type Logger interface {
	// LogMessage records a message received from the script running in pid.
	LogMessage(pid int, m Message)
}

// NopLogger discards all messages. It is the default when no message log
// is configured.
type NopLogger struct{}

// LogMessage is a no-op.
func (NopLogger) LogMessage(int, Message) {}

// logEntry is the JSON structure written by FileLogger.
type logEntry struct {
	Timestamp   string          `json:"ts"`
	Type        Type            `json:"type"`
	PID         int             `json:"pid"`
	Level       string          `json:"level,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Description string          `json:"description,omitempty"`
	Stack       string          `json:"stack,omitempty"`
}

// FileLogger writes one JSON object per line (JSONL) to an io.Writer.
type FileLogger struct {
	w  io.Writer
	mu sync.Mutex
}

// NewFileLogger creates a FileLogger that writes to the given writer.
func NewFileLogger(w io.Writer) *FileLogger {
	return &FileLogger{w: w}
}

// LogMessage writes a JSON line for m.
func (l *FileLogger) LogMessage(pid int, m Message) {
	ts := m.Received
	if ts.IsZero() {
		ts = time.Now()
	}

	entry := logEntry{
		Timestamp:   ts.UTC().Format(time.RFC3339Nano),
		Type:        m.Type,
		PID:         pid,
		Level:       m.Level,
		Payload:     m.Payload,
		Description: m.Description,
		Stack:       m.Stack,
	}

	// Serialisation errors are dropped so a bad payload never stalls the script.
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "%s\n", data)
}
