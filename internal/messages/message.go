// Package messages decodes the messages an injected script posts back to
// the host and routes them to handlers and the optional JSONL message log.
package messages

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type is the kind of message a script posted.
type Type string

const (
	TypeSend  Type = "send"
	TypeError Type = "error"
	TypeLog   Type = "log"
)

// Message is one decoded script message.
type Message struct {
	Type        Type            `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Level       string          `json:"level,omitempty"`
	Description string          `json:"description,omitempty"`
	Stack       string          `json:"stack,omitempty"`
	FileName    string          `json:"fileName,omitempty"`
	LineNumber  int             `json:"lineNumber,omitempty"`
	Column      int             `json:"columnNumber,omitempty"`

	// Received is set by the host, not decoded from the script.
	Received time.Time `json:"-"`
}

// Parse decodes a raw message string as delivered by the instrumentation
// runtime.
func Parse(raw string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Message{}, fmt.Errorf("decoding script message: %w", err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("decoding script message: missing type")
	}
	m.Received = time.Now()
	return m, nil
}

// Text returns the payload as a string, unquoting JSON strings.
func (m Message) Text() string {
	if len(m.Payload) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Payload, &s); err == nil {
		return s
	}
	return string(m.Payload)
}

// ScriptError is an exception raised inside the injected script.
type ScriptError struct {
	Description string
	Stack       string
	FileName    string
	Line        int
	Column      int
}

func (e *ScriptError) Error() string {
	if e.FileName != "" {
		return fmt.Sprintf("script error at %s:%d:%d: %s", e.FileName, e.Line, e.Column, e.Description)
	}
	return "script error: " + e.Description
}

// AsError converts an error message into a ScriptError. It returns nil for
// any other message type.
func (m Message) AsError() *ScriptError {
	if m.Type != TypeError {
		return nil
	}
	return &ScriptError{
		Description: m.Description,
		Stack:       m.Stack,
		FileName:    m.FileName,
		Line:        m.LineNumber,
		Column:      m.Column,
	}
}
