package messages

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Send(t *testing.T) {
	m, err := Parse(`{"type":"send","payload":{"hooked":"open"}}`)
	require.NoError(t, err)
	assert.Equal(t, TypeSend, m.Type)
	assert.JSONEq(t, `{"hooked":"open"}`, string(m.Payload))
	assert.False(t, m.Received.IsZero())
}

func TestParse_Rejects(t *testing.T) {
	_, err := Parse(`not json`)
	require.Error(t, err)

	_, err = Parse(`{"payload":1}`)
	require.Error(t, err)
}

func TestText_UnquotesStrings(t *testing.T) {
	m := Message{Type: TypeLog, Payload: json.RawMessage(`"hello"`)}
	assert.Equal(t, "hello", m.Text())

	m = Message{Type: TypeSend, Payload: json.RawMessage(`[1,2]`)}
	assert.Equal(t, "[1,2]", m.Text())

	assert.Equal(t, "", Message{}.Text())
}

func TestAsError(t *testing.T) {
	m, err := Parse(`{"type":"error","description":"ReferenceError: x is not defined","stack":"at main (/agent.js:3)","fileName":"/agent.js","lineNumber":3,"columnNumber":7}`)
	require.NoError(t, err)

	se := m.AsError()
	require.NotNil(t, se)
	assert.Equal(t, "script error at /agent.js:3:7: ReferenceError: x is not defined", se.Error())
	assert.Equal(t, "at main (/agent.js:3)", se.Stack)

	assert.Nil(t, Message{Type: TypeSend}.AsError())
}

func TestNopLogger_DoesNotPanic(t *testing.T) {
	var l NopLogger
	l.LogMessage(42, Message{Type: TypeSend, Payload: json.RawMessage(`1`)})
}

func TestFileLogger_LogMessage(t *testing.T) {
	var buf bytes.Buffer
	l := NewFileLogger(&buf)

	ts := time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC)
	l.LogMessage(1234, Message{Type: TypeSend, Payload: json.RawMessage(`{"a":1}`), Received: ts})

	var entry logEntry
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
	assert.Equal(t, TypeSend, entry.Type)
	assert.Equal(t, 1234, entry.PID)
	assert.Equal(t, "2026-02-15T10:30:00Z", entry.Timestamp)
	assert.JSONEq(t, `{"a":1}`, string(entry.Payload))
}

func TestFileLogger_OneLinePerMessage(t *testing.T) {
	var buf bytes.Buffer
	l := NewFileLogger(&buf)

	for i := 0; i < 3; i++ {
		l.LogMessage(1, Message{Type: TypeLog, Level: "info", Payload: json.RawMessage(`"x"`)})
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3)
}

type recordingLogger struct {
	pids []int
	msgs []Message
}

func (r *recordingLogger) LogMessage(pid int, m Message) {
	r.pids = append(r.pids, pid)
	r.msgs = append(r.msgs, m)
}

func TestRouter_DispatchesToHandlers(t *testing.T) {
	var (
		sent     []Message
		errs     []error
		recorder = &recordingLogger{}
	)
	r := &Router{
		OnMessage: func(m Message) { sent = append(sent, m) },
		OnError:   func(err error) { errs = append(errs, err) },
		Log:       logr.Discard(),
		Journal:   recorder,
	}

	r.Handle(7, `{"type":"send","payload":"ping"}`)
	r.Handle(7, `{"type":"error","description":"boom"}`)
	r.Handle(7, `{"type":"log","level":"info","payload":"hi"}`)
	r.Handle(7, `garbage`)

	require.Len(t, sent, 1)
	assert.Equal(t, "ping", sent[0].Text())

	require.Len(t, errs, 1)
	var se *ScriptError
	require.ErrorAs(t, errs[0], &se)
	assert.Equal(t, "boom", se.Description)

	assert.Len(t, recorder.msgs, 3)
	assert.Equal(t, []int{7, 7, 7}, recorder.pids)
}

func TestRouter_DefaultsToLogging(t *testing.T) {
	r := &Router{Log: logr.Discard()}

	assert.Equal(t, NopLogger{}, r.journal())
	assert.NotPanics(t, func() {
		r.Handle(1, `{"type":"send","payload":"ping"}`)
		r.Handle(1, `{"type":"error","description":"boom"}`)
		r.Handle(1, `{"type":"log","level":"error","payload":"bad"}`)
		r.Handle(1, `{"type":"weird"}`)
	})

	recorder := &recordingLogger{}
	r.Journal = recorder
	assert.Same(t, recorder, r.journal())
}
