package messages

import (
	"github.com/go-logr/logr"
)

// Router dispatches raw script messages. Nil handlers fall back to logging
// and a nil Journal to NopLogger.
type Router struct {
	OnMessage func(Message)
	OnError   func(error)
	Log       logr.Logger
	Journal   Logger
}

// Handle decodes raw and dispatches it. Undecodable messages are logged
// and otherwise ignored.
func (r *Router) Handle(pid int, raw string) {
	m, err := Parse(raw)
	if err != nil {
		r.Log.Error(err, "Ignoring malformed script message", "raw", raw)
		return
	}

	r.journal().LogMessage(pid, m)

	switch m.Type {
	case TypeSend:
		if r.OnMessage != nil {
			r.OnMessage(m)
			return
		}
		r.Log.Info("message", "pid", pid, "payload", m.Text())
	case TypeError:
		scriptErr := m.AsError()
		if r.OnError != nil {
			r.OnError(scriptErr)
			return
		}
		r.Log.Error(scriptErr, "Script raised an exception", "pid", pid, "stack", scriptErr.Stack)
	case TypeLog:
		if m.Level == "error" {
			r.Log.Error(nil, m.Text(), "pid", pid)
			return
		}
		r.Log.Info(m.Text(), "pid", pid, "level", m.Level)
	default:
		r.Log.V(1).Info("Unhandled script message", "pid", pid, "type", m.Type)
	}
}

func (r *Router) journal() Logger {
	if r.Journal == nil {
		return NopLogger{}
	}
	return r.Journal
}
