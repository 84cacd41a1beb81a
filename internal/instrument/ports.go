// Package instrument defines the boundary to the dynamic instrumentation
// runtime: devices, processes, sessions and injected scripts.
package instrument

import (
	"github.com/nixlim/frida-reload/internal/config"
)

// Manager resolves devices by source kind.
type Manager interface {
	// Device returns the device for kind, or an error when none is connected.
	Device(kind config.SourceKind) (Device, error)
}

// Process is one entry of a device's process list.
type Process interface {
	Name() string
	PID() int
}

// Device enumerates, spawns and attaches to processes.
type Device interface {
	Name() string
	EnumerateProcesses() ([]Process, error)
	// Spawn starts program suspended and returns its pid.
	Spawn(program string) (int, error)
	// Attach opens a session on pid. spawned marks a process this tool
	// started, which must be resumed once the script is loaded.
	Attach(pid int, spawned bool) (Session, error)
}

// DetachReason describes why a session ended.
type DetachReason string

// Session is a live instrumentation connection to one process. Once
// detached it never reattaches.
type Session interface {
	PID() int
	// WasSpawned reports whether this tool started the process.
	WasSpawned() bool
	EnableChildGating() error
	CreateScript(source string) (Script, error)
	// Resume lets a spawned process run. It is a no-op for processes that
	// were already running when attached.
	Resume() error
	IsDetached() bool
	// OnDetached registers fn to run once when the session ends.
	OnDetached(fn func(DetachReason))
	Detach() error
}

// Script is a bundle injected into a session.
type Script interface {
	Load() error
	Unload() error
	IsDestroyed() bool
	// OnMessage registers fn for every raw message the script posts.
	OnMessage(fn func(raw string))
}
