// Package fake provides in-memory implementations of the instrument ports
// that record every call, for use in tests.
package fake

import (
	"errors"
	"sync"

	"github.com/nixlim/frida-reload/internal/config"
	"github.com/nixlim/frida-reload/internal/instrument"
)

type Process struct {
	ProcName string
	ProcPID  int
}

func (p Process) Name() string { return p.ProcName }
func (p Process) PID() int     { return p.ProcPID }

// Manager returns Dev for every source kind, or Err.
type Manager struct {
	Dev   *Device
	Err   error
	Calls int
}

func (m *Manager) Device(config.SourceKind) (instrument.Device, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Dev, nil
}

// Device is a scripted device. SpawnFunc, when set, overrides SpawnPID and
// SpawnErr and runs after the spawn is counted.
type Device struct {
	mu sync.Mutex

	Processes    []instrument.Process
	EnumerateErr error
	SpawnPID     int
	SpawnErr     error
	SpawnFunc    func(program string) (int, error)
	AttachErr    error

	// AttachFailures limits AttachErr to the first n attach calls; zero
	// means every call fails.
	AttachFailures int

	EnumerateCalls int
	SpawnCalls     int
	AttachCalls    int
	Spawned        []string
	Sessions       []*Session
}

func (d *Device) Name() string { return "fake" }

func (d *Device) EnumerateProcesses() ([]instrument.Process, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.EnumerateCalls++
	if d.EnumerateErr != nil {
		return nil, d.EnumerateErr
	}
	return append([]instrument.Process(nil), d.Processes...), nil
}

func (d *Device) Spawn(program string) (int, error) {
	d.mu.Lock()
	d.SpawnCalls++
	d.Spawned = append(d.Spawned, program)
	fn, pid, err := d.SpawnFunc, d.SpawnPID, d.SpawnErr
	d.mu.Unlock()
	if fn != nil {
		return fn(program)
	}
	return pid, err
}

func (d *Device) Attach(pid int, spawned bool) (instrument.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.AttachCalls++
	if d.AttachErr != nil && (d.AttachFailures == 0 || d.AttachCalls <= d.AttachFailures) {
		return nil, d.AttachErr
	}
	s := NewSession(pid, spawned)
	d.Sessions = append(d.Sessions, s)
	return s, nil
}

// Session records scripts and resume/detach calls.
type Session struct {
	mu sync.Mutex

	pid         int
	Spawned     bool
	ChildGating bool
	Resumes     int
	Detaches    int
	Scripts     []*Script
	CreateErr   error
	GatingErr   error

	detached  bool
	detachFns []func(instrument.DetachReason)
}

func NewSession(pid int, spawned bool) *Session {
	return &Session{pid: pid, Spawned: spawned}
}

func (s *Session) PID() int { return s.pid }

func (s *Session) WasSpawned() bool { return s.Spawned }

func (s *Session) EnableChildGating() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GatingErr != nil {
		return s.GatingErr
	}
	s.ChildGating = true
	return nil
}

func (s *Session) CreateScript(source string) (instrument.Script, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return nil, errors.New("session is detached")
	}
	if s.CreateErr != nil {
		return nil, s.CreateErr
	}
	sc := &Script{Source: source}
	s.Scripts = append(s.Scripts, sc)
	return sc, nil
}

func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Resumes++
	return nil
}

func (s *Session) IsDetached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detached
}

func (s *Session) OnDetached(fn func(instrument.DetachReason)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachFns = append(s.detachFns, fn)
}

func (s *Session) Detach() error {
	s.mu.Lock()
	s.Detaches++
	s.mu.Unlock()
	s.SimulateDetach("application-requested")
	return nil
}

// SimulateDetach marks the session detached and fires the detach callbacks
// once.
func (s *Session) SimulateDetach(reason instrument.DetachReason) {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return
	}
	s.detached = true
	fns := append([]func(instrument.DetachReason){}, s.detachFns...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(reason)
	}
}

// MarkDetached flips the detached state without firing callbacks, as when
// the runtime has not delivered the signal yet.
func (s *Session) MarkDetached() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detached = true
}

// ScriptList returns a snapshot of the created scripts.
func (s *Session) ScriptList() []*Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Script(nil), s.Scripts...)
}

// Script records load/unload calls.
type Script struct {
	mu sync.Mutex

	Source  string
	Loads   int
	Unloads int
	LoadErr error
	Destroy bool
	onMsg   func(string)
}

func (sc *Script) Load() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.Loads++
	return sc.LoadErr
}

func (sc *Script) Unload() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.Unloads++
	sc.Destroy = true
	return nil
}

func (sc *Script) IsDestroyed() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Destroy
}

func (sc *Script) OnMessage(fn func(string)) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.onMsg = fn
}

// Emit delivers raw as if the script had posted it.
func (sc *Script) Emit(raw string) {
	sc.mu.Lock()
	fn := sc.onMsg
	sc.mu.Unlock()
	if fn != nil {
		fn(raw)
	}
}

// Counts returns the load and unload counts.
func (sc *Script) Counts() (loads, unloads int) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Loads, sc.Unloads
}
