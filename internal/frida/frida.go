// Package frida adapts frida-go to the instrument ports.
package frida

import (
	"fmt"
	"sync"

	"github.com/frida/frida-go/frida"

	"github.com/nixlim/frida-reload/internal/config"
	"github.com/nixlim/frida-reload/internal/instrument"
)

// Manager hands out Frida devices.
type Manager struct {
	mgr *frida.DeviceManager
}

func NewManager() *Manager {
	return &Manager{mgr: frida.NewDeviceManager()}
}

func (m *Manager) Device(kind config.SourceKind) (instrument.Device, error) {
	var (
		dev frida.DeviceInt
		err error
	)
	switch kind {
	case config.SourceLocal:
		dev, err = m.mgr.LocalDevice()
	case config.SourceUSB:
		dev, err = m.mgr.USBDevice()
	default:
		return nil, fmt.Errorf("unsupported device source %q", kind)
	}
	if err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, fmt.Errorf("no %s device connected", kind)
	}
	return &device{dev: dev}, nil
}

// Close releases the device manager.
func (m *Manager) Close() error {
	return m.mgr.Close()
}

type device struct {
	dev frida.DeviceInt
}

func (d *device) Name() string {
	return d.dev.Name()
}

func (d *device) EnumerateProcesses() ([]instrument.Process, error) {
	procs, err := d.dev.EnumerateProcesses(frida.ScopeMinimal)
	if err != nil {
		return nil, err
	}
	out := make([]instrument.Process, 0, len(procs))
	for _, p := range procs {
		out = append(out, p)
	}
	return out, nil
}

func (d *device) Spawn(program string) (int, error) {
	return d.dev.Spawn(program, nil)
}

func (d *device) Attach(pid int, spawned bool) (instrument.Session, error) {
	sess, err := d.dev.Attach(pid, nil)
	if err != nil {
		return nil, err
	}
	return &session{dev: d.dev, sess: sess, pid: pid, spawned: spawned, suspended: spawned}, nil
}

type session struct {
	dev     frida.DeviceInt
	sess    *frida.Session
	pid     int
	spawned bool

	mu        sync.Mutex
	suspended bool
}

func (s *session) PID() int {
	return s.pid
}

func (s *session) WasSpawned() bool {
	return s.spawned
}

func (s *session) EnableChildGating() error {
	return s.sess.EnableChildGating()
}

func (s *session) CreateScript(source string) (instrument.Script, error) {
	sc, err := s.sess.CreateScript(source)
	if err != nil {
		return nil, err
	}
	return &script{sc: sc}, nil
}

func (s *session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.suspended {
		return nil
	}
	if err := s.dev.Resume(s.pid); err != nil {
		return err
	}
	s.suspended = false
	return nil
}

func (s *session) IsDetached() bool {
	return s.sess.IsDetached()
}

func (s *session) OnDetached(fn func(instrument.DetachReason)) {
	var once sync.Once
	s.sess.On("detached", func(reason frida.SessionDetachReason, crash *frida.Crash) {
		once.Do(func() {
			fn(instrument.DetachReason(fmt.Sprint(reason)))
		})
	})
}

func (s *session) Detach() error {
	if s.sess.IsDetached() {
		return nil
	}
	return s.sess.Detach()
}

type script struct {
	sc *frida.Script
}

func (sc *script) Load() error {
	return sc.sc.Load()
}

func (sc *script) Unload() error {
	return sc.sc.Unload()
}

func (sc *script) IsDestroyed() bool {
	return sc.sc.IsDestroyed()
}

func (sc *script) OnMessage(fn func(raw string)) {
	sc.sc.On("message", func(msg string) {
		fn(msg)
	})
}
