// Package reload keeps the bundle deployed in a live session: it watches
// every file of the last build and, on change, rebuilds and swaps the
// injected script.
package reload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/nixlim/frida-reload/internal/bundle"
	"github.com/nixlim/frida-reload/internal/instrument"
	"github.com/nixlim/frida-reload/internal/messages"
)

// ErrSessionDetached is returned by Run once the session has ended.
var ErrSessionDetached = errors.New("session detached")

// Builder rebuilds the bundle and serves its text.
type Builder interface {
	// Build returns nil when the build failed.
	Build() bundle.Manifest
	Bundle() (string, error)
	WorkDir() string
}

// Console is cleared before every rebuild.
type Console interface {
	ClearConsole()
}

// Deploy describes one attempt to load a bundle into the session.
type Deploy struct {
	PID     int
	Spawned bool
	Initial bool
	At      time.Time
	Err     error
}

type Options struct {
	// Router receives the messages of every loaded script. Nil logs them.
	Router *messages.Router
	// Console, when set, is cleared before each rebuild.
	Console Console
	// OnDeploy observes every deploy, successful or not.
	OnDeploy func(Deploy)
}

// Loop owns the session's loaded script. Only one rebuild cycle runs at a
// time; events that arrive during a cycle are dropped.
type Loop struct {
	session instrument.Session
	builder Builder
	watcher Watcher
	log     logr.Logger
	opts    Options

	rebuilding atomic.Bool
	cycles     sync.WaitGroup

	mu      sync.Mutex
	script  instrument.Script
	watched int
}

func New(session instrument.Session, builder Builder, watcher Watcher, log logr.Logger, opts Options) *Loop {
	if opts.Router == nil {
		opts.Router = &messages.Router{Log: log}
	}
	return &Loop{
		session: session,
		builder: builder,
		watcher: watcher,
		log:     log,
		opts:    opts,
	}
}

// Run loads the bundle once, resumes the process and then reloads on every
// change to a file of manifest. It returns nil when ctx is cancelled and
// ErrSessionDetached when the session ends.
func (l *Loop) Run(ctx context.Context, manifest bundle.Manifest) error {
	detached := make(chan instrument.DetachReason, 1)
	l.session.OnDetached(func(reason instrument.DetachReason) {
		select {
		case detached <- reason:
		default:
		}
	})

	if err := l.deploy(true); err != nil {
		return err
	}
	if err := l.session.Resume(); err != nil {
		return fmt.Errorf("resuming process %d: %w", l.session.PID(), err)
	}
	if err := l.watch(manifest); err != nil {
		l.log.Error(err, "Some files could not be watched")
	}
	l.log.Info("Watching for changes", "files", l.watchedCount())

	defer l.cycles.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil

		case reason := <-detached:
			l.log.Error(nil, "Session detached", "pid", l.session.PID(), "reason", reason)
			return fmt.Errorf("%w: %s", ErrSessionDetached, reason)

		case ev := <-l.watcher.Events():
			if l.session.IsDetached() {
				l.log.Error(nil, "Session detached, not reloading", "pid", l.session.PID())
				return ErrSessionDetached
			}
			l.trigger(ev)

		case err := <-l.watcher.Errors():
			l.log.Error(err, "File watcher error")
		}
	}
}

// Unload unloads the current script if it is still alive.
func (l *Loop) Unload() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unloadLocked()
}

func (l *Loop) trigger(ev Event) {
	if !l.rebuilding.CompareAndSwap(false, true) {
		l.log.V(1).Info("Rebuild in progress, dropping change", "path", ev.Path)
		return
	}
	l.cycles.Add(1)
	go func() {
		defer l.cycles.Done()
		defer l.rebuilding.Store(false)
		l.cycle(ev)
	}()
}

func (l *Loop) cycle(ev Event) {
	if l.opts.Console != nil {
		l.opts.Console.ClearConsole()
	}
	l.log.Info("Change detected, rebuilding", "file", l.relative(ev.Path), "op", ev.Op)

	manifest := l.builder.Build()
	if manifest == nil {
		l.log.Info("Keeping the previous bundle until the next change")
		return
	}
	if err := l.watch(manifest); err != nil {
		l.log.Error(err, "Some files could not be watched")
	}
	if err := l.deploy(false); err != nil {
		l.log.Error(err, "Reload failed")
		return
	}
	l.log.Info("Reloaded", "pid", l.session.PID())
}

func (l *Loop) deploy(initial bool) (err error) {
	d := Deploy{PID: l.session.PID(), Spawned: l.session.WasSpawned(), Initial: initial, At: time.Now()}
	defer func() {
		if l.opts.OnDeploy != nil {
			d.Err = err
			l.opts.OnDeploy(d)
		}
	}()

	text, err := l.builder.Bundle()
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.unloadLocked(); err != nil {
		l.log.Error(err, "Could not unload the previous script")
	}

	script, err := l.session.CreateScript(text)
	if err != nil {
		return fmt.Errorf("creating script in process %d: %w", d.PID, err)
	}
	script.OnMessage(func(raw string) {
		l.opts.Router.Handle(d.PID, raw)
	})
	if err := script.Load(); err != nil {
		return fmt.Errorf("loading script in process %d: %w", d.PID, err)
	}
	l.script = script
	return nil
}

func (l *Loop) unloadLocked() error {
	script := l.script
	l.script = nil
	if script == nil || script.IsDestroyed() {
		return nil
	}
	return script.Unload()
}

func (l *Loop) watch(manifest bundle.Manifest) error {
	paths := manifest.AbsPaths(l.builder.WorkDir())
	l.mu.Lock()
	l.watched = len(paths)
	l.mu.Unlock()
	return l.watcher.Sync(paths)
}

func (l *Loop) watchedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.watched
}

func (l *Loop) relative(path string) string {
	if rel, err := filepath.Rel(l.builder.WorkDir(), path); err == nil {
		return rel
	}
	return path
}
