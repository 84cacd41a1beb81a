// Package app wires the build, attach and reload stages into one run.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"

	"github.com/nixlim/frida-reload/internal/bundle"
	"github.com/nixlim/frida-reload/internal/config"
	"github.com/nixlim/frida-reload/internal/instrument"
	"github.com/nixlim/frida-reload/internal/journal"
	"github.com/nixlim/frida-reload/internal/messages"
	"github.com/nixlim/frida-reload/internal/reload"
	"github.com/nixlim/frida-reload/internal/session"
)

// ErrNoManifest is returned when the initial build succeeds but reports no
// source files, leaving nothing to watch.
var ErrNoManifest = errors.New("initial build produced no dependency manifest")

// Deps are the collaborators of a run. Zero fields take production
// defaults where one exists.
type Deps struct {
	Manager    instrument.Manager
	NewWatcher func() (reload.Watcher, error)
	Console    reload.Console
	Log        logr.Logger

	// BuilderOptions are passed to bundle.New.
	BuilderOptions []bundle.Option
}

// Start builds the bundle, acquires a session and keeps the bundle loaded
// until the session detaches or ctx is cancelled. A failed initial build
// or a failed acquisition aborts the run.
func Start(ctx context.Context, cfg *config.Config, deps Deps) (err error) {
	if deps.Manager == nil {
		return errors.New("no instrumentation manager")
	}
	if deps.NewWatcher == nil {
		deps.NewWatcher = func() (reload.Watcher, error) { return reload.NewFSWatcher() }
	}
	log := deps.Log

	shutdown := NewShutdownManager()
	defer func() {
		if shutdownErr := shutdown.Shutdown(); shutdownErr != nil {
			log.V(1).Info("Shutdown finished with errors", "error", shutdownErr.Error())
		}
	}()

	jrnl, persistent := journal.Open(cfg.Journal, runInfo(cfg), log.WithName("journal"))
	shutdown.Cleanup = append(shutdown.Cleanup, jrnl.Close)
	if persistent {
		log.V(1).Info("Recording builds and deploys", "journal", cfg.Journal)
	}

	router, closeMessageLog, err := newRouter(cfg, log.WithName("script"))
	if err != nil {
		return err
	}
	shutdown.Cleanup = append(shutdown.Cleanup, closeMessageLog)

	var initial bundle.Result
	builderOpts := append([]bundle.Option{
		bundle.WithObserver(jrnl.RecordBuild),
		bundle.WithObserver(func(r bundle.Result) { initial = r }),
	}, deps.BuilderOptions...)
	builder, err := bundle.New(cfg, log.WithName("bundle"), builderOpts...)
	if err != nil {
		return err
	}
	shutdown.DisposeBundler = builder.Dispose

	manifest := builder.Build()
	if manifest == nil {
		if initial.Err != nil {
			return fmt.Errorf("initial build: %w", initial.Err)
		}
		return ErrNoManifest
	}

	sess, err := session.NewAcquirer(deps.Manager, log.WithName("session")).Acquire(ctx, cfg)
	if err != nil {
		return err
	}
	shutdown.Detach = func() error {
		if sess.IsDetached() {
			return nil
		}
		return sess.Detach()
	}
	log.Info("Attached", "pid", sess.PID())

	watcher, err := deps.NewWatcher()
	if err != nil {
		return err
	}
	shutdown.CloseWatcher = watcher.Close

	loop := reload.New(sess, builder, watcher, log.WithName("reload"), reload.Options{
		Router:   router,
		Console:  deps.Console,
		OnDeploy: jrnl.RecordDeploy,
	})
	shutdown.UnloadScript = func() error {
		if sess.IsDetached() {
			return nil
		}
		return loop.Unload()
	}

	return loop.Run(ctx, manifest)
}

// newRouter builds the script message router for cfg. The returned close
// function releases the message log file, if any.
func newRouter(cfg *config.Config, log logr.Logger) (*messages.Router, func() error, error) {
	router := &messages.Router{Log: log, Journal: messages.NopLogger{}}
	if cfg.MessageHandler != nil {
		router.OnMessage = cfg.MessageHandler
	}
	if cfg.ErrorHandler != nil {
		router.OnError = cfg.ErrorHandler
	}

	if cfg.MessageLog == "" {
		return router, func() error { return nil }, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.MessageLog), 0755); err != nil {
		return nil, nil, fmt.Errorf("creating message log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.MessageLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open message log %q: %w", cfg.MessageLog, err)
	}
	router.Journal = messages.NewFileLogger(f)
	return router, f.Close, nil
}

func runInfo(cfg *config.Config) journal.Run {
	target := cfg.Target.Name
	if target == "" {
		target = cfg.Target.Package
	}
	return journal.Run{
		Target:     target,
		Package:    cfg.Target.Package,
		Device:     string(cfg.Target.Source),
		Spawn:      string(cfg.Attach.Spawn),
		EntryPoint: cfg.EntryPoint,
	}
}
