package app

import (
	"errors"
	"time"
)

// ShutdownManager tears a run down in dependency order. Every step is
// optional and runs at most once.
type ShutdownManager struct {
	// StepTimeout bounds each step so a hung device call cannot stall exit.
	StepTimeout time.Duration

	// UnloadScript unloads the injected bundle.
	UnloadScript func() error

	// Detach ends the instrumentation session.
	Detach func() error

	// CloseWatcher stops file watching.
	CloseWatcher func() error

	// DisposeBundler releases the bundler context.
	DisposeBundler func()

	// Cleanup closes the message log and journal.
	Cleanup []func() error

	done bool
}

// NewShutdownManager creates a ShutdownManager with a 5-second step timeout.
func NewShutdownManager() *ShutdownManager {
	return &ShutdownManager{
		StepTimeout: 5 * time.Second,
	}
}

// Shutdown performs the teardown in order:
// 1. Unload the script while the session is still up
// 2. Detach the session
// 3. Stop watching files
// 4. Dispose the bundler
// 5. Run cleanup
func (sm *ShutdownManager) Shutdown() error {
	if sm.done {
		return nil
	}
	sm.done = true

	var errs []error

	// Steps 1 + 2 talk to the device and may hang.
	if sm.UnloadScript != nil {
		errs = append(errs, sm.bounded(sm.UnloadScript))
	}
	if sm.Detach != nil {
		errs = append(errs, sm.bounded(sm.Detach))
	}

	// Step 3: Stop watcher.
	if sm.CloseWatcher != nil {
		errs = append(errs, sm.CloseWatcher())
	}

	// Step 4: Dispose bundler.
	if sm.DisposeBundler != nil {
		sm.DisposeBundler()
	}

	// Step 5: Run cleanup.
	for _, fn := range sm.Cleanup {
		errs = append(errs, fn())
	}

	return errors.Join(errs...)
}

var errStepTimeout = errors.New("shutdown step timed out")

func (sm *ShutdownManager) bounded(fn func() error) error {
	if sm.StepTimeout <= 0 {
		return fn()
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-time.After(sm.StepTimeout):
		return errStepTimeout
	}
}
