package session

import (
	"errors"
	"fmt"

	"github.com/nixlim/frida-reload/internal/config"
)

// ErrNoSession is returned by Acquire once every attempt has failed.
var ErrNoSession = errors.New("no session obtained")

// DeviceError reports that no device of the requested kind is available.
type DeviceError struct {
	Source config.SourceKind
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("no %s device: %v", e.Source, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// ProcessNotFoundError reports that no running process matched the target.
type ProcessNotFoundError struct {
	Name    string
	Package string
}

func (e *ProcessNotFoundError) Error() string {
	switch {
	case e.Name != "" && e.Package != "":
		return fmt.Sprintf("process %q (%s) not found", e.Name, e.Package)
	case e.Name != "":
		return fmt.Sprintf("process %q not found", e.Name)
	default:
		return fmt.Sprintf("process %q not found", e.Package)
	}
}

// SpawnError reports a failed spawn, or a failed attach to a freshly
// spawned process.
type SpawnError struct {
	Package string
	PID     int
	Err     error
}

func (e *SpawnError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("attaching to spawned %s (pid %d): %v", e.Package, e.PID, e.Err)
	}
	return fmt.Sprintf("spawning %s: %v", e.Package, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// SpawnOrAttachError wraps a failed spawn fallback after the target was not
// found running.
type SpawnOrAttachError struct {
	Err error
}

func (e *SpawnOrAttachError) Error() string {
	return fmt.Sprintf("target not running and spawn fallback failed: %v", e.Err)
}

func (e *SpawnOrAttachError) Unwrap() error {
	return e.Err
}

var errNoPID = errors.New("spawn returned no usable process id")
