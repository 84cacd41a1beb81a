package session

import (
	"errors"
	"fmt"

	"github.com/nixlim/frida-reload/internal/config"
	"github.com/nixlim/frida-reload/internal/instrument"
)

// NotFoundPID is the pid reported when no process matches the target. It
// is never attached to.
const NotFoundPID = -1

// attempt makes one attach-or-spawn attempt according to the spawn
// preference. It never retries.
func (a *Acquirer) attempt(dev instrument.Device, cfg *config.Config) (instrument.Session, error) {
	pref := a.resolver.SpawnPreference(cfg)
	if pref == config.SpawnAlways {
		return a.spawnAndAttach(dev, cfg.Target)
	}

	pid, err := findProcess(dev, cfg.Target)
	if err != nil {
		var notFound *ProcessNotFoundError
		if !errors.As(err, &notFound) || pref != config.SpawnTry {
			return nil, err
		}
		a.log.Info("Target is not running, spawning it", "package", cfg.Target.Package)
		sess, spawnErr := a.spawnAndAttach(dev, cfg.Target)
		if spawnErr != nil {
			return nil, &SpawnOrAttachError{Err: spawnErr}
		}
		return sess, nil
	}

	if pid == NotFoundPID {
		return nil, &ProcessNotFoundError{Name: cfg.Target.Name, Package: cfg.Target.Package}
	}
	sess, err := dev.Attach(pid, false)
	if err != nil {
		return nil, fmt.Errorf("attaching to pid %d: %w", pid, err)
	}
	a.log.Info("Attached to running process", "pid", pid)
	return sess, nil
}

func (a *Acquirer) spawnAndAttach(dev instrument.Device, target config.Target) (instrument.Session, error) {
	if target.Package == "" {
		return nil, config.NewValidationError(config.ProblemMissingPackage)
	}

	pid, err := dev.Spawn(target.Package)
	if err != nil {
		return nil, &SpawnError{Package: target.Package, Err: err}
	}
	if pid <= 0 {
		return nil, &SpawnError{Package: target.Package, Err: errNoPID}
	}

	sess, err := dev.Attach(pid, true)
	if err != nil {
		return nil, &SpawnError{Package: target.Package, PID: pid, Err: err}
	}
	a.log.Info("Spawned and attached", "package", target.Package, "pid", pid)
	return sess, nil
}

// findProcess returns the pid of the first process whose name equals the
// target name or package.
func findProcess(dev instrument.Device, target config.Target) (int, error) {
	procs, err := dev.EnumerateProcesses()
	if err != nil {
		return NotFoundPID, fmt.Errorf("enumerating processes: %w", err)
	}
	for _, p := range procs {
		name := p.Name()
		if (target.Name != "" && name == target.Name) || (target.Package != "" && name == target.Package) {
			return p.PID(), nil
		}
	}
	return NotFoundPID, &ProcessNotFoundError{Name: target.Name, Package: target.Package}
}
