package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidationError reports a configuration that cannot be used.
type ValidationError struct {
	Problems []string
}

func NewValidationError(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error: %s", strings.Join(e.Problems, "; "))
}

const (
	problemMissingTarget  = "missing target identifier"
	ProblemMissingPackage = "package required to spawn"
)

// Resolver normalises partial configurations and derives values from
// resolved ones. It holds no per-config state.
type Resolver struct {
	getwd func() (string, error)
	stat  func(string) (os.FileInfo, error)
}

// NewResolver returns a Resolver bound to the process working directory.
func NewResolver() *Resolver {
	return &Resolver{getwd: os.Getwd, stat: os.Stat}
}

// Resolve validates p, fills in defaults and makes paths absolute against
// the current working directory.
func (r *Resolver) Resolve(p Partial) (*Config, error) {
	var errs []string

	if p.Target.Name == "" && p.Target.Package == "" {
		errs = append(errs, problemMissingTarget)
	}

	target := p.Target
	if target.Source == "" {
		target.Source = DefaultSource
	}
	if !target.Source.valid() {
		errs = append(errs, fmt.Sprintf("target source must be %q or %q, got %q", SourceUSB, SourceLocal, target.Source))
	}

	attach := Details(p.Attach)
	if !attach.Spawn.valid() {
		errs = append(errs, fmt.Sprintf("spawn preference must be one of always, try, never, got %q", attach.Spawn))
	}
	if attach.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("max attempts must be at least 1, got %d", attach.MaxAttempts))
	}
	if attach.Delay < 0 {
		errs = append(errs, fmt.Sprintf("retry delay must not be negative, got %s", attach.Delay))
	}

	if len(errs) > 0 {
		return nil, NewValidationError(errs...)
	}

	cwd, err := r.getwd()
	if err != nil {
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}

	entry := p.EntryPoint
	if entry == "" {
		entry = DefaultEntryPoint
	}
	output := p.Output
	if output == "" {
		output = DefaultOutput
	}

	cfg := &Config{
		Target:         target,
		Attach:         attach,
		EntryPoint:     absolute(cwd, entry),
		Output:         absolute(cwd, output),
		Bundler:        p.Bundler,
		ChildGating:    p.ChildGating,
		MessageLog:     p.MessageLog,
		Journal:        p.Journal,
		MessageHandler: p.MessageHandler,
		ErrorHandler:   p.ErrorHandler,
	}
	if p.MessageLog != "" {
		cfg.MessageLog = absolute(cwd, expandTilde(p.MessageLog))
	}
	if p.Journal != "" {
		cfg.Journal = absolute(cwd, expandTilde(p.Journal))
	}
	return cfg, nil
}

// SpawnPreference returns the bare spawn mode of cfg.
func (r *Resolver) SpawnPreference(cfg *Config) SpawnMode {
	return cfg.Attach.Spawn
}

// AttachPolicy returns the resolved attach policy of cfg.
func (r *Resolver) AttachPolicy(cfg *Config) AttachPolicy {
	return cfg.Attach
}

// OutputBundleFile returns the file the bundle is written to. A directory
// output gets the default bundle name appended.
func (r *Resolver) OutputBundleFile(cfg *Config) string {
	if cfg.Output == "" {
		return DefaultOutput
	}
	info, err := r.stat(cfg.Output)
	if err == nil && info.IsDir() {
		return filepath.Join(cfg.Output, DefaultBundleName)
	}
	return cfg.Output
}

func absolute(cwd, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(cwd, path)
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
