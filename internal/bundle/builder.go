// Package bundle drives esbuild to produce the single-file script bundle
// and reports which source files went into it.
package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/go-logr/logr"

	"github.com/nixlim/frida-reload/internal/config"
)

// BuildError carries bundler diagnostics, or the panic that aborted a build.
type BuildError struct {
	Messages []string
	Panic    any
	Stack    string
}

func (e *BuildError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("bundler panicked: %v", e.Panic)
	}
	if len(e.Messages) == 1 {
		return "build failed: " + e.Messages[0]
	}
	return fmt.Sprintf("build failed with %d errors: %s", len(e.Messages), strings.Join(e.Messages, "; "))
}

// Result summarises one build for observers.
type Result struct {
	Started  time.Time
	Duration time.Duration
	Inputs   int
	Bytes    int
	Warnings int
	Err      error
}

// OK reports whether the build produced a bundle.
func (r Result) OK() bool {
	return r.Err == nil
}

// buildContext is the part of api.BuildContext the Builder uses.
type buildContext interface {
	Rebuild() api.BuildResult
	Dispose()
}

type Option func(*Builder)

// WithWorkDir sets the directory the bundler resolves relative paths
// against. It defaults to the process working directory.
func WithWorkDir(dir string) Option {
	return func(b *Builder) {
		b.workDir = dir
	}
}

// WithObserver registers fn to receive a Result after every build.
func WithObserver(fn func(Result)) Option {
	return func(b *Builder) {
		b.observers = append(b.observers, fn)
	}
}

// Builder performs incremental rebuilds of one bundle.
type Builder struct {
	ctx       buildContext
	outfile   string
	workDir   string
	log       logr.Logger
	observers []func(Result)
}

// New creates the bundler context for cfg. Nothing is built until Build is
// called.
func New(cfg *config.Config, log logr.Logger, opts ...Option) (*Builder, error) {
	b := &Builder{
		outfile: config.NewResolver().OutputBundleFile(cfg),
		log:     log,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		b.workDir = wd
	}

	ctx, ctxErr := api.Context(api.BuildOptions{
		EntryPoints:   []string{cfg.EntryPoint},
		AbsWorkingDir: b.workDir,
		Bundle:        true,
		Sourcemap:     api.SourceMapLinked,
		Outfile:       b.outfile,
		Format:        api.FormatIIFE,
		Platform:      api.PlatformNeutral,
		MainFields:    []string{"module", "main"},
		Metafile:      true,
		Write:         true,
		LogLevel:      api.LogLevelSilent,
		External:      cfg.Bundler.External,
		Define:        cfg.Bundler.Define,
		Tsconfig:      cfg.Bundler.Tsconfig,
	})
	if ctxErr != nil {
		return nil, &BuildError{Messages: formatMessages(ctxErr.Errors, api.ErrorMessage)}
	}
	b.ctx = ctx
	return b, nil
}

// Outfile is the path the bundle is written to.
func (b *Builder) Outfile() string {
	return b.outfile
}

// WorkDir is the directory manifest paths are relative to.
func (b *Builder) WorkDir() string {
	return b.workDir
}

// Build rebuilds the bundle. It returns nil when the build failed; failures
// are logged here and never returned.
func (b *Builder) Build() (manifest Manifest) {
	res := Result{Started: time.Now()}
	defer func() {
		if r := recover(); r != nil {
			berr := &BuildError{Panic: r, Stack: string(debug.Stack())}
			b.log.Error(berr, "Bundler crashed", "stack", berr.Stack)
			res.Err = berr
			manifest = nil
		}
		res.Duration = time.Since(res.Started)
		b.notify(res)
	}()

	result := b.ctx.Rebuild()
	res.Warnings = len(result.Warnings)
	for _, w := range formatMessages(result.Warnings, api.WarningMessage) {
		b.log.Info("Bundler warning", "detail", w)
	}

	if len(result.Errors) > 0 {
		res.Err = &BuildError{Messages: formatMessages(result.Errors, api.ErrorMessage)}
		b.log.Error(res.Err, "Build failed", "errors", len(result.Errors))
		return nil
	}

	if result.Metafile == "" {
		b.log.Info("Bundler returned no dependency manifest, nothing to watch")
		return nil
	}
	var meta metafile
	if err := json.Unmarshal([]byte(result.Metafile), &meta); err != nil {
		b.log.Error(err, "Could not read dependency manifest, nothing to watch")
		return nil
	}

	for _, out := range meta.Outputs {
		res.Bytes += out.Bytes
	}
	res.Inputs = len(meta.Inputs)
	b.log.Info("Bundle built",
		"inputs", res.Inputs,
		"size", humanize.Bytes(uint64(res.Bytes)),
		"took", time.Since(res.Started).Round(time.Millisecond),
	)
	return meta.Inputs
}

// Bundle returns the text of the last written bundle.
func (b *Builder) Bundle() (string, error) {
	data, err := os.ReadFile(b.outfile)
	if err != nil {
		return "", fmt.Errorf("reading bundle: %w", err)
	}
	return string(data), nil
}

// Dispose releases the bundler context.
func (b *Builder) Dispose() {
	if b.ctx != nil {
		b.ctx.Dispose()
	}
}

func (b *Builder) notify(res Result) {
	for _, fn := range b.observers {
		fn(res)
	}
}

func formatMessages(msgs []api.Message, kind api.MessageKind) []string {
	if len(msgs) == 0 {
		return nil
	}
	formatted := api.FormatMessages(msgs, api.FormatMessagesOptions{Kind: kind})
	out := make([]string, 0, len(formatted))
	for _, f := range formatted {
		out = append(out, strings.TrimSpace(f))
	}
	return out
}
