package fridareload

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/nixlim/frida-reload/internal/app"
	"github.com/nixlim/frida-reload/internal/config"
	"github.com/nixlim/frida-reload/internal/frida"
	"github.com/nixlim/frida-reload/internal/logger"
	"github.com/nixlim/frida-reload/internal/messages"
)

type (
	Config           = config.Config
	Partial          = config.Partial
	Target           = config.Target
	SourceKind       = config.SourceKind
	SpawnMode        = config.SpawnMode
	AttachPreference = config.AttachPreference
	AttachDetails    = config.AttachDetails
	AttachPolicy     = config.AttachPolicy
	BundlerOptions   = config.BundlerOptions
	ValidationError  = config.ValidationError
	Message          = messages.Message
	ScriptError      = messages.ScriptError
)

const (
	SourceUSB   = config.SourceUSB
	SourceLocal = config.SourceLocal

	SpawnAlways = config.SpawnAlways
	SpawnTry    = config.SpawnTry
	SpawnNever  = config.SpawnNever
)

// Ptr returns a pointer to v, for the optional AttachDetails fields.
func Ptr[T any](v T) *T {
	return config.Ptr(v)
}

// DefineConfig validates p and fills in every default.
func DefineConfig(p Partial) (*Config, error) {
	return config.NewResolver().Resolve(p)
}

type options struct {
	log   *logr.Logger
	clear func()
}

type Option func(*options)

// WithLogger sends all output to log instead of the default console logger.
func WithLogger(log logr.Logger) Option {
	return func(o *options) {
		o.log = &log
	}
}

// WithConsoleClear sets the function run before every rebuild.
func WithConsoleClear(fn func()) Option {
	return func(o *options) {
		o.clear = fn
	}
}

type consoleFunc func()

func (f consoleFunc) ClearConsole() { f() }

// Start runs the build, attach and reload pipeline for cfg.
func Start(ctx context.Context, cfg *Config, opts ...Option) error {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	deps := app.Deps{}
	if o.log != nil {
		deps.Log = *o.log
	} else {
		l := logger.New("frida-reload")
		defer l.Flush()
		deps.Log = l.Logger
		if o.clear == nil {
			o.clear = l.ClearConsole
		}
	}
	if o.clear != nil {
		deps.Console = consoleFunc(o.clear)
	}

	mgr := frida.NewManager()
	defer func() { _ = mgr.Close() }()
	deps.Manager = mgr

	return app.Start(ctx, cfg, deps)
}
