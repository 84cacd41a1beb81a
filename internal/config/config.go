// Package config defines the frida-reload configuration, the TOML project
// file loader and the Resolver that turns a partial configuration into a
// complete one.
package config

import (
	"time"

	"github.com/nixlim/frida-reload/internal/messages"
)

const (
	DefaultEntryPoint  = "./remote/init.js"
	DefaultOutput      = "./remote.bundle.js"
	DefaultBundleName  = "remote.bundle.js"
	DefaultMaxAttempts = 15
	DefaultDelay       = 5000 * time.Millisecond
	DefaultSpawnMode   = SpawnTry
	DefaultSource      = SourceUSB
)

// SourceKind selects the device the target process lives on.
type SourceKind string

const (
	SourceUSB   SourceKind = "usb"
	SourceLocal SourceKind = "local"
)

func (k SourceKind) valid() bool {
	return k == SourceUSB || k == SourceLocal
}

// SpawnMode controls whether the target is spawned, attached to, or both.
type SpawnMode string

const (
	// SpawnAlways spawns a fresh instance of the target package.
	SpawnAlways SpawnMode = "always"
	// SpawnTry attaches to a running instance and spawns one if none is found.
	SpawnTry SpawnMode = "try"
	// SpawnNever only attaches to an already running process.
	SpawnNever SpawnMode = "never"
)

func (m SpawnMode) valid() bool {
	return m == SpawnAlways || m == SpawnTry || m == SpawnNever
}

// AttachPreference is either a bare SpawnMode or a detailed AttachDetails
// record. Resolution normalises both to an AttachPolicy.
type AttachPreference interface {
	attachDetails() AttachDetails
}

func (m SpawnMode) attachDetails() AttachDetails {
	return AttachDetails{Spawn: m}
}

// AttachDetails is the structured attach preference. An empty Spawn and nil
// fields are unset and take their defaults on resolution; explicit zeros
// are kept and validated.
type AttachDetails struct {
	Spawn       SpawnMode
	MaxAttempts *int
	Delay       *time.Duration
}

func (d AttachDetails) attachDetails() AttachDetails {
	return d
}

// AttachPolicy is an attach preference with every field decided.
type AttachPolicy struct {
	Spawn       SpawnMode
	MaxAttempts int
	Delay       time.Duration
}

// Ptr returns a pointer to v, for setting the optional AttachDetails fields.
func Ptr[T any](v T) *T {
	return &v
}

// Details returns the policy described by p with defaults substituted for
// every unset field. A nil preference yields the full defaults.
func Details(p AttachPreference) AttachPolicy {
	var d AttachDetails
	if p != nil {
		d = p.attachDetails()
	}
	policy := AttachPolicy{
		Spawn:       d.Spawn,
		MaxAttempts: DefaultMaxAttempts,
		Delay:       DefaultDelay,
	}
	if policy.Spawn == "" {
		policy.Spawn = DefaultSpawnMode
	}
	if d.MaxAttempts != nil {
		policy.MaxAttempts = *d.MaxAttempts
	}
	if d.Delay != nil {
		policy.Delay = *d.Delay
	}
	return policy
}

// Target identifies the process to instrument.
type Target struct {
	Name    string
	Package string
	Source  SourceKind
}

// BundlerOptions are the extra options passed through to the bundler.
type BundlerOptions struct {
	External []string
	Define   map[string]string
	Tsconfig string
}

// MessageHandler receives payloads the injected script sends.
type MessageHandler func(messages.Message)

// ErrorHandler receives errors raised inside the injected script.
type ErrorHandler func(error)

// Partial is a configuration with every field optional.
type Partial struct {
	Target         Target
	Attach         AttachPreference
	EntryPoint     string
	Output         string
	Bundler        BundlerOptions
	MessageHandler MessageHandler
	ErrorHandler   ErrorHandler
	ChildGating    bool
	MessageLog     string
	Journal        string
}

// Config is a fully resolved configuration. It is read-only after
// Resolver.Resolve returns it.
type Config struct {
	Target      Target
	Attach      AttachPolicy
	EntryPoint  string
	Output      string
	Bundler     BundlerOptions
	ChildGating bool
	MessageLog  string
	Journal     string

	// Nil handlers mean the default logging behaviour.
	MessageHandler MessageHandler
	ErrorHandler   ErrorHandler
}
