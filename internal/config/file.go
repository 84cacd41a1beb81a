package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultFileName is the project file looked up in the working directory
// when no explicit path is given.
const DefaultFileName = "frida-reload.toml"

// LoadResult is a partial configuration read from a project file together
// with any non-fatal problems found in it.
type LoadResult struct {
	Partial  Partial
	Warnings []string
}

type tomlFile struct {
	EntryPoint  string      `toml:"entry_point"`
	Output      string      `toml:"output"`
	ChildGating bool        `toml:"child_gating"`
	MessageLog  string      `toml:"message_log"`
	Journal     string      `toml:"journal"`
	Target      *tomlTarget `toml:"target"`
	Bundler     *tomlBundle `toml:"bundler"`
}

type tomlTarget struct {
	Name    string `toml:"name"`
	Package string `toml:"package"`
	Source  string `toml:"source"`
}

type tomlBundle struct {
	External []string          `toml:"external"`
	Define   map[string]string `toml:"define"`
	Tsconfig string            `toml:"tsconfig"`
}

var knownTopLevel = map[string]bool{
	"entry_point":  true,
	"output":       true,
	"attach":       true,
	"child_gating": true,
	"message_log":  true,
	"journal":      true,
	"target":       true,
	"bundler":      true,
}

// Load reads DefaultFileName from the working directory. A missing file
// yields an empty partial configuration.
func Load() (*LoadResult, error) {
	return LoadFrom(DefaultFileName)
}

// LoadFrom reads the project file at path. A missing file is not an error.
func LoadFrom(path string) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &LoadResult{}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	result, err := LoadFromString(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return result, nil
}

// LoadFromString parses a project file held in memory.
func LoadFromString(data string) (*LoadResult, error) {
	result := &LoadResult{}
	if data == "" {
		return result, nil
	}

	var raw map[string]any
	if _, err := toml.Decode(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	for key := range raw {
		if !knownTopLevel[key] {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unknown config key: %q", key))
		}
	}

	var tf tomlFile
	if _, err := toml.Decode(data, &tf); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	p := &result.Partial
	p.EntryPoint = tf.EntryPoint
	p.Output = tf.Output
	p.ChildGating = tf.ChildGating
	p.MessageLog = tf.MessageLog
	p.Journal = tf.Journal
	if tf.Target != nil {
		p.Target = Target{
			Name:    tf.Target.Name,
			Package: tf.Target.Package,
			Source:  SourceKind(tf.Target.Source),
		}
	}
	if tf.Bundler != nil {
		p.Bundler = BundlerOptions{
			External: tf.Bundler.External,
			Define:   tf.Bundler.Define,
			Tsconfig: tf.Bundler.Tsconfig,
		}
	}

	attach, warnings, err := attachFromRaw(raw)
	if err != nil {
		return nil, err
	}
	p.Attach = attach
	result.Warnings = append(result.Warnings, warnings...)

	return result, nil
}

// attachFromRaw accepts either `attach = "try"` or an [attach] table.
func attachFromRaw(raw map[string]any) (AttachPreference, []string, error) {
	v, ok := raw["attach"]
	if !ok {
		return nil, nil, nil
	}

	switch a := v.(type) {
	case string:
		return SpawnMode(a), nil, nil
	case map[string]any:
		var (
			d        AttachDetails
			warnings []string
		)
		for key, val := range a {
			switch key {
			case "spawn":
				s, ok := val.(string)
				if !ok {
					return nil, nil, NewValidationError(fmt.Sprintf("attach.spawn must be a string, got %T", val))
				}
				d.Spawn = SpawnMode(s)
			case "max_attempts":
				n, ok := val.(int64)
				if !ok {
					return nil, nil, NewValidationError(fmt.Sprintf("attach.max_attempts must be an integer, got %T", val))
				}
				d.MaxAttempts = Ptr(int(n))
			case "delay_ms":
				n, ok := val.(int64)
				if !ok {
					return nil, nil, NewValidationError(fmt.Sprintf("attach.delay_ms must be an integer, got %T", val))
				}
				d.Delay = Ptr(time.Duration(n) * time.Millisecond)
			default:
				warnings = append(warnings, fmt.Sprintf("unknown config key: %q", "attach."+key))
			}
		}
		return d, warnings, nil
	default:
		return nil, nil, NewValidationError(fmt.Sprintf("attach must be a string or a table, got %T", v))
	}
}

// Merge overlays the non-zero fields of top onto base.
func Merge(base, top Partial) Partial {
	out := base
	if top.Target.Name != "" {
		out.Target.Name = top.Target.Name
	}
	if top.Target.Package != "" {
		out.Target.Package = top.Target.Package
	}
	if top.Target.Source != "" {
		out.Target.Source = top.Target.Source
	}
	if top.Attach != nil {
		out.Attach = mergeAttach(base.Attach, top.Attach)
	}
	if top.EntryPoint != "" {
		out.EntryPoint = top.EntryPoint
	}
	if top.Output != "" {
		out.Output = top.Output
	}
	if len(top.Bundler.External) > 0 {
		out.Bundler.External = top.Bundler.External
	}
	if len(top.Bundler.Define) > 0 {
		out.Bundler.Define = top.Bundler.Define
	}
	if top.Bundler.Tsconfig != "" {
		out.Bundler.Tsconfig = top.Bundler.Tsconfig
	}
	if top.MessageHandler != nil {
		out.MessageHandler = top.MessageHandler
	}
	if top.ErrorHandler != nil {
		out.ErrorHandler = top.ErrorHandler
	}
	if top.ChildGating {
		out.ChildGating = true
	}
	if top.MessageLog != "" {
		out.MessageLog = top.MessageLog
	}
	if top.Journal != "" {
		out.Journal = top.Journal
	}
	return out
}

func mergeAttach(base, top AttachPreference) AttachPreference {
	if base == nil {
		return top
	}
	b := base.attachDetails()
	t := top.attachDetails()
	if t.Spawn != "" {
		b.Spawn = t.Spawn
	}
	if t.MaxAttempts != nil {
		b.MaxAttempts = t.MaxAttempts
	}
	if t.Delay != nil {
		b.Delay = t.Delay
	}
	return b
}
