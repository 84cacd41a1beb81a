package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigParser_MissingFile(t *testing.T) {
	result, err := LoadFrom("/nonexistent/path/frida-reload.toml")
	if err != nil {
		t.Fatalf("expected no error for missing config file, got: %v", err)
	}
	if result.Partial.Attach != nil {
		t.Errorf("attach preference: want unset, got %v", result.Partial.Attach)
	}
	if result.Partial.EntryPoint != "" {
		t.Errorf("entry_point: want empty, got %q", result.Partial.EntryPoint)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("expected no warnings for missing file, got %v", result.Warnings)
	}
}

func TestConfigParser_FullFile(t *testing.T) {
	tomlData := `
entry_point = "./agent/index.ts"
output = "./dist"
child_gating = true
message_log = "messages.jsonl"

[target]
name = "App"
package = "com.example.app"
source = "local"

[bundler]
external = ["frida-objc-bridge"]
tsconfig = "./tsconfig.json"

[bundler.define]
DEBUG = "true"
`
	result, err := LoadFromString(tomlData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := result.Partial
	if p.EntryPoint != "./agent/index.ts" {
		t.Errorf("entry_point: want ./agent/index.ts, got %q", p.EntryPoint)
	}
	if p.Output != "./dist" {
		t.Errorf("output: want ./dist, got %q", p.Output)
	}
	if !p.ChildGating {
		t.Error("child_gating: want true, got false")
	}
	if p.MessageLog != "messages.jsonl" {
		t.Errorf("message_log: want messages.jsonl, got %q", p.MessageLog)
	}
	if p.Target.Name != "App" || p.Target.Package != "com.example.app" {
		t.Errorf("target: got %+v", p.Target)
	}
	if p.Target.Source != SourceLocal {
		t.Errorf("target source: want local, got %q", p.Target.Source)
	}
	if len(p.Bundler.External) != 1 || p.Bundler.External[0] != "frida-objc-bridge" {
		t.Errorf("bundler external: got %v", p.Bundler.External)
	}
	if p.Bundler.Define["DEBUG"] != "true" {
		t.Errorf("bundler define DEBUG: want true, got %q", p.Bundler.Define["DEBUG"])
	}
	if p.Bundler.Tsconfig != "./tsconfig.json" {
		t.Errorf("bundler tsconfig: got %q", p.Bundler.Tsconfig)
	}
}

func TestConfigParser_AttachAsString(t *testing.T) {
	result, err := LoadFromString(`attach = "never"`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mode, ok := result.Partial.Attach.(SpawnMode)
	if !ok {
		t.Fatalf("attach: want SpawnMode, got %T", result.Partial.Attach)
	}
	if mode != SpawnNever {
		t.Errorf("attach: want never, got %q", mode)
	}
}

func TestConfigParser_AttachAsTable(t *testing.T) {
	tomlData := `
[attach]
spawn = "always"
max_attempts = 3
delay_ms = 250
`
	result, err := LoadFromString(tomlData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, ok := result.Partial.Attach.(AttachDetails)
	if !ok {
		t.Fatalf("attach: want AttachDetails, got %T", result.Partial.Attach)
	}
	if d.Spawn != SpawnAlways {
		t.Errorf("attach.spawn: want always, got %q", d.Spawn)
	}
	if d.MaxAttempts == nil || *d.MaxAttempts != 3 {
		t.Errorf("attach.max_attempts: want 3, got %v", d.MaxAttempts)
	}
	if d.Delay == nil || *d.Delay != 250*time.Millisecond {
		t.Errorf("attach.delay_ms: want 250ms, got %v", d.Delay)
	}
}

func TestConfigParser_AttachExplicitZeros(t *testing.T) {
	result, err := LoadFromString("[attach]\nmax_attempts = 0\ndelay_ms = 0\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := Details(result.Partial.Attach)
	if d.MaxAttempts != 0 {
		t.Errorf("attach.max_attempts: want explicit 0 kept, got %d", d.MaxAttempts)
	}
	if d.Delay != 0 {
		t.Errorf("attach.delay_ms: want explicit 0 kept, got %s", d.Delay)
	}

	result.Partial.Target = Target{Name: "App"}
	_, err = NewResolver().Resolve(result.Partial)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want ValidationError for max_attempts = 0, got %v", err)
	}
	if !strings.Contains(verr.Error(), "max attempts must be at least 1, got 0") {
		t.Errorf("unexpected message: %v", verr)
	}
}

func TestConfigParser_InvalidValue(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{
			name: "attach is a number",
			toml: `attach = 3`,
		},
		{
			name: "attach.max_attempts is a string",
			toml: `[attach]
max_attempts = "many"`,
		},
		{
			name: "attach.spawn is a bool",
			toml: `[attach]
spawn = true`,
		},
		{
			name: "malformed toml",
			toml: `[target`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromString(tt.toml)
			if err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestConfigParser_UnknownKey(t *testing.T) {
	tomlData := `
entry_point = "./agent.js"

[mysterious_section]
foo = "bar"

[attach]
spawn = "try"
jitter = 4
`
	result, err := LoadFromString(tomlData)
	if err != nil {
		t.Fatalf("unknown keys should not cause errors, got: %v", err)
	}

	foundMysterious := false
	foundJitter := false
	for _, w := range result.Warnings {
		if w == `unknown config key: "mysterious_section"` {
			foundMysterious = true
		}
		if w == `unknown config key: "attach.jitter"` {
			foundJitter = true
		}
	}
	if !foundMysterious {
		t.Error("expected warning for mysterious_section, not found")
	}
	if !foundJitter {
		t.Error("expected warning for attach.jitter, not found")
	}
	if result.Partial.EntryPoint != "./agent.js" {
		t.Errorf("entry_point should still be loaded: got %q", result.Partial.EntryPoint)
	}
}

func TestConfigParser_LoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, []byte("[target]\nname = \"Safari\"\n"), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	result, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Partial.Target.Name != "Safari" {
		t.Errorf("target name: want Safari, got %q", result.Partial.Target.Name)
	}
}

func TestMerge_TopOverridesBase(t *testing.T) {
	base := Partial{
		Target:     Target{Name: "App", Package: "com.example.app", Source: SourceLocal},
		Attach:     AttachDetails{Spawn: SpawnTry, MaxAttempts: Ptr(4), Delay: Ptr(time.Second)},
		EntryPoint: "./a.ts",
	}
	top := Partial{
		Target: Target{Source: SourceUSB},
		Attach: AttachDetails{Delay: Ptr(time.Duration(0))},
		Output: "./out.js",
	}

	got := Merge(base, top)

	if got.Target.Name != "App" || got.Target.Package != "com.example.app" {
		t.Errorf("target identity should be kept: got %+v", got.Target)
	}
	if got.Target.Source != SourceUSB {
		t.Errorf("source: want usb, got %q", got.Target.Source)
	}
	d := Details(got.Attach)
	if d.Spawn != SpawnTry || d.MaxAttempts != 4 || d.Delay != 0 {
		t.Errorf("attach merge: got %+v", d)
	}
	if got.EntryPoint != "./a.ts" || got.Output != "./out.js" {
		t.Errorf("paths: got entry %q output %q", got.EntryPoint, got.Output)
	}
}
