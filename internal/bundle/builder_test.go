package bundle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixlim/frida-reload/internal/config"
)

type scriptedContext struct {
	results  []api.BuildResult
	panicVal any
	rebuilds int
	disposed bool
}

func (c *scriptedContext) Rebuild() api.BuildResult {
	c.rebuilds++
	if c.panicVal != nil {
		panic(c.panicVal)
	}
	if len(c.results) == 0 {
		return api.BuildResult{}
	}
	r := c.results[0]
	c.results = c.results[1:]
	return r
}

func (c *scriptedContext) Dispose() {
	c.disposed = true
}

func newScripted(t *testing.T, ctx *scriptedContext) (*Builder, *[]Result) {
	t.Helper()
	var seen []Result
	b := &Builder{
		ctx:     ctx,
		outfile: filepath.Join(t.TempDir(), config.DefaultBundleName),
		workDir: "/work",
		log:     testr.New(t),
	}
	WithObserver(func(r Result) { seen = append(seen, r) })(b)
	return b, &seen
}

const sampleMetafile = `{
  "inputs": {
    "agent/index.ts": {"bytes": 120, "imports": [{"path": "agent/util.ts", "kind": "import-statement", "original": "./util"}], "format": "esm"},
    "agent/util.ts": {"bytes": 40, "imports": []},
    "<define:DEBUG>": {"bytes": 4, "imports": []}
  },
  "outputs": {
    "remote.bundle.js": {"bytes": 2048},
    "remote.bundle.js.map": {"bytes": 512}
  }
}`

func TestBuildReturnsManifest(t *testing.T) {
	ctx := &scriptedContext{results: []api.BuildResult{{Metafile: sampleMetafile}}}
	b, seen := newScripted(t, ctx)

	m := b.Build()
	require.NotNil(t, m)
	assert.Len(t, m, 3)
	assert.Equal(t, 120, m["agent/index.ts"].Bytes)
	assert.Equal(t, "esm", m["agent/index.ts"].Format)
	require.Len(t, m["agent/index.ts"].Imports, 1)
	assert.Equal(t, "./util", m["agent/index.ts"].Imports[0].Original)

	assert.Equal(t, []string{"/work/agent/index.ts", "/work/agent/util.ts"}, m.AbsPaths(b.WorkDir()))

	require.Len(t, *seen, 1)
	assert.True(t, (*seen)[0].OK())
	assert.Equal(t, 3, (*seen)[0].Inputs)
	assert.Equal(t, 2560, (*seen)[0].Bytes)
}

func TestBuildDiagnosticsYieldNil(t *testing.T) {
	ctx := &scriptedContext{results: []api.BuildResult{{
		Errors: []api.Message{{Text: `Could not resolve "./missing"`}},
	}}}
	b, seen := newScripted(t, ctx)

	assert.Nil(t, b.Build())

	require.Len(t, *seen, 1)
	var berr *BuildError
	require.ErrorAs(t, (*seen)[0].Err, &berr)
	require.Len(t, berr.Messages, 1)
	assert.Contains(t, berr.Messages[0], "Could not resolve")
}

func TestBuildRecoversPanic(t *testing.T) {
	ctx := &scriptedContext{panicVal: "esbuild exploded"}
	b, seen := newScripted(t, ctx)

	assert.NotPanics(t, func() {
		assert.Nil(t, b.Build())
	})

	require.Len(t, *seen, 1)
	var berr *BuildError
	require.ErrorAs(t, (*seen)[0].Err, &berr)
	assert.Equal(t, "esbuild exploded", berr.Panic)
	assert.NotEmpty(t, berr.Stack)
	assert.Contains(t, berr.Error(), "panicked")
}

func TestBuildWithoutMetafileYieldsNil(t *testing.T) {
	ctx := &scriptedContext{results: []api.BuildResult{{}, {Metafile: "{not json"}}}
	b, _ := newScripted(t, ctx)

	assert.Nil(t, b.Build())
	assert.Nil(t, b.Build())
	assert.Equal(t, 2, ctx.rebuilds)
}

func TestDisposeReleasesContext(t *testing.T) {
	ctx := &scriptedContext{}
	b, _ := newScripted(t, ctx)

	b.Dispose()
	assert.True(t, ctx.disposed)
}

func TestBuilderBundlesRealSources(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "agent"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent", "index.ts"),
		[]byte("import { greet } from './util';\nconst who: string = 'frida';\ngreet(who);\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent", "util.ts"),
		[]byte("export function greet(name: string): void { console.log('hello ' + name); }\n"), 0644))

	cfg := &config.Config{
		EntryPoint: filepath.Join(dir, "agent", "index.ts"),
		Output:     dir,
	}
	b, err := New(cfg, testr.New(t), WithWorkDir(dir))
	require.NoError(t, err)
	defer b.Dispose()

	assert.Equal(t, filepath.Join(dir, config.DefaultBundleName), b.Outfile())

	m := b.Build()
	require.NotNil(t, m)
	assert.Equal(t, []string{
		filepath.Join(dir, "agent", "index.ts"),
		filepath.Join(dir, "agent", "util.ts"),
	}, m.AbsPaths(dir))

	text, err := b.Bundle()
	require.NoError(t, err)
	assert.Contains(t, text, "hello ")
	assert.NotContains(t, text, ": string")
	assert.FileExists(t, b.Outfile()+".map")

	// A broken edit fails the rebuild without touching the last bundle.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent", "util.ts"), []byte("export function greet(\n"), 0644))
	assert.Nil(t, b.Build())

	after, err := b.Bundle()
	require.NoError(t, err)
	assert.Equal(t, text, after)
}
