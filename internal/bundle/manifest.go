package bundle

import (
	"path/filepath"
	"sort"
	"strings"
)

// Import is one import edge recorded by the bundler.
type Import struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external,omitempty"`
	Original string `json:"original,omitempty"`
}

// Input describes one source file consumed by a build.
type Input struct {
	Bytes   int      `json:"bytes"`
	Imports []Import `json:"imports"`
	Format  string   `json:"format,omitempty"`
}

// Manifest maps every source file of the last build, as the bundler names
// it, to its metadata.
type Manifest map[string]Input

// metafile is the subset of the bundler's metafile we read.
type metafile struct {
	Inputs  Manifest `json:"inputs"`
	Outputs map[string]struct {
		Bytes int `json:"bytes"`
	} `json:"outputs"`
}

// AbsPaths returns the on-disk files of m joined against root, sorted.
// Virtual modules that have no file behind them are skipped.
func (m Manifest) AbsPaths(root string) []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		if isVirtual(p) {
			continue
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, filepath.FromSlash(p))
		}
		paths = append(paths, filepath.Clean(p))
	}
	sort.Strings(paths)
	return paths
}

func isVirtual(p string) bool {
	return strings.HasPrefix(p, "<") || strings.HasPrefix(p, "(disabled)")
}
