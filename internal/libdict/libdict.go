// Package libdict is the central data structure connecting the
// dependency resolver/walker (spec components B/C) to the plan builder
// (spec component D): a graph of two node sets (depending files,
// depended files) and one edge collection carrying the install name,
// rather than the reference implementation's nested mapping. The
// nested-map view is kept only as an adapter for callers that want it.
package libdict

import (
	"sort"

	"github.com/matthew-brett/delocate-go/internal/deps"
	"github.com/matthew-brett/delocate-go/internal/direrrors"
)

// Edge is one dependency: depending references depended through
// installName.
type Edge struct {
	Depending   string
	Depended    string
	InstallName string
}

// LibDict is the set of edges discovered by walking a tree. Invariant
// I1/I2/I3 (spec §3): every Depended is a canonical absolute path (no
// "@"-prefixed keys), and every Depending is a file that still exists
// at the time the dict is consumed.
type LibDict struct {
	edges []Edge
}

// New returns an empty LibDict.
func New() *LibDict { return &LibDict{} }

// Add records one dependency edge.
func (d *LibDict) Add(depending, depended, installName string) {
	d.edges = append(d.edges, Edge{Depending: depending, Depended: depended, InstallName: installName})
}

// Edges returns every recorded edge.
func (d *LibDict) Edges() []Edge { return d.edges }

// DependedPaths returns the sorted, deduplicated set of depended-on
// paths (the LibDict's keys in the reference nested-map form).
func (d *LibDict) DependedPaths() []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range d.edges {
		if !seen[e.Depended] {
			seen[e.Depended] = true
			out = append(out, e.Depended)
		}
	}
	sort.Strings(out)
	return out
}

// EdgesFor returns every edge whose Depended equals path.
func (d *LibDict) EdgesFor(path string) []Edge {
	var out []Edge
	for _, e := range d.edges {
		if e.Depended == path {
			out = append(out, e)
		}
	}
	return out
}

// AsNestedMap renders the legacy depended_path -> {depending_path ->
// install_name} mapping some callers (tests, debugging output) prefer.
func (d *LibDict) AsNestedMap() map[string]map[string]string {
	out := map[string]map[string]string{}
	for _, e := range d.edges {
		inner, ok := out[e.Depended]
		if !ok {
			inner = map[string]string{}
			out[e.Depended] = inner
		}
		inner[e.Depending] = e.InstallName
	}
	return out
}

// BuildOptions configures BuildFromLibraries.
type BuildOptions struct {
	Context        deps.SearchContext
	LibFilter      deps.Filter
	CopyFilter     func(path string) bool
	IgnoreMissing  bool
}

// isSystemMiss reports whether a not-found edge is a macOS system
// library (spec §4.B: these live in the dyld shared cache and never
// exist as files, so their absence is not an error). The resolved path
// is preferred when the resolver produced one; otherwise the raw
// install name is checked directly (e.g. an absolute /usr/lib/... name
// that never resolved to an existing file).
func isSystemMiss(e deps.Dependency) bool {
	if e.ResolvedPath != "" {
		return !deps.FilterSystemLibs(e.ResolvedPath)
	}
	return !deps.FilterSystemLibs(e.InstallName)
}

// BuildFromLibraries computes the dependency edges for an already
// transitively-discovered set of libraries (as produced by
// deps.WalkDirectory). Each library's direct dependencies are looked up
// again (WalkDirectory already recursed, so every dependency is already
// present in libraries); edges whose depended path fails CopyFilter are
// dropped. Missing dependencies are batched: every one is recorded, and
// a single direrrors.Missing is returned at the end unless IgnoreMissing
// is set, so the caller sees the complete list in one failure.
func BuildFromLibraries(libraries []string, opts BuildOptions) (*LibDict, error) {
	dict := New()
	var missing []string
	for _, lib := range libraries {
		edges, err := deps.Dependencies(opts.Context, lib, opts.LibFilter)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			if !e.Found {
				if isSystemMiss(e) {
					continue
				}
				missing = append(missing, e.InstallName+" needed by "+lib)
				continue
			}
			if opts.CopyFilter != nil && !opts.CopyFilter(e.ResolvedPath) {
				continue
			}
			dict.Add(lib, e.ResolvedPath, e.InstallName)
		}
	}
	if len(missing) > 0 && !opts.IgnoreMissing {
		return nil, &direrrors.Missing{Paths: missing}
	}
	return dict, nil
}
