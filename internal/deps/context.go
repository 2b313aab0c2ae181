// Package deps implements the Mach-O dependency resolver (spec
// component B) and the tree walker that drives it over a directory
// (spec component C).
package deps

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/matthew-brett/delocate-go/internal/macho"
)

// Filter replaces the reference implementation's dynamically-typed filter callback
// (a predicate, the sentinel string "dylibs-only", or nothing) with a
// tagged variant consumed uniformly by the resolver and walker.
type Filter struct {
	kind      filterKind
	predicate func(path string) bool
}

type filterKind int

const (
	filterAll filterKind = iota
	filterDylibsOnly
	filterPredicate
)

// AllFiles inspects every file regardless of extension.
func AllFiles() Filter { return Filter{kind: filterAll} }

// DylibExtensionsOnly inspects only files ending .so or .dylib.
func DylibExtensionsOnly() Filter { return Filter{kind: filterDylibsOnly} }

// Predicate wraps an arbitrary decision function.
func Predicate(fn func(path string) bool) Filter {
	return Filter{kind: filterPredicate, predicate: fn}
}

// Allows reports whether path should be inspected (and, when false,
// whether its dependencies should be pruned from the walk).
func (f Filter) Allows(path string) bool {
	switch f.kind {
	case filterDylibsOnly:
		ext := strings.ToLower(filepath.Ext(path))
		return ext == ".so" || ext == ".dylib"
	case filterPredicate:
		return f.predicate(path)
	default:
		return true
	}
}

// FilterSystemLibs is false only for paths under /usr/lib or /System:
// macOS system libraries live in the dyld shared cache and are never
// copied, regardless of what lib_filt_func/copy_filt_func decide.
func FilterSystemLibs(path string) bool {
	return !(strings.HasPrefix(path, "/usr/lib") || strings.HasPrefix(path, "/System"))
}

// SearchContext gathers the module-global state the reference
// implementation scatters across functions (environment-variable
// lookups) into one value constructed once at the orchestrator
// boundary and threaded through the resolver and walker.
type SearchContext struct {
	Adapter         macho.Adapter
	ExecutablePath  string
	DyldLibraryPath []string
	DyldFallback    []string
}

// NewSearchContext builds a SearchContext from the process environment,
// exactly as the reference implementation reads DYLD_LIBRARY_PATH and
// DYLD_FALLBACK_LIBRARY_PATH once per resolution.
func NewSearchContext(adapter macho.Adapter, executablePath string) SearchContext {
	return SearchContext{
		Adapter:         adapter,
		ExecutablePath:  executablePath,
		DyldLibraryPath: pathsFromVar("DYLD_LIBRARY_PATH"),
		DyldFallback:    pathsFromVar("DYLD_FALLBACK_LIBRARY_PATH"),
	}
}

func pathsFromVar(name string) []string {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	return strings.Split(v, ":")
}

var defaultSearchPaths = []string{"/usr/local/lib", "/usr/lib"}
