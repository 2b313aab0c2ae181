package deps

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Dependency is one (resolved path, install name) pair yielded for a
// binary's direct dependencies. When Found is false, ResolvedPath is
// the best-effort path that does not exist, or empty when an anchored
// name matched no candidate.
type Dependency struct {
	ResolvedPath string
	InstallName  string
	Found        bool
}

func isAnchored(name string) bool {
	return strings.HasPrefix(name, "@rpath") ||
		strings.HasPrefix(name, "@loader_path") ||
		strings.HasPrefix(name, "@executable_path")
}

func isAbsolute(name string) bool {
	return strings.HasPrefix(name, "/")
}

func anchorPrefixAndRest(name string) (prefix, rest string) {
	parts := strings.SplitN(name, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// resolveDynamicPaths resolves @rpath/@loader_path/@executable_path
// references, recursively, exactly as the reference resolver does: an
// rpath entry can itself contain @loader_path, so each candidate is
// resolved again before its existence is tested. Non-anchored inputs
// (reached only through recursion) resolve to their absolute form
// unconditionally.
func resolveDynamicPaths(libPath string, rpaths []string, loaderPath, executablePath string) (string, bool) {
	if !isAnchored(libPath) {
		abs, err := filepath.Abs(libPath)
		if err != nil {
			return libPath, false
		}
		return abs, true
	}

	prefix, rest := anchorPrefixAndRest(libPath)
	var candidates []string
	switch prefix {
	case "@loader_path":
		candidates = []string{loaderPath}
	case "@executable_path":
		candidates = []string{executablePath}
	case "@rpath":
		candidates = append(candidates, rpaths...)
	}
	candidates = append(candidates, defaultSearchPaths...)

	for _, p := range candidates {
		composed := filepath.Join(p, rest)
		abs, ok := resolveDynamicPaths(composed, nil, loaderPath, executablePath)
		if !ok {
			continue
		}
		if _, err := os.Stat(abs); err == nil {
			if real, err := filepath.EvalSymlinks(abs); err == nil {
				return real, true
			}
			return abs, true
		}
	}
	return "", false
}

// searchEnvironmentForLib follows the 3-step order Apple documents for
// resolving a bare (non-anchored, non-absolute) library name:
// DYLD_LIBRARY_PATH, then realpath(name), then
// DYLD_FALLBACK_LIBRARY_PATH. Returns realpath(name) even when nothing
// was found, mirroring the reference behavior of returning a
// best-effort path the caller then discovers is missing.
func searchEnvironmentForLib(ctx SearchContext, name string) string {
	base := filepath.Base(name)
	candidates := make([]string, 0, len(ctx.DyldLibraryPath)+1+len(ctx.DyldFallback))
	for _, dir := range ctx.DyldLibraryPath {
		candidates = append(candidates, filepath.Join(dir, base))
	}
	if abs, err := filepath.Abs(name); err == nil {
		candidates = append(candidates, abs)
	} else {
		candidates = append(candidates, name)
	}
	for _, dir := range ctx.DyldFallback {
		candidates = append(candidates, filepath.Join(dir, base))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			if real, err := filepath.EvalSymlinks(c); err == nil {
				return real
			}
			return c
		}
	}
	abs, err := filepath.Abs(name)
	if err != nil {
		return name
	}
	return abs
}

// Dependencies yields the real paths of every direct dependency of
// libPath, resolved per the anchored/bare/absolute rules, deduplicated
// by install name across architectures (the same name listed under
// multiple arch slices is reported once). If filt.Allows(libPath) is
// false, nothing is yielded at all.
func Dependencies(ctx SearchContext, libPath string, filt Filter) ([]Dependency, error) {
	if !filt.Allows(libPath) {
		return nil, nil
	}
	if _, err := os.Stat(libPath); err != nil {
		if !FilterSystemLibs(libPath) {
			return nil, nil
		}
		return nil, err
	}

	rpaths, err := ctx.Adapter.Rpaths(libPath)
	if err != nil {
		return nil, err
	}
	allRpaths := append(append([]string{}, rpaths...), append(ctx.DyldLibraryPath, ctx.DyldFallback...)...)

	names, err := ctx.Adapter.InstallNames(libPath)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	loaderPath := filepath.Dir(libPath)
	var deps []Dependency
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		var resolved string
		var ok bool
		if isAnchored(name) {
			resolved, ok = resolveDynamicPaths(name, allRpaths, loaderPath, ctx.ExecutablePath)
		} else if isAbsolute(name) {
			if abs, err := filepath.EvalSymlinks(name); err == nil {
				resolved, ok = abs, true
			} else if abs, err := filepath.Abs(name); err == nil {
				resolved, ok = abs, true
			}
		} else {
			resolved, ok = searchEnvironmentForLib(ctx, name), true
		}

		if !ok || !pathExists(resolved) {
			systemLib := resolved != "" && !FilterSystemLibs(resolved)
			if resolved == "" && !FilterSystemLibs(name) {
				systemLib = true
			}
			if !systemLib {
				slog.Error("dependency not found", "install_name", name, "needed_by", libPath)
			}
			deps = append(deps, Dependency{ResolvedPath: resolved, InstallName: name, Found: false})
			continue
		}
		deps = append(deps, Dependency{ResolvedPath: resolved, InstallName: name, Found: true})
	}
	return deps, nil
}

func pathExists(p string) bool {
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}
