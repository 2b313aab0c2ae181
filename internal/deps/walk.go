package deps

import (
	"os"
	"path/filepath"
)

// WalkLibrary yields lib then every transitive dependency of lib that
// passes filt, without duplicates. visited is updated in place; pass an
// empty set (not nil) to get a fresh walk, or share one set across
// multiple calls to dedupe across several starting libraries (as
// WalkDirectory does).
func WalkLibrary(ctx SearchContext, lib string, filt Filter, visited map[string]bool) ([]string, error) {
	if visited[lib] {
		return nil, nil
	}
	visited[lib] = true
	if !filt.Allows(lib) {
		return nil, nil
	}
	out := []string{lib}
	deps, err := Dependencies(ctx, lib, filt)
	if err != nil {
		return nil, err
	}
	for _, d := range deps {
		if !d.Found {
			continue
		}
		more, err := WalkLibrary(ctx, d.ResolvedPath, filt, visited)
		if err != nil {
			return nil, err
		}
		out = append(out, more...)
	}
	return out, nil
}

// WalkDirectory yields the union, without duplicates, of WalkLibrary
// over every file under root.
func WalkDirectory(ctx SearchContext, root string, filt Filter) ([]string, error) {
	visited := map[string]bool{}
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		real, err := filepath.EvalSymlinks(path)
		if err != nil {
			real = path
		}
		if visited[real] {
			return nil
		}
		if !filt.Allows(real) {
			return nil
		}
		libs, err := WalkLibrary(ctx, real, filt, visited)
		if err != nil {
			return err
		}
		out = append(out, libs...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
