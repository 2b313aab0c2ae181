package delocate

import (
	"sort"

	"github.com/matthew-brett/delocate-go/internal/direrrors"
	"github.com/matthew-brett/delocate-go/internal/libdict"
	"github.com/matthew-brett/delocate-go/internal/macho"
)

// CheckArchsOptions configures CheckArchs.
type CheckArchsOptions struct {
	Adapter macho.Adapter
	// RequireArchs, when non-empty, additionally requires that every
	// depending file in the dict supports each named architecture
	// (the 2-tuple report), independent of any depended-library check.
	RequireArchs []string
	// StopFast returns the first incompatibility found instead of the
	// complete report.
	StopFast bool
}

// CheckArchs implements spec component F: every depended library must
// support every architecture its depending file(s) need. Reports come in
// two shapes: a depending file missing one of RequireArchs (2-tuple), or
// a depended file missing an architecture a depending file has (3-tuple).
func CheckArchs(dict *libdict.LibDict, opts CheckArchsOptions) error {
	archCache := map[string]map[string]bool{}
	archsOf := func(path string) (map[string]bool, error) {
		if a, ok := archCache[path]; ok {
			return a, nil
		}
		a, err := opts.Adapter.Archs(path)
		if err != nil {
			return nil, err
		}
		archCache[path] = a
		return a, nil
	}

	var entries []direrrors.ArchMismatchEntry

	dependingSet := map[string]bool{}
	for _, e := range dict.Edges() {
		dependingSet[e.Depending] = true
	}
	var dependingFiles []string
	for f := range dependingSet {
		dependingFiles = append(dependingFiles, f)
	}
	sort.Strings(dependingFiles)

	if len(opts.RequireArchs) > 0 {
		for _, f := range dependingFiles {
			archs, err := archsOf(f)
			if err != nil {
				return err
			}
			var missing []string
			for _, want := range opts.RequireArchs {
				if !archs[want] {
					missing = append(missing, want)
				}
			}
			if len(missing) > 0 {
				entry := direrrors.ArchMismatchEntry{Depending: f, Missing: missing}
				if opts.StopFast {
					return &direrrors.ArchMismatch{Entries: []direrrors.ArchMismatchEntry{entry}}
				}
				entries = append(entries, entry)
			}
		}
	}

	for _, depended := range dict.DependedPaths() {
		dependedArchs, err := archsOf(depended)
		if err != nil {
			return err
		}
		for _, e := range dict.EdgesFor(depended) {
			archs, err := archsOf(e.Depending)
			if err != nil {
				return err
			}
			var missing []string
			for a := range archs {
				if !dependedArchs[a] {
					missing = append(missing, a)
				}
			}
			if len(missing) > 0 {
				sort.Strings(missing)
				entry := direrrors.ArchMismatchEntry{Depended: depended, Depending: e.Depending, Missing: missing}
				if opts.StopFast {
					return &direrrors.ArchMismatch{Entries: []direrrors.ArchMismatchEntry{entry}}
				}
				entries = append(entries, entry)
			}
		}
	}

	if len(entries) > 0 {
		return &direrrors.ArchMismatch{Entries: entries}
	}
	return nil
}
