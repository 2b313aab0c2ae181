// Package direrrors collects the typed, fatal error kinds the
// delocation pipeline surfaces to its caller. Every wheel-level failure
// is one of these; nothing here is retried by the orchestrator.
package direrrors

import (
	"fmt"
	"strings"
)

// Unresolved means a LibDict contained an anchored (@rpath/@loader_path/
// @executable_path) key: the resolver failed to turn it into a
// canonical path before the plan builder saw it.
type Unresolved struct {
	Name string
}

func (e *Unresolved) Error() string {
	return fmt.Sprintf("delocate: unresolved dependency reference %q", e.Name)
}

// Missing means an out-of-tree dependency file does not exist, is not a
// system library, and ignore-missing was not requested.
type Missing struct {
	Paths []string
}

func (e *Missing) Error() string {
	return fmt.Sprintf("delocate: could not find dependencies:\n%s", strings.Join(e.Paths, "\n"))
}

// Collision means two copy candidates share a basename.
type Collision struct {
	Basename string
	Paths    []string
}

func (e *Collision) Error() string {
	return fmt.Sprintf("delocate: multiple dependencies named %q would collide in the bundle directory: %s",
		e.Basename, strings.Join(e.Paths, ", "))
}

// Occupied means the bundle directory pre-existed with contents and a
// copy was required.
type Occupied struct {
	Dir string
}

func (e *Occupied) Error() string {
	return fmt.Sprintf("delocate: bundle directory %q already exists and is not empty", e.Dir)
}

// ArchMismatchEntry is one reported incompatibility from the
// architecture checker: either a 2-tuple (depending file missing a
// required architecture) or a 3-tuple (depended file missing an
// architecture needed by a depending file).
type ArchMismatchEntry struct {
	Depended  string // empty for the 2-tuple form
	Depending string
	Missing   []string
}

func (e ArchMismatchEntry) String() string {
	if e.Depended == "" {
		return fmt.Sprintf("%s is missing required architectures %s", e.Depending, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("%s needs %s to support %s", e.Depending, e.Depended, strings.Join(e.Missing, ", "))
}

// ArchMismatch reports every architecture incompatibility found by the
// checker (spec component F); it is only raised when the set is
// non-empty.
type ArchMismatch struct {
	Entries []ArchMismatchEntry
}

func (e *ArchMismatch) Error() string {
	lines := make([]string, len(e.Entries))
	for i, entry := range e.Entries {
		lines[i] = entry.String()
	}
	return "delocate: architecture mismatch:\n" + strings.Join(lines, "\n")
}

// MissingArch means the wheel filename claims an architecture that no
// bundled binary actually has.
type MissingArch struct {
	Archs []string
}

func (e *MissingArch) Error() string {
	return fmt.Sprintf("delocate: failed to find any binary with the required architecture: %s",
		strings.Join(e.Archs, ", "))
}

// IncompatibleLib is one bundled library whose minimum macOS version
// exceeds a caller-supplied target.
type IncompatibleLib struct {
	Path    string
	Version string
}

// OsTooOld means at least one bundled binary requires a higher macOS
// version than require_target_macos_version. The message format below
// is load-bearing: callers match on its exact substrings.
type OsTooOld struct {
	RequiredVersion string
	Incompatible    []IncompatibleLib
	MinValidVersion string
}

func (e *OsTooOld) Error() string {
	lines := make([]string, len(e.Incompatible))
	for i, lib := range e.Incompatible {
		lines[i] = fmt.Sprintf("%s has a minimum target of %s", lib.Path, lib.Version)
	}
	return fmt.Sprintf(
		"Library dependencies do not satisfy target MacOS version %s:\n%s\n"+
			"Set the environment variable 'MACOSX_DEPLOYMENT_TARGET=%s' to update minimum supported macOS for this wheel.",
		e.RequiredVersion, strings.Join(lines, "\n"), e.MinValidVersion,
	)
}

// CannotTagPure means a retag was attempted on a wheel whose WHEEL file
// declares Root-Is-Purelib: true.
type CannotTagPure struct {
	Wheel string
}

func (e *CannotTagPure) Error() string {
	return fmt.Sprintf("delocate: %s is a pure wheel; its platform tag cannot be changed", e.Wheel)
}

// InvalidWheelFilename means a string did not parse as
// {name}-{version}(-{build})?-{pyver}-{abi}-{plat}.whl.
type InvalidWheelFilename struct {
	Name string
}

func (e *InvalidWheelFilename) Error() string {
	return fmt.Sprintf("delocate: invalid wheel filename %q", e.Name)
}

// InvalidPlatformTag means a platform-tag fragment did not parse as
// macosx_{major}_{minor}_{arch}.
type InvalidPlatformTag struct {
	Tag string
}

func (e *InvalidPlatformTag) Error() string {
	return fmt.Sprintf("delocate: invalid platform tag %q", e.Tag)
}
