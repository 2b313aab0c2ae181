// Package orchestrator drives the delocation state machine
// (spec component I): unpack, analyze, plan, copy, relink, uniquify,
// retag, repack.
package orchestrator

import (
	"log/slog"
	"strings"
	"time"

	"github.com/matthew-brett/delocate-go/internal/deps"
	"github.com/matthew-brett/delocate-go/internal/macho"
	"github.com/matthew-brett/delocate-go/internal/macosver"
)

// Options is the full parameter surface the CLI exposes to the core,
// corresponding to the flag table in SPEC_FULL.md §7.
type Options struct {
	Adapter macho.Adapter
	Logger  *slog.Logger

	DylibsOnly                bool
	Exclude                   []string
	ExecutablePath            string
	IgnoreMissingDependencies bool
	SanitizeRpaths            bool
	LibSdir                   string
	CheckArchs                bool
	RequireArchs              []string
	RequireTargetMacOSVersion *macosver.Version

	SourceDateEpoch *time.Time
	Version         string // delocate-equivalent version stamped into Generator:
}

// normalizedLibSdir returns LibSdir, defaulting to ".dylibs".
func (o Options) normalizedLibSdir() string {
	if o.LibSdir == "" {
		return ".dylibs"
	}
	return o.LibSdir
}

func (o Options) libFilter() deps.Filter {
	if o.DylibsOnly {
		return deps.DylibExtensionsOnly()
	}
	return deps.AllFiles()
}

// copyFilter mirrors the reference's default copy_filt_func
// (filter_system_libs), additionally rejecting any path containing one
// of the caller's --exclude substrings.
func (o Options) copyFilter() func(path string) bool {
	return func(path string) bool {
		if !deps.FilterSystemLibs(path) {
			return false
		}
		for _, substr := range o.Exclude {
			if strings.Contains(path, substr) {
				return false
			}
		}
		return true
	}
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// requireArchSet expands the intel/universal2 shorthands used by
// require-archs into their concrete architecture names.
func requireArchSet(archs []string) map[string]bool {
	out := map[string]bool{}
	for _, a := range archs {
		switch a {
		case "intel":
			out["i386"] = true
			out["x86_64"] = true
		case "universal2":
			out["x86_64"] = true
			out["arm64"] = true
		default:
			out[a] = true
		}
	}
	return out
}
