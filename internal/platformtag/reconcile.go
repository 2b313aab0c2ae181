package platformtag

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/matthew-brett/delocate-go/internal/direrrors"
	"github.com/matthew-brett/delocate-go/internal/macosver"
)

var tagRe = regexp.MustCompile(`^macosx_(\d+)_(\d+)_(\w+)$`)

// ParsePlatformTags splits a wheel filename's {plat} component (e.g.
// "macosx_10_9_x86_64.macosx_11_0_arm64") into one ArchVersions entry
// per dot-separated tag.
func ParsePlatformTags(plat string) (ArchVersions, error) {
	out := ArchVersions{}
	for _, tag := range strings.Split(plat, ".") {
		m := tagRe.FindStringSubmatch(tag)
		if m == nil {
			return nil, &direrrors.InvalidPlatformTag{Tag: tag}
		}
		major, _ := strconv.Atoi(m[1])
		minor, _ := strconv.Atoi(m[2])
		out[m[3]] = macosver.New(major, minor)
	}
	// A bare {arm64, x86_64} pair (unpacked form, no packed tag present)
	// is treated as a universal2 claim: arm64's baseline of 11.0 doesn't
	// carry useful version information on its own, so prefer x86_64's
	// version when arm64 sits exactly at the 11.0 floor.
	if len(out) == 2 {
		arm, hasArm := out["arm64"]
		x86, hasX86 := out["x86_64"]
		if hasArm && hasX86 {
			version := arm
			if version.Compare(macosver.New(11, 0)) == 0 {
				version = x86
			}
			out = ArchVersions{"universal2": version}
		}
	}
	return out, nil
}

// LibraryMinOS is one (path, arch, version) reading aggregated from
// walking every file in the unpacked wheel (spec 4.G step 1).
type LibraryMinOS struct {
	Path    string
	Arch    string
	Version macosver.Version
}

// Result is the outcome of reconciling a wheel's platform tag against
// its bundled binaries.
type Result struct {
	Tag          string // dot-joined macosx_{major}_{minor}_{arch} tags
	Warnings     []string
	Incompatible []direrrors.IncompatibleLib
}

// versionLibs groups every bundled library that shares one minimum
// macOS version within a single architecture.
type versionLibs struct {
	version macosver.Version
	libs    []string
}

// Reconcile implements spec component G end to end: given the wheel's
// claimed architecture/version map (already unpacked) and every bundled
// library's per-arch minimum OS reading, compute the new platform tag
// set, or return OsTooOld/MissingArch.
func Reconcile(claimed ArchVersions, libraries []LibraryMinOS, requireTarget *macosver.Version) (Result, error) {
	byArch := map[string][]versionLibs{}
	addLib := func(arch string, version macosver.Version, path string) {
		arch = strings.ToLower(arch)
		group := byArch[arch]
		for i := range group {
			if group[i].version.Compare(version) == 0 {
				group[i].libs = append(group[i].libs, path)
				byArch[arch] = group
				return
			}
		}
		byArch[arch] = append(group, versionLibs{version: version, libs: []string{path}})
	}
	for _, lib := range libraries {
		addLib(lib.Arch, lib.Version, lib.Path)
	}

	archVersion := ArchVersions{}
	for arch, group := range byArch {
		max := group[0].version
		for _, g := range group[1:] {
			max = macosver.Max(max, g.version)
		}
		archVersion[arch] = max
	}

	var incompatible []direrrors.IncompatibleLib
	for arch, group := range byArch {
		incompatible = append(incompatible, incompatibleLibs(requireTarget, group, arch)...)
	}
	if len(incompatible) > 0 {
		sort.Slice(incompatible, func(i, j int) bool { return incompatible[i].Path < incompatible[j].Path })
		minValid := *requireTarget
		for _, lib := range incompatible {
			if v, err := macosver.ParseDotted(lib.Version); err == nil {
				minValid = macosver.Max(minValid, v)
			}
		}
		return Result{}, &direrrors.OsTooOld{
			RequiredVersion: requireTarget.String(),
			Incompatible:    incompatible,
			MinValidVersion: minValid.String(),
		}
	}

	var missing []string
	for arch := range claimed {
		if _, ok := archVersion[arch]; !ok {
			missing = append(missing, arch)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Result{}, &direrrors.MissingArch{Archs: missing}
	}

	for arch := range archVersion {
		if _, claimedOK := claimed[arch]; !claimedOK {
			delete(archVersion, arch)
		}
	}

	var warnings []string
	packed := Pack(archVersion)
	archs := make([]string, 0, len(packed))
	for arch := range packed {
		archs = append(archs, arch)
	}
	sort.Strings(archs)

	var tags []string
	for _, arch := range archs {
		version := packed[arch]
		if requireTarget != nil {
			version = macosver.Max(version, *requireTarget)
		} else if version.Major >= 11 && version.Minor > 0 {
			warnings = append(warnings, fmt.Sprintf(
				"wheel will be tagged as supporting macOS %d, but will not support macOS versions older than %d.%d; "+
					"configure a target macOS version to suppress this warning",
				version.Major, version.Major, version.Minor))
		}
		minor := version.Minor
		if version.Major >= 11 {
			minor = 0
		}
		tags = append(tags, fmt.Sprintf("macosx_%d_%d_%s", version.Major, minor, arch))
	}

	return Result{Tag: strings.Join(tags, "."), Warnings: warnings, Incompatible: incompatible}, nil
}

func incompatibleLibs(required *macosver.Version, group []versionLibs, arch string) []direrrors.IncompatibleLib {
	if required == nil {
		return nil
	}
	req := *required
	if arch == "arm64" && req.Compare(macosver.New(11, 0)) < 0 {
		req = macosver.New(11, 0)
	}
	var out []direrrors.IncompatibleLib
	for _, g := range group {
		if g.version.GreaterThan(req) {
			for _, lib := range g.libs {
				out = append(out, direrrors.IncompatibleLib{Path: lib, Version: g.version.String()})
			}
		}
	}
	return out
}
