// Package platformtag implements the architecture-version-map
// packing/unpacking rules and the wheel platform-tag reconciliation
// algorithm (spec component G).
package platformtag

import "github.com/matthew-brett/delocate-go/internal/macosver"

// ArchVersions maps an architecture name (including the packed forms
// "universal2" and "intel") to its minimum macOS version.
type ArchVersions map[string]macosver.Version

// Unpack expands packed architecture names into their constituent
// single-architecture entries. universal2 unpacks to x86_64 (same
// version) and arm64 (max(version, 11.0), since arm64 binaries always
// require macOS 11 regardless of a lower stated target). intel unpacks
// to i386 and x86_64 at the same version. Both operations run in this
// fixed order so that a packed input containing both keys unpacks
// deterministically.
func Unpack(in ArchVersions) ArchVersions {
	out := make(ArchVersions, len(in))
	for k, v := range in {
		out[k] = v
	}
	if v, ok := out["universal2"]; ok {
		out["x86_64"] = v
		out["arm64"] = macosver.Max(v, macosver.New(11, 0))
		delete(out, "universal2")
	}
	if v, ok := out["intel"]; ok {
		out["i386"] = v
		out["x86_64"] = v
		delete(out, "intel")
	}
	return out
}

// Pack is the inverse of Unpack: it combines x86_64/arm64 into
// universal2 and i386/x86_64 into intel wherever their versions allow
// it. universal2-packing runs before intel-packing, so an input
// containing i386, x86_64, and arm64 all at the same version packs to
// {i386, universal2} rather than {intel, arm64}: the universal2 rule
// consumes x86_64 before the intel rule gets a chance to see it.
func Pack(in ArchVersions) ArchVersions {
	out := make(ArchVersions, len(in))
	for k, v := range in {
		out[k] = v
	}
	x86, hasX86 := out["x86_64"]
	arm, hasArm := out["arm64"]
	if hasX86 && hasArm && (x86.Compare(arm) == 0 || arm.Compare(macosver.New(11, 0)) == 0) {
		out["universal2"] = x86
		delete(out, "x86_64")
		delete(out, "arm64")
	}
	i386, hasI386 := out["i386"]
	x86, hasX86 = out["x86_64"]
	if hasI386 && hasX86 && i386.Compare(x86) == 0 {
		out["intel"] = i386
		delete(out, "i386")
		delete(out, "x86_64")
	}
	return out
}
