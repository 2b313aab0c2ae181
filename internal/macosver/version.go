// Package macosver represents macOS major.minor deployment-target
// versions and compares them through github.com/aquasecurity/go-version,
// the general-purpose dotted-version comparator the rest of the pack
// relies on.
package macosver

import (
	"fmt"
	"strconv"
	"strings"

	goversion "github.com/aquasecurity/go-version/pkg/version"
)

// Version is a macOS major.minor pair, e.g. 11.0 or 10.15.
type Version struct {
	Major int
	Minor int
}

// New builds a Version directly from its components.
func New(major, minor int) Version {
	return Version{Major: major, Minor: minor}
}

// ParseDotted parses a "12.0"-style string.
func ParseDotted(s string) (Version, error) {
	parts := strings.SplitN(s, ".", 2)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return Version{}, fmt.Errorf("macosver: invalid version %q: %w", s, err)
	}
	minor := 0
	if len(parts) == 2 {
		minor, err = strconv.Atoi(parts[1])
		if err != nil {
			return Version{}, fmt.Errorf("macosver: invalid version %q: %w", s, err)
		}
	}
	return Version{Major: major, Minor: minor}, nil
}

// ParseTag parses a "12_0"-style platform-tag fragment.
func ParseTag(s string) (Version, error) {
	return ParseDotted(strings.ReplaceAll(s, "_", "."))
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Tag renders the version the way a wheel platform tag does:
// underscore-separated, with the minor component forced to 0 once
// major reaches 11 (Big Sur and later macOS releases dropped minor
// versioning), unless overridden by the caller.
func (v Version) Tag(forceZeroMinor bool) string {
	minor := v.Minor
	if forceZeroMinor && v.Major >= 11 {
		minor = 0
	}
	return fmt.Sprintf("%d_%d", v.Major, minor)
}

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater
// than other.
func (v Version) Compare(other Version) int {
	a, errA := goversion.Parse(v.String())
	b, errB := goversion.Parse(other.String())
	if errA != nil || errB != nil {
		// Both operands are always produced by ParseDotted/New so this
		// path is unreachable in practice; fall back to a direct
		// comparison rather than losing the result.
		if v.Major != other.Major {
			return sign(v.Major - other.Major)
		}
		return sign(v.Minor - other.Minor)
	}
	return a.Compare(b)
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

// GreaterThan reports whether v > other.
func (v Version) GreaterThan(other Version) bool { return v.Compare(other) > 0 }

// Max returns the greater of v and other.
func Max(v, other Version) Version {
	if v.GreaterThan(other) {
		return v
	}
	return other
}
