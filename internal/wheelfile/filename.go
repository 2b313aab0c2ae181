// Package wheelfile handles everything about a wheel as a PEP 427 zip
// archive: filename parsing/building, the WHEEL metadata file, the
// RECORD manifest, and the zip container itself.
package wheelfile

import (
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"

	"github.com/matthew-brett/delocate-go/internal/direrrors"
)

// Name is a parsed wheel filename:
// {distribution}-{version}(-{build})?-{pyver}-{abi}-{platform}.whl
type Name struct {
	Distribution string
	Version      string
	Build        string // empty if absent
	PyVersion    string
	ABI          string
	Platform     string // "." separated tag set, as it appeared
}

// ParseName parses a wheel filename into its components, validating the
// version component against PEP 440 (the component most likely to be
// mistaken for a build tag when the build tag is absent).
func ParseName(filename string) (Name, error) {
	base := strings.TrimSuffix(filename, ".whl")
	parts := strings.Split(base, "-")
	if len(parts) != 5 && len(parts) != 6 {
		return Name{}, &direrrors.InvalidWheelFilename{Name: filename}
	}

	n := Name{Distribution: parts[0], Version: parts[1]}
	rest := parts[2:]
	if len(rest) == 4 {
		n.Build = rest[0]
		rest = rest[1:]
	}
	n.PyVersion, n.ABI, n.Platform = rest[0], rest[1], rest[2]

	if _, err := pep440.Parse(n.Version); err != nil {
		return Name{}, &direrrors.InvalidWheelFilename{Name: filename}
	}
	return n, nil
}

// String renders the wheel filename, including the .whl suffix.
func (n Name) String() string {
	parts := []string{n.Distribution, n.Version}
	if n.Build != "" {
		parts = append(parts, n.Build)
	}
	parts = append(parts, n.PyVersion, n.ABI, n.Platform)
	return strings.Join(parts, "-") + ".whl"
}

// WithPlatform returns a copy of n with a new platform tag component.
func (n Name) WithPlatform(plat string) Name {
	n.Platform = plat
	return n
}

// PlatformTags splits the "." separated platform component into its
// individual macosx_{major}_{minor}_{arch} tags.
func (n Name) PlatformTags() []string {
	return strings.Split(n.Platform, ".")
}
