// Package macho adapts install-name, rpath, architecture, and signature
// operations on a single Mach-O file to the host otool/install_name_tool/
// lipo/codesign toolchain.
package macho

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// ErrNotFound is returned by ChangeInstallName when old is not a
// reference in the target file.
var ErrNotFound = errors.New("macho: install name not found")

// ErrNoInstallID is returned by SetInstallID when the file has no
// LC_ID_DYLIB (bundles and executables never do).
var ErrNoInstallID = errors.New("macho: file has no install id")

// ErrSignatureInvalid is returned when a signature could not be
// repaired with an ad-hoc replacement.
var ErrSignatureInvalid = errors.New("macho: invalid signature could not be replaced")

// MinOSVersion is a single (architecture, major, minor) load-command
// reading, independent of any packed/unpacked representation.
type MinOSVersion struct {
	Arch  string
	Major int
	Minor int
}

// Adapter is the contract the core consumes for Mach-O inspection and
// mutation. The byte-level implementation is a collaborator; these
// signatures are the core's obligations to it (spec §4.A).
type Adapter interface {
	InstallNames(path string) ([]string, error)
	InstallID(path string) (string, bool, error)
	Rpaths(path string) ([]string, error)
	Archs(path string) (map[string]bool, error)
	MinOS(path string) ([]MinOSVersion, error)
	ChangeInstallName(path, old, new string) error
	SetInstallID(path, newID string) error
	RemoveAbsoluteRpaths(path string) error
	ValidateSignature(path string) error
	LipoFuse(inPath1, inPath2, outPath string) error
}

// Executor runs an external command and returns its stdout and
// stderr separately, mirroring the host toolchain. It is a field, not a
// constructor argument, so tests can substitute a fake without a DI
// container.
type Executor func(name string, args ...string) (stdout, stderr []byte, err error)

// OsxAdapter is the default Adapter, shelling out to the Xcode command
// line tools exactly as the reference delocate implementation does.
type OsxAdapter struct {
	Exec Executor
}

// NewOsxAdapter returns an OsxAdapter that runs real subprocesses.
func NewOsxAdapter() *OsxAdapter {
	return &OsxAdapter{Exec: runCommand}
}

var _ Adapter = (*OsxAdapter)(nil)

func runCommand(name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.Command(name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

var badObjectStrings = []string{
	"is not an object file",
	"The end of the file was unexpectedly encountered",
	"The file was not recognized as a valid object file",
	"Invalid data was encountered while parsing the file",
	"Object is not a Mach-O file type",
}

// cmdOutErr runs cmd and returns stdout split on lines, falling back to
// stderr when stdout is empty (otool reports "not an object" on stderr).
func (a *OsxAdapter) cmdOutErr(args ...string) ([]string, error) {
	out, errb, err := a.Exec(args[0], args[1:]...)
	_ = err // otool exits non-zero for some inputs; inspect output instead
	text := out
	if len(bytes.TrimSpace(text)) == 0 {
		text = errb
	}
	return strings.Split(strings.TrimRight(string(text), "\n"), "\n"), nil
}

func line0SaysObject(line0, filename string) (bool, error) {
	line0 = strings.TrimSpace(line0)
	for _, candidate := range badObjectStrings {
		if strings.Contains(line0, candidate) {
			return false, nil
		}
	}
	if strings.HasPrefix(line0, "Archive :") {
		return false, nil
	}
	if !strings.HasPrefix(line0, filename+":") {
		return false, fmt.Errorf("macho: unexpected first line: %s", line0)
	}
	rest := line0[len(filename)+1:]
	if rest == "" {
		return true, nil
	}
	return false, fmt.Errorf("macho: unrecognized otool report %q", rest)
}

var installNameRe = regexp.MustCompile(`(.*) \(compatibility version (\d+\.\d+\.\d+), current version (\d+\.\d+\.\d+)\)`)

func parseInstallNameLine(line string) (string, bool) {
	m := installNameRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// InstallNames returns install names from the library named by path, in
// load-command order, excluding the library's own install id if present.
func (a *OsxAdapter) InstallNames(path string) ([]string, error) {
	lines, err := a.cmdOutErr("otool", "-L", path)
	if err != nil {
		return nil, err
	}
	ok, err := line0SaysObject(lines[0], path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var names []string
	for _, line := range lines[1:] {
		if name, ok := parseInstallNameLine(line); ok {
			names = append(names, name)
		}
	}
	id, hasID, err := a.InstallID(path)
	if err != nil {
		return nil, err
	}
	if hasID && len(names) > 0 && names[0] == id {
		return names[1:], nil
	}
	return names, nil
}

// InstallID returns the library's own LC_ID_DYLIB, if any.
func (a *OsxAdapter) InstallID(path string) (string, bool, error) {
	lines, err := a.cmdOutErr("otool", "-D", path)
	if err != nil {
		return "", false, err
	}
	ok, err := line0SaysObject(lines[0], path)
	if err != nil {
		return "", false, err
	}
	if !ok || len(lines) == 1 {
		return "", false, nil
	}
	if len(lines) != 2 {
		return "", false, fmt.Errorf("macho: unexpected otool -D output for %s", path)
	}
	return strings.TrimSpace(lines[1]), true, nil
}

var rpathRe = regexp.MustCompile(`path (.*) \(offset \d+\)`)

// Rpaths returns every LC_RPATH entry in load-command order.
func (a *OsxAdapter) Rpaths(path string) ([]string, error) {
	lines, err := a.cmdOutErr("otool", "-l", path)
	if err != nil {
		return nil, nil
	}
	ok, err := line0SaysObject(lines[0], path)
	if err != nil || !ok {
		return nil, nil
	}
	var paths []string
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) != "cmd LC_RPATH" {
			continue
		}
		if i+2 >= len(lines) {
			break
		}
		pathLine := strings.TrimSpace(lines[i+2])
		m := rpathRe.FindStringSubmatch(pathLine)
		if m != nil {
			paths = append(paths, m[1])
		}
		i += 2
	}
	return paths, nil
}

// Archs returns the set of architecture slices in the fat or thin file
// at path.
func (a *OsxAdapter) Archs(path string) (map[string]bool, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("macho: %s is not a file: %w", path, err)
	}
	out, _, err := a.Exec("lipo", "-info", path)
	if err != nil {
		return map[string]bool{}, nil
	}
	var lines []string
	for _, l := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, strings.TrimSpace(l))
		}
	}
	if len(lines) == 0 {
		return map[string]bool{}, nil
	}
	line := lines[0]
	if line == fmt.Sprintf("input file %s is not a fat file", path) && len(lines) > 1 {
		line = lines[1]
	}
	const nonFatPrefix = "Non-fat file: "
	const fatPrefix = "Architectures in the fat file: "
	var fields string
	switch {
	case strings.HasPrefix(line, nonFatPrefix) && strings.Contains(line, "is architecture:"):
		parts := strings.SplitN(line, "is architecture:", 2)
		if len(parts) == 2 {
			fields = strings.TrimSpace(parts[1])
		}
	case strings.HasPrefix(line, fatPrefix) && strings.Contains(line, "are:"):
		parts := strings.SplitN(line, "are:", 2)
		if len(parts) == 2 {
			fields = strings.TrimSpace(parts[1])
		}
	default:
		return nil, fmt.Errorf("macho: unexpected lipo -info output %q for %s", string(out), path)
	}
	archs := map[string]bool{}
	for _, f := range strings.Fields(fields) {
		archs[f] = true
	}
	return archs, nil
}

// minOSRe parses LC_VERSION_MIN_MACOSX/LC_BUILD_VERSION stanzas from
// `otool -l` output. LC_BUILD_VERSION reports the minimum as a "minos"
// field and LC_VERSION_MIN_MACOSX as a "version" field; build version
// additionally reports "platform" which we ignore (macOS-only core).
var minOSRe = regexp.MustCompile(`^(?:minos|version) (\d+)\.(\d+)(?:\.\d+)?$`)

// MinOS returns the per-architecture minimum macOS version declared by
// LC_BUILD_VERSION or LC_VERSION_MIN_MACOSX load commands.
func (a *OsxAdapter) MinOS(path string) ([]MinOSVersion, error) {
	archs, err := a.Archs(path)
	if err != nil {
		return nil, err
	}
	out, _, err := a.Exec("otool", "-arch", "all", "-l", path)
	if err != nil {
		return nil, fmt.Errorf("macho: otool -l %s: %w", path, err)
	}
	var versions []MinOSVersion
	currentArch := ""
	archHeader := regexp.MustCompile(`^.* \(architecture (\S+)\):$`)
	for _, line := range strings.Split(string(out), "\n") {
		trimmed := strings.TrimSpace(line)
		if m := archHeader.FindStringSubmatch(trimmed); m != nil {
			currentArch = m[1]
			continue
		}
		m := minOSRe.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		major, _ := strconv.Atoi(m[1])
		minor, _ := strconv.Atoi(m[2])
		arch := currentArch
		if arch == "" {
			for a := range archs {
				arch = a
			}
		}
		versions = append(versions, MinOSVersion{Arch: arch, Major: major, Minor: minor})
	}
	return versions, nil
}

// withWritable runs fn against path after ensuring the user-write bit is
// set, restoring the original mode on every exit path.
func withWritable(path string, fn func() error) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	mode := info.Mode()
	const userWrite = 0o200
	if mode&userWrite == 0 {
		if err := os.Chmod(path, mode|userWrite); err != nil {
			return err
		}
	}
	defer func() {
		if mode&userWrite == 0 {
			_ = os.Chmod(path, mode)
		}
	}()
	return fn()
}

// ChangeInstallName rewrites a single LC_LOAD_DYLIB reference.
func (a *OsxAdapter) ChangeInstallName(path, old, newName string) error {
	return withWritable(path, func() error {
		names, err := a.InstallNames(path)
		if err != nil {
			return err
		}
		found := false
		for _, n := range names {
			if n == old {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s not in install names for %s", ErrNotFound, old, path)
		}
		_, stderr, err := a.Exec("install_name_tool", "-change", old, newName, path)
		if err != nil {
			return fmt.Errorf("macho: install_name_tool -change: %w: %s", err, stderr)
		}
		return nil
	})
}

// SetInstallID rewrites the library's own LC_ID_DYLIB.
func (a *OsxAdapter) SetInstallID(path, newID string) error {
	return withWritable(path, func() error {
		_, hasID, err := a.InstallID(path)
		if err != nil {
			return err
		}
		if !hasID {
			return fmt.Errorf("%w: %s", ErrNoInstallID, path)
		}
		_, stderr, err := a.Exec("install_name_tool", "-id", newID, path)
		if err != nil {
			return fmt.Errorf("macho: install_name_tool -id: %w: %s", err, stderr)
		}
		return nil
	})
}

// RemoveAbsoluteRpaths deletes every LC_RPATH entry whose stored value
// is an absolute path.
func (a *OsxAdapter) RemoveAbsoluteRpaths(path string) error {
	return withWritable(path, func() error {
		rpaths, err := a.Rpaths(path)
		if err != nil {
			return err
		}
		for _, rp := range rpaths {
			if !strings.HasPrefix(rp, "/") {
				continue
			}
			if _, stderr, err := a.Exec("install_name_tool", "-delete_rpath", rp, path); err != nil {
				return fmt.Errorf("macho: install_name_tool -delete_rpath: %w: %s", err, stderr)
			}
		}
		return nil
	})
}

// LipoFuse merges two single-architecture (or disjoint fat) libraries
// into one fat binary at outPath.
func (a *OsxAdapter) LipoFuse(inPath1, inPath2, outPath string) error {
	_, stderr, err := a.Exec("lipo", "-create", inPath1, inPath2, "-output", outPath)
	if err != nil {
		return fmt.Errorf("macho: lipo -create: %w: %s", err, stderr)
	}
	return nil
}

// ValidateSignature leaves a missing or valid signature alone; an
// invalid one is replaced with an ad-hoc signature, the closest
// approximation to removing a signature entirely on macOS.
func (a *OsxAdapter) ValidateSignature(path string) error {
	return withWritable(path, func() error {
		_, stderr, err := a.Exec("codesign", "--verify", path)
		if err == nil {
			return nil
		}
		if bytes.Contains(stderr, []byte("code object is not signed at all")) {
			return nil
		}
		if _, sigErr, err := a.Exec("codesign", "--force", "--sign", "-", path); err != nil {
			return fmt.Errorf("%w: %s: %s", ErrSignatureInvalid, path, sigErr)
		}
		return nil
	})
}
