// Package cliconfig loads an optional .delocate.toml file that sets
// defaults for the CLI's flags, grounded on clearlinux-mixer-tools'
// toml.DecodeFile/toml.NewEncoder usage.
package cliconfig

import (
	"bytes"
	"os"

	"github.com/BurntSushi/toml"
)

// File is the parsed content of a .delocate.toml file. Fields mirror
// the orchestrator.Options flags a caller may want to default, using
// toml struct tags in the same style as the config package this is
// grounded on.
type File struct {
	DylibsOnly                bool     `toml:"dylibs_only"`
	Exclude                   []string `toml:"exclude"`
	ExecutablePath            string   `toml:"executable_path"`
	IgnoreMissingDependencies bool     `toml:"ignore_missing_dependencies"`
	SanitizeRpaths            bool     `toml:"sanitize_rpaths"`
	LibSdir                   string   `toml:"lib_sdir"`
	CheckArchs                bool     `toml:"check_archs"`
	RequireArchs              []string `toml:"require_archs"`
	RequireTargetMacOSVersion string   `toml:"require_target_macos_version"`
	Jobs                      int      `toml:"jobs"`
}

// Load reads and decodes path. A missing file is not an error; it
// yields the zero File so the CLI falls back to its flag defaults.
func Load(path string) (File, error) {
	var f File
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return f, nil
	}
	_, err := toml.DecodeFile(path, &f)
	return f, err
}

// Write serializes f to path in TOML form, for a "delocate config init"-
// style workflow.
func Write(path string, f File) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(f); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
