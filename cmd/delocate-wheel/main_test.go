package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/matthew-brett/delocate-go/internal/cliconfig"
	"github.com/matthew-brett/delocate-go/internal/wheelfile"
)

func TestParseWheelFlagsReadsEveryFlag(t *testing.T) {
	cmd := newWheelCmd()
	if err := cmd.Flags().Set("output-dir", "/tmp/out"); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Flags().Set("dylibs-only", "true"); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Flags().Set("jobs", "3"); err != nil {
		t.Fatal(err)
	}

	flags, err := parseWheelFlags(cmd)
	if err != nil {
		t.Fatal(err)
	}
	if flags.outputDir != "/tmp/out" || !flags.dylibsOnly || flags.jobs != 3 {
		t.Errorf("flags = %+v", flags)
	}
}

func TestMergeConfigDoesNotOverrideExplicitFlags(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, ".delocate.toml")
	if err := cliconfig.Write(configPath, cliconfig.File{
		DylibsOnly: true,
		LibSdir:    ".bundled-libs",
		Jobs:       8,
	}); err != nil {
		t.Fatal(err)
	}

	cmd := newWheelCmd()
	if err := cmd.Flags().Set("config", configPath); err != nil {
		t.Fatal(err)
	}
	// Explicitly set lib-sdir: the config's value must not override it.
	if err := cmd.Flags().Set("lib-sdir", ".explicit"); err != nil {
		t.Fatal(err)
	}

	flags, err := parseWheelFlags(cmd)
	if err != nil {
		t.Fatal(err)
	}
	flags, err = mergeConfig(flags, cmd)
	if err != nil {
		t.Fatal(err)
	}
	if flags.libSdir != ".explicit" {
		t.Errorf("libSdir = %q, want the explicitly set flag value to win", flags.libSdir)
	}
	if !flags.dylibsOnly {
		t.Error("expected dylibsOnly to pick up the config default since the flag was never set")
	}
	if flags.jobs != 8 {
		t.Errorf("jobs = %d, want the config default 8", flags.jobs)
	}
}

func TestMergeConfigToleratesMissingFile(t *testing.T) {
	cmd := newWheelCmd()
	if err := cmd.Flags().Set("config", filepath.Join(t.TempDir(), "absent.toml")); err != nil {
		t.Fatal(err)
	}
	flags, err := parseWheelFlags(cmd)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mergeConfig(flags, cmd); err != nil {
		t.Fatalf("expected a missing config file to be a no-op, got: %v", err)
	}
}

func TestRunAddPlatAppendsNewTag(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.MkdirAll(filepath.Join(src, "pkg-1.0.dist-info"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "pkg-1.0.dist-info", "WHEEL"),
		[]byte("Wheel-Version: 1.0\nGenerator: test\nRoot-Is-Purelib: false\nTag: cp39-cp39-macosx_10_9_x86_64\n"),
		0o644); err != nil {
		t.Fatal(err)
	}

	wheelPath := filepath.Join(dir, "pkg-1.0-cp39-cp39-macosx_10_9_x86_64.whl")
	if err := wheelfile.Pack(src, wheelPath, wheelfile.PackOptions{}); err != nil {
		t.Fatal(err)
	}

	cmd := newAddPlatCmd()
	if err := cmd.Flags().Set("plat-tag", "macosx_11_0_arm64"); err != nil {
		t.Fatal(err)
	}
	if err := runAddPlat(cmd, []string{wheelPath}); err != nil {
		t.Fatal(err)
	}

	outPath := filepath.Join(dir, "pkg-1.0-cp39-cp39-macosx_10_9_x86_64.macosx_11_0_arm64.whl")
	if _, err := os.Stat(outPath); err != nil {
		t.Fatalf("expected retagged wheel at %s: %v", outPath, err)
	}
}

func TestRunAddPlatRejectsPurelibWheel(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.MkdirAll(filepath.Join(src, "pkg-1.0.dist-info"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "pkg-1.0.dist-info", "WHEEL"),
		[]byte("Wheel-Version: 1.0\nGenerator: test\nRoot-Is-Purelib: true\nTag: py3-none-any\n"),
		0o644); err != nil {
		t.Fatal(err)
	}

	wheelPath := filepath.Join(dir, "pkg-1.0-py3-none-any.whl")
	if err := wheelfile.Pack(src, wheelPath, wheelfile.PackOptions{}); err != nil {
		t.Fatal(err)
	}

	cmd := newAddPlatCmd()
	if err := cmd.Flags().Set("plat-tag", "macosx_11_0_arm64"); err != nil {
		t.Fatal(err)
	}
	if err := runAddPlat(cmd, []string{wheelPath}); err == nil {
		t.Fatal("expected an error for a pure-Python wheel")
	}
}

func TestTreeForPassesThroughDirectories(t *testing.T) {
	dir := t.TempDir()
	root, cleanup, err := treeFor(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()
	if root != dir {
		t.Errorf("root = %s, want %s", root, dir)
	}
}

func TestTreeForUnpacksWheelFiles(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.MkdirAll(filepath.Join(src, "pkg"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "pkg", "mod.py"), []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	wheelPath := filepath.Join(dir, "pkg.whl")
	if err := wheelfile.Pack(src, wheelPath, wheelfile.PackOptions{}); err != nil {
		t.Fatal(err)
	}

	root, cleanup, err := treeFor(wheelPath)
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()
	if _, err := os.Stat(filepath.Join(root, "pkg", "mod.py")); err != nil {
		t.Errorf("expected the wheel to be unpacked: %v", err)
	}
}

func TestFindDistInfoDirLocatesByName(t *testing.T) {
	dir := t.TempDir()
	distInfo := filepath.Join(dir, "pkg-1.0.dist-info")
	if err := os.MkdirAll(distInfo, 0o755); err != nil {
		t.Fatal(err)
	}
	got, err := findDistInfoDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got != distInfo {
		t.Errorf("findDistInfoDir = %s, want %s", got, distInfo)
	}
}

func TestFindDistInfoDirErrorsWhenAbsent(t *testing.T) {
	if _, err := findDistInfoDir(t.TempDir()); err == nil {
		t.Fatal("expected an error when no .dist-info directory exists")
	}
}
