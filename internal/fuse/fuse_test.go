package fuse

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/matthew-brett/delocate-go/internal/macho"
	"github.com/matthew-brett/delocate-go/internal/wheelfile"
)

type fakeAdapter struct {
	fused [][2]string
}

var _ macho.Adapter = (*fakeAdapter)(nil)

func (a *fakeAdapter) InstallNames(path string) ([]string, error)       { return nil, nil }
func (a *fakeAdapter) InstallID(path string) (string, bool, error)      { return "", false, nil }
func (a *fakeAdapter) Rpaths(path string) ([]string, error)             { return nil, nil }
func (a *fakeAdapter) Archs(path string) (map[string]bool, error)       { return nil, nil }
func (a *fakeAdapter) MinOS(path string) ([]macho.MinOSVersion, error)  { return nil, nil }
func (a *fakeAdapter) ChangeInstallName(path, old, newName string) error { return nil }
func (a *fakeAdapter) SetInstallID(path, newID string) error            { return nil }
func (a *fakeAdapter) RemoveAbsoluteRpaths(path string) error           { return nil }
func (a *fakeAdapter) ValidateSignature(path string) error              { return nil }

func (a *fakeAdapter) LipoFuse(inPath1, inPath2, outPath string) error {
	a.fused = append(a.fused, [2]string{inPath1, inPath2})
	return os.WriteFile(outPath, []byte("fused"), 0o644)
}

func TestTreesCopiesMissingAndMergesLibraries(t *testing.T) {
	toTree := t.TempDir()
	fromTree := t.TempDir()

	if err := os.WriteFile(filepath.Join(fromTree, "only_in_from.py"), []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(toTree, "same.py"), []byte("same\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(fromTree, "same.py"), []byte("same\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(toTree, "lib.dylib"), []byte("to-arch"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(fromTree, "lib.dylib"), []byte("from-arch"), 0o644); err != nil {
		t.Fatal(err)
	}

	adapter := &fakeAdapter{}
	if err := Trees(toTree, fromTree, adapter); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(toTree, "only_in_from.py")); err != nil {
		t.Errorf("expected only_in_from.py to be copied in: %v", err)
	}
	if len(adapter.fused) != 1 {
		t.Fatalf("fused = %v, want 1 lipo merge", adapter.fused)
	}
	merged, err := os.ReadFile(filepath.Join(toTree, "lib.dylib"))
	if err != nil {
		t.Fatal(err)
	}
	if string(merged) != "fused" {
		t.Errorf("lib.dylib content = %q, want lipo-merged output", merged)
	}
}

func TestTreesLeavesIdenticalNonLibraryFilesAlone(t *testing.T) {
	toTree := t.TempDir()
	fromTree := t.TempDir()

	if err := os.WriteFile(filepath.Join(toTree, "same.py"), []byte("same\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(fromTree, "same.py"), []byte("same\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	adapter := &fakeAdapter{}
	if err := Trees(toTree, fromTree, adapter); err != nil {
		t.Fatal(err)
	}
	if len(adapter.fused) != 0 {
		t.Errorf("fused = %v, want none", adapter.fused)
	}
}

func TestRetagNameUnionsPlatformTags(t *testing.T) {
	name, err := RetagName(
		"pkg-1.0-cp39-cp39-macosx_10_9_x86_64.whl",
		"pkg-1.0-cp39-cp39-macosx_11_0_arm64.whl",
	)
	if err != nil {
		t.Fatal(err)
	}
	want := "pkg-1.0-cp39-cp39-macosx_10_9_x86_64.macosx_11_0_arm64.whl"
	if name != want {
		t.Errorf("RetagName = %q, want %q", name, want)
	}
}

func TestRetagNameSkipsAlreadyPresentTags(t *testing.T) {
	name, err := RetagName(
		"pkg-1.0-cp39-cp39-macosx_10_9_x86_64.whl",
		"pkg-1.0-cp39-cp39-macosx_10_9_x86_64.whl",
	)
	if err != nil {
		t.Fatal(err)
	}
	want := "pkg-1.0-cp39-cp39-macosx_10_9_x86_64.whl"
	if name != want {
		t.Errorf("RetagName = %q, want %q", name, want)
	}
}

func buildWheelFixture(t *testing.T, dir, filename string, files map[string]string) string {
	t.Helper()
	src := filepath.Join(dir, filename+"-src")
	for rel, content := range files {
		full := filepath.Join(src, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	wheelPath := filepath.Join(dir, filename)
	if err := wheelfile.Pack(src, wheelPath, wheelfile.PackOptions{}); err != nil {
		t.Fatal(err)
	}
	return wheelPath
}

func TestWheelsFusesAndRetags(t *testing.T) {
	dir := t.TempDir()
	toWheel := buildWheelFixture(t, dir, "pkg-1.0-cp39-cp39-macosx_10_9_x86_64.whl", map[string]string{
		"pkg/__init__.py":         "",
		"pkg/lib.dylib":           "x86_64-bytes",
		"pkg-1.0.dist-info/WHEEL": "Wheel-Version: 1.0\nGenerator: test\nRoot-Is-Purelib: false\nTag: cp39-cp39-macosx_10_9_x86_64\n",
		"pkg-1.0.dist-info/RECORD": "",
	})
	fromWheel := buildWheelFixture(t, dir, "pkg-1.0-cp39-cp39-macosx_11_0_arm64.whl", map[string]string{
		"pkg/__init__.py":         "",
		"pkg/lib.dylib":           "arm64-bytes",
		"pkg-1.0.dist-info/WHEEL": "Wheel-Version: 1.0\nGenerator: test\nRoot-Is-Purelib: false\nTag: cp39-cp39-macosx_11_0_arm64\n",
		"pkg-1.0.dist-info/RECORD": "",
	})

	adapter := &fakeAdapter{}
	outPath, err := Wheels(toWheel, fromWheel, filepath.Join(dir, "fused.whl"), true, adapter)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(outPath) != "pkg-1.0-cp39-cp39-macosx_10_9_x86_64.macosx_11_0_arm64.whl" {
		t.Errorf("outPath = %s, want a retagged universal filename", outPath)
	}
	if len(adapter.fused) != 1 {
		t.Fatalf("fused = %v, want 1 lipo merge", adapter.fused)
	}

	extractDir := t.TempDir()
	if _, err := wheelfile.Unpack(outPath, extractDir); err != nil {
		t.Fatal(err)
	}
	wheelData, err := os.ReadFile(filepath.Join(extractDir, "pkg-1.0.dist-info", "WHEEL"))
	if err != nil {
		t.Fatal(err)
	}
	meta, err := wheelfile.ParseWheelMetadata(wheelData)
	if err != nil {
		t.Fatal(err)
	}
	if len(meta.Tags) != 2 {
		t.Errorf("Tags = %v, want 2 (both platforms)", meta.Tags)
	}
}
