package wheelfile

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

func writeTestZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestUnpackExtractsFiles(t *testing.T) {
	dir := t.TempDir()
	wheelPath := filepath.Join(dir, "pkg.whl")
	writeTestZip(t, wheelPath, map[string]string{
		"pkg/__init__.py":       "",
		"pkg-1.0.dist-info/WHEEL": "Wheel-Version: 1.0\n",
	})

	destDir := filepath.Join(dir, "out")
	extracted, err := Unpack(wheelPath, destDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(extracted) != 2 {
		t.Fatalf("extracted = %v, want 2 files", extracted)
	}
	if _, err := os.Stat(filepath.Join(destDir, "pkg", "__init__.py")); err != nil {
		t.Errorf("expected pkg/__init__.py to be extracted: %v", err)
	}
}

func TestUnpackRejectsZipSlip(t *testing.T) {
	dir := t.TempDir()
	wheelPath := filepath.Join(dir, "evil.whl")
	writeTestZip(t, wheelPath, map[string]string{
		"../../etc/passwd": "pwned",
	})

	destDir := filepath.Join(dir, "out")
	if _, err := Unpack(wheelPath, destDir); err == nil {
		t.Fatal("expected a zip-slip error")
	}
}

func TestPackThenUnpackRoundTrips(t *testing.T) {
	dir := t.TempDir()
	srcRoot := filepath.Join(dir, "root")
	if err := os.MkdirAll(filepath.Join(srcRoot, "pkg"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(srcRoot, "pkg", "mod.py"), []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	destPath := filepath.Join(dir, "out.whl")
	if err := Pack(srcRoot, destPath, PackOptions{}); err != nil {
		t.Fatal(err)
	}

	extractDir := filepath.Join(dir, "extracted")
	extracted, err := Unpack(destPath, extractDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(extracted) != 1 {
		t.Fatalf("extracted = %v, want 1 file", extracted)
	}
	data, err := os.ReadFile(filepath.Join(extractDir, "pkg", "mod.py"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "x = 1\n" {
		t.Errorf("content = %q", data)
	}
}
