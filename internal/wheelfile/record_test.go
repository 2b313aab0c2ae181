package wheelfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHashFileMatchesKnownDigest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	hash, size, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if size != 11 {
		t.Errorf("size = %d, want 11", size)
	}
	// sha256("hello world") base64url-no-pad encoded.
	const want = "sha256=uU0nuZNNPgilLlLX2n2r-sSE7-N6U4DukIj3rOLvzek"
	if hash != want {
		t.Errorf("hash = %q, want %q", hash, want)
	}
}

func TestRewriteRecordAddsSelfEntry(t *testing.T) {
	dir := t.TempDir()
	distInfoDir := filepath.Join(dir, "pkg-1.0.dist-info")
	if err := os.MkdirAll(distInfoDir, 0o755); err != nil {
		t.Fatal(err)
	}
	recordPath := filepath.Join(distInfoDir, "RECORD")

	entries := []RecordEntry{
		{Path: "pkg/__init__.py", Hash: "sha256=abc", Size: 12},
	}
	if err := RewriteRecord(recordPath, distInfoDir, entries); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(recordPath)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "pkg/__init__.py,sha256=abc,12") {
		t.Errorf("RECORD missing entry row:\n%s", content)
	}
	if !strings.Contains(content, "pkg-1.0.dist-info/RECORD,,") {
		t.Errorf("RECORD missing self-entry row:\n%s", content)
	}
}
